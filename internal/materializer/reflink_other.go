//go:build !darwin && !linux

package materializer

import "errors"

// reflinkFile is unsupported outside darwin/linux; callers fall back to a
// hardlink or byte copy.
func reflinkFile(src, dest string) error {
	return errors.New("reflink not supported on this platform")
}
