package platform

import "golang.org/x/sys/unix"

// sysctlString reads a string-valued sysctl, used to detect the Darwin
// kernel version for macOS bottle codename mapping.
func sysctlString(name string) (string, error) {
	return unix.Sysctl(name)
}
