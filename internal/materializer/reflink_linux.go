package materializer

import (
	"os"

	"golang.org/x/sys/unix"
)

// reflinkFile issues the FICLONE ioctl to ask btrfs/XFS for a
// copy-on-write clone of src at dest. Returns an error on any other
// filesystem (ext4, tmpfs) so the caller falls back to a hardlink.
func reflinkFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if err := unix.IoctlFileClone(int(out.Fd()), int(in.Fd())); err != nil {
		os.Remove(dest)
		return err
	}
	return nil
}
