package blockio

import "golang.org/x/sys/unix"

const (
	directSupported = true
	directFlag      = unix.O_DIRECT
)

func dataSync(fd int) error {
	return unix.Fdatasync(fd)
}
