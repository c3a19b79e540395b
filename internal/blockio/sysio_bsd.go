//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package blockio

import "golang.org/x/sys/unix"

// O_DIRECT is either missing or only advisory here. F_NOCACHE on darwin still
// lets reads be served from a dirty cache page, so direct I/O is refused.
const (
	directSupported = false
	directFlag      = 0
)

func dataSync(fd int) error {
	return unix.Fsync(fd)
}
