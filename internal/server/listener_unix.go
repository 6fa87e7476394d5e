//go:build unix

package server

import (
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// listen builds the IPv4 listening socket by hand rather than through
// net.Listen, because spec §4.5 requires a specific, non-default listen
// backlog (equal to the cache size) and SO_REUSEADDR — neither of which
// the standard net package's high-level constructors expose. This is
// the same direct golang.org/x/sys/unix socket-option plumbing the
// retrieval pack reaches for elsewhere (moby-moby's listener setup code)
// rather than a hand-rolled syscall wrapper.
func listen(port, backlog int) (net.Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, errors.Wrap(err, "socket")
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "setsockopt SO_REUSEADDR")
	}

	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "bind :%d", port)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "listen")
	}

	// net.FileListener dups the fd internally, so the os.File we wrap it
	// in here is safe to close once the conversion completes.
	f := os.NewFile(uintptr(fd), "md5cached-listener")
	defer f.Close()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, errors.Wrap(err, "FileListener")
	}
	return ln, nil
}
