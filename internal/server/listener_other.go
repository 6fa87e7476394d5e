//go:build !unix

package server

import (
	"fmt"
	"net"

	"github.com/pkg/errors"
)

// listen falls back to net.Listen on non-Unix platforms. SO_REUSEADDR
// and an explicit backlog aren't available through this path; the
// Unix build (listener_unix.go) is the one spec §4.5 actually describes.
func listen(port, _ int) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, errors.Wrapf(err, "listen :%d", port)
	}
	return ln, nil
}
