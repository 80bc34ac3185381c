//go:build linux

package gateway

import (
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// listen opens a nonblocking AF_INET stream socket bound to the given
// port on all interfaces. Port 0 binds an ephemeral port (used by tests).
func listen(port, backlog int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}

	sa := &unix.SockaddrInet4{Port: port} // INADDR_ANY is the zero value
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, err
	}

	return fd, nil
}

// acceptConn takes one queued connection off the listener, nonblocking.
func acceptConn(listenFd int) (int, error) {
	fd, _, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// boundAddr reports the listener's address as host:port. The wildcard
// address is rendered as loopback so the result is always dialable.
func boundAddr(listenFd int) (string, error) {
	sa, err := unix.Getsockname(listenFd)
	if err != nil {
		return "", err
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return "", unix.EAFNOSUPPORT
	}
	ip := net.IP(sa4.Addr[:])
	if ip.IsUnspecified() {
		ip = net.IPv4(127, 0, 0, 1)
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(sa4.Port)), nil
}
