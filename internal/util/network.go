package util

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"go.uber.org/zap"
)

// ErrNoFreePort is returned when every candidate port is already bound.
var ErrNoFreePort = errors.New("no free port among candidates")

// ListenFirst binds a TCP listener on host using the first port in ports that
// is not already in use. Ports that are busy are skipped with a warning; any
// other bind failure aborts the scan.
func ListenFirst(host string, ports []int, logger *zap.Logger) (net.Listener, int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, port := range ports {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, listenerPort(ln, port), nil
		}
		if isAddrInUse(err) {
			logger.Warn("port already in use, trying next candidate", zap.String("addr", addr))
			continue
		}
		return nil, 0, fmt.Errorf("listen %s: %w", addr, err)
	}
	return nil, 0, fmt.Errorf("%w: %v", ErrNoFreePort, ports)
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

// listenerPort reports the bound port, which differs from the candidate when
// the candidate is 0.
func listenerPort(ln net.Listener, fallback int) int {
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return fallback
}
