package util

import (
	"errors"
	"net"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestListenFirstSkipsBusyPort(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()
	busyPort := busy.Addr().(*net.TCPAddr).Port

	ln, port, err := ListenFirst("127.0.0.1", []int{busyPort, 0}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("ListenFirst returned error: %v", err)
	}
	defer ln.Close()
	if port == busyPort || port == 0 {
		t.Fatalf("expected a fresh port, got %d (busy %d)", port, busyPort)
	}
}

func TestListenFirstExhaustedCandidates(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()
	busyPort := busy.Addr().(*net.TCPAddr).Port

	_, _, err = ListenFirst("127.0.0.1", []int{busyPort}, zaptest.NewLogger(t))
	if !errors.Is(err, ErrNoFreePort) {
		t.Fatalf("expected ErrNoFreePort, got %v", err)
	}
}

func TestListenFirstEmptyCandidates(t *testing.T) {
	_, _, err := ListenFirst("127.0.0.1", nil, nil)
	if !errors.Is(err, ErrNoFreePort) {
		t.Fatalf("expected ErrNoFreePort, got %v", err)
	}
}
