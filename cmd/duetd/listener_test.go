package main

import (
	"net"
	"strconv"
	"syscall"
	"testing"
)

func TestListenerFromEnv(t *testing.T) {
	t.Setenv("GO_DUET_LISTEN_FD", "")
	got, err := listenerFromEnv()
	if err != nil || got != nil {
		t.Fatalf("expected no listener without env, got %v %v", got, err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		t.Fatalf("expected TCP listener")
	}
	file, err := tcpLn.File()
	if err != nil {
		t.Fatalf("listener file: %v", err)
	}
	defer file.Close()
	// listenerFromEnv closes the fd it is given, so hand it a duplicate.
	fd, err := syscall.Dup(int(file.Fd()))
	if err != nil {
		t.Fatalf("dup: %v", err)
	}

	t.Setenv("GO_DUET_LISTEN_FD", strconv.Itoa(fd))
	got, err = listenerFromEnv()
	if err != nil {
		t.Fatalf("listener from env: %v", err)
	}
	if got == nil {
		t.Fatalf("expected listener")
	}
	if got.Addr().String() != ln.Addr().String() {
		t.Fatalf("unexpected addr %s, want %s", got.Addr(), ln.Addr())
	}
	_ = got.Close()

	t.Setenv("GO_DUET_LISTEN_FD", "nope")
	if _, err := listenerFromEnv(); err == nil {
		t.Fatalf("expected error for invalid fd")
	}
}
