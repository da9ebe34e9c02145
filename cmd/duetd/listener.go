package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// listenerFromEnv returns the listener passed in by a supervisor through
// GO_DUET_LISTEN_FD, or nil when none was passed.
func listenerFromEnv() (net.Listener, error) {
	fdStr := os.Getenv("GO_DUET_LISTEN_FD")
	if fdStr == "" {
		return nil, nil
	}
	fd, err := strconv.Atoi(fdStr)
	if err != nil {
		return nil, fmt.Errorf("invalid listener fd: %w", err)
	}
	file := os.NewFile(uintptr(fd), "listener")
	if file == nil {
		return nil, fmt.Errorf("failed to create listener file")
	}
	defer file.Close()
	ln, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("file listener: %w", err)
	}
	return ln, nil
}

func listen(addr string) (net.Listener, error) {
	ln, err := listenerFromEnv()
	if err != nil || ln != nil {
		return ln, err
	}
	ln, err = net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}
