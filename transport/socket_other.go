//go:build !linux

// File: transport/socket_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"fmt"
	"net"
	"runtime"

	"github.com/momentics/hioload-nio/api"
)

var errSockets = fmt.Errorf("transport: raw sockets on %s: %w", runtime.GOOS, api.ErrNotSupported)

func listenTCP(string, int) (int, net.Addr, error) { return -1, nil, errSockets }
func acceptTCP(int) (int, net.Addr, error)         { return -1, nil, errSockets }
func dialTCP(string) (int, net.Addr, error)        { return -1, nil, errSockets }
func connectResult(int) error                      { return errSockets }
func localAddr(int) net.Addr                       { return nil }
func tuneSocket(int, *Config) error                { return errSockets }
func sysRead(int, []byte) (int, error)             { return 0, errSockets }
func sysWrite(int, []byte) (int, error)            { return 0, errSockets }
func sysClose(int) error                           { return errSockets }
