// Package testutil provides helpers for exercising dialed pools against
// a real socket without an external service.
package testutil

import (
	"io"
	"net"
	"testing"
)

// StartEchoServer starts a TCP server on a random loopback port that
// echoes everything written to it. The server shuts down when the test
// ends. It returns the address to dial.
func StartEchoServer(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("starting echo server: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(conn)
		}
	}()

	return ln.Addr().String()
}
