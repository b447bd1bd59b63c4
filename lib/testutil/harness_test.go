package testutil

import (
	"bufio"
	"net"
	"testing"
	"time"
)

func TestEchoServerEchoes(t *testing.T) {
	addr := StartEchoServer(t)

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("ping\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if line != "ping\n" {
		t.Errorf("Expected echo of %q, got %q", "ping\n", line)
	}
}
