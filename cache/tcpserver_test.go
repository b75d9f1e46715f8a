package cache

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

func TestTCPServerGetHit(t *testing.T) {
	c := New(0)
	c.Put("greeting", []byte("hello"))

	srv, err := NewTCPServer(c, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve() }()
	defer func() { _ = srv.Close() }()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	_, _ = conn.Write([]byte("greeting\n"))

	reply, err := bufio.NewReader(conn).ReadString('\n')
	// server closes after writing; EOF alongside data is fine here.
	if err != nil && reply == "" {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(reply, "===obj: hello") {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestTCPServerGetMiss(t *testing.T) {
	c := New(0)
	srv, err := NewTCPServer(c, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve() }()
	defer func() { _ = srv.Close() }()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	_, _ = conn.Write([]byte("absent\n"))

	reply, _ := bufio.NewReader(conn).ReadString('\n')
	if !strings.HasPrefix(reply, "===msg: not found") {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestTCPServerRejectsOversizedKey(t *testing.T) {
	c := New(0)
	srv, err := NewTCPServer(c, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve() }()
	defer func() { _ = srv.Close() }()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	big := strings.Repeat("x", maxKeyBytes+10) + "\n"
	_, _ = conn.Write([]byte(big))

	reply, _ := bufio.NewReader(conn).ReadString('\n')
	if !strings.HasPrefix(reply, "===msg:") {
		t.Fatalf("unexpected reply %q", reply)
	}
}
