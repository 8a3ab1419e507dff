package adaptive

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestProbeAddr(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://api.synclab.dev/locateme", "api.synclab.dev:443"},
		{"http://localhost/locateme", "localhost:80"},
		{"http://127.0.0.1:8080", "127.0.0.1:8080"},
	}
	for _, tt := range tests {
		got, err := ProbeAddr(tt.in)
		if err != nil {
			t.Errorf("ProbeAddr(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ProbeAddr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if _, err := ProbeAddr("/relative"); err == nil {
		t.Error("expected error for url without host")
	}
}

func TestConnectivityProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	p := &ConnectivityProbe{Addr: addr, Timeout: time.Second}
	if !p.Online(context.Background()) {
		t.Error("Online() = false for a listening host")
	}
	ln.Close()
	if p.Online(context.Background()) {
		t.Error("Online() = true after the listener closed")
	}
}
