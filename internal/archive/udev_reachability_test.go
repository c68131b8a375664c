package archive

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUdevReachabilityDelegatesIsReachableToTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	r := &UdevReachability{TCP: &TCPReachability{Target: ln.Addr().String(), Timeout: time.Second}}
	require.True(t, r.IsReachable(context.Background()))
}

func TestUdevReachabilityAwaitReachableReturnsOnceTCPSucceeds(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close() // closed: nothing listening yet

	r := &UdevReachability{TCP: &TCPReachability{Target: addr, Timeout: 50 * time.Millisecond, PollInterval: 30 * time.Millisecond}}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.AwaitReachable(ctx) }()

	time.Sleep(60 * time.Millisecond)
	ln2, err := net.Listen("tcp", addr)
	if err == nil {
		defer ln2.Close()
		go func() {
			for {
				conn, err := ln2.Accept()
				if err != nil {
					return
				}
				conn.Close()
			}
		}()
	}

	err = <-done
	require.NoError(t, err)
}
