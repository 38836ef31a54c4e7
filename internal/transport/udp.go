// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/tegu-engine/internal/wire"
)

// UDPTransport is the default production Listener: frames are encoded
// with wire.Frame's own MarshalBinary/UnmarshalBinary and carried over
// a single bound UDP socket, one datagram per frame. It satisfies the
// same Listener contract Loopback does in tests, so responder/
// initiator/engine are written against the interface only and never
// know which is underneath.
type UDPTransport struct {
	conn *net.UDPConn
	port int
}

// ListenUDP binds a UDP socket on port (0.0.0.0:port) for both sending
// and receiving frames. Port 0 picks a free port. Send addresses peers
// on the port actually bound.
func ListenUDP(port int) (*UDPTransport, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("transport: listening on udp port %d: %w", port, err)
	}
	return &UDPTransport{conn: conn, port: conn.LocalAddr().(*net.UDPAddr).Port}, nil
}

// Close releases the underlying socket.
func (u *UDPTransport) Close() error {
	return u.conn.Close()
}

func (u *UDPTransport) Send(ctx context.Context, destIP string, f *wire.Frame) error {
	b, err := f.MarshalBinary()
	if err != nil {
		return fmt.Errorf("transport: encoding frame: %w", err)
	}
	addr := &net.UDPAddr{IP: net.ParseIP(destIP), Port: u.port}
	if dl, ok := ctx.Deadline(); ok {
		u.conn.SetWriteDeadline(dl)
	}
	_, err = u.conn.WriteToUDP(b, addr)
	if err != nil {
		return fmt.Errorf("transport: sending to %s: %w", destIP, err)
	}
	return nil
}

// Recv blocks until a datagram arrives or ctx is done. Since
// net.UDPConn has no native context support, cancellation is wired up
// by racing a watcher goroutine that forces the blocking read to
// return via an immediate read deadline.
func (u *UDPTransport) Recv(ctx context.Context) (Inbound, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			u.conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	buf := make([]byte, 65535)
	n, addr, err := u.conn.ReadFromUDP(buf)
	if err != nil {
		if ctx.Err() != nil {
			return Inbound{}, ctx.Err()
		}
		return Inbound{}, fmt.Errorf("transport: reading udp: %w", err)
	}

	var f wire.Frame
	if err := f.UnmarshalBinary(buf[:n]); err != nil {
		return Inbound{}, fmt.Errorf("transport: decoding frame from %s: %w", addr.IP, err)
	}
	return Inbound{Frame: &f, FromIP: addr.IP.String()}, nil
}
