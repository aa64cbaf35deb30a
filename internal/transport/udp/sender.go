// SPDX-License-Identifier: MIT
/*
Package udp implements the binary feature feed for constrained consumers
(LED controllers on small boards). Packets are fixed-layout, fire-and-forget
datagrams; the receiver tolerates loss and reordering via the sequence
number.
*/
package udp

import (
	"fmt"
	"net"
	"sync"

	applog "lightbeat/internal/log"
)

// Sender transmits datagrams to a fixed target address.
type Sender struct {
	conn   *net.UDPConn
	mu     sync.Mutex
	closed bool
}

// NewSender resolves and dials the target ("host:port").
func NewSender(target string) (*Sender, error) {
	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("udp sender: resolve %q: %w", target, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("udp sender: dial %q: %w", target, err)
	}
	applog.Infof("udp sender: targeting %s", conn.RemoteAddr())
	return &Sender{conn: conn}, nil
}

// Send transmits one datagram. Safe for concurrent use.
func (s *Sender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("udp sender: closed")
	}
	if _, err := s.conn.Write(data); err != nil {
		return fmt.Errorf("udp sender: send: %w", err)
	}
	return nil
}

// Close closes the connection. Subsequent Sends fail.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
