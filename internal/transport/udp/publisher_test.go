// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"lightbeat/internal/pipeline"
)

// fakeSource hands out a fixed spectrum under a controllable generation.
type fakeSource struct {
	gen  uint64
	mags []float64
	ts   time.Duration
}

func (f *fakeSource) ConditionedSnapshot(dst *pipeline.Snapshot) uint64 {
	if len(dst.Magnitudes) != len(f.mags) {
		dst.Magnitudes = make([]float64, len(f.mags))
	}
	copy(dst.Magnitudes, f.mags)
	dst.Generation = f.gen
	dst.Timestamp = f.ts
	return f.gen
}

func testListener(t *testing.T) (*net.UDPConn, string) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().String()
}

func readPacket(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatal(err)
	}
	return buf[:n]
}

func TestPublisherRejectsBadArguments(t *testing.T) {
	_, addr := testListener(t)
	sender, err := NewSender(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()
	src := &fakeSource{gen: 1, mags: []float64{1}}

	if _, err := NewPublisher(80*time.Millisecond, nil, src); err == nil {
		t.Error("expected error for nil sender")
	}
	if _, err := NewPublisher(80*time.Millisecond, sender, nil); err == nil {
		t.Error("expected error for nil source")
	}
	if _, err := NewPublisher(0, sender, src); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestPacketLayout(t *testing.T) {
	conn, addr := testListener(t)
	sender, err := NewSender(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	src := &fakeSource{
		gen:  7,
		mags: []float64{0.25, 0.5, 0.75},
		ts:   320 * time.Millisecond,
	}
	p, err := NewPublisher(80*time.Millisecond, sender, src)
	if err != nil {
		t.Fatal(err)
	}
	p.publish()

	data := readPacket(t, conn)
	r := bytes.NewReader(data)

	var seq uint32
	var gen uint64
	var ts int64
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &seq); err != nil {
		t.Fatal(err)
	}
	if err := binary.Read(r, binary.BigEndian, &gen); err != nil {
		t.Fatal(err)
	}
	if err := binary.Read(r, binary.BigEndian, &ts); err != nil {
		t.Fatal(err)
	}
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		t.Fatal(err)
	}

	if seq != 1 {
		t.Errorf("sequence: got %d, want 1", seq)
	}
	if gen != 7 {
		t.Errorf("generation: got %d, want 7", gen)
	}
	if ts != (320 * time.Millisecond).Nanoseconds() {
		t.Errorf("timestamp: got %d ns", ts)
	}
	if count != 3 {
		t.Fatalf("count: got %d, want 3", count)
	}

	mags := make([]float32, count)
	if err := binary.Read(r, binary.BigEndian, mags); err != nil {
		t.Fatal(err)
	}
	want := []float32{0.25, 0.5, 0.75}
	for i, m := range mags {
		if m != want[i] {
			t.Errorf("magnitude %d: got %v, want %v", i, m, want[i])
		}
	}
	if r.Len() != 0 {
		t.Errorf("%d trailing bytes in packet", r.Len())
	}
}

// A snapshot generation that has not advanced produces no packet: a stalled
// pipeline goes quiet on the wire instead of repeating itself.
func TestPublisherSkipsStaleGenerations(t *testing.T) {
	_, addr := testListener(t)
	sender, err := NewSender(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	src := &fakeSource{gen: 1, mags: []float64{0.1, 0.2}}
	p, err := NewPublisher(80*time.Millisecond, sender, src)
	if err != nil {
		t.Fatal(err)
	}

	p.publish()
	p.publish() // Same generation: must not send.
	if p.seq != 1 {
		t.Fatalf("published %d packets for one generation", p.seq)
	}

	src.gen = 2
	p.publish()
	if p.seq != 2 {
		t.Fatalf("new generation not published, seq %d", p.seq)
	}
}

func TestPublisherStartStop(t *testing.T) {
	conn, addr := testListener(t)
	sender, err := NewSender(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	src := &fakeSource{gen: 1, mags: []float64{0.5}}
	p, err := NewPublisher(5*time.Millisecond, sender, src)
	if err != nil {
		t.Fatal(err)
	}

	p.Start()
	p.Start() // Second start is a no-op.
	readPacket(t, conn)

	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}
}
