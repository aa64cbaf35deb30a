// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	applog "lightbeat/internal/log"
	"lightbeat/internal/pipeline"
)

// SnapshotSource is where the publisher reads its spectra. The pipeline's
// DualPathConditioner satisfies it; the publisher polls on its own cadence
// and never touches a live frame.
type SnapshotSource interface {
	ConditionedSnapshot(dst *pipeline.Snapshot) uint64
}

/*
Packet layout (big-endian):

	sequence    uint32   monotonically increasing, per publisher run
	generation  uint64   snapshot generation the payload came from
	timestamp   int64    sample-clock time of the frame, nanoseconds
	count       uint16   number of magnitudes (N)
	magnitudes  N*float32
*/

// Publisher periodically reads the conditioned snapshot, packs it into the
// binary layout above, and ships it through a Sender. Packets are only sent
// when the snapshot generation advanced since the last one: a stalled
// pipeline produces silence on the wire, not duplicates.
type Publisher struct {
	sender   *Sender
	source   SnapshotSource
	interval time.Duration

	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex

	seq     uint32
	lastGen uint64

	snap   pipeline.Snapshot
	f32    []float32
	packet *bytes.Buffer
}

// NewPublisher builds a publisher for the given source and target sender.
func NewPublisher(interval time.Duration, sender *Sender, source SnapshotSource) (*Publisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("udp publisher: sender required")
	}
	if source == nil {
		return nil, fmt.Errorf("udp publisher: snapshot source required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("udp publisher: interval must be positive, got %s", interval)
	}
	return &Publisher{
		sender:   sender,
		source:   source,
		interval: interval,
		packet:   new(bytes.Buffer),
	}, nil
}

// Start launches the publishing goroutine. Calling Start on a running
// publisher is a no-op.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.done = make(chan struct{})
	p.stopOnce = sync.Once{}
	ticker, done := p.ticker, p.done
	p.mu.Unlock()

	applog.Infof("udp publisher: started (interval %s)", p.interval)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ticker.C:
				p.publish()
			case <-done:
				return
			}
		}
	}()
}

// Stop terminates the publishing goroutine and waits for it.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.done)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	applog.Infof("udp publisher: stopped after %d packets", p.seq)
	return nil
}

// publish reads the latest snapshot and, if it is new, packs and sends it.
func (p *Publisher) publish() {
	gen := p.source.ConditionedSnapshot(&p.snap)
	if gen == 0 || gen == p.lastGen {
		return // Nothing published yet, or no tick since the last packet.
	}
	p.lastGen = gen

	if len(p.f32) != len(p.snap.Magnitudes) {
		p.f32 = make([]float32, len(p.snap.Magnitudes))
	}
	for i, v := range p.snap.Magnitudes {
		p.f32[i] = float32(v)
	}

	p.seq++
	p.packet.Reset()
	err := binary.Write(p.packet, binary.BigEndian, p.seq)
	if err == nil {
		err = binary.Write(p.packet, binary.BigEndian, gen)
	}
	if err == nil {
		err = binary.Write(p.packet, binary.BigEndian, p.snap.Timestamp.Nanoseconds())
	}
	if err == nil {
		err = binary.Write(p.packet, binary.BigEndian, uint16(len(p.f32)))
	}
	if err == nil {
		err = binary.Write(p.packet, binary.BigEndian, p.f32)
	}
	if err != nil {
		applog.Errorf("udp publisher: packing: %v", err)
		return
	}

	if err := p.sender.Send(p.packet.Bytes()); err != nil {
		applog.Debugf("udp publisher: %v", err)
	}
}

// Close implements io.Closer by stopping the publisher.
func (p *Publisher) Close() error {
	return p.Stop()
}
