// SPDX-License-Identifier: MIT
package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"beatbox/internal/engine"
	"beatbox/internal/log"
)

// UDPSender transmits raw packets to a fixed target address.
type UDPSender struct {
	conn *net.UDPConn

	mu     sync.Mutex
	closed bool
}

// NewUDPSender dials the target, e.g. "127.0.0.1:9090".
func NewUDPSender(targetAddress string) (*UDPSender, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", targetAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve UDP target %q: %w", targetAddress, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("dial UDP target %q: %w", targetAddress, err)
	}
	log.Infof("transport: udp sender targeting %s", conn.RemoteAddr())
	return &UDPSender{conn: conn}, nil
}

// Send transmits one packet. Safe for concurrent use.
func (s *UDPSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("udp sender is closed")
	}
	if _, err := s.conn.Write(data); err != nil {
		return fmt.Errorf("send UDP packet: %w", err)
	}
	return nil
}

// Close shuts the connection down. Idempotent.
func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

/*
Metrics packet layout (BigEndian):

	| Field        | Type    | Bytes |
	|--------------|---------|-------|
	| sequence     | uint32  | 4     |
	| timestamp    | int64   | 8     | unix nanoseconds at send time
	| frame number | uint64  | 8     |
	| rms          | float32 | 4     |
	| centroid     | float32 | 4     |
	| flux         | float32 | 4     |
*/

// UDPPublisher sends the most recent audio metrics at a fixed
// interval. It keeps only the latest sample; a slow interval simply
// skips intermediate buffers.
type UDPPublisher struct {
	sender   *UDPSender
	interval time.Duration

	metrics <-chan engine.AudioMetrics
	cancel  func()

	latestMu sync.Mutex
	latest   engine.AudioMetrics
	haveOne  bool

	seq    uint32
	packet *bytes.Buffer

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewUDPPublisher wires a metrics subscription to a sender. cancel is
// invoked when the publisher stops.
func NewUDPPublisher(interval time.Duration, sender *UDPSender, metrics <-chan engine.AudioMetrics, cancel func()) (*UDPPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("udp publisher: sender cannot be nil")
	}
	if interval <= 0 {
		interval = 33 * time.Millisecond
		log.Warnf("transport: invalid udp interval, defaulting to %s", interval)
	}
	return &UDPPublisher{
		sender:   sender,
		interval: interval,
		metrics:  metrics,
		cancel:   cancel,
		packet:   new(bytes.Buffer),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the consume and publish goroutines.
func (p *UDPPublisher) Start() {
	p.wg.Add(2)

	go func() {
		defer p.wg.Done()
		for m := range p.metrics {
			p.latestMu.Lock()
			p.latest = m
			p.haveOne = true
			p.latestMu.Unlock()
		}
	}()

	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.sendLatest()
			case <-p.done:
				return
			}
		}
	}()
}

func (p *UDPPublisher) sendLatest() {
	p.latestMu.Lock()
	m, ok := p.latest, p.haveOne
	p.latestMu.Unlock()
	if !ok {
		return
	}

	p.seq++
	p.packet.Reset()

	err := binary.Write(p.packet, binary.BigEndian, p.seq)
	if err == nil {
		err = binary.Write(p.packet, binary.BigEndian, time.Now().UnixNano())
	}
	if err == nil {
		err = binary.Write(p.packet, binary.BigEndian, m.FrameNumber)
	}
	if err == nil {
		err = binary.Write(p.packet, binary.BigEndian, float32(m.RMS))
	}
	if err == nil {
		err = binary.Write(p.packet, binary.BigEndian, m.Centroid)
	}
	if err == nil {
		err = binary.Write(p.packet, binary.BigEndian, float32(m.Flux))
	}
	if err != nil {
		log.Errorf("transport: packing metrics packet: %v", err)
		return
	}

	if err := p.sender.Send(p.packet.Bytes()); err != nil {
		log.Debugf("transport: udp send: %v", err)
	}
}

// Stop terminates both goroutines and cancels the subscription.
// Idempotent.
func (p *UDPPublisher) Stop() error {
	p.stopOnce.Do(func() {
		close(p.done)
		if p.cancel != nil {
			p.cancel()
		}
	})
	p.wg.Wait()
	return nil
}

// Close implements io.Closer.
func (p *UDPPublisher) Close() error { return p.Stop() }
