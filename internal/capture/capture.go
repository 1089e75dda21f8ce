// Package capture reads frames from libpcap, decodes them, and feeds the
// packet ring. One Engine owns one capture handle, live or from a file.
package capture

import (
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/pcap"

	"abyss-sniffer/internal/engine/decode"
	"abyss-sniffer/internal/engine/ring"
)

const (
	// snapLen captures headers only; the pipeline never looks at payloads.
	snapLen = 96
	// readTimeout doubles as the stop-flag poll interval, since gopacket
	// exposes no way to break a blocking read.
	readTimeout = time.Millisecond
)

// Engine is the producer half of the pipeline. Run blocks reading the
// handle until Stop is called or, for file sources, until the file ends.
type Engine struct {
	iface string
	file  string
	ring  *ring.PacketRing

	mu     sync.Mutex
	handle *pcap.Handle

	running  atomic.Bool
	captured atomic.Uint64
}

// NewEngine creates an engine that captures live from the named interface.
func NewEngine(iface string, r *ring.PacketRing) *Engine {
	return &Engine{iface: iface, ring: r}
}

// NewReplay creates an engine that replays a pcap capture file.
func NewReplay(path string, r *ring.PacketRing) *Engine {
	return &Engine{file: path, ring: r}
}

// Source names what the engine reads from, for logs.
func (e *Engine) Source() string {
	if e.file != "" {
		return e.file
	}
	return e.iface
}

// Open acquires the capture handle. A failure here is fatal for startup;
// capturing live usually needs elevated permissions.
func (e *Engine) Open() error {
	var handle *pcap.Handle
	var err error
	if e.file != "" {
		handle, err = pcap.OpenOffline(e.file)
		if err != nil {
			return fmt.Errorf("failed to open capture file %s: %w", e.file, err)
		}
	} else {
		handle, err = pcap.OpenLive(e.iface, snapLen, false, readTimeout)
		if err != nil {
			return fmt.Errorf("failed to open interface %s for capture: %w", e.iface, err)
		}
	}

	e.mu.Lock()
	e.handle = handle
	e.mu.Unlock()
	return nil
}

// Run reads packets until Stop. It blocks, so callers start it on its own
// goroutine after a successful Open.
func (e *Engine) Run() {
	e.mu.Lock()
	handle := e.handle
	e.mu.Unlock()
	if handle == nil {
		log.Printf("[abyss] capture source not opened, nothing to read")
		return
	}

	linkType := handle.LinkType()
	e.running.Store(true)

	if e.file != "" {
		log.Printf("[abyss] replaying %s (link type %v)", e.file, linkType)
	} else {
		log.Printf("[abyss] capturing on %s (link type %v, snaplen %d)", e.iface, linkType, snapLen)
	}

	for e.running.Load() {
		data, ci, err := handle.ReadPacketData()
		switch err {
		case nil:
			ts := ci.Timestamp
			if e.file != "" {
				// File timestamps are historical; stamp records with the
				// replay clock so flow expiry still works.
				ts = time.Now()
			}
			e.ring.Push(decode.Decode(data, uint32(ci.CaptureLength), uint32(ci.Length), linkType, ts))
			e.captured.Add(1)
		case pcap.NextErrorTimeoutExpired:
			// Idle source; loop around to observe the running flag.
		case io.EOF:
			log.Printf("[abyss] replay finished, %d packets fed", e.captured.Load())
			e.running.Store(false)
		default:
			log.Printf("[abyss] capture read error: %v", err)
		}
	}

	log.Printf("[abyss] capture loop stopped")
}

// Stop flags the read loop to exit. The next read timeout observes it.
func (e *Engine) Stop() {
	e.running.Store(false)
}

// Close releases the handle. Call only after Run has returned.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != nil {
		e.handle.Close()
		e.handle = nil
	}
}

// PacketsCaptured reports how many packets the engine has fed into the
// ring since start.
func (e *Engine) PacketsCaptured() uint64 {
	return e.captured.Load()
}

// PacketsDropped reports the kernel-side drop count for the handle. File
// sources and closed handles report zero.
func (e *Engine) PacketsDropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle == nil {
		return 0
	}
	stats, err := e.handle.Stats()
	if err != nil || stats.PacketsDropped < 0 {
		return 0
	}
	return uint64(stats.PacketsDropped)
}
