// Package mirror republishes telemetry frames to a NATS subject, so
// collectors can tap the stream without holding a WebSocket open.
package mirror

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"abyss-sniffer/internal/model"
)

// Publisher forwards frames to NATS. Publish failures are logged and the
// frame dropped; the telemetry path never blocks on the mirror.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher connects to the NATS server at url.
func NewPublisher(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("abyss-sniffer"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	log.Printf("[abyss] telemetry mirror connected to %s (subject %s)", url, subject)
	return &Publisher{nc: nc, subject: subject}, nil
}

// PublishFrame sends one frame as JSON.
func (p *Publisher) PublishFrame(frame *model.TelemetryFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[abyss] mirror failed to encode frame: %v", err)
		return
	}
	if err := p.nc.Publish(p.subject, payload); err != nil {
		log.Printf("[abyss] mirror publish failed: %v", err)
	}
}

// Close flushes buffered frames and drops the connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
	}
}
