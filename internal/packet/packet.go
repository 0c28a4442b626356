// Package packet defines the unit of work that flows through a brick runner.
package packet

import (
	"time"

	"github.com/GriffinCanCode/brickrunner/internal/protocol"
	"github.com/GriffinCanCode/brickrunner/internal/shared/id"
)

// Packet carries a payload plus the timing markers used for queueing metrics.
// A packet is owned by exactly one queue or component at a time.
type Packet struct {
	ID      id.PacketID
	Payload any
	Port    string

	CreatedAt   time.Time
	InputEntry  time.Time
	InputExit   time.Time
	OutputEntry time.Time
}

// New creates a packet with a fresh id.
func New(payload any) *Packet {
	return &Packet{
		ID:        id.NewPacketID(),
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// FromFrame rebuilds a packet received from an upstream runner.
func FromFrame(f protocol.PacketFrame) *Packet {
	p := &Packet{
		ID:        id.PacketID(f.ID),
		Payload:   f.Payload,
		Port:      f.Port,
		CreatedAt: f.CreatedAt,
	}
	if p.ID == "" {
		p.ID = id.NewPacketID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	return p
}

// ToFrame returns the wire form of the packet.
func (p *Packet) ToFrame() protocol.PacketFrame {
	return protocol.PacketFrame{
		ID:        p.ID.String(),
		Payload:   p.Payload,
		Port:      p.Port,
		CreatedAt: p.CreatedAt,
	}
}

// Copy returns a shallow copy. The payload is shared, which is fine once the
// packet has left the brick: nothing mutates it afterwards.
func (p *Packet) Copy() *Packet {
	c := *p
	return &c
}

func (p *Packet) MarkInputEntry()  { p.InputEntry = time.Now() }
func (p *Packet) MarkInputExit()   { p.InputExit = time.Now() }
func (p *Packet) MarkOutputEntry() { p.OutputEntry = time.Now() }

// InputQueueTime is how long the packet waited in the Input queue.
func (p *Packet) InputQueueTime() time.Duration {
	if p.InputEntry.IsZero() || p.InputExit.IsZero() {
		return 0
	}
	return p.InputExit.Sub(p.InputEntry)
}

// OutputQueueTime is how long the packet has been waiting in an Output queue.
func (p *Packet) OutputQueueTime(now time.Time) time.Duration {
	if p.OutputEntry.IsZero() {
		return 0
	}
	return now.Sub(p.OutputEntry)
}

// Age is the time since creation.
func (p *Packet) Age() time.Duration {
	return time.Since(p.CreatedAt)
}
