// Package pacing keeps outbound audio at or below real-time cadence.
package pacing

import (
	"context"
	"time"

	"voxstream/internal/domain"
	"voxstream/internal/ports"
)

// Gate releases chunks no faster than the audio they carry would play.
//
// After a chunk is handed to send the gate holds the next caller for that chunk's
// nominal duration, so N chunks of duration D take at least (N-1)×D and
// nothing is waited for after the last one.
type Gate struct {
	now      func() time.Time
	nextFree time.Time
	released int
}

var _ ports.Pacer = (*Gate)(nil)

func NewGate() *Gate {
	return &Gate{now: time.Now}
}

// Forward waits for the gate to open, then calls send with the chunk data.
// A cancelled ctx aborts the wait without sending.
func (g *Gate) Forward(ctx context.Context, chunk domain.AudioChunk, send func([]byte) error) error {
	if g.released > 0 {
		if wait := g.nextFree.Sub(g.now()); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := send(chunk.Data); err != nil {
		return err
	}
	g.released++
	g.nextFree = g.now().Add(chunk.Duration)
	return nil
}

// Released reports how many chunks have passed the gate.
func (g *Gate) Released() int {
	return g.released
}

// PassThrough forwards immediately; live capture is already paced by the device.
type PassThrough struct{}

var _ ports.Pacer = PassThrough{}

func (PassThrough) Forward(ctx context.Context, chunk domain.AudioChunk, send func([]byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return send(chunk.Data)
}

// For returns the pacer suited to a source.
func For(source ports.ChunkSource) ports.Pacer {
	if source.Live() {
		return PassThrough{}
	}
	return NewGate()
}
