// SPDX-License-Identifier: MIT
/*
Package transport fans analysis summaries and status changes out to
external consumers: WebSocket clients, an MQTT broker, UDP listeners and the
log.

A Publisher samples the live analyser on a ticker and hands each Summary to
every configured Transport. Implementations must not block the publisher;
slow consumers drop messages.
*/
package transport

import (
	"encoding/json"
	"errors"
	"time"

	"micscope/internal/analysis"
	"micscope/internal/stream"
)

// Transport sends messages to one destination. Implementations must be safe
// for concurrent use and must not retain data beyond the call unless they
// own it; the publisher never mutates a message after Send.
type Transport interface {
	Send(data any) error
	Close() error
}

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// Message types.
const (
	TypeSummary = "summary"
	TypeStatus  = "status"
)

// BandLevels are per-band levels in analysis.Bands order. They marshal to a
// JSON object keyed by band name.
type BandLevels [analysis.NumBands]float64

// MarshalJSON implements json.Marshaler.
func (b BandLevels) MarshalJSON() ([]byte, error) {
	m := make(map[string]float64, len(b))
	for i, band := range analysis.Bands {
		m[band.Name] = b[i]
	}
	return json.Marshal(m)
}

// Summary is one analysis sample.
type Summary struct {
	Type     string        `json:"type"`
	Seq      uint32        `json:"seq"`
	Time     time.Time     `json:"time"`
	Status   stream.Status `json:"status"`
	Average  float64       `json:"average"`
	PeakHz   float64       `json:"peak_hz"`
	RMS      float64       `json:"rms"`
	Pulse    bool          `json:"pulse"`
	Bands    BandLevels    `json:"bands"`
	Spectrum []byte        `json:"-"`
}

// StatusUpdate reports a streamer status change.
type StatusUpdate struct {
	Type   string        `json:"type"`
	Time   time.Time     `json:"time"`
	Status stream.Status `json:"status"`
	Error  string        `json:"error,omitempty"`
}

// NewStatusUpdate stamps a status change. err may be nil.
func NewStatusUpdate(st stream.Status, err error, now time.Time) *StatusUpdate {
	u := &StatusUpdate{Type: TypeStatus, Time: now, Status: st}
	if err != nil {
		u.Error = err.Error()
	}
	return u
}
