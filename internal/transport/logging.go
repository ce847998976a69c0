// SPDX-License-Identifier: MIT
package transport

import (
	"sync/atomic"

	applog "micscope/internal/log"
)

// LoggingTransport writes messages to the debug log. Summaries are sampled
// every Every messages so a 30 Hz publisher does not flood the console.
type LoggingTransport struct {
	every uint64
	count atomic.Uint64
}

// NewLoggingTransport returns a transport logging one summary in every.
// An every of 0 or 1 logs them all.
func NewLoggingTransport(every uint64) *LoggingTransport {
	if every == 0 {
		every = 1
	}
	applog.Infof("Transport: Using LoggingTransport (1 in %d summaries)", every)
	return &LoggingTransport{every: every}
}

// Send logs data. It never fails.
func (lt *LoggingTransport) Send(data any) error {
	l := applog.Logger()
	switch msg := data.(type) {
	case *Summary:
		if n := lt.count.Add(1); (n-1)%lt.every != 0 {
			return nil
		}
		l.Debug().
			Uint32("seq", msg.Seq).
			Str("status", msg.Status.String()).
			Float64("average", msg.Average).
			Float64("peak_hz", msg.PeakHz).
			Float64("rms", msg.RMS).
			Bool("pulse", msg.Pulse).
			Msg("summary")
	case *StatusUpdate:
		ev := l.Info().Str("status", msg.Status.String())
		if msg.Error != "" {
			ev = ev.Str("error", msg.Error)
		}
		ev.Msg("status")
	default:
		l.Debug().Interface("data", data).Msg("message")
	}
	return nil
}

// Count returns the number of summaries seen.
func (lt *LoggingTransport) Count() uint64 { return lt.count.Load() }

// Close is a no-op.
func (lt *LoggingTransport) Close() error {
	applog.Debugf("Transport: LoggingTransport closed")
	return nil
}

var _ Transport = (*LoggingTransport)(nil)
