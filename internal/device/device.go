// SPDX-License-Identifier: MIT
/*
Package device abstracts the host audio stack behind three small handles:

	Stream   the acquired microphone ("tracks" that can be stopped)
	Context  a processing graph at a fixed sample rate and quantum
	Source   the connection feeding a Stream into a Sink through a Context

Providers exist for PortAudio, miniaudio (malgo) and a synthetic generator.
*/
package device

import (
	"context"
	"fmt"
	"strings"
)

// Backend names accepted by New.
const (
	BackendPortAudio = "portaudio"
	BackendMalgo     = "malgo"
	BackendSynthetic = "synthetic"
)

// DefaultInput selects the host's default input device.
const DefaultInput = -1

// Sink consumes one buffer of mono samples on the device callback thread.
// A nil slice means the stream delivered no input channel.
type Sink interface {
	Process(in []float32)
}

// Stream is an acquired capture stream.
type Stream interface {
	// Label names the underlying device.
	Label() string
	// Stop releases the device tracks. Idempotent.
	Stop() error
}

// Context is a processing graph running at a fixed rate and quantum.
type Context interface {
	SampleRate() float64
	Quantum() int
	// Connect starts feeding s into sink.
	Connect(s Stream, sink Sink) (Source, error)
	// Close releases the graph. Idempotent.
	Close() error
	Closed() bool
}

// Source is a live connection between a Stream and a Sink.
type Source interface {
	// Disconnect stops delivery to the sink. Idempotent.
	Disconnect() error
	// Err reports asynchronous device failures after connection.
	Err() <-chan error
}

// Provider acquires streams and processing contexts from a host audio stack.
type Provider interface {
	Name() string
	RequestCapture(ctx context.Context) (Stream, error)
	CreateContext(sampleRate float64, quantum int) (Context, error)
}

// Lister is implemented by providers that can enumerate devices.
type Lister interface {
	Devices() ([]Info, error)
}

// Info describes a host audio device.
type Info struct {
	ID                int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	Default           bool
}

// Type returns "Input", "Output" or "Input/Output".
func (i Info) Type() string {
	switch {
	case i.MaxInputChannels > 0 && i.MaxOutputChannels > 0:
		return "Input/Output"
	case i.MaxInputChannels > 0:
		return "Input"
	case i.MaxOutputChannels > 0:
		return "Output"
	default:
		return ""
	}
}

// Options configure a provider.
type Options struct {
	InputDevice int  // device index, DefaultInput for the host default
	LowLatency  bool // request the device's low-latency setting
	Synthetic   SyntheticOptions
}

// New returns the provider registered under backend.
func New(backend string, opts Options) (Provider, error) {
	switch strings.ToLower(backend) {
	case BackendPortAudio, "":
		return NewPortAudio(opts), nil
	case BackendMalgo, "miniaudio":
		return NewMalgo(opts), nil
	case BackendSynthetic:
		return NewSynthetic(opts.Synthetic), nil
	default:
		return nil, fmt.Errorf("unknown audio backend: '%s'", backend)
	}
}
