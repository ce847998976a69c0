// SPDX-License-Identifier: MIT
package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"micscope/internal/analysis"
	"micscope/internal/audio"
	"micscope/internal/capture"
	"micscope/internal/device"
	"micscope/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// deniedProvider refuses every capture request.
type deniedProvider struct{}

func (deniedProvider) Name() string { return "denied" }

func (deniedProvider) RequestCapture(context.Context) (device.Stream, error) {
	return nil, &device.CaptureError{Kind: device.ErrPermissionDenied, Op: "check permission"}
}

func (deniedProvider) CreateContext(float64, int) (device.Context, error) {
	return nil, errors.New("unreachable")
}

// gatedProvider wraps the synthetic provider. gate, when set, holds
// RequestCapture until closed; rate overrides the context sample rate.
type gatedProvider struct {
	*device.Synthetic
	gate    chan struct{}
	entered chan struct{}
	rate    float64
}

func (p *gatedProvider) RequestCapture(ctx context.Context) (device.Stream, error) {
	if p.entered != nil {
		close(p.entered)
		p.entered = nil
	}
	if p.gate != nil {
		<-p.gate
	}
	return p.Synthetic.RequestCapture(ctx)
}

func (p *gatedProvider) CreateContext(sampleRate float64, quantum int) (device.Context, error) {
	c, err := p.Synthetic.CreateContext(sampleRate, quantum)
	if err != nil || p.rate == 0 {
		return c, err
	}
	return rateContext{Context: c, rate: p.rate}, nil
}

type rateContext struct {
	device.Context
	rate float64
}

func (c rateContext) SampleRate() float64 { return c.rate }

// journal records streamer events in publication order.
type journal struct {
	mu        sync.Mutex
	entries   []string
	statuses  []Status
	analysers []*analysis.Analyser
	errs      []error
}

func record(s *Streamer) *journal {
	j := &journal{}
	s.OnStatus(func(st Status) {
		j.mu.Lock()
		defer j.mu.Unlock()
		j.statuses = append(j.statuses, st)
		j.entries = append(j.entries, "status:"+st.String())
	})
	s.OnAnalyser(func(a *analysis.Analyser) {
		j.mu.Lock()
		defer j.mu.Unlock()
		j.analysers = append(j.analysers, a)
		if a == nil {
			j.entries = append(j.entries, "analyser:nil")
		} else {
			j.entries = append(j.entries, "analyser:set")
		}
	})
	s.OnError(func(err error) {
		j.mu.Lock()
		defer j.mu.Unlock()
		j.errs = append(j.errs, err)
	})
	return j
}

func (j *journal) log() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) statusLog() []Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Status(nil), j.statuses...)
}

func newStreamer(t *testing.T, p device.Provider) (*Streamer, *audio.Recorder) {
	t.Helper()
	rec, err := audio.NewRecorder(p, audio.DefaultOptions())
	require.NoError(t, err)
	s, err := New(rec, analysis.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, rec
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, analysis.DefaultOptions())
	assert.Error(t, err)

	rec, err := audio.NewRecorder(device.NewSynthetic(device.SyntheticOptions{}), audio.Options{})
	require.NoError(t, err)
	bad := analysis.DefaultOptions()
	bad.FFTSize = 1000
	_, err = New(rec, bad)
	assert.Error(t, err)
}

func TestStartActivatesWithAnalyser(t *testing.T) {
	s, _ := newStreamer(t, device.NewSynthetic(device.SyntheticOptions{}))
	j := record(s)

	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, StatusActive, s.Status())
	assert.True(t, s.IsActive())
	a := s.Analyser()
	require.NotNil(t, a)
	assert.Equal(t, 1024, a.BinCount())
	assert.Equal(t, analysis.Blackman, a.Options().Window)
	assert.Equal(t, []string{"status:starting", "analyser:set", "status:active"}, j.log())

	// The synthetic tone reaches the analyser through the session tap.
	require.Eventually(t, func() bool { return a.AverageFrequency() > 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestStopReturnsToIdle(t *testing.T) {
	s, _ := newStreamer(t, device.NewSynthetic(device.SyntheticOptions{}))
	j := record(s)

	require.NoError(t, s.Start(context.Background()))
	a := s.Analyser()
	require.NotNil(t, a)

	require.NoError(t, s.Stop())

	assert.Equal(t, StatusIdle, s.Status())
	assert.Nil(t, s.Analyser())
	assert.True(t, a.Closed())
	assert.Equal(t, []string{"status:starting", "analyser:set", "status:active", "analyser:nil", "status:idle"}, j.log())
}

func TestDoubleStartYieldsOneStarting(t *testing.T) {
	s, _ := newStreamer(t, device.NewSynthetic(device.SyntheticOptions{}))
	j := record(s)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, []Status{StatusStarting, StatusActive}, j.statusLog())
}

func TestIdleStopPublishesNoStatus(t *testing.T) {
	s, _ := newStreamer(t, device.NewSynthetic(device.SyntheticOptions{}))
	j := record(s)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())

	assert.Empty(t, j.log())
	assert.Equal(t, StatusIdle, s.Status())
}

func TestPermissionDenied(t *testing.T) {
	s, rec := newStreamer(t, deniedProvider{})
	j := record(s)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrPermissionDenied)

	assert.Equal(t, []Status{StatusStarting, StatusError}, j.statusLog())
	assert.Equal(t, StatusError, s.Status())
	assert.Nil(t, s.Analyser())
	assert.False(t, rec.IsActive())
	require.Len(t, j.errs, 1)
	assert.ErrorIs(t, j.errs[0], device.ErrPermissionDenied)

	// Error persists through stop and a retry starts over.
	require.NoError(t, s.Stop())
	assert.Equal(t, StatusError, s.Status())

	_ = s.Start(context.Background())
	assert.Equal(t, []Status{StatusStarting, StatusError, StatusStarting, StatusError}, j.statusLog())
}

func TestDeviceLossWhileActive(t *testing.T) {
	p := device.NewSynthetic(device.SyntheticOptions{})
	s, rec := newStreamer(t, p)
	j := record(s)

	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, 1, p.Interrupt(errors.New("unplugged")))

	require.Eventually(t, func() bool { return !rec.IsActive() }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		log := j.log()
		return len(log) > 0 && log[len(log)-1] == "analyser:nil"
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, StatusError, s.Status())
	assert.Nil(t, s.Analyser())
	assert.Equal(t, []string{"status:starting", "analyser:set", "status:active", "status:error", "analyser:nil"}, j.log())
}

func TestStopWhileStartingReturnsToIdle(t *testing.T) {
	p := &gatedProvider{
		Synthetic: device.NewSynthetic(device.SyntheticOptions{}),
		gate:      make(chan struct{}),
		entered:   make(chan struct{}),
	}
	entered := p.entered
	s, rec := newStreamer(t, p)
	j := record(s)

	result := make(chan error, 1)
	go func() { result <- s.Start(context.Background()) }()
	<-entered

	require.NoError(t, s.Stop())
	close(p.gate)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, audio.ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
	assert.Equal(t, []string{"status:starting", "status:idle"}, j.log())
	assert.Equal(t, StatusIdle, s.Status())
	assert.Nil(t, s.Analyser())
	assert.False(t, rec.IsActive())
}

func TestAnalyserBindFailure(t *testing.T) {
	p := &gatedProvider{Synthetic: device.NewSynthetic(device.SyntheticOptions{}), rate: -1}
	s, rec := newStreamer(t, p)
	j := record(s)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "bind analyser")

	assert.Equal(t, []Status{StatusStarting, StatusError}, j.statusLog())
	assert.Equal(t, StatusError, s.Status())
	assert.Nil(t, s.Analyser())
	assert.False(t, rec.IsActive())
	require.Len(t, j.errs, 1)
	assert.ErrorContains(t, j.errs[0], "sample rate")
}

func TestStaleDeviceLossKeepsNewerSession(t *testing.T) {
	p := device.NewSynthetic(device.SyntheticOptions{})
	s, rec := newStreamer(t, p)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s.OnError(func(error) {
		once.Do(func() {
			close(entered)
			<-release
		})
	})

	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, 1, p.Interrupt(errors.New("unplugged")))
	<-entered
	assert.Equal(t, StatusError, s.Status())

	require.NoError(t, s.Stop())
	require.NoError(t, s.Start(context.Background()))
	newer := rec.Session()
	require.NotNil(t, newer)
	close(release)

	assert.Never(t, func() bool { return rec.Session() != newer }, 100*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, StatusActive, s.Status())
	assert.NotNil(t, s.Analyser())
}

func TestDataForwarded(t *testing.T) {
	s, _ := newStreamer(t, device.NewSynthetic(device.SyntheticOptions{}))

	var mu sync.Mutex
	var blocks int
	s.OnData(func(b capture.Block) {
		mu.Lock()
		defer mu.Unlock()
		if len(b) == audio.DefaultQuantum {
			blocks++
		}
	})

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return blocks >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCloseDetachesFromRecorder(t *testing.T) {
	rec, err := audio.NewRecorder(device.NewSynthetic(device.SyntheticOptions{}), audio.Options{})
	require.NoError(t, err)
	s, err := New(rec, analysis.DefaultOptions())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Close())

	for _, k := range []events.Kind{events.KindStart, events.KindStop, events.KindError, events.KindData} {
		assert.Zero(t, rec.Events().Len(k), "kind %s still subscribed", k)
	}
	assert.Equal(t, StatusIdle, s.Status())
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusIdle, "idle"},
		{StatusStarting, "starting"},
		{StatusActive, "active"},
		{StatusError, "error"},
		{Status(9), "status(9)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
		text, err := tt.status.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(text))
	}
}
