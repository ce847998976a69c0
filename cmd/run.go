// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"micscope/internal/audio"
	"micscope/internal/config"
	"micscope/internal/device"
	applog "micscope/internal/log"
	"micscope/internal/metrics"
	"micscope/internal/stream"
	"micscope/internal/transport"
	"micscope/internal/transport/udp"
	"micscope/internal/tui"
	"micscope/pkg/build"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// pipeline is the wired capture, analysis and publishing stack.
type pipeline struct {
	recorder  *audio.Recorder
	streamer  *stream.Streamer
	publisher *transport.Publisher
	metrics   *metrics.Metrics
	sinks     []transport.Transport
	websocket *transport.WebSocketTransport
	servers   []*http.Server
}

// newPipeline builds every component named by cfg. On error, anything
// already opened is closed.
func newPipeline(cfg *config.Config) (_ *pipeline, err error) {
	p := &pipeline{}
	defer func() {
		if err != nil {
			p.close()
		}
	}()

	provider, err := device.New(cfg.Audio.Backend, cfg.DeviceOptions())
	if err != nil {
		return nil, err
	}
	if p.recorder, err = audio.NewRecorder(provider, cfg.RecorderOptions()); err != nil {
		return nil, err
	}
	if p.streamer, err = stream.New(p.recorder, cfg.Analyser); err != nil {
		return nil, err
	}

	var routes []transport.Route
	if cfg.Metrics.Enabled {
		if p.metrics, err = metrics.New(prometheus.NewRegistry(), p.recorder); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		p.streamer.OnStatus(p.metrics.RecordStatus)
		if cfg.Metrics.Addr == "" {
			routes = append(routes, transport.Route{Pattern: cfg.Metrics.Path, Handler: p.metrics.Handler()})
		} else if err := p.serve(cfg.Metrics.Addr, cfg.Metrics.Path, p.metrics.Handler()); err != nil {
			return nil, err
		}
	}

	if err := p.openTransports(cfg, routes); err != nil {
		return nil, err
	}

	if p.publisher, err = transport.NewPublisher(p.streamer, cfg.PublisherOptions(), p.sinks...); err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.AttachPublisher(p.publisher)
	}
	p.streamer.OnStatus(func(st stream.Status) {
		if st != stream.StatusError {
			p.publisher.PublishStatus(st, nil)
		}
	})
	p.streamer.OnError(func(err error) {
		applog.Errorf("micscope: %v", err)
		p.publisher.PublishStatus(p.streamer.Status(), err)
	})
	return p, nil
}

func (p *pipeline) openTransports(cfg *config.Config, routes []transport.Route) error {
	t := cfg.Transport
	if t.Log.Enabled {
		p.sinks = append(p.sinks, transport.NewLoggingTransport(t.Log.Every))
	}
	if t.WebSocket.Enabled {
		ws, err := transport.NewWebSocketTransport(transport.WebSocketOptions{
			Addr:            t.WebSocket.Addr,
			Path:            t.WebSocket.Path,
			MinSendInterval: t.WebSocket.MinSendInterval,
			Routes:          routes,
		})
		if err != nil {
			return err
		}
		p.websocket = ws
		p.sinks = append(p.sinks, ws)
	}
	if t.UDP.Enabled {
		u, err := udp.NewTransport(t.UDP.Target)
		if err != nil {
			return err
		}
		applog.Infof("micscope: Sending UDP summaries to %s", u.Target())
		p.sinks = append(p.sinks, u)
	}
	if t.MQTT.Enabled {
		clientID := t.MQTT.ClientID
		if clientID == "" {
			clientID = build.Get().Name + "-" + uuid.NewString()[:8]
		}
		m, err := transport.NewMQTTTransport(transport.MQTTOptions{
			Broker:         t.MQTT.Broker,
			ClientID:       clientID,
			Username:       t.MQTT.Username,
			Password:       t.MQTT.Password,
			TopicPrefix:    t.MQTT.TopicPrefix,
			ConnectTimeout: t.MQTT.ConnectTimeout,
		})
		if err != nil {
			return err
		}
		p.sinks = append(p.sinks, m)
	}
	return nil
}

// serve mounts h on its own HTTP server.
func (p *pipeline) serve(addr, path string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on '%s': %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle(path, h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	p.servers = append(p.servers, srv)
	go func() {
		applog.Infof("micscope: Serving %s on %s", path, ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Errorf("micscope: HTTP server error: %v", err)
		}
	}()
	return nil
}

// close tears down in dependency order: capture first so the final status
// still reaches open transports.
func (p *pipeline) close() {
	if p.streamer != nil {
		if err := p.streamer.Close(); err != nil {
			applog.Warnf("micscope: Error stopping capture: %v", err)
		}
	}
	if p.publisher != nil {
		_ = p.publisher.Stop()
	}
	for _, s := range p.sinks {
		if err := s.Close(); err != nil {
			applog.Warnf("micscope: Error closing %T: %v", s, err)
		}
	}
	for _, srv := range p.servers {
		_ = srv.Close()
	}
}

// run captures until ctx is cancelled or, in TUI mode, the user quits.
func run(ctx context.Context, cfg *config.Config, opts *options) error {
	restore, err := redirectLogs(opts)
	if err != nil {
		return err
	}
	defer restore()

	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()
	p.publisher.Start()

	if opts.tui {
		err := tui.RunMeter(ctx, p.streamer, build.Get().Name)
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}

	if err := p.streamer.Start(ctx); err != nil {
		if ctx.Err() != nil || errors.Is(err, audio.ErrSuperseded) {
			return nil
		}
		return fmt.Errorf("failed to start capture: %w", err)
	}
	applog.Infof("micscope: Capturing with %s backend, press Ctrl+C to stop", p.recorder.Provider().Name())

	<-ctx.Done()
	applog.Infof("micscope: Shutting down")
	return nil
}

// redirectLogs sends logs to --log-file, or discards them under the TUI.
func redirectLogs(opts *options) (restore func(), err error) {
	switch {
	case opts.logFile != "":
		f, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		applog.SetOutput(f)
		return func() {
			applog.SetOutput(os.Stderr)
			f.Close()
		}, nil
	case opts.tui:
		applog.SetOutput(io.Discard)
		return func() { applog.SetOutput(os.Stderr) }, nil
	default:
		return func() {}, nil
	}
}
