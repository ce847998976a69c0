// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	applog "micscope/internal/log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTOptions configure an MQTTTransport.
type MQTTOptions struct {
	Broker         string // e.g. "tcp://localhost:1883"
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string        // defaults to "micscope"
	ConnectTimeout time.Duration // defaults to 10s
}

// ErrNotConnected is returned by Send while the broker is unreachable.
var ErrNotConnected = errors.New("not connected to MQTT broker")

// MQTTTransport publishes summaries to <prefix>/summary and retained status
// updates to <prefix>/status. Publishing never waits for the broker.
type MQTTTransport struct {
	client mqtt.Client
	prefix string

	published atomic.Uint64
}

// NewMQTTTransport connects to the broker.
func NewMQTTTransport(opts MQTTOptions) (*MQTTTransport, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("MQTTTransport: broker cannot be empty")
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	co.SetUsername(opts.Username)
	co.SetPassword(opts.Password)
	co.SetCleanSession(true)
	co.SetAutoReconnect(true)
	co.SetConnectTimeout(opts.ConnectTimeout)
	co.SetOnConnectHandler(func(mqtt.Client) {
		applog.Infof("MQTTTransport: Connected to %s", opts.Broker)
	})
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		applog.Warnf("MQTTTransport: Connection to %s lost: %v", opts.Broker, err)
	})

	client := mqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("MQTTTransport: connection to %s timed out", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("MQTTTransport: connection error: %w", err)
	}
	return newMQTTTransport(client, opts.TopicPrefix), nil
}

func newMQTTTransport(client mqtt.Client, prefix string) *MQTTTransport {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = "micscope"
	}
	return &MQTTTransport{client: client, prefix: prefix}
}

// Topic returns the full topic for a message type.
func (m *MQTTTransport) Topic(msgType string) string {
	return m.prefix + "/" + msgType
}

// Send publishes summaries and status updates; other values are ignored.
func (m *MQTTTransport) Send(data any) error {
	var (
		topic    string
		retained bool
	)
	switch data.(type) {
	case *Summary:
		topic = m.Topic(TypeSummary)
	case *StatusUpdate:
		topic, retained = m.Topic(TypeStatus), true
	default:
		return nil
	}
	if !m.client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("MQTTTransport: encode %T: %w", data, err)
	}
	token := m.client.Publish(topic, 0, retained, payload)
	m.published.Add(1)

	// Surface errors the client reports synchronously; otherwise move on.
	select {
	case <-token.Done():
		return token.Error()
	default:
		return nil
	}
}

// Published returns the number of messages handed to the client.
func (m *MQTTTransport) Published() uint64 { return m.published.Load() }

// Close disconnects from the broker.
func (m *MQTTTransport) Close() error {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	applog.Debugf("MQTTTransport: Closed")
	return nil
}

var _ Transport = (*MQTTTransport)(nil)
