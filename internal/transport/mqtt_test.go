// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"micscope/internal/stream"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// doneToken is a completed publish token.
type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient records publishes. Methods the transport never calls panic via
// the nil embedded interface.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	connected    bool
	err          error
	msgs         []published
	disconnected bool
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken{err: c.err}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func TestMQTTTopics(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "micscope/summary"},
		{"studio/mic1", "studio/mic1/summary"},
		{"studio/", "studio/summary"},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			m := newMQTTTransport(&fakeClient{}, tt.prefix)
			assert.Equal(t, tt.want, m.Topic(TypeSummary))
		})
	}
}

func TestMQTTSend(t *testing.T) {
	c := &fakeClient{connected: true}
	m := newMQTTTransport(c, "lab")

	require.NoError(t, m.Send(&Summary{Type: TypeSummary, Seq: 3, Status: stream.StatusActive}))
	require.NoError(t, m.Send(NewStatusUpdate(stream.StatusError, errors.New("gone"), time.Now())))
	require.NoError(t, m.Send(42)) // ignored

	require.Len(t, c.msgs, 2)
	assert.Equal(t, "lab/summary", c.msgs[0].topic)
	assert.False(t, c.msgs[0].retained)
	assert.Equal(t, "lab/status", c.msgs[1].topic)
	assert.True(t, c.msgs[1].retained, "status must be retained for late subscribers")

	var s map[string]any
	require.NoError(t, json.Unmarshal(c.msgs[0].payload, &s))
	assert.Equal(t, float64(3), s["seq"])
	var u map[string]any
	require.NoError(t, json.Unmarshal(c.msgs[1].payload, &u))
	assert.Equal(t, "error", u["status"])
	assert.Equal(t, "gone", u["error"])
	assert.Equal(t, uint64(2), m.Published())
}

func TestMQTTSendErrors(t *testing.T) {
	c := &fakeClient{}
	m := newMQTTTransport(c, "")
	assert.ErrorIs(t, m.Send(&Summary{}), ErrNotConnected)
	assert.Empty(t, c.msgs)

	c.connected = true
	c.err = errors.New("queue full")
	assert.EqualError(t, m.Send(&Summary{}), "queue full")
}

func TestMQTTClose(t *testing.T) {
	c := &fakeClient{connected: true}
	m := newMQTTTransport(c, "")
	require.NoError(t, m.Close())
	assert.True(t, c.disconnected)

	idle := &fakeClient{}
	require.NoError(t, newMQTTTransport(idle, "").Close())
	assert.False(t, idle.disconnected)
}

func TestNewMQTTTransportRequiresBroker(t *testing.T) {
	_, err := NewMQTTTransport(MQTTOptions{})
	assert.Error(t, err)
}
