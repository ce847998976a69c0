// SPDX-License-Identifier: MIT
package udp

import (
	"net"
	"sync"

	"micscope/internal/transport"
)

// Transport encodes summaries into binary datagrams for low-latency
// listeners such as lighting controllers. Status updates are not sent.
type Transport struct {
	sender *Sender

	mu  sync.Mutex // guards buf
	buf []byte
}

// NewTransport dials target.
func NewTransport(target string) (*Transport, error) {
	s, err := NewSender(target)
	if err != nil {
		return nil, err
	}
	return &Transport{sender: s, buf: make([]byte, 0, PacketSize(1024))}, nil
}

// Target returns the destination datagrams are sent to.
func (t *Transport) Target() *net.UDPAddr { return t.sender.Target() }

// Send implements transport.Transport.
func (t *Transport) Send(data any) error {
	s, ok := data.(*transport.Summary)
	if !ok {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = AppendPacket(t.buf[:0], s)
	return t.sender.Send(t.buf)
}

// Close closes the underlying socket.
func (t *Transport) Close() error { return t.sender.Close() }

var _ transport.Transport = (*Transport)(nil)
