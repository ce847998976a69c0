// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"micscope/internal/stream"
	"micscope/internal/transport"
)

/*
Summary packet layout (BigEndian):

+----------------------------------------------------------------+
| Field       | Data Type | Size (Bytes) | Description           |
|-------------|-----------|--------------|-----------------------|
| Sequence    | uint32    | 4            | Monotonically rising  |
| Timestamp   | int64     | 8            | Ns since epoch        |
| Status      | uint8     | 1            | stream.Status         |
| Flags       | uint8     | 1            | bit 0: pulse          |
| Average     | float32   | 4            | Mean level, 0..255    |
| Peak Hz     | float32   | 4            | Loudest bin frequency |
| RMS         | float32   | 4            | Time-domain RMS       |
| Band Count  | uint8     | 1            | B                     |
| Bands       | []float32 | B * 4        | Levels, 0..1          |
| Bin Count   | uint16    | 2            | N                     |
| Spectrum    | []uint8   | N            | Frequency data        |
+----------------------------------------------------------------+
*/

const (
	headerSize = 4 + 8 + 1 + 1 + 4 + 4 + 4
	flagPulse  = 1 << 0
	maxBins    = math.MaxUint16
)

// ErrShortPacket is returned when a datagram ends before its declared
// contents.
var ErrShortPacket = errors.New("udp: short packet")

// Packet is a decoded summary datagram.
type Packet struct {
	Seq       uint32
	Timestamp time.Time
	Status    stream.Status
	Pulse     bool
	Average   float32
	PeakHz    float32
	RMS       float32
	Bands     []float32
	Spectrum  []byte
}

// PacketSize returns the encoded size of a summary with the given number of
// spectrum bins.
func PacketSize(bins int) int {
	return headerSize + 1 + len(transport.BandLevels{})*4 + 2 + min(bins, maxBins)
}

// AppendPacket appends the encoding of s to dst.
func AppendPacket(dst []byte, s *transport.Summary) []byte {
	var flags uint8
	if s.Pulse {
		flags |= flagPulse
	}
	be := binary.BigEndian
	dst = be.AppendUint32(dst, s.Seq)
	dst = be.AppendUint64(dst, uint64(s.Time.UnixNano()))
	dst = append(dst, uint8(s.Status), flags)
	dst = be.AppendUint32(dst, math.Float32bits(float32(s.Average)))
	dst = be.AppendUint32(dst, math.Float32bits(float32(s.PeakHz)))
	dst = be.AppendUint32(dst, math.Float32bits(float32(s.RMS)))

	dst = append(dst, uint8(len(s.Bands)))
	for _, b := range s.Bands {
		dst = be.AppendUint32(dst, math.Float32bits(float32(b)))
	}

	spectrum := s.Spectrum
	if len(spectrum) > maxBins {
		spectrum = spectrum[:maxBins]
	}
	dst = be.AppendUint16(dst, uint16(len(spectrum)))
	return append(dst, spectrum...)
}

// DecodePacket parses a summary datagram. The returned slices alias b.
func DecodePacket(b []byte) (Packet, error) {
	var p Packet
	if len(b) < headerSize+1 {
		return p, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	be := binary.BigEndian
	p.Seq = be.Uint32(b[0:])
	p.Timestamp = time.Unix(0, int64(be.Uint64(b[4:])))
	p.Status = stream.Status(b[12])
	p.Pulse = b[13]&flagPulse != 0
	p.Average = math.Float32frombits(be.Uint32(b[14:]))
	p.PeakHz = math.Float32frombits(be.Uint32(b[18:]))
	p.RMS = math.Float32frombits(be.Uint32(b[22:]))

	off := headerSize
	bands := int(b[off])
	off++
	if len(b) < off+bands*4+2 {
		return p, fmt.Errorf("%w: %d bands declared", ErrShortPacket, bands)
	}
	p.Bands = make([]float32, bands)
	for i := range p.Bands {
		p.Bands[i] = math.Float32frombits(be.Uint32(b[off:]))
		off += 4
	}

	bins := int(be.Uint16(b[off:]))
	off += 2
	if len(b) < off+bins {
		return p, fmt.Errorf("%w: %d bins declared, %d bytes left", ErrShortPacket, bins, len(b)-off)
	}
	p.Spectrum = b[off : off+bins]
	return p, nil
}
