package protocol

import (
	"bytes"
	"encoding/binary"
	"strconv"

	"github.com/pkg/errors"
)

// Kind is the single byte discriminant at the start of every packet.
type Kind uint8

const (
	KindData Kind = 0x02
	KindEOT  Kind = 0x04
	KindACK  Kind = 0x05
	KindSYN  Kind = 0x15
)

const (
	// HeaderSize is kind(1) + seq(4) + ack(4) + window(4) + data size(4).
	HeaderSize = 17
	// DefaultPacketSize is the fixed size of every datagram on the wire.
	DefaultPacketSize = 1500
	// DefaultPort is the UDP port both hosts bind by default.
	DefaultPort = 8000
)

func (k Kind) String() string {
	switch k {
	case KindSYN:
		return "SYN"
	case KindACK:
		return "ACK"
	case KindData:
		return "DATA"
	case KindEOT:
		return "EOT"
	default:
		return "UNKNOWN(0x" + strconv.FormatUint(uint64(k), 16) + ")"
	}
}

// IsControl reports whether packets of this kind must not carry payload.
func (k Kind) IsControl() bool {
	return k != KindData
}

// Packet is one decoded datagram. Payload is empty for every kind but DATA.
type Packet struct {
	Kind       Kind
	SeqNum     uint32 // offset of the first payload byte
	AckNum     uint32 // cumulative offset acknowledged
	WindowSize uint32 // advertised receive window in bytes
	Payload    []byte
}

// DataSize is the number of valid payload bytes.
func (p *Packet) DataSize() uint32 {
	return uint32(len(p.Payload))
}

// PayloadCapacity returns how many payload bytes fit in a packet of packetSize bytes.
func PayloadCapacity(packetSize int) int {
	return packetSize - HeaderSize
}

// MarshalPacket encodes p into exactly packetSize bytes, zero filling the payload tail.
func MarshalPacket(p *Packet, packetSize int) ([]byte, error) {
	if packetSize <= HeaderSize {
		return nil, errors.Wrapf(ErrPacketSize, "packet size %d", packetSize)
	}
	if p.Kind.IsControl() && len(p.Payload) != 0 {
		return nil, errors.Wrapf(ErrControlPayload, "%s with %d bytes", p.Kind, len(p.Payload))
	}
	if len(p.Payload) > PayloadCapacity(packetSize) {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d > %d", len(p.Payload), PayloadCapacity(packetSize))
	}

	buf := new(bytes.Buffer)
	header := []interface{}{uint8(p.Kind), p.SeqNum, p.AckNum, p.WindowSize, p.DataSize()}
	for _, field := range header {
		if err := binary.Write(buf, binary.BigEndian, field); err != nil {
			return nil, errors.Wrap(err, "writing header")
		}
	}
	buf.Write(p.Payload)

	b := make([]byte, packetSize)
	copy(b, buf.Bytes())
	return b, nil
}

// UnmarshalPacket decodes a datagram. Bytes beyond data size are ignored and a data size larger
// than what the datagram carries is capped.
func UnmarshalPacket(b []byte) (*Packet, error) {
	if len(b) < HeaderSize {
		return nil, errors.Wrapf(ErrMalformed, "%d bytes, need %d", len(b), HeaderSize)
	}
	packet := &Packet{
		Kind:       Kind(b[0]),
		SeqNum:     binary.BigEndian.Uint32(b[1:5]),
		AckNum:     binary.BigEndian.Uint32(b[5:9]),
		WindowSize: binary.BigEndian.Uint32(b[9:13]),
	}
	dataSize := uint64(binary.BigEndian.Uint32(b[13:17]))
	if capacity := uint64(len(b) - HeaderSize); dataSize > capacity {
		dataSize = capacity
	}
	if dataSize > 0 {
		packet.Payload = make([]byte, dataSize)
		copy(packet.Payload, b[HeaderSize:])
	}
	return packet, nil
}
