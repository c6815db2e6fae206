package protocol

import (
	"net/netip"

	"github.com/google/netstack/tcpip/header"
	"github.com/google/netstack/tcpip/seqnum"
	"go.uber.org/zap"
)

// send encodes p and hands it to the transport. Failures are logged; the timers take care of
// anything that never arrives.
func (e *Engine) send(p *Packet) {
	b, err := MarshalPacket(p, e.cfg.PacketSize)
	if err != nil {
		e.log.Error("could not encode packet", zap.Stringer("kind", p.Kind), zap.Error(err))
		return
	}
	if err := e.transport.SendTo(b, e.peer); err != nil {
		e.log.Error("could not send packet",
			zap.Stringer("kind", p.Kind), zap.Stringer("peer", e.peer), zap.Error(err))
		return
	}
	e.logPacket("sent", p, e.peer)
}

func (e *Engine) sendAck(ack seqnum.Value) {
	e.send(&Packet{
		Kind:       KindACK,
		AckNum:     uint32(ack),
		WindowSize: e.cfg.WindowSize,
	})
}

func (e *Engine) sendFrames(frames []Frame) {
	for _, frame := range frames {
		e.send(&Packet{
			Kind:       KindData,
			SeqNum:     frame.SeqNum,
			WindowSize: e.cfg.WindowSize,
			Payload:    frame.Data,
		})
	}
}

func (e *Engine) logPacket(direction string, p *Packet, peer netip.AddrPort) {
	ce := e.log.Check(zap.DebugLevel, direction+" packet")
	if ce == nil {
		return
	}
	ce.Write(
		zap.Stringer("kind", p.Kind),
		zap.Uint32("seq", p.SeqNum),
		zap.Uint32("ack", p.AckNum),
		zap.Uint32("window", p.WindowSize),
		zap.Uint32("size", p.DataSize()),
		zap.Uint16("checksum", header.Checksum(p.Payload, 0)),
		zap.Stringer("peer", peer),
	)
}
