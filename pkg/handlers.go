package protocol

import (
	"net/netip"

	"github.com/google/netstack/tcpip/buffer"
	"github.com/google/netstack/tcpip/seqnum"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (e *Engine) handleDatagram(b []byte, from netip.AddrPort) {
	packet, err := UnmarshalPacket(b)
	if err != nil {
		e.log.Error("dropping datagram", zap.Stringer("from", from), zap.Error(err))
		return
	}
	e.logPacket("received", packet, from)

	if e.state != StateIdle && from != e.peer {
		e.logInvalidSender(from)
		return
	}

	switch packet.Kind {
	case KindSYN:
		e.handleSyn(packet, from)
	case KindACK:
		e.handleAck(packet)
	case KindData:
		e.handleData(packet)
	case KindEOT:
		e.handleEOT(packet)
	default:
		e.violation("unknown packet kind", packet, from)
	}
}

func (e *Engine) handleSyn(packet *Packet, from netip.AddrPort) {
	switch {
	case e.state == StateIdle:
		e.peer = from
		e.id = uuid.New()
		e.expected = 0
		e.state = StateWait
		e.log.Info("accepting connection", zap.Stringer("transfer", e.id), zap.Stringer("peer", from))
		e.sendAck(0)
		e.timers.RestartReceiveTimer()
		e.timers.RestartIdleTimer()
	case e.state == StateWait && e.expected == 0:
		// Our ACK for the SYN was lost and the sender is trying again.
		e.log.Info("repeating handshake ACK", zap.Stringer("peer", from))
		e.sendAck(0)
	default:
		e.violation("SYN received while in invalid state", packet, from)
	}
}

func (e *Engine) handleAck(packet *Packet) {
	switch e.state {
	case StateWaitSyn:
		if packet.AckNum != 0 {
			e.violation("data ACK received while waiting for SYN ACK", packet, e.peer)
			return
		}
		e.adoptWindow(packet.WindowSize)
		e.state = StateSending
		e.timers.RestartIdleTimer()
		e.log.Info("handshake complete",
			zap.Stringer("transfer", e.id), zap.Uint32("window", e.window.WindowSize()))
		e.sendWindow()
	case StateSending:
		if packet.AckNum == 0 {
			e.violation("ACK for SYN received while sending", packet, e.peer)
			return
		}
		if !e.window.Acknowledge(packet.AckNum) {
			e.log.Error("unexpected ACK received",
				zap.Uint32("ack", packet.AckNum),
				zap.Uint32("head", e.window.Head()),
				zap.Uint32("pointer", e.window.Pointer()))
			return
		}
		e.adoptWindow(packet.WindowSize)
		e.timers.RestartIdleTimer()
		e.sendWindow()
	default:
		e.violation("ACK received while in invalid state", packet, e.peer)
	}
}

func (e *Engine) adoptWindow(size uint32) {
	if size == 0 {
		e.log.Warn("peer advertised a zero window, probing with one byte", zap.Stringer("peer", e.peer))
	}
	e.window.SetWindowSize(size)
}

// sendWindow sends EOT once the last frame is acknowledged, otherwise whatever new frames the
// window allows.
func (e *Engine) sendWindow() {
	if e.window.IsComplete() {
		e.log.Info("transmission finished, sending EOT", zap.Stringer("transfer", e.id))
		e.send(&Packet{Kind: KindEOT, WindowSize: e.cfg.WindowSize})
		e.teardown(OutcomeCompleted)
		return
	}
	e.sendFrames(e.window.NextFrames())
	e.timers.RestartReceiveTimer()
}

func (e *Engine) handleData(packet *Packet) {
	if e.state != StateWait {
		e.violation("DATA received while in invalid state", packet, e.peer)
		return
	}

	seq := seqnum.Value(packet.SeqNum)
	switch {
	case seq == e.expected:
		if e.receivedBytes+len(packet.Payload) > MaxTransferSize {
			e.violation("DATA overflows transfer limit", packet, e.peer)
			return
		}
		if len(packet.Payload) > 0 {
			e.received = append(e.received, buffer.View(packet.Payload))
			e.receivedBytes += len(packet.Payload)
			e.expected = e.expected.Add(seqnum.Size(len(packet.Payload)))
		}
		e.sendAck(e.expected)
		e.timers.RestartIdleTimer()
		e.timers.RestartReceiveTimer()
	case seq.LessThan(e.expected):
		e.log.Info("duplicate DATA received, repeating ACK",
			zap.Uint32("seq", packet.SeqNum), zap.Uint32("expected", uint32(e.expected)))
		e.sendAck(e.expected)
	default:
		e.log.Error("out of order DATA received",
			zap.Uint32("seq", packet.SeqNum), zap.Uint32("expected", uint32(e.expected)))
	}
}

func (e *Engine) handleEOT(packet *Packet) {
	if e.state != StateWait {
		e.violation("EOT received while in invalid state", packet, e.peer)
		return
	}
	e.log.Info("EOT received", zap.Stringer("transfer", e.id), zap.Int("bytes", e.receivedBytes))
	e.teardown(OutcomeCompleted)
}

func (e *Engine) violation(msg string, packet *Packet, from netip.AddrPort) {
	e.log.Error(msg,
		zap.Error(ErrProtocolViolation),
		zap.Stringer("kind", packet.Kind),
		zap.Stringer("state", e.state),
		zap.Stringer("from", from))
}

func (e *Engine) logInvalidSender(from netip.AddrPort) {
	e.log.Error("rejecting datagram",
		zap.Error(ErrUnknownPeer),
		zap.Stringer("expected", e.peer),
		zap.Stringer("actual", from))
}
