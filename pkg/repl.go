package protocol

import (
	"net/netip"
	"strconv"

	"github.com/google/uuid"
)

// Snapshot is a consistent copy of the engine state for display.
type Snapshot struct {
	State      State
	Peer       netip.AddrPort
	Transfer   uuid.UUID
	Size       int    // bytes buffered for sending
	Head       uint32 // sender: acknowledged offset
	Pointer    uint32 // sender: sent offset
	WindowSize uint32 // sender: peer window in use
	Received   int    // receiver: bytes received in order
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		State:      e.state,
		Peer:       e.peer,
		Transfer:   e.id,
		Size:       e.window.Len(),
		Head:       e.window.Head(),
		Pointer:    e.window.Pointer(),
		WindowSize: e.window.WindowSize(),
		Received:   e.receivedBytes,
	}
}

// String renders the snapshot as the status table printed by the REPL.
func (s Snapshot) String() string {
	res := "State     Peer                   Role      Progress"
	res += "\n" + pad(s.State.String(), 10) + pad(formatPeer(s.Peer), 23) + pad(s.State.Role().String(), 10)
	switch s.State.Role() {
	case RoleSender:
		res += strconv.FormatUint(uint64(s.Head), 10) + "/" + strconv.Itoa(s.Size) +
			" acked, " + strconv.FormatUint(uint64(s.Pointer-s.Head), 10) + " in flight, window " +
			strconv.FormatUint(uint64(s.WindowSize), 10)
	case RoleReceiver:
		res += strconv.Itoa(s.Received) + " received"
	default:
		res += "-"
	}
	return res
}

func pad(s string, width int) string {
	for len(s) < width {
		s += " "
	}
	return s
}
