package protocol

import (
	"github.com/google/netstack/tcpip/seqnum"
	"github.com/pkg/errors"
)

// MaxTransferSize keeps every offset of a transfer within half the 32-bit sequence space, so
// serial number comparisons never wrap.
const MaxTransferSize = 1<<31 - 1

type endState int

const (
	endNotSent endState = iota // last frame not produced yet
	endPending                 // last frame sent, waiting for its ACK
	endAcked                   // last frame acknowledged
)

// Frame is a slice of the transfer buffer sized to fit one packet payload.
type Frame struct {
	SeqNum uint32
	Data   []byte
}

// End is the offset just past the frame, i.e. the ACK number that confirms it.
func (f Frame) End() uint32 {
	return f.SeqNum + uint32(len(f.Data))
}

// SlidingWindow holds the bytes of one outbound transfer.
//
// Bytes in [head, pointer) are sent but not acknowledged, and pointer never moves past
// head+size. inFlight remembers how that range was framed so that retransmissions carry the
// same (sequence number, size) pairs as the original sends.
type SlidingWindow struct {
	buffer      []byte
	head        seqnum.Value
	pointer     seqnum.Value
	size        seqnum.Size
	initialSize seqnum.Size
	frameSize   int

	end       endState
	endOffset seqnum.Value
	inFlight  []Frame
}

// NewSlidingWindow returns an empty window of size bytes that cuts frames of at most frameSize
// bytes. A window with frameSize <= 0 never produces frames.
func NewSlidingWindow(size uint32, frameSize int) *SlidingWindow {
	w := &SlidingWindow{
		initialSize: clampWindow(size),
		frameSize:   frameSize,
	}
	w.Reset()
	return w
}

// clampWindow keeps a window within the transfer limit and at least one byte wide, so that a
// zero window still lets the sender probe with a single byte.
func clampWindow(size uint32) seqnum.Size {
	if size == 0 {
		return 1
	}
	if size > MaxTransferSize {
		return MaxTransferSize
	}
	return seqnum.Size(size)
}

// Reset drops the buffer and all window state.
func (w *SlidingWindow) Reset() {
	w.buffer = nil
	w.head = 0
	w.pointer = 0
	w.size = w.initialSize
	w.end = endNotSent
	w.endOffset = 0
	w.inFlight = nil
}

// Load resets the window and takes ownership of b. An empty buffer is complete right away.
func (w *SlidingWindow) Load(b []byte) error {
	w.Reset()
	if len(b) > MaxTransferSize {
		return errors.Wrapf(ErrTooLarge, "%d bytes, limit %d", len(b), MaxTransferSize)
	}
	w.buffer = b
	if len(b) == 0 {
		w.end = endAcked
	}
	return nil
}

// NextFrames frames as much unsent data as the window allows and advances the pointer past it.
func (w *SlidingWindow) NextFrames() []Frame {
	if w.frameSize <= 0 {
		return nil
	}
	limit := uint64(w.head) + uint64(w.size)
	if bufLen := uint64(len(w.buffer)); bufLen < limit {
		limit = bufLen
	}
	ceiling := seqnum.Value(limit)
	bufEnd := seqnum.Value(len(w.buffer))

	var frames []Frame
	for w.pointer.LessThan(ceiling) {
		n := w.pointer.Size(ceiling)
		if n > seqnum.Size(w.frameSize) {
			n = seqnum.Size(w.frameSize)
		}
		start := w.pointer
		w.pointer = w.pointer.Add(n)

		frame := Frame{SeqNum: uint32(start), Data: w.buffer[start:w.pointer]}
		w.inFlight = append(w.inFlight, frame)
		frames = append(frames, frame)

		if w.pointer == bufEnd {
			w.end = endPending
			w.endOffset = bufEnd
		}
	}
	return frames
}

// PendingFrames returns the sent but unacknowledged frames for retransmission.
func (w *SlidingWindow) PendingFrames() []Frame {
	frames := make([]Frame, len(w.inFlight))
	copy(frames, w.inFlight)
	return frames
}

// Acknowledge applies a cumulative ACK. Anything outside (head, pointer] is stale or bogus and
// leaves the window untouched.
func (w *SlidingWindow) Acknowledge(ackNum uint32) bool {
	ack := seqnum.Value(ackNum)
	if !ack.InRange(w.head+1, w.pointer+1) {
		return false
	}
	w.head = ack

	i := 0
	for ; i < len(w.inFlight); i++ {
		frame := w.inFlight[i]
		if seqnum.Value(frame.End()).LessThanEq(ack) {
			continue
		}
		if seqnum.Value(frame.SeqNum).LessThan(ack) {
			cut := uint32(ack) - frame.SeqNum
			w.inFlight[i] = Frame{SeqNum: uint32(ack), Data: frame.Data[cut:]}
		}
		break
	}
	w.inFlight = w.inFlight[i:]

	if w.end == endPending && ack == w.endOffset {
		w.end = endAcked
	}
	return true
}

// IsComplete reports whether the frame holding the final byte has been acknowledged.
func (w *SlidingWindow) IsComplete() bool {
	return w.end == endAcked
}

// SetWindowSize adopts the peer's advertised window. It never shrinks below what is already
// outstanding or below one byte.
func (w *SlidingWindow) SetWindowSize(size uint32) {
	s := clampWindow(size)
	if outstanding := w.head.Size(w.pointer); s < outstanding {
		s = outstanding
	}
	w.size = s
}

func (w *SlidingWindow) Head() uint32       { return uint32(w.head) }
func (w *SlidingWindow) Pointer() uint32    { return uint32(w.pointer) }
func (w *SlidingWindow) WindowSize() uint32 { return uint32(w.size) }
func (w *SlidingWindow) Len() int           { return len(w.buffer) }
