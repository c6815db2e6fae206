package protocol

import "github.com/pkg/errors"

var (
	// ErrMalformed is returned for datagrams too short to hold a header.
	ErrMalformed = errors.New("malformed packet")
	// ErrProtocolViolation marks a packet that does not fit the current state.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrUnknownPeer marks a datagram from someone other than the bound peer.
	ErrUnknownPeer = errors.New("datagram from unknown peer")
	// ErrBusy is returned by StartSend while another connection is active.
	ErrBusy = errors.New("connection already active")
	// ErrTooLarge is returned when a transfer does not fit the offset space.
	ErrTooLarge = errors.New("transfer too large")
	// ErrInvalidPeer is returned by StartSend for an unusable destination.
	ErrInvalidPeer = errors.New("invalid peer address")

	ErrPayloadTooLarge = errors.New("payload exceeds packet capacity")
	ErrControlPayload  = errors.New("control packet carries payload")
	ErrPacketSize      = errors.New("packet size out of range")
)
