package core

import "errors"

// Frame is one serialized signaling message.
type Frame []byte

var (
	ErrBackpressure = errors.New("backpressure")
	ErrSignalClosed = errors.New("signal connection closed")
)

// SignalConnection is the send side of a signaling channel.
// Owned by the adapter; the adapter must Close() it.
// TrySend never blocks: it enqueues on the connection's single outbound queue
// or fails with ErrBackpressure / ErrSignalClosed.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
