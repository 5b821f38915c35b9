package domain

import "errors"

var (
	// ErrProtocol marks a malformed or unexpected signaling message.
	ErrProtocol = errors.New("protocol error")
	// ErrNoStreamAvailable is returned to receivers asking for a stream that does not exist.
	ErrNoStreamAvailable = errors.New("no audio stream available")
	// ErrNegotiationFailure means the peer connection reported a failed connectivity state.
	ErrNegotiationFailure = errors.New("negotiation failure")
	// ErrUpstreamEnded is the normal end of a producer track.
	ErrUpstreamEnded = errors.New("upstream ended")
	// ErrEncodeFailure stops a single stream's transcoder.
	ErrEncodeFailure = errors.New("encode failure")

	ErrStreamNotFound = errors.New("stream not found")
	ErrStreamExists   = errors.New("stream already exists")
	ErrFrameTimeout   = errors.New("frame timeout")
)
