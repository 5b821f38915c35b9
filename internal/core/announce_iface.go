package core

import "github.com/dkeye/VoiceRelay/internal/domain"

// StreamAnnouncer tells the host platform which stream URL can be played.
// Implementations must not block the caller.
type StreamAnnouncer interface {
	StreamAvailable(id domain.StreamID)
	StreamEnded(id domain.StreamID)
}
