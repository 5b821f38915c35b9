package domain

import "time"

type StreamID string

const streamIDPrefix = "stream_"

// StreamIDFor derives the stream id owned by a sender connection.
func StreamIDFor(owner ConnectionID) StreamID {
	return StreamID(streamIDPrefix + string(owner))
}

// StreamInfo is a read-only view for APIs (no track or subscriber handles).
type StreamInfo struct {
	ID          StreamID     `json:"id"`
	Owner       ConnectionID `json:"owner"`
	Subscribers int          `json:"subscribers"`
	CreatedAt   time.Time    `json:"created_at"`
}
