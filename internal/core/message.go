package core

import (
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/pion/webrtc/v4"
)

type MessageType string

// client → server
const (
	MsgStartSending        MessageType = "start_sending"
	MsgStartReceiving      MessageType = "start_receiving"
	MsgStopStream          MessageType = "stop_stream"
	MsgGetAvailableStreams MessageType = "get_available_streams"
	MsgICECandidate        MessageType = "ice_candidate"
	MsgLocalIP             MessageType = "local_ip"
	MsgPing                MessageType = "ping"
)

// both directions
const (
	MsgWebRTCOffer  MessageType = "webrtc_offer"
	MsgWebRTCAnswer MessageType = "webrtc_answer"
)

// server → client
const (
	MsgSenderReady      MessageType = "sender_ready"
	MsgAvailableStreams MessageType = "available_streams"
	MsgStreamAvailable  MessageType = "stream_available"
	MsgStreamEnded      MessageType = "stream_ended"
	MsgAudioData        MessageType = "audio_data"
	MsgError            MessageType = "error"
	MsgPong             MessageType = "pong"
)

// Message is an inbound signaling message. Only the fields of its Type are set.
type Message struct {
	Type      MessageType                `json:"type"`
	StreamID  domain.StreamID            `json:"stream_id,omitempty"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	IP        string                     `json:"ip,omitempty"`
}

type SenderReady struct {
	Type         MessageType         `json:"type"`
	ConnectionID domain.ConnectionID `json:"connection_id"`
}

type OfferMessage struct {
	Type  MessageType               `json:"type"`
	Offer webrtc.SessionDescription `json:"offer"`
}

type AnswerMessage struct {
	Type   MessageType               `json:"type"`
	Answer webrtc.SessionDescription `json:"answer"`
}

type AvailableStreams struct {
	Type    MessageType       `json:"type"`
	Streams []domain.StreamID `json:"streams"`
}

// StreamNotice is used for both stream_available and stream_ended.
type StreamNotice struct {
	Type     MessageType     `json:"type"`
	StreamID domain.StreamID `json:"stream_id"`
}

type AudioData struct {
	Type      MessageType     `json:"type"`
	StreamID  domain.StreamID `json:"stream_id"`
	Data      []int16         `json:"data"`
	Timestamp float64         `json:"timestamp"`
}

type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type Pong struct {
	Type MessageType `json:"type"`
}
