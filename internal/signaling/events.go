package signaling

import (
	"encoding/json"
)

// Outbound event types.
const (
	EventWebRTCOffer        = "webrtc_offer"
	EventWebRTCAnswer       = "webrtc_answer"
	EventWebRTCICECandidate = "webrtc_ice_candidate"
	EventWebRTCMessage      = "webrtc_message"
	EventError              = "error"
)

// signalEvent carries a relayed negotiation payload to its target. Payload
// is the sender's bytes, untouched.
type signalEvent struct {
	Type     string          `json:"type"`
	SenderID string          `json:"sender_id"`
	Payload  json.RawMessage `json:"payload"`
}

// wrappedEvent carries a full forwarded envelope, used for file transfer
// actions where the target needs every field the sender set.
type wrappedEvent struct {
	Type    string   `json:"type"`
	Message Envelope `json:"message"`
}

// errorEvent is the only event the relay originates itself.
type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func encodeSignal(eventType, senderID string, payload json.RawMessage) ([]byte, error) {
	return json.Marshal(signalEvent{Type: eventType, SenderID: senderID, Payload: payload})
}

func encodeWrapped(env Envelope) ([]byte, error) {
	return json.Marshal(wrappedEvent{Type: EventWebRTCMessage, Message: env})
}

func encodeError(message string) []byte {
	b, err := json.Marshal(errorEvent{Type: EventError, Message: message})
	if err != nil {
		// The struct has two string fields; this cannot fail.
		return []byte(`{"type":"error"}`)
	}
	return b
}
