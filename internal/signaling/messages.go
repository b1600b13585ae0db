// Package signaling relays peer-to-peer negotiation messages between
// connections. Payloads (SDP offers and answers, ICE candidates, file
// transfer metadata) are opaque to the relay: they are validated for
// presence, never parsed, and forwarded byte-for-byte.
package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Inbound actions a client may send.
const (
	ActionOffer                = "offer"
	ActionAnswer               = "answer"
	ActionICECandidate         = "ice_candidate"
	ActionFileTransferRequest  = "file_transfer_request"
	ActionFileTransferResponse = "file_transfer_response"
)

// Actions lists every action the relay accepts; the router's dispatch table
// is checked against it at startup.
func Actions() []string {
	return []string{
		ActionOffer,
		ActionAnswer,
		ActionICECandidate,
		ActionFileTransferRequest,
		ActionFileTransferResponse,
	}
}

var (
	errEmptyAction   = errors.New("message has no action")
	errUnknownAction = errors.New("unknown action")
	errTrailingData  = errors.New("trailing data after message")
)

// Envelope is the inbound message shape. Exactly the fields relevant to the
// message's action are required; the rest stay empty. SenderID is filled in
// from the authenticated connection before forwarding, never trusted from
// the wire.
type Envelope struct {
	Action   string `json:"action"`
	TargetID string `json:"target_id,omitempty"`
	SenderID string `json:"sender_id,omitempty"`

	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	Accepted *bool  `json:"accepted,omitempty"`
}

// parseEnvelope decodes one message strictly: unknown fields and trailing
// bytes are rejected so malformed traffic is caught at the boundary.
func parseEnvelope(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("decoding message: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Envelope{}, errTrailingData
	}
	return env, nil
}

// validate checks the action-specific required fields.
func (e Envelope) validate() error {
	if e.Action == "" {
		return errEmptyAction
	}
	if e.TargetID == "" {
		return fmt.Errorf("action %q: missing target_id", e.Action)
	}
	switch e.Action {
	case ActionOffer:
		if len(e.Offer) == 0 {
			return errors.New("offer: missing offer payload")
		}
	case ActionAnswer:
		if len(e.Answer) == 0 {
			return errors.New("answer: missing answer payload")
		}
	case ActionICECandidate:
		if len(e.Candidate) == 0 {
			return errors.New("ice_candidate: missing candidate payload")
		}
	case ActionFileTransferRequest:
		if e.FileName == "" {
			return errors.New("file_transfer_request: missing file_name")
		}
		if e.FileSize <= 0 {
			return errors.New("file_transfer_request: missing or invalid file_size")
		}
	case ActionFileTransferResponse:
		if e.Accepted == nil {
			return errors.New("file_transfer_response: missing accepted")
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownAction, e.Action)
	}
	return nil
}
