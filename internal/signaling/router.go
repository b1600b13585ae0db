package signaling

import (
	"fmt"
	"log/slog"

	"github.com/lilsandesh/NeoShare/internal/metrics"
	"github.com/lilsandesh/NeoShare/internal/ratelimit"
	"github.com/lilsandesh/NeoShare/internal/registry"
)

const rateLimitMessage = "rate limit exceeded"

type handlerFunc func(rt *Router, from *registry.Connection, env Envelope)

// Router dispatches validated inbound messages to their per-action handlers.
// Construction fails if any declared action lacks a handler, so an
// incomplete table is caught at startup rather than on first traffic.
type Router struct {
	reg      *registry.Registry
	log      *slog.Logger
	metrics  *metrics.Metrics
	handlers map[string]handlerFunc
}

func NewRouter(reg *registry.Registry, log *slog.Logger, m *metrics.Metrics) (*Router, error) {
	if log == nil {
		log = slog.Default()
	}
	rt := &Router{
		reg:     reg,
		log:     log,
		metrics: m,
		handlers: map[string]handlerFunc{
			ActionOffer:                forwardSignal(EventWebRTCOffer, func(e Envelope) []byte { return e.Offer }),
			ActionAnswer:               forwardSignal(EventWebRTCAnswer, func(e Envelope) []byte { return e.Answer }),
			ActionICECandidate:         forwardSignal(EventWebRTCICECandidate, func(e Envelope) []byte { return e.Candidate }),
			ActionFileTransferRequest:  forwardWrapped,
			ActionFileTransferResponse: forwardWrapped,
		},
	}
	for _, action := range Actions() {
		if _, ok := rt.handlers[action]; !ok {
			return nil, fmt.Errorf("no handler for action %q", action)
		}
	}
	return rt, nil
}

// Route processes one raw inbound message from a connection. The rate
// limiter runs first, before any parsing: a throttled sender gets an
// explicit error event back, while malformed or unknown messages are
// dropped with a log line and no reply.
func (rt *Router) Route(from *registry.Connection, limiter *ratelimit.SlidingWindow, data []byte) {
	if !limiter.Allow() {
		rt.metrics.Inc(metrics.DropReasonRateLimit)
		rt.log.Warn("rate limit exceeded",
			"connection_id", from.ID, "user_id", from.UserID)
		from.Deliver(encodeError(rateLimitMessage))
		return
	}

	env, err := parseEnvelope(data)
	if err != nil {
		rt.drop(from, err)
		return
	}
	if err := env.validate(); err != nil {
		rt.drop(from, err)
		return
	}

	// The wire value of sender_id is never trusted.
	env.SenderID = from.UserID

	rt.handlers[env.Action](rt, from, env)
}

func (rt *Router) drop(from *registry.Connection, err error) {
	rt.metrics.Inc(metrics.DropReasonMalformed)
	rt.log.Warn("dropping malformed message",
		"connection_id", from.ID, "user_id", from.UserID, "err", err)
}

// forwardSignal relays one opaque payload to the target's notify channel as
// the given event type.
func forwardSignal(eventType string, payload func(Envelope) []byte) handlerFunc {
	return func(rt *Router, from *registry.Connection, env Envelope) {
		msg, err := encodeSignal(eventType, env.SenderID, payload(env))
		if err != nil {
			rt.drop(from, err)
			return
		}
		rt.deliver(from, env, msg)
	}
}

// forwardWrapped relays the whole envelope to the target's notify channel
// inside a webrtc_message event.
func forwardWrapped(rt *Router, from *registry.Connection, env Envelope) {
	msg, err := encodeWrapped(env)
	if err != nil {
		rt.drop(from, err)
		return
	}
	rt.deliver(from, env, msg)
}

func (rt *Router) deliver(from *registry.Connection, env Envelope, msg []byte) {
	n := rt.reg.SendToUser(env.TargetID, msg)
	if n == 0 {
		// Target offline or gone. Nothing to tell the sender; peers discover
		// absence through their own signaling timeouts.
		rt.log.Debug("signal target has no live connections",
			"action", env.Action, "target_id", env.TargetID, "sender_id", env.SenderID)
		return
	}
	rt.metrics.Inc(metrics.MessagesForwarded)
	rt.log.Debug("signal forwarded",
		"action", env.Action, "target_id", env.TargetID,
		"sender_id", env.SenderID, "connection_id", from.ID)
}
