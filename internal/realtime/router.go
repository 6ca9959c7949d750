package realtime

import (
	"errors"

	"go.uber.org/zap"
)

// router owns the protocol state of one connection. The state machine is
// one-way: Unauthenticated until a valid auth envelope arrives, then
// Authenticated for the remainder of the connection's lifetime. It runs
// exclusively on the connection's read pump, so it needs no locking of its
// own.
type router struct {
	client *Client
	hub    *Hub
	logger *zap.Logger

	authenticated bool
	userID        int64
}

func newRouter(client *Client, hub *Hub) *router {
	return &router{
		client: client,
		hub:    hub,
		logger: client.logger,
	}
}

// handle processes one raw inbound frame. Protocol errors are answered with
// an error envelope and leave the connection open; before authentication
// everything except a valid auth envelope is dropped without a response, so
// unauthenticated peers learn nothing from probing.
func (r *router) handle(raw []byte) {
	env, err := ParseEnvelope(raw)
	if err != nil {
		if !r.authenticated {
			return
		}
		r.logger.Debug("rejected envelope", zap.Error(err))
		if errors.Is(err, ErrUnknownType) {
			r.sendError("unknown envelope type")
		} else {
			r.sendError("malformed envelope")
		}
		return
	}

	if !r.authenticated {
		if env.Type == TypeAuth {
			r.handleAuth(env)
		}
		return
	}

	switch env.Type {
	case TypeTyping, TypeStopTyping:
		r.handleTyping(env)
	case TypeMessageRead:
		r.handleMessageRead(env)
	case TypePong:
		r.client.markAlive()
	default:
		r.logger.Debug("unsupported envelope type", zap.String("type", string(env.Type)))
		r.sendError("unsupported envelope type: " + string(env.Type))
	}
}

func (r *router) handleAuth(env *Envelope) {
	var payload AuthPayload
	if err := env.DecodePayload(&payload); err != nil {
		r.logger.Debug("invalid auth payload", zap.Error(err))
		return
	}
	if payload.UserID <= 0 {
		r.logger.Debug("auth with invalid user id", zap.Int64("user", payload.UserID))
		return
	}

	r.hub.authenticate(r.client, payload.UserID, payload.ChatIDs)
	r.authenticated = true
	r.userID = payload.UserID

	reply, err := NewEnvelope(TypeAuth, AuthReplyPayload{UserID: payload.UserID, Success: true})
	if err != nil {
		r.logger.Error("build auth reply", zap.Error(err))
		return
	}
	r.client.sendEnvelope(reply)
	r.hub.announceOnline(payload.UserID)
}

// handleTyping forwards a typing or stop-typing indicator to the chat's other
// connected members, stamped with the sender's identity. Nothing is persisted
// and the sender gets no acknowledgement.
func (r *router) handleTyping(env *Envelope) {
	var payload TypingPayload
	if err := env.DecodePayload(&payload); err != nil {
		r.logger.Debug("invalid typing payload", zap.Error(err))
		r.sendError("malformed " + string(env.Type) + " payload")
		return
	}
	payload.UserID = r.userID

	out, err := NewEnvelope(env.Type, payload)
	if err != nil {
		r.logger.Error("build typing envelope", zap.Error(err))
		return
	}
	r.hub.DeliverToChat(payload.ChatID, out, r.userID)
}

// handleMessageRead forwards read receipts to the chat's other members so
// they can update read-state UI. Marking messages read in durable storage is
// an external collaborator's job, triggered separately.
func (r *router) handleMessageRead(env *Envelope) {
	var payload MessageReadPayload
	if err := env.DecodePayload(&payload); err != nil {
		r.logger.Debug("invalid read receipt payload", zap.Error(err))
		r.sendError("malformed message_read payload")
		return
	}
	payload.UserID = r.userID

	out, err := NewEnvelope(TypeMessageRead, payload)
	if err != nil {
		r.logger.Error("build read receipt envelope", zap.Error(err))
		return
	}
	r.hub.DeliverToChat(payload.ChatID, out, r.userID)
}

func (r *router) sendError(message string) {
	env, err := NewEnvelope(TypeError, ErrorPayload{Message: message})
	if err != nil {
		r.logger.Error("build error envelope", zap.Error(err))
		return
	}
	r.client.sendEnvelope(env)
}
