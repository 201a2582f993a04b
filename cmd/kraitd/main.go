// SPDX-FileCopyrightText: 2026 The krait-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"

	pprofile "github.com/pkg/profile"

	"github.com/krait-c2/krait-go/pkg/task"
)

// signalContext returns a context cancelled by the first SIGINT, together
// with its cancel function.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	signalSyn := make(chan os.Signal, 1)
	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		cancel()
	}()

	return ctx, cancel
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	manager, engine, profiling, err := parseAgent(os.Args[1])
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Fatal("Failed to parse config")
	}

	if profiling {
		defer pprofile.Start(pprofile.ProfilePath(".")).Stop()
	}

	if !manager.InitializeProfile() {
		log.Fatal("No usable transport profile, aborting")
	}
	defer func() { _ = manager.Close() }()

	ctx, cancel := signalContext()
	defer cancel()

	switch err := engine.Run(ctx); {
	case errors.Is(err, task.ErrKillDate):
		log.Info("Kill date passed, shutting down")

	case errors.Is(err, context.Canceled):
		log.Info("Shutting down..")

	case err != nil:
		log.WithError(err).Error("Engine stopped")
	}
}
