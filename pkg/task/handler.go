// SPDX-FileCopyrightText: 2026 The krait-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package task

import (
	"context"
	"fmt"
	"sync"
)

// HandlerFunc executes one command with its parameters and returns the
// output. A returned error marks the Job as Failed.
type HandlerFunc func(ctx context.Context, parameters string) (string, error)

// HandlerMux dispatches Jobs to HandlerFuncs by command name. Concrete
// command implementations live outside this repository and are registered at
// startup; only the diagnostic ping handler ships built-in.
type HandlerMux struct {
	handlers map[string]HandlerFunc
	mutex    sync.RWMutex
}

// NewHandlerMux creates a HandlerMux with the built-in handlers registered.
func NewHandlerMux() *HandlerMux {
	mux := &HandlerMux{handlers: make(map[string]HandlerFunc)}
	mux.Register("ping", pingHandler)

	return mux
}

// Register binds a command name to a HandlerFunc, replacing a previous one.
func (mux *HandlerMux) Register(command string, handler HandlerFunc) {
	mux.mutex.Lock()
	defer mux.mutex.Unlock()

	mux.handlers[command] = handler
}

// Dispatch runs the HandlerFunc registered for the command. An unknown
// command is an error.
func (mux *HandlerMux) Dispatch(ctx context.Context, command, parameters string) (string, error) {
	mux.mutex.RLock()
	handler, exists := mux.handlers[command]
	mux.mutex.RUnlock()

	if !exists {
		return "", fmt.Errorf("no handler for command %q", command)
	}

	return handler(ctx, parameters)
}

// pingHandler answers liveness checks.
func pingHandler(_ context.Context, _ string) (string, error) {
	return "pong", nil
}
