// SPDX-FileCopyrightText: 2026 The krait-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package profile

import (
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/websocket"
)

const (
	// wsHandshakeTimeout bounds the opening handshake in Initialize.
	wsHandshakeTimeout = 5 * time.Second

	// wsResponseTimeout bounds the wait for a correlated reply in Send.
	wsResponseTimeout = 30 * time.Second
)

// WebSocketProfile is the persistent-connection variant. One background
// goroutine drains inbound frames and resolves the single outstanding
// request; the protocol is strictly half-duplex, so at most one Send waits
// for a reply at any time.
type WebSocketProfile struct {
	config Config

	conn *websocket.Conn

	// writeMutex serializes frame writes, gorilla allows one writer only.
	writeMutex sync.Mutex

	// pending is the reply slot of the outstanding Send, nil if none. The
	// mutex is held only across slot reads and writes, never across a
	// blocking wait; the buffered channel decouples the receive loop.
	pending      chan string
	pendingMutex sync.Mutex

	// connected is accessed atomically; zero means disconnected.
	connected uint32
}

// NewWebSocketProfile creates a WebSocketProfile for the given Config.
func NewWebSocketProfile(config Config) *WebSocketProfile {
	return &WebSocketProfile{config: config}
}

func (p *WebSocketProfile) endpoint() string {
	scheme := "ws"
	if p.config.TLS {
		scheme = "wss"
	}

	return fmt.Sprintf("%s://%s:%d%s", scheme, p.config.Host, p.config.Port, p.config.WebSocket.Path)
}

// Initialize dials the controller. The opening handshake must complete
// within wsHandshakeTimeout, otherwise initialization fails. On success the
// receive loop is started.
func (p *WebSocketProfile) Initialize() bool {
	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
		// No certificate pinning; the payload carries its own protection.
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	conn, _, err := dialer.Dial(p.endpoint(), nil)
	if err != nil {
		log.WithError(err).WithField("endpoint", p.endpoint()).Error("WebSocket dial failed")
		return false
	}

	p.conn = conn
	atomic.StoreUint32(&p.connected, 1)

	go p.handleIn()

	return true
}

// handleIn drains inbound frames perpetually. A frame resolves the pending
// Send, if one exists; any receive failure marks the connection dead.
func (p *WebSocketProfile) handleIn() {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			atomic.StoreUint32(&p.connected, 0)
			log.WithError(err).Debug("WebSocket receive failed, marking disconnected")
			return
		}

		p.pendingMutex.Lock()
		slot := p.pending
		p.pending = nil
		p.pendingMutex.Unlock()

		if slot != nil {
			slot <- string(data)
		} else {
			log.Debug("WebSocket frame without outstanding request, dropping")
		}
	}
}

// Send writes the payload as a text frame and blocks up to wsResponseTimeout
// for the correlated reply. Write failures and timeouts return ErrNoResponse.
func (p *WebSocketProfile) Send(payload string) (string, error) {
	if !p.IsConnected() {
		return "", ErrNoResponse
	}

	slot := make(chan string, 1)

	p.pendingMutex.Lock()
	if p.pending != nil {
		p.pendingMutex.Unlock()
		log.Warn("WebSocket request while another is outstanding")
		return "", ErrNoResponse
	}
	p.pending = slot
	p.pendingMutex.Unlock()

	p.writeMutex.Lock()
	err := p.conn.WriteMessage(websocket.TextMessage, []byte(payload))
	p.writeMutex.Unlock()

	if err != nil {
		atomic.StoreUint32(&p.connected, 0)
		p.clearPending(slot)
		log.WithError(err).Debug("WebSocket send failed")
		return "", ErrNoResponse
	}

	select {
	case reply := <-slot:
		return reply, nil

	case <-time.After(wsResponseTimeout):
		p.clearPending(slot)
		log.Debug("WebSocket reply timed out")
		return "", ErrNoResponse
	}
}

// clearPending removes the slot unless the receive loop already resolved it.
func (p *WebSocketProfile) clearPending(slot chan string) {
	p.pendingMutex.Lock()
	if p.pending == slot {
		p.pending = nil
	}
	p.pendingMutex.Unlock()
}

// IsConnected reports if the connection is believed to be alive.
func (p *WebSocketProfile) IsConnected() bool {
	return atomic.LoadUint32(&p.connected) == 1
}

// Name returns "websocket".
func (p *WebSocketProfile) Name() string {
	return "websocket"
}

// Close tears the connection down; the receive loop ends on its next read.
func (p *WebSocketProfile) Close() error {
	atomic.StoreUint32(&p.connected, 0)

	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
