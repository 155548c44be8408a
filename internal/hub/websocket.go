// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package hub

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Conn is a Peer backed by a WebSocket connection.
type Conn struct {
	id         string
	ws         *websocket.Conn
	header     http.Header
	remoteAddr string
}

var _ Peer = &Conn{}

// ID implements Peer.
func (c *Conn) ID() string { return c.id }

// Header implements Peer.
func (c *Conn) Header() http.Header { return c.header }

// RemoteAddr implements Peer.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// Send implements Peer.
func (c *Conn) Send(ctx context.Context, msg []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, msg)
}

// Close implements Peer.
func (c *Conn) Close(reason string) error {
	return c.ws.Close(websocket.StatusGoingAway, reason)
}

// ServeHTTP upgrades the request and runs the connection until the
// peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := log.FromContext(ctx)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		l.Error(err, "websocket upgrade failed")
		return
	}
	ws.SetReadLimit(h.cfg.ReadLimit)

	c := &Conn{
		id:         uuid.NewString(),
		ws:         ws,
		header:     r.Header.Clone(),
		remoteAddr: r.RemoteAddr,
	}
	ctx = log.IntoContext(ctx, l.WithValues("conn", c.id))

	h.Register(ctx, c)
	defer func() {
		h.Unregister(context.WithoutCancel(ctx), c)
		_ = ws.CloseNow()
	}()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			logReadError(ctx, err)
			return
		}
		h.Dispatch(ctx, c, data)
	}
}

func logReadError(ctx context.Context, err error) {
	l := log.FromContext(ctx)
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		l.V(1).Info("connection closed by peer")
		return
	}
	if errors.Is(err, context.Canceled) {
		l.V(1).Info("connection context cancelled")
		return
	}
	l.Error(err, "websocket read failed")
}
