// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package web

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	. "github.com/onsi/gomega"

	"github.com/stagegate/stagegate/internal/identity"
)

func get(t *testing.T, srv *httptest.Server, path, origin string) string {
	t.Helper()
	g := NewWithT(t)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+path, nil)
	g.Expect(err).NotTo(HaveOccurred())
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	resp, err := srv.Client().Do(req)
	g.Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	g.Expect(resp.StatusCode).To(Equal(http.StatusOK))

	b, err := io.ReadAll(resp.Body)
	g.Expect(err).NotTo(HaveOccurred())
	return string(b)
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	NewWithT(t).Expect(err).NotTo(HaveOccurred())
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func TestEndToEnd_StagedDelivery(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g.Expect(get(t, srv, "/stage1content", gameOrigin)).To(Equal(stage1Script))

	c := dial(t, ctx, srv, "/ws")
	g.Expect(wsjson.Write(ctx, c, map[string]string{"verify_captcha": "gw-secret"})).To(Succeed())
	var reply map[string]bool
	g.Expect(wsjson.Read(ctx, c, &reply)).To(Succeed())
	g.Expect(reply).To(Equal(map[string]bool{"correct_captcha": true}))

	body := get(t, srv, "/stage2-gateway?k=gw-secret", gameOrigin)
	key := extractKey(t, body)

	g.Expect(get(t, srv, "/terminalcontent?k="+key, gameOrigin)).To(Equal(terminalScript))

	id, err := identity.Resolve(http.Header{}, "127.0.0.1:1")
	g.Expect(err).NotTo(HaveOccurred())
	_, ok := f.gate.Get(id)
	g.Expect(ok).To(BeFalse())

	g.Expect(c.Close(websocket.StatusNormalClosure, "")).To(Succeed())
}

func TestEndToEnd_CaptchaBeforeStage1(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := dial(t, ctx, srv, "/")
	g.Expect(wsjson.Write(ctx, c, map[string]string{"verify_captcha": "gw-secret"})).To(Succeed())
	var reply map[string]bool
	g.Expect(wsjson.Read(ctx, c, &reply)).To(Succeed())
	g.Expect(reply).To(Equal(map[string]bool{"verify_wrong": true}))

	g.Expect(get(t, srv, "/stage2-gateway?k=gw-secret", gameOrigin)).To(ContainSubstring("Verify wrong"))
}

func TestEndToEnd_CloseBroadcastsCount(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := dial(t, ctx, srv, "/ws")
	b := dial(t, ctx, srv, "/ws")
	leaving := dial(t, ctx, srv, "/ws")
	g.Eventually(f.hub.Len).Should(Equal(3))

	g.Expect(leaving.Close(websocket.StatusNormalClosure, "bye")).To(Succeed())

	for _, c := range []*websocket.Conn{a, b} {
		var msg map[string]int
		g.Expect(wsjson.Read(ctx, c, &msg)).To(Succeed())
		g.Expect(msg).To(Equal(map[string]int{"user": 2}))
	}
}

func TestEndToEnd_BroadcastUnmatched(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sender := dial(t, ctx, srv, "/ws")
	receiver := dial(t, ctx, srv, "/ws")
	g.Eventually(f.hub.Len).Should(Equal(2))

	g.Expect(sender.Write(ctx, websocket.MessageText, []byte(`{"hello":"world"}`))).To(Succeed())

	for _, c := range []*websocket.Conn{sender, receiver} {
		typ, data, err := c.Read(ctx)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(typ).To(Equal(websocket.MessageText))
		g.Expect(data).To(MatchJSON(`{"hello":"world"}`))
	}
}

func TestEndToEnd_ForeignOriginRefused(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example.com"}},
	})
	g.Expect(err).To(HaveOccurred())
	g.Expect(resp).NotTo(BeNil())
	g.Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
	g.Expect(f.hub.Len()).To(BeZero())
}
