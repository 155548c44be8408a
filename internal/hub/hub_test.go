// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/stagegate/stagegate/internal/gate"
	"github.com/stagegate/stagegate/internal/identity"
	"github.com/stagegate/stagegate/internal/store"
	"github.com/stagegate/stagegate/internal/testutils"
)

type fakePeer struct {
	id     string
	header http.Header
	remote string

	mu      sync.Mutex
	sent    [][]byte
	failing bool
	closed  bool
}

func newPeer(id, ip string) *fakePeer {
	return &fakePeer{id: id, header: http.Header{}, remote: ip + ":40000"}
}

func (p *fakePeer) ID() string          { return p.id }
func (p *fakePeer) Header() http.Header { return p.header }
func (p *fakePeer) RemoteAddr() string  { return p.remote }

func (p *fakePeer) Send(_ context.Context, msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing {
		return errors.New("broken pipe")
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *fakePeer) Close(string) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sent))
	for _, m := range p.sent {
		out = append(out, string(m))
	}
	return out
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Notify(_ context.Context, content string) {
	n.mu.Lock()
	n.msgs = append(n.msgs, content)
	n.mu.Unlock()
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

type fixture struct {
	hub    *Hub
	gate   *gate.Memory
	stores *store.Set
	notify *recordingNotifier
	tokens *recordingNotifier
	clock  *testutils.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	g := NewWithT(t)

	clock := testutils.NewFakeClock(testutils.ParseTime(t, "2026-03-01T10:00:00Z"))
	stores, err := store.Open(t.TempDir(), clock.Now)
	g.Expect(err).NotTo(HaveOccurred())

	f := &fixture{
		gate:   gate.NewMemory(),
		stores: stores,
		notify: &recordingNotifier{},
		tokens: &recordingNotifier{},
		clock:  clock,
	}
	f.hub = New(Config{
		Gate:          f.gate,
		Stores:        stores,
		Notifier:      f.notify,
		TokenNotifier: f.tokens,
		CaptchaSecret: "s3cret",
		Now:           clock.Now,
	})
	return f
}

func TestHub_CloseBroadcastsRemainingCount(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t)
	ctx := context.Background()

	peers := []*fakePeer{
		newPeer("a", "203.0.113.1"),
		newPeer("b", "203.0.113.2"),
		newPeer("c", "203.0.113.3"),
	}
	for _, p := range peers {
		f.hub.Register(ctx, p)
	}
	g.Expect(f.hub.Len()).To(Equal(3))

	f.hub.Unregister(ctx, peers[0])
	g.Expect(f.hub.Len()).To(Equal(2))
	g.Expect(peers[0].messages()).To(BeEmpty())
	g.Expect(peers[1].messages()).To(Equal([]string{`{"user":2}`}))
	g.Expect(peers[2].messages()).To(Equal([]string{`{"user":2}`}))

	f.hub.Unregister(ctx, peers[1])
	g.Expect(peers[2].messages()).To(Equal([]string{`{"user":2}`, `{"user":1}`}))

	// A second unregister of the same peer is a no-op.
	f.hub.Unregister(ctx, peers[1])
	g.Expect(peers[2].messages()).To(HaveLen(2))
}

func TestHub_RegisterRecordsClient(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t)

	p := newPeer("a", "10.0.0.1")
	p.header.Set("X-Forwarded-For", "198.51.100.23, 10.0.0.1")
	p.header.Set("User-Agent", "test-agent")
	p.header.Add("Accept", "text/html")
	p.header.Add("Accept", "*/*")
	f.hub.Register(context.Background(), p)

	rec, ok, err := f.stores.Clients.Get("198.51.100")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeTrue())
	g.Expect(rec.IP).To(Equal("198.51.100.23"))
	g.Expect(rec.ConnectedAt).To(Equal("2026-03-01T10:00:00Z"))
	g.Expect(rec.Headers).To(HaveKeyWithValue("user-agent", "test-agent"))
	g.Expect(rec.Headers).To(HaveKeyWithValue("accept", "text/html, */*"))
	g.Expect(rec.LastActivity).To(BeNil())
	g.Expect(rec.Verification).To(BeNil())
}

func TestHub_BroadcastContinuesPastFailures(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t)
	ctx := context.Background()

	broken := newPeer("broken", "203.0.113.1")
	broken.failing = true
	ok := newPeer("ok", "203.0.113.2")
	f.hub.Register(ctx, broken)
	f.hub.Register(ctx, ok)

	f.hub.Broadcast(ctx, []byte(`{"hello":1}`))
	g.Expect(ok.messages()).To(Equal([]string{`{"hello":1}`}))
}

func TestHub_CloseAll(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t)

	a, b := newPeer("a", "203.0.113.1"), newPeer("b", "203.0.113.2")
	f.hub.Register(context.Background(), a)
	f.hub.Register(context.Background(), b)

	f.hub.CloseAll("shutdown")
	g.Expect(a.closed).To(BeTrue())
	g.Expect(b.closed).To(BeTrue())
}

func TestDispatch_Ping(t *testing.T) {
	for _, tt := range []struct {
		name     string
		sentTime func(now int64) string
		expected func(now int64) map[string]int64
	}{
		{
			name:     "numeric time",
			sentTime: func(now int64) string { return fmt.Sprintf(`,"time":%d`, now-150) },
			expected: func(now int64) map[string]int64 { return map[string]int64{"ping": 150, "time": now} },
		},
		{
			name:     "numeric string time",
			sentTime: func(now int64) string { return fmt.Sprintf(`,"time":" %d"`, now-40) },
			expected: func(now int64) map[string]int64 { return map[string]int64{"ping": 40, "time": now} },
		},
		{
			name:     "missing time",
			sentTime: func(int64) string { return "" },
			expected: func(now int64) map[string]int64 { return map[string]int64{"time": now} },
		},
		{
			name:     "non-numeric time",
			sentTime: func(int64) string { return `,"time":"soon"` },
			expected: func(now int64) map[string]int64 { return map[string]int64{"time": now} },
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			f := newFixture(t)
			ctx := context.Background()

			p := newPeer("a", "203.0.113.1")
			f.hub.Register(ctx, p)

			now := f.clock.Now().UnixMilli()
			f.hub.Dispatch(ctx, p, []byte(`{"ping":true`+tt.sentTime(now)+`}`))

			msgs := p.messages()
			g.Expect(msgs).To(HaveLen(1))
			var reply map[string]int64
			g.Expect(json.Unmarshal([]byte(msgs[0]), &reply)).To(Succeed())
			g.Expect(reply).To(Equal(tt.expected(now)))
		})
	}
}

func TestDispatch_Captcha(t *testing.T) {
	for _, tt := range []struct {
		name          string
		stage1        bool
		secret        string
		ip            string
		expectedReply string
		expectStage2  bool
	}{
		{
			name:          "stage 1 missing wins over a correct secret",
			secret:        "s3cret",
			ip:            "203.0.113.5",
			expectedReply: `{"verify_wrong":true}`,
		},
		{
			name:          "correct secret",
			stage1:        true,
			secret:        "s3cret",
			ip:            "203.0.113.5",
			expectedReply: `{"correct_captcha":true}`,
			expectStage2:  true,
		},
		{
			name:          "wrong secret still advances",
			stage1:        true,
			secret:        "nope",
			ip:            "203.0.113.5",
			expectedReply: `{"wrong_captcha":true}`,
			expectStage2:  true,
		},
		{
			name:          "unresolvable identity",
			stage1:        true,
			secret:        "s3cret",
			ip:            "2001:db8::1",
			expectedReply: `{"verify_wrong":true}`,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			f := newFixture(t)
			ctx := context.Background()

			id := identity.ClientIdentity("203.0.113")
			if tt.stage1 {
				f.gate.MarkStage1(id)
			}

			p := &fakePeer{id: "a", header: http.Header{}, remote: "[" + tt.ip + "]:1234"}
			if tt.ip == "203.0.113.5" {
				p.remote = tt.ip + ":1234"
			}
			f.hub.Register(ctx, p)

			raw, _ := json.Marshal(map[string]string{"verify_captcha": tt.secret})
			f.hub.Dispatch(ctx, p, raw)

			g.Expect(p.messages()).To(Equal([]string{tt.expectedReply}))
			st, _ := f.gate.Get(id)
			g.Expect(st.Stage2).To(Equal(tt.expectStage2))
		})
	}
}

func TestDispatch_CaptchaRecordsAttempt(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.stores.Visitors.Visit("203.0.113.5", nil)
	g.Expect(err).NotTo(HaveOccurred())

	p := newPeer("a", "203.0.113.5")
	f.hub.Dispatch(ctx, p, []byte(`{"verify_captcha":"guess"}`))

	c, err := f.stores.Visitors.Read()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(c.VisitorIPs["203.0.113.5"].CaptchaAttempts).To(ConsistOf(store.Attempt{
		Secret: "guess", Correct: false, Time: "2026-03-01T10:00:00Z",
	}))
}

func TestDispatch_Relay(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t)
	ctx := context.Background()

	sender := newPeer("sender", "203.0.113.1")
	target := newPeer("target", "203.0.113.2")
	other := newPeer("other", "203.0.113.3")
	for _, p := range []*fakePeer{sender, target, other} {
		f.hub.Register(ctx, p)
	}

	// Without a forwarding target the message falls through to broadcast.
	f.hub.Dispatch(ctx, sender, []byte(`{"ip":"1.2.3.4"}`))
	g.Expect(other.messages()).To(Equal([]string{`{"ip":"1.2.3.4"}`}))
	g.Expect(sender.messages()).To(Equal([]string{`{"ip":"1.2.3.4"}`}))

	f.hub.Dispatch(ctx, target, []byte(`{"location":true}`))
	g.Expect(f.hub.Preferred()).To(Equal(target))

	f.hub.Dispatch(ctx, sender, []byte(`{"ip":"5.6.7.8","dc":1}`))
	g.Expect(target.messages()).To(ContainElement(`{"ip":"5.6.7.8","dc":1}`))
	g.Expect(other.messages()).NotTo(ContainElement(`{"ip":"5.6.7.8","dc":1}`))

	// Closing the target clears it.
	f.hub.Unregister(ctx, target)
	g.Expect(f.hub.Preferred()).To(BeNil())
}

func TestDispatch_Unmatched(t *testing.T) {
	for _, tt := range []struct {
		name          string
		payload       string
		expectedBcast bool
	}{
		{name: "unknown object", payload: `{"hello":"world"}`, expectedBcast: true},
		{name: "falsy known field", payload: `{"ping":0,"msg":""}`, expectedBcast: true},
		{name: "chat", payload: `{"msg":"hi"}`},
		{name: "session marker", payload: `{"sid":"abc"}`},
		{name: "log", payload: `{"log":"boot","type":"info"}`},
		{name: "server check", payload: `{"sendservercheck":1}`},
		{name: "invalid json", payload: `{nope`},
		{name: "null", payload: `null`},
		{name: "array", payload: `[1,2]`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			f := newFixture(t)
			ctx := context.Background()

			sender, other := newPeer("s", "203.0.113.1"), newPeer("o", "203.0.113.2")
			f.hub.Register(ctx, sender)
			f.hub.Register(ctx, other)

			f.hub.Dispatch(ctx, sender, []byte(tt.payload))
			if tt.expectedBcast {
				g.Expect(sender.messages()).To(Equal([]string{tt.payload}))
				g.Expect(other.messages()).To(Equal([]string{tt.payload}))
			} else {
				g.Expect(sender.messages()).To(BeEmpty())
				g.Expect(other.messages()).To(BeEmpty())
			}
		})
	}
}

func TestDispatch_Priority(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t)
	ctx := context.Background()

	p := newPeer("a", "203.0.113.1")
	f.hub.Register(ctx, p)

	// ping outranks every other kind in the same payload.
	f.hub.Dispatch(ctx, p, []byte(`{"ping":1,"time":0,"location":true,"token":"t"}`))
	g.Expect(p.messages()).To(HaveLen(1))
	g.Expect(p.messages()[0]).To(ContainSubstring(`"ping"`))
	g.Expect(f.hub.Preferred()).To(BeNil())

	all, err := f.stores.Tokens.All()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(all).To(BeEmpty())
}

func TestDispatch_Whois(t *testing.T) {
	for _, tt := range []struct {
		name    string
		payload string
	}{
		{name: "whois", payload: `{"whois":"alice"}`},
		{name: "legacy name", payload: `{"whoisgay":"alice"}`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			f := newFixture(t)

			p := newPeer("a", "203.0.113.1")
			f.hub.Dispatch(context.Background(), p, []byte(tt.payload))

			g.Expect(p.messages()).To(BeEmpty())
			g.Expect(f.notify.all()).To(ConsistOf(And(
				ContainSubstring("name:`alice`"),
				ContainSubstring("time:`2026-03-01T10:00:00Z`"),
			)))
			g.Expect(f.tokens.all()).To(BeEmpty())
		})
	}
}

func TestDispatch_TokenOverwrite(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t)
	ctx := context.Background()

	p := newPeer("a", "203.0.113.1")
	f.hub.Register(ctx, p)

	f.hub.Dispatch(ctx, p, []byte(`{"token":"first","name":"alice"}`))
	f.clock.Advance(time.Minute)
	f.hub.Dispatch(ctx, p, []byte(`{"token":"second","name":"alice"}`))
	f.hub.Dispatch(ctx, p, []byte(`{"token":"anon"}`))

	all, err := f.stores.Tokens.All()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(all).To(HaveLen(2))
	g.Expect(all["alice"]).To(Equal(store.TokenRecord{
		Token:     "second",
		Name:      "alice",
		IP:        "203.0.113.1",
		Timestamp: "2026-03-01T10:01:00Z",
	}))
	g.Expect(all["203.0.113.1"].Token).To(Equal("anon"))
	g.Expect(f.tokens.all()).To(HaveLen(3))
	g.Expect(f.notify.all()).To(BeEmpty())
	g.Expect(p.messages()).To(BeEmpty())
}

func TestDispatch_Manifest(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t)
	ctx := context.Background()

	p := newPeer("a", "203.0.113.1")
	f.hub.Register(ctx, p)

	f.hub.Dispatch(ctx, p, []byte(`{"getfiles":true}`))
	g.Expect(p.messages()).To(Equal([]string{`{"manifest":[],"modfills":[]}`}))

	f.hub.Dispatch(ctx, p, []byte(`{"files":[
		{"attachment":{"id":"1"},"timestamp":"2026-01-01T00:00:00Z"},
		{"attachment":{"id":"2"},"timestamp":"2026-02-01T00:00:00Z"},
		{"timestamp":"2026-03-01T00:00:00Z"}
	]}`))
	f.hub.Dispatch(ctx, p, []byte(`{"files":"not a list"}`))

	list, err := f.stores.Manifest.List()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(list).To(HaveLen(2))
	g.Expect(list[0].AttachmentID()).To(Equal("2"))
	g.Expect(list[1].AttachmentID()).To(Equal("1"))

	f.hub.Dispatch(ctx, p, []byte(`{"getfiles":1}`))
	msgs := p.messages()
	g.Expect(msgs).To(HaveLen(2))
	var reply struct {
		Manifest []store.FileEntry `json:"manifest"`
		Legacy   []store.FileEntry `json:"modfills"`
	}
	g.Expect(json.Unmarshal([]byte(msgs[1]), &reply)).To(Succeed())
	g.Expect(reply.Manifest).To(HaveLen(2))
	g.Expect(reply.Manifest[0].AttachmentID()).To(Equal("2"))
	g.Expect(reply.Legacy).To(Equal(reply.Manifest))
}

func TestHub_ConcurrentRegisterAndBroadcast(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	peers := make([]*fakePeer, 20)
	for i := range peers {
		peers[i] = newPeer(fmt.Sprintf("p%d", i), fmt.Sprintf("203.0.113.%d", i+1))
		wg.Add(1)
		go func(p *fakePeer) {
			defer wg.Done()
			f.hub.Register(ctx, p)
			f.hub.Broadcast(ctx, []byte(`{"x":1}`))
		}(peers[i])
	}
	wg.Wait()
	g.Expect(f.hub.Len()).To(Equal(20))

	for _, p := range peers[:10] {
		wg.Add(1)
		go func(p *fakePeer) {
			defer wg.Done()
			f.hub.Unregister(ctx, p)
		}(p)
	}
	wg.Wait()
	g.Expect(f.hub.Len()).To(Equal(10))

	// The last count each survivor saw is the final size.
	for _, p := range peers[10:] {
		msgs := p.messages()
		g.Expect(msgs).To(ContainElement(`{"user":10}`))
	}
}
