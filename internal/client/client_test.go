package client

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"skillrelay/internal/config"
	"skillrelay/internal/localbus"
	"skillrelay/internal/protocol"
	"skillrelay/internal/relay"
)

type recorded struct {
	connected    chan ConnectInfo
	disconnected chan DisconnectInfo
	welcome      chan protocol.Welcome
	joins        chan protocol.Peer
	leaves       chan string
	states       chan protocol.PeerState
	emotes       chan protocol.PeerEmote
	notices      chan protocol.ServerNotice
}

func newRecorded() *recorded {
	return &recorded{
		connected:    make(chan ConnectInfo, 64),
		disconnected: make(chan DisconnectInfo, 64),
		welcome:      make(chan protocol.Welcome, 64),
		joins:        make(chan protocol.Peer, 64),
		leaves:       make(chan string, 64),
		states:       make(chan protocol.PeerState, 64),
		emotes:       make(chan protocol.PeerEmote, 64),
		notices:      make(chan protocol.ServerNotice, 64),
	}
}

func (r *recorded) handlers() Handlers {
	return Handlers{
		OnConnected:     func(c ConnectInfo) { r.connected <- c },
		OnDisconnected:  func(d DisconnectInfo) { r.disconnected <- d },
		OnWelcome:       func(w protocol.Welcome) { r.welcome <- w },
		OnPeerJoin:      func(p protocol.Peer) { r.joins <- p },
		OnPeerLeave:     func(id string) { r.leaves <- id },
		OnPeerState:     func(s protocol.PeerState) { r.states <- s },
		OnPeerEmote:     func(e protocol.PeerEmote) { r.emotes <- e },
		OnServerMessage: func(n protocol.ServerNotice) { r.notices <- n },
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		var zero T
		t.Fatalf("timed out waiting for %T", zero)
		return zero
	}
}

func expectNone[T any](t *testing.T, ch <-chan T, d time.Duration) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected %T: %+v", v, v)
	case <-time.After(d):
	}
}

func newLocal(t *testing.T, bus localbus.Bus, name string) (*Client, *recorded) {
	t.Helper()
	rec := newRecorded()
	c := New(Config{Room: "Grove", Name: name, FallbackLocal: true, Bus: bus}, rec.handlers())
	t.Cleanup(c.Close)
	return c, rec
}

func TestLocalFallbackPeers(t *testing.T) {
	bus := localbus.NewMemory()
	a, ra := newLocal(t, bus, "A")
	a.Connect()
	ca := recv(t, ra.connected)
	if ca.ID == "" || ca.Room != "grove" {
		t.Fatalf("connected = %+v", ca)
	}
	if w := recv(t, ra.welcome); len(w.Peers) != 0 {
		t.Fatalf("local welcome peers = %+v", w.Peers)
	}
	if a.State() != LocalFallback || !a.IsConnected() || a.LocalID() != ca.ID {
		t.Fatalf("state=%v connected=%v id=%q", a.State(), a.IsConnected(), a.LocalID())
	}

	b, rb := newLocal(t, bus, "B")
	b.Connect()
	cb := recv(t, rb.connected)

	if p := recv(t, ra.joins); p.ID != cb.ID || p.Name != "B" {
		t.Fatalf("A saw join %+v", p)
	}
	if p := recv(t, rb.joins); p.ID != ca.ID || p.Name != "A" {
		t.Fatalf("B saw join %+v", p)
	}

	b.SendState(protocol.PlayerState{X: 1, Z: 2, Tool: "axe", Moving: true})
	st := recv(t, ra.states)
	if st.ID != cb.ID || st.State == nil || st.State.X != 1 || st.State.Tool != "axe" {
		t.Fatalf("A saw state %+v", st)
	}

	name := "Bee"
	b.UpdateProfile(protocol.Profile{Name: &name})
	if st := recv(t, ra.states); st.Name != "Bee" || st.State == nil || st.State.X != 1 {
		t.Fatalf("A saw profile %+v", st)
	}

	b.SendEmote("  wave  ")
	if e := recv(t, ra.emotes); e.ID != cb.ID || e.Emoji != "wave" {
		t.Fatalf("A saw emote %+v", e)
	}

	b.Disconnect()
	if id := recv(t, ra.leaves); id != cb.ID {
		t.Fatalf("A saw leave %q want %q", id, cb.ID)
	}
	if d := recv(t, rb.disconnected); d.Reconnecting || !d.HadConnection {
		t.Fatalf("B disconnect info %+v", d)
	}

	expectNone(t, rb.states, 50*time.Millisecond)
}

func TestLocalAckOnlyForAddressee(t *testing.T) {
	bus := localbus.NewMemory()
	a, ra := newLocal(t, bus, "A")
	a.Connect()
	self := recv(t, ra.connected).ID

	publish := func(env localEnvelope) {
		env.Room = "grove"
		env.TS = time.Now().UnixMilli()
		b, _ := json.Marshal(env)
		bus.Publish(LocalChannel("grove"), b)
	}
	publish(localEnvelope{Type: localHelloAck, From: "x", To: "someone-else", Name: "X"})
	publish(localEnvelope{Type: localState, From: self, Name: "echo"})
	publish(localEnvelope{Type: localHelloAck, From: "y", To: self, Name: "Y"})

	if p := recv(t, ra.joins); p.ID != "y" {
		t.Fatalf("join = %+v, want y", p)
	}
	expectNone(t, ra.states, 50*time.Millisecond)
}

func TestSendStateThrottle(t *testing.T) {
	bus := localbus.NewMemory()
	rec := newRecorded()
	c := New(Config{Room: "main", FallbackLocal: true, Bus: bus, SendInterval: 60 * time.Millisecond}, rec.handlers())
	t.Cleanup(c.Close)
	c.Connect()
	recv(t, rec.connected)

	frames := make(chan localEnvelope, 64)
	cancel := bus.Subscribe(LocalChannel("main"), func(b []byte) {
		var env localEnvelope
		if json.Unmarshal(b, &env) == nil && env.Type == localState {
			frames <- env
		}
	})
	defer cancel()

	for i := 0; i < 50; i++ {
		c.SendState(protocol.PlayerState{X: float64(i)})
	}

	first := recv(t, frames)
	if first.State == nil || first.State.X != 0 {
		t.Fatalf("leading frame = %+v", first.State)
	}
	trailing := recv(t, frames)
	if trailing.State == nil || trailing.State.X != 49 {
		t.Fatalf("trailing frame = %+v", trailing.State)
	}
	expectNone(t, frames, 150*time.Millisecond)
}

func TestLocalIDRegenerated(t *testing.T) {
	c, rec := newLocal(t, localbus.NewMemory(), "A")
	c.Connect()
	first := recv(t, rec.connected).ID
	c.Disconnect()
	recv(t, rec.disconnected)
	if c.LocalID() != "" || c.IsConnected() {
		t.Fatalf("after disconnect id=%q connected=%v", c.LocalID(), c.IsConnected())
	}
	c.Connect()
	if second := recv(t, rec.connected).ID; second == first {
		t.Fatalf("local id reused: %q", second)
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestRemoteRelaySession(t *testing.T) {
	hub := relay.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(relay.NewServer(hub, config.Defaults()).Router())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	ra := newRecorded()
	a := New(Config{URL: wsURL(srv), Room: "Dock", Name: "A"}, ra.handlers())
	t.Cleanup(a.Close)
	a.Connect()
	ca := recv(t, ra.connected)
	if ca.Room != "dock" || a.LocalID() != ca.ID || a.State() != Connected {
		t.Fatalf("A connected %+v state=%v", ca, a.State())
	}

	rb := newRecorded()
	b := New(Config{URL: wsURL(srv), Room: "dock", Name: "B", Color: "#123456"}, rb.handlers())
	t.Cleanup(b.Close)
	b.SendState(protocol.PlayerState{X: 4, Tool: "pickaxe"})
	b.Connect()
	cb := recv(t, rb.connected)
	w := recv(t, rb.welcome)
	if len(w.Peers) != 1 || w.Peers[0].ID != ca.ID {
		t.Fatalf("B welcome peers = %+v", w.Peers)
	}

	if p := recv(t, ra.joins); p.ID != cb.ID || p.Color != "#123456" {
		t.Fatalf("A saw join %+v", p)
	}
	// 连接前排队的状态在连接建立后立即发出
	if st := recv(t, ra.states); st.ID != cb.ID || st.State == nil || st.State.Tool != "pickaxe" {
		t.Fatalf("A saw state %+v", st)
	}

	b.SendEmote("hi")
	if e := recv(t, ra.emotes); e.ID != cb.ID || e.Emoji != "hi" || e.Name != "B" {
		t.Fatalf("A saw emote %+v", e)
	}

	if _, err := hub.Announce(context.Background(), "dock", "restart soon"); err != nil {
		t.Fatalf("announce: %v", err)
	}
	if n := recv(t, ra.notices); n.Text != "restart soon" {
		t.Fatalf("notice %+v", n)
	}

	b.Disconnect()
	if id := recv(t, ra.leaves); id != cb.ID {
		t.Fatalf("A saw leave %q", id)
	}
}

func TestRemoteSelfFilter(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		send := func(m protocol.ServerMessage) {
			b, _ := protocol.EncodeServer(m)
			_ = ws.WriteMessage(websocket.TextMessage, b)
		}
		send(protocol.Welcome{ID: "me", Room: "main", Peers: []protocol.Peer{{ID: "me"}, {ID: "p1"}}})
		send(protocol.PeerJoin{Peer: protocol.Peer{ID: "me"}})
		send(protocol.PeerState{ID: "me", Name: "echo"})
		send(protocol.PeerEmote{ID: "me", Emoji: "x"})
		send(protocol.PeerLeave{ID: "me"})
		send(protocol.PeerState{ID: "p1", Name: "other"})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := newRecorded()
	c := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, rec.handlers())
	t.Cleanup(c.Close)
	c.Connect()

	if w := recv(t, rec.welcome); len(w.Peers) != 1 || w.Peers[0].ID != "p1" {
		t.Fatalf("welcome peers = %+v", w.Peers)
	}
	if st := recv(t, rec.states); st.ID != "p1" {
		t.Fatalf("state from %q, want p1", st.ID)
	}
	expectNone(t, rec.joins, 30*time.Millisecond)
	expectNone(t, rec.emotes, 10*time.Millisecond)
	expectNone(t, rec.leaves, 10*time.Millisecond)
}

func TestFallbackWhenRelayUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	rec := newRecorded()
	c := New(Config{URL: url, FallbackLocal: true, Bus: localbus.NewMemory()}, rec.handlers())
	t.Cleanup(c.Close)
	c.Connect()

	if id := recv(t, rec.connected).ID; id == "" {
		t.Fatal("empty local id")
	}
	if c.State() != LocalFallback {
		t.Fatalf("state = %v", c.State())
	}
	expectNone(t, rec.disconnected, 30*time.Millisecond)
}

func TestDisconnectCancelsReconnect(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rec := newRecorded()
	c := New(Config{URL: wsURL(srv), ReconnectDelay: 20 * time.Millisecond}, rec.handlers())
	t.Cleanup(c.Close)
	c.Connect()

	for i := 0; i < 2; i++ {
		if d := recv(t, rec.disconnected); !d.Reconnecting || d.HadConnection {
			t.Fatalf("disconnect info %+v", d)
		}
	}
	c.Disconnect()
	n := hits.Load()
	time.Sleep(120 * time.Millisecond)
	if got := hits.Load(); got > n+1 {
		t.Fatalf("dials after Disconnect: %d -> %d", n, got)
	}
	if c.State() != Disconnected {
		t.Fatalf("state = %v", c.State())
	}
}

// startRelay 在 ln 上启动中继，返回的函数停止 hub 并关闭监听
func startRelay(t *testing.T, ln net.Listener) func() {
	t.Helper()
	hub := relay.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := &http.Server{Handler: relay.NewServer(hub, config.Defaults()).Router()}
	go srv.Serve(ln)
	var once atomic.Bool
	stop := func() {
		if once.Swap(true) {
			return
		}
		cancel()
		srv.Close()
	}
	t.Cleanup(stop)
	return stop
}

func TestReconnectAfterRelayDrop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	stop := startRelay(t, ln)

	rec := newRecorded()
	c := New(Config{
		URL:            "ws://" + addr + "/ws",
		Room:           "Dock",
		FallbackLocal:  true,
		Bus:            localbus.NewMemory(),
		ReconnectDelay: 20 * time.Millisecond,
	}, rec.handlers())
	t.Cleanup(c.Close)
	c.Connect()
	first := recv(t, rec.connected)
	recv(t, rec.welcome)

	stop()
	if d := recv(t, rec.disconnected); !d.Reconnecting || !d.HadConnection {
		t.Fatalf("disconnect info %+v", d)
	}
	// 重连拨号失败也不能切到本地总线
	time.Sleep(150 * time.Millisecond)
	if s := c.State(); s == LocalFallback {
		t.Fatalf("fell back to local after relay drop")
	}

	ln2, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	startRelay(t, ln2)

	again := recv(t, rec.connected)
	if again.Room != first.Room || again.ID == "" {
		t.Fatalf("reconnect info %+v (first %+v)", again, first)
	}
	recv(t, rec.welcome)
	if c.State() != Connected {
		t.Fatalf("state = %v", c.State())
	}
}

func TestNoTransportConfigured(t *testing.T) {
	rec := newRecorded()
	c := New(Config{}, rec.handlers())
	t.Cleanup(c.Close)
	c.Connect()
	c.SendState(protocol.PlayerState{X: 1})
	if c.IsConnected() || c.State() != Disconnected {
		t.Fatalf("state = %v", c.State())
	}
	expectNone(t, rec.connected, 30*time.Millisecond)
}
