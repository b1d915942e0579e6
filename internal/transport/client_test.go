package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/aria/internal/protocol"
)

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(ctx context.Context, event any) error { return nil }

type recordingDispatcher struct {
	mu     sync.Mutex
	events []any
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, event any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *recordingDispatcher) snapshot() []any {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]any, len(d.events))
	copy(out, d.events)
	return out
}

// fakeServer accepts websocket connections and records every JSON message
// per connection.
type fakeServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*fakeConn
}

type fakeConn struct {
	ws       *websocket.Conn
	messages chan map[string]any
}

func newFakeServer(t *testing.T) *fakeServer {
	f := &fakeServer{t: t}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fc := &fakeConn{ws: ws, messages: make(chan map[string]any, 64)}
		f.mu.Lock()
		f.conns = append(f.conns, fc)
		f.mu.Unlock()
		for {
			var msg map[string]any
			if err := ws.ReadJSON(&msg); err != nil {
				close(fc.messages)
				return
			}
			fc.messages <- msg
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

// waitConn blocks until connection number n (0-based) exists.
func (f *fakeServer) waitConn(n int) *fakeConn {
	deadline := time.After(3 * time.Second)
	for {
		f.mu.Lock()
		if len(f.conns) > n {
			fc := f.conns[n]
			f.mu.Unlock()
			return fc
		}
		f.mu.Unlock()
		select {
		case <-deadline:
			f.t.Fatalf("connection %d never arrived", n)
			return nil
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (fc *fakeConn) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case msg, ok := <-fc.messages:
		if !ok {
			t.Fatal("connection closed before message arrived")
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func testConfig(url string) Config {
	return Config{
		URL: url,
		Session: protocol.SessionConfig{
			Voice:             "shimmer",
			Modalities:        []string{"audio", "text"},
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
		},
		SendQueueDepth:    8,
		AudioQueueFrames:  4,
		BackoffBase:       10 * time.Millisecond,
		BackoffMax:        50 * time.Millisecond,
		StabilityWindow:   time.Hour,
		KeepaliveInterval: 50 * time.Millisecond,
		KeepaliveTimeout:  2 * time.Second,
	}
}

func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for c.State() != want {
		select {
		case <-deadline:
			t.Fatalf("state = %s, want %s", c.State(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestClientSendsSessionConfigFirst(t *testing.T) {
	f := newFakeServer(t)
	c, err := NewClient(testConfig(f.url()), nopDispatcher{}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()
	c.Start()

	fc := f.waitConn(0)
	first := fc.next(t)
	if first["type"] != string(protocol.TypeSessionUpdate) {
		t.Fatalf("first message = %v, want session.update", first["type"])
	}

	if err := c.CommitInput(context.Background()); err != nil {
		t.Fatalf("CommitInput: %v", err)
	}
	second := fc.next(t)
	if second["type"] != string(protocol.TypeInputAudioCommit) {
		t.Fatalf("second message = %v, want input_audio_buffer.commit", second["type"])
	}
	waitState(t, c, StateActive)
}

func TestClientReconnectReplaysIdenticalConfig(t *testing.T) {
	f := newFakeServer(t)
	c, err := NewClient(testConfig(f.url()), nopDispatcher{}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()
	c.Start()

	fc := f.waitConn(0)
	firstConfig := fc.next(t)
	fc.ws.Close()

	fc2 := f.waitConn(1)
	replayed := fc2.next(t)
	if replayed["type"] != string(protocol.TypeSessionUpdate) {
		t.Fatalf("first message after reconnect = %v, want session.update", replayed["type"])
	}
	a, _ := json.Marshal(firstConfig)
	b, _ := json.Marshal(replayed)
	if string(a) != string(b) {
		t.Fatalf("replayed config differs:\n%s\n%s", a, b)
	}
	waitState(t, c, StateActive)
}

func TestClientQueuedSendSurvivesReconnect(t *testing.T) {
	f := newFakeServer(t)
	c, err := NewClient(testConfig(f.url()), nopDispatcher{}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()
	c.Start()

	fc := f.waitConn(0)
	fc.next(t)
	fc.ws.Close()

	// Enqueued while the connection is down; must appear on the next
	// connection after its session.update.
	if err := c.CreateResponse(context.Background()); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}

	fc2 := f.waitConn(1)
	if msg := fc2.next(t); msg["type"] != string(protocol.TypeSessionUpdate) {
		t.Fatalf("first = %v, want session.update", msg["type"])
	}
	if msg := fc2.next(t); msg["type"] != string(protocol.TypeResponseCreate) {
		t.Fatalf("second = %v, want response.create", msg["type"])
	}
}

func TestClientDispatchesInboundEvents(t *testing.T) {
	f := newFakeServer(t)
	d := &recordingDispatcher{}
	c, err := NewClient(testConfig(f.url()), d, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()
	c.Start()

	fc := f.waitConn(0)
	fc.next(t)

	payloads := []string{
		`{"type":"response.created","response":{"id":"resp_1"}}`,
		`{"not json`,
		`{"type":"something.new","x":1}`,
		`{"type":"response.audio.delta","response_id":"resp_1","delta":"AAAA"}`,
	}
	for _, p := range payloads {
		if err := fc.ws.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
			t.Fatalf("server write: %v", err)
		}
	}

	deadline := time.After(3 * time.Second)
	for len(d.snapshot()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("dispatched %d events, want 2", len(d.snapshot()))
		case <-time.After(5 * time.Millisecond):
		}
	}

	events := d.snapshot()
	if _, ok := events[0].(protocol.ResponseCreated); !ok {
		t.Errorf("events[0] = %T", events[0])
	}
	if _, ok := events[1].(protocol.ResponseAudioDelta); !ok {
		t.Errorf("events[1] = %T", events[1])
	}
	// The malformed and unknown payloads were skipped, not fatal.
	waitState(t, c, StateActive)
}

func TestClientAudioQueueDropsNewest(t *testing.T) {
	// Point at a dead endpoint so nothing drains the queue.
	cfg := testConfig("ws://127.0.0.1:1")
	c, err := NewClient(cfg, nopDispatcher{}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()

	for i := 0; i < cfg.AudioQueueFrames; i++ {
		if ok := c.AppendAudio("frame"); !ok {
			t.Fatalf("append %d rejected below capacity", i)
		}
	}
	for i := 0; i < 3; i++ {
		if ok := c.AppendAudio("overflow"); ok {
			t.Fatalf("append beyond capacity accepted")
		}
	}
	if got := c.AudioDropped(); got != 3 {
		t.Fatalf("AudioDropped = %d, want 3", got)
	}
}

func TestClientCommitFollowsQueuedAudio(t *testing.T) {
	f := newFakeServer(t)
	c, err := NewClient(testConfig(f.url()), nopDispatcher{}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()

	// Fill the audio queue and commit before the writer ever runs. Every
	// queued frame belongs to the turn being committed and must reach the
	// server before the commit does.
	for i := 0; i < 4; i++ {
		if ok := c.AppendAudio("frame"); !ok {
			t.Fatalf("append %d rejected below capacity", i)
		}
	}
	if err := c.CommitInput(context.Background()); err != nil {
		t.Fatalf("CommitInput: %v", err)
	}
	c.Start()

	fc := f.waitConn(0)
	if msg := fc.next(t); msg["type"] != string(protocol.TypeSessionUpdate) {
		t.Fatalf("first = %v, want session.update", msg["type"])
	}
	for i := 0; i < 4; i++ {
		msg := fc.next(t)
		if msg["type"] != string(protocol.TypeInputAudioAppend) {
			t.Fatalf("message %d = %v, want input_audio_buffer.append", i+1, msg["type"])
		}
	}
	if msg := fc.next(t); msg["type"] != string(protocol.TypeInputAudioCommit) {
		t.Fatalf("commit arrived before all queued frames: got %v", msg["type"])
	}
}

func TestClientCloseIsTerminal(t *testing.T) {
	f := newFakeServer(t)
	c, err := NewClient(testConfig(f.url()), nopDispatcher{}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.Start()
	f.waitConn(0)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitState(t, c, StateClosed)

	if err := c.Send(context.Background(), protocol.NewInputAudioCommit()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after close = %v, want ErrClosed", err)
	}

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Close")
	}

	// Idempotent.
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestClientCloseWithoutStart(t *testing.T) {
	c, err := NewClient(testConfig("ws://127.0.0.1:1"), nopDispatcher{}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close without Start hangs")
	}
}
