package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/aria/internal/observability"
	"github.com/antoniostano/aria/internal/protocol"
	"github.com/antoniostano/aria/internal/reliability"
)

// State is the connection lifecycle phase. Transitions are owned by the run
// goroutine; everything else only reads.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConfiguring  State = "configuring"
	StateActive       State = "active"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// ErrClosed is returned once Close has been called; the client never
// reconnects after that.
var ErrClosed = errors.New("transport closed")

// Dispatcher receives every decoded inbound event.
type Dispatcher interface {
	Dispatch(ctx context.Context, event any) error
}

type Config struct {
	URL    string
	APIKey string
	Model  string

	// Session is replayed as session.update before any other outbound
	// traffic on every connection, first connect included.
	Session protocol.SessionConfig

	SendQueueDepth   int
	AudioQueueFrames int

	BackoffBase     time.Duration
	BackoffMax      time.Duration
	StabilityWindow time.Duration

	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration

	// Dialer overrides the websocket dialer, mainly for tests.
	Dialer *websocket.Dialer
}

// Client maintains one persistent websocket session with automatic
// reconnection. Outbound protocol messages go through a bounded blocking
// queue; outbound audio goes through a bounded lossy queue so a stalled
// socket sheds frames instead of stalling capture.
type Client struct {
	cfg        Config
	dispatcher Dispatcher
	metrics    *observability.Metrics

	sendQ  chan any
	audioQ chan string

	audioDropped atomic.Uint64

	stateMu sync.RWMutex
	state   State

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(cfg Config, dispatcher Dispatcher, metrics *observability.Metrics) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("transport: url is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("transport: dispatcher is required")
	}
	if cfg.SendQueueDepth <= 0 {
		cfg.SendQueueDepth = 32
	}
	if cfg.AudioQueueFrames <= 0 {
		cfg.AudioQueueFrames = 64
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = 8 * time.Second
	}
	if cfg.StabilityWindow <= 0 {
		cfg.StabilityWindow = 10 * time.Second
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 10 * time.Second
	}
	if cfg.KeepaliveTimeout <= cfg.KeepaliveInterval {
		cfg.KeepaliveTimeout = 2 * cfg.KeepaliveInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:        cfg,
		dispatcher: dispatcher,
		metrics:    metrics,
		sendQ:      make(chan any, cfg.SendQueueDepth),
		audioQ:     make(chan string, cfg.AudioQueueFrames),
		state:      StateDisconnected,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}, nil
}

// Start launches the connection manager. It returns immediately; the first
// connect happens in the background with the same backoff policy as
// reconnects.
func (c *Client) Start() {
	c.startOnce.Do(func() {
		go c.run()
	})
}

func (c *Client) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// Send enqueues one protocol message. It blocks while the queue is full so
// control traffic is never silently lost, and fails once the client closes.
func (c *Client) Send(ctx context.Context, msg any) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case c.sendQ <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// AppendAudio enqueues one base64 PCM frame for transmission. When the queue
// is full the frame is dropped and counted; capture must never block on the
// network.
func (c *Client) AppendAudio(frameBase64 string) bool {
	select {
	case c.audioQ <- frameBase64:
		if c.metrics != nil {
			c.metrics.QueueDepth.WithLabelValues("outbound_audio").Set(float64(len(c.audioQ)))
		}
		return true
	default:
		c.audioDropped.Add(1)
		if c.metrics != nil {
			c.metrics.FramesDropped.WithLabelValues("outbound").Inc()
		}
		return false
	}
}

// AudioDropped reports frames shed on the outbound queue since start.
func (c *Client) AudioDropped() uint64 {
	return c.audioDropped.Load()
}

func (c *Client) CommitInput(ctx context.Context) error {
	return c.Send(ctx, protocol.NewInputAudioCommit())
}

func (c *Client) CreateResponse(ctx context.Context) error {
	return c.Send(ctx, protocol.NewResponseCreate())
}

func (c *Client) CancelResponse(ctx context.Context, responseID string) error {
	return c.Send(ctx, protocol.NewResponseCancel(responseID))
}

// Close tears the connection down permanently. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
	})
	c.startOnce.Do(func() {
		// Never started; nothing is going to close done.
		c.setState(StateClosed)
		close(c.done)
	})
	<-c.done
	return nil
}

// Done is closed when the run loop has fully stopped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) run() {
	defer close(c.done)
	defer c.setState(StateClosed)

	attempt := 0
	everConnected := false
	for {
		if c.ctx.Err() != nil {
			return
		}
		if everConnected {
			c.setState(StateReconnecting)
		} else {
			c.setState(StateConnecting)
		}

		conn, err := c.dial()
		if err == nil {
			c.setState(StateConfiguring)
			// The session snapshot always goes out first so the server
			// state matches local expectations after every connect.
			err = conn.WriteJSON(protocol.NewSessionUpdate(c.cfg.Session))
			if err == nil {
				c.setState(StateActive)
				if everConnected && c.metrics != nil {
					c.metrics.Reconnections.Inc()
				}
				connectedAt := time.Now()
				everConnected = true

				c.serveConn(conn)

				if time.Since(connectedAt) >= c.cfg.StabilityWindow {
					attempt = 0
				}
			}
			conn.Close()
		}

		if c.ctx.Err() != nil {
			return
		}
		c.setState(StateReconnecting)
		delay := reliability.ExponentialBackoff(attempt, c.cfg.BackoffBase, c.cfg.BackoffMax)
		delay += time.Duration(rand.Int63n(int64(c.cfg.BackoffBase)/2 + 1))
		attempt++
		select {
		case <-time.After(delay):
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) dial() (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	if c.cfg.Model != "" {
		q := u.Query()
		q.Set("model", c.cfg.Model)
		u.RawQuery = q.Encode()
	}

	headers := http.Header{}
	if c.cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+c.cfg.APIKey)
		headers.Set("OpenAI-Beta", "realtime=v1")
	}

	dialer := c.cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	dialCtx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()
	conn, _, err := dialer.DialContext(dialCtx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial realtime websocket: %w", err)
	}
	return conn, nil
}

// serveConn runs the read and write loops for one connection and returns
// once either side fails or the client shuts down.
func (c *Client) serveConn(conn *websocket.Conn) {
	connDone := make(chan struct{})
	var failOnce sync.Once
	fail := func() {
		failOnce.Do(func() {
			close(connDone)
			conn.Close()
		})
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.KeepaliveTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.KeepaliveTimeout))
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(conn, connDone, fail)
	}()

	c.readLoop(conn)
	fail()
	wg.Wait()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		// Data frames count as liveness just like pongs.
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.KeepaliveTimeout))

		event, err := protocol.ParseServerEvent(raw)
		if err != nil {
			if c.metrics != nil {
				c.metrics.ProtocolErrors.Inc()
			}
			continue
		}
		eventType := protocol.TypeOf(event)
		if c.metrics != nil {
			c.metrics.EventsReceived.WithLabelValues(string(eventType)).Inc()
		}
		if err := c.dispatcher.Dispatch(c.ctx, event); err != nil {
			// A failing handler is isolated; the stream keeps flowing.
			if c.metrics != nil {
				c.metrics.HandlerErrors.WithLabelValues(string(eventType)).Inc()
			}
		}
	}
}

func (c *Client) writeLoop(conn *websocket.Conn, connDone <-chan struct{}, fail func()) {
	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-connDone:
			return
		case <-c.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			fail()
			return
		case msg := <-c.sendQ:
			// Frames appended before this message was enqueued must reach
			// the server first, or a commit would cut off the turn's tail
			// audio. Drain the audio queue before the protocol write.
			if err := c.drainAudio(conn); err != nil {
				fail()
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				fail()
				return
			}
		case frame := <-c.audioQ:
			if err := c.writeAudio(conn, frame); err != nil {
				fail()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				fail()
				return
			}
		}
	}
}

func (c *Client) writeAudio(conn *websocket.Conn, frame string) error {
	if err := conn.WriteJSON(protocol.NewInputAudioAppend(frame)); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.QueueDepth.WithLabelValues("outbound_audio").Set(float64(len(c.audioQ)))
	}
	return nil
}

// drainAudio flushes every frame already queued, without blocking on new ones.
func (c *Client) drainAudio(conn *websocket.Conn) error {
	for {
		select {
		case frame := <-c.audioQ:
			if err := c.writeAudio(conn, frame); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
