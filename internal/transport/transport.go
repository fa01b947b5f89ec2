// Package transport owns the single chat socket. It turns socket lifecycle
// and inbound text into one ordered stream of frames, with lifecycle folded
// in as wire pseudo frames.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bibekanandan892/peerchat/internal/bus"
	"github.com/bibekanandan892/peerchat/internal/credentials"
	"github.com/bibekanandan892/peerchat/internal/metrics"
	"github.com/bibekanandan892/peerchat/internal/status"
	"github.com/bibekanandan892/peerchat/internal/wire"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrMissingCredentials is returned by Connect when a required credential
// is empty.
var ErrMissingCredentials = credentials.ErrMissing

const (
	defaultBuffer    = 256
	defaultReadLimit = 1 << 20
)

// Options configures the transport.
type Options struct {
	URL          string // socket base, e.g. wss://host
	Endpoint     string
	UserAgent    string
	Subprotocol  string
	WriteTimeout time.Duration
	Buffer       int
	HTTPClient   *http.Client
}

// Frame is one item of the event stream. Gen identifies the connection that
// produced it; frames of a superseded connection are stale.
type Frame struct {
	Gen  uint64
	Text string
}

// Transport keeps at most one live connection. Connect supersedes any
// previous one.
type Transport struct {
	opts    Options
	state   *status.Machine
	metrics *metrics.Metrics
	logger  *zap.Logger
	events  chan Frame

	lifetime context.Context
	stop     context.CancelFunc

	mu     sync.Mutex
	gen    uint64
	conn   *websocket.Conn
	cancel context.CancelFunc
	live   bool
}

// New creates an idle transport.
func New(opts Options, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Transport{
		opts:     opts,
		state:    status.NewMachine(b),
		metrics:  m,
		logger:   logger,
		events:   make(chan Frame, opts.Buffer),
		lifetime: ctx,
		stop:     stop,
	}
}

// Events is the ordered stream of raw frames and pseudo frames.
func (t *Transport) Events() <-chan Frame { return t.events }

// State returns the socket state.
func (t *Transport) State() status.State { return t.state.Current() }

// Stale reports whether f was produced by a connection that has since been
// superseded or disposed.
func (t *Transport) Stale(f Frame) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return f.Gen != t.gen
}

// BuildURL assembles the socket URL for one connection attempt.
func BuildURL(base, endpoint, sessionID string, creds credentials.Credentials) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(base, "/") + "/" + strings.Trim(endpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	q := url.Values{}
	q.Set("session-id", sessionID)
	q.Set("devid", creds.DeviceID)
	q.Set("token", creds.Token)
	q.Set("auth", creds.Auth)
	q.Set("udid", creds.UserID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect starts a new connection in the background and returns at once.
// Completion is reported on Events as OnOpen or OnFailure.
func (t *Transport) Connect(creds credentials.Credentials) error {
	if err := creds.Validate(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	target, err := BuildURL(t.opts.URL, t.opts.Endpoint, uuid.NewString(), creds)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.lifetime.Err() != nil {
		t.mu.Unlock()
		return errors.New("transport closed")
	}
	old := t.detachLocked()
	t.gen++
	gen := t.gen
	ctx, cancel := context.WithCancel(t.lifetime)
	t.cancel = cancel
	t.live = true
	t.transitionLocked(status.Connecting)
	t.mu.Unlock()

	if old != nil {
		_ = old.CloseNow()
	}
	t.logger.Info("connecting", zap.Uint64("gen", gen), zap.String("endpoint", t.opts.Endpoint))
	go t.run(ctx, gen, target)
	return nil
}

// Send writes one tagged frame. Without an open socket it is dropped.
func (t *Transport) Send(tag wire.Tag, payload string) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		t.logger.Debug("send dropped, socket not open", zap.String("tag", tag.Name))
		return
	}

	ctx, cancel := context.WithTimeout(t.lifetime, t.opts.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(wire.BuildFrame(tag, payload))); err != nil {
		t.logger.Warn("send failed", zap.String("tag", tag.Name), zap.Error(err))
		return
	}
	t.metrics.FrameOut(tag.Name)
	t.logger.Debug("frame out", zap.String("tag", tag.Name), zap.String("payload", payload))
}

// Dispose cancels any connection or connect attempt. OnClosed is emitted if
// something was live.
func (t *Transport) Dispose() {
	t.mu.Lock()
	wasLive := t.live
	conn := t.detachLocked()
	t.gen++
	gen := t.gen
	if wasLive {
		t.transitionLocked(status.Closed)
	}
	t.mu.Unlock()

	if conn != nil {
		_ = conn.CloseNow()
	}
	if wasLive {
		t.logger.Info("disposed")
		// The engine loop may be the caller and the only consumer.
		go t.emit(gen, wire.OnClosed.Route)
	}
}

// Close disposes the connection and stops the transport for good.
func (t *Transport) Close() {
	t.Dispose()
	t.stop()
}

func (t *Transport) detachLocked() *websocket.Conn {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	conn := t.conn
	t.conn = nil
	t.live = false
	return conn
}

func (t *Transport) transitionLocked(to status.State) {
	if err := t.state.Transition(to); err != nil {
		t.logger.Debug("socket state", zap.Error(err))
	}
}

func (t *Transport) run(ctx context.Context, gen uint64, target string) {
	header := http.Header{}
	if t.opts.UserAgent != "" {
		header.Set("User-Agent", t.opts.UserAgent)
	}
	opts := &websocket.DialOptions{HTTPHeader: header, HTTPClient: t.opts.HTTPClient}
	if t.opts.Subprotocol != "" {
		opts.Subprotocols = []string{t.opts.Subprotocol}
	}

	conn, _, err := websocket.Dial(ctx, target, opts)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.logger.Warn("dial failed", zap.Uint64("gen", gen), zap.Error(err))
		t.finish(gen, status.Failed, wire.FailureFrame(err.Error()))
		return
	}
	conn.SetReadLimit(defaultReadLimit)

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		_ = conn.CloseNow()
		return
	}
	t.conn = conn
	t.transitionLocked(status.Open)
	t.mu.Unlock()

	t.logger.Info("socket open", zap.Uint64("gen", gen))
	t.emit(gen, wire.OnOpen.Route)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if code := websocket.CloseStatus(err); code != -1 {
				t.logger.Info("socket closed by peer", zap.Int("code", int(code)))
				t.setState(gen, status.Closing)
				t.emit(gen, wire.OnClosing.Route)
				t.finish(gen, status.Closed, wire.OnClosed.Route)
				return
			}
			t.logger.Warn("socket read failed", zap.Error(err))
			t.finish(gen, status.Failed, wire.FailureFrame(err.Error()))
			return
		}
		t.emit(gen, string(data))
	}
}

func (t *Transport) setState(gen uint64, to status.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen == t.gen {
		t.transitionLocked(to)
	}
}

// finish retires connection gen and reports why.
func (t *Transport) finish(gen uint64, to status.State, frame string) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.live = false
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.transitionLocked(to)
	t.mu.Unlock()
	t.emit(gen, frame)
}

func (t *Transport) emit(gen uint64, text string) {
	select {
	case t.events <- Frame{Gen: gen, Text: text}:
	case <-t.lifetime.Done():
	}
}
