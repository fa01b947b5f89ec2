// Package sync is the protocol engine: one event loop that consumes the
// socket's frame stream and user intents, drives the pairing state machine,
// stores inbound messages and reconciles delivery acknowledgments.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/bibekanandan892/peerchat/internal/bus"
	"github.com/bibekanandan892/peerchat/internal/credentials"
	"github.com/bibekanandan892/peerchat/internal/match"
	"github.com/bibekanandan892/peerchat/internal/metrics"
	"github.com/bibekanandan892/peerchat/internal/outbox"
	"github.com/bibekanandan892/peerchat/internal/status"
	"github.com/bibekanandan892/peerchat/internal/store"
	"github.com/bibekanandan892/peerchat/internal/transport"
	"github.com/bibekanandan892/peerchat/internal/wire"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// ErrStopped is returned for intents submitted after the engine stopped.
var ErrStopped = errors.New("engine stopped")

// Transport is the socket the engine drives.
type Transport interface {
	Connect(creds credentials.Credentials) error
	Send(tag wire.Tag, payload string)
	Dispose()
	Events() <-chan transport.Frame
	Stale(f transport.Frame) bool
	State() status.State
}

// CredentialSource supplies the identity for each connect.
type CredentialSource interface {
	Credentials() (credentials.Credentials, error)
}

// ReconnectPolicy bounds automatic reconnects. A zero MaxElapsed retries
// forever.
type ReconnectPolicy struct {
	Enabled         bool
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// Snapshot is the engine state as seen from outside the loop.
type Snapshot struct {
	Connected    bool           `json:"connected"`
	Socket       status.State   `json:"socket"`
	Match        match.Snapshot `json:"match"`
	Reconnecting bool           `json:"reconnecting"`
	Exited       bool           `json:"exited"`
}

type intentKind int

const (
	intentSend intentKind = iota
	intentAccept
	intentRematch
	intentExit
	intentConnectivity
	intentReconnect
	intentConnect
)

func (k intentKind) String() string {
	switch k {
	case intentSend:
		return "send"
	case intentAccept:
		return "accept"
	case intentRematch:
		return "rematch"
	case intentExit:
		return "exit"
	case intentConnectivity:
		return "connectivity"
	case intentReconnect:
		return "reconnect"
	case intentConnect:
		return "connect"
	}
	return "unknown"
}

type intent struct {
	kind      intentKind
	text      string
	available bool
	attempt   uint64
	reply     chan result
}

type result struct {
	msg *store.Message
	err error
}

// Engine owns the pairing session and connection flag. All mutation happens
// on its loop goroutine.
type Engine struct {
	db         *store.DB
	tx         Transport
	sender     *outbox.Sender
	reconciler *Reconciler
	creds      CredentialSource
	bus        *bus.Bus
	metrics    *metrics.Metrics
	logger     *zap.Logger
	policy     ReconnectPolicy
	now        func() time.Time

	intents chan intent
	done    chan struct{}
	cancel  context.CancelFunc
	runCtx  context.Context
	drains  gosync.WaitGroup

	// Loop-owned.
	session          *match.Session
	connected        bool
	exited           bool
	networkDown      bool
	backoff          *backoff.ExponentialBackOff
	reconnectSince   time.Time
	reconnectPending bool
	reconnectAttempt uint64
	reconnectTimer   *time.Timer

	// online mirrors connected for the drain goroutines.
	online atomic.Bool

	mu   gosync.RWMutex
	snap Snapshot
}

// NewEngine creates a new protocol engine.
func NewEngine(
	db *store.DB,
	tx Transport,
	sender *outbox.Sender,
	reconciler *Reconciler,
	creds CredentialSource,
	b *bus.Bus,
	m *metrics.Metrics,
	policy ReconnectPolicy,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if b == nil {
		b = bus.New()
	}
	bo := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		bo.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		bo.MaxInterval = policy.MaxInterval
	}
	e := &Engine{
		db:         db,
		tx:         tx,
		sender:     sender,
		reconciler: reconciler,
		creds:      creds,
		bus:        b,
		metrics:    m,
		logger:     logger,
		policy:     policy,
		now:        time.Now,
		intents:    make(chan intent, 64),
		done:       make(chan struct{}),
		session:    match.NewSession(),
		backoff:    bo,
	}
	e.snap = Snapshot{Match: e.session.Snapshot()}
	return e
}

// Start runs the loop and opens the first connection.
func (e *Engine) Start(ctx context.Context) {
	e.runCtx, e.cancel = context.WithCancel(ctx)
	go e.loop(e.runCtx)
	e.post(intent{kind: intentConnect})
}

// Stop ends the loop and waits for in-flight drains.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.drains.Wait()
}

// Snapshot returns the latest published state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	snap := e.snap
	e.mu.RUnlock()
	snap.Socket = e.tx.State()
	return snap
}

// Connected reports whether the socket is up as far as the loop knows.
func (e *Engine) Connected() bool {
	return e.online.Load()
}

func (e *Engine) setConnected(v bool) {
	e.connected = v
	e.online.Store(v)
}

// SendMessage composes a message to the current peer. Blank text returns a
// nil message and no error.
func (e *Engine) SendMessage(ctx context.Context, text string) (*store.Message, error) {
	res, err := e.submit(ctx, intent{kind: intentSend, text: text})
	if err != nil {
		return nil, err
	}
	return res.msg, res.err
}

// Accept is the local accept click.
func (e *Engine) Accept(ctx context.Context) error {
	return e.do(ctx, intent{kind: intentAccept})
}

// Rematch drops the current pairing and looks for a new one, reconnecting
// if needed.
func (e *Engine) Rematch(ctx context.Context) error {
	return e.do(ctx, intent{kind: intentRematch})
}

// Exit leaves the chat screen: an accepted chat rematches, anything else
// disposes the socket and stops reconnecting.
func (e *Engine) Exit(ctx context.Context) error {
	return e.do(ctx, intent{kind: intentExit})
}

// SetConnectivity feeds the network signal: available reconnects at once,
// unavailable disposes the socket.
func (e *Engine) SetConnectivity(ctx context.Context, available bool) error {
	return e.do(ctx, intent{kind: intentConnectivity, available: available})
}

// Messages returns the stored chat sorted by send time.
func (e *Engine) Messages() ([]store.Message, error) {
	msgs, err := e.db.ListMessages()
	if err != nil {
		return nil, err
	}
	sortMessages(msgs)
	return msgs, nil
}

// WatchMessages emits the sorted chat now and after every message change
// until ctx ends.
func (e *Engine) WatchMessages(ctx context.Context) <-chan []store.Message {
	out := make(chan []store.Message, 1)
	events, unsub := e.bus.Subscribe("message.", 64)

	go func() {
		defer close(out)
		defer unsub()

		emit := func() bool {
			msgs, err := e.Messages()
			if err != nil {
				e.logger.Error("failed to list messages", zap.Error(err))
				return true
			}
			select {
			case out <- msgs:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-events:
				// Coalesce bursts into one snapshot.
				for pending := true; pending; {
					select {
					case <-events:
					default:
						pending = false
					}
				}
				if !emit() {
					return
				}
			}
		}
	}()
	return out
}

func sortMessages(msgs []store.Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].SentAt < msgs[j].SentAt })
}

func (e *Engine) do(ctx context.Context, in intent) error {
	res, err := e.submit(ctx, in)
	if err != nil {
		return err
	}
	return res.err
}

func (e *Engine) submit(ctx context.Context, in intent) (result, error) {
	in.reply = make(chan result, 1)
	select {
	case e.intents <- in:
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-e.done:
		return result{}, ErrStopped
	}
	select {
	case res := <-in.reply:
		return res, nil
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-e.done:
		return result{}, ErrStopped
	}
}

// post queues an intent without waiting for it.
func (e *Engine) post(in intent) {
	select {
	case e.intents <- in:
	case <-e.done:
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	defer e.stopReconnectTimer()

	events := e.tx.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-events:
			if e.tx.Stale(f) {
				e.logger.Debug("dropping frame from superseded connection")
				continue
			}
			e.handleFrame(f.Text)
		case in := <-e.intents:
			res := e.handleIntent(in)
			if in.reply != nil {
				in.reply <- res
			}
		}
		e.publishSnapshot()
	}
}

func (e *Engine) handleFrame(frame string) {
	tag, ok := wire.Classify(frame)
	if !ok {
		e.logger.Warn("unknown frame", zap.String("frame", frame))
		return
	}

	switch tag {
	case wire.OnOpen:
		e.onOpen()
		return
	case wire.OnClosing:
		e.logger.Debug("socket closing")
		return
	case wire.OnClosed:
		e.onDisconnected("closed")
		return
	case wire.OnFailure:
		reason := wire.FailureReason(frame)
		e.bus.Emit(bus.KindConnFailed, reason)
		e.onDisconnected(reason)
		return
	}

	e.metrics.FrameIn(tag.Name)
	payload, err := wire.ExtractPayload(tag, frame)
	if err != nil {
		e.dropFrame(tag, err)
		return
	}
	e.logger.Debug("frame in", zap.String("tag", tag.Name), zap.String("payload", payload))

	switch tag {
	case wire.Matched:
		m, err := wire.DecodeMatched(payload)
		if err != nil {
			e.dropFrame(tag, err)
			return
		}
		e.apply(e.session.OnMatched(m))
	case wire.Leave:
		e.logger.Info("peer left, rematching")
		e.apply(e.session.Reset())
	case wire.Message:
		m, err := wire.DecodeMessage(payload)
		if err != nil {
			e.dropFrame(tag, err)
			return
		}
		e.receive(m)
	case wire.Ack:
		u, err := wire.DecodeAck(payload)
		if err != nil {
			e.dropFrame(tag, err)
			return
		}
		if _, err := e.reconciler.ApplyAck(u); err != nil {
			e.logger.Error("failed to apply ack", zap.String("ref", u.Ref), zap.Error(err))
		}
	case wire.Seen:
		u, err := wire.DecodeSeen(payload)
		if err != nil {
			e.dropFrame(tag, err)
			return
		}
		if _, err := e.reconciler.ApplySeen(u); err != nil {
			e.logger.Error("failed to apply seen", zap.Error(err))
		}
	default:
		e.logger.Debug("ignored frame", zap.String("tag", tag.Name))
	}
}

func (e *Engine) dropFrame(tag wire.Tag, err error) {
	e.metrics.DecodeError(tag.Name)
	e.logger.Warn("dropping undecodable frame", zap.String("tag", tag.Name), zap.Error(err))
}

func (e *Engine) onOpen() {
	e.setConnected(true)
	e.reconnectSince = time.Time{}
	e.backoff.Reset()
	e.stopReconnectTimer()
	e.logger.Info("connected")

	if e.session.State() == match.Matching {
		e.sendMatch()
	}

	e.drains.Add(1)
	go func() {
		defer e.drains.Done()
		n, err := e.sender.Drain(e.runCtx, e.Connected)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				e.logger.Error("outbox drain failed", zap.Error(err))
			}
			return
		}
		if err := e.reconciler.RecordReplay(e.now(), n); err != nil {
			e.logger.Warn("failed to record replay checkpoint", zap.Error(err))
		}
	}()
}

func (e *Engine) onDisconnected(reason string) {
	wasConnected := e.connected
	e.setConnected(false)
	if e.exited || e.networkDown {
		e.logger.Info("socket released", zap.String("reason", reason))
		return
	}
	if wasConnected {
		e.logger.Info("disconnected", zap.String("reason", reason))
	} else {
		e.logger.Warn("connect failed", zap.String("reason", reason))
	}
	e.scheduleReconnect()
}

func (e *Engine) receive(m wire.InboundMessage) {
	sentAt := m.TS
	if sentAt == 0 {
		sentAt = e.now().UnixMilli()
	}
	sender := e.session.Snapshot().PeerID
	if sender == "" {
		sender = m.By
	}
	rec := store.Message{
		SentAt:     sentAt,
		LocalID:    m.ID,
		ChatID:     m.ChatID,
		SenderName: sender,
		Body:       m.Content,
		Status:     store.StatusNone,
	}
	if err := e.db.InsertMessage(&rec); err != nil {
		e.logger.Error("failed to store inbound message", zap.String("id", m.ID), zap.Error(err))
		return
	}
	e.bus.Emit(bus.KindMessageInserted, rec)

	if m.ID == "" {
		return
	}
	e.sendPayload(wire.Ack, wire.AckRequest{ID: e.now().UnixMilli(), Ref: m.ID, Status: wire.StatusRead})
}

func (e *Engine) handleIntent(in intent) result {
	e.logger.Debug("intent", zap.Stringer("kind", in.kind))
	switch in.kind {
	case intentSend:
		snap := e.session.Snapshot()
		msg, err := e.sender.Enqueue(in.text, snap.PeerID, snap.ChatID, e.connected)
		return result{msg: msg, err: err}
	case intentAccept:
		e.apply(e.session.Accept())
	case intentRematch:
		e.exited = false
		e.apply(e.session.Reset())
		if e.idle() {
			return result{err: e.connectNow()}
		}
	case intentExit:
		if e.session.State() == match.Accepted {
			e.apply(e.session.Reset())
			return result{}
		}
		e.exited = true
		e.stopReconnectTimer()
		e.session = match.NewSession()
		e.publishMatch()
		e.dispose()
	case intentConnectivity:
		return result{err: e.setConnectivity(in.available)}
	case intentConnect:
		if e.exited || !e.idle() {
			return result{}
		}
		if err := e.connectNow(); err != nil {
			e.logger.Warn("connect failed", zap.Error(err))
			return result{err: err}
		}
	case intentReconnect:
		if in.attempt != e.reconnectAttempt {
			return result{}
		}
		e.reconnectPending = false
		if !e.shouldReconnect() || e.connected {
			return result{}
		}
		e.metrics.Reconnect()
		if err := e.connect(); err != nil {
			e.logger.Warn("reconnect failed", zap.Error(err))
			e.scheduleReconnect()
			return result{err: err}
		}
	}
	return result{}
}

func (e *Engine) setConnectivity(available bool) error {
	if !available {
		e.networkDown = true
		e.logger.Info("network unavailable")
		e.stopReconnectTimer()
		e.dispose()
		return nil
	}
	e.networkDown = false
	e.logger.Info("network available")
	if e.exited || !e.idle() {
		return nil
	}
	return e.connectNow()
}

// dispose drops the socket on the engine's own initiative. The connection
// is gone as of now, not when the resulting OnClosed frame is processed.
func (e *Engine) dispose() {
	e.setConnected(false)
	e.tx.Dispose()
}

// idle reports that no socket is open or being opened.
func (e *Engine) idle() bool {
	return !e.connected && e.tx.State() != status.Connecting
}

// connectNow resets the backoff and connects immediately.
func (e *Engine) connectNow() error {
	e.stopReconnectTimer()
	e.backoff.Reset()
	e.reconnectSince = time.Time{}
	if err := e.connect(); err != nil {
		e.scheduleReconnect()
		return err
	}
	return nil
}

func (e *Engine) connect() error {
	creds, err := e.creds.Credentials()
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	return e.tx.Connect(creds)
}

func (e *Engine) shouldReconnect() bool {
	return e.policy.Enabled && !e.exited && !e.networkDown
}

func (e *Engine) scheduleReconnect() {
	if !e.shouldReconnect() || e.reconnectPending {
		return
	}
	now := e.now()
	if e.reconnectSince.IsZero() {
		e.reconnectSince = now
	}
	if e.policy.MaxElapsed > 0 && now.Sub(e.reconnectSince) > e.policy.MaxElapsed {
		e.logger.Warn("giving up reconnecting", zap.Duration("elapsed", now.Sub(e.reconnectSince)))
		return
	}
	delay := e.backoff.NextBackOff()
	if delay == backoff.Stop {
		return
	}

	e.reconnectAttempt++
	attempt := e.reconnectAttempt
	e.reconnectPending = true
	e.reconnectTimer = time.AfterFunc(delay, func() {
		e.post(intent{kind: intentReconnect, attempt: attempt})
	})
	e.logger.Info("reconnect scheduled", zap.Duration("in", delay), zap.Uint64("attempt", attempt))
}

func (e *Engine) stopReconnectTimer() {
	if e.reconnectTimer != nil {
		e.reconnectTimer.Stop()
		e.reconnectTimer = nil
	}
	e.reconnectPending = false
	e.reconnectAttempt++
}

// apply runs match effects in order: clear, then send.
func (e *Engine) apply(eff match.Effects) {
	if eff.ClearMessages {
		if err := e.db.DeleteAllMessages(); err != nil {
			e.logger.Error("failed to clear messages", zap.Error(err))
		} else {
			e.bus.Emit(bus.KindMessageCleared, nil)
		}
	}
	if eff.SendMatch && e.connected {
		e.sendMatch()
	}
	if eff.SendAccept != nil {
		e.sendPayload(wire.Accept, *eff.SendAccept)
	}
	if eff.Changed {
		e.publishMatch()
	}
}

func (e *Engine) sendMatch() {
	e.sendPayload(wire.Match, wire.DefaultMatchRequest)
}

func (e *Engine) sendPayload(tag wire.Tag, v any) {
	payload, err := wire.Encode(v)
	if err != nil {
		e.logger.Error("failed to encode payload", zap.String("tag", tag.Name), zap.Error(err))
		return
	}
	e.tx.Send(tag, payload)
}

func (e *Engine) publishMatch() {
	snap := e.session.Snapshot()
	e.logger.Info("match state", zap.String("state", string(snap.State)), zap.String("chat_id", snap.ChatID))
	e.bus.Emit(bus.KindMatchStateChanged, snap)
}

func (e *Engine) publishSnapshot() {
	e.mu.Lock()
	e.snap = Snapshot{
		Connected:    e.connected,
		Match:        e.session.Snapshot(),
		Reconnecting: e.reconnectPending,
		Exited:       e.exited,
	}
	e.mu.Unlock()
}
