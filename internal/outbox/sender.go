// Package outbox is the send side of the delivery layer: every outbound
// message is recorded durably before it is transmitted, and replayed on each
// reconnect until the server acknowledges it.
package outbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bibekanandan892/peerchat/internal/bus"
	"github.com/bibekanandan892/peerchat/internal/metrics"
	"github.com/bibekanandan892/peerchat/internal/store"
	"github.com/bibekanandan892/peerchat/internal/wire"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// FrameSender transmits one tagged frame, best effort.
type FrameSender interface {
	Send(tag wire.Tag, payload string)
}

// Options tunes the outbox.
type Options struct {
	ReplayInterval   time.Duration // pause before each replayed entry
	Limit            int           // max entries kept; 0 disables the cap
	ClearAfterReplay bool          // bulk clear after every drain
}

// Queued is the payload of message.queued events.
type Queued struct {
	LocalID string `json:"local_id"`
	SentAt  int64  `json:"sent_at"`
	Sent    bool   `json:"sent"`
}

// Replayed is the payload of outbox.replayed events.
type Replayed struct {
	Count   int  `json:"count"`
	Cleared bool `json:"cleared"`
}

// Sender records and (re)transmits outbound messages.
type Sender struct {
	db      *store.DB
	tx      FrameSender
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	opts    Options
	now     func() time.Time

	clockMu    sync.Mutex
	lastSentAt int64

	drainMu sync.Mutex
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, tx FrameSender, b *bus.Bus, m *metrics.Metrics, opts Options, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:      db,
		tx:      tx,
		bus:     b,
		metrics: m,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
	}
}

// nextSentAt returns a send time unique among our own messages, since the
// send time keys the message row.
func (s *Sender) nextSentAt() int64 {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	ts := s.now().UnixMilli()
	if ts <= s.lastSentAt {
		ts = s.lastSentAt + 1
	}
	s.lastSentAt = ts
	return ts
}

// Enqueue records a new outbound message as Sending together with its outbox
// entry, and transmits it at once when connected. Blank text is a no-op and
// returns a nil message.
func (s *Sender) Enqueue(text, to, chatID string, connected bool) (*store.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	msg := &store.Message{
		SentAt:  s.nextSentAt(),
		LocalID: uuid.NewString(),
		ChatID:  chatID,
		Body:    text,
		Status:  store.StatusSending,
		FromMe:  true,
	}
	if err := s.db.InsertMessage(msg); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	s.bus.Emit(bus.KindMessageInserted, *msg)

	entry := store.OutboxEntry{
		LocalID:   msg.LocalID,
		Body:      text,
		Recipient: to,
		ChatID:    chatID,
		SentAt:    msg.SentAt,
	}
	if err := s.db.QueueOutbox(entry); err != nil {
		return nil, fmt.Errorf("queue outbox: %w", err)
	}
	s.trim()

	if connected {
		if err := s.transmit(entry); err != nil {
			return nil, err
		}
	} else {
		s.logger.Info("offline, message kept in outbox", zap.String("local_id", msg.LocalID))
	}
	s.bus.Emit(bus.KindMessageQueued, Queued{LocalID: msg.LocalID, SentAt: msg.SentAt, Sent: connected})
	return msg, nil
}

// Drain replays every outbox entry, pausing ReplayInterval before each send.
// Drains never overlap. The drain stops early when ctx ends or online
// reports the socket gone; entries not sent stay for the next drain.
func (s *Sender) Drain(ctx context.Context, online func() bool) (int, error) {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	entries, err := s.db.ListOutbox()
	if err != nil {
		return 0, fmt.Errorf("list outbox: %w", err)
	}

	limiter := rate.NewLimiter(rate.Every(s.opts.ReplayInterval), 1)
	limiter.Allow()

	sent := 0
	for _, e := range entries {
		if err := limiter.Wait(ctx); err != nil {
			return sent, err
		}
		if online != nil && !online() {
			s.logger.Info("drain interrupted, socket gone", zap.Int("sent", sent), zap.Int("pending", len(entries)-sent))
			break
		}
		if err := s.transmit(e); err != nil {
			return sent, err
		}
		sent++
	}

	cleared := false
	if s.opts.ClearAfterReplay && sent == len(entries) {
		if err := s.db.DeleteAllOutbox(); err != nil {
			return sent, fmt.Errorf("clear outbox: %w", err)
		}
		cleared = true
	}

	s.metrics.Replayed(sent)
	s.reportDepth()
	if len(entries) > 0 {
		s.logger.Info("outbox replayed", zap.Int("sent", sent), zap.Bool("cleared", cleared))
	}
	s.bus.Emit(bus.KindOutboxReplayed, Replayed{Count: sent, Cleared: cleared})
	return sent, nil
}

// Acknowledge drops the outbox entry of a delivered message.
func (s *Sender) Acknowledge(localID string) {
	if localID == "" {
		return
	}
	if _, err := s.db.DeleteOutbox(localID); err != nil {
		s.logger.Error("failed to delete outbox entry", zap.String("local_id", localID), zap.Error(err))
		return
	}
	s.reportDepth()
}

// AcknowledgeSentAt is Acknowledge keyed by send time.
func (s *Sender) AcknowledgeSentAt(sentAt int64) {
	if _, err := s.db.DeleteOutboxBySentAt(sentAt); err != nil {
		s.logger.Error("failed to delete outbox entry", zap.Int64("sent_at", sentAt), zap.Error(err))
		return
	}
	s.reportDepth()
}

func (s *Sender) transmit(e store.OutboxEntry) error {
	payload, err := wire.Encode(wire.SendMessage{Content: e.Body, ID: e.LocalID, To: e.Recipient, TS: e.SentAt})
	if err != nil {
		return fmt.Errorf("encode send: %w", err)
	}
	s.tx.Send(wire.Send, payload)
	if err := s.db.MarkOutboxAttempt(e.LocalID); err != nil {
		s.logger.Warn("failed to count attempt", zap.String("local_id", e.LocalID), zap.Error(err))
	}
	return nil
}

func (s *Sender) trim() {
	evicted, err := s.db.TrimOutbox(s.opts.Limit)
	if err != nil {
		s.logger.Error("failed to trim outbox", zap.Error(err))
	} else if evicted > 0 {
		s.logger.Warn("outbox full, evicted oldest entries", zap.Int64("evicted", evicted), zap.Int("limit", s.opts.Limit))
	}
	s.reportDepth()
}

func (s *Sender) reportDepth() {
	if n, err := s.db.CountOutbox(); err == nil {
		s.metrics.OutboxDepth(n)
	}
}
