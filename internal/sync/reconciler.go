package sync

import (
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/bibekanandan892/peerchat/internal/bus"
	"github.com/bibekanandan892/peerchat/internal/store"
	"github.com/bibekanandan892/peerchat/internal/wire"
	"go.uber.org/zap"
)

// Checkpoint keys kept in sync_state.
const (
	CheckpointLastReplayAt    = "outbox.last_replay_at"
	CheckpointLastReplayCount = "outbox.last_replay_count"
)

// Acknowledger retires outbox entries once the server confirms delivery.
type Acknowledger interface {
	Acknowledge(localID string)
	AcknowledgeSentAt(sentAt int64)
}

// StatusChanged is the payload of message.status_changed events.
type StatusChanged struct {
	LocalID string               `json:"local_id,omitempty"`
	SentAt  int64                `json:"sent_at,omitempty"`
	Status  store.DeliveryStatus `json:"status"`
}

// Reconciler applies server acknowledgments to stored messages and keeps
// sync checkpoints.
type Reconciler struct {
	db     *store.DB
	acks   Acknowledger
	bus    *bus.Bus
	logger *zap.Logger
}

// NewReconciler creates a new reconciler. acks may be nil.
func NewReconciler(db *store.DB, acks Acknowledger, b *bus.Bus, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, acks: acks, bus: b, logger: logger}
}

// ApplyAck advances the status of the message an ack refers to and retires
// its outbox entry. Reports whether the stored status moved.
func (r *Reconciler) ApplyAck(u wire.AckUpdate) (bool, error) {
	status := store.ParseDeliveryStatus(u.Status)
	changed, err := r.db.UpdateStatusByLocalID(u.Ref, status)
	if err != nil {
		return false, err
	}
	if r.acks != nil {
		r.acks.Acknowledge(u.Ref)
	}
	if changed {
		r.bus.Emit(bus.KindMessageStatusChanged, StatusChanged{LocalID: u.Ref, Status: status})
	} else {
		r.logger.Debug("ack did not advance status", zap.String("ref", u.Ref), zap.String("status", u.Status))
	}
	return changed, nil
}

// ApplySeen marks the referenced message as sent, by id or by send time.
func (r *Reconciler) ApplySeen(u wire.SeenUpdate) (bool, error) {
	var (
		changed bool
		err     error
		evt     = StatusChanged{Status: store.StatusSent}
	)
	switch u.Ref.Kind {
	case wire.ByMessageID:
		changed, err = r.db.UpdateStatusByLocalID(u.Ref.MessageID, store.StatusSent)
		evt.LocalID = u.Ref.MessageID
		if err == nil && r.acks != nil {
			r.acks.Acknowledge(u.Ref.MessageID)
		}
	case wire.ByTimestamp:
		changed, err = r.db.UpdateStatusBySentAt(u.Ref.Timestamp, store.StatusSent)
		evt.SentAt = u.Ref.Timestamp
		if err == nil && r.acks != nil {
			r.acks.AcknowledgeSentAt(u.Ref.Timestamp)
		}
	default:
		return false, errors.New("seen without ref")
	}
	if err != nil {
		return false, err
	}
	if changed {
		r.bus.Emit(bus.KindMessageStatusChanged, evt)
	}
	return changed, nil
}

// RecordReplay stores when the outbox was last replayed and how many
// entries went out.
func (r *Reconciler) RecordReplay(at time.Time, count int) error {
	if err := r.UpdateCheckpoint(CheckpointLastReplayAt, strconv.FormatInt(at.UnixMilli(), 10)); err != nil {
		return err
	}
	return r.UpdateCheckpoint(CheckpointLastReplayCount, strconv.Itoa(count))
}

// UpdateCheckpoint updates a sync checkpoint value.
func (r *Reconciler) UpdateCheckpoint(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := r.db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetCheckpoint retrieves a sync checkpoint value. A missing key yields "".
func (r *Reconciler) GetCheckpoint(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
