package outbox

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bibekanandan892/peerchat/internal/bus"
	"github.com/bibekanandan892/peerchat/internal/store"
	"github.com/bibekanandan892/peerchat/internal/wire"
)

// mockTransport records frames handed to it.
type mockTransport struct {
	mu     sync.Mutex
	frames []string
	at     []time.Time
}

func (m *mockTransport) Send(tag wire.Tag, payload string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, wire.BuildFrame(tag, payload))
	m.at = append(m.at, time.Now())
}

func (m *mockTransport) sent() []wire.SendMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []wire.SendMessage
	for _, f := range m.frames {
		payload, err := wire.ExtractPayload(wire.Send, f)
		if err != nil {
			continue
		}
		var msg wire.SendMessage
		if json.Unmarshal([]byte(payload), &msg) == nil {
			out = append(out, msg)
		}
	}
	return out
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func always() bool { return true }

func TestEnqueueConnectedTransmits(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	tx := &mockTransport{}
	s := NewSender(db, tx, b, nil, Options{}, nil)

	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	msg, err := s.Enqueue("hello", "peer1", "c1", true)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != store.StatusSending || !msg.FromMe || msg.LocalID == "" {
		t.Errorf("message = %+v", msg)
	}

	sent := tx.sent()
	if len(sent) != 1 {
		t.Fatalf("got %d send frames, want 1", len(sent))
	}
	if sent[0].Content != "hello" || sent[0].To != "peer1" || sent[0].ID != msg.LocalID || sent[0].TS != msg.SentAt {
		t.Errorf("send payload = %+v", sent[0])
	}

	entries, _ := db.ListOutbox()
	if len(entries) != 1 || entries[0].Attempts != 1 {
		t.Errorf("outbox = %+v, want one entry with 1 attempt", entries)
	}

	kinds := map[string]bool{}
	timeout := time.After(time.Second)
	for len(kinds) < 2 {
		select {
		case evt := <-ch:
			kinds[evt.Kind] = true
		case <-timeout:
			t.Fatalf("events seen = %v, want inserted and queued", kinds)
		}
	}
}

func TestEnqueueOfflineWritesOutboxOnce(t *testing.T) {
	db := testDB(t)
	tx := &mockTransport{}
	s := NewSender(db, tx, nil, nil, Options{}, nil)

	msg, err := s.Enqueue("later", "peer1", "c1", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(tx.sent()) != 0 {
		t.Error("offline enqueue should not transmit")
	}

	entries, _ := db.ListOutbox()
	if len(entries) != 1 {
		t.Fatalf("outbox has %d entries, want 1", len(entries))
	}
	if entries[0].LocalID != msg.LocalID || entries[0].Attempts != 0 {
		t.Errorf("entry = %+v", entries[0])
	}

	msgs, _ := db.ListMessages()
	if len(msgs) != 1 || msgs[0].Status != store.StatusSending {
		t.Errorf("messages = %+v, want one Sending record", msgs)
	}
}

func TestEnqueueBlankIsNoop(t *testing.T) {
	db := testDB(t)
	tx := &mockTransport{}
	s := NewSender(db, tx, nil, nil, Options{}, nil)

	for _, text := range []string{"", "   ", "\n"} {
		msg, err := s.Enqueue(text, "p", "c", true)
		if err != nil || msg != nil {
			t.Errorf("Enqueue(%q) = %v, %v; want nil, nil", text, msg, err)
		}
	}
	if n, _ := db.CountOutbox(); n != 0 {
		t.Errorf("outbox has %d entries, want 0", n)
	}
	if len(tx.sent()) != 0 {
		t.Error("blank text should not be sent")
	}
}

func TestEnqueueSendTimesAreUnique(t *testing.T) {
	db := testDB(t)
	s := NewSender(db, &mockTransport{}, nil, nil, Options{}, nil)
	fixed := time.UnixMilli(5000)
	s.now = func() time.Time { return fixed }

	for range 3 {
		if _, err := s.Enqueue("x", "p", "c", false); err != nil {
			t.Fatal(err)
		}
	}
	msgs, _ := db.ListMessages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3 distinct rows", len(msgs))
	}
	for i, m := range msgs {
		if m.SentAt != 5000+int64(i) {
			t.Errorf("msgs[%d].SentAt = %d, want %d", i, m.SentAt, 5000+i)
		}
	}
}

func TestEnqueueTrimsToLimit(t *testing.T) {
	db := testDB(t)
	s := NewSender(db, &mockTransport{}, nil, nil, Options{Limit: 2}, nil)

	var ids []string
	for _, text := range []string{"a", "b", "c"} {
		msg, err := s.Enqueue(text, "p", "c", false)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, msg.LocalID)
	}

	entries, _ := db.ListOutbox()
	if len(entries) != 2 {
		t.Fatalf("outbox has %d entries, want 2", len(entries))
	}
	if entries[0].LocalID != ids[1] || entries[1].LocalID != ids[2] {
		t.Error("oldest entry should have been evicted")
	}
}

func TestDrainReplaysEveryReconnect(t *testing.T) {
	db := testDB(t)
	tx := &mockTransport{}
	b := bus.New()
	s := NewSender(db, tx, b, nil, Options{}, nil)

	ch, unsub := b.Subscribe(bus.KindOutboxReplayed, 4)
	defer unsub()

	msg, _ := s.Enqueue("hi", "p", "c", false)

	for cycle := 1; cycle <= 2; cycle++ {
		n, err := s.Drain(context.Background(), always)
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("cycle %d: replayed %d, want 1", cycle, n)
		}
		if got := len(tx.sent()); got != cycle {
			t.Errorf("cycle %d: %d frames sent, want %d", cycle, got, cycle)
		}
		select {
		case evt := <-ch:
			if r := evt.Payload.(Replayed); r.Count != 1 || r.Cleared {
				t.Errorf("replayed event = %+v", r)
			}
		case <-time.After(time.Second):
			t.Fatal("no outbox.replayed event")
		}
	}

	entries, _ := db.ListOutbox()
	if len(entries) != 1 || entries[0].Attempts != 2 {
		t.Errorf("outbox = %+v, want entry with 2 attempts", entries)
	}

	s.Acknowledge(msg.LocalID)
	if n, _ := s.Drain(context.Background(), always); n != 0 {
		t.Errorf("after ack replayed %d, want 0", n)
	}
}

func TestDrainClearAfterReplay(t *testing.T) {
	db := testDB(t)
	tx := &mockTransport{}
	s := NewSender(db, tx, nil, nil, Options{ClearAfterReplay: true}, nil)

	_, _ = s.Enqueue("one", "p", "c", false)
	_, _ = s.Enqueue("two", "p", "c", false)

	n, err := s.Drain(context.Background(), always)
	if err != nil || n != 2 {
		t.Fatalf("Drain() = %d, %v; want 2", n, err)
	}
	if c, _ := db.CountOutbox(); c != 0 {
		t.Errorf("outbox has %d entries after bulk clear, want 0", c)
	}
	sent := tx.sent()
	if len(sent) != 2 || sent[0].Content != "one" || sent[1].Content != "two" {
		t.Errorf("replay order = %+v", sent)
	}
}

func TestDrainPacesSends(t *testing.T) {
	db := testDB(t)
	tx := &mockTransport{}
	interval := 40 * time.Millisecond
	s := NewSender(db, tx, nil, nil, Options{ReplayInterval: interval}, nil)

	for _, text := range []string{"a", "b", "c"} {
		_, _ = s.Enqueue(text, "p", "c", false)
	}

	start := time.Now()
	if _, err := s.Drain(context.Background(), always); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 3*interval-10*time.Millisecond {
		t.Errorf("drain took %v, want at least ~%v", elapsed, 3*interval)
	}
	for i := 1; i < len(tx.at); i++ {
		if gap := tx.at[i].Sub(tx.at[i-1]); gap < interval-10*time.Millisecond {
			t.Errorf("gap %d = %v, want ~%v", i, gap, interval)
		}
	}
}

func TestDrainStopsWhenOffline(t *testing.T) {
	db := testDB(t)
	tx := &mockTransport{}
	s := NewSender(db, tx, nil, nil, Options{ClearAfterReplay: true}, nil)

	_, _ = s.Enqueue("a", "p", "c", false)
	_, _ = s.Enqueue("b", "p", "c", false)

	calls := 0
	online := func() bool {
		calls++
		return calls == 1
	}
	n, err := s.Drain(context.Background(), online)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("sent %d, want 1", n)
	}
	if c, _ := db.CountOutbox(); c != 2 {
		t.Errorf("outbox has %d entries, want 2 kept after a partial drain", c)
	}
}

func TestDrainHonoursContext(t *testing.T) {
	db := testDB(t)
	s := NewSender(db, &mockTransport{}, nil, nil, Options{ReplayInterval: time.Hour}, nil)
	_, _ = s.Enqueue("a", "p", "c", false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Drain(ctx, always); err == nil || !strings.Contains(err.Error(), "context") {
		t.Errorf("Drain() error = %v, want context error", err)
	}
}

func TestAcknowledgeSentAt(t *testing.T) {
	db := testDB(t)
	s := NewSender(db, &mockTransport{}, nil, nil, Options{}, nil)
	msg, _ := s.Enqueue("a", "p", "c", false)

	s.AcknowledgeSentAt(msg.SentAt)
	if c, _ := db.CountOutbox(); c != 0 {
		t.Errorf("outbox has %d entries, want 0", c)
	}
}
