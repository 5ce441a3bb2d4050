package expiry

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/courier-im/courier/internal/bus"
	"github.com/courier-im/courier/internal/msgtype"
	"github.com/courier-im/courier/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func insertExpiring(t *testing.T, db *store.DB, address string, dateSent, expiresIn int64) store.MessageRef {
	t.Helper()
	res, err := db.InsertIncoming(&store.Incoming{
		Address:      address,
		DateSent:     dateSent,
		DateReceived: dateSent,
		Body:         "vanishing",
		Type:         msgtype.BaseInbox | msgtype.SecureMessageBit,
		ExpiresIn:    expiresIn,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res == nil {
		t.Fatalf("duplicate insert for (%s, %d)", address, dateSent)
	}
	return store.MessageRef{ID: res.MessageID, Kind: res.Kind}
}

func TestSweepDeletesOnlyPastDeadlines(t *testing.T) {
	db := testDB(t)
	s := NewScheduler(db, bus.New(), zap.NewNop(), time.Millisecond)

	a := insertExpiring(t, db, "alice", 100, 1000)
	b := insertExpiring(t, db, "alice", 200, 5000)
	if err := s.Schedule(a, 1000); err != nil { // deadline 2000
		t.Fatal(err)
	}
	if err := s.Schedule(b, 1000); err != nil { // deadline 6000
		t.Fatal(err)
	}

	n, err := s.Sweep(3000)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("swept %d messages, want 1", n)
	}
	if msg, err := db.GetMessage(a); err != nil || msg != nil {
		t.Errorf("expired message still present: %v, %v", msg, err)
	}
	if msg, err := db.GetMessage(b); err != nil || msg == nil {
		t.Errorf("unexpired message missing: %v, %v", msg, err)
	}
}

func TestScheduleIsIdempotent(t *testing.T) {
	db := testDB(t)
	s := NewScheduler(db, bus.New(), zap.NewNop(), time.Millisecond)

	ref := insertExpiring(t, db, "bob", 100, 1000)
	if err := s.Schedule(ref, 1000); err != nil {
		t.Fatal(err)
	}
	// A later re-arm must not push the deadline out.
	if err := s.Schedule(ref, 9000); err != nil {
		t.Fatal(err)
	}

	next, err := db.NextExpiration()
	if err != nil {
		t.Fatal(err)
	}
	if next != 2000 {
		t.Errorf("next deadline = %d, want 2000", next)
	}
}

func TestScheduleIgnoresMessagesWithoutTimer(t *testing.T) {
	db := testDB(t)
	s := NewScheduler(db, bus.New(), zap.NewNop(), time.Millisecond)

	ref := insertExpiring(t, db, "carol", 100, 0)
	if err := s.Schedule(ref, 1000); err != nil {
		t.Fatal(err)
	}

	next, err := db.NextExpiration()
	if err != nil {
		t.Fatal(err)
	}
	if next != 0 {
		t.Errorf("next deadline = %d, want none", next)
	}
}

func TestLoopSweepsAndPublishes(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	events, unsub := b.Subscribe("message.", 8)
	defer unsub()

	s := NewScheduler(db, b, zap.NewNop(), time.Millisecond)
	s.Start()
	defer s.Stop()

	ref := insertExpiring(t, db, "dave", 100, 10)
	if err := s.Schedule(ref, time.Now().UnixMilli()); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-events:
		if evt.Kind != bus.KindMessageExpired {
			t.Fatalf("got event %q, want %q", evt.Kind, bus.KindMessageExpired)
		}
		got := evt.Payload.(store.MessageRef)
		if got != ref {
			t.Fatalf("expired ref = %+v, want %+v", got, ref)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for expiration")
	}

	if msg, err := db.GetMessage(ref); err != nil || msg != nil {
		t.Errorf("expired message still present: %v, %v", msg, err)
	}
}
