package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/courier-im/courier/internal/bus"
	"github.com/courier-im/courier/internal/expiry"
	"github.com/courier-im/courier/internal/msgtype"
	"github.com/courier-im/courier/internal/receipt"
	"github.com/courier-im/courier/internal/recipient"
	"github.com/courier-im/courier/internal/store"
)

func testEngine(t *testing.T) (*Engine, *store.DB, *bus.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	log := zap.NewNop()
	b := bus.New()
	resolver := recipient.NewResolver(db, b, log, time.Second)
	sched := expiry.NewScheduler(db, b, log, time.Millisecond)
	return New(db, resolver, receipt.NewCache(), sched, b, log), db, b
}

func TestProcessIncomingInsertsAndPublishes(t *testing.T) {
	e, db, b := testEngine(t)
	events, unsub := b.Subscribe("message.", 8)
	defer unsub()

	res, err := e.ProcessIncoming(context.Background(), &Inbound{
		Sender: "alice",
		SentAt: 1000,
		Body:   "hello",
		Secure: true,
		Push:   true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res == nil {
		t.Fatal("insert reported duplicate")
	}

	msg, err := db.GetMessage(store.MessageRef{ID: res.MessageID, Kind: res.Kind})
	if err != nil || msg == nil {
		t.Fatalf("stored message missing: %v, %v", msg, err)
	}
	if msg.Type.Base() != msgtype.BaseInbox || !msg.Type.IsSecure() || !msg.Type.IsPush() {
		t.Errorf("classified type = %#x", uint64(msg.Type))
	}
	if msg.DateReceived == 0 {
		t.Error("local receive timestamp not filled in")
	}

	th, err := db.GetThread(res.ThreadID)
	if err != nil || th == nil {
		t.Fatalf("thread missing: %v, %v", th, err)
	}
	if th.UnreadCount != 1 || th.Snippet != "hello" {
		t.Errorf("thread aggregate: unread=%d snippet=%q", th.UnreadCount, th.Snippet)
	}

	evt := <-events
	if evt.Kind != bus.KindMessageInserted {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindMessageInserted)
	}
}

func TestProcessIncomingDuplicateIsNoOp(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()

	in := &Inbound{Sender: "alice", SentAt: 1000, Body: "hello", Secure: true}
	first, err := e.ProcessIncoming(ctx, in)
	if err != nil || first == nil {
		t.Fatalf("first insert: %v, %v", first, err)
	}
	second, err := e.ProcessIncoming(ctx, in)
	if err != nil {
		t.Fatalf("redelivery must not error: %v", err)
	}
	if second != nil {
		t.Errorf("redelivery inserted a row: %+v", second)
	}
}

func TestSendTextTransitionsToSent(t *testing.T) {
	e, db, _ := testEngine(t)

	res, err := e.SendText(context.Background(), &SendRequest{Address: "bob", Body: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if res == nil {
		t.Fatal("send reported duplicate")
	}

	msg, err := db.GetMessage(store.MessageRef{ID: res.MessageID, Kind: res.Kind})
	if err != nil || msg == nil {
		t.Fatalf("sent message missing: %v, %v", msg, err)
	}
	if msg.Type.Base() != msgtype.BaseSent {
		t.Errorf("base after send = %v, want Sent", msg.Type.Base())
	}
	if !msg.Type.IsOutgoing() {
		t.Error("sent message not classified outgoing")
	}

	th, err := db.GetThread(res.ThreadID)
	if err != nil || th == nil {
		t.Fatal(err)
	}
	if th.UnreadCount != 0 {
		t.Errorf("own message counted as unread: %d", th.UnreadCount)
	}
	if th.Snippet != "hi" {
		t.Errorf("snippet = %q, want %q", th.Snippet, "hi")
	}
}

func TestEarlyReceiptReconciliation(t *testing.T) {
	e, db, _ := testEngine(t)
	ctx := context.Background()

	// Two delivery acks and one read ack race ahead of the local write.
	if err := e.HandleReceipt(store.ReceiptDelivery, "bob", 5000); err != nil {
		t.Fatal(err)
	}
	if err := e.HandleReceipt(store.ReceiptDelivery, "bob", 5000); err != nil {
		t.Fatal(err)
	}
	if err := e.HandleReceipt(store.ReceiptRead, "bob", 5000); err != nil {
		t.Fatal(err)
	}

	res, err := e.SendText(ctx, &SendRequest{Address: "bob", Body: "hi", DateSent: 5000})
	if err != nil || res == nil {
		t.Fatalf("send: %v, %v", res, err)
	}

	msg, err := db.GetMessage(store.MessageRef{ID: res.MessageID, Kind: res.Kind})
	if err != nil || msg == nil {
		t.Fatal(err)
	}
	if msg.DeliveryReceiptCount != 2 {
		t.Errorf("delivery count = %d, want 2", msg.DeliveryReceiptCount)
	}
	if msg.ReadReceiptCount != 1 {
		t.Errorf("read count = %d, want 1", msg.ReadReceiptCount)
	}

	// A later receipt applies directly, not through the cache.
	if err := e.HandleReceipt(store.ReceiptDelivery, "bob", 5000); err != nil {
		t.Fatal(err)
	}
	msg, _ = db.GetMessage(store.MessageRef{ID: res.MessageID, Kind: res.Kind})
	if msg.DeliveryReceiptCount != 3 {
		t.Errorf("delivery count after direct receipt = %d, want 3", msg.DeliveryReceiptCount)
	}
}

func TestMarkThreadReadArmsDisappearAfterRead(t *testing.T) {
	e, db, _ := testEngine(t)
	ctx := context.Background()

	res, err := e.ProcessIncoming(ctx, &Inbound{
		Sender:    "carol",
		SentAt:    1000,
		Body:      "read me",
		Secure:    true,
		ExpiresIn: 60_000,
	})
	if err != nil || res == nil {
		t.Fatalf("insert: %v, %v", res, err)
	}

	ref := store.MessageRef{ID: res.MessageID, Kind: res.Kind}
	msg, _ := db.GetMessage(ref)
	if msg.ExpireStarted != 0 {
		t.Fatalf("countdown started before read: %d", msg.ExpireStarted)
	}

	if err := e.MarkThreadRead(res.ThreadID, 1000); err != nil {
		t.Fatal(err)
	}

	msg, _ = db.GetMessage(ref)
	if !msg.Read {
		t.Error("message not marked read")
	}
	if msg.ExpireStarted == 0 {
		t.Error("read did not start the countdown")
	}

	next, err := db.NextExpiration()
	if err != nil {
		t.Fatal(err)
	}
	if next != msg.ExpireStarted+60_000 {
		t.Errorf("next deadline = %d, want %d", next, msg.ExpireStarted+60_000)
	}
}

func TestMarkThreadReadMissingThreadIsNoOp(t *testing.T) {
	e, _, _ := testEngine(t)
	if err := e.MarkThreadRead(404, 1000); err != nil {
		t.Errorf("missing thread must be a no-op, got %v", err)
	}
}

func TestSendTextUsesRecipientDefaultTimer(t *testing.T) {
	e, db, _ := testEngine(t)
	ctx := context.Background()

	if err := e.resolver.SetExpireMessages(ctx, "dave", 30_000); err != nil {
		t.Fatal(err)
	}

	res, err := e.SendText(ctx, &SendRequest{Address: "dave", Body: "vanishes"})
	if err != nil || res == nil {
		t.Fatalf("send: %v, %v", res, err)
	}
	msg, _ := db.GetMessage(store.MessageRef{ID: res.MessageID, Kind: res.Kind})
	if msg.ExpiresIn != 30_000 {
		t.Errorf("expires_in = %d, want recipient default 30000", msg.ExpiresIn)
	}
}

func TestSearchExcludesBlockedAddresses(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()

	if _, err := e.ProcessIncoming(ctx, &Inbound{Sender: "friend", SentAt: 1000, Body: "project update", Secure: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ProcessIncoming(ctx, &Inbound{Sender: "spammer", SentAt: 2000, Body: "project offer", Secure: true}); err != nil {
		t.Fatal(err)
	}
	if err := e.resolver.SetBlocked(ctx, "spammer", true); err != nil {
		t.Fatal(err)
	}

	results, err := e.Search("project", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].ThreadAddress != "friend" {
		t.Errorf("result from %q, want friend", results[0].ThreadAddress)
	}
}

func TestMarkDeletedKeepsRow(t *testing.T) {
	e, db, _ := testEngine(t)
	ctx := context.Background()

	res, err := e.ProcessIncoming(ctx, &Inbound{Sender: "eve", SentAt: 1000, Body: "secret", Secure: true})
	if err != nil || res == nil {
		t.Fatal(err)
	}
	ref := store.MessageRef{ID: res.MessageID, Kind: res.Kind}

	if err := e.MarkDeleted(ref, "This message was deleted"); err != nil {
		t.Fatal(err)
	}
	msg, err := db.GetMessage(ref)
	if err != nil || msg == nil {
		t.Fatalf("soft-deleted row removed: %v, %v", msg, err)
	}
	if !msg.Type.IsDeleted() {
		t.Error("type not rewritten to deleted variant")
	}
	if msg.Body != "This message was deleted" {
		t.Errorf("body = %q", msg.Body)
	}
}

func TestDeleteMessagesReturnsAffectedThreads(t *testing.T) {
	e, db, _ := testEngine(t)
	ctx := context.Background()

	a, _ := e.ProcessIncoming(ctx, &Inbound{Sender: "x", SentAt: 1000, Body: "one"})
	b, _ := e.ProcessIncoming(ctx, &Inbound{Sender: "y", SentAt: 2000, Body: "two"})

	threads, err := e.DeleteMessages([]store.MessageRef{
		{ID: a.MessageID, Kind: a.Kind},
		{ID: b.MessageID, Kind: b.Kind},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(threads) != 2 {
		t.Fatalf("affected threads = %d, want 2", len(threads))
	}
	for _, id := range threads {
		th, err := db.GetThread(id)
		if err != nil || th == nil {
			t.Fatal(err)
		}
		if th.MessageCount != 0 {
			t.Errorf("thread %d count = %d after delete", id, th.MessageCount)
		}
	}
}

func TestSendEventsShareCorrelationID(t *testing.T) {
	e, _, b := testEngine(t)
	msgEvents, unsubMsg := b.Subscribe("message.", 8)
	defer unsubMsg()
	threadEvents, unsubThread := b.Subscribe("thread.", 8)
	defer unsubThread()

	res, err := e.SendText(context.Background(), &SendRequest{Address: "bob", Body: "hi"})
	if err != nil || res == nil {
		t.Fatalf("send: %v, %v", res, err)
	}

	inserted := <-msgEvents
	threadUpdated := <-threadEvents
	if inserted.Kind != bus.KindMessageInserted || threadUpdated.Kind != bus.KindThreadUpdated {
		t.Fatalf("event kinds = %q, %q", inserted.Kind, threadUpdated.Kind)
	}
	if inserted.ID == "" {
		t.Error("inserted event carries no correlation id")
	}
	if inserted.ID != threadUpdated.ID {
		t.Errorf("event pair ids differ: %q vs %q", inserted.ID, threadUpdated.ID)
	}

	// A separate operation gets its own id.
	if _, err := e.ProcessIncoming(context.Background(), &Inbound{Sender: "bob", SentAt: 2000, Body: "yo", Secure: true}); err != nil {
		t.Fatal(err)
	}
	next := <-msgEvents
	if next.ID == "" || next.ID == inserted.ID {
		t.Errorf("incoming event id = %q, want fresh id distinct from %q", next.ID, inserted.ID)
	}
}
