package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/courier-im/courier/internal/bus"
	"github.com/courier-im/courier/internal/expiry"
	"github.com/courier-im/courier/internal/receipt"
	"github.com/courier-im/courier/internal/recipient"
	"github.com/courier-im/courier/internal/store"
)

// Engine composes the store, resolver, caches, and scheduler into the
// message processing pipeline.
type Engine struct {
	db       *store.DB
	resolver *recipient.Resolver
	early    *receipt.Cache
	expiry   *expiry.Scheduler
	bus      *bus.Bus
	log      *zap.Logger
}

// New creates the engine.
func New(db *store.DB, r *recipient.Resolver, early *receipt.Cache, sched *expiry.Scheduler, b *bus.Bus, log *zap.Logger) *Engine {
	return &Engine{
		db:       db,
		resolver: r,
		early:    early,
		expiry:   sched,
		bus:      b,
		log:      log,
	}
}

// ProcessIncoming classifies and inserts one decrypted inbound message.
// Returns (nil, nil) on a detected redelivery. Recipient resolution is
// asynchronous: the insert never waits on the settings read.
func (e *Engine) ProcessIncoming(ctx context.Context, in *Inbound) (*store.InsertResult, error) {
	threadAddr := in.ThreadAddress
	if threadAddr == "" {
		threadAddr = in.Sender
	}
	e.resolver.Resolve(ctx, threadAddr, true)

	received := in.ReceivedAt
	if received == 0 {
		received = time.Now().UnixMilli()
	}
	res, err := e.db.InsertIncoming(&store.Incoming{
		ThreadAddress: in.ThreadAddress,
		Address:       in.Sender,
		Device:        in.Device,
		DateSent:      in.SentAt,
		DateReceived:  received,
		Body:          in.Body,
		Attachments:   in.Attachments,
		Type:          Classify(in),
		HasMention:    in.HasMention,
		ExpiresIn:     in.ExpiresIn,
		ExpireStarted: in.ExpireStarted,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		e.log.Info("duplicate delivery ignored",
			zap.String("sender", in.Sender),
			zap.Int64("date_sent", in.SentAt))
		return nil, nil
	}
	if in.ExpiresIn > 0 && in.ExpireStarted > 0 {
		// Countdown already running on the sender's side.
		e.expiry.Wake()
	}
	e.publishInsert(uuid.NewString(), res)
	return res, nil
}

// SendRequest is a locally authored text message. DateSent of 0 means now;
// sync-from-other-device supplies the original timestamp. ExpiresIn of 0
// falls back to the recipient's default disappearing timer.
type SendRequest struct {
	Address   string
	Body      string
	DateSent  int64
	ExpiresIn int64
}

// SendText inserts an outgoing message, reconciles receipts that raced
// ahead of it, and marks it sent. Returns (nil, nil) when the timestamp
// collides with an existing row for the recipient.
func (e *Engine) SendText(ctx context.Context, req *SendRequest) (*store.InsertResult, error) {
	clientID := uuid.NewString()
	dateSent := req.DateSent
	if dateSent == 0 {
		dateSent = time.Now().UnixMilli()
	}
	expiresIn := req.ExpiresIn
	if expiresIn == 0 {
		rec := e.resolver.Resolve(ctx, req.Address, false)
		expiresIn = rec.Settings().ExpireMessages
	}

	res, err := e.db.InsertOutgoing(&store.Outgoing{
		Address:   req.Address,
		DateSent:  dateSent,
		Body:      req.Body,
		Type:      msgOutgoingType,
		ExpiresIn: expiresIn,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		e.log.Info("duplicate send ignored",
			zap.String("client_id", clientID),
			zap.Int64("date_sent", dateSent))
		return nil, nil
	}

	// Apply acks that arrived before this row existed.
	e.drainEarly(receipt.Delivery, store.ReceiptDelivery, dateSent)
	e.drainEarly(receipt.Read, store.ReceiptRead, dateSent)

	if err := e.db.MarkSent(store.MessageRef{ID: res.MessageID, Kind: res.Kind}); err != nil {
		return nil, err
	}
	e.log.Info("message sent",
		zap.String("client_id", clientID),
		zap.Int64("message_id", res.MessageID),
		zap.Int64("thread_id", res.ThreadID))
	e.publishInsert(clientID, res)
	return res, nil
}

func (e *Engine) drainEarly(ck receipt.Kind, sk store.ReceiptKind, dateSent int64) {
	for address, n := range e.early.Drain(ck, dateSent) {
		if _, found, err := e.db.IncrementReceipt(address, dateSent, sk, n); err != nil {
			e.log.Error("apply buffered receipt", zap.Error(err))
		} else if !found {
			e.log.Warn("buffered receipt matched no message",
				zap.String("address", address),
				zap.Int64("date_sent", dateSent))
		}
	}
}

// HandleReceipt applies one delivery or read acknowledgment. When the
// matching outgoing message is not stored yet the receipt is buffered and
// replayed by SendText.
func (e *Engine) HandleReceipt(kind store.ReceiptKind, address string, dateSent int64) error {
	threadID, found, err := e.db.IncrementReceipt(address, dateSent, kind, 1)
	if err != nil {
		return err
	}
	if !found {
		e.early.Increment(cacheKind(kind), dateSent, address)
		return nil
	}
	id := uuid.NewString()
	ts := time.Now()
	e.bus.Publish(bus.Event{ID: id, Kind: bus.KindMessageUpdated, Timestamp: ts, Payload: dateSent})
	e.bus.Publish(bus.Event{ID: id, Kind: bus.KindThreadUpdated, Timestamp: ts, Payload: threadID})
	return nil
}

func cacheKind(k store.ReceiptKind) receipt.Kind {
	if k == store.ReceiptRead {
		return receipt.Read
	}
	return receipt.Delivery
}

// MarkThreadRead marks everything up to lastSeen read and starts the
// countdown on disappear-after-read messages. A missing or placeholder
// thread is a no-op, not an error.
func (e *Engine) MarkThreadRead(threadID, lastSeen int64) error {
	expiring, ok, err := e.db.MarkThreadRead(threadID, lastSeen)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	now := time.Now().UnixMilli()
	for _, er := range expiring {
		if err := e.expiry.Schedule(er.Ref, now); err != nil {
			e.log.Error("arm read-triggered expiration",
				zap.Int64("message_id", er.Ref.ID), zap.Error(err))
		}
	}
	e.bus.Publish(bus.Event{ID: uuid.NewString(), Kind: bus.KindThreadUpdated, Timestamp: time.Now(), Payload: threadID})
	return nil
}

// MarkDeleted soft-deletes a message in place, keeping the row for
// timeline stability.
func (e *Engine) MarkDeleted(ref store.MessageRef, displayBody string) error {
	if err := e.db.MarkDeleted(ref, displayBody); err != nil {
		return err
	}
	e.bus.Publish(bus.Event{ID: uuid.NewString(), Kind: bus.KindMessageUpdated, Timestamp: time.Now(), Payload: ref})
	return nil
}

// DeleteMessages hard-deletes the given rows and reports the affected
// threads.
func (e *Engine) DeleteMessages(refs []store.MessageRef) ([]int64, error) {
	threads, err := e.db.DeleteBatch(refs)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	ts := time.Now()
	for _, ref := range refs {
		e.bus.Publish(bus.Event{ID: id, Kind: bus.KindMessageDeleted, Timestamp: ts, Payload: ref})
	}
	for _, threadID := range threads {
		e.bus.Publish(bus.Event{ID: id, Kind: bus.KindThreadUpdated, Timestamp: ts, Payload: threadID})
	}
	return threads, nil
}

// Search runs a ranked full-text query, excluding threads whose
// counterpart is blocked.
func (e *Engine) Search(query string, threadID int64, limit int) ([]store.SearchResult, error) {
	blocked, err := e.db.BlockedAddresses()
	if err != nil {
		return nil, err
	}
	return e.db.Search(query, threadID, blocked, limit)
}

// publishInsert emits the insert's event pair under one correlation id.
// For sends this is the client id logged alongside the write.
func (e *Engine) publishInsert(id string, res *store.InsertResult) {
	ts := time.Now()
	e.bus.Publish(bus.Event{ID: id, Kind: bus.KindMessageInserted, Timestamp: ts, Payload: res})
	e.bus.Publish(bus.Event{ID: id, Kind: bus.KindThreadUpdated, Timestamp: ts, Payload: res.ThreadID})
}
