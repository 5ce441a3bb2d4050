package recipient

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/courier-im/courier/internal/bus"
	"github.com/courier-im/courier/internal/store"
)

// Resolver owns the address → *Recipient cache. Concurrent resolutions of
// the same address share one backing-store read; all callers receive the
// same live instance.
type Resolver struct {
	db      *store.DB
	bus     *bus.Bus
	log     *zap.Logger
	timeout time.Duration

	mu        sync.RWMutex
	cache     map[string]*Recipient
	listeners map[int]func(*Recipient)
	nextID    int

	group singleflight.Group
}

// NewResolver creates a resolver. timeout bounds synchronous resolution;
// when it lapses the caller gets the still-resolving instance instead of
// blocking.
func NewResolver(db *store.DB, b *bus.Bus, log *zap.Logger, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Resolver{
		db:        db,
		bus:       b,
		log:       log,
		timeout:   timeout,
		cache:     make(map[string]*Recipient),
		listeners: make(map[int]func(*Recipient)),
	}
}

// Resolve returns the live instance for address. When async is true a
// still-resolving placeholder is returned immediately and listeners are
// notified once the backing read lands; otherwise the call waits, bounded
// by ctx and the resolver timeout. Resolution never errors: a missing
// settings row yields defaults.
func (r *Resolver) Resolve(ctx context.Context, address string, async bool) *Recipient {
	r.mu.Lock()
	rec, ok := r.cache[address]
	if !ok {
		rec = newRecipient(address)
		r.cache[address] = rec
	}
	r.mu.Unlock()

	if !rec.Resolving() {
		return rec
	}
	if async {
		go func() {
			<-r.load(rec)
		}()
		return rec
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	select {
	case <-r.load(rec):
	case <-ctx.Done():
		r.log.Warn("recipient resolution timed out", zap.String("address", address))
	}
	return rec
}

// load coalesces backing-store reads per address and applies the result to
// the live instance. The returned channel closes when the read has landed.
func (r *Resolver) load(rec *Recipient) <-chan singleflight.Result {
	return r.group.DoChan(rec.address, func() (any, error) {
		s, err := r.db.GetRecipientSettings(rec.address)
		if err != nil {
			// Degrade to defaults; resolution must always produce a
			// usable record.
			r.log.Error("load recipient settings",
				zap.String("address", rec.address), zap.Error(err))
		}
		if s == nil {
			rec.apply(defaultSettings(rec.address))
		} else {
			rec.apply(*s)
		}
		r.notify(rec)
		return nil, nil
	})
}

// Subscribe registers fn to run after every recipient update. Returns the
// unsubscribe function.
func (r *Resolver) Subscribe(fn func(*Recipient)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *Resolver) notify(rec *Recipient) {
	r.mu.RLock()
	fns := make([]func(*Recipient), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.RUnlock()
	for _, fn := range fns {
		fn(rec)
	}
	r.bus.Publish(bus.Event{
		Kind:      bus.KindRecipientUpdate,
		Timestamp: time.Now(),
		Payload:   rec.Address(),
	})
}

// mutateAndPersist resolves synchronously, edits the live instance, writes
// the settings row wholesale, and notifies listeners.
func (r *Resolver) mutateAndPersist(ctx context.Context, address string, fn func(*store.RecipientSettings)) error {
	rec := r.Resolve(ctx, address, false)
	s := rec.mutate(fn)
	if err := r.db.SaveRecipientSettings(&s); err != nil {
		return err
	}
	r.notify(rec)
	return nil
}

func (r *Resolver) SetBlocked(ctx context.Context, address string, blocked bool) error {
	return r.mutateAndPersist(ctx, address, func(s *store.RecipientSettings) {
		s.Blocked = blocked
	})
}

func (r *Resolver) SetApproved(ctx context.Context, address string, approved, approvedMe bool) error {
	return r.mutateAndPersist(ctx, address, func(s *store.RecipientSettings) {
		s.Approved = approved
		s.ApprovedMe = approvedMe
	})
}

// SetMuted suppresses notifications until the given epoch-millis instant;
// 0 unmutes.
func (r *Resolver) SetMuted(ctx context.Context, address string, until int64) error {
	return r.mutateAndPersist(ctx, address, func(s *store.RecipientSettings) {
		s.MuteUntil = until
	})
}

func (r *Resolver) SetNotifyType(ctx context.Context, address string, notifyType int) error {
	return r.mutateAndPersist(ctx, address, func(s *store.RecipientSettings) {
		s.NotifyType = notifyType
	})
}

func (r *Resolver) SetProfile(ctx context.Context, address string, key []byte, name, avatar string) error {
	return r.mutateAndPersist(ctx, address, func(s *store.RecipientSettings) {
		s.ProfileKey = key
		s.ProfileName = name
		s.ProfileAvatar = avatar
	})
}

// SetExpireMessages sets the recipient-level default disappearing timer in
// milliseconds; 0 disables it for new messages.
func (r *Resolver) SetExpireMessages(ctx context.Context, address string, expiresIn int64) error {
	return r.mutateAndPersist(ctx, address, func(s *store.RecipientSettings) {
		s.ExpireMessages = expiresIn
	})
}
