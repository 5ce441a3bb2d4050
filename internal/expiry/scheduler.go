// Package expiry runs the disappearing-message sweep. A single goroutine
// sleeps until the earliest armed deadline, deletes everything whose
// deadline has passed, and recomputes. Arming a timer (Schedule) wakes the
// loop so a newly started short timer is never missed.
package expiry

import (
	"time"

	"go.uber.org/zap"

	"github.com/courier-im/courier/internal/bus"
	"github.com/courier-im/courier/internal/store"
)

// Scheduler owns the expiration sweep loop.
type Scheduler struct {
	db    *store.DB
	bus   *bus.Bus
	log   *zap.Logger
	floor time.Duration

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScheduler creates a scheduler. floor is the minimum delay before a
// sweep fires; it keeps a burst of already-past deadlines from turning the
// loop into a busy spin.
func NewScheduler(db *store.DB, b *bus.Bus, log *zap.Logger, floor time.Duration) *Scheduler {
	if floor <= 0 {
		floor = 50 * time.Millisecond
	}
	return &Scheduler{
		db:     db,
		bus:    b,
		log:    log,
		floor:  floor,
		wakeCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop terminates the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Schedule arms the expiration countdown for a message. It is idempotent:
// a countdown that already started keeps its original deadline, and
// messages without a timer are left untouched.
func (s *Scheduler) Schedule(ref store.MessageRef, startedAt int64) error {
	changed, err := s.db.StartExpiration(ref, startedAt)
	if err != nil {
		return err
	}
	if changed {
		s.wake()
	}
	return nil
}

// Wake forces the loop to recompute its deadline. Used after bulk
// operations that may have armed timers outside Schedule.
func (s *Scheduler) Wake() {
	s.wake()
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer close(s.doneCh)
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		next, err := s.db.NextExpiration()
		if err != nil {
			s.log.Error("compute next expiration", zap.Error(err))
			next = 0
		}
		if next == 0 {
			// Nothing armed. Sleep until woken or stopped.
			select {
			case <-s.wakeCh:
				continue
			case <-s.stopCh:
				return
			}
		}
		d := time.Until(time.UnixMilli(next))
		if d < s.floor {
			d = s.floor
		}
		timer.Reset(d)
		select {
		case <-timer.C:
			if _, err := s.Sweep(time.Now().UnixMilli()); err != nil {
				s.log.Error("expiration sweep", zap.Error(err))
			}
		case <-s.wakeCh:
			if !timer.Stop() {
				<-timer.C
			}
		case <-s.stopCh:
			if !timer.Stop() {
				<-timer.C
			}
			return
		}
	}
}

// Sweep deletes every message whose deadline is at or before now (epoch
// millis) and publishes the corresponding events. Returns the number of
// messages removed.
func (s *Scheduler) Sweep(now int64) (int, error) {
	refs, err := s.db.ExpiredMessages(now)
	if err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, nil
	}
	threads, err := s.db.DeleteBatch(refs)
	if err != nil {
		return 0, err
	}
	ts := time.Now()
	for _, ref := range refs {
		s.bus.Publish(bus.Event{Kind: bus.KindMessageExpired, Timestamp: ts, Payload: ref})
	}
	for _, id := range threads {
		s.bus.Publish(bus.Event{Kind: bus.KindThreadUpdated, Timestamp: ts, Payload: id})
	}
	s.log.Info("expired messages removed",
		zap.Int("count", len(refs)),
		zap.Int("threads", len(threads)))
	return len(refs), nil
}
