// Package recipient maps stable addresses to live, mutable settings
// records. There is exactly one *Recipient per address process-wide; every
// holder observes mutations through the shared instance and the resolver's
// listener API.
package recipient

import (
	"strings"
	"sync"

	"github.com/courier-im/courier/internal/store"
)

// Recipient is the single live record for one address. A freshly created
// instance starts in the resolving state with default settings; the
// resolver swaps in the persisted settings when the backing read lands.
type Recipient struct {
	address string

	mu        sync.RWMutex
	resolving bool
	settings  store.RecipientSettings
}

func newRecipient(address string) *Recipient {
	return &Recipient{
		address:   address,
		resolving: true,
		settings:  defaultSettings(address),
	}
}

// defaultSettings is what a dangling address resolves to. Resolution never
// fails; an address with no persisted row behaves like an unblocked,
// unmuted contact.
func defaultSettings(address string) store.RecipientSettings {
	return store.RecipientSettings{Address: address}
}

func (r *Recipient) Address() string { return r.address }

// Resolving reports whether the backing-store read is still in flight.
// Callers holding a resolving instance see default settings until then.
func (r *Recipient) Resolving() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolving
}

// Settings returns a copy of the current settings record.
func (r *Recipient) Settings() store.RecipientSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

func (r *Recipient) Blocked() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings.Blocked
}

func (r *Recipient) Approved() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings.Approved
}

// MutedUntil returns the epoch-millis instant the mute lapses, 0 when the
// recipient is not muted.
func (r *Recipient) MutedUntil() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings.MuteUntil
}

// Muted reports whether notifications are suppressed at the given instant.
func (r *Recipient) Muted(now int64) bool {
	return r.MutedUntil() > now
}

func (r *Recipient) ProfileName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings.ProfileName
}

// Members returns the parsed member addresses for a group recipient.
func (r *Recipient) Members() []string {
	r.mu.RLock()
	raw := r.settings.Members
	r.mu.RUnlock()
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// apply swaps in freshly loaded settings and clears the resolving flag.
func (r *Recipient) apply(s store.RecipientSettings) {
	r.mu.Lock()
	r.settings = s
	r.resolving = false
	r.mu.Unlock()
}

// mutate edits the settings in place and returns a copy for persistence.
func (r *Recipient) mutate(fn func(*store.RecipientSettings)) store.RecipientSettings {
	r.mu.Lock()
	fn(&r.settings)
	out := r.settings
	r.mu.Unlock()
	return out
}
