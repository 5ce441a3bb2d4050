// Package msgtype implements the packed classification word stored in the
// type column of every message row. The low 5 bits hold exactly one base
// type; all remaining bits are independent flags that combine freely with
// any base type. Values are durable: once persisted they never change
// meaning, so constants here must stay stable.
package msgtype

import "strings"

// Type is the packed message classification word.
type Type uint64

// BaseTypeMask extracts the mutually exclusive base type.
const BaseTypeMask Type = 0x1F

// Base types. Call-log variants occupy 1-5, sync variants 17-19, the main
// send/receive lifecycle 20-27 and the soft-deleted variants 28-29.
const (
	BaseIncomingCall    Type = 1
	BaseOutgoingCall    Type = 2
	BaseMissedCall      Type = 3
	BaseJoined          Type = 4
	BaseFirstMissedCall Type = 5

	BaseSyncing    Type = 17
	BaseResyncing  Type = 18
	BaseSyncFailed Type = 19

	BaseInbox                   Type = 20
	BaseOutbox                  Type = 21
	BaseSending                 Type = 22
	BaseSent                    Type = 23
	BaseSentFailed              Type = 24
	BasePendingSecureFallback   Type = 25
	BasePendingInsecureFallback Type = 26
	BaseDraft                   Type = 27

	BaseDeletedOutgoing Type = 28
	BaseDeletedIncoming Type = 29
)

// Key-exchange byte (0xFF00).
const (
	KeyExchangeContentFormatBit   Type = 0x100
	KeyExchangeIdentityUpdateBit  Type = 0x200
	KeyExchangeBundleBit          Type = 0x400
	KeyExchangeInvalidVersionBit  Type = 0x800
	KeyExchangeCorruptedBit       Type = 0x1000
	KeyExchangeIdentityDefaultBit Type = 0x2000
	KeyExchangeIdentityVerifiedBit Type = 0x4000
	KeyExchangeBit                Type = 0x8000
	KeyExchangeMask               Type = 0xFF00
)

// Group and control flags (0xF0000).
const (
	GroupUpdateBit           Type = 0x10000
	GroupQuitBit             Type = 0x20000
	ExpirationTimerUpdateBit Type = 0x40000
	OpenGroupInvitationBit   Type = 0x80000
)

// Transport flags (0xF00000).
const (
	MessageRequestResponseBit Type = 0x100000
	PushMessageBit            Type = 0x200000
	EndSessionBit             Type = 0x400000
	SecureMessageBit          Type = 0x800000
)

// Encryption state and extraction flags (0xFF000000).
const (
	MediaSavedExtractionBit      Type = 0x01000000
	EncryptionRemoteLegacyBit    Type = 0x02000000
	EncryptionRemoteDuplicateBit Type = 0x04000000
	EncryptionRemoteNoSessionBit Type = 0x08000000
	EncryptionRemoteFailedBit    Type = 0x10000000
	ScreenshotExtractionBit      Type = 0x20000000
	EncryptionRemoteBit          Type = 0x80000000
	EncryptionMask               Type = 0xFF000000
)

// baseNames maps every defined base type to its diagnostic name. It also
// serves as the validity set for Base.
var baseNames = map[Type]string{
	BaseIncomingCall:            "incoming_call",
	BaseOutgoingCall:            "outgoing_call",
	BaseMissedCall:              "missed_call",
	BaseJoined:                  "joined",
	BaseFirstMissedCall:         "first_missed_call",
	BaseSyncing:                 "syncing",
	BaseResyncing:               "resyncing",
	BaseSyncFailed:              "sync_failed",
	BaseInbox:                   "inbox",
	BaseOutbox:                  "outbox",
	BaseSending:                 "sending",
	BaseSent:                    "sent",
	BaseSentFailed:              "sent_failed",
	BasePendingSecureFallback:   "pending_secure_fallback",
	BasePendingInsecureFallback: "pending_insecure_fallback",
	BaseDraft:                   "draft",
	BaseDeletedOutgoing:         "deleted_outgoing",
	BaseDeletedIncoming:         "deleted_incoming",
}

// baseOrder lists defined base types in ascending numeric order, used for
// the deterministic corruption fallback in Base.
var baseOrder = []Type{
	BaseIncomingCall, BaseOutgoingCall, BaseMissedCall, BaseJoined,
	BaseFirstMissedCall, BaseSyncing, BaseResyncing, BaseSyncFailed,
	BaseInbox, BaseOutbox, BaseSending, BaseSent, BaseSentFailed,
	BasePendingSecureFallback, BasePendingInsecureFallback, BaseDraft,
	BaseDeletedOutgoing, BaseDeletedIncoming,
}

// Base returns the base type stored in the low 5 bits. A corrupted nibble
// that is not a defined base type degrades deterministically: the lowest
// defined base whose bit pattern is contained in the stored nibble wins,
// and BaseInbox is the final fallback. Never panics.
func (t Type) Base() Type {
	b := t & BaseTypeMask
	if _, ok := baseNames[b]; ok {
		return b
	}
	for _, cand := range baseOrder {
		if b&cand == cand {
			return cand
		}
	}
	return BaseInbox
}

// IsOutgoing reports whether the base type belongs to the fixed outgoing
// set.
func (t Type) IsOutgoing() bool {
	switch t.Base() {
	case BaseOutbox, BaseSending, BaseSent, BaseSentFailed,
		BasePendingSecureFallback, BasePendingInsecureFallback,
		BaseSyncing, BaseResyncing, BaseSyncFailed,
		BaseDeletedOutgoing, BaseOutgoingCall:
		return true
	}
	return false
}

// IsDeleted reports whether the row is soft-deleted. This reads the raw
// nibble, not Base(), so it computes the exact same predicate as the
// store's generated is_deleted column: (type & 31) IN (28, 29).
func (t Type) IsDeleted() bool {
	b := t & BaseTypeMask
	return b == BaseDeletedOutgoing || b == BaseDeletedIncoming
}

// IsCallLog reports whether the base type is one of the call variants.
func (t Type) IsCallLog() bool {
	b := t.Base()
	return b >= BaseIncomingCall && b <= BaseFirstMissedCall
}

func (t Type) IsSecure() bool     { return t&SecureMessageBit != 0 }
func (t Type) IsPush() bool       { return t&PushMessageBit != 0 }
func (t Type) IsEndSession() bool { return t&EndSessionBit != 0 }

func (t Type) IsGroupUpdate() bool           { return t&GroupUpdateBit != 0 }
func (t Type) IsGroupQuit() bool             { return t&GroupQuitBit != 0 }
func (t Type) IsExpirationTimerUpdate() bool { return t&ExpirationTimerUpdateBit != 0 }
func (t Type) IsOpenGroupInvitation() bool   { return t&OpenGroupInvitationBit != 0 }
func (t Type) IsMessageRequestResponse() bool {
	return t&MessageRequestResponseBit != 0
}

func (t Type) IsKeyExchange() bool      { return t&KeyExchangeBit != 0 }
func (t Type) IsIdentityUpdate() bool   { return t&KeyExchangeIdentityUpdateBit != 0 }
func (t Type) IsIdentityVerified() bool { return t&KeyExchangeIdentityVerifiedBit != 0 }
func (t Type) IsIdentityDefault() bool  { return t&KeyExchangeIdentityDefaultBit != 0 }
func (t Type) IsCorruptedKeyExchange() bool {
	return t&KeyExchangeCorruptedBit != 0
}
func (t Type) IsInvalidVersionKeyExchange() bool {
	return t&KeyExchangeInvalidVersionBit != 0
}
func (t Type) IsBundleKeyExchange() bool { return t&KeyExchangeBundleBit != 0 }

func (t Type) IsFailedDecrypt() bool    { return t&EncryptionRemoteFailedBit != 0 }
func (t Type) IsNoRemoteSession() bool  { return t&EncryptionRemoteNoSessionBit != 0 }
func (t Type) IsDuplicateMessage() bool { return t&EncryptionRemoteDuplicateBit != 0 }
func (t Type) IsLegacyMessage() bool    { return t&EncryptionRemoteLegacyBit != 0 }
func (t Type) IsRemoteEncrypted() bool  { return t&EncryptionRemoteBit != 0 }

func (t Type) IsMediaSavedExtraction() bool { return t&MediaSavedExtractionBit != 0 }
func (t Type) IsScreenshotExtraction() bool { return t&ScreenshotExtractionBit != 0 }

// WithBase replaces the base nibble, leaving every flag bit untouched.
func (t Type) WithBase(base Type) Type {
	return (t &^ BaseTypeMask) | (base & BaseTypeMask)
}

// With sets the given flag bits. Setting flags never clears the base
// nibble; callers must not pass base-type values here.
func (t Type) With(bits Type) Type { return t | (bits &^ BaseTypeMask) }

// Without clears the given flag bits, leaving the base nibble untouched.
func (t Type) Without(bits Type) Type { return t &^ (bits &^ BaseTypeMask) }

// Mutate applies a read-modify-write of the form (t &^ clear) | set. The
// clear mask is confined to the bits actually being changed, so unrelated
// state survives.
func (t Type) Mutate(clear, set Type) Type { return (t &^ clear) | set }

// String renders the base name plus active flags for log output.
func (t Type) String() string {
	parts := []string{baseNames[t.Base()]}
	for _, f := range []struct {
		bit  Type
		name string
	}{
		{SecureMessageBit, "secure"},
		{PushMessageBit, "push"},
		{EndSessionBit, "end_session"},
		{MessageRequestResponseBit, "message_request_response"},
		{GroupUpdateBit, "group_update"},
		{GroupQuitBit, "group_quit"},
		{ExpirationTimerUpdateBit, "expiration_timer_update"},
		{OpenGroupInvitationBit, "open_group_invitation"},
		{KeyExchangeBit, "key_exchange"},
		{EncryptionRemoteFailedBit, "decrypt_failed"},
		{EncryptionRemoteNoSessionBit, "no_session"},
		{EncryptionRemoteDuplicateBit, "duplicate"},
		{EncryptionRemoteLegacyBit, "legacy"},
		{EncryptionRemoteBit, "remote_encrypted"},
		{MediaSavedExtractionBit, "media_saved"},
		{ScreenshotExtractionBit, "screenshot"},
	} {
		if t&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}
