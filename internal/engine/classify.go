// Package engine is the ingestion pipeline: it classifies decrypted
// inbound messages into the packed type taxonomy, inserts them, reconciles
// early receipts, arms expiration timers, and publishes domain events.
package engine

import (
	"github.com/courier-im/courier/internal/msgtype"
	"github.com/courier-im/courier/internal/store"
)

// CallType enumerates call events delivered through the message stream.
type CallType int

const (
	CallNone CallType = iota
	CallIncoming
	CallOutgoing
	CallMissed
	CallJoined
	CallFirstMissed
)

// Inbound is the decrypted message contract handed over by the protocol
// layer. ThreadAddress is the group or community address; empty means a
// one-to-one conversation keyed on Sender.
type Inbound struct {
	Sender        string
	Device        int
	ThreadAddress string
	SentAt        int64
	ReceivedAt    int64 // 0 means use the local clock
	Body          string
	Attachments   []store.Attachment
	HasMention    bool
	ExpiresIn     int64
	ExpireStarted int64

	Secure          bool
	Push            bool
	EndSession      bool
	GroupUpdate     bool
	GroupQuit       bool
	OpenGroupInvite bool
	TimerUpdate     bool
	CallType        CallType
}

// msgOutgoingType is the classification for a locally authored push text.
// The base starts at Sending; MarkSent flips it once persistence succeeds.
const msgOutgoingType = msgtype.BaseSending | msgtype.SecureMessageBit | msgtype.PushMessageBit

var callBases = map[CallType]msgtype.Type{
	CallIncoming:    msgtype.BaseIncomingCall,
	CallOutgoing:    msgtype.BaseOutgoingCall,
	CallMissed:      msgtype.BaseMissedCall,
	CallJoined:      msgtype.BaseJoined,
	CallFirstMissed: msgtype.BaseFirstMissedCall,
}

// Classify folds the inbound contract flags into the packed type word.
// Call events carry only their base; everything else starts from Inbox and
// accumulates independent flag bits.
func Classify(in *Inbound) msgtype.Type {
	if base, ok := callBases[in.CallType]; ok {
		return base
	}
	t := msgtype.BaseInbox
	if in.Secure {
		t |= msgtype.SecureMessageBit
	}
	if in.Push {
		t |= msgtype.PushMessageBit
	}
	if in.EndSession {
		t |= msgtype.EndSessionBit
	}
	if in.GroupUpdate {
		t |= msgtype.GroupUpdateBit
	}
	if in.GroupQuit {
		t |= msgtype.GroupQuitBit
	}
	if in.OpenGroupInvite {
		t |= msgtype.OpenGroupInvitationBit
	}
	if in.TimerUpdate {
		t |= msgtype.ExpirationTimerUpdateBit
	}
	return t
}
