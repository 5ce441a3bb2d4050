package store

import "github.com/courier-im/courier/internal/msgtype"

// Kind discriminates the two physical message tables.
type Kind string

const (
	KindText  Kind = "text"
	KindMedia Kind = "media"
)

// MessageRef identifies one message row. IDs are unique per kind, not
// globally, so a bare id is never enough.
type MessageRef struct {
	ID   int64
	Kind Kind
}

// Message is one delivered message, resolved to its kind once per row.
// Media is populated only for KindMedia.
type Message struct {
	ID                   int64
	ThreadID             int64
	Kind                 Kind
	Address              string
	Device               int
	DateSent             int64
	DateReceived         int64
	Type                 msgtype.Type
	Body                 string
	Read                 bool
	Notified             bool
	HasMention           bool
	DeliveryReceiptCount int
	ReadReceiptCount     int
	ExpiresIn            int64
	ExpireStarted        int64
	Media                *MediaInfo
}

// Ref returns the row's identity.
func (m *Message) Ref() MessageRef { return MessageRef{ID: m.ID, Kind: m.Kind} }

// MediaInfo carries the media-kind payload summary. Full attachment rows
// are fetched separately via Attachments.
type MediaInfo struct {
	AttachmentCount int
}

// TransferState tracks attachment transfer completion. The byte transfer
// itself happens elsewhere.
type TransferState int

const (
	TransferPending TransferState = iota
	TransferStarted
	TransferDone
	TransferFailed
)

// Attachment is one slide reference on a media message.
type Attachment struct {
	ID            int64
	MessageID     int64
	ContentType   string
	URI           string
	FileName      string
	Size          int64
	TransferState TransferState
}

// Distribution types for threads.
const (
	DistributionConversation = 0
	DistributionBroadcast    = 1
	DistributionCommunity    = 2
)

// Thread is the summary row for one conversation.
type Thread struct {
	ID                 int64
	Address            string
	MessageCount       int
	UnreadCount        int
	UnreadMentionCount int
	Snippet            string
	SnippetType        msgtype.Type
	SnippetURI         string
	LastSeen           int64
	Archived           bool
	Pinned             bool
	DistributionType   int
}

// Reaction is one (author, emoji) aggregate on a message, ordered by
// receipt via SortID.
type Reaction struct {
	ID           int64
	MessageID    int64
	Kind         Kind
	Author       string
	Emoji        string
	Count        int
	SortID       int64
	DateSent     int64
	DateReceived int64
}

// RecipientSettings is the flat per-address settings record, read and
// written wholesale.
type RecipientSettings struct {
	Address         string
	Blocked         bool
	Approved        bool
	ApprovedMe      bool
	MuteUntil       int64
	NotifyType      int
	MessageRingtone string
	CallRingtone    string
	MessageVibrate  int
	CallVibrate     int
	Color           string
	ProfileKey      []byte
	ProfileName     string
	ProfileAvatar   string
	Registered      bool
	ExpireMessages  int64
	Members         string
}

// Incoming is a decrypted inbound message ready for insertion. Type must
// already carry the full classification word.
type Incoming struct {
	ThreadAddress string
	Address       string
	Device        int
	DateSent      int64
	DateReceived  int64
	Body          string
	Attachments   []Attachment
	Type          msgtype.Type
	HasMention    bool
	ExpiresIn     int64
	ExpireStarted int64
}

// Outgoing is a locally authored message ready for insertion.
type Outgoing struct {
	ThreadAddress string
	Address       string
	DateSent      int64
	Body          string
	Attachments   []Attachment
	Type          msgtype.Type
	ExpiresIn     int64
}

// InsertResult identifies a freshly inserted message for the notification
// and UI layers.
type InsertResult struct {
	MessageID int64
	ThreadID  int64
	Kind      Kind
}

// ReceiptKind selects which receipt counter an increment applies to.
type ReceiptKind string

const (
	ReceiptDelivery ReceiptKind = "delivery"
	ReceiptRead     ReceiptKind = "read"
)

// ExpiringRead describes a row that just became read while carrying an
// unstarted expiry timer (disappear-after-read).
type ExpiringRead struct {
	Ref       MessageRef
	Address   string
	ExpiresIn int64
}

// SearchResult holds a matching message with its ranked snippet extract.
type SearchResult struct {
	Message       Message
	ThreadAddress string
	Snippet       string
}
