package msgtype

// legacyTypes maps the sequential numbering used before the packed
// encoding to current Type values. This is a durable translation table for
// importing old rows; it must never be rewritten in terms of current enum
// ordering.
var legacyTypes = map[int64]Type{
	1:  BaseInbox,
	2:  BaseSent,
	3:  BaseSentFailed,
	4:  BaseDraft,
	5:  BaseOutbox,
	6:  BaseSent | SecureMessageBit,
	7:  BaseInbox | SecureMessageBit,
	8:  BaseInbox | EncryptionRemoteFailedBit,
	9:  BaseInbox | EncryptionRemoteNoSessionBit,
	10: BaseInbox | KeyExchangeBit,
}

// TranslateLegacy converts a legacy numeric type to the packed encoding.
// The second return is false for numbers the old schema never produced.
func TranslateLegacy(v int64) (Type, bool) {
	t, ok := legacyTypes[v]
	return t, ok
}
