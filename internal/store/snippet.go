package store

import (
	"strings"

	"github.com/courier-im/courier/internal/msgtype"
)

// FormatSnippet renders the thread preview for a snippet source. Pure
// function of the latest message's body, type and first attachment so the
// display rules stay testable without a database.
func FormatSnippet(body string, typ msgtype.Type, attachmentURI string) string {
	switch {
	case typ.IsDeleted():
		// MarkDeleted already substituted the display text.
		return body
	case typ.IsGroupUpdate():
		return "Group updated"
	case typ.IsGroupQuit():
		return "Left the group"
	case typ.IsOpenGroupInvitation():
		return "Community invitation"
	case typ.IsExpirationTimerUpdate():
		return "Disappearing message timer updated"
	case typ.IsEndSession():
		return "Secure session reset"
	case typ.IsCallLog():
		switch typ.Base() {
		case msgtype.BaseIncomingCall:
			return "Incoming call"
		case msgtype.BaseOutgoingCall:
			return "Outgoing call"
		case msgtype.BaseMissedCall, msgtype.BaseFirstMissedCall:
			return "Missed call"
		default:
			return "Call"
		}
	}

	if attachmentURI != "" {
		if strings.HasSuffix(attachmentURI, ".vcf") {
			return "Contact"
		}
		if body != "" {
			return "Attachment: " + body
		}
		return "Attachment"
	}
	return body
}
