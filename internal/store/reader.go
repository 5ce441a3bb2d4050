package store

import (
	"database/sql"

	"github.com/courier-im/courier/internal/msgtype"
)

// Reader is a lazy, forward-only, non-restartable sequence over a thread's
// combined timeline. Each row is resolved to its kind exactly once during
// the scan. Callers must Close it; pair the call with defer.
type Reader struct {
	rows *sql.Rows
	cur  Message
	err  error
}

// MessagesForThread opens a combined reader over both message kinds,
// ordered by date_received ascending, the authoritative display order.
func (db *DB) MessagesForThread(threadID int64) (*Reader, error) {
	rows, err := db.Query(`
		SELECT id, 'text' AS kind, thread_id, address, device,
		       date_sent, date_received, type, COALESCE(body, ''),
		       read, notified, has_mention,
		       delivery_receipt_count, read_receipt_count,
		       expires_in, expire_started,
		       0 AS attachment_count
		FROM text_messages WHERE thread_id = ?
		UNION ALL
		SELECT m.id, 'media' AS kind, m.thread_id, m.address, m.device,
		       m.date_sent, m.date_received, m.type, COALESCE(m.body, ''),
		       m.read, m.notified, m.has_mention,
		       m.delivery_receipt_count, m.read_receipt_count,
		       m.expires_in, m.expire_started,
		       (SELECT COUNT(*) FROM attachments a WHERE a.message_id = m.id)
		FROM media_messages m WHERE m.thread_id = ?
		ORDER BY date_received ASC`, threadID, threadID)
	if err != nil {
		return nil, err
	}
	return &Reader{rows: rows}, nil
}

// Next advances to the following row. It returns false at the end of the
// sequence or on error; check Err afterwards.
func (r *Reader) Next() bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}
	var (
		m               Message
		raw             int64
		attachmentCount int
	)
	r.err = r.rows.Scan(&m.ID, &m.Kind, &m.ThreadID, &m.Address, &m.Device,
		&m.DateSent, &m.DateReceived, &raw, &m.Body,
		&m.Read, &m.Notified, &m.HasMention,
		&m.DeliveryReceiptCount, &m.ReadReceiptCount,
		&m.ExpiresIn, &m.ExpireStarted,
		&attachmentCount)
	if r.err != nil {
		return false
	}
	m.Type = msgtype.Type(raw)
	if m.Kind == KindMedia {
		m.Media = &MediaInfo{AttachmentCount: attachmentCount}
	}
	r.cur = m
	return true
}

// Message returns the current row. Only valid after a true Next.
func (r *Reader) Message() *Message { return &r.cur }

// Err reports the first error hit during iteration.
func (r *Reader) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.rows.Err()
}

// Close releases the underlying cursor. Safe to call more than once.
func (r *Reader) Close() error { return r.rows.Close() }
