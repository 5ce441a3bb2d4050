package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/courier-im/courier/internal/msgtype"
)

// ErrNotFound is returned by mutations targeting a message that does not
// exist.
var ErrNotFound = errors.New("store: message not found")

// outgoingBaseSQL matches rows whose base type is in the outgoing set and
// not soft-deleted; receipt lookups are restricted to these.
const outgoingBaseSQL = "(type & 31) IN (17, 18, 19, 21, 22, 23, 24, 25, 26)"

func tableFor(kind Kind) string {
	if kind == KindMedia {
		return "media_messages"
	}
	return "text_messages"
}

// kindFor picks the physical table for a payload.
func kindFor(attachments []Attachment) Kind {
	if len(attachments) > 0 {
		return KindMedia
	}
	return KindText
}

// InsertIncoming stores a decrypted inbound message. A row already matching
// (thread_id, address, date_sent) in the target kind is a redelivery, not
// an error: the result is (nil, nil) and nothing is written. The owning
// thread's aggregates are recomputed in the same transaction.
func (db *DB) InsertIncoming(in *Incoming) (*InsertResult, error) {
	kind := kindFor(in.Attachments)
	threadAddr := in.ThreadAddress
	if threadAddr == "" {
		threadAddr = in.Address
	}
	device := in.Device
	if device == 0 {
		device = 1
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	threadID, err := threadForAddressTx(tx, threadAddr)
	if err != nil {
		return nil, err
	}

	dup, err := messageExistsTx(tx, kind, threadID, in.Address, in.DateSent)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, nil
	}

	res, err := tx.Exec(`
		INSERT INTO `+tableFor(kind)+`
			(thread_id, address, device, date_sent, date_received, type, body,
			 read, notified, has_mention, expires_in, expire_started)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?)`,
		threadID, in.Address, device, in.DateSent, in.DateReceived,
		int64(in.Type), nullableBody(in.Body), in.HasMention, in.ExpiresIn, in.ExpireStarted)
	if err != nil {
		return nil, fmt.Errorf("insert %s message: %w", kind, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if kind == KindMedia {
		if err := insertAttachmentsTx(tx, id, in.Attachments); err != nil {
			return nil, err
		}
	}

	if err := recountThreadTx(tx, threadID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert: %w", err)
	}
	return &InsertResult{MessageID: id, ThreadID: threadID, Kind: kind}, nil
}

// InsertOutgoing stores a locally authored message. The row starts in
// whatever base type the caller classified (normally Sending); the
// outbox-to-sent transition is never implicit, callers follow up with
// MarkSent. Duplicate rule matches InsertIncoming, keyed on the recipient
// address.
func (db *DB) InsertOutgoing(out *Outgoing) (*InsertResult, error) {
	kind := kindFor(out.Attachments)
	threadAddr := out.ThreadAddress
	if threadAddr == "" {
		threadAddr = out.Address
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	threadID, err := threadForAddressTx(tx, threadAddr)
	if err != nil {
		return nil, err
	}

	dup, err := messageExistsTx(tx, kind, threadID, out.Address, out.DateSent)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, nil
	}

	// Outgoing rows are read for the sender; date_received mirrors
	// date_sent for local writes.
	res, err := tx.Exec(`
		INSERT INTO `+tableFor(kind)+`
			(thread_id, address, device, date_sent, date_received, type, body,
			 read, notified, has_mention, expires_in, expire_started)
		VALUES (?, ?, 1, ?, ?, ?, ?, 1, 1, 0, ?, 0)`,
		threadID, out.Address, out.DateSent, out.DateSent,
		int64(out.Type), nullableBody(out.Body), out.ExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("insert %s message: %w", kind, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if kind == KindMedia {
		if err := insertAttachmentsTx(tx, id, out.Attachments); err != nil {
			return nil, err
		}
	}

	if err := recountThreadTx(tx, threadID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert: %w", err)
	}
	return &InsertResult{MessageID: id, ThreadID: threadID, Kind: kind}, nil
}

func messageExistsTx(tx *sql.Tx, kind Kind, threadID int64, address string, dateSent int64) (bool, error) {
	var n int
	err := tx.QueryRow(`
		SELECT COUNT(*) FROM `+tableFor(kind)+`
		WHERE thread_id = ? AND address = ? AND date_sent = ?`,
		threadID, address, dateSent).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("duplicate check: %w", err)
	}
	return n > 0, nil
}

func insertAttachmentsTx(tx *sql.Tx, messageID int64, atts []Attachment) error {
	for _, a := range atts {
		if _, err := tx.Exec(`
			INSERT INTO attachments (message_id, content_type, uri, file_name, size, transfer_state)
			VALUES (?, ?, ?, ?, ?, ?)`,
			messageID, a.ContentType, a.URI, a.FileName, a.Size, a.TransferState); err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
	}
	return nil
}

func nullableBody(body string) any {
	if body == "" {
		return nil
	}
	return body
}

// MutateType applies (type &^ clear) | set atomically and recomputes the
// owning thread, since a status transition can change the displayed
// snippet state.
func (db *DB) MutateType(ref MessageRef, clear, set msgtype.Type) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	threadID, cur, err := messageTypeTx(tx, ref)
	if err != nil {
		return err
	}
	next := cur.Mutate(clear, set)
	if _, err := tx.Exec(
		`UPDATE `+tableFor(ref.Kind)+` SET type = ? WHERE id = ?`,
		int64(next), ref.ID); err != nil {
		return fmt.Errorf("update type: %w", err)
	}
	if err := recountThreadTx(tx, threadID); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkSent transitions a just-persisted outgoing row out of Sending.
func (db *DB) MarkSent(ref MessageRef) error {
	return db.MutateType(ref, msgtype.BaseTypeMask, msgtype.BaseSent)
}

// MarkSendFailed transitions an outgoing row to the failed state.
func (db *DB) MarkSendFailed(ref MessageRef) error {
	return db.MutateType(ref, msgtype.BaseTypeMask, msgtype.BaseSentFailed)
}

func messageTypeTx(tx *sql.Tx, ref MessageRef) (int64, msgtype.Type, error) {
	var threadID, raw int64
	err := tx.QueryRow(
		`SELECT thread_id, type FROM `+tableFor(ref.Kind)+` WHERE id = ?`,
		ref.ID).Scan(&threadID, &raw)
	if err == sql.ErrNoRows {
		return 0, 0, ErrNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("load message type: %w", err)
	}
	return threadID, msgtype.Type(raw), nil
}

// MarkDeleted soft-deletes a row: the base type flips to the deleted
// variant for its direction, the body is replaced with displayBody, the
// mention flag and receipt counters reset, and its reactions are removed.
// The row stays for timeline ordering; thread aggregates exclude it.
func (db *DB) MarkDeleted(ref MessageRef, displayBody string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	threadID, cur, err := messageTypeTx(tx, ref)
	if err != nil {
		return err
	}
	base := msgtype.BaseDeletedIncoming
	if cur.IsOutgoing() {
		base = msgtype.BaseDeletedOutgoing
	}
	next := cur.WithBase(base)

	if _, err := tx.Exec(`
		UPDATE `+tableFor(ref.Kind)+`
		SET type = ?, body = ?, has_mention = 0, read = 1,
		    delivery_receipt_count = 0, read_receipt_count = 0
		WHERE id = ?`,
		int64(next), displayBody, ref.ID); err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	if _, err := tx.Exec(
		`DELETE FROM reactions WHERE message_id = ? AND is_media = ?`,
		ref.ID, ref.Kind == KindMedia); err != nil {
		return fmt.Errorf("delete reactions: %w", err)
	}
	if err := recountThreadTx(tx, threadID); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete hard-deletes one row and returns the owning thread id for the
// caller's refresh.
func (db *DB) Delete(ref MessageRef) (int64, error) {
	threads, err := db.DeleteBatch([]MessageRef{ref})
	if err != nil {
		return 0, err
	}
	if len(threads) == 0 {
		return 0, ErrNotFound
	}
	return threads[0], nil
}

// DeleteBatch hard-deletes a set of rows in one transaction, cascading
// reaction removal, and recounts each affected thread exactly once.
// Returns the affected thread ids. Missing rows are skipped.
func (db *DB) DeleteBatch(refs []MessageRef) ([]int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	affected := make(map[int64]struct{})
	for _, ref := range refs {
		var threadID int64
		err := tx.QueryRow(
			`SELECT thread_id FROM `+tableFor(ref.Kind)+` WHERE id = ?`,
			ref.ID).Scan(&threadID)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("locate message: %w", err)
		}
		if _, err := tx.Exec(
			`DELETE FROM `+tableFor(ref.Kind)+` WHERE id = ?`, ref.ID); err != nil {
			return nil, fmt.Errorf("delete message: %w", err)
		}
		if _, err := tx.Exec(
			`DELETE FROM reactions WHERE message_id = ? AND is_media = ?`,
			ref.ID, ref.Kind == KindMedia); err != nil {
			return nil, fmt.Errorf("delete reactions: %w", err)
		}
		affected[threadID] = struct{}{}
	}

	var threads []int64
	for tid := range affected {
		if err := recountThreadTx(tx, tid); err != nil {
			return nil, err
		}
		threads = append(threads, tid)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete batch: %w", err)
	}
	return threads, nil
}

// ExpiredMessages returns every row across both kinds whose started timer
// has elapsed at now.
func (db *DB) ExpiredMessages(now int64) ([]MessageRef, error) {
	rows, err := db.Query(`
		SELECT id, 'text' AS kind FROM text_messages
		WHERE expires_in > 0 AND expire_started > 0 AND expire_started + expires_in <= ?
		UNION ALL
		SELECT id, 'media' AS kind FROM media_messages
		WHERE expires_in > 0 AND expire_started > 0 AND expire_started + expires_in <= ?`,
		now, now)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var refs []MessageRef
	for rows.Next() {
		var ref MessageRef
		if err := rows.Scan(&ref.ID, &ref.Kind); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// NextExpiration returns the earliest pending deadline in epoch millis, or
// zero when no started timer exists. The sweep cadence is bounded by this,
// never a fixed poll.
func (db *DB) NextExpiration() (int64, error) {
	var deadline sql.NullInt64
	err := db.QueryRow(`
		SELECT MIN(deadline) FROM (
			SELECT expire_started + expires_in AS deadline FROM text_messages
			WHERE expires_in > 0 AND expire_started > 0
			UNION ALL
			SELECT expire_started + expires_in AS deadline FROM media_messages
			WHERE expires_in > 0 AND expire_started > 0
		)`).Scan(&deadline)
	if err != nil {
		return 0, err
	}
	if !deadline.Valid {
		return 0, nil
	}
	return deadline.Int64, nil
}

// StartExpiration arms a disappear-after-read timer. Distinct from
// creation: only rows with a positive duration and no started timer are
// touched, so repeated calls are no-ops. Returns whether the row changed.
func (db *DB) StartExpiration(ref MessageRef, startedAt int64) (bool, error) {
	res, err := db.Exec(`
		UPDATE `+tableFor(ref.Kind)+`
		SET expire_started = ?
		WHERE id = ? AND expires_in > 0 AND expire_started = 0`,
		startedAt, ref.ID)
	if err != nil {
		return false, fmt.Errorf("start expiration: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// IncrementReceipt applies a delivery or read receipt to the outgoing
// message matching (address, date_sent) in either kind. Returns the owning
// thread id and false when no such row exists yet; the caller then defers
// the receipt to the early-receipt cache.
func (db *DB) IncrementReceipt(address string, dateSent int64, kind ReceiptKind, n int) (int64, bool, error) {
	col := "delivery_receipt_count"
	if kind == ReceiptRead {
		col = "read_receipt_count"
	}
	for _, k := range []Kind{KindText, KindMedia} {
		res, err := db.Exec(`
			UPDATE `+tableFor(k)+` SET `+col+` = `+col+` + ?
			WHERE address = ? AND date_sent = ? AND `+outgoingBaseSQL,
			n, address, dateSent)
		if err != nil {
			return 0, false, fmt.Errorf("increment receipt: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, false, err
		}
		if affected > 0 {
			var threadID int64
			err := db.QueryRow(`
				SELECT thread_id FROM `+tableFor(k)+`
				WHERE address = ? AND date_sent = ? AND `+outgoingBaseSQL+`
				LIMIT 1`, address, dateSent).Scan(&threadID)
			if err != nil {
				return 0, false, fmt.Errorf("locate receipt thread: %w", err)
			}
			return threadID, true, nil
		}
	}
	return 0, false, nil
}

// GetMessage fetches one row, or (nil, nil) when absent.
func (db *DB) GetMessage(ref MessageRef) (*Message, error) {
	m := Message{ID: ref.ID, Kind: ref.Kind}
	var raw int64
	var body sql.NullString
	err := db.QueryRow(`
		SELECT thread_id, address, device, date_sent, date_received, type,
		       body, read, notified, has_mention,
		       delivery_receipt_count, read_receipt_count,
		       expires_in, expire_started
		FROM `+tableFor(ref.Kind)+` WHERE id = ?`, ref.ID).
		Scan(&m.ThreadID, &m.Address, &m.Device, &m.DateSent, &m.DateReceived,
			&raw, &body, &m.Read, &m.Notified, &m.HasMention,
			&m.DeliveryReceiptCount, &m.ReadReceiptCount,
			&m.ExpiresIn, &m.ExpireStarted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Type = msgtype.Type(raw)
	m.Body = body.String
	if ref.Kind == KindMedia {
		var count int
		if err := db.QueryRow(
			`SELECT COUNT(*) FROM attachments WHERE message_id = ?`, ref.ID).
			Scan(&count); err != nil {
			return nil, err
		}
		m.Media = &MediaInfo{AttachmentCount: count}
	}
	return &m, nil
}

// MessagePosition returns the zero-based position of a message inside its
// thread when the thread is ordered by date_sent descending (the search
// and jump-to-message view order, not the display order).
func (db *DB) MessagePosition(threadID, dateSent int64) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM (
			SELECT date_sent FROM text_messages
			WHERE thread_id = ? AND is_deleted = 0 AND date_sent > ?
			UNION ALL
			SELECT date_sent FROM media_messages
			WHERE thread_id = ? AND is_deleted = 0 AND date_sent > ?
		)`, threadID, dateSent, threadID, dateSent).Scan(&n)
	return n, err
}

// Attachments returns the slide references for a media message.
func (db *DB) Attachments(messageID int64) ([]Attachment, error) {
	rows, err := db.Query(`
		SELECT id, message_id, content_type, uri, file_name, size, transfer_state
		FROM attachments WHERE message_id = ? ORDER BY id`, messageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var atts []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.ContentType, &a.URI,
			&a.FileName, &a.Size, &a.TransferState); err != nil {
			return nil, err
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

// SetAttachmentTransferState records transfer completion for one slide.
func (db *DB) SetAttachmentTransferState(attachmentID int64, state TransferState) error {
	res, err := db.Exec(
		`UPDATE attachments SET transfer_state = ? WHERE id = ?`,
		state, attachmentID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
