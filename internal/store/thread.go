package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/courier-im/courier/internal/msgtype"
)

// querier is satisfied by both *sql.DB and *sql.Tx so thread helpers can
// run standalone or inside a mutation transaction.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// ThreadForAddress returns the thread id for an address, creating the
// summary row lazily on first contact.
func (db *DB) ThreadForAddress(address string) (int64, error) {
	return threadForAddressTx(db.DB, address)
}

func threadForAddressTx(q querier, address string) (int64, error) {
	now := time.Now().UnixMilli()
	if _, err := q.Exec(`
		INSERT INTO threads (address, created_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(address) DO NOTHING`, address, now, now); err != nil {
		return 0, fmt.Errorf("create thread: %w", err)
	}
	var id int64
	if err := q.QueryRow(
		`SELECT id FROM threads WHERE address = ?`, address).Scan(&id); err != nil {
		return 0, fmt.Errorf("locate thread: %w", err)
	}
	return id, nil
}

// recountThreadTx recomputes every derived thread aggregate from the
// message tables. This is the only path that touches the counters; nothing
// hand-increments them, so they cannot drift from the actual rows.
func recountThreadTx(q querier, threadID int64) error {
	var lastSeen int64
	err := q.QueryRow(
		`SELECT last_seen FROM threads WHERE id = ?`, threadID).Scan(&lastSeen)
	if err == sql.ErrNoRows {
		// Thread already removed; nothing to aggregate.
		return nil
	}
	if err != nil {
		return fmt.Errorf("load thread: %w", err)
	}

	var messageCount int
	if err := q.QueryRow(`
		SELECT COUNT(*) FROM (
			SELECT id FROM text_messages WHERE thread_id = ? AND is_deleted = 0
			UNION ALL
			SELECT id FROM media_messages WHERE thread_id = ? AND is_deleted = 0
		)`, threadID, threadID).Scan(&messageCount); err != nil {
		return fmt.Errorf("count messages: %w", err)
	}

	unread, mentions, err := unreadCounts(q, threadID, lastSeen)
	if err != nil {
		return err
	}

	// Latest non-deleted message by date_sent becomes the snippet source;
	// no survivor means the snippet is cleared, never left stale.
	var (
		body        sql.NullString
		snippetType int64
		snippetURI  string
	)
	err = q.QueryRow(`
		SELECT body, type, uri FROM (
			SELECT body, type, '' AS uri, date_sent
			FROM text_messages WHERE thread_id = ? AND is_deleted = 0
			UNION ALL
			SELECT m.body, m.type,
			       COALESCE((SELECT a.uri FROM attachments a WHERE a.message_id = m.id ORDER BY a.id LIMIT 1), ''),
			       m.date_sent
			FROM media_messages m WHERE m.thread_id = ? AND m.is_deleted = 0
		) ORDER BY date_sent DESC LIMIT 1`, threadID, threadID).
		Scan(&body, &snippetType, &snippetURI)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("load snippet source: %w", err)
	}

	if _, err := q.Exec(`
		UPDATE threads
		SET message_count = ?, unread_count = ?, unread_mention_count = ?,
		    snippet = ?, snippet_type = ?, snippet_uri = ?, updated_at = ?
		WHERE id = ?`,
		messageCount, unread, mentions,
		body.String, snippetType, snippetURI, time.Now().UnixMilli(),
		threadID); err != nil {
		return fmt.Errorf("update thread aggregates: %w", err)
	}
	return nil
}

// unreadCounts computes unread and unread-mention counts against a given
// last_seen marker: unread rows newer than the marker, plus rows whose
// reactions arrived after the marker (unseen reactions on already-read
// rows).
func unreadCounts(q querier, threadID, lastSeen int64) (int, int, error) {
	var unread, mentions int
	if err := q.QueryRow(`
		SELECT COUNT(*) FROM (
			SELECT id FROM text_messages
			WHERE thread_id = ? AND is_deleted = 0 AND read = 0 AND date_sent > ?
			UNION ALL
			SELECT id FROM media_messages
			WHERE thread_id = ? AND is_deleted = 0 AND read = 0 AND date_sent > ?
		)`, threadID, lastSeen, threadID, lastSeen).Scan(&unread); err != nil {
		return 0, 0, fmt.Errorf("count unread: %w", err)
	}
	if err := q.QueryRow(`
		SELECT COUNT(*) FROM (
			SELECT id FROM text_messages
			WHERE thread_id = ? AND is_deleted = 0 AND read = 0 AND has_mention = 1 AND date_sent > ?
			UNION ALL
			SELECT id FROM media_messages
			WHERE thread_id = ? AND is_deleted = 0 AND read = 0 AND has_mention = 1 AND date_sent > ?
		)`, threadID, lastSeen, threadID, lastSeen).Scan(&mentions); err != nil {
		return 0, 0, fmt.Errorf("count unread mentions: %w", err)
	}

	var reacted, reactedMentions int
	if err := q.QueryRow(`
		SELECT COUNT(*) FROM (
			SELECT DISTINCT r.message_id, r.is_media
			FROM reactions r JOIN text_messages m ON r.is_media = 0 AND m.id = r.message_id
			WHERE m.thread_id = ? AND m.is_deleted = 0 AND m.read = 1 AND r.date_sent > ?
			UNION
			SELECT DISTINCT r.message_id, r.is_media
			FROM reactions r JOIN media_messages m ON r.is_media = 1 AND m.id = r.message_id
			WHERE m.thread_id = ? AND m.is_deleted = 0 AND m.read = 1 AND r.date_sent > ?
		)`, threadID, lastSeen, threadID, lastSeen).Scan(&reacted); err != nil {
		return 0, 0, fmt.Errorf("count unseen reactions: %w", err)
	}
	if err := q.QueryRow(`
		SELECT COUNT(*) FROM (
			SELECT DISTINCT r.message_id, r.is_media
			FROM reactions r JOIN text_messages m ON r.is_media = 0 AND m.id = r.message_id
			WHERE m.thread_id = ? AND m.is_deleted = 0 AND m.read = 1 AND m.has_mention = 1 AND r.date_sent > ?
			UNION
			SELECT DISTINCT r.message_id, r.is_media
			FROM reactions r JOIN media_messages m ON r.is_media = 1 AND m.id = r.message_id
			WHERE m.thread_id = ? AND m.is_deleted = 0 AND m.read = 1 AND m.has_mention = 1 AND r.date_sent > ?
		)`, threadID, lastSeen, threadID, lastSeen).Scan(&reactedMentions); err != nil {
		return 0, 0, fmt.Errorf("count unseen reaction mentions: %w", err)
	}
	return unread + reacted, mentions + reactedMentions, nil
}

// markableTx reports whether read-marking is meaningful for a thread:
// false for missing threads and for zero-message community or broadcast
// placeholders, which are externally driven and must reject a seen marker
// rather than silently accept one.
func markableTx(q querier, threadID int64) (bool, error) {
	var distribution, count int
	err := q.QueryRow(
		`SELECT distribution_type, message_count FROM threads WHERE id = ?`,
		threadID).Scan(&distribution, &count)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load thread: %w", err)
	}
	if count == 0 && distribution != DistributionConversation {
		return false, nil
	}
	return true, nil
}

// SetLastSeen moves the thread's seen marker and recomputes the unread
// counters against it. Returns false without mutating anything when the
// thread is missing or an empty community placeholder.
func (db *DB) SetLastSeen(threadID, at int64) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ok, err := setLastSeenTx(tx, threadID, at)
	if err != nil || !ok {
		return ok, err
	}
	return true, tx.Commit()
}

func setLastSeenTx(tx *sql.Tx, threadID, at int64) (bool, error) {
	ok, err := markableTx(tx, threadID)
	if err != nil || !ok {
		return ok, err
	}
	if at <= 0 {
		at = time.Now().UnixMilli()
	}
	if _, err := tx.Exec(
		`UPDATE threads SET last_seen = ? WHERE id = ?`, at, threadID); err != nil {
		return false, fmt.Errorf("set last seen: %w", err)
	}
	if err := recountThreadTx(tx, threadID); err != nil {
		return false, err
	}
	return true, nil
}

// MarkThreadRead bulk-marks both message kinds read up to lastSeen, then
// moves the seen marker. It returns the rows that just became read while
// carrying an unstarted expiry timer, so the caller can arm
// disappear-after-read deletion. The second return mirrors SetLastSeen's
// placeholder rejection.
func (db *DB) MarkThreadRead(threadID, lastSeen int64) ([]ExpiringRead, bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ok, err := markableTx(tx, threadID)
	if err != nil || !ok {
		return nil, ok, err
	}

	rows, err := tx.Query(`
		SELECT id, 'text' AS kind, address, expires_in FROM text_messages
		WHERE thread_id = ? AND read = 0 AND date_sent <= ? AND is_deleted = 0
		  AND expires_in > 0 AND expire_started = 0
		UNION ALL
		SELECT id, 'media' AS kind, address, expires_in FROM media_messages
		WHERE thread_id = ? AND read = 0 AND date_sent <= ? AND is_deleted = 0
		  AND expires_in > 0 AND expire_started = 0`,
		threadID, lastSeen, threadID, lastSeen)
	if err != nil {
		return nil, false, fmt.Errorf("collect expiring reads: %w", err)
	}
	var expiring []ExpiringRead
	for rows.Next() {
		var e ExpiringRead
		if err := rows.Scan(&e.Ref.ID, &e.Ref.Kind, &e.Address, &e.ExpiresIn); err != nil {
			_ = rows.Close()
			return nil, false, err
		}
		expiring = append(expiring, e)
	}
	if err := rows.Close(); err != nil {
		return nil, false, err
	}

	for _, table := range []string{"text_messages", "media_messages"} {
		if _, err := tx.Exec(`
			UPDATE `+table+` SET read = 1, notified = 1
			WHERE thread_id = ? AND read = 0 AND date_sent <= ?`,
			threadID, lastSeen); err != nil {
			return nil, false, fmt.Errorf("mark read: %w", err)
		}
	}

	if _, err := setLastSeenTx(tx, threadID, lastSeen); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit read mark: %w", err)
	}
	return expiring, true, nil
}

// GetThread returns one summary row, or (nil, nil) when absent.
func (db *DB) GetThread(threadID int64) (*Thread, error) {
	var t Thread
	var snippetType int64
	err := db.QueryRow(`
		SELECT id, address, message_count, unread_count, unread_mention_count,
		       snippet, snippet_type, snippet_uri, last_seen,
		       archived, pinned, distribution_type
		FROM threads WHERE id = ?`, threadID).
		Scan(&t.ID, &t.Address, &t.MessageCount, &t.UnreadCount,
			&t.UnreadMentionCount, &t.Snippet, &snippetType, &t.SnippetURI,
			&t.LastSeen, &t.Archived, &t.Pinned, &t.DistributionType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.SnippetType = msgtype.Type(snippetType)
	return &t, nil
}

// ListThreads returns the conversation list, pinned first, then most
// recently touched. Archived threads are filtered unless requested.
func (db *DB) ListThreads(includeArchived bool) ([]Thread, error) {
	q := `
		SELECT id, address, message_count, unread_count, unread_mention_count,
		       snippet, snippet_type, snippet_uri, last_seen,
		       archived, pinned, distribution_type
		FROM threads`
	if !includeArchived {
		q += ` WHERE archived = 0`
	}
	q += ` ORDER BY pinned DESC, updated_at DESC`

	rows, err := db.Query(q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var threads []Thread
	for rows.Next() {
		var t Thread
		var snippetType int64
		if err := rows.Scan(&t.ID, &t.Address, &t.MessageCount, &t.UnreadCount,
			&t.UnreadMentionCount, &t.Snippet, &snippetType, &t.SnippetURI,
			&t.LastSeen, &t.Archived, &t.Pinned, &t.DistributionType); err != nil {
			return nil, err
		}
		t.SnippetType = msgtype.Type(snippetType)
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// DeleteThread removes a conversation and everything hanging off it.
func (db *DB) DeleteThread(threadID int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	steps := []string{
		`DELETE FROM reactions WHERE is_media = 0 AND message_id IN
			(SELECT id FROM text_messages WHERE thread_id = ?)`,
		`DELETE FROM reactions WHERE is_media = 1 AND message_id IN
			(SELECT id FROM media_messages WHERE thread_id = ?)`,
		`DELETE FROM attachments WHERE message_id IN
			(SELECT id FROM media_messages WHERE thread_id = ?)`,
		`DELETE FROM text_messages WHERE thread_id = ?`,
		`DELETE FROM media_messages WHERE thread_id = ?`,
		`DELETE FROM threads WHERE id = ?`,
	}
	for _, q := range steps {
		if _, err := tx.Exec(q, threadID); err != nil {
			return fmt.Errorf("delete thread: %w", err)
		}
	}
	return tx.Commit()
}

// SetThreadArchived flips the archived flag.
func (db *DB) SetThreadArchived(threadID int64, archived bool) error {
	return db.setThreadFlag(threadID, "archived", archived)
}

// SetThreadPinned flips the pinned flag.
func (db *DB) SetThreadPinned(threadID int64, pinned bool) error {
	return db.setThreadFlag(threadID, "pinned", pinned)
}

func (db *DB) setThreadFlag(threadID int64, column string, v bool) error {
	res, err := db.Exec(
		`UPDATE threads SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		v, time.Now().UnixMilli(), threadID)
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

// SetThreadDistribution records how the thread is driven (conversation,
// broadcast, community placeholder).
func (db *DB) SetThreadDistribution(threadID int64, distribution int) error {
	res, err := db.Exec(
		`UPDATE threads SET distribution_type = ?, updated_at = ? WHERE id = ?`,
		distribution, time.Now().UnixMilli(), threadID)
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
