package store

import (
	"fmt"
)

// AddReaction records one reaction keyed by (author, emoji); repeats
// aggregate into the count. Reactions feed the unseen-reaction part of the
// unread counters, so the owning thread is recounted in the same
// transaction. Reacting to a soft-deleted row is a no-op.
func (db *DB) AddReaction(ref MessageRef, author, emoji string, dateSent, dateReceived int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	threadID, typ, err := messageTypeTx(tx, ref)
	if err != nil {
		return err
	}
	if typ.IsDeleted() {
		return nil
	}

	if _, err := tx.Exec(`
		INSERT INTO reactions
			(message_id, is_media, author, emoji, count, sort_id, date_sent, date_received)
		VALUES (?, ?, ?, ?, 1,
			(SELECT COALESCE(MAX(sort_id), 0) + 1 FROM reactions WHERE message_id = ? AND is_media = ?),
			?, ?)
		ON CONFLICT(message_id, is_media, author, emoji) DO UPDATE SET
			count = count + 1,
			date_sent = excluded.date_sent,
			date_received = excluded.date_received`,
		ref.ID, ref.Kind == KindMedia, author, emoji,
		ref.ID, ref.Kind == KindMedia,
		dateSent, dateReceived); err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	if err := recountThreadTx(tx, threadID); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveReaction drops one (author, emoji) aggregate.
func (db *DB) RemoveReaction(ref MessageRef, author, emoji string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	threadID, _, err := messageTypeTx(tx, ref)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`
		DELETE FROM reactions
		WHERE message_id = ? AND is_media = ? AND author = ? AND emoji = ?`,
		ref.ID, ref.Kind == KindMedia, author, emoji); err != nil {
		return fmt.Errorf("remove reaction: %w", err)
	}
	if err := recountThreadTx(tx, threadID); err != nil {
		return err
	}
	return tx.Commit()
}

// ReactionsFor lists a message's reactions in receipt order.
func (db *DB) ReactionsFor(ref MessageRef) ([]Reaction, error) {
	rows, err := db.Query(`
		SELECT id, message_id, author, emoji, count, sort_id, date_sent, date_received
		FROM reactions WHERE message_id = ? AND is_media = ?
		ORDER BY sort_id ASC`,
		ref.ID, ref.Kind == KindMedia)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var reactions []Reaction
	for rows.Next() {
		r := Reaction{Kind: ref.Kind}
		if err := rows.Scan(&r.ID, &r.MessageID, &r.Author, &r.Emoji,
			&r.Count, &r.SortID, &r.DateSent, &r.DateReceived); err != nil {
			return nil, err
		}
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}
