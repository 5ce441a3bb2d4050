package store

import (
	"strings"

	"github.com/courier-im/courier/internal/msgtype"
)

// buildMatch tokenizes a raw query on whitespace and appends a prefix
// wildcard per token, quoting each so FTS operator words pass through as
// literals.
func buildMatch(query string) string {
	var tokens []string
	for _, tok := range strings.Fields(query) {
		tok = strings.ReplaceAll(tok, `"`, "")
		if tok == "" {
			continue
		}
		tokens = append(tokens, `"`+tok+`"*`)
	}
	return strings.Join(tokens, " ")
}

// Search runs a ranked full-text query over both message kinds. Soft-
// deleted and group-update rows are excluded, as are threads whose address
// is in excludedAddresses. threadID restricts to one conversation when
// positive. Results order by FTS rank, then date_sent descending (the
// search view order). A non-positive limit defaults to 50.
func (db *DB) Search(query string, threadID int64, excludedAddresses []string, limit int) ([]SearchResult, error) {
	match := buildMatch(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	var filters strings.Builder
	var extra []any
	if threadID > 0 {
		filters.WriteString(" AND m.thread_id = ?")
		extra = append(extra, threadID)
	}
	if len(excludedAddresses) > 0 {
		filters.WriteString(" AND t.address NOT IN (?" +
			strings.Repeat(", ?", len(excludedAddresses)-1) + ")")
		for _, a := range excludedAddresses {
			extra = append(extra, a)
		}
	}

	part := func(fts, table, kind string) string {
		return `
		SELECT m.id, '` + kind + `' AS kind, m.thread_id, m.address,
		       m.date_sent, m.date_received, m.type, COALESCE(m.body, ''),
		       t.address AS thread_address,
		       snippet(` + fts + `, 0, '<<', '>>', '...', 32) AS extract,
		       rank AS score
		FROM ` + fts + ` f
		JOIN ` + table + ` m ON m.id = f.rowid
		JOIN threads t ON t.id = m.thread_id
		WHERE ` + fts + ` MATCH ? AND m.is_deleted = 0 AND m.is_group_update = 0` +
			filters.String()
	}

	q := part("text_fts", "text_messages", "text") +
		" UNION ALL " + part("media_fts", "media_messages", "media") +
		" ORDER BY score, date_sent DESC LIMIT ?"

	args := []any{match}
	args = append(args, extra...)
	args = append(args, match)
	args = append(args, extra...)
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var (
			r     SearchResult
			raw   int64
			score float64
		)
		if err := rows.Scan(&r.Message.ID, &r.Message.Kind, &r.Message.ThreadID,
			&r.Message.Address, &r.Message.DateSent, &r.Message.DateReceived,
			&raw, &r.Message.Body, &r.ThreadAddress, &r.Snippet, &score); err != nil {
			return nil, err
		}
		r.Message.Type = msgtype.Type(raw)
		results = append(results, r)
	}
	return results, rows.Err()
}
