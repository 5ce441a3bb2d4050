package store

import (
	"database/sql"
	"time"
)

// GetRecipientSettings reads the whole settings record for an address, or
// (nil, nil) when none exists; missing rows are not an error, the resolver
// substitutes defaults.
func (db *DB) GetRecipientSettings(address string) (*RecipientSettings, error) {
	s := RecipientSettings{Address: address}
	err := db.QueryRow(`
		SELECT blocked, approved, approved_me, mute_until, notify_type,
		       message_ringtone, call_ringtone, message_vibrate, call_vibrate,
		       color, profile_key, profile_name, profile_avatar,
		       registered, expire_messages, members
		FROM recipient_settings WHERE address = ?`, address).
		Scan(&s.Blocked, &s.Approved, &s.ApprovedMe, &s.MuteUntil, &s.NotifyType,
			&s.MessageRingtone, &s.CallRingtone, &s.MessageVibrate, &s.CallVibrate,
			&s.Color, &s.ProfileKey, &s.ProfileName, &s.ProfileAvatar,
			&s.Registered, &s.ExpireMessages, &s.Members)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveRecipientSettings writes the whole record in one statement so
// concurrent readers see either the old or the new settings, never a mix.
func (db *DB) SaveRecipientSettings(s *RecipientSettings) error {
	_, err := db.Exec(`
		INSERT INTO recipient_settings
			(address, blocked, approved, approved_me, mute_until, notify_type,
			 message_ringtone, call_ringtone, message_vibrate, call_vibrate,
			 color, profile_key, profile_name, profile_avatar,
			 registered, expire_messages, members, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			blocked = excluded.blocked,
			approved = excluded.approved,
			approved_me = excluded.approved_me,
			mute_until = excluded.mute_until,
			notify_type = excluded.notify_type,
			message_ringtone = excluded.message_ringtone,
			call_ringtone = excluded.call_ringtone,
			message_vibrate = excluded.message_vibrate,
			call_vibrate = excluded.call_vibrate,
			color = excluded.color,
			profile_key = excluded.profile_key,
			profile_name = excluded.profile_name,
			profile_avatar = excluded.profile_avatar,
			registered = excluded.registered,
			expire_messages = excluded.expire_messages,
			members = excluded.members,
			updated_at = excluded.updated_at`,
		s.Address, s.Blocked, s.Approved, s.ApprovedMe, s.MuteUntil, s.NotifyType,
		s.MessageRingtone, s.CallRingtone, s.MessageVibrate, s.CallVibrate,
		s.Color, s.ProfileKey, s.ProfileName, s.ProfileAvatar,
		s.Registered, s.ExpireMessages, s.Members, time.Now().UnixMilli())
	return err
}

// BlockedAddresses returns every address with a blocked settings row, for
// excluding blocked counterparts from search results.
func (db *DB) BlockedAddresses() ([]string, error) {
	rows, err := db.Query(`SELECT address FROM recipient_settings WHERE blocked = 1`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}
