package history

import (
	"context"
	"database/sql"
)

// PostgresStore keeps the conversation log in a chat_messages table:
//
//	CREATE TABLE chat_messages (
//	    id         BIGSERIAL PRIMARY KEY,
//	    phone      TEXT NOT NULL,
//	    role       TEXT NOT NULL,
//	    content    TEXT NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE INDEX chat_messages_phone_idx ON chat_messages (phone, created_at);
type PostgresStore struct {
	db            *sql.DB
	retentionDays int
}

func NewPostgresStore(db *sql.DB, retentionDays int) *PostgresStore {
	return &PostgresStore{db: db, retentionDays: retentionDays}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Record(ctx context.Context, phone, role, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (phone, role, content, created_at)
		VALUES ($1, $2, $3, now())
	`, contactKey(phone), role, content)
	return err
}

func (s *PostgresStore) Context(ctx context.Context, phone string, n int) ([]Message, error) {
	if n <= 0 {
		n = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at
		FROM chat_messages
		WHERE phone = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, contactKey(phone), n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returns newest first; callers want chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *PostgresStore) CleanOld(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM chat_messages
		WHERE created_at < now() - make_interval(days => $1)
	`, s.retentionDays)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT phone),
			COUNT(DISTINCT phone) FILTER (WHERE created_at > now() - interval '24 hours'),
			COUNT(*)
		FROM chat_messages
	`).Scan(&st.TotalContacts, &st.ActiveContacts, &st.TotalMessages)
	if err != nil {
		return Stats{}, err
	}

	if st.TotalContacts > 0 {
		st.AveragePerContact = st.TotalMessages / st.TotalContacts
	}
	return st, nil
}
