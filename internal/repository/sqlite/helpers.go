package sqlite

import (
	"time"

	"github.com/jmoiron/sqlx"
)

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// sqlxIn expands a "... IN (?)" query for a slice argument, the way sqlx's
// own documentation recommends for IN-clause queries against a plain
// *sqlx.DB rather than a transaction.
func sqlxIn(query string, args ...any) (string, []any, error) {
	q, expanded, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return q, expanded, nil
}
