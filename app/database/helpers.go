package database

import (
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)

type rowScanner interface {
	Scan(dest ...any) error
}

// Times are stored in UTC so text comparisons in SQL order correctly.
func utc(t time.Time) time.Time {
	return t.UTC()
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func rowsAffected(result sql.Result) int64 {
	n, err := result.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
