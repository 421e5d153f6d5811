package repository

import (
	"database/sql"
	"encoding/json"
	"time"
)

// nullString converts an empty string to NULL for database storage.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// formatTime renders a timestamp for storage. Always UTC: stored values are
// compared lexically against UTC cutoffs, so a local offset would break the
// ordering.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// nullTime converts a nil time pointer to NULL for database storage.
func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// parseTime parses an RFC3339 timestamp, returning the zero time on failure.
func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// parseTimePtr parses a nullable RFC3339 timestamp column.
func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// marshalMetadata serialises a metadata map to a nullable JSON column.
func marshalMetadata(m map[string]any) sql.NullString {
	if len(m) == 0 {
		return sql.NullString{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// unmarshalMetadata parses a nullable JSON column into a metadata map.
func unmarshalMetadata(s sql.NullString) map[string]any {
	if !s.Valid || s.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil
	}
	return m
}
