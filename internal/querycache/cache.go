// Package querycache remembers the last built report query of a session so
// that export can re-run it without the parameters being sent again.
//
// Each session has a single slot. Two tabs sharing one session overwrite each
// other, so an export may re-run the query of the other tab.
package querycache

import (
	"errors"

	"sqlreport/internal/session"
)

// sessionKey is the session entry holding the query.
const sessionKey = "sql_query"

// ErrNoCachedQuery is returned when the session holds no query.
var ErrNoCachedQuery = errors.New("no SQL query available for export")

// Store replaces the session's query with sql. A nil handle stores nothing.
func Store(h session.Handle, sql string) {
	if h == nil {
		return
	}
	h.Set(sessionKey, sql)
}

// Fetch returns the session's query exactly as stored.
func Fetch(h session.Handle) (string, error) {
	if h == nil {
		return "", ErrNoCachedQuery
	}
	sql, ok := h.Get(sessionKey)
	if !ok || sql == "" {
		return "", ErrNoCachedQuery
	}
	return sql, nil
}
