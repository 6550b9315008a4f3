package store

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// sqlxIn is a thin wrapper around sqlx.In kept local to this package so
// every DAO file can expand a `NOT IN (?)`-style placeholder the same way.
func sqlxIn(query string, args ...interface{}) (string, []interface{}, error) {
	return sqlx.In(query, args...)
}
