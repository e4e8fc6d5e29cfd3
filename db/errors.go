package db

import (
	"strings"

	"github.com/teranos/recap/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed database,
// typically while a job goroutine finishes after shutdown closed the connection.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is closed.
// Driver errors are matched by message since database/sql does not export a sentinel.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}

	errMsg := err.Error()
	return strings.Contains(errMsg, "database is closed") ||
		strings.Contains(errMsg, "sql: database is closed")
}
