package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for database operations.
var (
	// ErrItemExists indicates a CREATE hit an existing record id.
	ErrItemExists = errors.New("item already exists")

	// ErrTransactionConflict indicates concurrent writers touched the same
	// records. Callers may retry.
	ErrTransactionConflict = errors.New("transaction conflict")

	ErrNotFound = errors.New("item not found")
)

// wrapQueryError maps known SurrealDB query errors onto sentinels and
// returns other errors unchanged.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		switch {
		case strings.Contains(msg, "already exists"):
			return fmt.Errorf("%w: %s", ErrItemExists, msg)
		case strings.Contains(msg, "Transaction conflict"):
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		}
	}
	return err
}
