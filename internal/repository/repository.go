package repository

import (
	"database/sql"
	"fmt"
)

// requireRowAffected converts a zero-row update into sql.ErrNoRows so that
// services can map it to a not-found error.
func requireRowAffected(res sql.Result, resource, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s rows affected: %w", resource, id, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
