package composables

import (
	"context"
	"database/sql"
	"fmt"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ClearSessionVariable resets the tenant session variable for the current
// transaction.
func ClearSessionVariable(ctx context.Context, tx execer, name string) error {
	if name == "" {
		return nil
	}
	if _, err := tx.ExecContext(ctx, "SELECT set_config($1, '', true)", name); err != nil {
		return fmt.Errorf("failed to clear rls tenant context: %w", err)
	}
	return nil
}
