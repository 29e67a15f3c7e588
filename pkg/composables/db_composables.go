package composables

import (
	"context"
	"database/sql"
	"errors"
)

type txKey struct{}

var ErrNoTx = errors.New("no transaction found in context")

func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func UseTx(ctx context.Context) (*sql.Tx, error) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	if !ok || tx == nil {
		return nil, ErrNoTx
	}
	return tx, nil
}

// InTx runs fn in a new transaction on db; fn reads it back with UseTx. The
// session variable, when set, is cleared for the transaction before fn runs
// so row-level policies do not narrow what the maintenance statements see.
func InTx(ctx context.Context, db *sql.DB, sessionVariable string, fn func(context.Context) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	txCtx := WithTx(ctx, tx)
	if err := ClearSessionVariable(txCtx, tx, sessionVariable); err != nil {
		if rErr := tx.Rollback(); rErr != nil {
			return errors.Join(err, rErr)
		}
		return err
	}

	if err := fn(txCtx); err != nil {
		if rErr := tx.Rollback(); rErr != nil {
			return errors.Join(err, rErr)
		}
		return err
	}
	return tx.Commit()
}
