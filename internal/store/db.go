package store

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Getter interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

type Selecter interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// DB is the pool-level surface used for reads outside a transaction.
type DB interface {
	Execer
	Getter
	Selecter
}

// Tx is what settlement code receives inside db.WithTx. Row locks taken
// through a Tx are held until commit or rollback.
type Tx interface {
	Execer
	Getter
}

var (
	_ DB = (*sqlx.DB)(nil)
	_ Tx = (*sqlx.Tx)(nil)
)
