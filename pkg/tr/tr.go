package tr

import (
	"context"

	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	transaction "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/jackc/pgx/v5"
)

type txKey struct{}

// TxFromCtx извлекает объект транзакции (pgx.Tx) из контекста
func TxFromCtx(ctx context.Context) (pgx.Tx, error) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	if !ok {
		return nil, e.ErrTransactionNotFound
	}
	return tx, nil
}

// Manager открывает транзакции PostgreSQL и кладёт их в контекст для репозиториев.
type Manager struct {
	db     transaction.Transactional
	opts   pgx.TxOptions
	logger logger.Logger
}

func NewManager(db transaction.Transactional, logger logger.Logger) *Manager {
	return &Manager{db: db, logger: logger}
}

// Do выполняет fn в транзакции: коммит при успехе, откат при ошибке.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	const op = "Manager.Do"

	ctx, tx, err := transaction.NewTransaction(ctx, m.opts, m.db)
	if err != nil {
		return e.Wrap(op, err)
	}
	// Если произошла ошибка, происходит Rollback транзакции
	defer func() {
		if err != nil && tx.IsActive() {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				m.logger.Errorf(rbErr, "%s: rollback failed", op)
			}
		}
	}()
	ctx = context.WithValue(ctx, txKey{}, tx.Transaction())

	if err = fn(ctx); err != nil {
		return err
	}

	// Коммит изменений в бд
	if err = tx.Commit(ctx); err != nil {
		return e.Wrap(op, err)
	}
	return nil
}
