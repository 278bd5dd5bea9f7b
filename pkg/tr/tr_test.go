package tr

import (
	"context"
	"testing"

	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/stretchr/testify/assert"
)

func TestTxFromCtxWithoutTransaction(t *testing.T) {
	_, err := TxFromCtx(context.Background())
	assert.ErrorIs(t, err, e.ErrTransactionNotFound)

	// строковый ключ из чужого кода не подменяет транзакцию
	ctx := context.WithValue(context.Background(), "tx", "not a tx") //nolint:staticcheck
	_, err = TxFromCtx(ctx)
	assert.ErrorIs(t, err, e.ErrTransactionNotFound)
}
