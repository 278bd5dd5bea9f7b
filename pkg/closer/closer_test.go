package closer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseLIFO(t *testing.T) {
	c := NewCloser(0)

	var order []string
	for _, name := range []string{"postgres", "redis", "http"} {
		c.AddFunc(name, func() { order = append(order, name) })
	}

	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, []string{"http", "redis", "postgres"}, order)
}

func TestCloseCollectsErrors(t *testing.T) {
	c := NewCloser(0)
	c.Add("kafka", func(context.Context) error { return errors.New("broker gone") })
	c.Add("qdrant", func(context.Context) error { return nil })

	err := c.Close(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka: broker gone")

	assert.Equal(t, err, c.Close(context.Background()))
}

func TestCloseForcedAfterCancel(t *testing.T) {
	c := NewCloser(time.Second)

	var (
		mu     sync.Mutex
		forced bool
	)
	c.Add("slow-first", func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		forced = true
		return nil
	})
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	var calls int
	c.Add("stuck", func(ctx context.Context) error {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			<-block
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Close(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown interrupted after 0/2")

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, forced)
}
