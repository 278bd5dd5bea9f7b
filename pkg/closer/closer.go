package closer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Func — сигнатура функции закрытия ресурса.
type Func func(ctx context.Context) error

type entry struct {
	name string
	f    Func
}

// Closer закрывает зарегистрированные ресурсы в обратном порядке (LIFO).
type Closer struct {
	mu            sync.Mutex
	once          sync.Once
	entries       []entry
	forcedTimeout time.Duration
	err           error
}

// NewCloser создает новый экземпляр Closer.
// forcedTimeout — время на принудительное закрытие ресурсов, не успевших закрыться до отмены контекста.
func NewCloser(forcedTimeout time.Duration) *Closer {
	const defaultForcedTimeout = 2 * time.Second

	if forcedTimeout <= 0 {
		forcedTimeout = defaultForcedTimeout
	}
	return &Closer{forcedTimeout: forcedTimeout}
}

// Add регистрирует функцию закрытия ресурса name.
func (c *Closer) Add(name string, f Func) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry{name: name, f: f})
}

// AddFunc регистрирует функцию без контекста и ошибки, например Close() у клиентов.
func (c *Closer) AddFunc(name string, f func()) {
	c.Add(name, func(context.Context) error {
		f()
		return nil
	})
}

// Close закрывает ресурсы по одному в порядке LIFO. Если ctx отменён раньше,
// оставшиеся ресурсы закрываются параллельно с собственным таймаутом.
// Повторные вызовы возвращают результат первого.
func (c *Closer) Close(ctx context.Context) error {
	c.once.Do(func() {
		c.mu.Lock()
		entries := c.entries
		c.mu.Unlock()

		remaining, errs := c.closeInOrder(ctx, entries)
		if len(remaining) > 0 {
			errs = append(errs, c.forceClose(remaining)...)
			c.err = fmt.Errorf("shutdown interrupted after %d/%d resources:\n%s",
				len(entries)-len(remaining), len(entries), strings.Join(errs, "\n"))
			return
		}
		if len(errs) > 0 {
			c.err = fmt.Errorf("shutdown finished with error(s):\n%s", strings.Join(errs, "\n"))
		}
	})

	return c.err
}

// closeInOrder возвращает ресурсы, до которых не дошла очередь из-за отмены ctx.
func (c *Closer) closeInOrder(ctx context.Context, entries []entry) ([]entry, []string) {
	var errs []string
	for i := len(entries) - 1; i >= 0; i-- {
		done := make(chan error, 1)
		go func(f Func) { done <- f(ctx) }(entries[i].f)

		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Sprintf("[!] %s: %v", entries[i].name, err))
			}
		case <-ctx.Done():
			return entries[:i+1], errs
		}
	}
	return nil, errs
}

func (c *Closer) forceClose(entries []entry) []string {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []string
	)

	ctx, cancel := context.WithTimeout(context.Background(), c.forcedTimeout)
	defer cancel()

	for _, en := range entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := en.f(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Sprintf("[FORCED] %s: %v", en.name, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return errs
}
