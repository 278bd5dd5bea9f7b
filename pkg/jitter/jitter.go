// Package jitter предоставляет экспоненциальные задержки со случайным разбросом,
// чтобы повторные запросы многих клиентов не приходили одновременно.
package jitter

import (
	"context"
	"math/rand/v2"
	"time"
)

// DefaultJitter — стандартный коэффициент джиттера (50%)
const DefaultJitter = 0.5

// Duration возвращает продолжительность с применённым джиттером.
// Результат находится в диапазоне [d, d*(1+jitterFactor)].
func Duration(d time.Duration, jitterFactor float64) time.Duration {
	return d + time.Duration(rand.Float64()*jitterFactor*float64(d))
}

// ExponentialBackoff вычисляет экспоненциальное отступление с джиттером.
// attempt нумеруется с нуля, результат без джиттера не превышает max.
func ExponentialBackoff(base, max time.Duration, attempt int, jitterFactor float64) time.Duration {
	backoff := base
	for i := 0; i < attempt && backoff < max; i++ {
		backoff *= 2
	}
	if backoff > max {
		backoff = max
	}
	return Duration(backoff, jitterFactor)
}

// Backoff описывает политику повторов.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
}

// Wait засыпает на задержку для попытки attempt или возвращает ошибку контекста.
func (b Backoff) Wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(ExponentialBackoff(b.Base, b.Max, attempt, b.Factor))
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
