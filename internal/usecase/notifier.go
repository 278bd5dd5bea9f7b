package usecase

import (
	"context"
	"errors"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/pkg/logger"
)

// Notifier рассылает зафиксированные изображения всем подписчикам.
// Ошибка одного подписчика не мешает остальным.
type Notifier struct {
	listeners []IndexListener
	logger    logger.Logger
}

func NewNotifier(logger logger.Logger, listeners ...IndexListener) *Notifier {
	return &Notifier{listeners: listeners, logger: logger}
}

func (n *Notifier) OnIndexed(ctx context.Context, method string, images []domain.IndexedImage) error {
	if n == nil || len(images) == 0 {
		return nil
	}

	var errs []error
	for _, l := range n.listeners {
		if err := l.OnIndexed(ctx, method, images); err != nil {
			n.logger.Warnf("index listener %T failed for %d images: %v", l, len(images), err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
