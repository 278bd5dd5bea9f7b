package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/family"
	"github.com/DRSN-tech/visual-search/internal/metrics"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// BuildOptions размеры батча, пула извлечения и частота промежуточных снимков.
type BuildOptions struct {
	BatchSize       int
	Workers         int
	CheckpointEvery int
}

// BuildUseCase строит индекс метода по корпусу изображений батчами.
type BuildUseCase struct {
	families  *family.Registry
	corpus    CorpusRepository
	imageRepo ImageRepository
	listener  IndexListener
	opts      BuildOptions
	logger    logger.Logger
}

func NewBuildUC(
	families *family.Registry,
	corpus CorpusRepository,
	imageRepo ImageRepository,
	listener IndexListener,
	opts BuildOptions,
	logger logger.Logger,
) *BuildUseCase {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &BuildUseCase{
		families:  families,
		corpus:    corpus,
		imageRepo: imageRepo,
		listener:  listener,
		opts:      opts,
		logger:    logger,
	}
}

// Build проходит корпус батчами. Каждый батч фиксируется в индексе целиком, запорченные
// изображения пропускаются. Отмена ctx проверяется между батчами: текущий батч
// дорабатывается, затем публикуется снимок с курсором, и построение возвращает отчёт
// с Interrupted=true вместе с ошибкой контекста.
func (uc *BuildUseCase) Build(ctx context.Context, req *BuildReq) (*BuildReport, error) {
	const op = "BuildUseCase.Build"

	f, err := uc.families.Get(req.Method)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	log := uc.logger.With("method", f.Method())

	entries, err := uc.corpus.Load(ctx)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	start := 0
	if req.Resume {
		if _, err := f.Recover(ctx); err != nil {
			return nil, e.Wrap(op, err)
		}
		start = f.Cursor()
		if start > len(entries) {
			return nil, e.Wrap(op, fmt.Errorf("%w: checkpoint cursor %d is past the corpus end %d",
				e.ErrInvalidArgument, start, len(entries)))
		}
		log.Infof("resuming build from entry %d of %d, %d vectors already indexed", start, len(entries), f.Size())
	} else {
		f.Reset()
		log.Infof("building index from scratch: %d corpus entries", len(entries))
	}

	report := &BuildReport{Method: f.Method(), Total: len(entries), StartCursor: start}
	began := time.Now()

	// Батч дорабатывает даже после отмены, чтобы остановка совпала с границей батча
	work := context.WithoutCancel(ctx)

	cursor := start
	for cursor < len(entries) {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}

		end := min(cursor+uc.opts.BatchSize, len(entries))
		stats, err := uc.runBatch(work, f, entries[cursor:end], report.Batches)
		if err != nil {
			return report, e.Wrap(op, err)
		}
		cursor = end
		stats.Processed = cursor

		report.Batches++
		report.Succeeded += stats.Succeeded
		report.Skipped += stats.Skipped

		log.Infof("batch %d committed: %d/%d processed, %d indexed, %d skipped in %s",
			stats.Index, cursor, len(entries), stats.Succeeded, stats.Skipped, stats.Duration.Round(time.Millisecond))
		if req.Progress != nil {
			req.Progress(stats)
		}

		if uc.opts.CheckpointEvery > 0 && report.Batches%uc.opts.CheckpointEvery == 0 && cursor < len(entries) {
			if _, err := f.Checkpoint(work, cursor); err != nil {
				return report, e.Wrap(op, err)
			}
			log.Debugf("checkpoint at entry %d", cursor)
		}
	}

	m, err := f.Checkpoint(work, cursor)
	if err != nil {
		return report, e.Wrap(op, err)
	}
	report.Generation = m.Generation
	report.Duration = time.Since(began)

	if report.Interrupted {
		log.Warnf("build interrupted at entry %d of %d, snapshot generation %d", cursor, len(entries), m.Generation)
		return report, e.Wrap(op, ctx.Err())
	}

	log.Infof("build finished: %d indexed, %d skipped, %d batches in %s, generation %d",
		report.Succeeded, report.Skipped, report.Batches, report.Duration.Round(time.Millisecond), m.Generation)
	return report, nil
}

// runBatch извлекает эмбеддинги батча на ограниченном пуле и фиксирует удачные в порядке корпуса.
func (uc *BuildUseCase) runBatch(ctx context.Context, f *family.Family, batch []domain.CorpusEntry, index int) (BatchStats, error) {
	began := time.Now()
	defer metrics.ObserveSince(metrics.BuildBatchDuration, f.Method(), began)

	vectors := make([][]float32, len(batch))
	errs := make([]error, len(batch))

	var g errgroup.Group
	g.SetLimit(uc.opts.Workers)
	for i, en := range batch {
		g.Go(func() error {
			vectors[i], errs[i] = uc.extract(ctx, f, en)
			return nil
		})
	}
	_ = g.Wait()

	stats := BatchStats{Index: index}
	entries := make([]family.Entry, 0, len(batch))
	for i, en := range batch {
		if errs[i] != nil {
			uc.logger.Warnf("skipping image %s (%s): %v", en.ImageID, en.ImagePath, errs[i])
			stats.Skipped++
			continue
		}
		entries = append(entries, family.Entry{
			Vector:    vectors[i],
			ImageID:   en.ImageID,
			ItemID:    en.ItemID,
			ImagePath: en.ImagePath,
		})
	}

	added, err := f.Append(entries)
	if err != nil {
		return stats, err
	}
	stats.Succeeded = len(added)
	stats.Duration = time.Since(began)

	metrics.BuildItems.WithLabelValues(f.Method(), metrics.OutcomeOK).Add(float64(stats.Succeeded))
	metrics.BuildItems.WithLabelValues(f.Method(), metrics.OutcomeSkipped).Add(float64(stats.Skipped))

	if uc.listener != nil {
		if err := uc.listener.OnIndexed(ctx, f.Method(), added); err != nil {
			uc.logger.Warnf("batch %d indexed, listeners failed: %v", index, err)
		}
	}
	return stats, nil
}

// extract загружает изображение элемента корпуса и извлекает его эмбеддинг.
func (uc *BuildUseCase) extract(ctx context.Context, f *family.Family, en domain.CorpusEntry) ([]float32, error) {
	if en.ImageID == "" || en.ImagePath == "" {
		return nil, fmt.Errorf("%w: corpus entry needs image_id and image_path", e.ErrMissingFields)
	}

	image, err := uc.imageRepo.Download(ctx, en.ImagePath)
	if err != nil {
		return nil, err
	}
	if err := validateImage(image.Data); err != nil {
		return nil, err
	}
	return embed(ctx, f, image.Data)
}
