package usecase

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/DRSN-tech/visual-search/internal/family"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
)

// EvaluateUseCase проверяет точность поиска: каждое выбранное изображение из индекса
// ищется по самому себе, запрос успешен, если его товар есть в выдаче.
type EvaluateUseCase struct {
	families  *family.Registry
	search    SearchUC
	imageRepo ImageRepository
	logger    logger.Logger
}

func NewEvaluateUC(families *family.Registry, search SearchUC, imageRepo ImageRepository, logger logger.Logger) *EvaluateUseCase {
	return &EvaluateUseCase{
		families:  families,
		search:    search,
		imageRepo: imageRepo,
		logger:    logger,
	}
}

func (uc *EvaluateUseCase) Evaluate(ctx context.Context, req *EvaluateReq) (*EvaluateReport, error) {
	const op = "EvaluateUseCase.Evaluate"

	f, err := uc.families.Get(req.Method)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	if req.Samples <= 0 {
		return nil, e.Wrap(op, fmt.Errorf("%w: samples must be positive", e.ErrInvalidArgument))
	}

	size := f.Size()
	if size == 0 {
		return nil, e.Wrap(op, fmt.Errorf("%w: index %s is empty", e.ErrNotFound, f.Method()))
	}

	rng := rand.New(rand.NewPCG(req.Seed, req.Seed^0x9e3779b97f4a7c15))
	positions := rng.Perm(size)[:min(req.Samples, size)]

	report := &EvaluateReport{Method: f.Method(), Samples: len(positions)}
	var total time.Duration
	for i, pos := range positions {
		if err := ctx.Err(); err != nil {
			return report, e.Wrap(op, err)
		}

		rec, err := f.Record(pos)
		if err != nil {
			report.Skipped++
			continue
		}
		image, err := uc.imageRepo.Download(ctx, rec.ImagePath)
		if err != nil {
			uc.logger.Warnf("[%d/%d] image %s not available: %v", i+1, len(positions), rec.ImagePath, err)
			report.Skipped++
			continue
		}

		began := time.Now()
		res, err := uc.search.Search(ctx, &SearchReq{Image: image.Data, TopK: req.TopK, Method: f.Method()})
		if err != nil {
			uc.logger.Warnf("[%d/%d] search for %s failed: %v", i+1, len(positions), rec.ImageID, err)
			report.Skipped++
			continue
		}
		total += time.Since(began)

		found := false
		for _, h := range res.Results {
			if h.ItemID == rec.ItemID {
				found = true
				break
			}
		}
		if found {
			report.Passed++
		} else {
			report.Failed++
		}
		uc.logger.Debugf("[%d/%d] item %s found: %t", i+1, len(positions), rec.ItemID, found)
	}

	if searched := report.Passed + report.Failed; searched > 0 {
		report.PassRate = float64(report.Passed) / float64(searched)
		report.MeanLatency = total / time.Duration(searched)
	}
	uc.logger.Infof("evaluation of %s: %d/%d passed (%.2f%%), mean latency %s, %d skipped",
		f.Method(), report.Passed, report.Passed+report.Failed, report.PassRate*100, report.MeanLatency, report.Skipped)
	return report, nil
}
