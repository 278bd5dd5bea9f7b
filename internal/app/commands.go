package app

import (
	"context"

	"github.com/DRSN-tech/visual-search/internal/repository/file"
	"github.com/DRSN-tech/visual-search/internal/usecase"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/jimlawless/whereami"
)

// Build строит индекс одного метода по корпусу IMAGE_PATHS_JSON.
// При отмене ctx возвращает частичный отчёт вместе с ошибкой контекста.
func (a *App) Build(ctx context.Context, req *usecase.BuildReq) (*usecase.BuildReport, error) {
	families, err := a.initFamilies(false)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	imageRepo, err := a.initImageRepo(ctx)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	listener, err := a.initListeners(ctx, families)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	uc := usecase.NewBuildUC(
		families,
		file.NewCorpusRepo(a.cfg.Index.CorpusPath),
		imageRepo,
		listener,
		usecase.BuildOptions{
			BatchSize:       a.cfg.Index.BatchSize,
			Workers:         a.cfg.Index.Workers,
			CheckpointEvery: a.cfg.Index.CheckpointEvery,
		},
		a.logger,
	)
	return uc.Build(ctx, req)
}

// Evaluate проверяет точность поиска по изображениям, уже лежащим в индексе.
// Каталог не нужен: совпадение определяется по item_id из метаданных.
func (a *App) Evaluate(ctx context.Context, req *usecase.EvaluateReq) (*usecase.EvaluateReport, error) {
	families, err := a.initFamilies(false)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	if err := families.RecoverAll(ctx); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	imageRepo, err := a.initImageRepo(ctx)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	search := usecase.NewSearchUC(families, nil, a.cfg.Index.DefaultTopK, a.cfg.Index.MaxTopK, a.logger)
	return usecase.NewEvaluateUC(families, search, imageRepo, a.logger).Evaluate(ctx, req)
}

// ImportCatalog загружает товары из JSON-файла в базу каталога.
func (a *App) ImportCatalog(ctx context.Context, path string) (int, error) {
	catalogUC, err := a.initCatalog(ctx, path)
	if err != nil {
		return 0, e.Wrap(whereami.WhereAmI(), err)
	}
	return catalogUC.ImportCatalog(ctx)
}
