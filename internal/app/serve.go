package app

import (
	"context"

	v1Grpc "github.com/DRSN-tech/visual-search/internal/delivery/v1/grpc"
	v1Http "github.com/DRSN-tech/visual-search/internal/delivery/v1/http"
	"github.com/DRSN-tech/visual-search/internal/infrastructure/images"
	"github.com/DRSN-tech/visual-search/internal/usecase"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/go-chi/chi/v5"
	"github.com/jimlawless/whereami"
)

// Serve восстанавливает индексы из снимков и обслуживает HTTP и gRPC до отмены ctx
// или падения одного из серверов. Остановку серверов выполняет Close.
func (a *App) Serve(ctx context.Context) error {
	families, err := a.initFamilies(true)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	// Несогласованный снимок останавливает запуск: индекс нужно перестроить
	if err := families.RecoverAll(ctx); err != nil {
		a.logger.Errorf(err, "failed to recover index, run build to rebuild it")
		return e.Wrap(whereami.WhereAmI(), err)
	}
	for _, f := range families.All() {
		a.logger.Infof("index %s recovered: %d images, dimension %d", f.Method(), f.Size(), f.Dimension())
	}

	imageRepo, err := a.initImageRepo(ctx)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	listener, err := a.initListeners(ctx, families)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	catalogUC, err := a.initCatalog(ctx, "")
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	// очистка файлов переживает отмену ctx и прерывается только при закрытии приложения
	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	imagesInfra := images.NewImagesInfrastructure(imageRepo, a.logger, cleanupCtx)
	a.closer.Add("image cleanup", func(ctx context.Context) error {
		defer cancelCleanup()
		return imagesInfra.WaitForCleanup(ctx)
	})

	searchUC := usecase.NewSearchUC(families, catalogUC, a.cfg.Index.DefaultTopK, a.cfg.Index.MaxTopK, a.logger)
	imageUC := usecase.NewImageUC(families, imagesInfra, imageRepo, listener, a.logger)

	errCh := make(chan error, 2)

	grpcSrv := v1Grpc.NewGRPCServer(a.cfg.Grpc, a.logger)
	grpcSrv.RegisterServices(families)
	go func() {
		a.logger.Infof("gRPC server starting on %s:%s", a.cfg.Grpc.NetworkMode, a.cfg.Grpc.Port)
		if err := grpcSrv.Start(); err != nil {
			errCh <- e.Wrap("gRPC server", err)
		}
	}()
	a.closer.Add("gRPC server", grpcSrv.Stop)

	r := chi.NewRouter()
	v1Http.NewRouter(r, a.logger).Init(v1Http.RouterDeps{
		Search:         searchUC,
		Images:         imageUC,
		Catalog:        catalogUC,
		MaxFileSize:    a.cfg.Images.MaxFileSize,
		RequestTimeout: a.cfg.Http.RequestTimeout,
		AllowedOrigins: a.cfg.Http.CORSAllowedOrigins,
	})

	httpSrv := v1Http.NewServer(r, a.cfg.Http)
	go func() {
		a.logger.Infof("HTTP server started on port %s", a.cfg.Http.Port)
		if err := httpSrv.Run(); err != nil {
			errCh <- e.Wrap("HTTP server", err)
		}
	}()
	a.closer.Add("HTTP server", httpSrv.Stop)

	select {
	case err := <-errCh:
		a.logger.Errorf(err, "server fatal error")
		return err
	case <-ctx.Done():
		a.logger.Infof("Received shutdown signal, stopping gracefully...")
		return nil
	}
}
