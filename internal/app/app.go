package app

import (
	"context"
	"time"

	config "github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/pkg/closer"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"google.golang.org/grpc"
)

const (
	// время на закрытие ресурсов, не успевших закрыться до отмены контекста
	forcedCloseTimeout = 3 * time.Second
	// время на проверку внешних зависимостей при старте
	startupTimeout = 10 * time.Second
)

// App собирает компоненты сервиса под конкретную команду: serve, build, evaluate, import-catalog.
// Каждый открытый ресурс регистрируется в closer и закрывается в Close.
type App struct {
	cfg    *config.Config
	logger logger.Logger
	closer *closer.Closer

	mlConn *grpc.ClientConn
}

func NewApp(cfg *config.Config, logger logger.Logger) (*App, error) {
	return &App{
		cfg:    cfg,
		logger: logger,
		closer: closer.NewCloser(forcedCloseTimeout),
	}, nil
}

// Close закрывает ресурсы в обратном порядке открытия.
func (a *App) Close(ctx context.Context) error {
	if err := a.closer.Close(ctx); err != nil {
		a.logger.Errorf(err, "shutdown finished with errors")
		return err
	}
	a.logger.Infof("Application shutdown complete")
	return nil
}
