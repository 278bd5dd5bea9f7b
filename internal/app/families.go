package app

import (
	"context"
	"path/filepath"

	config "github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/internal/embedder"
	"github.com/DRSN-tech/visual-search/internal/family"
	ml_service "github.com/DRSN-tech/visual-search/internal/infrastructure/ml-service"
	"github.com/DRSN-tech/visual-search/internal/snapshot"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/jimlawless/whereami"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// initFamilies создаёт по семейству на каждый метод из SEARCH_METHODS.
// withCache оборачивает экстракторы кэшем эмбеддингов запросов.
func (a *App) initFamilies(withCache bool) (*family.Registry, error) {
	embedders, err := a.initEmbedders()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	families := make([]*family.Family, 0, len(a.cfg.Methods))
	for _, m := range a.cfg.Methods {
		emb := embedders[m.Tag]
		if withCache && a.cfg.Index.EmbeddingCacheSize > 0 {
			cached, err := embedder.NewCached(emb, a.cfg.Index.EmbeddingCacheSize)
			if err != nil {
				return nil, e.Wrap(m.Tag, err)
			}
			a.closer.AddFunc(m.Tag+" embedding cache", cached.Close)
			emb = cached
		}

		log := a.logger.With("method", m.Tag)
		store, err := snapshot.NewStore(filepath.Join(a.cfg.Index.SnapshotDir, m.Tag), a.cfg.Index.SnapshotKeep, log)
		if err != nil {
			return nil, e.Wrap(m.Tag, err)
		}

		f, err := family.New(m.Tag, emb, store, log)
		if err != nil {
			return nil, e.Wrap(m.Tag, err)
		}
		families = append(families, f)
	}

	registry, err := family.NewRegistry(a.cfg.Index.DefaultMethod, families...)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	return registry, nil
}

// initEmbedders создаёт экстракторы: сначала самостоятельные, затем гибридные поверх базовых.
func (a *App) initEmbedders() (map[string]embedder.Embedder, error) {
	embedders := make(map[string]embedder.Embedder, len(a.cfg.Methods))

	for _, m := range a.cfg.Methods {
		switch m.Kind {
		case config.KindGRPC:
			conn, err := a.mlConnection()
			if err != nil {
				return nil, err
			}
			embedders[m.Tag] = ml_service.NewMLService(conn, ml_service.Config{
				RPC:           m.RPC,
				Name:          m.Tag,
				Dimension:     m.Dimension,
				MaxConcurrent: a.cfg.Ml.MaxConcurrent,
				MaxRetries:    a.cfg.Ml.MaxRetries,
				Timeout:       a.cfg.Ml.Timeout,
			}, a.logger)
		case config.KindHistogram:
			h, err := embedder.NewHistogram(m.Bins)
			if err != nil {
				return nil, e.Wrap(m.Tag, err)
			}
			embedders[m.Tag] = h
		}
	}

	for _, m := range a.cfg.Methods {
		if m.Kind != config.KindHybrid {
			continue
		}
		h, err := embedder.NewHistogram(m.Bins)
		if err != nil {
			return nil, e.Wrap(m.Tag, err)
		}
		hybrid, err := embedder.NewHybrid(embedders[m.Base], h, m.Weight)
		if err != nil {
			return nil, e.Wrap(m.Tag, err)
		}
		embedders[m.Tag] = hybrid
	}

	return embedders, nil
}

// mlConnection лениво открывает одно соединение с ML-сервисом на все методы.
func (a *App) mlConnection() (*grpc.ClientConn, error) {
	if a.mlConn != nil {
		return a.mlConn, nil
	}

	conn, err := grpc.NewClient(
		a.cfg.Ml.Addr(),
		grpc.WithTransportCredentials(insecure.NewCredentials()), // явное указание gRPC-клиенту использовать НЕзащищённое соединение (без TLS).
	)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	a.closer.Add("ml-service connection", func(_ context.Context) error { return conn.Close() })
	a.mlConn = conn
	return conn, nil
}
