package app

import (
	"context"
	"fmt"

	config "github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/internal/family"
	"github.com/DRSN-tech/visual-search/internal/infrastructure/kafka"
	"github.com/DRSN-tech/visual-search/internal/repository/file"
	fsRepo "github.com/DRSN-tech/visual-search/internal/repository/fs"
	s3Repo "github.com/DRSN-tech/visual-search/internal/repository/minio"
	"github.com/DRSN-tech/visual-search/internal/repository/pgdb"
	pgdbConv "github.com/DRSN-tech/visual-search/internal/repository/pgdb/converter"
	qdrantRepo "github.com/DRSN-tech/visual-search/internal/repository/qdrant"
	"github.com/DRSN-tech/visual-search/internal/repository/redis"
	redisConv "github.com/DRSN-tech/visual-search/internal/repository/redis/converter"
	"github.com/DRSN-tech/visual-search/internal/usecase"
	"github.com/DRSN-tech/visual-search/pkg/clients"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/postgres"
	"github.com/DRSN-tech/visual-search/pkg/tr"
	"github.com/jimlawless/whereami"
)

// initImageRepo открывает хранилище изображений: локальную папку или бакет MinIO.
func (a *App) initImageRepo(ctx context.Context) (usecase.ImageRepository, error) {
	if a.cfg.Images.Storage == config.StorageFS {
		repo, err := fsRepo.NewImageRepo(a.cfg.Images.Root)
		if err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}
		a.logger.Infof("images are stored in %s", a.cfg.Images.Root)
		return repo, nil
	}

	minioClient, err := clients.NewMinIOClient(a.cfg.Minio)
	if err != nil {
		a.logger.Errorf(err, "failed to initialize minio client")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	minioCtx, minioCancel := context.WithTimeout(ctx, startupTimeout)
	defer minioCancel()
	if err := clients.EnsureBucket(minioCtx, minioClient, a.cfg.Minio.BucketName); err != nil {
		a.logger.Errorf(err, "failed to initialize MinIO bucket")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	a.logger.Infof("images are stored in bucket %s at %s", a.cfg.Minio.BucketName, a.cfg.Minio.MinioEndpoint)
	return s3Repo.NewImageRepo(minioClient, a.cfg.Minio), nil
}

// initListeners собирает подписчиков на зафиксированные изменения индекса:
// события в Kafka и зеркало векторов в Qdrant, если они настроены.
func (a *App) initListeners(ctx context.Context, families *family.Registry) (*usecase.Notifier, error) {
	var listeners []usecase.IndexListener

	if a.cfg.Kafka.Enabled() {
		producer := kafka.NewProducer(a.logger, a.cfg.Kafka)
		if err := producer.EnsureTopic(startupTimeout); err != nil {
			// топик мог быть создан администратором, продюсер всё равно попробует писать
			a.logger.Warnf("failed to ensure kafka topic %s: %v", a.cfg.Kafka.Topic, err)
		}
		a.closer.Add("kafka producer", func(context.Context) error { return producer.Close() })
		listeners = append(listeners, producer)
		a.logger.Infof("index events are published to kafka topic %s", a.cfg.Kafka.Topic)
	}

	if a.cfg.Qdrant.Enabled() {
		qdrantClient, err := clients.NewQdrantClient(a.cfg.Qdrant)
		if err != nil {
			a.logger.Errorf(err, "failed to initialize qdrant")
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}
		a.closer.Add("qdrant client", func(context.Context) error { return qdrantClient.Close() })

		qdrantCtx, qdrantCancel := context.WithTimeout(ctx, startupTimeout)
		defer qdrantCancel()
		for _, f := range families.All() {
			if err := qdrantClient.EnsureCollection(qdrantCtx, f.Method(), f.Dimension()); err != nil {
				a.logger.Errorf(err, "failed to initialize qdrant")
				return nil, e.Wrap(whereami.WhereAmI(), err)
			}
		}
		listeners = append(listeners, qdrantRepo.NewMirrorRepo(qdrantClient.Client, qdrantClient))
		a.logger.Infof("index vectors are mirrored to qdrant at %s:%d", a.cfg.Qdrant.Host, a.cfg.Qdrant.Port)
	}

	return usecase.NewNotifier(a.logger, listeners...), nil
}

// initCatalog подключает базу каталога, применяет миграции и включает кэш Redis.
// catalogPath файл товаров для импорта, пустой путь берётся из конфигурации.
func (a *App) initCatalog(ctx context.Context, catalogPath string) (*usecase.CatalogUseCase, error) {
	db, err := a.initPGDB(ctx)
	if err != nil {
		return nil, err
	}

	var cacheRepo usecase.CacheRepository
	if a.cfg.Redis.Enabled {
		redisClient := clients.NewRedisClient(a.cfg.Redis)
		a.closer.Add("redis", func(context.Context) error { return redisClient.Close() })

		redisCtx, redisCancel := context.WithTimeout(ctx, startupTimeout)
		defer redisCancel()
		if err := redisClient.Ping(redisCtx); err != nil {
			a.logger.Errorf(err, "failed to connect to redis")
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}
		cacheRepo = redis.NewCacheRepo(redisClient.Client, &redisConv.CatalogItemConverterImpl{}, a.cfg.Redis, a.logger)
	}

	if catalogPath == "" {
		catalogPath = a.cfg.Index.CatalogPath
	}

	return usecase.NewCatalogUC(
		pgdb.NewCatalogRepo(db.Pool, &pgdbConv.CatalogItemConverterImpl{}),
		cacheRepo,
		file.NewCatalogSource(catalogPath),
		tr.NewManager(db.Pool, a.logger),
		a.logger,
	), nil
}

func (a *App) initPGDB(ctx context.Context) (*postgres.PgDatabase, error) {
	db, err := postgres.Connect(a.cfg.Db)
	if err != nil {
		a.logger.Errorf(err, "failed to connect to database")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	a.closer.AddFunc("postgres", db.Close)

	if err := db.RunMigrations(a.logger); err != nil {
		a.logger.Errorf(err, "failed to run migrations")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		a.logger.Errorf(err, "failed to ping database")
		return nil, e.Wrap(whereami.WhereAmI(), fmt.Errorf("%w: %w", e.ErrPersistence, err))
	}

	return db, nil
}
