package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/jimlawless/whereami"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Виды экстракторов для METHOD_<TAG>_KIND
const (
	KindGRPC      = "grpc"
	KindHistogram = "histogram"
	KindHybrid    = "hybrid"
)

// Хранилища изображений для IMAGE_STORAGE
const (
	StorageFS    = "fs"
	StorageMinio = "minio"
)

type Config struct {
	Http    *HTTPConfig
	Grpc    *GRPCConfig
	Index   *IndexCfg
	Methods []*MethodCfg
	Ml      *MLServiceCfg
	Images  *ImagesCfg
	Minio   *MinIOCfg
	Db      *PGDBCfg
	Redis   *RedisCfg
	Kafka   *KafkaCfg
	Qdrant  *QdrantCfg
	Log     *LogCfg
}

type HTTPConfig struct {
	Port           string        `envconfig:"HTTP_PORT" default:"8080"`
	ReadTimeout    time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout   time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout    time.Duration `envconfig:"KEEP_ALIVE" default:"60s"`
	RequestTimeout time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"25s"`
	// Допустимые источники для CORS (фронтенд витрины)
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000,http://127.0.0.1:3000"`
}

type GRPCConfig struct {
	Port        string `envconfig:"GRPC_PORT" default:"8091"`
	NetworkMode string `envconfig:"GRPC_NETWORK_MODE" default:"tcp"`
}

// IndexCfg описывает снимки, построение и поиск.
type IndexCfg struct {
	SnapshotDir     string   `envconfig:"SNAPSHOT_DIR" default:"data/snapshots"`
	SnapshotKeep    int      `envconfig:"SNAPSHOT_KEEP" default:"2"`
	CorpusPath      string   `envconfig:"IMAGE_PATHS_JSON" default:"data/image_paths.json"`
	CatalogPath     string   `envconfig:"SHOE_PRODUCT_JSON_PATH" default:"data/products.json"`
	BatchSize       int      `envconfig:"BUILD_BATCH_SIZE" default:"100"`
	Workers         int      `envconfig:"BUILD_WORKERS" default:"4"`
	CheckpointEvery int      `envconfig:"BUILD_CHECKPOINT_EVERY" default:"1"`
	Methods         []string `envconfig:"SEARCH_METHODS" default:"cnn_faiss"`
	DefaultMethod   string   `envconfig:"DEFAULT_SEARCH_METHOD"`
	DefaultTopK     int      `envconfig:"DEFAULT_TOP_K" default:"5"`
	MaxTopK         int      `envconfig:"MAX_TOP_K" default:"100"`
	// Размер кэша эмбеддингов запросов, 0 — без кэша
	EmbeddingCacheSize int64 `envconfig:"EMBEDDING_CACHE_SIZE" default:"1024"`
}

// MethodCfg настройки одного метода поиска, читаются из METHOD_<TAG>_*.
type MethodCfg struct {
	Tag       string  `ignored:"true"`
	Kind      string  `envconfig:"KIND" default:"grpc"`
	RPC       string  `envconfig:"RPC" default:"/ml.v1.EmbeddingService/Embed"`
	Dimension int     `envconfig:"DIMENSION" default:"2048"`
	Base      string  `envconfig:"BASE"`
	Weight    float64 `envconfig:"WEIGHT" default:"0.3"`
	Bins      int     `envconfig:"BINS" default:"4"`
}

type MLServiceCfg struct {
	Host          string        `envconfig:"ML_HOST" default:"ml-service"`
	Port          string        `envconfig:"ML_PORT" default:"50051"`
	MaxConcurrent int           `envconfig:"ML_MAX_CONCURRENT" default:"8"`
	MaxRetries    int           `envconfig:"ML_MAX_RETRIES" default:"3"`
	Timeout       time.Duration `envconfig:"ML_TIMEOUT" default:"10s"`
}

func (m *MLServiceCfg) Addr() string {
	return net.JoinHostPort(m.Host, m.Port)
}

type ImagesCfg struct {
	Storage     string `envconfig:"IMAGE_STORAGE" default:"fs"`
	Root        string `envconfig:"SHOE_IMAGES_FOLDER" default:"data/images"`
	MaxFileSize int64  `envconfig:"MAX_IMAGE_SIZE" default:"15728640"`
}

type MinIOCfg struct {
	MinioEndpoint     string `envconfig:"MINIO_ENDPOINT" default:"minio:9000"`
	BucketName        string `envconfig:"BUCKET_NAME" default:"product-images"`
	MinioRootUser     string `envconfig:"MINIO_ROOT_USER"`
	MinioRootPassword string `envconfig:"MINIO_ROOT_PASSWORD"`
	MinioUseSSL       bool   `envconfig:"MINIO_USE_SSL" default:"false"`
}

type PGDBCfg struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     string `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	DBName   string `envconfig:"POSTGRES_DB"`
	SSLMode  string `envconfig:"SSL_MODE" default:"disable"`
}

// Validate проверяет обязательные поля. Вызывается только там, где нужна база каталога.
func (p *PGDBCfg) Validate() error {
	var missing []string
	for key, v := range map[string]string{
		"POSTGRES_USER":     p.User,
		"POSTGRES_PASSWORD": p.Password,
		"POSTGRES_DB":       p.DBName,
	} {
		if v == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("%w: %s is required", e.ErrIncorrectEnvVariable, strings.Join(missing, ", "))
	}
	return nil
}

type RedisCfg struct {
	Enabled     bool          `envconfig:"REDIS_ENABLED" default:"true"`
	Addr        string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password    string        `envconfig:"REDIS_PASSWORD"`
	User        string        `envconfig:"REDIS_USER"`
	DB          int           `envconfig:"REDIS_DB_ID" default:"0"`
	MaxRetries  int           `envconfig:"MAX_RETRIES" default:"3"`
	DialTimeout time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	Timeout     time.Duration `envconfig:"REDIS_TIMEOUT" default:"3s"`
	ProductTTL  time.Duration `envconfig:"PRODUCT_TTL" default:"3m"`
}

type KafkaCfg struct {
	Topic             string   `envconfig:"KAFKA_TOPIC" default:"visual-search.image-indexed"`
	Brokers           []string `envconfig:"KAFKA_BROKERS"`
	NetworkMode       string   `envconfig:"KAFKA_NETWORK_MODE" default:"tcp"`
	Partitions        int      `envconfig:"KAFKA_PARTITIONS" default:"3"`
	ReplicationFactor int      `envconfig:"REPLICATION_FACTOR" default:"1"`
}

// Enabled события публикуются, только если заданы брокеры.
func (k *KafkaCfg) Enabled() bool {
	return len(k.Brokers) > 0
}

type QdrantCfg struct {
	Host             string `envconfig:"QDRANT_HOST"`
	Port             int    `envconfig:"QDRANT_GRPC_PORT" default:"6334"`
	ApiKey           string `envconfig:"QDRANT__SERVICE__API_KEY"`
	CollectionPrefix string `envconfig:"QDRANT_COLLECTION_PREFIX" default:"visual_search_"`
	UseTLS           bool   `envconfig:"QDRANT_USE_TLS" default:"false"`
}

// Enabled зеркалирование в Qdrant включается заданием QDRANT_HOST.
func (q *QdrantCfg) Enabled() bool {
	return q.Host != ""
}

type LogCfg struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"text"`
}

// Load безопасно загружает конфигурацию и возвращает ошибку в случае неудачи.
// Переменные из файла .env (если он есть) не перекрывают уже заданные в окружении.
func Load(log logger.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	http, err := load[HTTPConfig](log, "")
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	grpc, err := load[GRPCConfig](log, "")
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	index, err := loadIndexCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	methods, err := loadMethodCfgs(log, index)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	ml, err := load[MLServiceCfg](log, "")
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	images, err := loadImagesCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	minio, err := load[MinIOCfg](log, "")
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	db, err := load[PGDBCfg](log, "")
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	redis, err := load[RedisCfg](log, "")
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	kafka, err := load[KafkaCfg](log, "")
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	qdrant, err := load[QdrantCfg](log, "")
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	logCfg, err := load[LogCfg](log, "")
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return &Config{
		Http:    http,
		Grpc:    grpc,
		Index:   index,
		Methods: methods,
		Ml:      ml,
		Images:  images,
		Minio:   minio,
		Db:      db,
		Redis:   redis,
		Kafka:   kafka,
		Qdrant:  qdrant,
		Log:     logCfg,
	}, nil
}

// load читает одну секцию из окружения.
func load[T any](log logger.Logger, prefix string) (*T, error) {
	var section T
	if err := envconfig.Process(prefix, &section); err != nil {
		log.Errorf(err, "invalid configuration")
		return nil, fmt.Errorf("%w: %w", e.ErrIncorrectEnvVariable, err)
	}
	return &section, nil
}

func loadIndexCfg(log logger.Logger) (*IndexCfg, error) {
	c, err := load[IndexCfg](log, "")
	if err != nil {
		return nil, err
	}

	for i := range c.Methods {
		c.Methods[i] = strings.TrimSpace(c.Methods[i])
	}
	c.Methods = slices.DeleteFunc(c.Methods, func(m string) bool { return m == "" })

	switch {
	case len(c.Methods) == 0:
		return nil, fmt.Errorf("%w: SEARCH_METHODS is empty", e.ErrIncorrectEnvVariable)
	case c.BatchSize <= 0 || c.Workers <= 0 || c.CheckpointEvery <= 0:
		return nil, fmt.Errorf("%w: BUILD_BATCH_SIZE, BUILD_WORKERS and BUILD_CHECKPOINT_EVERY must be positive",
			e.ErrIncorrectEnvVariable)
	case c.DefaultTopK <= 0 || c.MaxTopK < c.DefaultTopK:
		return nil, fmt.Errorf("%w: need 0 < DEFAULT_TOP_K <= MAX_TOP_K", e.ErrIncorrectEnvVariable)
	}

	if c.DefaultMethod == "" {
		c.DefaultMethod = c.Methods[0]
	}
	if !slices.Contains(c.Methods, c.DefaultMethod) {
		return nil, fmt.Errorf("%w: DEFAULT_SEARCH_METHOD %q is not in SEARCH_METHODS", e.ErrIncorrectEnvVariable, c.DefaultMethod)
	}
	return c, nil
}

func loadImagesCfg(log logger.Logger) (*ImagesCfg, error) {
	c, err := load[ImagesCfg](log, "")
	if err != nil {
		return nil, err
	}
	if c.Storage != StorageFS && c.Storage != StorageMinio {
		return nil, fmt.Errorf("%w: IMAGE_STORAGE must be %q or %q", e.ErrIncorrectEnvVariable, StorageFS, StorageMinio)
	}
	return c, nil
}

// loadMethodCfgs читает METHOD_<TAG>_* для каждого тега из SEARCH_METHODS.
func loadMethodCfgs(log logger.Logger, index *IndexCfg) ([]*MethodCfg, error) {
	methods := make([]*MethodCfg, 0, len(index.Methods))
	byTag := make(map[string]*MethodCfg, len(index.Methods))

	for _, tag := range index.Methods {
		if _, ok := byTag[tag]; ok {
			return nil, fmt.Errorf("%w: method %q listed twice", e.ErrIncorrectEnvVariable, tag)
		}
		m, err := load[MethodCfg](log, methodPrefix(tag))
		if err != nil {
			return nil, e.Wrap(tag, err)
		}
		m.Tag = tag
		methods = append(methods, m)
		byTag[tag] = m
	}

	for _, m := range methods {
		if err := m.validate(byTag); err != nil {
			return nil, e.Wrap(m.Tag, err)
		}
	}
	return methods, nil
}

func (m *MethodCfg) validate(byTag map[string]*MethodCfg) error {
	switch m.Kind {
	case KindGRPC:
		if m.RPC == "" || m.Dimension <= 0 {
			return fmt.Errorf("%w: grpc method needs RPC and positive DIMENSION", e.ErrIncorrectEnvVariable)
		}
	case KindHistogram:
		if m.Bins < 2 || m.Bins > 16 {
			return fmt.Errorf("%w: BINS must be in [2,16]", e.ErrIncorrectEnvVariable)
		}
	case KindHybrid:
		base, ok := byTag[m.Base]
		if !ok || base.Kind == KindHybrid {
			return fmt.Errorf("%w: hybrid BASE %q must be a configured non-hybrid method", e.ErrIncorrectEnvVariable, m.Base)
		}
		if m.Weight <= 0 || m.Weight >= 1 {
			return fmt.Errorf("%w: WEIGHT must be in (0,1)", e.ErrIncorrectEnvVariable)
		}
	default:
		return fmt.Errorf("%w: unknown KIND %q", e.ErrIncorrectEnvVariable, m.Kind)
	}
	return nil
}

func methodPrefix(tag string) string {
	return "METHOD_" + strings.ToUpper(strings.ReplaceAll(tag, "-", "_"))
}
