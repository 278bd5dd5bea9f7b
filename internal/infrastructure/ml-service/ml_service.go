package ml_service

import (
	"context"
	"fmt"
	"time"

	"github.com/DRSN-tech/visual-search/internal/vector"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/jitter"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Config описывает один метод ML-сервиса.
type Config struct {
	// RPC полное имя метода, например "/ml.v1.EmbeddingService/EmbedResNet50"
	RPC           string
	Name          string
	Dimension     int
	MaxConcurrent int
	MaxRetries    int
	Timeout       time.Duration
}

// MLService клиент для получения эмбеддингов у внешнего ML-сервиса.
//
// Запрос — google.protobuf.BytesValue с байтами изображения, ответ —
// google.protobuf.Struct с полями "vector" (список чисел) и "model_version".
type MLService struct {
	conn    grpc.ClientConnInterface
	cfg     Config
	sem     chan struct{}
	backoff jitter.Backoff
	logger  logger.Logger
}

func NewMLService(conn grpc.ClientConnInterface, cfg Config, logger logger.Logger) *MLService {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &MLService{
		conn:    conn,
		cfg:     cfg,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		backoff: jitter.Backoff{Base: 200 * time.Millisecond, Max: 5 * time.Second, Factor: jitter.DefaultJitter},
		logger:  logger.With("embedder", cfg.Name),
	}
}

func (m *MLService) Name() string   { return m.cfg.Name }
func (m *MLService) Dimension() int { return m.cfg.Dimension }

// Embed выполняет запрос с retry-логикой и экспоненциальной задержкой.
// Ошибки, вызванные самим изображением, не повторяются.
func (m *MLService) Embed(ctx context.Context, image []byte) ([]float32, error) {
	const op = "MLService.Embed"

	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		vec, err := m.embedOnce(ctx, image)
		if err == nil {
			return vec, nil
		}
		lastErr = err

		if !retryable(err) || attempt == m.cfg.MaxRetries-1 {
			break
		}

		m.logger.Warnf("embedding failed, retrying (attempt %d): %v", attempt+1, err)
		if err := m.backoff.Wait(ctx, attempt); err != nil {
			return nil, e.Mark(e.ErrEmbeddingExtraction, e.Wrap(op, err))
		}
	}

	return nil, e.Mark(e.ErrEmbeddingExtraction, e.Wrap(op, lastErr))
}

func (m *MLService) embedOnce(ctx context.Context, image []byte) ([]float32, error) {
	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	res := &structpb.Struct{}
	if err := m.conn.Invoke(ctx, m.cfg.RPC, wrapperspb.Bytes(image), res); err != nil {
		return nil, err
	}

	return m.decode(res)
}

func (m *MLService) decode(res *structpb.Struct) ([]float32, error) {
	list := res.GetFields()["vector"].GetListValue()
	if list == nil {
		return nil, status.Error(codes.Internal, "response has no vector")
	}

	values := list.GetValues()
	if len(values) != m.cfg.Dimension {
		return nil, fmt.Errorf("%w: model returned %d, expected %d", e.ErrDimensionMismatch, len(values), m.cfg.Dimension)
	}

	vec := make([]float32, len(values))
	for i, v := range values {
		vec[i] = float32(v.GetNumberValue())
	}

	if version := res.GetFields()["model_version"].GetStringValue(); version != "" {
		m.logger.Debugf("embedded with model %s", version)
	}
	return vector.Normalize(vec), nil
}

func retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return true
	default:
		return false
	}
}
