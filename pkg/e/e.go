package e

import (
	"errors"
	"fmt"
)

var (
	// Ошибки входных данных (400 Bad Request)
	ErrInvalidInput      = fmt.Errorf("invalid input")
	ErrInvalidArgument   = fmt.Errorf("invalid argument")
	ErrExpectedMultipart = fmt.Errorf("%w: expected multipart/form-data", ErrInvalidInput)
	ErrMissingFields     = fmt.Errorf("%w: missing required fields", ErrInvalidInput)
	ErrNoImages          = fmt.Errorf("%w: no image provided", ErrInvalidInput)
	ErrFileTooLarge      = fmt.Errorf("%w: file too large", ErrInvalidInput)
	ErrNotAnImage        = fmt.Errorf("%w: payload is not an image", ErrInvalidInput)
	ErrImageExists       = fmt.Errorf("%w: image already indexed", ErrInvalidInput)
	ErrUnsupportedMedia  = fmt.Errorf("%w: unsupported media type", ErrInvalidInput)
	ErrUnknownMethod     = fmt.Errorf("%w: unknown search method", ErrInvalidArgument)
	ErrInvalidTopK       = fmt.Errorf("%w: top_k out of range", ErrInvalidArgument)

	// Ошибки индекса
	ErrDimensionMismatch    = fmt.Errorf("vector dimension mismatch")
	ErrPositionConflict     = fmt.Errorf("position conflict")
	ErrInconsistentSnapshot = fmt.Errorf("inconsistent snapshot")

	// Ошибки внешних зависимостей
	ErrEmbeddingExtraction = fmt.Errorf("embedding extraction failed")
	ErrPersistence         = fmt.Errorf("persistence failure")

	// 404 Not Found
	ErrNotFound = fmt.Errorf("not found")

	// Внутренние ошибки
	ErrTransactionNotFound  = fmt.Errorf("transaction not found")
	ErrIncorrectEnvVariable = fmt.Errorf("incorrect environment variable")
	ErrInternalServerError  = fmt.Errorf("internal server error")
)

// Kind классифицирует ошибку для внешних границ (HTTP, gRPC, CLI).
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindInvalidArgument
	KindDimensionMismatch
	KindPositionConflict
	KindEmbeddingExtraction
	KindPersistence
	KindInconsistentSnapshot
	KindNotFound
)

var kindNames = map[Kind]string{
	KindInternal:             "Internal",
	KindInvalidInput:         "InvalidInput",
	KindInvalidArgument:      "InvalidArgument",
	KindDimensionMismatch:    "DimensionMismatch",
	KindPositionConflict:     "PositionConflict",
	KindEmbeddingExtraction:  "EmbeddingExtractionFailure",
	KindPersistence:          "PersistenceFailure",
	KindInconsistentSnapshot: "InconsistentSnapshot",
	KindNotFound:             "NotFound",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Порядок важен: более специфичные виды проверяются раньше.
var kindOrder = []struct {
	kind Kind
	err  error
}{
	{KindEmbeddingExtraction, ErrEmbeddingExtraction},
	{KindPersistence, ErrPersistence},
	{KindInconsistentSnapshot, ErrInconsistentSnapshot},
	{KindDimensionMismatch, ErrDimensionMismatch},
	{KindPositionConflict, ErrPositionConflict},
	{KindInvalidArgument, ErrInvalidArgument},
	{KindInvalidInput, ErrInvalidInput},
	{KindNotFound, ErrNotFound},
}

// KindOf возвращает вид ошибки по цепочке обёрток. nil и неизвестные ошибки дают KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Wrap оборачивает ошибку
func Wrap(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}

// Mark помечает ошибку cause видом kind, сохраняя исходную цепочку.
// errors.Is срабатывает и для kind, и для cause.
func Mark(kind, cause error) error {
	return fmt.Errorf("%w: %w", kind, cause)
}
