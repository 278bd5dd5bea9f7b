package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/jimlawless/whereami"
)

// multipartOverhead запас сверх размера файла на поля формы и границы multipart.
const multipartOverhead = 1 << 20

type ErrorResponse struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func NewErrorResponse(code int, kind, message string) *ErrorResponse {
	return &ErrorResponse{
		Code:    code,
		Kind:    kind,
		Message: message,
	}
}

// ToHTTPResponse сопоставляет вид ошибки со статусом и безопасным для клиента сообщением.
func ToHTTPResponse(err error) (int, string) {
	switch e.KindOf(err) {
	case e.KindInvalidInput, e.KindInvalidArgument, e.KindDimensionMismatch:
		return http.StatusBadRequest, publicMessage(err)
	case e.KindNotFound:
		return http.StatusNotFound, e.ErrNotFound.Error()
	case e.KindEmbeddingExtraction:
		return http.StatusUnprocessableEntity, e.ErrEmbeddingExtraction.Error()
	case e.KindPersistence:
		return http.StatusServiceUnavailable, e.ErrPersistence.Error()
	default:
		return http.StatusInternalServerError, e.ErrInternalServerError.Error()
	}
}

// publicMessage возвращает текст самой конкретной известной ошибки без внутренних обёрток.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, e.ErrExpectedMultipart):
		return e.ErrExpectedMultipart.Error()
	case errors.Is(err, e.ErrMissingFields):
		return e.ErrMissingFields.Error()
	case errors.Is(err, e.ErrNoImages):
		return e.ErrNoImages.Error()
	case errors.Is(err, e.ErrFileTooLarge):
		return e.ErrFileTooLarge.Error()
	case errors.Is(err, e.ErrNotAnImage):
		return e.ErrNotAnImage.Error()
	case errors.Is(err, e.ErrImageExists):
		return e.ErrImageExists.Error()
	case errors.Is(err, e.ErrUnsupportedMedia):
		return e.ErrUnsupportedMedia.Error()
	case errors.Is(err, e.ErrUnknownMethod):
		return e.ErrUnknownMethod.Error()
	case errors.Is(err, e.ErrInvalidTopK):
		return e.ErrInvalidTopK.Error()
	case errors.Is(err, e.ErrDimensionMismatch):
		return e.ErrDimensionMismatch.Error()
	case errors.Is(err, e.ErrInvalidArgument):
		return e.ErrInvalidArgument.Error()
	default:
		return e.ErrInvalidInput.Error()
	}
}

func WriteError(w http.ResponseWriter, err error) {
	code, msg := ToHTTPResponse(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(NewErrorResponse(code, e.KindOf(err).String(), msg))
}

func WriteSuccess(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ensureMultipartForm ограничивает тело запроса и разбирает multipart-форму с одним файлом до maxFileSize.
func ensureMultipartForm(w http.ResponseWriter, r *http.Request, maxFileSize int64) error {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return e.Wrap(whereami.WhereAmI(), e.ErrExpectedMultipart)
	}
	limit := maxFileSize + multipartOverhead
	if r.ContentLength > limit {
		return e.Wrap(whereami.WhereAmI(), e.ErrFileTooLarge)
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(maxFileSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return e.Wrap(whereami.WhereAmI(), e.ErrFileTooLarge)
		}
		return e.Wrap(whereami.WhereAmI(), fmt.Errorf("%w: %w", e.ErrInvalidInput, err))
	}
	return nil
}

// readFile читает файл формы field не больше maxSize байт.
func readFile(r *http.Request, field string, maxSize int64) ([]byte, error) {
	src, fh, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, e.Wrap(field, e.ErrNoImages)
		}
		return nil, e.Wrap(field, fmt.Errorf("%w: %w", e.ErrInvalidInput, err))
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, maxSize+1))
	if err != nil {
		return nil, e.Wrap(fh.Filename, err)
	}
	if int64(len(data)) > maxSize {
		return nil, e.Wrap(fh.Filename, e.ErrFileTooLarge)
	}
	return data, nil
}

// parseInt разбирает необязательное целое поле формы, пустое значение даёт 0.
func parseInt(r *http.Request, field string) (int, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", e.ErrInvalidArgument, field, raw)
	}
	return v, nil
}

func parseBool(r *http.Request, field string) (bool, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q", e.ErrInvalidArgument, field, raw)
	}
	return v, nil
}
