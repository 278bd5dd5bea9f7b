package http

import (
	"net/http"
	"strconv"

	"github.com/DRSN-tech/visual-search/internal/usecase"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/go-chi/chi/v5"
)

type ImageHandler struct {
	imageUC     usecase.ImageUC
	maxFileSize int64
	logger      logger.Logger
}

func NewImageHandler(imageUC usecase.ImageUC, maxFileSize int64, logger logger.Logger) *ImageHandler {
	return &ImageHandler{imageUC: imageUC, maxFileSize: maxFileSize, logger: logger}
}

// addImage добавляет изображение товара в работающий индекс.
// Поля формы: file, item_id, необязательные image_id, image_path, method.
func (h *ImageHandler) addImage(w http.ResponseWriter, r *http.Request) {
	const op = "ImageHandler.addImage"

	if err := ensureMultipartForm(w, r, h.maxFileSize); err != nil {
		h.logger.Warnf("%s: %d %v: %s", op, http.StatusBadRequest, err, r.Header.Get("Content-Type"))
		WriteError(w, err)
		return
	}
	data, err := readFile(r, "file", h.maxFileSize)
	if err != nil {
		h.logger.Warnf("%s: %d %v", op, http.StatusBadRequest, err)
		WriteError(w, err)
		return
	}

	res, err := h.imageUC.AddImage(r.Context(), &usecase.AddImageReq{
		Image:     data,
		ItemID:    r.FormValue("item_id"),
		ImageID:   r.FormValue("image_id"),
		ImagePath: r.FormValue("image_path"),
		Method:    r.FormValue("method"),
	})
	if err != nil {
		h.logger.Errorf(err, "%s", op)
		WriteError(w, err)
		return
	}

	h.logger.Infof("%s: image %s of item %s indexed at %d (%s)", op, res.ImageID, res.ItemID, res.Position, res.Method)
	WriteSuccess(w, http.StatusCreated, addImageResponse(*res))
}

// getImage отдаёт сохранённое изображение по относительному пути.
func (h *ImageHandler) getImage(w http.ResponseWriter, r *http.Request) {
	img, err := h.imageUC.GetImage(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(img.Size(), 10))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write(img.Data)
}
