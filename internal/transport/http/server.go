package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"galleria/internal/domain/models"
	"galleria/internal/lib/logger/sl"
	"galleria/internal/services/dispatch"
	gallery "galleria/internal/services/gallery_service"
	"galleria/internal/services/slug"
	"galleria/internal/services/thumbnail"
	"galleria/internal/storage"
	"galleria/internal/transport/http/dto"
	"galleria/internal/transport/http/dto/response"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type GalleryService interface {
	CreateGallery(ctx context.Context, req dto.CreateGalleryRequest) (models.Gallery, error)
	UpdateGallery(ctx context.Context, id int64, req dto.UpdateGalleryRequest) (models.Gallery, error)
	GetGalleryByID(ctx context.Context, id int64) (models.Gallery, error)
	GetGalleryBySlug(ctx context.Context, slug string) (models.Gallery, error)
	GetGalleries(ctx context.Context, page, perPage int) (dto.GalleryListResponse, error)
	GetGalleriesByTags(ctx context.Context, tags []string, matchAll bool) ([]models.Gallery, error)
	RemoveGallery(ctx context.Context, id int64) error
	Previews(ctx context.Context, id int64) ([]models.GalleryImage, error)
	RateGallery(ctx context.Context, id int64, userID uuid.UUID, value float64) (dto.RatingSummary, error)
}

type ImageService interface {
	AddImage(ctx context.Context, input dto.ImageUploadInput) (models.GalleryImage, error)
	RegenerateThumbnail(ctx context.Context, imageID int64) (models.GalleryImage, error)
	ListImages(ctx context.Context, galleryID int64) ([]models.GalleryImage, error)
}

type DispatchService interface {
	Enqueue(ctx context.Context, feed, content string) (models.TwitterUpdate, error)
	RunPending(ctx context.Context) (dispatch.Summary, error)
}

type Routers struct {
	log             *slog.Logger
	GalleryService  GalleryService
	ImageService    ImageService
	DispatchService DispatchService
}

func NewRouter(log *slog.Logger, galleryService GalleryService, imageService ImageService, dispatchService DispatchService) *Routers {
	return &Routers{
		log:             log,
		GalleryService:  galleryService,
		ImageService:    imageService,
		DispatchService: dispatchService,
	}
}

var ErrInvalidID = errors.New("not valid id")

// CreateGallery принимает новую галерею; slug выдается при сохранении
func (r *Routers) CreateGallery(c echo.Context) error {
	const op = "http.routers.CreateGallery"

	log := r.log.With(
		slog.String("op", op),
	)

	var req dto.CreateGalleryRequest

	if err := c.Bind(&req); err != nil {
		log.Warn("failed to bind request", sl.Err(err))
		return c.JSON(http.StatusBadRequest, response.ErrInvalidRequestFormat)
	}

	if err := c.Validate(req); err != nil {
		log.Warn("validation failed", sl.Err(err))
		return c.JSON(http.StatusBadRequest, response.ErrorResponseWithDetails("invalid_request", err.Error()))
	}

	g, err := r.GalleryService.CreateGallery(c.Request().Context(), req)
	if err != nil {
		return r.fail(c, log, err)
	}

	return c.JSON(http.StatusCreated, response.SuccessResponse(g))
}

func (r *Routers) ListGalleries(c echo.Context) error {
	const op = "http.routers.ListGalleries"

	log := r.log.With(
		slog.String("op", op),
	)

	page, _ := strconv.Atoi(c.QueryParam("page"))
	perPage, _ := strconv.Atoi(c.QueryParam("per_page"))

	list, err := r.GalleryService.GetGalleries(c.Request().Context(), page, perPage)
	if err != nil {
		return r.fail(c, log, err)
	}

	return c.JSON(http.StatusOK, response.SuccessResponse(list))
}

// SearchGalleries: ?tags=a,b&match=all
func (r *Routers) SearchGalleries(c echo.Context) error {
	const op = "http.routers.SearchGalleries"

	log := r.log.With(
		slog.String("op", op),
	)

	raw := c.QueryParam("tags")
	if strings.TrimSpace(raw) == "" {
		return c.JSON(http.StatusBadRequest, response.ErrorResponseWithDetails("invalid_request", "tags are required"))
	}

	galleries, err := r.GalleryService.GetGalleriesByTags(
		c.Request().Context(),
		strings.Split(raw, ","),
		c.QueryParam("match") == "all",
	)
	if err != nil {
		return r.fail(c, log, err)
	}

	return c.JSON(http.StatusOK, response.SuccessResponse(galleries))
}

func (r *Routers) GetGallery(c echo.Context) error {
	const op = "http.routers.GetGallery"

	log := r.log.With(
		slog.String("op", op),
	)

	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, response.ErrorResponseWithDetails("invalid_request", err.Error()))
	}

	g, err := r.GalleryService.GetGalleryByID(c.Request().Context(), id)
	if err != nil {
		return r.fail(c, log, err)
	}

	return c.JSON(http.StatusOK, response.SuccessResponse(g))
}

func (r *Routers) GetGalleryBySlug(c echo.Context) error {
	const op = "http.routers.GetGalleryBySlug"

	log := r.log.With(
		slog.String("op", op),
		slog.String("slug", c.Param("slug")),
	)

	g, err := r.GalleryService.GetGalleryBySlug(c.Request().Context(), c.Param("slug"))
	if err != nil {
		return r.fail(c, log, err)
	}

	return c.JSON(http.StatusOK, response.SuccessResponse(g))
}

// UpdateGallery применяет частичное изменение, slug не меняется
func (r *Routers) UpdateGallery(c echo.Context) error {
	const op = "http.routers.UpdateGallery"

	log := r.log.With(
		slog.String("op", op),
	)

	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, response.ErrorResponseWithDetails("invalid_request", err.Error()))
	}

	var req dto.UpdateGalleryRequest

	if err := c.Bind(&req); err != nil {
		log.Warn("failed to bind request", sl.Err(err))
		return c.JSON(http.StatusBadRequest, response.ErrInvalidRequestFormat)
	}

	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, response.ErrorResponseWithDetails("invalid_request", err.Error()))
	}

	g, err := r.GalleryService.UpdateGallery(c.Request().Context(), id, req)
	if err != nil {
		return r.fail(c, log, err)
	}

	return c.JSON(http.StatusOK, response.SuccessResponse(g))
}

func (r *Routers) RemoveGallery(c echo.Context) error {
	const op = "http.routers.RemoveGallery"

	log := r.log.With(
		slog.String("op", op),
	)

	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, response.ErrorResponseWithDetails("invalid_request", err.Error()))
	}

	if err := r.GalleryService.RemoveGallery(c.Request().Context(), id); err != nil {
		return r.fail(c, log, err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (r *Routers) GalleryPreviews(c echo.Context) error {
	const op = "http.routers.GalleryPreviews"

	log := r.log.With(
		slog.String("op", op),
	)

	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, response.ErrorResponseWithDetails("invalid_request", err.Error()))
	}

	images, err := r.GalleryService.Previews(c.Request().Context(), id)
	if err != nil {
		return r.fail(c, log, err)
	}

	return c.JSON(http.StatusOK, response.SuccessResponse(images))
}

func (r *Routers) RateGallery(c echo.Context) error {
	const op = "http.routers.RateGallery"

	log := r.log.With(
		slog.String("op", op),
	)

	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, response.ErrorResponseWithDetails("invalid_request", err.Error()))
	}

	var req dto.RateGalleryRequest

	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, response.ErrInvalidRequestFormat)
	}

	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, response.ErrorResponseWithDetails("invalid_request", err.Error()))
	}

	summary, err := r.GalleryService.RateGallery(c.Request().Context(), id, req.UserID, req.Value)
	if err != nil {
		return r.fail(c, log, err)
	}

	return c.JSON(http.StatusCreated, response.SuccessResponse(summary))
}

// UploadImage принимает multipart-поле "file"
func (r *Routers) UploadImage(c echo.Context) error {
	const op = "http.routers.UploadImage"

	log := r.log.With(
		slog.String("op", op),
	)

	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, response.ErrorResponseWithDetails("invalid_request", err.Error()))
	}

	file, err := c.FormFile("file")
	if err != nil {
		log.Warn("empty file in request", sl.Err(err))
		return c.JSON(http.StatusBadRequest, response.ErrorResponseWithDetails("invalid_request", "file is required"))
	}

	log.Debug("got file for upload",
		slog.String("filename", file.Filename),
		slog.Int64("size", file.Size),
	)

	img, err := r.ImageService.AddImage(c.Request().Context(), dto.ImageUploadInput{GalleryID: id, File: file})
	if err != nil {
		return r.fail(c, log, err)
	}

	return c.JSON(http.StatusCreated, response.SuccessResponse(img))
}

func (r *Routers) ListImages(c echo.Context) error {
	const op = "http.routers.ListImages"

	log := r.log.With(
		slog.String("op", op),
	)

	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, response.ErrorResponseWithDetails("invalid_request", err.Error()))
	}

	images, err := r.ImageService.ListImages(c.Request().Context(), id)
	if err != nil {
		return r.fail(c, log, err)
	}

	return c.JSON(http.StatusOK, response.SuccessResponse(images))
}

func (r *Routers) RegenerateThumbnail(c echo.Context) error {
	const op = "http.routers.RegenerateThumbnail"

	log := r.log.With(
		slog.String("op", op),
	)

	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, response.ErrorResponseWithDetails("invalid_request", err.Error()))
	}

	img, err := r.ImageService.RegenerateThumbnail(c.Request().Context(), id)
	if err != nil {
		return r.fail(c, log, err)
	}

	return c.JSON(http.StatusOK, response.SuccessResponse(img))
}

func (r *Routers) EnqueueUpdate(c echo.Context) error {
	const op = "http.routers.EnqueueUpdate"

	log := r.log.With(
		slog.String("op", op),
	)

	var req dto.EnqueueUpdateRequest

	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, response.ErrInvalidRequestFormat)
	}

	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, response.ErrorResponseWithDetails("invalid_request", err.Error()))
	}

	update, err := r.DispatchService.Enqueue(c.Request().Context(), req.Feed, req.Content)
	if err != nil {
		return r.fail(c, log, err)
	}

	return c.JSON(http.StatusAccepted, response.SuccessResponse(update))
}

// DispatchPending запускает разбор очереди вне расписания
func (r *Routers) DispatchPending(c echo.Context) error {
	const op = "http.routers.DispatchPending"

	log := r.log.With(
		slog.String("op", op),
	)

	summary, err := r.DispatchService.RunPending(c.Request().Context())
	if err != nil {
		return r.fail(c, log, err)
	}

	return c.JSON(http.StatusOK, response.SuccessResponse(summary))
}

// fail maps service errors to responses.
func (r *Routers) fail(c echo.Context, log *slog.Logger, err error) error {
	switch {
	case models.IsValidationError(err):
		log.Warn("validation failed", sl.Err(err))
		return c.JSON(http.StatusBadRequest, response.ErrorResponseWithDetails("validation_failed", err.Error()))
	case errors.Is(err, dispatch.ErrEmptyUpdate):
		return c.JSON(http.StatusBadRequest, response.ErrorResponseWithDetails("invalid_request", err.Error()))
	case errors.Is(err, storage.ErrGalleryNotFound):
		return c.JSON(http.StatusNotFound, response.ErrGalleryNotFound)
	case errors.Is(err, storage.ErrImageNotFound):
		return c.JSON(http.StatusNotFound, response.ErrImageNotFound)
	case errors.Is(err, gallery.ErrLinkRemoved):
		return c.JSON(http.StatusGone, response.ErrLinkRemoved)
	case errors.Is(err, gallery.ErrDuplicateGallery):
		return c.JSON(http.StatusConflict, response.ErrDuplicateGallery)
	case errors.Is(err, slug.ErrSlugConflict), errors.Is(err, storage.ErrSlugExists):
		log.Error("slug allocation failed", sl.Err(err))
		return c.JSON(http.StatusConflict, response.ErrSlugConflict)
	case errors.Is(err, storage.ErrInvalidFileType):
		return c.JSON(http.StatusUnsupportedMediaType, response.ErrInvalidImage)
	case errors.Is(err, thumbnail.ErrDecode):
		return c.JSON(http.StatusUnprocessableEntity, response.ErrInvalidImage)
	case errors.Is(err, storage.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
	}

	log.Error("request failed", sl.Err(err))

	return c.JSON(http.StatusInternalServerError, response.ErrInternal)
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}

	return id, nil
}
