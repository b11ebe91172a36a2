package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/roadguardian/api/internal/model"
	"github.com/roadguardian/api/internal/service"
	"github.com/roadguardian/api/internal/store"
	"github.com/roadguardian/api/pkg/response"
)

const maxUploadSize = 200 * 1024 * 1024 // 200MB

var validVideoTypes = map[string]bool{
	"video/mp4":        true,
	"video/quicktime":  true,
	"video/x-msvideo":  true,
	"video/webm":       true,
	"video/x-matroska": true,
}

// ReportHandler exposes the report lifecycle over HTTP
type ReportHandler struct {
	service   *service.ReportService
	validator *validator.Validate
}

func NewReportHandler(svc *service.ReportService, v *validator.Validate) *ReportHandler {
	return &ReportHandler{
		service:   svc,
		validator: v,
	}
}

// List handles GET /api/reports
func (h *ReportHandler) List(c *fiber.Ctx) error {
	return response.OK(c, h.service.List())
}

// Get handles GET /api/reports/:id
func (h *ReportHandler) Get(c *fiber.Ctx) error {
	rec, ok := h.service.Get(c.Params("id"))
	if !ok {
		return response.NotFound(c, "Report not found")
	}
	return response.OK(c, rec)
}

// Create handles POST /api/reports. The record exists, in processing state,
// before the analysis job has even started; the client gets its id right away.
func (h *ReportHandler) Create(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	if file.Size > maxUploadSize {
		return response.ValidationError(c, "File size exceeds 200MB limit", map[string]interface{}{
			"maxSize":  maxUploadSize,
			"fileSize": file.Size,
		})
	}

	contentType := file.Header.Get("Content-Type")
	if !validVideoTypes[contentType] {
		return response.ValidationError(c, "Invalid file type. Supported: MP4, MOV, AVI, WEBM, MKV", map[string]interface{}{
			"contentType": contentType,
		})
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	rec, err := h.service.CreateFromUpload(c.Context(), file.Filename, f)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, rec)
}

// Resume handles POST /api/reports/:id/analyze
func (h *ReportHandler) Resume(c *fiber.Ctx) error {
	rec, err := h.service.Resume(c.Context(), c.Params("id"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return response.NotFound(c, "Report not found")
		case errors.Is(err, store.ErrNotRetryable):
			return response.Conflict(c, "Report has no failed analysis to retry")
		default:
			return response.ServiceError(c, err.Error())
		}
	}
	return response.OK(c, rec)
}

// Edit handles PATCH /api/reports/:id
func (h *ReportHandler) Edit(c *fiber.Ctx) error {
	var patch model.ReportPatch
	if err := c.BodyParser(&patch); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&patch); err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}

	rec, err := h.service.Edit(c.Context(), c.Params("id"), patch)
	if err != nil {
		return h.mapStoreError(c, err)
	}
	return response.OK(c, rec)
}

// Submit handles POST /api/reports/:id/submit
func (h *ReportHandler) Submit(c *fiber.Ctx) error {
	var patch model.ReportPatch
	if err := c.BodyParser(&patch); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&patch); err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}

	rec, err := h.service.Submit(c.Context(), c.Params("id"), patch)
	if err != nil {
		return h.mapStoreError(c, err)
	}
	return response.OK(c, rec)
}

// Delete handles DELETE /api/reports/:id
func (h *ReportHandler) Delete(c *fiber.Ctx) error {
	removed, err := h.service.Delete(c.Context(), c.Params("id"))
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	if !removed {
		return response.NotFound(c, "Report not found")
	}
	return response.NoContent(c)
}

func (h *ReportHandler) mapStoreError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return response.NotFound(c, "Report not found")
	case errors.Is(err, store.ErrSubmitted):
		return response.Conflict(c, "Report has been submitted and can no longer be edited")
	case errors.Is(err, store.ErrNotComplete):
		return response.Conflict(c, "Report analysis is not complete")
	default:
		return response.ServiceError(c, err.Error())
	}
}
