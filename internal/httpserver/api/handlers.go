package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/ingestkit/docbridge/internal/app"
	"github.com/ingestkit/docbridge/internal/httpserver/httputil"
	"github.com/ingestkit/docbridge/internal/models"
	"github.com/ingestkit/docbridge/internal/nim"
	"github.com/ingestkit/docbridge/internal/services/ingest"
)

type apiHandler struct {
	container *app.Container
}

type chartExtractRequest struct {
	Base64Image  string   `json:"base64_image"`
	Base64Images []string `json:"base64_images"`
}

type chartExtractResponse struct {
	Results []string `json:"results"`
}

// extractChart runs the chart-to-table model synchronously over the supplied
// images and returns one data table string per image.
func (h *apiHandler) extractChart(c *fiber.Ctx) error {
	var req chartExtractRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}

	start := time.Now()
	results, err := h.container.Charts.Run(c.UserContext(), nim.ImageInput{
		Base64Image:  req.Base64Image,
		Base64Images: req.Base64Images,
	})
	h.recordInference("deplot", time.Since(start), err)
	if err != nil {
		switch {
		case errors.Is(err, nim.ErrMissingInput), errors.Is(err, nim.ErrInvalidInputType), errors.Is(err, nim.ErrEmptyInput):
			return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, nim.ErrMalformedResponse):
			return httputil.WriteError(c, fiber.StatusBadGateway, err.Error())
		default:
			return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(chartExtractResponse{Results: results})
}

type ingestRequest struct {
	SourceName string   `json:"source_name"`
	Pages      []string `json:"pages"`
}

type jobResponse struct {
	ID         string           `json:"id"`
	SourceName string           `json:"source_name,omitempty"`
	Status     string           `json:"status"`
	PageCount  int              `json:"page_count"`
	Elements   []models.Element `json:"elements,omitempty"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func toJobResponse(job ingest.Job) jobResponse {
	return jobResponse{
		ID:         job.ID.String(),
		SourceName: job.SourceName,
		Status:     job.Status,
		PageCount:  job.PageCount,
		Elements:   job.Elements,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	}
}

// ingest submits rendered pages for layout extraction. The optional
// Idempotency-Key header makes resubmissions return the original job.
func (h *apiHandler) ingest(c *fiber.Ctx) error {
	var req ingestRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Pages) == 0 {
		return httputil.WriteError(c, fiber.StatusBadRequest, "at least one page required")
	}

	job, err := h.container.Jobs.Submit(c.UserContext(), ingest.SubmitParams{
		SourceName:     req.SourceName,
		Pages:          req.Pages,
		IdempotencyKey: c.Get("Idempotency-Key"),
	})
	if err != nil {
		if errors.Is(err, ingest.ErrTooManyPages) {
			return httputil.WriteError(c, fiber.StatusRequestEntityTooLarge, err.Error())
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}

	h.recordElements(job.Elements)
	status := fiber.StatusOK
	if job.Status == ingest.StatusFailed {
		status = fiber.StatusUnprocessableEntity
	}
	return c.Status(status).JSON(toJobResponse(job))
}

func (h *apiHandler) getJob(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid job id")
	}
	job, err := h.container.Jobs.Get(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, ingest.ErrNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, "job not found")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(toJobResponse(job))
}

func (h *apiHandler) recordInference(model string, duration time.Duration, err error) {
	if h.container.Observability == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	protocol := ""
	if h.container.Config != nil {
		switch model {
		case "deplot":
			protocol = h.container.Config.Inference.Deplot.Protocol
		case "doughnut":
			protocol = h.container.Config.Inference.Doughnut.Protocol
		}
	}
	h.container.Observability.RecordInference(model, protocol, status, duration)
}

func (h *apiHandler) recordElements(elements []models.Element) {
	if h.container.Observability == nil {
		return
	}
	counts := make(map[string]int)
	for _, el := range elements {
		counts[string(el.Type)]++
	}
	for elementType, count := range counts {
		h.container.Observability.RecordElements(elementType, count)
	}
}
