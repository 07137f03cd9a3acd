package export

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"arcscan/internal/core/jobkey"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler { return &Handler{service: service} }

type exportRequest struct {
	URL string `json:"url"`
}

// HandleExport builds and stores a report for the job in the path. The body
// may carry the original locator so the report records the video URL.
func (h *Handler) HandleExport(c *fiber.Ctx) error {
	key := jobkey.Key(c.Params("jobKey"))
	var req exportRequest
	// Body is optional; ignore parse failures on an empty body.
	_ = c.BodyParser(&req)
	if key == "" && req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "job key or url is required"})
	}

	res, err := h.service.Export(c.Context(), key, req.URL)
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, ErrNotFound) {
			status = fiber.StatusNotFound
		}
		return c.Status(status).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "report": res})
}
