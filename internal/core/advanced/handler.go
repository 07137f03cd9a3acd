package advanced

import (
	"errors"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"arcscan/internal/platform/backend"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler { return &Handler{service: service} }

type triggerRequest struct {
	URL    string `json:"url"`
	UserID string `json:"user_id"`
}

func (h *Handler) HandleTrigger(c *fiber.Ctx) error {
	var req triggerRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid body")
	}
	if req.URL == "" || req.UserID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "url and user_id are required")
	}

	resp, err := h.service.Trigger(c.Context(), req.URL, req.UserID)
	if err != nil {
		return passthrough(c, err)
	}
	return c.JSON(resp)
}

// HandleProgress proxies the remote progress record unchanged so callers see
// exactly what the pipeline reports.
func (h *Handler) HandleProgress(c *fiber.Ctx) error {
	prog, err := h.service.Progress(c.Context(), locatorParam(c))
	if err != nil {
		return passthrough(c, err)
	}
	return c.JSON(prog)
}

func (h *Handler) HandleResults(c *fiber.Ctx) error {
	res, err := h.service.Results(c.Context(), locatorParam(c))
	if err != nil {
		return passthrough(c, err)
	}
	return c.JSON(res)
}

// locatorParam decodes the percent-encoded locator path segment.
func locatorParam(c *fiber.Ctx) string {
	raw := c.Params("locator")
	if dec, err := url.PathUnescape(raw); err == nil {
		return dec
	}
	return raw
}

// passthrough relays a remote error with its original status and body. An
// error that did not come from the remote pipeline becomes a plain 500.
func passthrough(c *fiber.Ctx, err error) error {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && len(apiErr.Body) > 0 {
		c.Status(apiErr.StatusCode)
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(apiErr.Body)
	}
	return errorJSON(c, fiber.StatusInternalServerError, err.Error())
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "error": msg})
}
