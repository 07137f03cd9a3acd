package analysis

import (
	"github.com/gofiber/fiber/v2"

	"arcscan/internal/core/jobkey"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler { return &Handler{service: service} }

type analyzeRequest struct {
	URL    string `json:"url"`
	UserID string `json:"user_id"`
}

// HandleAnalyze submits a locator. The response always carries the derived
// job key and the reconciled state; a cache hit includes the final result
// immediately.
func (h *Handler) HandleAnalyze(c *fiber.Ctx) error {
	var req analyzeRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid body")
	}
	if req.URL == "" || req.UserID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "url and user_id are required")
	}

	res := h.service.Start(c.Context(), req.URL, req.UserID)
	return c.JSON(fiber.Map{
		"success": true,
		"cached":  res.Cached,
		"job_key": res.Snapshot.JobKey,
		"state":   res.Snapshot.State,
		"steps":   res.Snapshot.Steps,
		"final":   res.Snapshot.Final,
	})
}

func (h *Handler) HandleProgress(c *fiber.Ctx) error {
	key := jobkey.Key(c.Params("jobKey"))
	snap, ok := h.service.Snapshot(key)
	if !ok {
		return errorJSON(c, fiber.StatusNotFound, "no active analysis for this job")
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"job_key":  snap.JobKey,
		"state":    snap.State,
		"steps":    snap.Steps,
		"analyzed": snap.Analyzed,
	})
}

func (h *Handler) HandlePartial(c *fiber.Ctx) error {
	key := jobkey.Key(c.Params("jobKey"))
	snap, ok := h.service.Snapshot(key)
	if !ok {
		return errorJSON(c, fiber.StatusNotFound, "no active analysis for this job")
	}
	if snap.Partial == nil {
		return errorJSON(c, fiber.StatusNotFound, "no partial transcript yet")
	}
	return c.JSON(fiber.Map{"success": true, "partial": snap.Partial})
}

func (h *Handler) HandleResults(c *fiber.Ctx) error {
	key := jobkey.Key(c.Params("jobKey"))
	res, err := h.service.Results(c.Context(), key)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	if res == nil {
		return errorJSON(c, fiber.StatusNotFound, "no results for this job")
	}
	return c.JSON(fiber.Map{"success": true, "result": res})
}

func (h *Handler) HandleReset(c *fiber.Ctx) error {
	key := jobkey.Key(c.Params("jobKey"))
	if !h.service.Reset(key) {
		return errorJSON(c, fiber.StatusNotFound, "no active analysis for this job")
	}
	return c.JSON(fiber.Map{"success": true})
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "error": msg})
}
