package history

import (
	"github.com/gofiber/fiber/v2"

	"arcscan/internal/platform/backend"
)

type Handler struct {
	store   *Store
	backend *backend.Client
}

func NewHandler(store *Store, b *backend.Client) *Handler {
	return &Handler{store: store, backend: b}
}

// HandleList returns a user's stored analyses. When nothing is stored
// locally the analysis backend is asked for its copy, so history survives a
// fresh deployment with an empty store.
func (h *Handler) HandleList(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "user id is required"})
	}

	records, err := h.store.ListByUser(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if len(records) == 0 && h.backend != nil {
		if remote, err := h.backend.History(c.Context(), userID); err == nil {
			for i := range remote {
				records = append(records, Record{UserID: userID, Analysis: &remote[i]})
			}
		}
	}
	return c.JSON(fiber.Map{"success": true, "history": records})
}
