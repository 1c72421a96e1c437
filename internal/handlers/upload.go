package handlers

import (
	"github.com/gofiber/fiber/v2"

	"bookhaven/server/internal/media"
	"bookhaven/server/internal/middleware"
)

// UploadHandler issues presigned upload URLs. Uploads may be nil when no
// bucket is configured.
type UploadHandler struct {
	uploads *media.Uploads
}

func NewUploadHandler(uploads *media.Uploads) *UploadHandler {
	return &UploadHandler{uploads: uploads}
}

// Presign returns a URL the client can PUT an image or voice note to.
func (h *UploadHandler) Presign(c *fiber.Ctx) error {
	if h.uploads == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"success": false,
			"error":   "Uploads are not configured",
			"code":    "UNAVAILABLE",
		})
	}

	var req media.PresignRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	upload, err := h.uploads.Presign(c.UserContext(), middleware.GetUserID(c), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(upload)
}
