package handlers

import (
	"context"
	"fmt"

	"sugarconnect/internal/apperr"
	"sugarconnect/internal/repositories"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// ImageSource reads stored images; repositories.ImageRepository implements it.
type ImageSource interface {
	Get(ctx context.Context, key string) (*repositories.Image, error)
}

// ImageHandler serves stored images.
type ImageHandler struct {
	images ImageSource
	log    logrus.FieldLogger
}

// NewImageHandler creates a new ImageHandler.
func NewImageHandler(images ImageSource, log logrus.FieldLogger) *ImageHandler {
	return &ImageHandler{images: images, log: log}
}

// RegisterRoutes registers the image route. Image keys may contain slashes.
func (h *ImageHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/images/*", h.HandleGetImage)
}

// HandleGetImage streams the stored bytes with their content type.
func (h *ImageHandler) HandleGetImage(c *fiber.Ctx) error {
	key := c.Params("*")
	if key == "" {
		return respondError(c, h.log, fmt.Errorf("image key is required: %w", apperr.ErrValidation))
	}
	img, err := h.images.Get(c.UserContext(), key)
	if err != nil {
		return respondError(c, h.log, err)
	}
	c.Set(fiber.HeaderContentType, img.ContentType)
	c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
	return c.Send(img.Data)
}
