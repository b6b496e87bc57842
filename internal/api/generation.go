package api

import (
	"mime/multipart"
	"strconv"

	"github.com/Egham-7/letterpress/internal/models"
	"github.com/Egham-7/letterpress/internal/services/auth"
	"github.com/Egham-7/letterpress/internal/services/generation"
	"github.com/Egham-7/letterpress/internal/services/request"
	"github.com/gofiber/fiber/v2"
)

const maxImageUploadBytes = 4 << 20

type GenerationHandler struct {
	svc *generation.Service
}

func NewGenerationHandler(svc *generation.Service) *GenerationHandler {
	return &GenerationHandler{svc: svc}
}

func (h *GenerationHandler) Text(c *fiber.Ctx) error {
	requestID := request.ID(c)
	userID, _ := auth.GetUserID(c)

	var req models.TextGenerationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, requestID, "Invalid request body")
	}

	resp, err := h.svc.GenerateText(c.UserContext(), userID, requestID, req)
	if err != nil {
		return respondError(c, requestID, err)
	}
	return c.JSON(resp)
}

func (h *GenerationHandler) Enhance(c *fiber.Ctx) error {
	requestID := request.ID(c)
	userID, _ := auth.GetUserID(c)

	var req models.EnhanceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, requestID, "Invalid request body")
	}

	resp, err := h.svc.Enhance(c.UserContext(), userID, requestID, req)
	if err != nil {
		return respondError(c, requestID, err)
	}
	return c.JSON(resp)
}

func (h *GenerationHandler) Image(c *fiber.Ctx) error {
	requestID := request.ID(c)
	userID, _ := auth.GetUserID(c)

	var req models.ImageGenerationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, requestID, "Invalid request body")
	}

	resp, err := h.svc.GenerateImage(c.UserContext(), userID, requestID, req)
	if err != nil {
		return respondError(c, requestID, err)
	}
	return c.JSON(resp)
}

// Variation expects multipart form fields image, n and size.
func (h *GenerationHandler) Variation(c *fiber.Ctx) error {
	requestID := request.ID(c)
	userID, _ := auth.GetUserID(c)

	image, closeImage, err := formImage(c)
	if err != nil {
		return badRequest(c, requestID, err.Error())
	}
	defer closeImage()

	n, err := formCount(c)
	if err != nil {
		return badRequest(c, requestID, "n must be an integer")
	}

	resp, err := h.svc.VaryImage(c.UserContext(), userID, requestID, models.ImageVariationRequest{
		Image: *image,
		N:     n,
		Size:  c.FormValue("size"),
	})
	if err != nil {
		return respondError(c, requestID, err)
	}
	return c.JSON(resp)
}

// Edit expects multipart form fields image, prompt, n and size.
func (h *GenerationHandler) Edit(c *fiber.Ctx) error {
	requestID := request.ID(c)
	userID, _ := auth.GetUserID(c)

	image, closeImage, err := formImage(c)
	if err != nil {
		return badRequest(c, requestID, err.Error())
	}
	defer closeImage()

	n, err := formCount(c)
	if err != nil {
		return badRequest(c, requestID, "n must be an integer")
	}

	resp, err := h.svc.EditImage(c.UserContext(), userID, requestID, models.ImageEditRequest{
		Image:  *image,
		Prompt: c.FormValue("prompt"),
		N:      n,
		Size:   c.FormValue("size"),
	})
	if err != nil {
		return respondError(c, requestID, err)
	}
	return c.JSON(resp)
}

func formImage(c *fiber.Ctx) (*models.ImageInput, func(), error) {
	header, err := c.FormFile("image")
	if err != nil {
		return nil, nil, fiber.NewError(fiber.StatusBadRequest, "image file is required")
	}
	if header.Size > maxImageUploadBytes {
		return nil, nil, fiber.NewError(fiber.StatusBadRequest, "image must be at most 4MB")
	}

	var file multipart.File
	if file, err = header.Open(); err != nil {
		return nil, nil, fiber.NewError(fiber.StatusBadRequest, "image could not be read")
	}

	return &models.ImageInput{
		Reader:      file,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
	}, func() { _ = file.Close() }, nil
}

func formCount(c *fiber.Ctx) (int64, error) {
	raw := c.FormValue("n")
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
