package handlers

import (
	"sugarconnect/internal/middleware"
	"sugarconnect/internal/models"
	"sugarconnect/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// UserHandler handles HTTP requests for profiles and user administration.
type UserHandler struct {
	service  *services.UserService
	validate *validator.Validate
	log      logrus.FieldLogger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(service *services.UserService, log logrus.FieldLogger) *UserHandler {
	return &UserHandler{
		service:  service,
		validate: validator.New(),
		log:      log,
	}
}

// RegisterRoutes registers the user routes on an authenticated router.
func (h *UserHandler) RegisterRoutes(router fiber.Router) {
	userRoutes := router.Group("/users")
	userRoutes.Get("/", h.HandleBrowse)
	userRoutes.Get("/me", h.HandleGetProfile)
	userRoutes.Put("/me", h.HandleUpdateProfile)
	userRoutes.Get("/:id", h.HandleGetUser)

	adminRoutes := router.Group("/admin", middleware.RequireRole(models.RoleAdmin))
	adminRoutes.Get("/users", h.HandleListUsers)
	adminRoutes.Delete("/users/:id", h.HandleDeleteUser)
	adminRoutes.Post("/users/:id/credits", h.HandleGrantCredits)
}

// HandleGetProfile returns the caller's profile.
func (h *UserHandler) HandleGetProfile(c *fiber.Ctx) error {
	session, _ := middleware.SessionFrom(c)
	user, err := h.service.GetProfile(c.UserContext(), session)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(user)
}

type profileRequest struct {
	Name      *string  `json:"name" form:"name"`
	Age       *int     `json:"age" form:"age"`
	Location  *string  `json:"location" form:"location"`
	Sex       *string  `json:"sex" form:"sex"`
	Bio       *string  `json:"bio" form:"bio"`
	Interests []string `json:"interests" form:"interests"`
}

// HandleUpdateProfile edits the caller's profile. Multipart requests may
// carry a new profile image in the "image" field.
func (h *UserHandler) HandleUpdateProfile(c *fiber.Ctx) error {
	session, _ := middleware.SessionFrom(c)

	var req profileRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	image, err := formImage(c, "image")
	if err != nil {
		return badRequest(c, err)
	}

	upd := services.ProfileUpdate{
		Name:      req.Name,
		Age:       req.Age,
		Location:  req.Location,
		Sex:       req.Sex,
		Bio:       req.Bio,
		Interests: req.Interests,
		Image:     image,
	}
	if err := h.validate.Struct(upd); err != nil {
		return respondValidation(c, err)
	}

	user, err := h.service.UpdateProfile(c.UserContext(), session, upd)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(user)
}

// HandleGetUser returns a public profile.
func (h *UserHandler) HandleGetUser(c *fiber.Ctx) error {
	session, _ := middleware.SessionFrom(c)
	user, err := h.service.GetUser(c.UserContext(), session, c.Params("id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(user)
}

// HandleBrowse lists the profiles the caller may message.
func (h *UserHandler) HandleBrowse(c *fiber.Ctx) error {
	session, _ := middleware.SessionFrom(c)
	users, err := h.service.Browse(c.UserContext(), session, c.Query("role"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(users)
}

// HandleListUsers lists every user.
func (h *UserHandler) HandleListUsers(c *fiber.Ctx) error {
	users, err := h.service.ListUsers(c.UserContext())
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(users)
}

// HandleDeleteUser removes a user and their profile image.
func (h *UserHandler) HandleDeleteUser(c *fiber.Ctx) error {
	userID := c.Params("id")
	if err := h.service.DeleteUser(c.UserContext(), userID); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(fiber.Map{
		"message": "User " + userID + " deleted successfully",
	})
}

type grantCreditsRequest struct {
	Amount int `json:"amount" validate:"required,gt=0,lte=100000"`
}

// HandleGrantCredits adds credits to a user's balance.
func (h *UserHandler) HandleGrantCredits(c *fiber.Ctx) error {
	var req grantCreditsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := h.validate.Struct(req); err != nil {
		return respondValidation(c, err)
	}

	user, err := h.service.GrantCredits(c.UserContext(), c.Params("id"), req.Amount)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(user)
}
