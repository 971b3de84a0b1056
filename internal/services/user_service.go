package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"sugarconnect/internal/apperr"
	"sugarconnect/internal/models"
	"sugarconnect/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProfileUpdate carries the editable profile fields. Nil fields are left as they are.
type ProfileUpdate struct {
	Name      *string       `validate:"omitempty,min=2,max=100"`
	Age       *int          `validate:"omitempty,gte=18,lte=120"`
	Location  *string       `validate:"omitempty,max=100"`
	Sex       *string       `validate:"omitempty,max=20"`
	Bio       *string       `validate:"omitempty,max=2000"`
	Interests []string      `validate:"omitempty,max=20,dive,max=50"`
	Image     *ImagePayload
}

// UserService manages profiles and the admin user operations.
type UserService struct {
	userRepo    repositories.UserRepository
	imageRepo   repositories.ImageRepository
	policy      Policy
	maxAttempts int
	log         logrus.FieldLogger
}

// NewUserService creates a new UserService.
func NewUserService(userRepo repositories.UserRepository, imageRepo repositories.ImageRepository, policy Policy, maxAttempts int, log logrus.FieldLogger) *UserService {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &UserService{
		userRepo:    userRepo,
		imageRepo:   imageRepo,
		policy:      policy,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

// GetProfile returns the caller's own profile.
func (s *UserService) GetProfile(ctx context.Context, session models.Session) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	public := user.Public()
	return &public, nil
}

// UpdateProfile applies upd to the caller's profile. A new image replaces
// the previous one, which is then removed from the store.
func (s *UserService) UpdateProfile(ctx context.Context, session models.Session, upd ProfileUpdate) (*models.User, error) {
	var newImageKey, newImageURL string
	if upd.Image != nil {
		newImageKey = "profiles/" + session.UserID + "/" + uuid.New().String()
		err := s.imageRepo.Save(ctx, newImageKey, repositories.Image{
			Data:        upd.Image.Data,
			ContentType: upd.Image.ContentType,
		})
		if err != nil {
			return nil, err
		}
		newImageURL = ImageURL(newImageKey, time.Now())
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		user, err := s.userRepo.GetByID(ctx, session.UserID)
		if err != nil {
			return nil, err
		}
		oldImage := user.Image
		applyProfileUpdate(user, upd)
		if newImageURL != "" {
			user.Image = newImageURL
		}

		err = s.userRepo.Update(ctx, user)
		if errors.Is(err, apperr.ErrConflict) {
			continue
		}
		if err != nil {
			s.removeImage(ctx, newImageURL)
			return nil, err
		}
		if newImageURL != "" && oldImage != "" {
			s.removeImage(ctx, oldImage)
		}
		public := user.Public()
		return &public, nil
	}
	s.removeImage(ctx, newImageURL)
	return nil, fmt.Errorf("profile %s is being written concurrently: %w", session.UserID, apperr.ErrConflict)
}

func applyProfileUpdate(user *models.User, upd ProfileUpdate) {
	if upd.Name != nil {
		user.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Age != nil {
		user.Age = *upd.Age
	}
	if upd.Location != nil {
		user.Location = *upd.Location
	}
	if upd.Sex != nil {
		user.Sex = *upd.Sex
	}
	if upd.Bio != nil {
		user.Bio = *upd.Bio
	}
	if upd.Interests != nil {
		user.Interests = upd.Interests
	}
}

// GetUser returns the public profile of id if the caller may see it.
func (s *UserService) GetUser(ctx context.Context, session models.Session, id string) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.ID != session.UserID && !s.policy.Eligible(session.Role, user.Role) {
		return nil, fmt.Errorf("a %s cannot view a %s: %w", session.Role, user.Role, apperr.ErrForbidden)
	}
	public := user.Public()
	public.Credits = nil
	if user.ID == session.UserID || session.Privileged() {
		public.Credits = user.Credits
	}
	return &public, nil
}

// Browse lists the profiles the caller may message, optionally narrowed to role.
func (s *UserService) Browse(ctx context.Context, session models.Session, role string) ([]models.User, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	filter := models.Role(strings.ToLower(role))
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.ID == session.UserID || !s.policy.Eligible(session.Role, u.Role) {
			continue
		}
		if filter != "" && u.Role != filter {
			continue
		}
		public := u.Public()
		if !session.Privileged() {
			public.Credits = nil
		}
		out = append(out, public)
	}
	sortUsers(out)
	return out, nil
}

// ListUsers returns every user. Admin only.
func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.User, len(users))
	for i, u := range users {
		out[i] = u.Public()
	}
	sortUsers(out)
	return out, nil
}

// DeleteUser removes a user and their profile image. Admin only.
func (s *UserService) DeleteUser(ctx context.Context, id string) error {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.userRepo.Delete(ctx, user); err != nil {
		return err
	}
	s.removeImage(ctx, user.Image)
	s.log.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("user deleted")
	return nil
}

// GrantCredits adds amount credits to a user's balance. Admin only.
func (s *UserService) GrantCredits(ctx context.Context, id string, amount int) (*models.User, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit grant must be positive: %w", apperr.ErrValidation)
	}
	user, err := adjustCredits(ctx, s.userRepo, id, amount, s.maxAttempts)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"user_id": user.ID,
		"amount":  amount,
		"balance": user.CreditBalance(),
	}).Info("credits granted")
	public := user.Public()
	return &public, nil
}

func (s *UserService) removeImage(ctx context.Context, ref string) {
	key, ok := ImageKeyFromURL(ref)
	if !ok {
		return
	}
	if err := s.imageRepo.Delete(ctx, key); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		s.log.WithError(err).WithField("image_key", key).Warn("failed to remove profile image")
	}
}

func sortUsers(users []models.User) {
	sort.SliceStable(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].ID < users[j].ID
	})
}
