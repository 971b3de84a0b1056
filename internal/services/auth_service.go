package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sugarconnect/internal/apperr"
	"sugarconnect/internal/models"
	"sugarconnect/internal/repositories"

	"github.com/dgrijalva/jwt-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// RegisterRequest is the validated sign-up form.
type RegisterRequest struct {
	Email     string   `json:"email" validate:"required,email"`
	Password  string   `json:"password" validate:"required,min=6"`
	Name      string   `json:"name" validate:"required,min=2,max=100"`
	Age       int      `json:"age" validate:"omitempty,gte=18,lte=120"`
	Location  string   `json:"location" validate:"omitempty,max=100"`
	Role      string   `json:"role" validate:"required,oneof=patron seeker"`
	Sex       string   `json:"sex" validate:"omitempty,max=20"`
	Bio       string   `json:"bio" validate:"omitempty,max=2000"`
	Interests []string `json:"interests" validate:"omitempty,max=20,dive,max=50"`
}

// AuthService handles business logic for authentication and authorization.
type AuthService struct {
	userRepo      repositories.UserRepository
	policy        Policy
	jwtSecret     []byte
	tokenDurat    time.Duration
	signupCredits int
	log           logrus.FieldLogger
}

// NewAuthService creates a new AuthService.
func NewAuthService(userRepo repositories.UserRepository, policy Policy, jwtSecret string, tokenTTL time.Duration, signupCredits int, log logrus.FieldLogger) *AuthService {
	return &AuthService{
		userRepo:      userRepo,
		policy:        policy,
		jwtSecret:     []byte(jwtSecret),
		tokenDurat:    tokenTTL,
		signupCredits: signupCredits,
		log:           log,
	}
}

// RegisterUser hashes the password and stores a new member. Credit-metered
// roles start with the sign-up credit allowance.
func (s *AuthService) RegisterUser(ctx context.Context, req RegisterRequest) (*models.User, error) {
	role := models.Role(strings.ToLower(req.Role))
	if role != models.RolePatron && role != models.RoleSeeker {
		return nil, fmt.Errorf("role %q cannot self-register: %w", req.Role, apperr.ErrValidation)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:        req.Email,
		Name:         req.Name,
		Age:          req.Age,
		Location:     req.Location,
		Role:         role,
		Sex:          req.Sex,
		Bio:          req.Bio,
		Interests:    req.Interests,
		PasswordHash: string(hashedPassword),
	}
	if s.policy.Metered(role) {
		credits := s.signupCredits
		user.Credits = &credits
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to register user: %w", err)
	}
	s.log.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("user registered")
	return user, nil
}

// EnsureAdmin creates the admin account if the email is not registered yet.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password string) error {
	if _, err := s.userRepo.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	admin := &models.User{
		Email:        email,
		Name:         "Support",
		Role:         models.RoleAdmin,
		PasswordHash: string(hashedPassword),
	}
	if err := s.userRepo.Create(ctx, admin); err != nil && !errors.Is(err, apperr.ErrConflict) {
		return fmt.Errorf("failed to create admin: %w", err)
	}
	return nil
}

// LoginUser authenticates a user and returns a JWT token if successful.
func (s *AuthService) LoginUser(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return "", nil, fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthorized)
		}
		return "", nil, err
	}

	if user.PasswordHash == "" {
		return "", nil, fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthorized)
	}

	token, err := s.IssueToken(*user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// IssueToken signs a session token for user.
func (s *AuthService) IssueToken(user models.User) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.ID,
		"email":   user.Email,
		"role":    string(user.Role),
		"exp":     now.Add(s.tokenDurat).Unix(),
		"iat":     now.Unix(),
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken parses and validates a JWT token and returns its session.
func (s *AuthService) ValidateToken(tokenString string) (models.Session, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return models.Session{}, fmt.Errorf("invalid token: %v: %w", err, apperr.ErrUnauthorized)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return models.Session{}, fmt.Errorf("invalid token: %w", apperr.ErrUnauthorized)
	}

	userID, _ := claims["user_id"].(string)
	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)
	if userID == "" || !models.Role(role).Valid() {
		return models.Session{}, fmt.Errorf("invalid token claims: %w", apperr.ErrUnauthorized)
	}
	return models.Session{UserID: userID, Email: email, Role: models.Role(role)}, nil
}
