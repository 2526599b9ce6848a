package services

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/markdave123-py/lawgpt/internal/core"
	"github.com/markdave123-py/lawgpt/internal/models"
)

const (
	minPasswordLength      = 6
	maxPasswordBytes       = 72 // bcrypt input limit
	defaultFavoriteFeature = "Dark Mode"
)

type SignupInput struct {
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	MobileNumber string `json:"mobileNumber"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	UserType     string `json:"userType"`
	Newsletter   bool   `json:"newsletter"`
}

// ProfilePatch holds the editable profile fields; empty values are ignored.
type ProfilePatch struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Email           string `json:"email"`
	MobileNumber    string `json:"mobileNumber"`
	FavoriteFeature string `json:"favoriteFeature"`
}

type UserService struct {
	db     core.DbClient
	tokens *TokenManager
	cost   int
}

func NewUserService(db core.DbClient, tokens *TokenManager) *UserService {
	return &UserService{db: db, tokens: tokens, cost: bcrypt.DefaultCost}
}

func (s *UserService) Signup(ctx context.Context, in SignupInput) (*models.User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.MobileNumber = strings.TrimSpace(in.MobileNumber)

	if in.FirstName == "" || in.LastName == "" || in.MobileNumber == "" || in.Email == "" || in.Password == "" {
		return nil, errors.Wrap(core.ErrInvalidInput, "firstName, lastName, mobileNumber, email and password are required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, errors.Wrap(core.ErrInvalidInput, "email is not valid")
	}
	if len(in.Password) < minPasswordLength {
		return nil, errors.Wrapf(core.ErrInvalidInput, "password must be at least %d characters", minPasswordLength)
	}
	if len(in.Password) > maxPasswordBytes {
		return nil, errors.Wrapf(core.ErrInvalidInput, "password must be at most %d bytes", maxPasswordBytes)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:              uuid.NewString(),
		FirstName:       in.FirstName,
		LastName:        in.LastName,
		MobileNumber:    in.MobileNumber,
		Email:           in.Email,
		PasswordHash:    string(hash),
		UserType:        in.UserType,
		Newsletter:      in.Newsletter,
		FavoriteFeature: defaultFavoriteFeature,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.db.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	log.Info().Str("user_id", user.ID).Msg("user registered")
	return user, nil
}

// Login returns a signed token for valid credentials. Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (s *UserService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.db.GetUserByEmail(ctx, email)
	if errors.Is(err, core.ErrNotFound) {
		return "", nil, core.ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, core.ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// Verify resolves a bearer token to its user id.
func (s *UserService) Verify(token string) (string, error) {
	return s.tokens.Verify(token)
}

// Profile returns the user with totalChats taken from the real session count.
func (s *UserService) Profile(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	n, err := s.db.CountSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.TotalChats = n
	return user, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) (*models.User, error) {
	user, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&user.FirstName, patch.FirstName)
	set(&user.LastName, patch.LastName)
	set(&user.MobileNumber, patch.MobileNumber)
	set(&user.FavoriteFeature, patch.FavoriteFeature)
	if email := strings.ToLower(strings.TrimSpace(patch.Email)); email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, errors.Wrap(core.ErrInvalidInput, "email is not valid")
		}
		user.Email = email
	}

	if err := s.db.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
