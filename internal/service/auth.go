package service

// AuthService is the business logic for accounts:
//
//	AuthHandler (HTTP) → AuthService → UserRepository (DB)
//	                   ↘ TokenService (JWT), PasswordService (bcrypt), Mailer
//
// Three ways in: email + password, GitHub OAuth, and the password reset
// link. All of them end in the same AuthResult (user + JWT) except the
// reset, which only changes the password.

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/sakif/ecoloop/internal/apperror"
	"github.com/sakif/ecoloop/internal/auth"
	"github.com/sakif/ecoloop/internal/geo"
	"github.com/sakif/ecoloop/internal/mailer"
	"github.com/sakif/ecoloop/internal/model"
	"github.com/sakif/ecoloop/internal/repository"
)

const (
	// ResetTokenTTL is how long a password reset link works.
	ResetTokenTTL = time.Hour

	MinNameLength = 2
	MaxNameLength = 100
	MaxInterests  = 20

	// invalidCredentials is the single message for unknown email and wrong
	// password, so login does not reveal which accounts exist.
	invalidCredentials = "incorrect email or password"
)

var phonePattern = regexp.MustCompile(`^\+?[\d\s\-()]+$`)

type AuthService struct {
	users       repository.UserRepository
	items       repository.ItemRepository
	tokens      *auth.TokenService
	passwords   *auth.PasswordService
	mail        mailer.Mailer
	frontendURL string
	logger      *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	items repository.ItemRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	mail mailer.Mailer,
	frontendURL string,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:       users,
		items:       items,
		tokens:      tokens,
		passwords:   passwords,
		mail:        mail,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

// AuthResult bundles the user and the issued JWT so the handler can set
// the cookie and respond in one step.
type AuthResult struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

type RegisterInput struct {
	Name      string
	Email     string
	Password  string
	Phone     string
	Interests []string
	Location  *geo.Point
}

// ProfileInput carries the editable profile fields. Nil means unchanged.
type ProfileInput struct {
	Name      *string
	Phone     *string
	Interests []string
	Location  *geo.Point
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperror.ValidationFailed("email", "email address is not valid")
	}
	return email, nil
}

func validatePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone != "" && !phonePattern.MatchString(phone) {
		return "", apperror.ValidationFailed("phone", "invalid phone number format")
	}
	return phone, nil
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// Register creates a password account and signs it in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	name, err := requireText("name", in.Name, MinNameLength, MaxNameLength)
	if err != nil {
		return nil, err
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := auth.ValidatePolicy(in.Password); err != nil {
		return nil, err
	}
	phone, err := validatePhone(in.Phone)
	if err != nil {
		return nil, err
	}
	if err := validatePoint("location", in.Location); err != nil {
		return nil, err
	}
	interests := cleanList(in.Interests)
	if len(interests) > MaxInterests {
		return nil, apperror.ValidationFailed("interests", fmt.Sprintf("at most %d interests", MaxInterests))
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		Name:         name,
		Email:        email,
		Phone:        phone,
		PasswordHash: hash,
		Role:         model.RoleUser,
		Interests:    interests,
		Location:     in.Location,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user registered", slog.String("userID", user.ID))
	return s.issue(user)
}

// Login checks email and password. Unknown email and wrong password give
// the same 401; a suspended account gets 403 after the password matched.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperror.ValidationFailed("email", "email and password are required")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(invalidCredentials)
		}
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		return nil, apperror.Unauthorized(invalidCredentials)
	}
	if user.Suspended {
		return nil, apperror.Forbidden("account suspended")
	}
	return s.issue(user)
}

// LoginOrRegisterGitHub signs in the account linked to the GitHub id. An
// unlinked GitHub account is linked to the user with the same email, or a
// new passwordless user is created.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, gh *auth.GitHubUser) (*AuthResult, error) {
	if gh == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}

	user, err := s.users.GetUserByGitHubID(ctx, gh.ID)
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrNotFound):
		user, err = s.linkOrCreateGitHub(ctx, gh)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("service/auth: looking up github user %d: %w", gh.ID, err)
	}

	if user.Suspended {
		return nil, apperror.Forbidden("account suspended")
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", user.ID),
		slog.String("login", gh.Login),
	)
	return s.issue(user)
}

func (s *AuthService) linkOrCreateGitHub(ctx context.Context, gh *auth.GitHubUser) (*model.User, error) {
	email, err := normalizeEmail(gh.Email)
	if err != nil {
		return nil, apperror.ValidationFailed("email", "your GitHub account has no verified email address")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err == nil {
		if err := s.users.LinkGitHub(ctx, user.ID, gh.ID); err != nil {
			return nil, err
		}
		id := gh.ID
		user.GitHubID = &id
		return user, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}

	id := gh.ID
	user = &model.User{
		Name:     gh.DisplayName(),
		Email:    email,
		GitHubID: &id,
		Role:     model.RoleUser,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// newResetToken returns the token mailed to the user and the hash stored.
func newResetToken() (token, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(b)
	return token, hashResetToken(token), nil
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ForgotPassword stores a fresh reset token (replacing any earlier one) and
// mails the link. An unknown email is reported as not found.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	token, hash, err := newResetToken()
	if err != nil {
		return fmt.Errorf("service/auth: generating reset token: %w", err)
	}
	if err := s.users.SetResetToken(ctx, user.ID, hash, time.Now().Add(ResetTokenTTL)); err != nil {
		return err
	}

	msg, err := mailer.PasswordReset(s.frontendURL, user.Email, token, ResetTokenTTL)
	if err != nil {
		return err
	}
	if err := s.mail.Send(ctx, msg); err != nil {
		s.logger.Error("sending reset email failed",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
		return apperror.Unavailable("could not send the reset email, please try again later")
	}
	return nil
}

// ResetPassword consumes a reset token. Each token works once.
func (s *AuthService) ResetPassword(ctx context.Context, token, password string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperror.ValidationFailed("token", "reset token is required")
	}
	if err := auth.ValidatePolicy(password); err != nil {
		return err
	}
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return fmt.Errorf("service/auth: hashing password: %w", err)
	}

	userID, err := s.users.ResetPassword(ctx, hashResetToken(token), hash, time.Now())
	if err != nil {
		return err
	}
	s.logger.Info("password reset", slog.String("userID", userID))
	return nil
}

// GetUserByID returns the user for the given internal ID.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthorized("authentication required")
	}
	return s.users.GetUserByID(ctx, id)
}

// Profile returns the user with listing counters.
func (s *AuthService) Profile(ctx context.Context, userID string) (*model.Profile, error) {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	listed, exchanged, err := s.items.OwnerItemCounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: counting items of %s: %w", userID, err)
	}
	return &model.Profile{User: user, ItemsListed: listed, ItemsExchanged: exchanged}, nil
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*model.Profile, error) {
	var upd model.ProfileUpdate

	if in.Name != nil {
		name, err := requireText("name", *in.Name, MinNameLength, MaxNameLength)
		if err != nil {
			return nil, err
		}
		upd.Name = &name
	}
	if in.Phone != nil {
		phone, err := validatePhone(*in.Phone)
		if err != nil {
			return nil, err
		}
		upd.Phone = &phone
	}
	if in.Interests != nil {
		upd.Interests = cleanList(in.Interests)
		if len(upd.Interests) > MaxInterests {
			return nil, apperror.ValidationFailed("interests", fmt.Sprintf("at most %d interests", MaxInterests))
		}
	}
	if err := validatePoint("location", in.Location); err != nil {
		return nil, err
	}
	upd.Location = in.Location

	if _, err := s.users.UpdateProfile(ctx, userID, upd); err != nil {
		return nil, err
	}
	return s.Profile(ctx, userID)
}

// ValidateToken returns the user id a JWT was issued for.
func (s *AuthService) ValidateToken(tokenStr string) (string, error) {
	userID, err := s.tokens.Validate(tokenStr)
	if err != nil {
		return "", fmt.Errorf("service/auth: %w", err)
	}
	return userID, nil
}
