package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/wenwu/saas-platform/panel-service/internal/models"
	"github.com/wenwu/saas-platform/panel-service/internal/repository"
)

const (
	UsersPageSize     = 15
	minPasswordLength = 6
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// AccountService covers registration, login, profile edits and the admin
// user pages.
type AccountService struct {
	users  *repository.UserRepository
	tokens *TokenManager
	log    *slog.Logger
}

func NewAccountService(users *repository.UserRepository, tokens *TokenManager) *AccountService {
	return &AccountService{
		users:  users,
		tokens: tokens,
		log:    slog.Default().With("component", "account"),
	}
}

func (s *AccountService) Register(ctx context.Context, req *models.RegisterRequest) (*models.AuthResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Username:     req.Username,
		Email:        repository.NormalizeEmail(req.Email),
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, user); err != nil {
		var dup *repository.DuplicateError
		if errors.As(err, &dup) && dup.Column == "email" && user.Email != nil {
			return nil, conflict("email %q is already registered", *user.Email)
		}
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, conflict("username %q is already taken", req.Username)
		}
		return nil, err
	}
	s.log.Info("user registered", "user_id", user.ID, "username", user.Username)

	return s.session(user)
}

func (s *AccountService) Login(ctx context.Context, req *models.LoginRequest) (*models.AuthResponse, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(req.Username))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return nil, ErrUnauthorized
	}
	return s.session(user)
}

func (s *AccountService) session(user *models.User) (*models.AuthResponse, error) {
	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &models.AuthResponse{Token: token, User: user}, nil
}

// Authenticate resolves a session token to its live user.
func (s *AccountService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	id, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	return user, err
}

func (s *AccountService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *AccountService) Profile(ctx context.Context, userID int64) (*models.ProfileResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.ProfileResponse{User: user, RemotePassword: user.RemotePassword}, nil
}

func (s *AccountService) UpdateUsername(ctx context.Context, userID int64, req *models.UpdateUsernameRequest) (*models.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if err := s.users.UpdateUsername(ctx, userID, req.Username); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, conflict("username %q is already taken", req.Username)
		}
		return nil, err
	}
	return s.users.GetByID(ctx, userID)
}

func (s *AccountService) ChangePassword(ctx context.Context, userID int64, req *models.ChangePasswordRequest) error {
	if err := validateStruct(req); err != nil {
		return err
	}
	if len(req.NewPassword) < minPasswordLength {
		return invalid("new password must be at least %d characters", minPasswordLength)
	}
	if req.NewPassword != req.ConfirmPassword {
		return invalid("new password and confirmation do not match")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)) != nil {
		return invalid("current password is incorrect")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.users.UpdatePassword(ctx, userID, string(hash))
}

// ==================== Admin ====================

func (s *AccountService) ListUsers(ctx context.Context, page int) (*models.UserListResponse, error) {
	if page < 1 {
		page = 1
	}
	users, total, err := s.users.List(ctx, page, UsersPageSize)
	if err != nil {
		return nil, err
	}
	pages := (total + UsersPageSize - 1) / UsersPageSize
	if pages == 0 {
		pages = 1
	}
	if users == nil {
		users = []*models.User{}
	}
	return &models.UserListResponse{Users: users, Page: page, TotalPages: pages, Total: total}, nil
}

// SetAdmin grants or revokes admin rights. Admins cannot demote themselves
// and the last admin cannot be demoted.
func (s *AccountService) SetAdmin(ctx context.Context, actorID, targetID int64, admin bool) (*models.User, error) {
	target, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !admin && target.IsAdmin {
		if actorID == targetID {
			return nil, conflict("you cannot remove your own admin rights")
		}
		n, err := s.users.CountAdmins(ctx)
		if err != nil {
			return nil, err
		}
		if n <= 1 {
			return nil, conflict("cannot remove the last administrator")
		}
	}
	if err := s.users.SetAdmin(ctx, targetID, admin); err != nil {
		return nil, err
	}
	s.log.Info("admin flag changed", "actor_id", actorID, "user_id", targetID, "admin", admin)
	return s.users.GetByID(ctx, targetID)
}

// DeleteUser archives and removes a non-admin account.
func (s *AccountService) DeleteUser(ctx context.Context, actorID, targetID int64) error {
	err := s.users.ArchiveAndDelete(ctx, targetID, &actorID)
	if errors.Is(err, repository.ErrProtected) {
		return conflict("administrators cannot be deleted")
	}
	if err != nil {
		return err
	}
	s.log.Info("user deleted", "actor_id", actorID, "user_id", targetID)
	return nil
}

func (s *AccountService) ListDeleted(ctx context.Context) ([]*models.DeletedUser, error) {
	return s.users.ListDeleted(ctx)
}

// AdjustCoins adds to or removes from a user's balance.
func (s *AccountService) AdjustCoins(ctx context.Context, targetID int64, req *models.AdjustCoinsRequest) (decimal.Decimal, error) {
	if err := validateStruct(req); err != nil {
		return decimal.Zero, err
	}
	if !req.Amount.IsPositive() {
		return decimal.Zero, invalid("amount must be greater than zero")
	}
	delta := req.Amount
	if req.Action == "remove" {
		delta = delta.Neg()
	}
	return s.users.AdjustBalance(ctx, targetID, delta)
}

// MakeAdmin promotes a user by numeric id or, failing that, by username.
// Used from the command line.
func (s *AccountService) MakeAdmin(ctx context.Context, ref string) error {
	ref = strings.TrimSpace(ref)
	var (
		user *models.User
		err  error
	)
	if id, perr := strconv.ParseInt(ref, 10, 64); perr == nil {
		user, err = s.users.GetByID(ctx, id)
	} else {
		user, err = s.users.GetByUsername(ctx, ref)
	}
	if err != nil {
		return err
	}
	return s.users.SetAdmin(ctx, user.ID, true)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return invalid("%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return invalid("%s", strings.Join(msgs, "; "))
}
