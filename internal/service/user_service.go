package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"naranja/internal/model"
	"naranja/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	accessTokenTTL  = 24 * time.Hour
	refreshTokenTTL = 7 * 24 * time.Hour
)

// DTOs for Request validation
type CreateUserRequest struct {
	FullName     string `json:"full_name" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	Password     string `json:"password" binding:"required,min=6"`
	AccessLevel  string `json:"access_level" binding:"required"`
	RoleID       string `json:"role_id"`
	DepartmentID string `json:"department_id"`
}

type UpdateUserRequest struct {
	FullName     string  `json:"full_name"`
	Email        string  `json:"email" binding:"omitempty,email"`
	AccessLevel  string  `json:"access_level"`
	RoleID       *string `json:"role_id"`
	DepartmentID *string `json:"department_id"`
}

type LoginUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type TokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
}

// DTO for returning User without exposing sensitive data
type UserResponse struct {
	ID             uuid.UUID        `json:"id"`
	AuthID         uuid.UUID        `json:"auth_id"`
	FullName       string           `json:"full_name"`
	Email          string           `json:"email"`
	AccessLevel    string           `json:"access_level"`
	RoleID         *uuid.UUID       `json:"role_id"`
	RoleTitle      string           `json:"role_title,omitempty"`
	DepartmentID   *uuid.UUID       `json:"department_id"`
	DepartmentName string           `json:"department_name,omitempty"`
	Reconciliation *ReconcileResult `json:"reconciliation,omitempty"`
	CreatedAt      string           `json:"created_at"`
	UpdatedAt      string           `json:"updated_at"`
}

// UserService defines the interface for business logic related to User
type UserService interface {
	CreateUser(ctx context.Context, req CreateUserRequest, actorID string) (*UserResponse, error)
	Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error)
	RefreshToken(ctx context.Context, req RefreshTokenRequest) (*TokenResponse, error)
	GetUserByID(ctx context.Context, id string) (*UserResponse, error)
	ListUsers(ctx context.Context, page, limit int) ([]UserResponse, int64, error)
	UpdateUser(ctx context.Context, id string, req UpdateUserRequest, actorID string) (*UserResponse, error)
	DeleteUser(ctx context.Context, id string, actorID string) error
}

type userService struct {
	repo       repository.UserRepository
	audits     repository.AuditRepository
	tx         repository.TransactionManager
	reconciler ReconcileService
	db         *gorm.DB // refresh-token storage
}

// NewUserService returns a new instance of UserService
func NewUserService(
	repo repository.UserRepository,
	audits repository.AuditRepository,
	tx repository.TransactionManager,
	reconciler ReconcileService,
	db *gorm.DB,
) UserService {
	return &userService{repo: repo, audits: audits, tx: tx, reconciler: reconciler, db: db}
}

// Helper: check if access level is allowed
func validateAccessLevel(level string) bool {
	return level == model.AccessAdmin || level == model.AccessManager || level == model.AccessStaff
}

// Helper: parse model to standard json API response
func mapToResponse(user *model.User) *UserResponse {
	resp := &UserResponse{
		ID:           user.ID,
		AuthID:       user.AuthID,
		FullName:     user.FullName,
		Email:        user.Email,
		AccessLevel:  user.AccessLevel,
		RoleID:       user.RoleID,
		DepartmentID: user.DepartmentID,
		CreatedAt:    user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    user.UpdatedAt.Format(time.RFC3339),
	}
	if user.Role != nil {
		resp.RoleTitle = user.Role.Title
	}
	if user.Department != nil {
		resp.DepartmentName = user.Department.Name
	}
	return resp
}

func (s *userService) CreateUser(ctx context.Context, req CreateUserRequest, actorID string) (*UserResponse, error) {
	if !validateAccessLevel(req.AccessLevel) {
		return nil, errors.New("invalid access level: must be admin, manager, or staff")
	}

	// Basic Email format validation fallback
	emailRegex := regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)
	if !emailRegex.MatchString(req.Email) {
		return nil, errors.New("invalid email format")
	}

	if _, err := s.repo.GetByEmail(ctx, req.Email); err == nil {
		return nil, errors.New("email already exists")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.New("failed to hash password")
	}

	user := &model.User{
		FullName:    req.FullName,
		Email:       req.Email,
		Password:    string(hashedPassword),
		AccessLevel: req.AccessLevel,
	}

	if req.DepartmentID != "" {
		deptID, parseErr := uuid.Parse(req.DepartmentID)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid department id: %w", parseErr)
		}
		user.DepartmentID = &deptID
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.repo.Create(txCtx, user); createErr != nil {
			return createErr
		}
		return s.audits.Record(txCtx, &model.AuditLog{
			UserID:     parseActor(actorID),
			Action:     model.ActionCreateUser,
			EntityID:   user.ID.String(),
			EntityName: user.FullName,
		})
	})
	if err != nil {
		return nil, err
	}

	resp := mapToResponse(user)

	// Placing a new user onto a role (or department) materializes their
	// training requirements right away.
	if req.RoleID != "" {
		rec, recErr := s.reconciler.ChangeUserRole(ctx, ChangeRoleRequest{
			UserID:    user.ID.String(),
			NewRoleID: req.RoleID,
		}, actorID)
		if recErr != nil {
			return nil, fmt.Errorf("user created but assignment sync failed: %w", recErr)
		}
		resp.Reconciliation = rec
		roleID, _ := uuid.Parse(req.RoleID)
		resp.RoleID = &roleID
	} else if user.DepartmentID != nil {
		rec, recErr := s.reconciler.ChangeUserDepartment(ctx, ChangeDepartmentRequest{
			UserID:          user.ID.String(),
			NewDepartmentID: user.DepartmentID.String(),
		}, actorID)
		if recErr != nil {
			return nil, fmt.Errorf("user created but assignment sync failed: %w", recErr)
		}
		resp.Reconciliation = rec
	}

	return resp, nil
}

func (s *userService) Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error) {
	user, err := s.repo.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, errors.New("invalid email or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, errors.New("invalid email or password")
	}

	return s.issueTokens(ctx, user)
}

func (s *userService) RefreshToken(ctx context.Context, req RefreshTokenRequest) (*TokenResponse, error) {
	var stored model.RefreshToken
	if err := s.db.WithContext(ctx).Preload("User").Where("token = ?", req.RefreshToken).First(&stored).Error; err != nil {
		return nil, errors.New("invalid refresh token")
	}

	if time.Now().After(stored.ExpiresAt) {
		s.db.WithContext(ctx).Delete(&stored)
		return nil, errors.New("refresh token expired")
	}

	// Rotate: the old token is single-use
	if err := s.db.WithContext(ctx).Delete(&stored).Error; err != nil {
		return nil, errors.New("failed to rotate refresh token")
	}

	return s.issueTokens(ctx, &stored.User)
}

func (s *userService) issueTokens(ctx context.Context, user *model.User) (*TokenResponse, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.ID.String(),
		"role": user.AccessLevel,
		"exp":  time.Now().Add(accessTokenTTL).Unix(),
	})

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "default_super_secret_key"
	}

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return nil, errors.New("failed to generate token")
	}

	refresh := model.RefreshToken{
		UserID:    user.ID,
		Token:     uuid.NewString(),
		ExpiresAt: time.Now().Add(refreshTokenTTL),
	}
	if err := s.db.WithContext(ctx).Create(&refresh).Error; err != nil {
		return nil, errors.New("failed to store refresh token")
	}

	return &TokenResponse{Token: tokenString, RefreshToken: refresh.Token}, nil
}

func (s *userService) GetUserByID(ctx context.Context, id string) (*UserResponse, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, errors.New("user not found")
	}
	return mapToResponse(user), nil
}

func (s *userService) ListUsers(ctx context.Context, page, limit int) ([]UserResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}

	users, total, err := s.repo.List(ctx, page, limit)
	if err != nil {
		return nil, 0, err
	}

	var responses []UserResponse
	for i := range users {
		responses = append(responses, *mapToResponse(&users[i]))
	}

	return responses, total, nil
}

// UpdateUser edits profile fields directly; role or department moves are
// routed through the reconciler so the assignment set follows the change.
func (s *userService) UpdateUser(ctx context.Context, id string, req UpdateUserRequest, actorID string) (*UserResponse, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, errors.New("user not found")
	}

	if req.AccessLevel != "" {
		if !validateAccessLevel(req.AccessLevel) {
			return nil, errors.New("invalid access level: must be admin, manager, or staff")
		}
		user.AccessLevel = req.AccessLevel
	}

	if req.FullName != "" {
		user.FullName = req.FullName
	}

	if req.Email != "" && req.Email != user.Email {
		if _, err := s.repo.GetByEmail(ctx, req.Email); err == nil {
			return nil, errors.New("email already exists")
		}
		user.Email = req.Email
	}

	// Detach relations so Save doesn't upsert stale associated rows
	user.Role = nil
	user.Department = nil

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if upErr := s.repo.Update(txCtx, user); upErr != nil {
			return upErr
		}
		return s.audits.Record(txCtx, &model.AuditLog{
			UserID:     parseActor(actorID),
			Action:     model.ActionUpdateUser,
			EntityID:   user.ID.String(),
			EntityName: user.FullName,
		})
	})
	if err != nil {
		return nil, err
	}

	var rec *ReconcileResult

	if req.DepartmentID != nil && *req.DepartmentID != "" && *req.DepartmentID != uuidString(user.DepartmentID) {
		rec, err = s.reconciler.ChangeUserDepartment(ctx, ChangeDepartmentRequest{
			UserID:          user.ID.String(),
			NewDepartmentID: *req.DepartmentID,
		}, actorID)
		if err != nil {
			return nil, err
		}
	}

	if req.RoleID != nil && *req.RoleID != "" && *req.RoleID != uuidString(user.RoleID) {
		rec, err = s.reconciler.ChangeUserRole(ctx, ChangeRoleRequest{
			UserID:    user.ID.String(),
			NewRoleID: *req.RoleID,
		}, actorID)
		if err != nil {
			return nil, err
		}
	}

	resp, err := s.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp.Reconciliation = rec
	return resp, nil
}

func (s *userService) DeleteUser(ctx context.Context, id string, actorID string) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return errors.New("user not found")
	}

	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if delErr := s.repo.Delete(txCtx, userID); delErr != nil {
			return delErr
		}
		return s.audits.Record(txCtx, &model.AuditLog{
			UserID:     parseActor(actorID),
			Action:     model.ActionDeleteUser,
			EntityID:   userID.String(),
			EntityName: user.FullName,
		})
	})
}
