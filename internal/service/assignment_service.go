package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"naranja/internal/model"
	"naranja/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrScoreBelowPass = errors.New("score is below the module pass score")

// --- DTOs ---

type CompleteAssignmentRequest struct {
	Score string `json:"score"` // percent; required when the module has a pass score
}

type AssignmentResponse struct {
	ID          string  `json:"id"`
	ItemID      string  `json:"item_id"`
	ItemType    string  `json:"item_type"`
	AssignedAt  string  `json:"assigned_at"`
	OpenedAt    *string `json:"opened_at"`
	CompletedAt *string `json:"completed_at"`
	Score       *string `json:"score"`
}

// --- Interface ---

// AssignmentService exposes per-user assignment tracking. Open/complete are
// the only state changes allowed outside the reconciler.
type AssignmentService interface {
	ListForUser(ctx context.Context, userID string) ([]AssignmentResponse, error)
	MarkOpened(ctx context.Context, assignmentID string) error
	// MarkCompleted stamps completed_at and writes the durable completion
	// record in one transaction; completing is never lost to a later role
	// change.
	MarkCompleted(ctx context.Context, assignmentID string, req CompleteAssignmentRequest, actorID string) error
}

type assignmentService struct {
	users       repository.UserRepository
	assignments repository.UserAssignmentRepository
	completions repository.CompletionRepository
	audits      repository.AuditRepository
	tx          repository.TransactionManager
	db          *gorm.DB // pass-score lookups
}

func NewAssignmentService(
	users repository.UserRepository,
	assignments repository.UserAssignmentRepository,
	completions repository.CompletionRepository,
	audits repository.AuditRepository,
	tx repository.TransactionManager,
	db *gorm.DB,
) AssignmentService {
	return &assignmentService{
		users:       users,
		assignments: assignments,
		completions: completions,
		audits:      audits,
		tx:          tx,
		db:          db,
	}
}

// --- Implementation ---

func (s *assignmentService) ListForUser(ctx context.Context, userID string) ([]AssignmentResponse, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, ErrUserNotFound
	}

	rows, err := s.assignments.ListByAuthID(ctx, user.AuthID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch assignments: %w", err)
	}

	res := make([]AssignmentResponse, 0, len(rows))
	for _, row := range rows {
		res = append(res, toAssignmentResponse(row))
	}
	return res, nil
}

func (s *assignmentService) MarkOpened(ctx context.Context, assignmentID string) error {
	id, err := uuid.Parse(assignmentID)
	if err != nil {
		return fmt.Errorf("invalid assignment id: %w", err)
	}
	if _, err := s.assignments.FindByID(ctx, id); err != nil {
		return fmt.Errorf("assignment not found: %w", err)
	}
	return s.assignments.MarkOpened(ctx, id, time.Now())
}

func (s *assignmentService) MarkCompleted(ctx context.Context, assignmentID string, req CompleteAssignmentRequest, actorID string) error {
	id, err := uuid.Parse(assignmentID)
	if err != nil {
		return fmt.Errorf("invalid assignment id: %w", err)
	}

	assignment, err := s.assignments.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("assignment not found: %w", err)
	}
	if assignment.Completed() {
		// already satisfied; completing again is a no-op
		return nil
	}

	var score *decimal.Decimal
	if req.Score != "" {
		parsed, parseErr := decimal.NewFromString(req.Score)
		if parseErr != nil {
			return fmt.Errorf("invalid score: %w", parseErr)
		}
		score = &parsed
	}

	if assignment.ItemType == model.ItemTypeModule {
		if gateErr := s.checkPassScore(ctx, assignment.ItemID, score); gateErr != nil {
			return gateErr
		}
	}

	now := time.Now()

	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if upErr := s.assignments.MarkCompleted(txCtx, id, now, score); upErr != nil {
			return fmt.Errorf("failed to mark assignment completed: %w", upErr)
		}

		record := model.TrainingCompletion{
			AuthID:            assignment.AuthID,
			ItemID:            assignment.ItemID,
			ItemType:          assignment.ItemType,
			CompletedAt:       now,
			CompletedByRoleID: s.currentRoleID(txCtx, assignment.AuthID),
		}
		if recErr := s.completions.RecordIfAbsent(txCtx, &record); recErr != nil {
			return fmt.Errorf("failed to record completion: %w", recErr)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"item_id":   assignment.ItemID.String(),
			"item_type": assignment.ItemType,
		})
		return s.audits.Record(txCtx, &model.AuditLog{
			UserID:   parseActor(actorID),
			Action:   model.ActionCompleteAssignment,
			EntityID: assignment.ID.String(),
			Details:  string(details),
		})
	})
}

// checkPassScore enforces the module's quiz threshold when one is set.
func (s *assignmentService) checkPassScore(ctx context.Context, moduleID uuid.UUID, score *decimal.Decimal) error {
	var module model.TrainingModule
	if err := s.db.WithContext(ctx).First(&module, "id = ?", moduleID).Error; err != nil {
		// catalog row may have been deleted after assignment; no gate then
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("failed to fetch module: %w", err)
	}

	if module.PassScore.IsZero() {
		return nil
	}
	if score == nil {
		return fmt.Errorf("module requires a score (pass score %s)", module.PassScore.StringFixed(2))
	}
	if score.LessThan(module.PassScore) {
		return fmt.Errorf("%w: got %s, need %s", ErrScoreBelowPass, score.StringFixed(2), module.PassScore.StringFixed(2))
	}
	return nil
}

func (s *assignmentService) currentRoleID(ctx context.Context, authID uuid.UUID) *uuid.UUID {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, "auth_id = ?", authID).Error; err != nil {
		return nil
	}
	return user.RoleID
}

// --- Helpers ---

func toAssignmentResponse(row model.UserAssignment) AssignmentResponse {
	resp := AssignmentResponse{
		ID:         row.ID.String(),
		ItemID:     row.ItemID.String(),
		ItemType:   row.ItemType,
		AssignedAt: row.AssignedAt.Format(time.RFC3339),
	}
	if row.OpenedAt != nil {
		opened := row.OpenedAt.Format(time.RFC3339)
		resp.OpenedAt = &opened
	}
	if row.CompletedAt != nil {
		completed := row.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &completed
	}
	if row.Score != nil {
		score := row.Score.StringFixed(2)
		resp.Score = &score
	}
	return resp
}
