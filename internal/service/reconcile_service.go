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
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrRoleNotFound       = errors.New("role not found")
	ErrDepartmentNotFound = errors.New("department not found")
)

const (
	storeOpTimeout    = 5 * time.Second
	storeReadAttempts = 3
)

// --- DTOs ---

type ReconcileRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	OldRoleID string `json:"old_role_id"`
	NewRoleID string `json:"new_role_id" binding:"required"`
}

type ChangeRoleRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	NewRoleID string `json:"new_role_id" binding:"required"`
}

type ChangeDepartmentRequest struct {
	UserID          string `json:"user_id" binding:"required"`
	NewDepartmentID string `json:"new_department_id" binding:"required"`
}

// ReconcileResult summarizes one user's assignment diff. Removed includes
// archived rows: from the active set's point of view both are removals.
type ReconcileResult struct {
	UserID    string `json:"user_id"`
	Removed   int    `json:"removed_assignments"`
	Archived  int    `json:"archived_assignments"`
	Added     int    `json:"added_assignments"`
	Unchanged int    `json:"unchanged_assignments"`
}

type UserReconcileOutcome struct {
	UserID  string `json:"user_id"`
	Success bool   `json:"success"`
	Removed int    `json:"removed"`
	Added   int    `json:"added"`
	Error   string `json:"error,omitempty"`
}

type BulkReconcileResult struct {
	Processed int                    `json:"processed"`
	Succeeded int                    `json:"succeeded"`
	Failed    int                    `json:"failed"`
	Results   []UserReconcileOutcome `json:"results"`
}

// --- Interface ---

// ReconcileService computes and applies the diff between a user's current
// assignments and what their role and department require. All assignment
// mutation funnels through here; callers never hand-roll the set difference.
type ReconcileService interface {
	// ReconcileUserRole applies the assignment diff for a role transition
	// without touching users.role_id. This is the raw diff primitive.
	ReconcileUserRole(ctx context.Context, req ReconcileRequest, actorID string) (*ReconcileResult, error)
	// ChangeUserRole reconciles and moves the user onto the new role in the
	// same transaction. The role id is written only after the diff applies.
	ChangeUserRole(ctx context.Context, req ChangeRoleRequest, actorID string) (*ReconcileResult, error)
	ChangeUserDepartment(ctx context.Context, req ChangeDepartmentRequest, actorID string) (*ReconcileResult, error)
	// ReconcileAll re-runs reconciliation for every user holding a role.
	// Per-user failures are aggregated, never fatal to the batch.
	ReconcileAll(ctx context.Context, actorID string) (*BulkReconcileResult, error)
	ResyncRole(ctx context.Context, roleID string, actorID string) (*BulkReconcileResult, error)
}

type eventPublisher interface {
	Publish(v interface{})
}

type reconcileService struct {
	users       repository.UserRepository
	roles       repository.RoleRepository
	departments repository.DepartmentRepository
	sources     repository.AssignmentSourceRepository
	assignments repository.UserAssignmentRepository
	completions repository.CompletionRepository
	audits      repository.AuditRepository
	tx          repository.TransactionManager
	log         *logrus.Logger
	hub         eventPublisher // optional
}

func NewReconcileService(
	users repository.UserRepository,
	roles repository.RoleRepository,
	departments repository.DepartmentRepository,
	sources repository.AssignmentSourceRepository,
	assignments repository.UserAssignmentRepository,
	completions repository.CompletionRepository,
	audits repository.AuditRepository,
	tx repository.TransactionManager,
	log *logrus.Logger,
	hub eventPublisher,
) ReconcileService {
	return &reconcileService{
		users:       users,
		roles:       roles,
		departments: departments,
		sources:     sources,
		assignments: assignments,
		completions: completions,
		audits:      audits,
		tx:          tx,
		log:         log,
		hub:         hub,
	}
}

// --- Plan ---

// itemKey is the composite identity of a trainable item. A comparable tuple
// type rather than a concatenated-string key.
type itemKey struct {
	ItemID   uuid.UUID
	ItemType string
}

type itemAdd struct {
	key         itemKey
	completedAt *time.Time // historical credit, if any
}

type reconcilePlan struct {
	toArchive []model.UserAssignment // completed, no longer required
	toRemove  []model.UserAssignment // open, no longer required
	toAdd     []itemAdd
	unchanged int
}

func (p reconcilePlan) empty() bool {
	return len(p.toArchive) == 0 && len(p.toRemove) == 0 && len(p.toAdd) == 0
}

// buildReconcilePlan diffs the current assignment rows against the required
// item set. Completed rows that drop out of the requirement are archived, not
// deleted; required items with a completion record come back pre-credited.
// Pre-existing duplicate rows (legacy data) are scheduled for removal too, so
// one pass leaves the active set duplicate-free.
func buildReconcilePlan(current []model.UserAssignment, required []repository.SourceItem, history []model.TrainingCompletion) reconcilePlan {
	requiredSet := make(map[itemKey]bool, len(required))
	for _, item := range required {
		requiredSet[itemKey{ItemID: item.ItemID, ItemType: item.ItemType}] = true
	}

	historyByKey := make(map[itemKey]time.Time, len(history))
	for _, rec := range history {
		historyByKey[itemKey{ItemID: rec.ItemID, ItemType: rec.ItemType}] = rec.CompletedAt
	}

	var plan reconcilePlan
	seen := make(map[itemKey]bool, len(current))
	for _, row := range current {
		key := itemKey{ItemID: row.ItemID, ItemType: row.ItemType}
		keep := requiredSet[key] && !seen[key]
		if keep {
			seen[key] = true
			plan.unchanged++
			continue
		}
		if row.Completed() {
			plan.toArchive = append(plan.toArchive, row)
		} else {
			plan.toRemove = append(plan.toRemove, row)
		}
		seen[key] = true
	}

	for _, item := range required {
		key := itemKey{ItemID: item.ItemID, ItemType: item.ItemType}
		if seen[key] {
			continue
		}
		seen[key] = true
		add := itemAdd{key: key}
		if completedAt, ok := historyByKey[key]; ok {
			t := completedAt
			add.completedAt = &t
		}
		plan.toAdd = append(plan.toAdd, add)
	}

	return plan
}

// --- Implementation ---

func (s *reconcileService) ReconcileUserRole(ctx context.Context, req ReconcileRequest, actorID string) (*ReconcileResult, error) {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}
	newRoleID, err := uuid.Parse(req.NewRoleID)
	if err != nil {
		return nil, fmt.Errorf("invalid new role id: %w", err)
	}
	if req.OldRoleID != "" {
		if _, err := uuid.Parse(req.OldRoleID); err != nil {
			return nil, fmt.Errorf("invalid old role id: %w", err)
		}
	}

	user, err := s.fetchUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return s.reconcile(ctx, user, &newRoleID, user.DepartmentID, model.ActionReconcileUser, false, parseActor(actorID))
}

func (s *reconcileService) ChangeUserRole(ctx context.Context, req ChangeRoleRequest, actorID string) (*ReconcileResult, error) {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}
	newRoleID, err := uuid.Parse(req.NewRoleID)
	if err != nil {
		return nil, fmt.Errorf("invalid new role id: %w", err)
	}

	user, err := s.fetchUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return s.reconcile(ctx, user, &newRoleID, user.DepartmentID, model.ActionChangeUserRole, true, parseActor(actorID))
}

func (s *reconcileService) ChangeUserDepartment(ctx context.Context, req ChangeDepartmentRequest, actorID string) (*ReconcileResult, error) {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}
	newDeptID, err := uuid.Parse(req.NewDepartmentID)
	if err != nil {
		return nil, fmt.Errorf("invalid new department id: %w", err)
	}

	user, err := s.fetchUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.retryRead(ctx, "fetch department", func(opCtx context.Context) error {
		_, findErr := s.departments.FindByID(opCtx, newDeptID)
		return findErr
	}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDepartmentNotFound
		}
		return nil, err
	}

	return s.reconcile(ctx, user, user.RoleID, &newDeptID, model.ActionChangeUserDepartment, true, parseActor(actorID))
}

func (s *reconcileService) ReconcileAll(ctx context.Context, actorID string) (*BulkReconcileResult, error) {
	var users []model.User
	if err := s.retryRead(ctx, "list users with role", func(opCtx context.Context) error {
		var listErr error
		users, listErr = s.users.ListWithRole(opCtx)
		return listErr
	}); err != nil {
		return nil, err
	}

	return s.reconcileBatch(ctx, users, parseActor(actorID))
}

func (s *reconcileService) ResyncRole(ctx context.Context, roleID string, actorID string) (*BulkReconcileResult, error) {
	id, err := uuid.Parse(roleID)
	if err != nil {
		return nil, fmt.Errorf("invalid role id: %w", err)
	}

	if err := s.retryRead(ctx, "fetch role", func(opCtx context.Context) error {
		_, findErr := s.roles.FindByID(opCtx, id)
		return findErr
	}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}

	var users []model.User
	if err := s.retryRead(ctx, "list users by role", func(opCtx context.Context) error {
		var listErr error
		users, listErr = s.users.ListByRole(opCtx, id)
		return listErr
	}); err != nil {
		return nil, err
	}

	return s.reconcileBatch(ctx, users, parseActor(actorID))
}

// reconcileBatch processes users independently: one malformed user (deleted
// role, bad data) fails alone, the rest of the batch proceeds.
func (s *reconcileService) reconcileBatch(ctx context.Context, users []model.User, actor *uuid.UUID) (*BulkReconcileResult, error) {
	result := &BulkReconcileResult{
		Results: make([]UserReconcileOutcome, 0, len(users)),
	}

	for i := range users {
		user := users[i]
		result.Processed++

		res, err := s.reconcile(ctx, &user, user.RoleID, user.DepartmentID, model.ActionReconcileUser, false, actor)
		if err != nil {
			result.Failed++
			result.Results = append(result.Results, UserReconcileOutcome{
				UserID:  user.ID.String(),
				Success: false,
				Error:   err.Error(),
			})
			s.log.WithError(err).WithField("user_id", user.ID).Warn("bulk reconcile: user failed")
			continue
		}

		result.Succeeded++
		result.Results = append(result.Results, UserReconcileOutcome{
			UserID:  user.ID.String(),
			Success: true,
			Removed: res.Removed,
			Added:   res.Added,
		})
	}

	details, _ := json.Marshal(map[string]interface{}{
		"processed": result.Processed,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	})
	if err := s.audits.Record(ctx, &model.AuditLog{
		UserID:  actor,
		Action:  model.ActionBulkReconcile,
		Details: string(details),
	}); err != nil {
		s.log.WithError(err).Warn("bulk reconcile: failed to write audit log")
	}

	s.log.WithFields(logrus.Fields{
		"processed": result.Processed,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	}).Info("bulk reconcile finished")

	return result, nil
}

// reconcile is the single apply path. Reads resolve the required set up
// front; the diff is then computed and applied inside one transaction under
// a per-user advisory lock, so two concurrent reconciliations for the same
// user serialize and the second becomes a no-op. The user's placement
// (role/department ids) is written last, after the diff has applied.
func (s *reconcileService) reconcile(
	ctx context.Context,
	user *model.User,
	roleID *uuid.UUID,
	departmentID *uuid.UUID,
	action string,
	persistPlacement bool,
	actor *uuid.UUID,
) (*ReconcileResult, error) {
	required, err := s.resolveRequired(ctx, roleID, departmentID)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{UserID: user.ID.String()}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if lockErr := s.tx.LockUser(txCtx, user.AuthID); lockErr != nil {
			return fmt.Errorf("failed to lock user: %w", lockErr)
		}

		// Re-read inside the lock: another reconciliation may have just
		// finished, and the plan must reflect its outcome.
		current, listErr := s.assignments.ListByAuthID(txCtx, user.AuthID)
		if listErr != nil {
			return fmt.Errorf("failed to list assignments: %w", listErr)
		}
		history, histErr := s.completions.ListByAuthID(txCtx, user.AuthID)
		if histErr != nil {
			return fmt.Errorf("failed to list completions: %w", histErr)
		}

		plan := buildReconcilePlan(current, required, history)
		now := time.Now()

		// Deterministic order: archive, remove, insert, move placement.
		for _, row := range plan.toArchive {
			record := model.TrainingCompletion{
				AuthID:            row.AuthID,
				ItemID:            row.ItemID,
				ItemType:          row.ItemType,
				CompletedAt:       *row.CompletedAt,
				CompletedByRoleID: user.RoleID,
			}
			if recErr := s.completions.RecordIfAbsent(txCtx, &record); recErr != nil {
				return fmt.Errorf("failed to archive completion %s/%s: %w", row.ItemType, row.ItemID, recErr)
			}
			if delErr := s.assignments.DeleteByID(txCtx, row.ID); delErr != nil {
				return fmt.Errorf("failed to remove archived assignment %s: %w", row.ID, delErr)
			}
		}

		for _, row := range plan.toRemove {
			if delErr := s.assignments.DeleteByID(txCtx, row.ID); delErr != nil {
				return fmt.Errorf("failed to remove assignment %s: %w", row.ID, delErr)
			}
		}

		if len(plan.toAdd) > 0 {
			rows := make([]model.UserAssignment, 0, len(plan.toAdd))
			for _, add := range plan.toAdd {
				rows = append(rows, model.UserAssignment{
					AuthID:      user.AuthID,
					ItemID:      add.key.ItemID,
					ItemType:    add.key.ItemType,
					AssignedAt:  now,
					CompletedAt: add.completedAt,
				})
			}
			if insErr := s.assignments.Insert(txCtx, rows); insErr != nil {
				return fmt.Errorf("failed to insert assignments: %w", insErr)
			}
		}

		if persistPlacement {
			if upErr := s.users.UpdatePlacement(txCtx, user.ID, roleID, departmentID); upErr != nil {
				return fmt.Errorf("failed to update user placement: %w", upErr)
			}
		}

		result.Removed = len(plan.toRemove) + len(plan.toArchive)
		result.Archived = len(plan.toArchive)
		result.Added = len(plan.toAdd)
		result.Unchanged = plan.unchanged

		if plan.empty() && !persistPlacement {
			// Nothing changed; skip the audit row so re-runs stay quiet.
			return nil
		}

		details, _ := json.Marshal(map[string]interface{}{
			"user_id":   user.ID.String(),
			"role_id":   uuidString(roleID),
			"removed":   result.Removed,
			"archived":  result.Archived,
			"added":     result.Added,
			"unchanged": result.Unchanged,
		})
		audit := model.AuditLog{
			UserID:     actor,
			Action:     action,
			EntityID:   user.ID.String(),
			EntityName: user.FullName,
			Details:    string(details),
		}
		if auditErr := s.audits.Record(txCtx, &audit); auditErr != nil {
			return fmt.Errorf("failed to write audit log: %w", auditErr)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":   user.ID,
		"action":    action,
		"removed":   result.Removed,
		"archived":  result.Archived,
		"added":     result.Added,
		"unchanged": result.Unchanged,
	}).Info("reconciled user assignments")

	if s.hub != nil && (result.Removed > 0 || result.Added > 0) {
		s.hub.Publish(map[string]interface{}{
			"type":    "assignments_reconciled",
			"user_id": user.ID.String(),
			"removed": result.Removed,
			"added":   result.Added,
		})
	}

	return result, nil
}

// resolveRequired unions the role-level and department-level requirement
// declarations. Requirements are not inherited up the department tree.
func (s *reconcileService) resolveRequired(ctx context.Context, roleID, departmentID *uuid.UUID) ([]repository.SourceItem, error) {
	var required []repository.SourceItem
	seen := make(map[itemKey]bool)

	if roleID != nil {
		if err := s.retryRead(ctx, "fetch role", func(opCtx context.Context) error {
			_, findErr := s.roles.FindByID(opCtx, *roleID)
			return findErr
		}); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrRoleNotFound
			}
			return nil, err
		}

		var items []repository.SourceItem
		if err := s.retryRead(ctx, "list role requirements", func(opCtx context.Context) error {
			var listErr error
			items, listErr = s.sources.ListByRole(opCtx, *roleID)
			return listErr
		}); err != nil {
			return nil, err
		}
		for _, item := range items {
			key := itemKey{ItemID: item.ItemID, ItemType: item.ItemType}
			if !seen[key] {
				seen[key] = true
				required = append(required, item)
			}
		}
	}

	if departmentID != nil {
		var items []repository.SourceItem
		if err := s.retryRead(ctx, "list department requirements", func(opCtx context.Context) error {
			var listErr error
			items, listErr = s.sources.ListByDepartment(opCtx, *departmentID)
			return listErr
		}); err != nil {
			return nil, err
		}
		for _, item := range items {
			key := itemKey{ItemID: item.ItemID, ItemType: item.ItemType}
			if !seen[key] {
				seen[key] = true
				required = append(required, item)
			}
		}
	}

	return required, nil
}

func (s *reconcileService) fetchUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user *model.User
	if err := s.retryRead(ctx, "fetch user", func(opCtx context.Context) error {
		var findErr error
		user, findErr = s.users.GetByID(opCtx, id)
		return findErr
	}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// retryRead runs a store read under a per-operation timeout, retrying
// transient failures with exponential backoff. Not-found is never retried.
func (s *reconcileService) retryRead(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	var err error
	backoff := 150 * time.Millisecond

	for attempt := 1; attempt <= storeReadAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, storeOpTimeout)
		err = fn(opCtx)
		cancel()

		if err == nil {
			return nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt < storeReadAttempts {
			s.log.WithError(err).WithFields(logrus.Fields{"op": label, "attempt": attempt}).Warn("store read failed, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}

	return fmt.Errorf("%s: %w", label, err)
}

// --- Helpers ---

func parseActor(actorID string) *uuid.UUID {
	if actorID == "" {
		return nil
	}
	parsed, err := uuid.Parse(actorID)
	if err != nil {
		return nil
	}
	return &parsed
}

func uuidString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
