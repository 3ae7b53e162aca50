package service

import (
	"context"
	"encoding/json"
	"fmt"

	"naranja/internal/model"
	"naranja/internal/repository"

	"github.com/google/uuid"
)

// --- DTOs ---

type CreateRoleRequest struct {
	Title        string `json:"title" binding:"required"`
	Description  string `json:"description"`
	DepartmentID string `json:"department_id" binding:"required"`
}

type UpdateRoleRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

type RequirementItem struct {
	ItemID   string `json:"item_id" binding:"required"`
	ItemType string `json:"item_type" binding:"required"`
}

type UpdateRequirementsRequest struct {
	Items []RequirementItem `json:"items" binding:"required"`
}

type RoleResponse struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	DepartmentID   string `json:"department_id"`
	DepartmentName string `json:"department_name,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type RequirementResponse struct {
	ItemID   string `json:"item_id"`
	ItemType string `json:"item_type"`
}

// --- Interface ---

type RoleService interface {
	ListRoles(ctx context.Context) ([]RoleResponse, error)
	GetRole(ctx context.Context, id string) (*RoleResponse, error)
	CreateRole(ctx context.Context, req CreateRoleRequest, actorID string) (*RoleResponse, error)
	UpdateRole(ctx context.Context, id string, req UpdateRoleRequest, actorID string) (*RoleResponse, error)
	DeleteRole(ctx context.Context, id string, actorID string) error
	GetRequirements(ctx context.Context, roleID string) ([]RequirementResponse, error)
	// UpdateRequirements replaces the role's requirement list and resyncs
	// every user currently on the role.
	UpdateRequirements(ctx context.Context, roleID string, req UpdateRequirementsRequest, actorID string) (*BulkReconcileResult, error)
}

type roleService struct {
	roles       repository.RoleRepository
	departments repository.DepartmentRepository
	users       repository.UserRepository
	sources     repository.AssignmentSourceRepository
	audits      repository.AuditRepository
	tx          repository.TransactionManager
	reconciler  ReconcileService
}

func NewRoleService(
	roles repository.RoleRepository,
	departments repository.DepartmentRepository,
	users repository.UserRepository,
	sources repository.AssignmentSourceRepository,
	audits repository.AuditRepository,
	tx repository.TransactionManager,
	reconciler ReconcileService,
) RoleService {
	return &roleService{
		roles:       roles,
		departments: departments,
		users:       users,
		sources:     sources,
		audits:      audits,
		tx:          tx,
		reconciler:  reconciler,
	}
}

// --- Implementation ---

func (s *roleService) ListRoles(ctx context.Context) ([]RoleResponse, error) {
	roles, err := s.roles.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch roles: %w", err)
	}

	res := make([]RoleResponse, 0, len(roles))
	for _, r := range roles {
		res = append(res, toRoleResponse(r))
	}
	return res, nil
}

func (s *roleService) GetRole(ctx context.Context, id string) (*RoleResponse, error) {
	roleID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid role id: %w", err)
	}

	role, err := s.roles.FindByID(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("role not found: %w", err)
	}

	resp := toRoleResponse(*role)
	return &resp, nil
}

func (s *roleService) CreateRole(ctx context.Context, req CreateRoleRequest, actorID string) (*RoleResponse, error) {
	deptID, err := uuid.Parse(req.DepartmentID)
	if err != nil {
		return nil, fmt.Errorf("invalid department id: %w", err)
	}
	if _, err := s.departments.FindByID(ctx, deptID); err != nil {
		return nil, fmt.Errorf("department not found: %w", err)
	}

	role := model.Role{
		Title:        req.Title,
		Description:  req.Description,
		DepartmentID: deptID,
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.roles.Create(txCtx, &role); createErr != nil {
			return fmt.Errorf("failed to create role: %w", createErr)
		}
		return s.audits.Record(txCtx, &model.AuditLog{
			UserID:     parseActor(actorID),
			Action:     model.ActionCreateRole,
			EntityID:   role.ID.String(),
			EntityName: role.Title,
		})
	})
	if err != nil {
		return nil, err
	}

	return s.GetRole(ctx, role.ID.String())
}

func (s *roleService) UpdateRole(ctx context.Context, id string, req UpdateRoleRequest, actorID string) (*RoleResponse, error) {
	roleID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid role id: %w", err)
	}

	role, err := s.roles.FindByID(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("role not found: %w", err)
	}

	role.Title = req.Title
	role.Description = req.Description
	role.Department = nil

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if upErr := s.roles.Update(txCtx, role); upErr != nil {
			return fmt.Errorf("failed to update role: %w", upErr)
		}
		return s.audits.Record(txCtx, &model.AuditLog{
			UserID:     parseActor(actorID),
			Action:     model.ActionUpdateRole,
			EntityID:   role.ID.String(),
			EntityName: role.Title,
		})
	})
	if err != nil {
		return nil, err
	}

	return s.GetRole(ctx, id)
}

func (s *roleService) DeleteRole(ctx context.Context, id string, actorID string) error {
	roleID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid role id: %w", err)
	}

	role, err := s.roles.FindByID(ctx, roleID)
	if err != nil {
		return fmt.Errorf("role not found: %w", err)
	}

	holders, err := s.users.ListByRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("failed to check role usage: %w", err)
	}
	if len(holders) > 0 {
		return fmt.Errorf("cannot delete role: %d user(s) still hold it", len(holders))
	}

	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		// Requirement declarations go with the role
		if repErr := s.sources.ReplaceForRole(txCtx, roleID, nil); repErr != nil {
			return fmt.Errorf("failed to clear role requirements: %w", repErr)
		}
		if delErr := s.roles.Delete(txCtx, roleID); delErr != nil {
			return fmt.Errorf("failed to delete role: %w", delErr)
		}
		return s.audits.Record(txCtx, &model.AuditLog{
			UserID:     parseActor(actorID),
			Action:     model.ActionDeleteRole,
			EntityID:   roleID.String(),
			EntityName: role.Title,
		})
	})
}

func (s *roleService) GetRequirements(ctx context.Context, roleID string) ([]RequirementResponse, error) {
	id, err := uuid.Parse(roleID)
	if err != nil {
		return nil, fmt.Errorf("invalid role id: %w", err)
	}
	if _, err := s.roles.FindByID(ctx, id); err != nil {
		return nil, fmt.Errorf("role not found: %w", err)
	}

	items, err := s.sources.ListByRole(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch requirements: %w", err)
	}

	res := make([]RequirementResponse, 0, len(items))
	for _, item := range items {
		res = append(res, RequirementResponse{ItemID: item.ItemID.String(), ItemType: item.ItemType})
	}
	return res, nil
}

func (s *roleService) UpdateRequirements(ctx context.Context, roleID string, req UpdateRequirementsRequest, actorID string) (*BulkReconcileResult, error) {
	id, err := uuid.Parse(roleID)
	if err != nil {
		return nil, fmt.Errorf("invalid role id: %w", err)
	}
	role, err := s.roles.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("role not found: %w", err)
	}

	items, err := parseRequirementItems(req.Items)
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if repErr := s.sources.ReplaceForRole(txCtx, id, items); repErr != nil {
			return fmt.Errorf("failed to replace requirements: %w", repErr)
		}
		details, _ := json.Marshal(map[string]interface{}{"items": len(items)})
		return s.audits.Record(txCtx, &model.AuditLog{
			UserID:     parseActor(actorID),
			Action:     model.ActionUpdateRequirement,
			EntityID:   id.String(),
			EntityName: role.Title,
			Details:    string(details),
		})
	})
	if err != nil {
		return nil, err
	}

	// The declaration changed, so everyone on the role gets resynced.
	return s.reconciler.ResyncRole(ctx, roleID, actorID)
}

// --- Helpers ---

func parseRequirementItems(items []RequirementItem) ([]repository.SourceItem, error) {
	parsed := make([]repository.SourceItem, 0, len(items))
	for _, item := range items {
		if !model.ValidItemType(item.ItemType) {
			return nil, fmt.Errorf("invalid item type '%s': must be module or document", item.ItemType)
		}
		itemID, err := uuid.Parse(item.ItemID)
		if err != nil {
			return nil, fmt.Errorf("invalid item id '%s': %w", item.ItemID, err)
		}
		parsed = append(parsed, repository.SourceItem{ItemID: itemID, ItemType: item.ItemType})
	}
	return parsed, nil
}

func toRoleResponse(r model.Role) RoleResponse {
	resp := RoleResponse{
		ID:           r.ID.String(),
		Title:        r.Title,
		Description:  r.Description,
		DepartmentID: r.DepartmentID.String(),
		CreatedAt:    r.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	if r.Department != nil {
		resp.DepartmentName = r.Department.Name
	}
	return resp
}
