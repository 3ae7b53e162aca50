package service

import (
	"context"
	"errors"
	"fmt"

	"naranja/internal/model"
	"naranja/internal/repository"

	"github.com/google/uuid"
)

var ErrDepartmentCycle = errors.New("department parent assignment would create a cycle")

// --- DTOs ---

type CreateDepartmentRequest struct {
	Name     string `json:"name" binding:"required"`
	ParentID string `json:"parent_id"`
}

type UpdateDepartmentRequest struct {
	Name     string  `json:"name" binding:"required"`
	ParentID *string `json:"parent_id"`
}

type DepartmentResponse struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id"`
}

// DepartmentNode is a department with its children resolved, one node of
// the org tree.
type DepartmentNode struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Children []*DepartmentNode `json:"children"`
}

// --- Interface ---

type DepartmentService interface {
	ListDepartments(ctx context.Context) ([]DepartmentResponse, error)
	GetDepartment(ctx context.Context, id string) (*DepartmentResponse, error)
	CreateDepartment(ctx context.Context, req CreateDepartmentRequest, actorID string) (*DepartmentResponse, error)
	UpdateDepartment(ctx context.Context, id string, req UpdateDepartmentRequest, actorID string) (*DepartmentResponse, error)
	// GetTree builds the org tree from the flat row set. Rows forming a
	// cycle are rejected rather than silently dropped.
	GetTree(ctx context.Context) ([]*DepartmentNode, error)
	GetRequirements(ctx context.Context, departmentID string) ([]RequirementResponse, error)
	UpdateRequirements(ctx context.Context, departmentID string, req UpdateRequirementsRequest, actorID string) error
}

type departmentService struct {
	departments repository.DepartmentRepository
	sources     repository.AssignmentSourceRepository
	audits      repository.AuditRepository
	tx          repository.TransactionManager
}

func NewDepartmentService(
	departments repository.DepartmentRepository,
	sources repository.AssignmentSourceRepository,
	audits repository.AuditRepository,
	tx repository.TransactionManager,
) DepartmentService {
	return &departmentService{departments: departments, sources: sources, audits: audits, tx: tx}
}

// --- Implementation ---

func (s *departmentService) ListDepartments(ctx context.Context) ([]DepartmentResponse, error) {
	depts, err := s.departments.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch departments: %w", err)
	}

	res := make([]DepartmentResponse, 0, len(depts))
	for _, d := range depts {
		res = append(res, toDepartmentResponse(d))
	}
	return res, nil
}

func (s *departmentService) GetDepartment(ctx context.Context, id string) (*DepartmentResponse, error) {
	deptID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid department id: %w", err)
	}
	dept, err := s.departments.FindByID(ctx, deptID)
	if err != nil {
		return nil, fmt.Errorf("department not found: %w", err)
	}
	resp := toDepartmentResponse(*dept)
	return &resp, nil
}

func (s *departmentService) CreateDepartment(ctx context.Context, req CreateDepartmentRequest, actorID string) (*DepartmentResponse, error) {
	dept := model.Department{Name: req.Name}

	if req.ParentID != "" {
		parentID, err := uuid.Parse(req.ParentID)
		if err != nil {
			return nil, fmt.Errorf("invalid parent id: %w", err)
		}
		if _, err := s.departments.FindByID(ctx, parentID); err != nil {
			return nil, fmt.Errorf("parent department not found: %w", err)
		}
		dept.ParentID = &parentID
	}

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.departments.Create(txCtx, &dept); createErr != nil {
			return fmt.Errorf("failed to create department: %w", createErr)
		}
		return s.audits.Record(txCtx, &model.AuditLog{
			UserID:     parseActor(actorID),
			Action:     model.ActionCreateDepartment,
			EntityID:   dept.ID.String(),
			EntityName: dept.Name,
		})
	})
	if err != nil {
		return nil, err
	}

	resp := toDepartmentResponse(dept)
	return &resp, nil
}

func (s *departmentService) UpdateDepartment(ctx context.Context, id string, req UpdateDepartmentRequest, actorID string) (*DepartmentResponse, error) {
	deptID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid department id: %w", err)
	}
	dept, err := s.departments.FindByID(ctx, deptID)
	if err != nil {
		return nil, fmt.Errorf("department not found: %w", err)
	}

	dept.Name = req.Name

	if req.ParentID != nil {
		if *req.ParentID == "" {
			dept.ParentID = nil
		} else {
			parentID, parseErr := uuid.Parse(*req.ParentID)
			if parseErr != nil {
				return nil, fmt.Errorf("invalid parent id: %w", parseErr)
			}
			if parentID == deptID {
				return nil, ErrDepartmentCycle
			}
			if cycleErr := s.checkNoCycle(ctx, deptID, parentID); cycleErr != nil {
				return nil, cycleErr
			}
			dept.ParentID = &parentID
		}
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if upErr := s.departments.Update(txCtx, dept); upErr != nil {
			return fmt.Errorf("failed to update department: %w", upErr)
		}
		return s.audits.Record(txCtx, &model.AuditLog{
			UserID:     parseActor(actorID),
			Action:     model.ActionUpdateDepartment,
			EntityID:   dept.ID.String(),
			EntityName: dept.Name,
		})
	})
	if err != nil {
		return nil, err
	}

	resp := toDepartmentResponse(*dept)
	return &resp, nil
}

// checkNoCycle walks up from the proposed parent; if the walk reaches the
// department being edited, the assignment would close a loop.
func (s *departmentService) checkNoCycle(ctx context.Context, deptID, newParentID uuid.UUID) error {
	depts, err := s.departments.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch departments: %w", err)
	}

	parents := make(map[uuid.UUID]*uuid.UUID, len(depts))
	for _, d := range depts {
		parents[d.ID] = d.ParentID
	}

	cursor := &newParentID
	for steps := 0; cursor != nil && steps <= len(depts); steps++ {
		if *cursor == deptID {
			return ErrDepartmentCycle
		}
		cursor = parents[*cursor]
	}
	return nil
}

func (s *departmentService) GetTree(ctx context.Context) ([]*DepartmentNode, error) {
	depts, err := s.departments.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch departments: %w", err)
	}
	return buildDepartmentTree(depts)
}

// buildDepartmentTree assembles the tree from the flat row set. Any
// department not reachable from a root sits on a cycle, which is an error
// rather than a silently dropped subtree.
func buildDepartmentTree(depts []model.Department) ([]*DepartmentNode, error) {
	nodes := make(map[uuid.UUID]*DepartmentNode, len(depts))
	byID := make(map[uuid.UUID]model.Department, len(depts))
	for _, d := range depts {
		nodes[d.ID] = &DepartmentNode{ID: d.ID.String(), Name: d.Name, Children: []*DepartmentNode{}}
		byID[d.ID] = d
	}

	var roots []*DepartmentNode
	reachable := make(map[uuid.UUID]bool, len(depts))

	var attach func(id uuid.UUID)
	attach = func(id uuid.UUID) {
		if reachable[id] {
			return
		}
		reachable[id] = true
		for _, d := range depts {
			if d.ParentID != nil && *d.ParentID == id {
				nodes[id].Children = append(nodes[id].Children, nodes[d.ID])
				attach(d.ID)
			}
		}
	}

	for _, d := range depts {
		isRoot := d.ParentID == nil
		if d.ParentID != nil {
			if _, ok := byID[*d.ParentID]; !ok {
				// orphaned parent reference; treat as root
				isRoot = true
			}
		}
		if isRoot {
			roots = append(roots, nodes[d.ID])
			attach(d.ID)
		}
	}

	for _, d := range depts {
		if !reachable[d.ID] {
			return nil, fmt.Errorf("%w: department %s is unreachable from any root", ErrDepartmentCycle, d.Name)
		}
	}

	return roots, nil
}

func (s *departmentService) GetRequirements(ctx context.Context, departmentID string) ([]RequirementResponse, error) {
	id, err := uuid.Parse(departmentID)
	if err != nil {
		return nil, fmt.Errorf("invalid department id: %w", err)
	}
	if _, err := s.departments.FindByID(ctx, id); err != nil {
		return nil, fmt.Errorf("department not found: %w", err)
	}

	items, err := s.sources.ListByDepartment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch requirements: %w", err)
	}

	res := make([]RequirementResponse, 0, len(items))
	for _, item := range items {
		res = append(res, RequirementResponse{ItemID: item.ItemID.String(), ItemType: item.ItemType})
	}
	return res, nil
}

func (s *departmentService) UpdateRequirements(ctx context.Context, departmentID string, req UpdateRequirementsRequest, actorID string) error {
	id, err := uuid.Parse(departmentID)
	if err != nil {
		return fmt.Errorf("invalid department id: %w", err)
	}
	dept, err := s.departments.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("department not found: %w", err)
	}

	items, err := parseRequirementItems(req.Items)
	if err != nil {
		return err
	}

	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if repErr := s.sources.ReplaceForDepartment(txCtx, id, items); repErr != nil {
			return fmt.Errorf("failed to replace requirements: %w", repErr)
		}
		return s.audits.Record(txCtx, &model.AuditLog{
			UserID:     parseActor(actorID),
			Action:     model.ActionUpdateRequirement,
			EntityID:   id.String(),
			EntityName: dept.Name,
		})
	})
}

// --- Helpers ---

func toDepartmentResponse(d model.Department) DepartmentResponse {
	resp := DepartmentResponse{
		ID:   d.ID.String(),
		Name: d.Name,
	}
	if d.ParentID != nil {
		parent := d.ParentID.String()
		resp.ParentID = &parent
	}
	return resp
}
