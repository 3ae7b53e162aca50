package service

import (
	"context"
	"errors"
	"testing"

	"naranja/internal/model"
	"naranja/internal/repository"

	"github.com/google/uuid"
)

func newDepartmentFixture() (*fakeDepartmentRepo, *fakeSourceRepo, *fakeAuditRepo, DepartmentService) {
	depts := &fakeDepartmentRepo{departments: make(map[uuid.UUID]*model.Department)}
	sources := &fakeSourceRepo{roleItems: make(map[uuid.UUID][]repository.SourceItem), deptItems: make(map[uuid.UUID][]repository.SourceItem)}
	audits := &fakeAuditRepo{}
	svc := NewDepartmentService(depts, sources, audits, &fakeTxManager{})
	return depts, sources, audits, svc
}

func addDepartment(repo *fakeDepartmentRepo, name string, parentID *uuid.UUID) uuid.UUID {
	id := uuid.New()
	repo.departments[id] = &model.Department{ID: id, Name: name, ParentID: parentID}
	return id
}

func TestGetTree_BuildsHierarchy(t *testing.T) {
	depts, _, _, svc := newDepartmentFixture()

	root := addDepartment(depts, "Operations", nil)
	child := addDepartment(depts, "Warehouse", &root)
	addDepartment(depts, "Night Shift", &child)
	addDepartment(depts, "Quality", nil)

	tree, err := svc.GetTree(context.Background())
	if err != nil {
		t.Fatalf("GetTree failed: %v", err)
	}

	if len(tree) != 2 {
		t.Fatalf("expected two roots, got %d", len(tree))
	}

	var ops *DepartmentNode
	for _, node := range tree {
		if node.Name == "Operations" {
			ops = node
		}
	}
	if ops == nil {
		t.Fatal("Operations root missing")
	}
	if len(ops.Children) != 1 || ops.Children[0].Name != "Warehouse" {
		t.Fatalf("expected Warehouse under Operations, got %+v", ops.Children)
	}
	if len(ops.Children[0].Children) != 1 || ops.Children[0].Children[0].Name != "Night Shift" {
		t.Fatalf("expected Night Shift under Warehouse, got %+v", ops.Children[0].Children)
	}
}

func TestGetTree_DetectsCycle(t *testing.T) {
	depts, _, _, svc := newDepartmentFixture()

	// Two departments pointing at each other: neither reachable from a root.
	a := uuid.New()
	b := uuid.New()
	depts.departments[a] = &model.Department{ID: a, Name: "A", ParentID: &b}
	depts.departments[b] = &model.Department{ID: b, Name: "B", ParentID: &a}

	_, err := svc.GetTree(context.Background())
	if !errors.Is(err, ErrDepartmentCycle) {
		t.Fatalf("expected ErrDepartmentCycle, got %v", err)
	}
}

func TestUpdateDepartment_RejectsSelfParent(t *testing.T) {
	depts, _, _, svc := newDepartmentFixture()

	id := addDepartment(depts, "Ops", nil)
	self := id.String()

	_, err := svc.UpdateDepartment(context.Background(), id.String(), UpdateDepartmentRequest{
		Name:     "Ops",
		ParentID: &self,
	}, "")
	if !errors.Is(err, ErrDepartmentCycle) {
		t.Fatalf("expected ErrDepartmentCycle, got %v", err)
	}
}

func TestUpdateDepartment_RejectsDescendantParent(t *testing.T) {
	depts, _, _, svc := newDepartmentFixture()

	root := addDepartment(depts, "Root", nil)
	child := addDepartment(depts, "Child", &root)
	grandchild := addDepartment(depts, "Grandchild", &child)

	// Re-parenting Root under its own grandchild closes a loop.
	target := grandchild.String()
	_, err := svc.UpdateDepartment(context.Background(), root.String(), UpdateDepartmentRequest{
		Name:     "Root",
		ParentID: &target,
	}, "")
	if !errors.Is(err, ErrDepartmentCycle) {
		t.Fatalf("expected ErrDepartmentCycle, got %v", err)
	}
}

func TestUpdateDepartment_ClearParent(t *testing.T) {
	depts, _, _, svc := newDepartmentFixture()

	root := addDepartment(depts, "Root", nil)
	child := addDepartment(depts, "Child", &root)

	empty := ""
	resp, err := svc.UpdateDepartment(context.Background(), child.String(), UpdateDepartmentRequest{
		Name:     "Child",
		ParentID: &empty,
	}, "")
	if err != nil {
		t.Fatalf("UpdateDepartment failed: %v", err)
	}
	if resp.ParentID != nil {
		t.Fatalf("expected parent cleared, got %v", *resp.ParentID)
	}
}

func TestUpdateRequirements_ValidatesItemType(t *testing.T) {
	depts, _, _, svc := newDepartmentFixture()

	id := addDepartment(depts, "Ops", nil)

	err := svc.UpdateRequirements(context.Background(), id.String(), UpdateRequirementsRequest{
		Items: []RequirementItem{{ItemID: uuid.NewString(), ItemType: "video"}},
	}, "")
	if err == nil {
		t.Fatal("expected invalid item type to be rejected")
	}
}

func TestUpdateRequirements_ReplacesAndAudits(t *testing.T) {
	depts, sources, audits, svc := newDepartmentFixture()

	id := addDepartment(depts, "Ops", nil)
	itemID := uuid.New()

	err := svc.UpdateRequirements(context.Background(), id.String(), UpdateRequirementsRequest{
		Items: []RequirementItem{{ItemID: itemID.String(), ItemType: model.ItemTypeDocument}},
	}, "")
	if err != nil {
		t.Fatalf("UpdateRequirements failed: %v", err)
	}

	items := sources.deptItems[id]
	if len(items) != 1 || items[0].ItemID != itemID {
		t.Fatalf("expected requirement stored, got %+v", items)
	}
	if len(audits.entries) != 1 || audits.entries[0].Action != model.ActionUpdateRequirement {
		t.Fatalf("expected requirement audit entry, got %+v", audits.entries)
	}
}
