package service

import (
	"context"
	"testing"

	"naranja/internal/model"

	"github.com/google/uuid"
)

func newRoleServiceFixture() (*reconcileFixture, RoleService) {
	f := newReconcileFixture()
	svc := NewRoleService(f.roles, f.departments, f.users, f.sources, f.audits, f.tx, f.svc)
	return f, svc
}

func TestDeleteRole_WritesAuditRowWithActor(t *testing.T) {
	f, svc := newRoleServiceFixture()
	role := f.addRole()
	actor := uuid.New()

	if err := svc.DeleteRole(context.Background(), role.String(), actor.String()); err != nil {
		t.Fatalf("DeleteRole failed: %v", err)
	}

	entry := findAudit(f.audits.entries, model.ActionDeleteRole)
	if entry == nil {
		t.Fatalf("expected a delete-role audit entry, got %+v", f.audits.entries)
	}
	if entry.UserID == nil || *entry.UserID != actor {
		t.Fatalf("expected audit actor %s, got %v", actor, entry.UserID)
	}
	if entry.EntityID != role.String() {
		t.Fatalf("expected audit entity %s, got %s", role, entry.EntityID)
	}
}

func TestDeleteRole_BlockedWhileHeld(t *testing.T) {
	f, svc := newRoleServiceFixture()
	role := f.addRole()
	f.addUser(&role)

	if err := svc.DeleteRole(context.Background(), role.String(), ""); err == nil {
		t.Fatal("expected deletion blocked while a user holds the role")
	}
	if _, ok := f.roles.roles[role]; !ok {
		t.Fatal("role must survive a blocked deletion")
	}
}
