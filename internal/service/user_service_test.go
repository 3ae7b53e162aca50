package service

import (
	"context"
	"testing"

	"naranja/internal/model"

	"github.com/google/uuid"
)

func newUserServiceFixture() (*reconcileFixture, UserService) {
	f := newReconcileFixture()
	svc := NewUserService(f.users, f.audits, f.tx, f.svc, nil)
	return f, svc
}

func findAudit(entries []model.AuditLog, action string) *model.AuditLog {
	for i := range entries {
		if entries[i].Action == action {
			return &entries[i]
		}
	}
	return nil
}

func TestCreateUser_WritesAuditRow(t *testing.T) {
	f, svc := newUserServiceFixture()
	actor := uuid.New()

	resp, err := svc.CreateUser(context.Background(), CreateUserRequest{
		FullName:    "Jamie Park",
		Email:       "jamie.park@example.com",
		Password:    "hunter22",
		AccessLevel: model.AccessStaff,
	}, actor.String())
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	entry := findAudit(f.audits.entries, model.ActionCreateUser)
	if entry == nil {
		t.Fatalf("expected a create-user audit entry, got %+v", f.audits.entries)
	}
	if entry.UserID == nil || *entry.UserID != actor {
		t.Fatalf("expected audit actor %s, got %v", actor, entry.UserID)
	}
	if entry.EntityID != resp.ID.String() {
		t.Fatalf("expected audit entity %s, got %s", resp.ID, entry.EntityID)
	}
}

func TestUpdateUser_WritesAuditRow(t *testing.T) {
	f, svc := newUserServiceFixture()
	user := f.addUser(nil)
	actor := uuid.New()

	if _, err := svc.UpdateUser(context.Background(), user.ID.String(), UpdateUserRequest{
		FullName: "Renamed User",
	}, actor.String()); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}

	entry := findAudit(f.audits.entries, model.ActionUpdateUser)
	if entry == nil {
		t.Fatalf("expected an update-user audit entry, got %+v", f.audits.entries)
	}
	if entry.UserID == nil || *entry.UserID != actor {
		t.Fatalf("expected audit actor %s, got %v", actor, entry.UserID)
	}
}

func TestDeleteUser_WritesAuditRowWithActor(t *testing.T) {
	f, svc := newUserServiceFixture()
	user := f.addUser(nil)
	actor := uuid.New()

	if err := svc.DeleteUser(context.Background(), user.ID.String(), actor.String()); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}

	entry := findAudit(f.audits.entries, model.ActionDeleteUser)
	if entry == nil {
		t.Fatalf("expected a delete-user audit entry, got %+v", f.audits.entries)
	}
	if entry.UserID == nil || *entry.UserID != actor {
		t.Fatalf("expected audit actor %s, got %v", actor, entry.UserID)
	}
	if entry.EntityID != user.ID.String() {
		t.Fatalf("expected audit entity %s, got %s", user.ID, entry.EntityID)
	}
}
