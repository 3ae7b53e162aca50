package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"naranja/internal/model"
	"naranja/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// --- Fakes ---

type fakeUserRepo struct {
	users []*model.User
}

func (f *fakeUserRepo) Create(ctx context.Context, user *model.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.AuthID == uuid.Nil {
		user.AuthID = uuid.New()
	}
	f.users = append(f.users, user)
	return nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			copied := *u
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeUserRepo) List(ctx context.Context, page, limit int) ([]model.User, int64, error) {
	out := make([]model.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, *u)
	}
	return out, int64(len(out)), nil
}

func (f *fakeUserRepo) ListWithRole(ctx context.Context) ([]model.User, error) {
	var out []model.User
	for _, u := range f.users {
		if u.RoleID != nil {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeUserRepo) ListByRole(ctx context.Context, roleID uuid.UUID) ([]model.User, error) {
	var out []model.User
	for _, u := range f.users {
		if u.RoleID != nil && *u.RoleID == roleID {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeUserRepo) Update(ctx context.Context, user *model.User) error {
	for i, u := range f.users {
		if u.ID == user.ID {
			copied := *user
			f.users[i] = &copied
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeUserRepo) UpdatePlacement(ctx context.Context, id uuid.UUID, roleID, departmentID *uuid.UUID) error {
	for _, u := range f.users {
		if u.ID == id {
			u.RoleID = roleID
			u.DepartmentID = departmentID
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeUserRepo) Delete(ctx context.Context, id uuid.UUID) error {
	for i, u := range f.users {
		if u.ID == id {
			f.users = append(f.users[:i], f.users[i+1:]...)
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

type fakeRoleRepo struct {
	roles map[uuid.UUID]*model.Role
}

func (f *fakeRoleRepo) Create(ctx context.Context, role *model.Role) error {
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	f.roles[role.ID] = role
	return nil
}

func (f *fakeRoleRepo) Update(ctx context.Context, role *model.Role) error {
	f.roles[role.ID] = role
	return nil
}

func (f *fakeRoleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(f.roles, id)
	return nil
}

func (f *fakeRoleRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Role, error) {
	role, ok := f.roles[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return role, nil
}

func (f *fakeRoleRepo) ListAll(ctx context.Context) ([]model.Role, error) {
	var out []model.Role
	for _, r := range f.roles {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeRoleRepo) ListByDepartment(ctx context.Context, departmentID uuid.UUID) ([]model.Role, error) {
	var out []model.Role
	for _, r := range f.roles {
		if r.DepartmentID == departmentID {
			out = append(out, *r)
		}
	}
	return out, nil
}

type fakeDepartmentRepo struct {
	departments map[uuid.UUID]*model.Department
}

func (f *fakeDepartmentRepo) Create(ctx context.Context, dept *model.Department) error {
	if dept.ID == uuid.Nil {
		dept.ID = uuid.New()
	}
	f.departments[dept.ID] = dept
	return nil
}

func (f *fakeDepartmentRepo) Update(ctx context.Context, dept *model.Department) error {
	f.departments[dept.ID] = dept
	return nil
}

func (f *fakeDepartmentRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Department, error) {
	dept, ok := f.departments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return dept, nil
}

func (f *fakeDepartmentRepo) ListAll(ctx context.Context) ([]model.Department, error) {
	var out []model.Department
	for _, d := range f.departments {
		out = append(out, *d)
	}
	return out, nil
}

type fakeSourceRepo struct {
	roleItems map[uuid.UUID][]repository.SourceItem
	deptItems map[uuid.UUID][]repository.SourceItem
}

func (f *fakeSourceRepo) ListByRole(ctx context.Context, roleID uuid.UUID) ([]repository.SourceItem, error) {
	return f.roleItems[roleID], nil
}

func (f *fakeSourceRepo) ListByDepartment(ctx context.Context, departmentID uuid.UUID) ([]repository.SourceItem, error) {
	return f.deptItems[departmentID], nil
}

func (f *fakeSourceRepo) ReplaceForRole(ctx context.Context, roleID uuid.UUID, items []repository.SourceItem) error {
	f.roleItems[roleID] = items
	return nil
}

func (f *fakeSourceRepo) ReplaceForDepartment(ctx context.Context, departmentID uuid.UUID, items []repository.SourceItem) error {
	f.deptItems[departmentID] = items
	return nil
}

// fakeAssignmentRepo enforces the (auth_id, item_id, item_type) unique index
// the way the real table does, so a reconciler bug that inserts a duplicate
// fails the test instead of passing silently.
type fakeAssignmentRepo struct {
	rows []model.UserAssignment
}

func (f *fakeAssignmentRepo) ListByAuthID(ctx context.Context, authID uuid.UUID) ([]model.UserAssignment, error) {
	var out []model.UserAssignment
	for _, row := range f.rows {
		if row.AuthID == authID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeAssignmentRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.UserAssignment, error) {
	for _, row := range f.rows {
		if row.ID == id {
			copied := row
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeAssignmentRepo) Insert(ctx context.Context, rows []model.UserAssignment) error {
	for _, row := range rows {
		for _, existing := range f.rows {
			if existing.AuthID == row.AuthID && existing.ItemID == row.ItemID && existing.ItemType == row.ItemType {
				return gorm.ErrDuplicatedKey
			}
		}
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		f.rows = append(f.rows, row)
	}
	return nil
}

func (f *fakeAssignmentRepo) DeleteByID(ctx context.Context, id uuid.UUID) error {
	for i, row := range f.rows {
		if row.ID == id {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeAssignmentRepo) MarkOpened(ctx context.Context, id uuid.UUID, at time.Time) error {
	for i := range f.rows {
		if f.rows[i].ID == id && f.rows[i].OpenedAt == nil {
			f.rows[i].OpenedAt = &at
		}
	}
	return nil
}

func (f *fakeAssignmentRepo) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time, score *decimal.Decimal) error {
	for i := range f.rows {
		if f.rows[i].ID == id {
			f.rows[i].CompletedAt = &at
			f.rows[i].Score = score
		}
	}
	return nil
}

type fakeCompletionRepo struct {
	records []model.TrainingCompletion
}

func (f *fakeCompletionRepo) ListByAuthID(ctx context.Context, authID uuid.UUID) ([]model.TrainingCompletion, error) {
	var out []model.TrainingCompletion
	for _, rec := range f.records {
		if rec.AuthID == authID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeCompletionRepo) RecordIfAbsent(ctx context.Context, record *model.TrainingCompletion) error {
	for _, existing := range f.records {
		if existing.AuthID == record.AuthID && existing.ItemID == record.ItemID && existing.ItemType == record.ItemType {
			*record = existing
			return nil
		}
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	f.records = append(f.records, *record)
	return nil
}

type fakeAuditRepo struct {
	entries []model.AuditLog
}

func (f *fakeAuditRepo) Record(ctx context.Context, entry *model.AuditLog) error {
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeAuditRepo) List(ctx context.Context, page, limit int) ([]model.AuditLog, int64, error) {
	return f.entries, int64(len(f.entries)), nil
}

type fakeTxManager struct {
	locked []uuid.UUID
}

func (f *fakeTxManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

func (f *fakeTxManager) LockUser(ctx context.Context, authID uuid.UUID) error {
	f.locked = append(f.locked, authID)
	return nil
}

// --- Test fixture ---

type reconcileFixture struct {
	users       *fakeUserRepo
	roles       *fakeRoleRepo
	departments *fakeDepartmentRepo
	sources     *fakeSourceRepo
	assignments *fakeAssignmentRepo
	completions *fakeCompletionRepo
	audits      *fakeAuditRepo
	tx          *fakeTxManager
	svc         ReconcileService
}

func newReconcileFixture() *reconcileFixture {
	f := &reconcileFixture{
		users:       &fakeUserRepo{},
		roles:       &fakeRoleRepo{roles: make(map[uuid.UUID]*model.Role)},
		departments: &fakeDepartmentRepo{departments: make(map[uuid.UUID]*model.Department)},
		sources:     &fakeSourceRepo{roleItems: make(map[uuid.UUID][]repository.SourceItem), deptItems: make(map[uuid.UUID][]repository.SourceItem)},
		assignments: &fakeAssignmentRepo{},
		completions: &fakeCompletionRepo{},
		audits:      &fakeAuditRepo{},
		tx:          &fakeTxManager{},
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	f.svc = NewReconcileService(
		f.users, f.roles, f.departments, f.sources,
		f.assignments, f.completions, f.audits,
		f.tx, log, nil,
	)
	return f
}

func (f *reconcileFixture) addRole(items ...repository.SourceItem) uuid.UUID {
	role := &model.Role{ID: uuid.New(), Title: "Role " + uuid.NewString()[:8], DepartmentID: uuid.New()}
	f.roles.roles[role.ID] = role
	f.sources.roleItems[role.ID] = items
	return role.ID
}

func (f *reconcileFixture) addUser(roleID *uuid.UUID) *model.User {
	user := &model.User{
		ID:          uuid.New(),
		AuthID:      uuid.New(),
		FullName:    "Test User",
		Email:       uuid.NewString()[:8] + "@example.com",
		AccessLevel: model.AccessStaff,
		RoleID:      roleID,
	}
	f.users.users = append(f.users.users, user)
	return user
}

func moduleItem() repository.SourceItem {
	return repository.SourceItem{ItemID: uuid.New(), ItemType: model.ItemTypeModule}
}

// --- Plan tests ---

func TestBuildReconcilePlan_ArchiveCreditAndKeep(t *testing.T) {
	authID := uuid.New()
	m1 := moduleItem() // completed, no longer required
	m2 := moduleItem() // open, still required
	m3 := moduleItem() // missing, required, previously completed

	completedAt := time.Now().Add(-24 * time.Hour)
	current := []model.UserAssignment{
		{ID: uuid.New(), AuthID: authID, ItemID: m1.ItemID, ItemType: m1.ItemType, CompletedAt: &completedAt},
		{ID: uuid.New(), AuthID: authID, ItemID: m2.ItemID, ItemType: m2.ItemType},
	}
	required := []repository.SourceItem{m2, m3}
	history := []model.TrainingCompletion{
		{AuthID: authID, ItemID: m3.ItemID, ItemType: m3.ItemType, CompletedAt: completedAt},
	}

	plan := buildReconcilePlan(current, required, history)

	if len(plan.toArchive) != 1 || plan.toArchive[0].ItemID != m1.ItemID {
		t.Fatalf("expected m1 archived, got %+v", plan.toArchive)
	}
	if len(plan.toRemove) != 0 {
		t.Fatalf("expected no plain removals, got %+v", plan.toRemove)
	}
	if len(plan.toAdd) != 1 || plan.toAdd[0].key.ItemID != m3.ItemID {
		t.Fatalf("expected m3 added, got %+v", plan.toAdd)
	}
	if plan.toAdd[0].completedAt == nil || !plan.toAdd[0].completedAt.Equal(completedAt) {
		t.Fatalf("expected m3 pre-credited with %v, got %v", completedAt, plan.toAdd[0].completedAt)
	}
	if plan.unchanged != 1 {
		t.Fatalf("expected m2 unchanged, got %d", plan.unchanged)
	}
}

func TestBuildReconcilePlan_RemovesOpenUnrequired(t *testing.T) {
	authID := uuid.New()
	m1 := moduleItem()

	current := []model.UserAssignment{
		{ID: uuid.New(), AuthID: authID, ItemID: m1.ItemID, ItemType: m1.ItemType},
	}

	plan := buildReconcilePlan(current, nil, nil)

	if len(plan.toRemove) != 1 {
		t.Fatalf("expected open unrequired row removed, got %+v", plan.toRemove)
	}
	if len(plan.toArchive) != 0 {
		t.Fatalf("open rows must not be archived, got %+v", plan.toArchive)
	}
}

func TestBuildReconcilePlan_CollapsesLegacyDuplicates(t *testing.T) {
	authID := uuid.New()
	m1 := moduleItem()

	current := []model.UserAssignment{
		{ID: uuid.New(), AuthID: authID, ItemID: m1.ItemID, ItemType: m1.ItemType},
		{ID: uuid.New(), AuthID: authID, ItemID: m1.ItemID, ItemType: m1.ItemType},
	}

	plan := buildReconcilePlan(current, []repository.SourceItem{m1}, nil)

	if plan.unchanged != 1 {
		t.Fatalf("expected one row kept, got %d", plan.unchanged)
	}
	if len(plan.toRemove) != 1 {
		t.Fatalf("expected duplicate row removed, got %d", len(plan.toRemove))
	}
	if len(plan.toAdd) != 0 {
		t.Fatalf("expected no additions, got %+v", plan.toAdd)
	}
}

func TestBuildReconcilePlan_SameItemDifferentTypes(t *testing.T) {
	// A module and a document sharing an item id are distinct requirements.
	authID := uuid.New()
	sharedID := uuid.New()
	asModule := repository.SourceItem{ItemID: sharedID, ItemType: model.ItemTypeModule}
	asDocument := repository.SourceItem{ItemID: sharedID, ItemType: model.ItemTypeDocument}

	current := []model.UserAssignment{
		{ID: uuid.New(), AuthID: authID, ItemID: sharedID, ItemType: model.ItemTypeModule},
	}

	plan := buildReconcilePlan(current, []repository.SourceItem{asModule, asDocument}, nil)

	if plan.unchanged != 1 {
		t.Fatalf("expected module assignment kept, got %d", plan.unchanged)
	}
	if len(plan.toAdd) != 1 || plan.toAdd[0].key.ItemType != model.ItemTypeDocument {
		t.Fatalf("expected document added separately, got %+v", plan.toAdd)
	}
}

// --- Service tests ---

func TestChangeUserRole_AppliesDiffAndMovesUser(t *testing.T) {
	f := newReconcileFixture()

	oldItem := moduleItem()
	newItem := moduleItem()
	oldRole := f.addRole(oldItem)
	newRole := f.addRole(newItem)
	user := f.addUser(&oldRole)

	f.assignments.rows = []model.UserAssignment{
		{ID: uuid.New(), AuthID: user.AuthID, ItemID: oldItem.ItemID, ItemType: oldItem.ItemType, AssignedAt: time.Now()},
	}

	res, err := f.svc.ChangeUserRole(context.Background(), ChangeRoleRequest{
		UserID:    user.ID.String(),
		NewRoleID: newRole.String(),
	}, "")
	if err != nil {
		t.Fatalf("ChangeUserRole failed: %v", err)
	}

	if res.Removed != 1 || res.Added != 1 || res.Archived != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	rows, _ := f.assignments.ListByAuthID(context.Background(), user.AuthID)
	if len(rows) != 1 || rows[0].ItemID != newItem.ItemID {
		t.Fatalf("expected only the new role's item assigned, got %+v", rows)
	}

	if user.RoleID == nil || *user.RoleID != newRole {
		t.Fatalf("expected user moved to new role, got %v", user.RoleID)
	}

	if len(f.tx.locked) == 0 || f.tx.locked[0] != user.AuthID {
		t.Fatal("expected per-user lock taken during reconcile")
	}

	if len(f.audits.entries) != 1 || f.audits.entries[0].Action != model.ActionChangeUserRole {
		t.Fatalf("expected one change-role audit entry, got %+v", f.audits.entries)
	}
}

func TestReconcileUserRole_DoesNotMoveUser(t *testing.T) {
	f := newReconcileFixture()

	oldRole := f.addRole(moduleItem())
	newRole := f.addRole(moduleItem())
	user := f.addUser(&oldRole)

	_, err := f.svc.ReconcileUserRole(context.Background(), ReconcileRequest{
		UserID:    user.ID.String(),
		OldRoleID: oldRole.String(),
		NewRoleID: newRole.String(),
	}, "")
	if err != nil {
		t.Fatalf("ReconcileUserRole failed: %v", err)
	}

	if user.RoleID == nil || *user.RoleID != oldRole {
		t.Fatalf("expected stored role untouched, got %v", user.RoleID)
	}
}

func TestChangeUserRole_Idempotent(t *testing.T) {
	f := newReconcileFixture()

	item := moduleItem()
	role := f.addRole(item)
	user := f.addUser(nil)

	req := ChangeRoleRequest{UserID: user.ID.String(), NewRoleID: role.String()}

	first, err := f.svc.ChangeUserRole(context.Background(), req, "")
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first.Added != 1 {
		t.Fatalf("expected one addition on first run, got %+v", first)
	}

	second, err := f.svc.ChangeUserRole(context.Background(), req, "")
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second.Added != 0 || second.Removed != 0 {
		t.Fatalf("expected second run to be a no-op, got %+v", second)
	}

	rows, _ := f.assignments.ListByAuthID(context.Background(), user.AuthID)
	if len(rows) != 1 {
		t.Fatalf("expected exactly one assignment after two runs, got %d", len(rows))
	}
}

func TestChangeUserRole_CompletedCreditSurvivesRoundTrip(t *testing.T) {
	f := newReconcileFixture()

	item := moduleItem()
	roleWith := f.addRole(item)
	roleWithout := f.addRole()
	user := f.addUser(&roleWith)

	completedAt := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
	f.assignments.rows = []model.UserAssignment{
		{ID: uuid.New(), AuthID: user.AuthID, ItemID: item.ItemID, ItemType: item.ItemType, AssignedAt: completedAt, CompletedAt: &completedAt},
	}

	// Move away: the completed row is archived, not lost.
	if _, err := f.svc.ChangeUserRole(context.Background(), ChangeRoleRequest{UserID: user.ID.String(), NewRoleID: roleWithout.String()}, ""); err != nil {
		t.Fatalf("move away failed: %v", err)
	}

	records, _ := f.completions.ListByAuthID(context.Background(), user.AuthID)
	if len(records) != 1 || !records[0].CompletedAt.Equal(completedAt) {
		t.Fatalf("expected archived completion with original timestamp, got %+v", records)
	}
	if rows, _ := f.assignments.ListByAuthID(context.Background(), user.AuthID); len(rows) != 0 {
		t.Fatalf("expected no active assignments after moving away, got %+v", rows)
	}

	// Move back: the assignment returns pre-credited.
	if _, err := f.svc.ChangeUserRole(context.Background(), ChangeRoleRequest{UserID: user.ID.String(), NewRoleID: roleWith.String()}, ""); err != nil {
		t.Fatalf("move back failed: %v", err)
	}

	rows, _ := f.assignments.ListByAuthID(context.Background(), user.AuthID)
	if len(rows) != 1 {
		t.Fatalf("expected one assignment after moving back, got %d", len(rows))
	}
	if rows[0].CompletedAt == nil || !rows[0].CompletedAt.Equal(completedAt) {
		t.Fatalf("expected assignment pre-credited with %v, got %v", completedAt, rows[0].CompletedAt)
	}
}

func TestChangeUserRole_UnionsRoleAndDepartmentRequirements(t *testing.T) {
	f := newReconcileFixture()

	roleItem := moduleItem()
	deptItem := repository.SourceItem{ItemID: uuid.New(), ItemType: model.ItemTypeDocument}
	shared := moduleItem()

	role := f.addRole(roleItem, shared)
	deptID := uuid.New()
	f.departments.departments[deptID] = &model.Department{ID: deptID, Name: "Ops"}
	f.sources.deptItems[deptID] = []repository.SourceItem{deptItem, shared}

	user := f.addUser(nil)
	user.DepartmentID = &deptID

	res, err := f.svc.ChangeUserRole(context.Background(), ChangeRoleRequest{UserID: user.ID.String(), NewRoleID: role.String()}, "")
	if err != nil {
		t.Fatalf("ChangeUserRole failed: %v", err)
	}

	// roleItem + deptItem + shared, deduplicated
	if res.Added != 3 {
		t.Fatalf("expected three assignments from the union, got %+v", res)
	}
}

func TestReconcileUserRole_UserNotFound(t *testing.T) {
	f := newReconcileFixture()
	role := f.addRole()

	_, err := f.svc.ReconcileUserRole(context.Background(), ReconcileRequest{
		UserID:    uuid.NewString(),
		NewRoleID: role.String(),
	}, "")
	if err != ErrUserNotFound {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestReconcileUserRole_RoleNotFound(t *testing.T) {
	f := newReconcileFixture()
	user := f.addUser(nil)

	_, err := f.svc.ReconcileUserRole(context.Background(), ReconcileRequest{
		UserID:    user.ID.String(),
		NewRoleID: uuid.NewString(),
	}, "")
	if err != ErrRoleNotFound {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
}

func TestReconcileAll_BatchIsolation(t *testing.T) {
	f := newReconcileFixture()

	goodRole := f.addRole(moduleItem())
	f.addUser(&goodRole)

	// Second user points at a role that no longer exists.
	missingRole := uuid.New()
	f.addUser(&missingRole)

	res, err := f.svc.ReconcileAll(context.Background(), "")
	if err != nil {
		t.Fatalf("ReconcileAll failed: %v", err)
	}

	if res.Processed != 2 || res.Succeeded != 1 || res.Failed != 1 {
		t.Fatalf("expected 2 processed / 1 succeeded / 1 failed, got %+v", res)
	}

	var foundBulkAudit bool
	for _, entry := range f.audits.entries {
		if entry.Action == model.ActionBulkReconcile {
			foundBulkAudit = true
		}
	}
	if !foundBulkAudit {
		t.Fatal("expected a bulk reconcile audit entry")
	}
}

func TestResyncRole_OnlyTouchesRoleHolders(t *testing.T) {
	f := newReconcileFixture()

	item := moduleItem()
	role := f.addRole(item)
	otherRole := f.addRole()

	holder := f.addUser(&role)
	bystander := f.addUser(&otherRole)

	res, err := f.svc.ResyncRole(context.Background(), role.String(), "")
	if err != nil {
		t.Fatalf("ResyncRole failed: %v", err)
	}
	if res.Processed != 1 || res.Succeeded != 1 {
		t.Fatalf("expected exactly the role holder processed, got %+v", res)
	}

	if rows, _ := f.assignments.ListByAuthID(context.Background(), holder.AuthID); len(rows) != 1 {
		t.Fatalf("expected holder to receive the assignment, got %d rows", len(rows))
	}
	if rows, _ := f.assignments.ListByAuthID(context.Background(), bystander.AuthID); len(rows) != 0 {
		t.Fatalf("expected bystander untouched, got %d rows", len(rows))
	}
}

func TestResyncRole_RoleNotFound(t *testing.T) {
	f := newReconcileFixture()

	_, err := f.svc.ResyncRole(context.Background(), uuid.NewString(), "")
	if err != ErrRoleNotFound {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
}

func TestChangeUserDepartment_MovesAndReconciles(t *testing.T) {
	f := newReconcileFixture()

	deptItem := repository.SourceItem{ItemID: uuid.New(), ItemType: model.ItemTypeDocument}
	deptID := uuid.New()
	f.departments.departments[deptID] = &model.Department{ID: deptID, Name: "Quality"}
	f.sources.deptItems[deptID] = []repository.SourceItem{deptItem}

	user := f.addUser(nil)

	res, err := f.svc.ChangeUserDepartment(context.Background(), ChangeDepartmentRequest{
		UserID:          user.ID.String(),
		NewDepartmentID: deptID.String(),
	}, "")
	if err != nil {
		t.Fatalf("ChangeUserDepartment failed: %v", err)
	}
	if res.Added != 1 {
		t.Fatalf("expected department item assigned, got %+v", res)
	}
	if user.DepartmentID == nil || *user.DepartmentID != deptID {
		t.Fatalf("expected user moved to department, got %v", user.DepartmentID)
	}
}

// flakyUserRepo fails GetByID a configurable number of times before
// delegating, simulating transient store outages.
type flakyUserRepo struct {
	fakeUserRepo
	failures int
	calls    int
}

func (f *flakyUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset by peer")
	}
	return f.fakeUserRepo.GetByID(ctx, id)
}

func (f *reconcileFixture) withUserRepo(users repository.UserRepository) ReconcileService {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewReconcileService(
		users, f.roles, f.departments, f.sources,
		f.assignments, f.completions, f.audits,
		f.tx, log, nil,
	)
}

func TestReconcileUserRole_RetriesTransientReadFailures(t *testing.T) {
	f := newReconcileFixture()
	role := f.addRole(moduleItem())
	user := f.addUser(nil)

	flaky := &flakyUserRepo{fakeUserRepo: *f.users, failures: 2}
	svc := f.withUserRepo(flaky)

	res, err := svc.ReconcileUserRole(context.Background(), ReconcileRequest{
		UserID:    user.ID.String(),
		NewRoleID: role.String(),
	}, "")
	if err != nil {
		t.Fatalf("expected success after transient failures, got %v", err)
	}
	if res.Added != 1 {
		t.Fatalf("expected reconciliation applied after retries, got %+v", res)
	}
	if flaky.calls != 3 {
		t.Fatalf("expected two failures then one success (3 calls), got %d", flaky.calls)
	}
}

func TestReconcileUserRole_TransientFailureExhaustsRetries(t *testing.T) {
	f := newReconcileFixture()
	role := f.addRole(moduleItem())
	user := f.addUser(nil)

	flaky := &flakyUserRepo{fakeUserRepo: *f.users, failures: 100}
	svc := f.withUserRepo(flaky)

	_, err := svc.ReconcileUserRole(context.Background(), ReconcileRequest{
		UserID:    user.ID.String(),
		NewRoleID: role.String(),
	}, "")
	if err == nil {
		t.Fatal("expected failure after retries exhausted")
	}
	if flaky.calls != storeReadAttempts {
		t.Fatalf("expected exactly %d attempts, got %d", storeReadAttempts, flaky.calls)
	}
}

func TestReconcileUserRole_NotFoundIsNotRetried(t *testing.T) {
	f := newReconcileFixture()
	role := f.addRole()

	flaky := &flakyUserRepo{fakeUserRepo: *f.users} // empty directory
	svc := f.withUserRepo(flaky)

	_, err := svc.ReconcileUserRole(context.Background(), ReconcileRequest{
		UserID:    uuid.NewString(),
		NewRoleID: role.String(),
	}, "")
	if err != ErrUserNotFound {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if flaky.calls != 1 {
		t.Fatalf("not-found must short-circuit the retry loop, got %d calls", flaky.calls)
	}
}

func TestChangeUserDepartment_DepartmentNotFound(t *testing.T) {
	f := newReconcileFixture()
	user := f.addUser(nil)

	_, err := f.svc.ChangeUserDepartment(context.Background(), ChangeDepartmentRequest{
		UserID:          user.ID.String(),
		NewDepartmentID: uuid.NewString(),
	}, "")
	if err != ErrDepartmentNotFound {
		t.Fatalf("expected ErrDepartmentNotFound, got %v", err)
	}
}
