package users

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/atlas-iam/atlas-iam/internal/authz"
	"github.com/atlas-iam/atlas-iam/internal/roles"
	"github.com/atlas-iam/atlas-iam/internal/shared"
)

// ============================================================================
// STUBS
// ============================================================================

type stubRepo struct {
	users     map[int64]User
	userRoles map[int64][]int64
	rolesByID map[int64]roles.Role
	nextID    int64

	replaceCalls int
	saveCalls    int
}

func newStubRepo(known ...roles.Role) *stubRepo {
	byID := make(map[int64]roles.Role, len(known))
	for _, role := range known {
		byID[role.ID] = role
	}
	return &stubRepo{
		users:     make(map[int64]User),
		userRoles: make(map[int64][]int64),
		rolesByID: byID,
		nextID:    1,
	}
}

func (r *stubRepo) List(_ context.Context, _ ListFilters) ([]User, int, error) {
	var list []User
	for _, u := range r.users {
		list = append(list, u)
	}
	return list, len(list), nil
}

func (r *stubRepo) Create(_ context.Context, u User) (User, error) {
	u.ID = r.nextID
	r.nextID++
	u.CreatedAt = time.Now()
	r.users[u.ID] = u
	return u, nil
}

func (r *stubRepo) Save(_ context.Context, u User) error {
	if _, ok := r.users[u.ID]; !ok {
		return shared.ErrNotFound
	}
	r.saveCalls++
	r.users[u.ID] = u
	return nil
}

func (r *stubRepo) GetByID(_ context.Context, id int64) (User, error) {
	u, ok := r.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	u.Roles = nil
	u.RolesLoaded = false
	u.Permissions = nil
	return u, nil
}

func (r *stubRepo) ReplaceRoles(_ context.Context, userID int64, roleIDs []int64) error {
	r.replaceCalls++
	r.userRoles[userID] = append([]int64(nil), roleIDs...)
	return nil
}

func (r *stubRepo) AttachRole(_ context.Context, userID, roleID int64) error {
	r.userRoles[userID] = append(r.userRoles[userID], roleID)
	return nil
}

func (r *stubRepo) LoadRoles(_ context.Context, u *User) error {
	u.Roles = u.Roles[:0]
	for _, id := range r.userRoles[u.ID] {
		u.Roles = append(u.Roles, r.rolesByID[id])
	}
	u.RolesLoaded = true
	return nil
}

func (r *stubRepo) LoadPermissions(_ context.Context, u *User) error {
	seen := make(map[string]struct{})
	u.Permissions = nil
	for _, id := range r.userRoles[u.ID] {
		for _, perm := range r.rolesByID[id].Permissions {
			if _, ok := seen[perm]; ok {
				continue
			}
			seen[perm] = struct{}{}
			u.Permissions = append(u.Permissions, perm)
		}
	}
	return nil
}

func (r *stubRepo) roleNames(userID int64) []string {
	var names []string
	for _, id := range r.userRoles[userID] {
		names = append(names, r.rolesByID[id].Name)
	}
	return names
}

type stubRoleStore struct {
	byName      map[string]roles.Role
	defaultRole *roles.Role
}

func (s *stubRoleStore) FindByName(_ context.Context, name string) (roles.Role, error) {
	role, ok := s.byName[name]
	if !ok {
		return roles.Role{}, shared.ErrNotFound
	}
	return role, nil
}

func (s *stubRoleStore) DefaultRole(_ context.Context) (roles.Role, error) {
	if s.defaultRole == nil {
		return roles.Role{}, shared.ErrNotFound
	}
	return *s.defaultRole, nil
}

type stubAudit struct {
	actions []string
}

func (a *stubAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

type stubSink struct {
	created []int64
	err     error
}

func (s *stubSink) UserCreated(_ context.Context, u User) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, u.ID)
	return nil
}

// ============================================================================
// FIXTURE
// ============================================================================

var (
	roleMember = roles.Role{ID: 1, Name: "member", Guard: "api", IsDefault: true}
	roleEditor = roles.Role{ID: 2, Name: "editor", Guard: "api", Permissions: []string{shared.PermUsersView, shared.PermUsersEdit}}
	roleAdmin  = roles.Role{ID: 3, Name: "admin", Guard: "api", Permissions: shared.CoreScopes()}
)

type fixture struct {
	svc   *Service
	repo  *stubRepo
	store *stubRoleStore
	sink  *stubSink
	audit *stubAudit
	gate  *authz.Gate
	logs  *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newStubRepo(roleMember, roleEditor, roleAdmin)
	defaultRole := roleMember
	store := &stubRoleStore{
		byName: map[string]roles.Role{
			"member": roleMember,
			"editor": roleEditor,
			"admin":  roleAdmin,
		},
		defaultRole: &defaultRole,
	}
	sink := &stubSink{}
	audit := &stubAudit{}

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	gate := authz.NewGate(logger)
	authz.RegisterDefaultRules(gate)

	relations := authz.NewRelationFilter(gate)
	relations.RegisterEntity(EntityUser, authz.UserRelations())

	svc := NewService(repo, store, gate, relations, sink, audit, logger, bcrypt.MinCost)
	return &fixture{svc: svc, repo: repo, store: store, sink: sink, audit: audit, gate: gate, logs: &logs}
}

func adminPrincipal() authz.Principal {
	return authz.Principal{ID: 99, Roles: []authz.Role{roleAdmin.Authz()}}
}

func editorPrincipal() authz.Principal {
	return authz.Principal{ID: 55, Roles: []authz.Role{roleEditor.Authz()}}
}

func strPtr(s string) *string { return &s }

// ============================================================================
// CREATE
// ============================================================================

func TestCreateAssignsDefaultRoleWhenNoRolesRequested(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.Create(context.Background(), adminPrincipal(), CreateParams{
		FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Password: "engine-no-9",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"member"}, f.repo.roleNames(view.ID))
	require.Len(t, view.Roles, 1)
	assert.Equal(t, "member", view.Roles[0].Name)
}

func TestCreateFallsBackToDefaultRoleWhenSyncDenied(t *testing.T) {
	f := newFixture(t)

	// The editor role does not grant users.assign-roles.
	view, err := f.svc.Create(context.Background(), editorPrincipal(), CreateParams{
		FirstName: "Ada", Email: "ada@example.com", Password: "engine-no-9",
		Roles: []string{"admin"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"member"}, f.repo.roleNames(view.ID))
	assert.Zero(t, f.repo.replaceCalls, "denied sync must not replace roles")
	assert.Contains(t, f.logs.String(), "role assignment denied")
	assert.Contains(t, f.logs.String(), "actor_id=55")
	assert.Contains(t, f.logs.String(), "role=admin")
}

func TestCreateFallsBackToDefaultRoleWhenAllRolesInvalid(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.Create(context.Background(), adminPrincipal(), CreateParams{
		FirstName: "Ada", Email: "ada@example.com", Password: "engine-no-9",
		Roles: []string{"bogus", "ghost"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"member"}, f.repo.roleNames(view.ID))
}

func TestCreateAssignsRequestedRolesWhenAuthorized(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.Create(context.Background(), adminPrincipal(), CreateParams{
		FirstName: "Ada", Email: "ada@example.com", Password: "engine-no-9",
		Roles: []string{"admin", "editor"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "editor"}, f.repo.roleNames(view.ID))
	assert.Equal(t, 1, f.repo.replaceCalls)
}

func TestCreateHashesPassword(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.Create(context.Background(), adminPrincipal(), CreateParams{
		FirstName: "Ada", Email: "ada@example.com", Password: "engine-no-9",
	})
	require.NoError(t, err)

	stored := f.repo.users[view.ID]
	assert.NotEqual(t, "engine-no-9", stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("engine-no-9")))
}

func TestCreateEmitsUserCreatedEvent(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.Create(context.Background(), adminPrincipal(), CreateParams{
		FirstName: "Ada", Email: "ada@example.com", Password: "engine-no-9",
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{view.ID}, f.sink.created)
	assert.Contains(t, f.audit.actions, "users.create")
}

func TestCreateDefaultsDisplayName(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.Create(context.Background(), adminPrincipal(), CreateParams{
		FirstName: "ada", LastName: "lovelace", Email: "ada@example.com", Password: "engine-no-9",
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", view.DisplayName)
}

// ============================================================================
// UPDATE
// ============================================================================

func seedUser(f *fixture, verified bool) User {
	u, _ := f.repo.Create(context.Background(), User{
		Status: StatusActive, FirstName: "Ada", LastName: "Lovelace",
		DisplayName: "Ada Lovelace", Email: "ada@example.com", PasswordHash: "$stored",
	})
	if verified {
		at := time.Now().Add(-time.Hour).UTC()
		u.EmailVerifiedAt = &at
		f.repo.users[u.ID] = u
	}
	return u
}

func TestUpdateEmailChangeClearsVerification(t *testing.T) {
	f := newFixture(t)
	target := seedUser(f, true)

	// The caller also submits a verified-at value but lacks the override
	// ability, so the address change must win and null the field.
	at := time.Now().UTC()
	view, err := f.svc.Update(context.Background(), editorPrincipal(), target.ID, UpdateParams{
		Email:           strPtr("new@example.com"),
		EmailVerifiedAt: OptionalTime{Set: true, Time: &at},
	})
	require.NoError(t, err)
	assert.Nil(t, view.EmailVerifiedAt)
	assert.Nil(t, f.repo.users[target.ID].EmailVerifiedAt)
	assert.Equal(t, "new@example.com", view.Email)
}

func TestUpdateVerifiedAtAppliedForAuthorizedSelfScopedActor(t *testing.T) {
	f := newFixture(t)
	target := seedUser(f, false)

	at := time.Now().Truncate(time.Second).UTC()
	view, err := f.svc.Update(context.Background(), adminPrincipal(), target.ID, UpdateParams{
		EmailVerifiedAt: OptionalTime{Set: true, Time: &at},
	})
	require.NoError(t, err)
	require.NotNil(t, view.EmailVerifiedAt)
	assert.True(t, view.EmailVerifiedAt.Equal(at))
}

func TestUpdateVerifiedAtIgnoredWithoutAbility(t *testing.T) {
	f := newFixture(t)
	target := seedUser(f, false)

	at := time.Now().UTC()
	view, err := f.svc.Update(context.Background(), editorPrincipal(), target.ID, UpdateParams{
		EmailVerifiedAt: OptionalTime{Set: true, Time: &at},
	})
	require.NoError(t, err)
	assert.Nil(t, view.EmailVerifiedAt)
}

func TestUpdatePasswordIsHashed(t *testing.T) {
	f := newFixture(t)
	target := seedUser(f, false)

	_, err := f.svc.Update(context.Background(), adminPrincipal(), target.ID, UpdateParams{
		Password: strPtr("new-secret-42"),
	})
	require.NoError(t, err)

	stored := f.repo.users[target.ID]
	assert.NotEqual(t, "new-secret-42", stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("new-secret-42")))
}

func TestUpdateRoleSyncIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	target := seedUser(f, false)
	f.repo.userRoles[target.ID] = []int64{roleMember.ID}

	roleNames := []string{"admin"}
	_, err := f.svc.Update(context.Background(), editorPrincipal(), target.ID, UpdateParams{
		Roles: &roleNames,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"member"}, f.repo.roleNames(target.ID), "roles must be unchanged after denial")
	assert.Zero(t, f.repo.replaceCalls)
	assert.Contains(t, f.logs.String(), "actor_id=55")
	assert.Contains(t, f.logs.String(), "role=admin")
}

func TestUpdateRoleSyncShortCircuitsOnFirstDenial(t *testing.T) {
	f := newFixture(t)
	target := seedUser(f, false)
	f.repo.userRoles[target.ID] = []int64{roleMember.ID}

	// Per-role denial: editor may be assigned, admin may not. Bundling an
	// allowed role with a forbidden one must reject the whole set.
	f.gate.Register(authz.AbilityAssignRole, func(_ context.Context, _ authz.Principal, args []any) bool {
		role, ok := args[1].(authz.Role)
		return ok && role.Name != "admin"
	})

	roleNames := []string{"editor", "admin"}
	_, err := f.svc.Update(context.Background(), adminPrincipal(), target.ID, UpdateParams{
		Roles: &roleNames,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"member"}, f.repo.roleNames(target.ID))
	assert.Zero(t, f.repo.replaceCalls)
}

func TestUpdateRoleSyncFullyReplacesRoleSet(t *testing.T) {
	f := newFixture(t)
	target := seedUser(f, false)
	f.repo.userRoles[target.ID] = []int64{roleMember.ID}

	roleNames := []string{"admin", "editor"}
	view, err := f.svc.Update(context.Background(), adminPrincipal(), target.ID, UpdateParams{
		Roles: &roleNames,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "editor"}, f.repo.roleNames(target.ID))
	require.Len(t, view.Roles, 2)
	assert.Contains(t, f.audit.actions, "users.roles.sync")
}

func TestUpdateSkipsInvalidRoleNames(t *testing.T) {
	f := newFixture(t)
	target := seedUser(f, false)

	roleNames := []string{"editor", "bogus"}
	_, err := f.svc.Update(context.Background(), adminPrincipal(), target.ID, UpdateParams{
		Roles: &roleNames,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"editor"}, f.repo.roleNames(target.ID))
}

func TestUpdateLeavesRolesUntouchedWhenAllInvalid(t *testing.T) {
	f := newFixture(t)
	target := seedUser(f, false)
	f.repo.userRoles[target.ID] = []int64{roleMember.ID}

	roleNames := []string{"bogus"}
	_, err := f.svc.Update(context.Background(), adminPrincipal(), target.ID, UpdateParams{
		Roles: &roleNames,
	})
	require.NoError(t, err)
	// No default-role fallback on update: the set stays as it was.
	assert.Equal(t, []string{"member"}, f.repo.roleNames(target.ID))
}

func TestUpdatePersistsOnce(t *testing.T) {
	f := newFixture(t)
	target := seedUser(f, false)

	roleNames := []string{"editor"}
	_, err := f.svc.Update(context.Background(), adminPrincipal(), target.ID, UpdateParams{
		FirstName: strPtr("Augusta"),
		Roles:     &roleNames,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.repo.saveCalls)
	assert.Equal(t, "Augusta", f.repo.users[target.ID].FirstName)
}

// ============================================================================
// SHOW
// ============================================================================

func TestShowLoadsOnlyAuthorizedRelations(t *testing.T) {
	f := newFixture(t)
	target := seedUser(f, false)
	f.repo.userRoles[target.ID] = []int64{roleEditor.ID}

	// The editor principal may view roles but not permissions.
	actor := authz.Principal{ID: 55, Roles: []authz.Role{{
		Name: "editor", Guard: "api", Permissions: []string{shared.PermUsersView, shared.PermRolesView},
	}}}

	view, err := f.svc.Show(context.Background(), actor, target.ID, "roles, permissions, secrets")
	require.NoError(t, err)
	require.Len(t, view.Roles, 1)
	assert.Equal(t, "editor", view.Roles[0].Name)
	assert.Empty(t, view.Permissions)
}

func TestShowWithoutRelations(t *testing.T) {
	f := newFixture(t)
	target := seedUser(f, false)

	view, err := f.svc.Show(context.Background(), adminPrincipal(), target.ID, "")
	require.NoError(t, err)
	assert.Empty(t, view.Roles)
}
