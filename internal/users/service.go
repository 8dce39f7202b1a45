package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/atlas-iam/atlas-iam/internal/authz"
	"github.com/atlas-iam/atlas-iam/internal/roles"
	"github.com/atlas-iam/atlas-iam/internal/shared"
)

// EntityUser tags the user entity in the relation filter's configuration.
const EntityUser = "user"

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	List(ctx context.Context, filters ListFilters) ([]User, int, error)
	Create(ctx context.Context, u User) (User, error)
	Save(ctx context.Context, u User) error
	GetByID(ctx context.Context, id int64) (User, error)
	ReplaceRoles(ctx context.Context, userID int64, roleIDs []int64) error
	AttachRole(ctx context.Context, userID, roleID int64) error
	LoadRoles(ctx context.Context, u *User) error
	LoadPermissions(ctx context.Context, u *User) error
}

// RoleStore is the narrow view of the role store the lifecycle needs: name
// validation within the guard and default-role lookup.
type RoleStore interface {
	FindByName(ctx context.Context, name string) (roles.Role, error)
	DefaultRole(ctx context.Context) (roles.Role, error)
}

// EventSink receives lifecycle notifications. Emission is fire-and-forget;
// sink failures never fail the originating request.
type EventSink interface {
	UserCreated(ctx context.Context, u User) error
}

// AuditRecorder persists audit trail entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the user lifecycle: creation with default-role
// fallback, gated field updates, role synchronization and authorized
// relation loading.
type Service struct {
	repo       RepositoryPort
	roleStore  RoleStore
	gate       *authz.Gate
	relations  *authz.RelationFilter
	events     EventSink
	audit      AuditRecorder
	logger     *slog.Logger
	bcryptCost int
}

// NewService builds Service instance. events and audit may be nil.
func NewService(repo RepositoryPort, roleStore RoleStore, gate *authz.Gate, relations *authz.RelationFilter, events EventSink, audit AuditRecorder, logger *slog.Logger, bcryptCost int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		repo:       repo,
		roleStore:  roleStore,
		gate:       gate,
		relations:  relations,
		events:     events,
		audit:      audit,
		logger:     logger,
		bcryptCost: bcryptCost,
	}
}

// Index returns one page of user projections with roles loaded.
func (s *Service) Index(ctx context.Context, filters ListFilters) ([]UserView, shared.Pagination, error) {
	list, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	views := make([]UserView, len(list))
	for i := range list {
		if err := s.repo.LoadRoles(ctx, &list[i]); err != nil {
			return nil, shared.Pagination{}, err
		}
		views[i] = NewUserView(list[i])
	}
	return views, shared.NewPagination(filters.Page, filters.PerPage, total), nil
}

// Create persists a new user. A requested role list goes through role
// synchronization; when it does not apply (absent, all invalid, or denied)
// the guard's default role is attached instead. A UserCreated event is
// emitted after role resolution.
func (s *Service) Create(ctx context.Context, actor authz.Principal, params CreateParams) (UserView, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), s.bcryptCost)
	if err != nil {
		return UserView{}, fmt.Errorf("users: hash password: %w", err)
	}

	status := params.Status
	if status == "" {
		status = StatusActive
	}
	user := User{
		Status:       status,
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		DisplayName:  displayNameOrDefault(params.DisplayName, params.FirstName, params.LastName),
		Email:        params.Email,
		PasswordHash: string(hash),
	}

	created, err := s.repo.Create(ctx, user)
	if err != nil {
		return UserView{}, err
	}

	if params.Roles != nil {
		applied, err := s.syncRoles(ctx, actor, created, params.Roles)
		if err != nil {
			return UserView{}, err
		}
		if !applied {
			if err := s.assignDefaultRole(ctx, created); err != nil {
				return UserView{}, err
			}
		}
	} else {
		if err := s.assignDefaultRole(ctx, created); err != nil {
			return UserView{}, err
		}
	}

	s.recordAudit(ctx, actor, created, "users.create", map[string]any{"email": created.Email})

	if s.events != nil {
		if err := s.events.UserCreated(ctx, created); err != nil {
			s.logger.Warn("user created event not emitted", slog.Int64("user_id", created.ID), slog.Any("error", err))
		}
	}

	fresh, err := s.repo.GetByID(ctx, created.ID)
	if err != nil {
		return UserView{}, err
	}
	if err := s.repo.LoadRoles(ctx, &fresh); err != nil {
		return UserView{}, err
	}
	return NewUserView(fresh), nil
}

// Show loads the relations the actor may request onto the user and returns
// its projection. Unknown or unauthorized relation names are dropped
// silently.
func (s *Service) Show(ctx context.Context, actor authz.Principal, id int64, relationSpec string) (UserView, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return UserView{}, err
	}
	requested := authz.ParseRelations(relationSpec)
	for _, relation := range s.relations.FilterLoadable(ctx, actor, requested, EntityUser) {
		switch relation {
		case "roles":
			err = s.repo.LoadRoles(ctx, &user)
		case "permissions":
			err = s.repo.LoadPermissions(ctx, &user)
		}
		if err != nil {
			return UserView{}, err
		}
	}
	return NewUserView(user), nil
}

// Update applies a partial mutation. Changing the email clears the
// verification timestamp; an explicit email_verified_at value is honored
// only when the actor holds the self-scoped override ability; a roles list
// runs through role synchronization. The entity is persisted once.
func (s *Service) Update(ctx context.Context, actor authz.Principal, id int64, params UpdateParams) (UserView, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return UserView{}, err
	}

	emailDirty := false
	if params.Email != nil && *params.Email != user.Email {
		user.Email = *params.Email
		emailDirty = true
	}
	if params.Status != nil {
		user.Status = *params.Status
	}
	if params.FirstName != nil {
		user.FirstName = *params.FirstName
	}
	if params.LastName != nil {
		user.LastName = *params.LastName
	}
	if params.DisplayName != nil {
		user.DisplayName = *params.DisplayName
	}

	// An address change invalidates prior verification. Sending a fresh
	// verification mail is deliberately disabled.
	if emailDirty {
		user.EmailVerifiedAt = nil
	}

	if params.Password != nil && *params.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*params.Password), s.bcryptCost)
		if err != nil {
			return UserView{}, fmt.Errorf("users: hash password: %w", err)
		}
		user.PasswordHash = string(hash)
	}

	if params.EmailVerifiedAt.Set {
		if s.gate.Can(ctx, actor, authz.AbilityUpdateVerified, actor) {
			user.EmailVerifiedAt = params.EmailVerifiedAt.Time
		}
	}

	rolesApplied := false
	if params.Roles != nil {
		rolesApplied, err = s.syncRoles(ctx, actor, user, *params.Roles)
		if err != nil {
			return UserView{}, err
		}
	}

	if err := s.repo.Save(ctx, user); err != nil {
		return UserView{}, err
	}

	fresh, err := s.repo.GetByID(ctx, user.ID)
	if err != nil {
		return UserView{}, err
	}
	if rolesApplied {
		if err := s.repo.LoadRoles(ctx, &fresh); err != nil {
			return UserView{}, err
		}
	} else {
		fresh.Roles = user.Roles
		fresh.RolesLoaded = user.RolesLoaded
	}
	return NewUserView(fresh), nil
}

// syncRoles validates the requested role names, authorizes each valid role
// for the actor and replaces the target's role set atomically. The whole
// request is rejected on the first denial so a caller cannot smuggle an
// allowed role in next to a forbidden one.
func (s *Service) syncRoles(ctx context.Context, actor authz.Principal, target User, requested []string) (bool, error) {
	valid, err := s.filterValidRoles(ctx, requested)
	if err != nil {
		return false, err
	}
	if len(valid) == 0 {
		return false, nil
	}

	for _, role := range valid {
		if err := s.gate.Authorize(ctx, actor, authz.AbilityAssignRole, target, role.Authz()); err != nil {
			s.logger.Warn("role assignment denied",
				slog.Int64("actor_id", actor.ID),
				slog.String("role", role.Name))
			return false, nil
		}
	}

	roleIDs := make([]int64, len(valid))
	names := make([]string, len(valid))
	for i, role := range valid {
		roleIDs[i] = role.ID
		names[i] = role.Name
	}
	if err := s.repo.ReplaceRoles(ctx, target.ID, roleIDs); err != nil {
		return false, err
	}
	s.recordAudit(ctx, actor, target, "users.roles.sync", map[string]any{"roles": names})
	return true, nil
}

// filterValidRoles keeps the requested names that exist in the guard.
// Unknown names are skipped without failing the operation.
func (s *Service) filterValidRoles(ctx context.Context, requested []string) ([]roles.Role, error) {
	valid := make([]roles.Role, 0, len(requested))
	for _, name := range requested {
		role, err := s.roleStore.FindByName(ctx, name)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			return nil, err
		}
		valid = append(valid, role)
	}
	return valid, nil
}

func (s *Service) assignDefaultRole(ctx context.Context, user User) error {
	role, err := s.roleStore.DefaultRole(ctx)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.repo.AttachRole(ctx, user.ID, role.ID)
}

func (s *Service) recordAudit(ctx context.Context, actor authz.Principal, target User, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(target.ID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}

func displayNameOrDefault(displayName, firstName, lastName string) string {
	if strings.TrimSpace(displayName) != "" {
		return displayName
	}
	full := strings.TrimSpace(firstName + " " + lastName)
	return cases.Title(language.Und).String(full)
}
