package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-iam/atlas-iam/internal/shared"
)

// Repository provides PostgreSQL backed persistence for roles and
// permissions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `r.id, r.name, r.guard, r.description, r.is_default, r.is_guest, r.created_at, r.updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Guard, &role.Description, &role.IsDefault, &role.IsGuest, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

// ListRoles returns all roles for the guard ordered by name, with their
// permission names attached.
func (r *Repository) ListRoles(ctx context.Context, guard string) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.guard = $1 ORDER BY r.name`, guard)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	defer rows.Close()

	var list []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("roles: scan: %w", err)
		}
		list = append(list, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roles: rows: %w", err)
	}
	if err := r.attachPermissions(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

// FindByName looks up a role by name within the guard. Returns
// shared.ErrNotFound when no such role exists.
func (r *Repository) FindByName(ctx context.Context, name, guard string) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.name = $1 AND r.guard = $2`, name, guard)
	return r.finishSingle(ctx, row)
}

// DefaultRole returns the role flagged as default for the guard, or
// shared.ErrNotFound when none is configured.
func (r *Repository) DefaultRole(ctx context.Context, guard string) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.is_default AND r.guard = $1`, guard)
	return r.finishSingle(ctx, row)
}

// GuestRole returns the role flagged as guest for the guard, or
// shared.ErrNotFound when none is configured.
func (r *Repository) GuestRole(ctx context.Context, guard string) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.is_guest AND r.guard = $1`, guard)
	return r.finishSingle(ctx, row)
}

// RolesForUser returns the roles assigned to a user, with permissions.
func (r *Repository) RolesForUser(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles r JOIN user_roles ur ON ur.role_id = r.id WHERE ur.user_id = $1 ORDER BY r.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("roles: for user: %w", err)
	}
	defer rows.Close()

	var list []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("roles: scan: %w", err)
		}
		list = append(list, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roles: rows: %w", err)
	}
	if err := r.attachPermissions(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

// ListPermissions returns all permissions for the guard ordered by name.
func (r *Repository) ListPermissions(ctx context.Context, guard string) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, guard, description FROM permissions WHERE guard = $1 ORDER BY name`, guard)
	if err != nil {
		return nil, fmt.Errorf("roles: list permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Guard, &p.Description); err != nil {
			return nil, fmt.Errorf("roles: scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roles: rows: %w", err)
	}
	return perms, nil
}

func (r *Repository) finishSingle(ctx context.Context, row pgx.Row) (Role, error) {
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, fmt.Errorf("roles: query: %w", err)
	}
	single := []Role{role}
	if err := r.attachPermissions(ctx, single); err != nil {
		return Role{}, err
	}
	return single[0], nil
}

func (r *Repository) attachPermissions(ctx context.Context, list []Role) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]int64, len(list))
	index := make(map[int64]*Role, len(list))
	for i := range list {
		ids[i] = list[i].ID
		index[list[i].ID] = &list[i]
	}
	rows, err := r.pool.Query(ctx, `SELECT rp.role_id, p.name FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id WHERE rp.role_id = ANY($1) ORDER BY p.name`, ids)
	if err != nil {
		return fmt.Errorf("roles: permissions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var roleID int64
		var name string
		if err := rows.Scan(&roleID, &name); err != nil {
			return fmt.Errorf("roles: scan permission: %w", err)
		}
		if role, ok := index[roleID]; ok {
			role.Permissions = append(role.Permissions, name)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("roles: rows: %w", err)
	}
	return nil
}
