package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/atlas-iam/atlas-iam/internal/platform/db"
	"github.com/atlas-iam/atlas-iam/internal/roles"
	"github.com/atlas-iam/atlas-iam/internal/shared"
)

// ListFilters narrows and pages the user listing.
type ListFilters struct {
	Status  string
	Search  string
	Page    int
	PerPage int
}

// Repository provides PostgreSQL backed persistence for users.
type Repository struct {
	pool  *pgxpool.Pool
	roles *roles.Repository
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, roleRepo *roles.Repository) *Repository {
	return &Repository{pool: pool, roles: roleRepo}
}

const userColumns = `id, status, first_name, last_name, display_name, email, password_hash, email_verified_at, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Status, &u.FirstName, &u.LastName, &u.DisplayName, &u.Email, &u.PasswordHash, &u.EmailVerifiedAt, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// List returns one page of users plus the unpaged total. The page and count
// queries run concurrently.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]User, int, error) {
	where, args := buildListWhere(filters)
	page := shared.NewPagination(filters.Page, filters.PerPage, 0)

	var (
		list  []User
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		query := `SELECT ` + userColumns + ` FROM users` + where +
			fmt.Sprintf(` ORDER BY id LIMIT %d OFFSET %d`, page.PerPage, page.Offset())
		rows, err := r.pool.Query(gctx, query, args...)
		if err != nil {
			return fmt.Errorf("users: list: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return fmt.Errorf("users: scan: %w", err)
			}
			list = append(list, u)
		}
		return rows.Err()
	})
	g.Go(func() error {
		if err := r.pool.QueryRow(gctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
			return fmt.Errorf("users: count: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func buildListWhere(filters ListFilters) (string, []any) {
	var clauses []string
	var args []any
	if filters.Status != "" {
		args = append(args, filters.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(email ILIKE $%d OR first_name ILIKE $%d OR last_name ILIKE $%d OR display_name ILIKE $%d)", n, n, n, n))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Create inserts a new user and returns the stored record.
func (r *Repository) Create(ctx context.Context, u User) (User, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO users (status, first_name, last_name, display_name, email, password_hash, email_verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+userColumns,
		u.Status, u.FirstName, u.LastName, u.DisplayName, u.Email, u.PasswordHash, u.EmailVerifiedAt)
	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, shared.ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("users: create: %w", err)
	}
	return created, nil
}

// Save persists field changes of an existing user.
func (r *Repository) Save(ctx context.Context, u User) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET status = $2, first_name = $3, last_name = $4, display_name = $5, email = $6, password_hash = $7, email_verified_at = $8, updated_at = NOW() WHERE id = $1`,
		u.ID, u.Status, u.FirstName, u.LastName, u.DisplayName, u.Email, u.PasswordHash, u.EmailVerifiedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return shared.ErrDuplicateEmail
		}
		return fmt.Errorf("users: save: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// GetByID fetches a user without relations.
func (r *Repository) GetByID(ctx context.Context, id int64) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, fmt.Errorf("users: get: %w", err)
	}
	return u, nil
}

// FindByEmail fetches a user by email address.
func (r *Repository) FindByEmail(ctx context.Context, email string) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, fmt.Errorf("users: find by email: %w", err)
	}
	return u, nil
}

// ReplaceRoles swaps the user's role set for exactly the given roles, in a
// single transaction.
func (r *Repository) ReplaceRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("users: clear roles: %w", err)
		}
		for _, roleID := range roleIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`, userID, roleID); err != nil {
				return fmt.Errorf("users: attach role %d: %w", roleID, err)
			}
		}
		return nil
	})
}

// AttachRole adds a single role to the user without touching existing ones.
func (r *Repository) AttachRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	if err != nil {
		return fmt.Errorf("users: attach role: %w", err)
	}
	return nil
}

// LoadRoles populates the user's roles relation.
func (r *Repository) LoadRoles(ctx context.Context, u *User) error {
	list, err := r.roles.RolesForUser(ctx, u.ID)
	if err != nil {
		return err
	}
	u.Roles = list
	u.RolesLoaded = true
	return nil
}

// LoadPermissions populates the user's effective permission names, the
// union over its roles.
func (r *Repository) LoadPermissions(ctx context.Context, u *User) error {
	list, err := r.roles.RolesForUser(ctx, u.ID)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{})
	var perms []string
	for _, role := range list {
		for _, perm := range role.Permissions {
			if _, ok := seen[perm]; ok {
				continue
			}
			seen[perm] = struct{}{}
			perms = append(perms, perm)
		}
	}
	u.Permissions = perms
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
