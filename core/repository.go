package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRecord represents a user row together with its role assignments.
type UserRecord struct {
	ID           int64
	Username     string
	PasswordHash string
	RoleIDs      []int64
	Roles        []string
	CreatedAt    time.Time
}

// UserUpdate describes a full replacement of the mutable user fields.
// A nil PasswordHash keeps the current password; nil RoleIDs keep current roles.
type UserUpdate struct {
	Username     string
	PasswordHash *string
	RoleIDs      []int64
}

// Role is an assignable role.
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// UserRepository defines persistence operations for users. It is also the
// CredentialStore read by the auth core.
type UserRepository interface {
	CredentialStore
	FindByID(ctx context.Context, id int64) (*UserRecord, error)
	List(ctx context.Context, page, perPage int) ([]UserRecord, int, error)
	Create(ctx context.Context, username, passwordHash string, roleIDs []int64) (*UserRecord, error)
	Update(ctx context.Context, id int64, upd UserUpdate) (*UserRecord, error)
	Delete(ctx context.Context, id int64) error
}

// RoleRepository defines persistence operations for roles.
type RoleRepository interface {
	EnsureRoles(ctx context.Context, names ...string) error
	FindRoleByName(ctx context.Context, name string) (*Role, error)
	FindRolesByIDs(ctx context.Context, ids []int64) ([]Role, error)
}

// PgUserRepository implements UserRepository using pgxpool.
type PgUserRepository struct {
	db *pgxpool.Pool
}

func NewPgUserRepository(db *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{db: db}
}

const userSelect = `
SELECT u.id, u.username, u.password_hash, u.created_at,
       COALESCE(array_agg(r.id ORDER BY r.id) FILTER (WHERE r.id IS NOT NULL), '{}') AS role_ids,
       COALESCE(array_agg(r.name ORDER BY r.id) FILTER (WHERE r.id IS NOT NULL), '{}') AS role_names
FROM users u
LEFT JOIN user_roles ur ON ur.user_id = u.id
LEFT JOIN roles r ON r.id = ur.role_id`

func scanUser(row pgx.Row) (*UserRecord, error) {
	var u UserRecord
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt, &u.RoleIDs, &u.Roles); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PgUserRepository) FindCredential(ctx context.Context, username string) (*Credential, error) {
	u, err := scanUser(r.db.QueryRow(ctx, userSelect+` WHERE u.username=$1 GROUP BY u.id`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return &Credential{Username: u.Username, PasswordDigest: u.PasswordHash, Roles: u.Roles}, nil
}

func (r *PgUserRepository) FindByID(ctx context.Context, id int64) (*UserRecord, error) {
	u, err := scanUser(r.db.QueryRow(ctx, userSelect+` WHERE u.id=$1 GROUP BY u.id`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// List returns paginated users ordered by id.
func (r *PgUserRepository) List(ctx context.Context, page, perPage int) ([]UserRecord, int, error) {
	if page <= 0 || perPage <= 0 {
		return nil, 0, errors.New("invalid pagination")
	}
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, userSelect+` GROUP BY u.id ORDER BY u.id LIMIT $1 OFFSET $2`, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := make([]UserRecord, 0, perPage)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *u)
	}
	return items, total, rows.Err()
}

func (r *PgUserRepository) Create(ctx context.Context, username, passwordHash string, roleIDs []int64) (*UserRecord, error) {
	var id int64
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		const q = `INSERT INTO users (username, password_hash) VALUES ($1,$2) RETURNING id`
		if err := tx.QueryRow(ctx, q, username, passwordHash).Scan(&id); err != nil {
			return err
		}
		return replaceUserRoles(ctx, tx, id, roleIDs, false)
	})
	if err != nil {
		return nil, mapUserWriteError(err)
	}
	return r.FindByID(ctx, id)
}

func (r *PgUserRepository) Update(ctx context.Context, id int64, upd UserUpdate) (*UserRecord, error) {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		const q = `UPDATE users SET username=$2, password_hash=COALESCE($3, password_hash) WHERE id=$1`
		tag, err := tx.Exec(ctx, q, id, upd.Username, upd.PasswordHash)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrUserNotFound
		}
		if upd.RoleIDs == nil {
			return nil
		}
		return replaceUserRoles(ctx, tx, id, upd.RoleIDs, true)
	})
	if err != nil {
		return nil, mapUserWriteError(err)
	}
	return r.FindByID(ctx, id)
}

func (r *PgUserRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func replaceUserRoles(ctx context.Context, tx pgx.Tx, userID int64, roleIDs []int64, clear bool) error {
	if clear {
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id=$1`, userID); err != nil {
			return err
		}
	}
	if len(roleIDs) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`, userID, roleIDs)
	return err
}

func mapUserWriteError(err error) error {
	switch code, constraint := pgErrorCode(err); {
	case code == pgUniqueViolation && constraint == "uk_users_username":
		return ErrDuplicateUsername
	case code == pgForeignKeyViolation:
		return fmt.Errorf("%w: %v", ErrUnknownRole, err)
	}
	return err
}

// PgRoleRepository implements RoleRepository using pgxpool.
type PgRoleRepository struct {
	db *pgxpool.Pool
}

func NewPgRoleRepository(db *pgxpool.Pool) *PgRoleRepository {
	return &PgRoleRepository{db: db}
}

// EnsureRoles inserts the named roles that do not exist yet.
func (r *PgRoleRepository) EnsureRoles(ctx context.Context, names ...string) error {
	for _, name := range names {
		if _, err := r.db.Exec(ctx, `INSERT INTO roles (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name); err != nil {
			return fmt.Errorf("ensure role %s: %w", name, err)
		}
	}
	return nil
}

func (r *PgRoleRepository) FindRoleByName(ctx context.Context, name string) (*Role, error) {
	var role Role
	if err := r.db.QueryRow(ctx, `SELECT id, name FROM roles WHERE name=$1`, name).Scan(&role.ID, &role.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRole, name)
		}
		return nil, err
	}
	return &role, nil
}

// FindRolesByIDs returns the roles that exist among ids, ordered by id.
func (r *PgRoleRepository) FindRolesByIDs(ctx context.Context, ids []int64) ([]Role, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name FROM roles WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}
