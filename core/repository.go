package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store-level failures surfaced to the auth service.
var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// UserRecord is the persistence projection of a user, digest included.
// It never leaves the core; handlers respond with User instead.
type UserRecord struct {
	ID             uuid.UUID
	Email          string
	PasswordDigest string
	FirstName      string
	LastName       string
	Role           Role
	School         string
	County         string
	Active         bool
	CreatedAt      time.Time
}

// UserListItem is a projection for admin user listing (no digest).
type UserListItem struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      Role      `json:"role"`
	School    string    `json:"school"`
	County    string    `json:"county"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateUserParams carries everything needed to persist a new user.
type CreateUserParams struct {
	Email          string
	PasswordDigest string
	FirstName      string
	LastName       string
	Role           Role
	School         string
	County         string
}

// UserRepository defines persistence operations for users. Email uniqueness
// is enforced by the store, not by callers.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*UserRecord, error)
	FindByID(ctx context.Context, id uuid.UUID) (*UserRecord, error)
	Create(ctx context.Context, p CreateUserParams) (*UserRecord, error)
	List(ctx context.Context, page, perPage int) ([]UserListItem, int, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role Role) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	HasSuperAdmin(ctx context.Context) (bool, error)
}

// PgUserRepository implements UserRepository using pgxpool.
type PgUserRepository struct {
	db *pgxpool.Pool
}

func NewPgUserRepository(db *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{db: db}
}

const userColumns = `id, email, password_hash, first_name, last_name, role, school, county, is_active, created_at`

func scanUser(row pgx.Row) (*UserRecord, error) {
	var u UserRecord
	var role string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordDigest, &u.FirstName, &u.LastName,
		&role, &u.School, &u.County, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	parsed, err := ParseRole(role)
	if err != nil {
		// An unknown role in the store is rejected here rather than carried
		// around as an opaque string.
		return nil, err
	}
	u.Role = parsed
	return &u, nil
}

func (r *PgUserRepository) FindByEmail(ctx context.Context, email string) (*UserRecord, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE email=$1`
	return scanUser(r.db.QueryRow(ctx, q, normalizeEmail(email)))
}

func (r *PgUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*UserRecord, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return scanUser(r.db.QueryRow(ctx, q, id))
}

// Create inserts a new active user. The insert is idempotent on email: a
// conflicting row makes the statement affect nothing, which is reported as
// ErrDuplicateEmail, so retried registrations never create duplicates.
func (r *PgUserRepository) Create(ctx context.Context, p CreateUserParams) (*UserRecord, error) {
	const q = `
INSERT INTO users (id, email, password_hash, first_name, last_name, role, school, county, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,TRUE)
ON CONFLICT (email) DO NOTHING
RETURNING ` + userColumns
	id := uuid.New()
	u, err := scanUser(r.db.QueryRow(ctx, q, id, normalizeEmail(p.Email), p.PasswordDigest,
		p.FirstName, p.LastName, string(p.Role), p.School, p.County))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return u, nil
}

// List returns paginated users without password digests.
func (r *PgUserRepository) List(ctx context.Context, page, perPage int) ([]UserListItem, int, error) {
	if page <= 0 || perPage <= 0 {
		return nil, 0, errors.New("invalid pagination")
	}
	const countQ = `SELECT COUNT(*) FROM users`
	var total int
	if err := r.db.QueryRow(ctx, countQ).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `
SELECT id, email, first_name, last_name, role, school, county, is_active, created_at
FROM users
ORDER BY created_at, id
LIMIT $1 OFFSET $2
`, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := make([]UserListItem, 0, perPage)
	for rows.Next() {
		var u UserListItem
		var role string
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &role,
			&u.School, &u.County, &u.Active, &u.CreatedAt); err != nil {
			return nil, 0, err
		}
		parsed, err := ParseRole(role)
		if err != nil {
			return nil, 0, err
		}
		u.Role = parsed
		items = append(items, u)
	}
	return items, total, rows.Err()
}

func (r *PgUserRepository) UpdateRole(ctx context.Context, id uuid.UUID, role Role) error {
	const q = `UPDATE users SET role=$1 WHERE id=$2`
	tag, err := r.db.Exec(ctx, q, string(role), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PgUserRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	const q = `UPDATE users SET is_active=$1 WHERE id=$2`
	tag, err := r.db.Exec(ctx, q, active, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PgUserRepository) HasSuperAdmin(ctx context.Context) (bool, error) {
	const q = `SELECT 1 FROM users WHERE role=$1 LIMIT 1`
	var one int
	if err := r.db.QueryRow(ctx, q, string(RoleSuperAdmin)).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
