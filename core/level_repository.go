package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrLevelNotFound is returned when an education level id does not exist.
var ErrLevelNotFound = errors.New("education level not found")

// EducationLevel is a curriculum tier (e.g., "Primary", "Junior Secondary")
// managed by elevated roles and readable by every authenticated user.
type EducationLevel struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	NameSwahili  string    `json:"name_swahili,omitempty"`
	Description  string    `json:"description,omitempty"`
	DisplayOrder int       `json:"display_order"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type LevelRepository interface {
	List(ctx context.Context, includeInactive bool) ([]EducationLevel, error)
	Get(ctx context.Context, id int64) (*EducationLevel, error)
	Create(ctx context.Context, name, nameSwahili, description string, displayOrder int) (*EducationLevel, error)
	Update(ctx context.Context, id int64, name, nameSwahili, description string, displayOrder int) (*EducationLevel, error)
	Deactivate(ctx context.Context, id int64) error
}

type PgLevelRepository struct {
	db *pgxpool.Pool
}

func NewPgLevelRepository(db *pgxpool.Pool) *PgLevelRepository {
	return &PgLevelRepository{db: db}
}

const levelColumns = `id, name, name_swahili, description, display_order, is_active, created_at, updated_at`

func scanLevel(row pgx.Row) (*EducationLevel, error) {
	var l EducationLevel
	err := row.Scan(&l.ID, &l.Name, &l.NameSwahili, &l.Description, &l.DisplayOrder,
		&l.Active, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLevelNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (r *PgLevelRepository) List(ctx context.Context, includeInactive bool) ([]EducationLevel, error) {
	q := `SELECT ` + levelColumns + ` FROM education_levels`
	if !includeInactive {
		q += ` WHERE is_active`
	}
	q += ` ORDER BY display_order, id`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]EducationLevel, 0, 8)
	for rows.Next() {
		var l EducationLevel
		if err := rows.Scan(&l.ID, &l.Name, &l.NameSwahili, &l.Description, &l.DisplayOrder,
			&l.Active, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

func (r *PgLevelRepository) Get(ctx context.Context, id int64) (*EducationLevel, error) {
	const q = `SELECT ` + levelColumns + ` FROM education_levels WHERE id=$1`
	return scanLevel(r.db.QueryRow(ctx, q, id))
}

func (r *PgLevelRepository) Create(ctx context.Context, name, nameSwahili, description string, displayOrder int) (*EducationLevel, error) {
	const q = `
INSERT INTO education_levels (name, name_swahili, description, display_order, is_active)
VALUES ($1,$2,$3,$4,TRUE)
RETURNING ` + levelColumns
	return scanLevel(r.db.QueryRow(ctx, q, strings.TrimSpace(name), strings.TrimSpace(nameSwahili),
		strings.TrimSpace(description), displayOrder))
}

func (r *PgLevelRepository) Update(ctx context.Context, id int64, name, nameSwahili, description string, displayOrder int) (*EducationLevel, error) {
	const q = `
UPDATE education_levels
SET name=$1, name_swahili=$2, description=$3, display_order=$4, updated_at=NOW()
WHERE id=$5
RETURNING ` + levelColumns
	return scanLevel(r.db.QueryRow(ctx, q, strings.TrimSpace(name), strings.TrimSpace(nameSwahili),
		strings.TrimSpace(description), displayOrder, id))
}

// Deactivate soft-deletes a level so historical references stay valid.
func (r *PgLevelRepository) Deactivate(ctx context.Context, id int64) error {
	const q = `UPDATE education_levels SET is_active=FALSE, updated_at=NOW() WHERE id=$1`
	tag, err := r.db.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLevelNotFound
	}
	return nil
}
