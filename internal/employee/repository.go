package employee

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"usersync/pkg/models"
	"usersync/pkg/postgres"
)

var (
	ErrNotFound      = errors.New("employee not found")
	ErrDuplicateUser = errors.New("employee already exists for user")
)

// Repository is the lookup/insert interface the event consumer relies on.
type Repository interface {
	// FindByUserID returns nil, nil when no employee exists for userID.
	FindByUserID(ctx context.Context, userID string) (*models.Employee, error)
	// Insert stores e. A second record for the same user fails with
	// ErrDuplicateUser.
	Insert(ctx context.Context, e models.Employee) (models.Employee, error)
}

// SQLRepository stores employees in PostgreSQL.
type SQLRepository struct {
	DB *sql.DB
}

// NewSQLRepository creates a Postgres-backed employee Repository.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{DB: db}
}

const employeeColumns = "id, user_id, name, email, position, created_at"

// FindByUserID returns nil, nil when the user has no employee yet.
func (r *SQLRepository) FindByUserID(ctx context.Context, userID string) (*models.Employee, error) {
	e, err := scanEmployee(r.DB.QueryRowContext(ctx,
		"SELECT "+employeeColumns+" FROM employees WHERE user_id = $1", userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find employee by user id: %w", err)
	}
	return &e, nil
}

// Insert stores e. A second employee for the same user fails with
// ErrDuplicateUser.
func (r *SQLRepository) Insert(ctx context.Context, e models.Employee) (models.Employee, error) {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO employees (id, user_id, name, email, position, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		e.ID, e.UserID, e.Name, e.Email, e.Position, e.CreatedAt,
	)
	if postgres.IsUniqueViolation(err) {
		return models.Employee{}, fmt.Errorf("%w: user_id=%s", ErrDuplicateUser, e.UserID)
	}
	if err != nil {
		return models.Employee{}, fmt.Errorf("insert employee: %w", err)
	}
	return e, nil
}

func (r *SQLRepository) GetByID(ctx context.Context, id string) (models.Employee, error) {
	e, err := scanEmployee(r.DB.QueryRowContext(ctx,
		"SELECT "+employeeColumns+" FROM employees WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Employee{}, ErrNotFound
	}
	if err != nil {
		return models.Employee{}, fmt.Errorf("get employee: %w", err)
	}
	return e, nil
}

// List returns employees newest first.
func (r *SQLRepository) List(ctx context.Context, limit, offset int) ([]models.Employee, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+employeeColumns+" FROM employees ORDER BY created_at DESC LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()

	employees := []models.Employee{}
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// UserIDs returns the set of user ids that already have an employee record.
func (r *SQLRepository) UserIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT user_id FROM employees")
	if err != nil {
		return nil, fmt.Errorf("list employee user ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmployee(row rowScanner) (models.Employee, error) {
	var e models.Employee
	err := row.Scan(&e.ID, &e.UserID, &e.Name, &e.Email, &e.Position, &e.CreatedAt)
	return e, err
}
