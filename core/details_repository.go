package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserDetails is the profile row of a user. Nil fields are NULL.
type UserDetails struct {
	UserID      int64
	FirstName   *string
	LastName    *string
	MiddleName  *string
	Email       *string
	DateOfBirth *time.Time
	PhoneNumber *string
	PhotoURL    *string
}

// DetailsRepository defines persistence operations for user details.
type DetailsRepository interface {
	GetDetails(ctx context.Context, userID int64) (*UserDetails, error)
	// UpsertDetails writes every field except PhotoURL.
	UpsertDetails(ctx context.Context, d UserDetails) (*UserDetails, error)
	DeleteDetails(ctx context.Context, userID int64) error
	// SetPhotoURL creates the details row when missing.
	SetPhotoURL(ctx context.Context, userID int64, url string) error
	ClearPhotoURL(ctx context.Context, userID int64) error
}

// PgDetailsRepository implements DetailsRepository using pgxpool.
type PgDetailsRepository struct {
	db *pgxpool.Pool
}

func NewPgDetailsRepository(db *pgxpool.Pool) *PgDetailsRepository {
	return &PgDetailsRepository{db: db}
}

const detailsColumns = `user_id, first_name, last_name, middle_name, email, date_of_birth, phone_number, photo_url`

func scanDetails(row pgx.Row) (*UserDetails, error) {
	var d UserDetails
	if err := row.Scan(&d.UserID, &d.FirstName, &d.LastName, &d.MiddleName, &d.Email, &d.DateOfBirth, &d.PhoneNumber, &d.PhotoURL); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PgDetailsRepository) GetDetails(ctx context.Context, userID int64) (*UserDetails, error) {
	d, err := scanDetails(r.db.QueryRow(ctx, `SELECT `+detailsColumns+` FROM user_details WHERE user_id=$1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDetailsNotFound
		}
		return nil, err
	}
	return d, nil
}

func (r *PgDetailsRepository) UpsertDetails(ctx context.Context, d UserDetails) (*UserDetails, error) {
	const q = `
INSERT INTO user_details (user_id, first_name, last_name, middle_name, email, date_of_birth, phone_number)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (user_id) DO UPDATE SET
    first_name = EXCLUDED.first_name,
    last_name = EXCLUDED.last_name,
    middle_name = EXCLUDED.middle_name,
    email = EXCLUDED.email,
    date_of_birth = EXCLUDED.date_of_birth,
    phone_number = EXCLUDED.phone_number
RETURNING ` + detailsColumns
	saved, err := scanDetails(r.db.QueryRow(ctx, q, d.UserID, d.FirstName, d.LastName, d.MiddleName, d.Email, d.DateOfBirth, d.PhoneNumber))
	if err != nil {
		return nil, mapDetailsWriteError(err)
	}
	return saved, nil
}

// DeleteDetails is idempotent.
func (r *PgDetailsRepository) DeleteDetails(ctx context.Context, userID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM user_details WHERE user_id=$1`, userID)
	return err
}

func (r *PgDetailsRepository) SetPhotoURL(ctx context.Context, userID int64, url string) error {
	const q = `
INSERT INTO user_details (user_id, photo_url) VALUES ($1,$2)
ON CONFLICT (user_id) DO UPDATE SET photo_url = EXCLUDED.photo_url`
	if _, err := r.db.Exec(ctx, q, userID, url); err != nil {
		return mapDetailsWriteError(err)
	}
	return nil
}

func (r *PgDetailsRepository) ClearPhotoURL(ctx context.Context, userID int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE user_details SET photo_url=NULL WHERE user_id=$1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDetailsNotFound
	}
	return nil
}

func mapDetailsWriteError(err error) error {
	switch code, constraint := pgErrorCode(err); {
	case code == pgUniqueViolation && constraint == "uk_user_details_email":
		return ErrDuplicateEmail
	case code == pgForeignKeyViolation:
		return ErrUserNotFound
	}
	return err
}
