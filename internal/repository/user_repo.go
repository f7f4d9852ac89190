package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"account-api/internal/domain"
)

// ErrDuplicateEmail indica que el email ya está registrado.
var ErrDuplicateEmail = errors.New("email already registered")

// UserRepository define el contrato de persistencia para usuarios.
// Los emails se guardan y buscan normalizados en minúsculas.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	// ConsumeVerificationToken marca el email como verificado y limpia el
	// código en un único UPDATE condicional. Un código desconocido, ya
	// consumido o expirado devuelve pgx.ErrNoRows, sin distinción.
	ConsumeVerificationToken(ctx context.Context, code string, now time.Time) (domain.User, error)
	SetResetToken(ctx context.Context, id, token string, expiresAt time.Time) error
	// ConsumeResetToken reemplaza el hash de la contraseña y limpia el token
	// de reset en un único UPDATE condicional.
	ConsumeResetToken(ctx context.Context, token, passwordHash string, now time.Time) (domain.User, error)
	UpdateProfilePicture(ctx context.Context, id, filename string) error
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool *pgxpool.Pool
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

const userColumns = `
	id, email, name, password_hash, is_verified,
	COALESCE(verification_token, ''), verification_expires_at,
	COALESCE(reset_token, ''), reset_expires_at,
	COALESCE(profile_picture, ''), last_login, created_at
`

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.PasswordHash,
		&u.IsVerified,
		&u.VerificationToken,
		&u.VerificationExpiresAt,
		&u.ResetToken,
		&u.ResetExpiresAt,
		&u.ProfilePicture,
		&u.LastLogin,
		&u.CreatedAt,
	)
	return u, err
}

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) error {
	const query = `
		INSERT INTO users (
			id, email, name, password_hash, is_verified,
			verification_token, verification_expires_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.IsVerified,
		user.VerificationToken,
		user.VerificationExpiresAt,
		user.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateEmail
	}
	return err
}

func (r *PgUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

func (r *PgUserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE users SET last_login = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgUserRepository) ConsumeVerificationToken(ctx context.Context, code string, now time.Time) (domain.User, error) {
	const query = `
		UPDATE users
		SET is_verified = TRUE, verification_token = NULL, verification_expires_at = NULL
		WHERE verification_token = $1 AND verification_expires_at > $2
		RETURNING ` + userColumns
	return scanUser(r.pool.QueryRow(ctx, query, code, now))
}

func (r *PgUserRepository) SetResetToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	const query = `UPDATE users SET reset_token = $2, reset_expires_at = $3 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, token, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgUserRepository) ConsumeResetToken(ctx context.Context, token, passwordHash string, now time.Time) (domain.User, error) {
	const query = `
		UPDATE users
		SET password_hash = $2, reset_token = NULL, reset_expires_at = NULL
		WHERE reset_token = $1 AND reset_expires_at > $3
		RETURNING ` + userColumns
	return scanUser(r.pool.QueryRow(ctx, query, token, passwordHash, now))
}

func (r *PgUserRepository) UpdateProfilePicture(ctx context.Context, id, filename string) error {
	const query = `UPDATE users SET profile_picture = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, filename)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
