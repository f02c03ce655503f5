// Package pg is the pgx-backed UserStore. The user row and its metadata
// are written in one transaction so the partial unique index on
// sso_mapping_id makes provisioning create-if-absent.
package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/avoinelab/ssobridge/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn and pings the database.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) CreateUser(ctx context.Context, nu *store.NewUser) (*store.User, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pg: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	u := &store.User{
		Login:       nu.Login,
		Email:       nu.Email,
		FirstName:   nu.FirstName,
		LastName:    nu.LastName,
		DisplayName: nu.DisplayName,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO sso_user (user_login, user_email, first_name, last_name, display_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, nu.Login, nu.Email, nu.FirstName, nu.LastName, nu.DisplayName).Scan(&u.ID)
	if err != nil {
		return nil, mapErr("insert user", err)
	}

	for k, v := range nu.Meta {
		if _, err := tx.Exec(ctx, `
			INSERT INTO sso_user_meta (user_id, meta_key, meta_value)
			VALUES ($1, $2, $3)
		`, u.ID, k, v); err != nil {
			return nil, mapErr("insert meta", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapErr("commit", err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	u := &store.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_login, user_email, first_name, last_name, display_name
		FROM sso_user WHERE id = $1
	`, id).Scan(&u.ID, &u.Login, &u.Email, &u.FirstName, &u.LastName, &u.DisplayName)
	if err != nil {
		return nil, mapErr("select user", err)
	}
	return u, nil
}

func (s *Store) GetUserByLogin(ctx context.Context, login string) (*store.User, error) {
	if login == "" {
		return nil, store.ErrNotFound
	}
	u := &store.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_login, user_email, first_name, last_name, display_name
		FROM sso_user WHERE user_login = $1
	`, login).Scan(&u.ID, &u.Login, &u.Email, &u.FirstName, &u.LastName, &u.DisplayName)
	if err != nil {
		return nil, mapErr("select by login", err)
	}
	return u, nil
}

func (s *Store) GetUserByMeta(ctx context.Context, key, value string) (*store.User, error) {
	if value == "" {
		return nil, store.ErrNotFound
	}
	u := &store.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT u.id, u.user_login, u.user_email, u.first_name, u.last_name, u.display_name
		FROM sso_user u
		JOIN sso_user_meta m ON m.user_id = u.id
		WHERE m.meta_key = $1 AND m.meta_value = $2
		LIMIT 1
	`, key, value).Scan(&u.ID, &u.Login, &u.Email, &u.FirstName, &u.LastName, &u.DisplayName)
	if err != nil {
		return nil, mapErr("select by meta", err)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd store.UserUpdate) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sso_user SET
			user_email   = COALESCE($2, user_email),
			first_name   = COALESCE($3, first_name),
			last_name    = COALESCE($4, last_name),
			display_name = COALESCE($5, display_name),
			updated_at   = now()
		WHERE id = $1
	`, id, upd.Email, upd.FirstName, upd.LastName, upd.DisplayName)
	if err != nil {
		return mapErr("update user", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetMeta(ctx context.Context, userID, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sso_user_meta (user_id, meta_key, meta_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value
	`, userID, key, value)
	if err != nil {
		return mapErr("upsert meta", err)
	}
	return nil
}

func (s *Store) GetMeta(ctx context.Context, userID, key string) (string, error) {
	var v string
	err := s.pool.QueryRow(ctx, `
		SELECT meta_value FROM sso_user_meta WHERE user_id = $1 AND meta_key = $2
	`, userID, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("pg: select meta: %w", err)
	}
	return v, nil
}

// mapErr translates pg-level failures to the store's sentinel errors.
func mapErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
	}
	return fmt.Errorf("pg: %s: %w", op, err)
}
