package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/decodestudio/decodeauth/internal/auth"
)

const pqUniqueViolation = "23505"

type PostgresDB struct {
	db      *sql.DB
	dsn     string
	timeout time.Duration
}

func NewPostgresDB(ctx context.Context, dsn string, timeout time.Duration) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{db: d, dsn: dsn, timeout: timeout}
	if err := p.Init(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Init(ctx context.Context) error {
	// rely on migrations to create tables; just verify connectivity
	return p.db.PingContext(ctx)
}

func (p *PostgresDB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

func isPQUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

const pgUserColumns = `id,name,email,password,role,created_at`

func scanPGUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = auth.Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func (p *PostgresDB) CreateUser(ctx context.Context, u *User) error {
	prepareNew(u)
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	_, err := p.db.ExecContext(ctx, `INSERT INTO users(`+pgUserColumns+`) VALUES($1,$2,$3,$4,$5,$6)`,
		u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), u.CreatedAt)
	if err != nil {
		if isPQUniqueViolation(err) {
			return auth.ErrDuplicateIdentity
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (p *PostgresDB) getUser(ctx context.Context, where string, arg any) (*User, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	u, err := scanPGUser(p.db.QueryRowContext(ctx, `SELECT `+pgUserColumns+` FROM users WHERE `+where+` = $1`, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

func (p *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return p.getUser(ctx, "email", auth.NormalizeEmail(email))
}

func (p *PostgresDB) GetUserByID(ctx context.Context, id string) (*User, error) {
	return p.getUser(ctx, "id", id)
}

func (p *PostgresDB) ListUsers(ctx context.Context) ([]*User, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	rows, err := p.db.QueryContext(ctx, `SELECT `+pgUserColumns+` FROM users ORDER BY created_at DESC, email`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var users []*User
	for rows.Next() {
		u, err := scanPGUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *PostgresDB) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	var email *string
	if upd.Email != nil {
		e := auth.NormalizeEmail(*upd.Email)
		email = &e
	}
	var role *string
	if upd.Role != nil {
		r := string(*upd.Role)
		role = &r
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	u, err := scanPGUser(p.db.QueryRowContext(ctx, `UPDATE users SET
			name = COALESCE($2, name),
			email = COALESCE($3, email),
			role = COALESCE($4, role)
		WHERE id = $1 RETURNING `+pgUserColumns, id, upd.Name, email, role))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errUserNotFound
		}
		if isPQUniqueViolation(err) {
			return nil, auth.ErrDuplicateIdentity
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}

func (p *PostgresDB) DeleteUser(ctx context.Context, id string) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	res, err := p.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errUserNotFound
	}
	return nil
}

func (p *PostgresDB) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
func (p *PostgresDB) Close() error                   { return p.db.Close() }
