package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/decodestudio/decodeauth/internal/auth"
)

var errUserNotFound = errors.New("user not found")

// DB interface for identity storage. Lookups return (nil, nil) when the user
// does not exist. CreateUser and UpdateUser return auth.ErrDuplicateIdentity
// when the email is already taken; the storage constraint is the only
// duplicate check.
type DB interface {
	Init(ctx context.Context) error
	CreateUser(ctx context.Context, u *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error)
	DeleteUser(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// prepareNew fills the fields every adapter assigns on insert.
func prepareNew(u *User) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = auth.RoleUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	u.Email = auth.NormalizeEmail(u.Email)
}

// Memory DB
type MemDB struct {
	mu      sync.RWMutex
	users   map[string]*User // by id
	byEmail map[string]string
}

func NewMemoryDB() *MemDB {
	return &MemDB{users: map[string]*User{}, byEmail: map[string]string{}}
}

func (m *MemDB) Init(context.Context) error { return nil }

func (m *MemDB) CreateUser(_ context.Context, u *User) error {
	prepareNew(u)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return auth.ErrDuplicateIdentity
	}
	c := *u
	m.users[u.ID] = &c
	m.byEmail[u.Email] = u.ID
	return nil
}

func (m *MemDB) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[auth.NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	c := *m.users[id]
	return &c, nil
}

func (m *MemDB) GetUserByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (m *MemDB) ListUsers(context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		c := *u
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Email < out[j].Email
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemDB) UpdateUser(_ context.Context, id string, upd UserUpdate) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, errUserNotFound
	}
	next := *u
	next.apply(upd)
	next.Email = auth.NormalizeEmail(next.Email)
	if next.Email != u.Email {
		if _, taken := m.byEmail[next.Email]; taken {
			return nil, auth.ErrDuplicateIdentity
		}
		delete(m.byEmail, u.Email)
		m.byEmail[next.Email] = id
	}
	m.users[id] = &next
	c := next
	return &c, nil
}

func (m *MemDB) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return errUserNotFound
	}
	delete(m.byEmail, u.Email)
	delete(m.users, id)
	return nil
}

func (m *MemDB) Ping(context.Context) error { return nil }
func (m *MemDB) Close() error               { return nil }

// SQLite DB
type SQLiteDB struct {
	db      *sql.DB
	path    string
	timeout time.Duration
}

func NewSQLiteDB(ctx context.Context, path string, timeout time.Duration) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps writes serialized and :memory: databases shared
	d.SetMaxOpenConns(1)
	s := &SQLiteDB{db: d, path: path, timeout: timeout}
	if err := s.Init(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) Init(ctx context.Context) error {
	queries := []string{
		`PRAGMA busy_timeout = 5000;`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user','admin')),
			created_at TEXT NOT NULL
		);`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteDB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE"))
}

const sqliteUserColumns = `id,name,email,password,role,created_at`

func scanSQLiteUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var role, created string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &created); err != nil {
		return nil, err
	}
	u.Role = auth.Role(role)
	t, err := time.Parse(time.RFC3339, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	u.CreatedAt = t
	return &u, nil
}

func (s *SQLiteDB) CreateUser(ctx context.Context, u *User) error {
	prepareNew(u)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `INSERT INTO users(`+sqliteUserColumns+`) VALUES(?,?,?,?,?,?)`,
		u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), u.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return auth.ErrDuplicateIdentity
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLiteDB) getUser(ctx context.Context, where string, arg any) (*User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	u, err := scanSQLiteUser(s.db.QueryRowContext(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE `+where+` = ?`, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

func (s *SQLiteDB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "email", auth.NormalizeEmail(email))
}

func (s *SQLiteDB) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *SQLiteDB) ListUsers(ctx context.Context) ([]*User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteUserColumns+` FROM users ORDER BY created_at DESC, email`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var users []*User
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteDB) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	u, err := s.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errUserNotFound
	}
	u.apply(upd)
	u.Email = auth.NormalizeEmail(u.Email)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `UPDATE users SET name = ?, email = ?, role = ? WHERE id = ?`, u.Name, u.Email, string(u.Role), id)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, auth.ErrDuplicateIdentity
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errUserNotFound
	}
	return u, nil
}

func (s *SQLiteDB) DeleteUser(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errUserNotFound
	}
	return nil
}

func (s *SQLiteDB) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLiteDB) Close() error                   { return s.db.Close() }
