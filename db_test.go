package main

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decodestudio/decodeauth/internal/auth"
)

func newSQLiteTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(context.Background(), filepath.Join(t.TempDir(), "auth.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// testUserStore runs the same contract against every adapter.
func testUserStore(t *testing.T, db DB) {
	ctx := context.Background()

	u := &User{Name: "Ann", Email: " Ann@X.com ", PasswordHash: "$2a$04$hash"}
	require.NoError(t, db.CreateUser(ctx, u))
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "ann@x.com", u.Email)
	assert.Equal(t, auth.RoleUser, u.Role)
	assert.False(t, u.CreatedAt.IsZero())

	err := db.CreateUser(ctx, &User{Name: "Dup", Email: "ANN@x.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, auth.ErrDuplicateIdentity)

	got, err := db.GetUserByEmail(ctx, "ann@X.COM")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "$2a$04$hash", got.PasswordHash)
	assert.True(t, u.CreatedAt.Equal(got.CreatedAt))

	got, err = db.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ann", got.Name)

	missing, err := db.GetUserByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
	missing, err = db.GetUserByEmail(ctx, "nope@x.com")
	require.NoError(t, err)
	assert.Nil(t, missing)

	bob := &User{Name: "Bob", Email: "bob@x.com", PasswordHash: "h", Role: auth.RoleAdmin}
	require.NoError(t, db.CreateUser(ctx, bob))

	users, err := db.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)

	role := auth.RoleAdmin
	name := "Annie"
	updated, err := db.UpdateUser(ctx, u.ID, UserUpdate{Name: &name, Role: &role})
	require.NoError(t, err)
	assert.Equal(t, "Annie", updated.Name)
	assert.Equal(t, auth.RoleAdmin, updated.Role)
	assert.Equal(t, "ann@x.com", updated.Email)

	taken := "bob@x.com"
	_, err = db.UpdateUser(ctx, u.ID, UserUpdate{Email: &taken})
	assert.ErrorIs(t, err, auth.ErrDuplicateIdentity)

	fresh := "ann@y.com"
	_, err = db.UpdateUser(ctx, u.ID, UserUpdate{Email: &fresh})
	require.NoError(t, err)
	got, err = db.GetUserByEmail(ctx, "ann@y.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	// the old address is free again
	require.NoError(t, db.CreateUser(ctx, &User{Name: "New", Email: "ann@x.com", PasswordHash: "h"}))

	_, err = db.UpdateUser(ctx, "nope", UserUpdate{Name: &name})
	assert.ErrorIs(t, err, errUserNotFound)

	require.NoError(t, db.DeleteUser(ctx, bob.ID))
	assert.ErrorIs(t, db.DeleteUser(ctx, bob.ID), errUserNotFound)
	got, err = db.GetUserByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, db.Ping(ctx))
}

func TestMemDB(t *testing.T) {
	testUserStore(t, NewMemoryDB())
}

func TestSQLiteDB(t *testing.T) {
	testUserStore(t, newSQLiteTestDB(t))
}

func TestSQLiteDB_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "auth.db")

	db, err := NewSQLiteDB(ctx, path, time.Second)
	require.NoError(t, err)
	u := &User{Name: "Ann", Email: "ann@x.com", PasswordHash: "h"}
	require.NoError(t, db.CreateUser(ctx, u))
	require.NoError(t, db.Close())

	db, err = NewSQLiteDB(ctx, path, time.Second)
	require.NoError(t, err)
	defer db.Close()
	got, err := db.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ann@x.com", got.Email)
}

func TestConcurrentRegistrationSameEmail(t *testing.T) {
	for name, db := range map[string]DB{"memory": NewMemoryDB(), "sqlite": newSQLiteTestDB(t)} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const n = 8
			var wg sync.WaitGroup
			errs := make([]error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs[i] = db.CreateUser(ctx, &User{Name: "Racer", Email: "race@x.com", PasswordHash: "h"})
				}(i)
			}
			wg.Wait()

			var ok int
			for _, err := range errs {
				if err == nil {
					ok++
					continue
				}
				assert.ErrorIs(t, err, auth.ErrDuplicateIdentity)
			}
			assert.Equal(t, 1, ok)
		})
	}
}
