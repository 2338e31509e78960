// Package testutil builds throwaway databases and fixtures for tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"circulation/internal/database"
	"circulation/internal/models"
)

// NewDB opens a private in-memory SQLite database with the full schema.
// One connection keeps every statement on the same memory database and
// serialises writers the way row locks would.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := database.Open(database.Options{
		Driver:       database.DriverSQLite,
		DSN:          dsn,
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func CreateUser(t testing.TB, db *gorm.DB, name string, role models.Role) *models.User {
	t.Helper()
	u := &models.User{
		Name:  name,
		Email: fmt.Sprintf("%s-%s@campus.test", name, uuid.NewString()[:8]),
		Role:  role,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func CreateStudent(t testing.TB, db *gorm.DB, name string) *models.User {
	return CreateUser(t, db, name, models.RoleStudent)
}

func CreateAdmin(t testing.TB, db *gorm.DB, name string) *models.User {
	return CreateUser(t, db, name, models.RoleAdministrator)
}

// CreateBook inserts a book with every copy available.
func CreateBook(t testing.TB, db *gorm.DB, title string, copies int) *models.Book {
	t.Helper()
	b := &models.Book{
		Title:           title,
		Author:          "Author of " + title,
		ISBN:            "978-" + uuid.NewString()[:13],
		TotalCopies:     copies,
		AvailableCopies: copies,
	}
	require.NoError(t, db.Create(b).Error)
	return b
}

// ReloadBook reads the book's current counters.
func ReloadBook(t testing.TB, db *gorm.DB, id uuid.UUID) *models.Book {
	t.Helper()
	var b models.Book
	require.NoError(t, db.First(&b, "id = ?", id).Error)
	return &b
}

// Principal returns the caller identity of u.
func Principal(u *models.User) models.Principal {
	return models.Principal{SubjectID: u.ID, Role: u.Role}
}
