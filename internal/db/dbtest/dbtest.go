// Package dbtest opens throwaway databases and seeds fixtures for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/balkashynov/wrokhub/internal/config"
	"github.com/balkashynov/wrokhub/internal/db"
	"github.com/balkashynov/wrokhub/internal/models"
)

// Open returns a migrated SQLite database in t's temp dir, closed on cleanup.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	conn, err := db.Open(config.Database{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "wrokhub_test.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })
	return conn
}

// User creates a user with the given role.
func User(t testing.TB, conn *gorm.DB, username string, role models.Role) *models.User {
	t.Helper()
	u := &models.User{Username: username, Email: username + "@example.com", Role: role, Avatar: "/avatars/" + username + ".png"}
	require.NoError(t, db.CreateUser(conn, u))
	return u
}

// Task creates a todo task owned by creator and assigned to assignees.
func Task(t testing.TB, conn *gorm.DB, creator *models.User, title string, assignees ...*models.User) *models.Task {
	t.Helper()
	ids := make([]uint, 0, len(assignees))
	for _, a := range assignees {
		ids = append(ids, a.ID)
	}
	task, err := db.CreateTask(conn, db.CreateTaskRequest{
		Title:       title,
		Description: title + " description",
		CreatedByID: creator.ID,
		AssigneeIDs: ids,
	})
	require.NoError(t, err)
	return task
}

// Reload reads the task back from storage.
func Reload(t testing.TB, conn *gorm.DB, id uint) *models.Task {
	t.Helper()
	task, err := db.GetTaskByID(conn, id)
	require.NoError(t, err)
	return task
}
