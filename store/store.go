// Package store persists users, tasks and task grants.
//
// Two backends implement Store: Postgres (pgx) for deployments and SQLite
// (gorm) for local development and tests. Both run every multi-row change
// in a single transaction.
package store

import (
	"context"
	"errors"
	"strings"

	"todoshare/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// UpdateFunc receives the locked task with its full grant set. Changes it
// makes to Title, Description, Done and UpdatedAt are saved. When replace is
// true the task's grants are swapped for grants. A non-nil error aborts the
// transaction and is returned unchanged.
type UpdateFunc func(task *models.Task) (grants []models.Grant, replace bool, err error)

// DeleteFunc inspects the task before deletion. A non-nil error aborts it.
type DeleteFunc func(task models.Task) error

type Store interface {
	CreateUser(ctx context.Context, username, passwordHash string) (models.User, error)
	UserByUsername(ctx context.Context, username string) (models.User, error)
	// ResolveUsernames maps each existing username to its user id. Unknown
	// usernames are absent from the result.
	ResolveUsernames(ctx context.Context, usernames []string) (map[string]int64, error)

	// CreateTask inserts task and task.Permissions atomically and fills in
	// generated ids and timestamps.
	CreateTask(ctx context.Context, task *models.Task) error
	TaskByID(ctx context.Context, id int64) (models.Task, error)
	// ListTasksFor returns, ordered by id, every task userID owns or holds a
	// grant on, each with its full grant set.
	ListTasksFor(ctx context.Context, userID int64) ([]models.Task, error)
	UpdateTask(ctx context.Context, id int64, fn UpdateFunc) (models.Task, error)
	DeleteTask(ctx context.Context, id int64, fn DeleteFunc) error

	Ping(ctx context.Context) error
	Close() error
}

// Open picks a backend from the shape of dsn: postgres:// and postgresql://
// URLs use Postgres, anything else is a SQLite path.
func Open(ctx context.Context, dsn string) (Store, error) {
	if IsPostgresURL(dsn) {
		pg, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	lite, err := OpenSQLite(dsn)
	if err != nil {
		return nil, err
	}
	return lite, nil
}

func IsPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func uniqueUsernames(usernames []string) []string {
	seen := make(map[string]struct{}, len(usernames))
	out := make([]string, 0, len(usernames))
	for _, u := range usernames {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// groupGrants attaches grants to their tasks. Tasks without grants get an
// empty, non-nil list.
func groupGrants(tasks []models.Task, grants []models.Grant) {
	byTask := make(map[int64][]models.Grant, len(tasks))
	for _, g := range grants {
		byTask[g.TaskID] = append(byTask[g.TaskID], g)
	}
	for i := range tasks {
		tasks[i].Permissions = byTask[tasks[i].ID]
		if tasks[i].Permissions == nil {
			tasks[i].Permissions = []models.Grant{}
		}
	}
}
