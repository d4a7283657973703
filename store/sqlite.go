package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"todoshare/models"
)

const DefaultSQLitePath = "todoshare.db"

// SQLite is the gorm-backed store used for local development and tests.
type SQLite struct {
	db *gorm.DB
}

// OpenSQLite opens a SQLite database and runs migrations.
func OpenSQLite(dsn string) (*SQLite, error) {
	if dsn == "" {
		dsn = DefaultSQLitePath
	}

	if err := ensureDirForSQLite(dsn); err != nil {
		return nil, err
	}

	dbLogger := logger.New(
		slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(sqliteDSN(dsn)), &gorm.Config{
		Logger:         dbLogger,
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.AutoMigrate(&models.User{}, &models.Task{}, &models.Grant{}); err != nil {
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	return &SQLite{db: db}, nil
}

// ensureDirForSQLite creates parent dir for SQLite file if needed.
func ensureDirForSQLite(dsn string) error {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	clean := strings.TrimPrefix(dsn, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir %q: %w", dir, err)
	}
	return nil
}

// sqliteDSN turns on foreign key enforcement, which SQLite leaves off per
// connection unless asked, and makes every transaction take the write lock
// at BEGIN. A deferred transaction that reads and then writes gets
// SQLITE_BUSY without waiting when another writer got there first.
func sqliteDSN(dsn string) string {
	params := []struct{ key, value string }{
		{"_foreign_keys", "on"},
		{"_txlock", "immediate"},
		{"_busy_timeout", "5000"},
	}
	for _, p := range params {
		if p.key == "_foreign_keys" && strings.Contains(dsn, "_fk=") {
			continue
		}
		if strings.Contains(dsn, p.key+"=") {
			continue
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + p.key + "=" + p.value
	}
	return dsn
}

func isSQLiteUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func orderGrants(db *gorm.DB) *gorm.DB {
	return db.Order("id ASC")
}

func ensurePermissions(task *models.Task) {
	if task.Permissions == nil {
		task.Permissions = []models.Grant{}
	}
}

func (s *SQLite) CreateUser(ctx context.Context, username, passwordHash string) (models.User, error) {
	user := models.User{Username: username, PasswordHash: passwordHash}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isSQLiteUniqueViolation(err) {
			return models.User{}, ErrConflict
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *SQLite) UserByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return models.User{}, ErrNotFound
	default:
		return models.User{}, fmt.Errorf("find user: %w", err)
	}
}

func (s *SQLite) ResolveUsernames(ctx context.Context, usernames []string) (map[string]int64, error) {
	resolved := make(map[string]int64, len(usernames))
	if len(usernames) == 0 {
		return resolved, nil
	}

	var users []models.User
	if err := s.db.WithContext(ctx).Where("username IN ?", uniqueUsernames(usernames)).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("resolve usernames: %w", err)
	}
	for _, u := range users {
		resolved[u.Username] = u.ID
	}
	return resolved, nil
}

func (s *SQLite) CreateTask(ctx context.Context, task *models.Task) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		grants := task.Permissions
		if err := tx.Omit(clause.Associations).Create(task).Error; err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		inserted, err := insertGrantsGorm(tx, task.ID, grants)
		if err != nil {
			return err
		}
		task.Permissions = inserted
		return nil
	})
}

func insertGrantsGorm(tx *gorm.DB, taskID int64, grants []models.Grant) ([]models.Grant, error) {
	out := make([]models.Grant, len(grants))
	for i, g := range grants {
		out[i] = models.Grant{TaskID: taskID, UserID: g.UserID, Permission: g.Permission}
	}
	if len(out) == 0 {
		return out, nil
	}
	if err := tx.Omit(clause.Associations).Create(&out).Error; err != nil {
		return nil, fmt.Errorf("insert grants: %w", err)
	}
	return out, nil
}

func (s *SQLite) loadTask(tx *gorm.DB, id int64) (models.Task, error) {
	var task models.Task
	err := tx.Preload("Permissions", orderGrants).First(&task, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Task{}, ErrNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("find task: %w", err)
	}
	ensurePermissions(&task)
	return task, nil
}

func (s *SQLite) TaskByID(ctx context.Context, id int64) (models.Task, error) {
	return s.loadTask(s.db.WithContext(ctx), id)
}

func (s *SQLite) ListTasksFor(ctx context.Context, userID int64) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.WithContext(ctx).
		Preload("Permissions", orderGrants).
		Where("owner_id = ? OR EXISTS (SELECT 1 FROM task_permissions p WHERE p.task_id = todos.id AND p.user_id = ?)", userID, userID).
		Order("id ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	for i := range tasks {
		ensurePermissions(&tasks[i])
	}
	return tasks, nil
}

func (s *SQLite) UpdateTask(ctx context.Context, id int64, fn UpdateFunc) (models.Task, error) {
	var updated models.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := s.loadTask(tx, id)
		if err != nil {
			return err
		}

		grants, replace, err := fn(&task)
		if err != nil {
			return err
		}

		err = tx.Model(&models.Task{}).Where("id = ?", task.ID).Updates(map[string]any{
			"title":       task.Title,
			"description": task.Description,
			"done":        task.Done,
			"updated_at":  task.UpdatedAt,
		}).Error
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}

		if replace {
			if err := tx.Where("task_id = ?", task.ID).Delete(&models.Grant{}).Error; err != nil {
				return fmt.Errorf("delete grants: %w", err)
			}
			inserted, err := insertGrantsGorm(tx, task.ID, grants)
			if err != nil {
				return err
			}
			task.Permissions = inserted
		}

		updated = task
		return nil
	})
	if err != nil {
		return models.Task{}, err
	}
	return updated, nil
}

func (s *SQLite) DeleteTask(ctx context.Context, id int64, fn DeleteFunc) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := s.loadTask(tx, id)
		if err != nil {
			return err
		}
		if err := fn(task); err != nil {
			return err
		}
		if err := tx.Where("task_id = ?", task.ID).Delete(&models.Grant{}).Error; err != nil {
			return fmt.Errorf("delete grants: %w", err)
		}
		if err := tx.Delete(&models.Task{}, task.ID).Error; err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		return nil
	})
}

func (s *SQLite) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
