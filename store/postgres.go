package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"todoshare/models"
	"todoshare/utils"
)

// Postgres is the pgx-backed store.
type Postgres struct {
	pool *pgxpool.Pool
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OpenPostgres connects, applies the schema and returns the store.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := utils.OpenDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := utils.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewPostgres(pool), nil
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const taskColumns = "id, title, description, done, owner_id, created_at, updated_at"

func scanTask(row pgx.Row) (models.Task, error) {
	var t models.Task
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Done, &t.OwnerID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return models.Task{}, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func (p *Postgres) CreateUser(ctx context.Context, username, passwordHash string) (models.User, error) {
	user := models.User{Username: username, PasswordHash: passwordHash}
	stmt := "INSERT INTO users (username, hashed_password) VALUES ($1, $2) RETURNING id"
	if err := p.pool.QueryRow(ctx, stmt, username, passwordHash).Scan(&user.ID); err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrConflict
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (p *Postgres) UserByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	stmt := "SELECT id, username, hashed_password FROM users WHERE username = $1"
	err := p.pool.QueryRow(ctx, stmt, username).Scan(&user.ID, &user.Username, &user.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

func (p *Postgres) ResolveUsernames(ctx context.Context, usernames []string) (map[string]int64, error) {
	resolved := make(map[string]int64, len(usernames))
	if len(usernames) == 0 {
		return resolved, nil
	}

	rows, err := p.pool.Query(ctx, "SELECT id, username FROM users WHERE username = ANY($1)", uniqueUsernames(usernames))
	if err != nil {
		return nil, fmt.Errorf("resolve usernames: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id       int64
			username string
		)
		if err := rows.Scan(&id, &username); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		resolved[username] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("resolve usernames: %w", err)
	}
	return resolved, nil
}

func (p *Postgres) CreateTask(ctx context.Context, task *models.Task) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}

	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		stmt := `INSERT INTO todos (title, description, done, owner_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
		err := tx.QueryRow(ctx, stmt, task.Title, task.Description, task.Done, task.OwnerID, task.CreatedAt, task.UpdatedAt).Scan(&task.ID)
		if err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		grants, err := insertGrants(ctx, tx, task.ID, task.Permissions)
		if err != nil {
			return err
		}
		task.Permissions = grants
		return nil
	})
}

func insertGrants(ctx context.Context, q querier, taskID int64, grants []models.Grant) ([]models.Grant, error) {
	out := make([]models.Grant, len(grants))
	stmt := "INSERT INTO task_permissions (task_id, user_id, permission) VALUES ($1, $2, $3) RETURNING id"
	for i, g := range grants {
		out[i] = models.Grant{TaskID: taskID, UserID: g.UserID, Permission: g.Permission}
		if err := q.QueryRow(ctx, stmt, taskID, g.UserID, string(g.Permission)).Scan(&out[i].ID); err != nil {
			return nil, fmt.Errorf("insert grant: %w", err)
		}
	}
	return out, nil
}

func loadGrants(ctx context.Context, q querier, taskIDs []int64) ([]models.Grant, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	rows, err := q.Query(ctx, "SELECT id, task_id, user_id, permission FROM task_permissions WHERE task_id = ANY($1) ORDER BY id", taskIDs)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	defer rows.Close()

	var grants []models.Grant
	for rows.Next() {
		var (
			g          models.Grant
			permission string
		)
		if err := rows.Scan(&g.ID, &g.TaskID, &g.UserID, &permission); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		g.Permission = models.Permission(permission)
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	return grants, nil
}

// loadTask reads one task and its grants. lock adds FOR UPDATE and must only
// be used inside a transaction.
func loadTask(ctx context.Context, q querier, id int64, lock bool) (models.Task, error) {
	stmt := "SELECT " + taskColumns + " FROM todos WHERE id = $1"
	if lock {
		stmt += " FOR UPDATE"
	}
	task, err := scanTask(q.QueryRow(ctx, stmt, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, ErrNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("find task: %w", err)
	}

	grants, err := loadGrants(ctx, q, []int64{task.ID})
	if err != nil {
		return models.Task{}, err
	}
	tasks := []models.Task{task}
	groupGrants(tasks, grants)
	return tasks[0], nil
}

func (p *Postgres) TaskByID(ctx context.Context, id int64) (models.Task, error) {
	return loadTask(ctx, p.pool, id, false)
}

func (p *Postgres) ListTasksFor(ctx context.Context, userID int64) ([]models.Task, error) {
	stmt := `SELECT ` + taskColumns + ` FROM todos t
		WHERE t.owner_id = $1
		   OR EXISTS (SELECT 1 FROM task_permissions p WHERE p.task_id = t.id AND p.user_id = $1)
		ORDER BY t.id`
	rows, err := p.pool.Query(ctx, stmt, userID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	ids := make([]int64, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	grants, err := loadGrants(ctx, p.pool, ids)
	if err != nil {
		return nil, err
	}
	groupGrants(tasks, grants)
	return tasks, nil
}

func (p *Postgres) UpdateTask(ctx context.Context, id int64, fn UpdateFunc) (models.Task, error) {
	var updated models.Task
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		task, err := loadTask(ctx, tx, id, true)
		if err != nil {
			return err
		}

		grants, replace, err := fn(&task)
		if err != nil {
			return err
		}

		stmt := "UPDATE todos SET title = $1, description = $2, done = $3, updated_at = $4 WHERE id = $5"
		if _, err := tx.Exec(ctx, stmt, task.Title, task.Description, task.Done, task.UpdatedAt, task.ID); err != nil {
			return fmt.Errorf("update task: %w", err)
		}

		if replace {
			if _, err := tx.Exec(ctx, "DELETE FROM task_permissions WHERE task_id = $1", task.ID); err != nil {
				return fmt.Errorf("delete grants: %w", err)
			}
			inserted, err := insertGrants(ctx, tx, task.ID, grants)
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

func (p *Postgres) DeleteTask(ctx context.Context, id int64, fn DeleteFunc) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		task, err := loadTask(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := fn(task); err != nil {
			return err
		}
		// task_permissions rows go with the task via ON DELETE CASCADE.
		if _, err := tx.Exec(ctx, "DELETE FROM todos WHERE id = $1", task.ID); err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		return nil
	})
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
