package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"todoshare/authz"
	"todoshare/models"
	"todoshare/store"
	"todoshare/utils"
)

var (
	// ErrNotFound covers both a missing task and one the caller may not act
	// on, so callers cannot probe for task ids they have no access to.
	ErrNotFound  = errors.New("task does not exist or not enough permissions")
	ErrForbidden = errors.New("only the owner can update permissions")
)

// TaskService wraps task-related business logic.
type TaskService struct {
	store store.Store
	now   func() time.Time
}

func NewTaskService(s store.Store) *TaskService {
	return &TaskService{store: s, now: time.Now}
}

func (s *TaskService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func validateInput(input models.TaskInput) error {
	if field, err := utils.ValidateTaskInput(input.Title, input.Description); err != nil {
		return &models.ValidationError{Field: field, Message: err.Error()}
	}
	for i, p := range input.Permissions {
		if p.Username == "" {
			return &models.ValidationError{Field: fmt.Sprintf("permissions[%d].username", i), Message: "username is required"}
		}
		if !p.Permission.Valid() {
			return &models.ValidationError{Field: fmt.Sprintf("permissions[%d].permission", i), Message: "permission must be read or update"}
		}
	}
	return nil
}

// resolve looks up the usernames named by requests. It runs outside any
// write transaction.
func (s *TaskService) resolve(ctx context.Context, requests []models.GrantRequest) (map[string]int64, error) {
	names := make([]string, len(requests))
	for i, r := range requests {
		names[i] = r.Username
	}
	resolved, err := s.store.ResolveUsernames(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("resolve grantees: %w", err)
	}
	return resolved, nil
}

// Create stores a task owned by the caller together with its initial grants.
// Grants naming unknown users are dropped.
func (s *TaskService) Create(ctx context.Context, caller models.Identity, input models.TaskInput) (models.Task, error) {
	if err := validateInput(input); err != nil {
		return models.Task{}, err
	}

	now := s.timestamp()
	task := models.Task{
		Title:       input.Title,
		Description: input.Description,
		Done:        input.Done,
		OwnerID:     caller.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if len(input.Permissions) > 0 {
		resolved, err := s.resolve(ctx, input.Permissions)
		if err != nil {
			return models.Task{}, err
		}
		grants, err := authz.ReplaceGrants(caller.UserID, task, input.Permissions, resolved)
		if err != nil {
			return models.Task{}, err
		}
		task.Permissions = grants
	}

	if err := s.store.CreateTask(ctx, &task); err != nil {
		return models.Task{}, err
	}
	return authz.ScopePermissions(caller.UserID, task), nil
}

// List returns every task visible to the caller with permissions scoped to
// what the caller may see.
func (s *TaskService) List(ctx context.Context, caller models.Identity) ([]models.Task, error) {
	candidates, err := s.store.ListTasksFor(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	visible := authz.VisibleTasks(caller.UserID, candidates)
	return authz.AttachVisiblePermissions(caller.UserID, visible), nil
}

// Update replaces title, description and done. When input.Permissions is
// non-nil the grant set is replaced too, which only the owner may do.
func (s *TaskService) Update(ctx context.Context, caller models.Identity, taskID int64, input models.TaskInput) (models.Task, error) {
	if err := validateInput(input); err != nil {
		return models.Task{}, err
	}

	var resolved map[string]int64
	if len(input.Permissions) > 0 {
		var err error
		if resolved, err = s.resolve(ctx, input.Permissions); err != nil {
			return models.Task{}, err
		}
	}

	updated, err := s.store.UpdateTask(ctx, taskID, func(task *models.Task) ([]models.Grant, bool, error) {
		if !authz.CanUpdate(caller.UserID, *task) {
			return nil, false, ErrNotFound
		}

		var (
			grants  []models.Grant
			replace bool
		)
		if input.Permissions != nil {
			var err error
			grants, err = authz.ReplaceGrants(caller.UserID, *task, input.Permissions, resolved)
			if errors.Is(err, authz.ErrForbidden) {
				return nil, false, ErrForbidden
			}
			if err != nil {
				return nil, false, err
			}
			replace = true
		}

		task.Title = input.Title
		task.Description = input.Description
		task.Done = input.Done
		task.UpdatedAt = s.timestamp()
		return grants, replace, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return models.Task{}, ErrNotFound
	}
	if err != nil {
		return models.Task{}, err
	}
	return authz.ScopePermissions(caller.UserID, updated), nil
}

// Delete removes a task the caller owns along with its grants.
func (s *TaskService) Delete(ctx context.Context, caller models.Identity, taskID int64) error {
	err := s.store.DeleteTask(ctx, taskID, func(task models.Task) error {
		if !authz.CanDelete(caller.UserID, task) {
			return ErrNotFound
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
