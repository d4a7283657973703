// Package authz decides what a user may see and do with a task.
//
// Every function works on a task snapshot whose Permissions field holds the
// task's complete grant set as loaded from storage. Nothing here touches the
// database; callers load the snapshot and persist the outcome.
package authz

import (
	"errors"

	"todoshare/models"
)

// ErrForbidden is returned when a non-owner tries to manage a task's grants.
var ErrForbidden = errors.New("only the owner can update permissions")

// grantFor returns the grant task holds for userID, if any.
func grantFor(userID int64, task models.Task) (models.Grant, bool) {
	for _, g := range task.Permissions {
		if g.UserID == userID {
			return g, true
		}
	}
	return models.Grant{}, false
}

func IsOwner(userID int64, task models.Task) bool {
	return task.OwnerID == userID
}

// Visible reports whether the task shows up in userID's listing. Any grant
// is enough; its kind only matters for mutation.
func Visible(userID int64, task models.Task) bool {
	if IsOwner(userID, task) {
		return true
	}
	_, ok := grantFor(userID, task)
	return ok
}

func VisibleTasks(userID int64, tasks []models.Task) []models.Task {
	visible := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if Visible(userID, t) {
			visible = append(visible, t)
		}
	}
	return visible
}

// ScopePermissions returns a copy of task with Permissions narrowed to what
// userID may learn: the whole list for the owner, only the caller's own grant
// for anyone else.
func ScopePermissions(userID int64, task models.Task) models.Task {
	if IsOwner(userID, task) {
		task.Permissions = append([]models.Grant{}, task.Permissions...)
		return task
	}
	task.Permissions = []models.Grant{}
	if g, ok := grantFor(userID, task); ok {
		task.Permissions = append(task.Permissions, g)
	}
	return task
}

func AttachVisiblePermissions(userID int64, tasks []models.Task) []models.Task {
	scoped := make([]models.Task, len(tasks))
	for i, t := range tasks {
		scoped[i] = ScopePermissions(userID, t)
	}
	return scoped
}

// CanUpdate reports whether userID may change the task's title, description
// or done flag.
func CanUpdate(userID int64, task models.Task) bool {
	if IsOwner(userID, task) {
		return true
	}
	g, ok := grantFor(userID, task)
	if !ok {
		return false
	}
	switch g.Permission {
	case models.PermissionUpdate:
		return true
	case models.PermissionRead:
		return false
	}
	return false
}

// CanDelete is owner-only. Grants never authorize deletion.
func CanDelete(userID int64, task models.Task) bool {
	return IsOwner(userID, task)
}

func CanManageGrants(userID int64, task models.Task) bool {
	return IsOwner(userID, task)
}

// ReplaceGrants builds the complete new grant set for task from the owner's
// requests. resolved maps usernames to user ids; requests naming a username
// absent from it are skipped, as are requests naming the owner. When a
// username appears more than once the last request wins.
func ReplaceGrants(userID int64, task models.Task, requests []models.GrantRequest, resolved map[string]int64) ([]models.Grant, error) {
	if !CanManageGrants(userID, task) {
		return nil, ErrForbidden
	}

	grants := make([]models.Grant, 0, len(requests))
	index := make(map[int64]int, len(requests))
	for _, req := range requests {
		granteeID, ok := resolved[req.Username]
		if !ok || granteeID == task.OwnerID {
			continue
		}
		g := models.Grant{TaskID: task.ID, UserID: granteeID, Permission: req.Permission}
		if i, seen := index[granteeID]; seen {
			grants[i] = g
			continue
		}
		index[granteeID] = len(grants)
		grants = append(grants, g)
	}
	return grants, nil
}
