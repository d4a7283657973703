package authz_test

import (
	"errors"
	"reflect"
	"testing"

	"todoshare/authz"
	"todoshare/models"
)

const (
	owner  int64 = 1
	reader int64 = 2
	editor int64 = 3
	other  int64 = 4
)

func sharedTask() models.Task {
	return models.Task{
		ID:      10,
		Title:   "T1",
		OwnerID: owner,
		Permissions: []models.Grant{
			{ID: 100, TaskID: 10, UserID: reader, Permission: models.PermissionRead},
			{ID: 101, TaskID: 10, UserID: editor, Permission: models.PermissionUpdate},
		},
	}
}

func TestPredicates(t *testing.T) {
	task := sharedTask()
	tests := []struct {
		name       string
		userID     int64
		wantVis    bool
		wantUpdate bool
		wantDelete bool
		wantManage bool
	}{
		{name: "Owner has full access", userID: owner, wantVis: true, wantUpdate: true, wantDelete: true, wantManage: true},
		{name: "Read grant only sees", userID: reader, wantVis: true},
		{name: "Update grant edits but cannot delete", userID: editor, wantVis: true, wantUpdate: true},
		{name: "Stranger has nothing", userID: other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := authz.Visible(tt.userID, task); got != tt.wantVis {
				t.Errorf("Visible() = %v, want %v", got, tt.wantVis)
			}
			if got := authz.CanUpdate(tt.userID, task); got != tt.wantUpdate {
				t.Errorf("CanUpdate() = %v, want %v", got, tt.wantUpdate)
			}
			if got := authz.CanDelete(tt.userID, task); got != tt.wantDelete {
				t.Errorf("CanDelete() = %v, want %v", got, tt.wantDelete)
			}
			if got := authz.CanManageGrants(tt.userID, task); got != tt.wantManage {
				t.Errorf("CanManageGrants() = %v, want %v", got, tt.wantManage)
			}
		})
	}
}

func TestOwnerAccessIgnoresGrants(t *testing.T) {
	task := models.Task{ID: 1, OwnerID: owner}
	if !authz.CanUpdate(owner, task) || !authz.CanDelete(owner, task) {
		t.Fatal("owner without any grants must be able to update and delete")
	}

	// A stray grant naming the owner must not downgrade them.
	task.Permissions = []models.Grant{{UserID: owner, Permission: models.PermissionRead}}
	if !authz.CanUpdate(owner, task) || !authz.CanDelete(owner, task) {
		t.Fatal("owner rights must not depend on grants")
	}
}

func TestVisibleTasks(t *testing.T) {
	tasks := []models.Task{
		{ID: 1, OwnerID: owner},
		{ID: 2, OwnerID: other, Permissions: []models.Grant{{UserID: owner, Permission: models.PermissionRead}}},
		{ID: 3, OwnerID: other},
		{ID: 4, OwnerID: other, Permissions: []models.Grant{{UserID: reader, Permission: models.PermissionUpdate}}},
	}

	got := authz.VisibleTasks(owner, tasks)
	var ids []int64
	for _, task := range got {
		ids = append(ids, task.ID)
	}
	if want := []int64{1, 2}; !reflect.DeepEqual(ids, want) {
		t.Errorf("VisibleTasks() ids = %v, want %v", ids, want)
	}
}

func TestScopePermissions(t *testing.T) {
	task := sharedTask()

	t.Run("Owner sees every grantee", func(t *testing.T) {
		got := authz.ScopePermissions(owner, task)
		if !reflect.DeepEqual(got.Permissions, task.Permissions) {
			t.Errorf("Permissions = %+v, want %+v", got.Permissions, task.Permissions)
		}
	})

	t.Run("Grantee sees only their own grant", func(t *testing.T) {
		got := authz.ScopePermissions(reader, task)
		want := []models.Grant{task.Permissions[0]}
		if !reflect.DeepEqual(got.Permissions, want) {
			t.Errorf("Permissions = %+v, want %+v", got.Permissions, want)
		}
	})

	t.Run("Scoping does not alias the snapshot", func(t *testing.T) {
		got := authz.ScopePermissions(owner, task)
		got.Permissions[0].Permission = models.PermissionUpdate
		if task.Permissions[0].Permission != models.PermissionRead {
			t.Error("ScopePermissions modified the input task")
		}
	})

	t.Run("Stranger gets an empty list", func(t *testing.T) {
		got := authz.ScopePermissions(other, task)
		if got.Permissions == nil || len(got.Permissions) != 0 {
			t.Errorf("Permissions = %#v, want empty non-nil slice", got.Permissions)
		}
	})
}

func TestAttachVisiblePermissions(t *testing.T) {
	tasks := []models.Task{sharedTask(), {ID: 11, OwnerID: editor}}
	got := authz.AttachVisiblePermissions(editor, tasks)

	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if len(got[0].Permissions) != 1 || got[0].Permissions[0].UserID != editor {
		t.Errorf("shared task permissions = %+v, want only editor's grant", got[0].Permissions)
	}
	if len(got[1].Permissions) != 0 {
		t.Errorf("owned task permissions = %+v, want empty", got[1].Permissions)
	}
}

func TestReplaceGrants(t *testing.T) {
	task := sharedTask()
	resolved := map[string]int64{"alice": owner, "bob": reader, "carol": editor}

	tests := []struct {
		name     string
		userID   int64
		requests []models.GrantRequest
		want     []models.Grant
		wantErr  error
	}{
		{
			name:   "Unknown usernames are skipped",
			userID: owner,
			requests: []models.GrantRequest{
				{Username: "bob", Permission: models.PermissionRead},
				{Username: "nobody", Permission: models.PermissionUpdate},
			},
			want: []models.Grant{{TaskID: 10, UserID: reader, Permission: models.PermissionRead}},
		},
		{
			name:     "Empty request clears every grant",
			userID:   owner,
			requests: []models.GrantRequest{},
			want:     []models.Grant{},
		},
		{
			name:   "Owner is never granted",
			userID: owner,
			requests: []models.GrantRequest{
				{Username: "alice", Permission: models.PermissionRead},
			},
			want: []models.Grant{},
		},
		{
			name:   "Last duplicate wins",
			userID: owner,
			requests: []models.GrantRequest{
				{Username: "carol", Permission: models.PermissionRead},
				{Username: "bob", Permission: models.PermissionRead},
				{Username: "carol", Permission: models.PermissionUpdate},
			},
			want: []models.Grant{
				{TaskID: 10, UserID: editor, Permission: models.PermissionUpdate},
				{TaskID: 10, UserID: reader, Permission: models.PermissionRead},
			},
		},
		{
			name:     "Update grantee cannot manage grants",
			userID:   editor,
			requests: []models.GrantRequest{{Username: "bob", Permission: models.PermissionUpdate}},
			wantErr:  authz.ErrForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := authz.ReplaceGrants(tt.userID, task, tt.requests, resolved)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ReplaceGrants() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ReplaceGrants() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
