package access

import (
	"context"
	"testing"

	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/repository"
)

type fakeDirectory struct {
	users    map[string]model.User
	profiles map[string]model.Profile
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:    make(map[string]model.User),
		profiles: make(map[string]model.Profile),
	}
}

func (f *fakeDirectory) addUser(id, username string, role model.Role) {
	f.users[id] = model.User{ID: id, Username: username}
	if role != "" {
		f.profiles[id] = model.Profile{ID: "p-" + id, UserID: id, UserType: role}
	}
}

func (f *fakeDirectory) GetByID(_ context.Context, id string) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (f *fakeDirectory) GetByUsernames(_ context.Context, usernames []string) ([]model.User, error) {
	var out []model.User
	for _, name := range usernames {
		for _, u := range f.users {
			if u.Username == name {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (f *fakeDirectory) GetProfile(_ context.Context, userID string) (*model.Profile, error) {
	p, ok := f.profiles[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func TestResolveRoleDefaultsToUser(t *testing.T) {
	dir := newFakeDirectory()
	dir.addUser("u1", "alice", "")
	r := NewResolver(dir, false)

	role, err := r.ResolveRole(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ResolveRole: %v", err)
	}
	if role != model.RoleUser {
		t.Fatalf("role = %q, want %q", role, model.RoleUser)
	}
}

func TestResolveRoleFromProfile(t *testing.T) {
	dir := newFakeDirectory()
	dir.addUser("u1", "alice", model.RoleVisaAdmin)
	r := NewResolver(dir, false)

	role, err := r.ResolveRole(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ResolveRole: %v", err)
	}
	if role != model.RoleVisaAdmin {
		t.Fatalf("role = %q, want %q", role, model.RoleVisaAdmin)
	}
}

func TestCanAccessChatOwnerOnly(t *testing.T) {
	dir := newFakeDirectory()
	dir.addUser("owner", "alice", "")
	dir.addUser("admin", "bob", model.RoleMasterAdmin)
	r := NewResolver(dir, false)

	chat := &model.Chat{ID: "c1", OwnerID: "owner"}
	owner := &model.User{ID: "owner", Username: "alice"}
	admin := &model.User{ID: "admin", Username: "bob"}

	ok, err := r.CanAccessChat(context.Background(), owner, chat)
	if err != nil || !ok {
		t.Fatalf("owner access = %v, %v; want true, nil", ok, err)
	}
	ok, err = r.CanAccessChat(context.Background(), admin, chat)
	if err != nil {
		t.Fatalf("admin access: %v", err)
	}
	if ok {
		t.Fatal("admin allowed into a foreign chat with elevated access disabled")
	}
}

func TestCanAccessChatElevatedEnabled(t *testing.T) {
	dir := newFakeDirectory()
	dir.addUser("owner", "alice", "")
	dir.addUser("admin", "bob", model.RoleVisaAdmin)
	dir.addUser("plain", "carol", "")
	r := NewResolver(dir, true)

	chat := &model.Chat{ID: "c1", OwnerID: "owner"}

	ok, err := r.CanAccessChat(context.Background(), &model.User{ID: "admin"}, chat)
	if err != nil || !ok {
		t.Fatalf("elevated access = %v, %v; want true, nil", ok, err)
	}
	ok, err = r.CanAccessChat(context.Background(), &model.User{ID: "plain"}, chat)
	if err != nil {
		t.Fatalf("plain access: %v", err)
	}
	if ok {
		t.Fatal("plain user allowed into a foreign chat")
	}
}

func TestResolveProfileMissing(t *testing.T) {
	dir := newFakeDirectory()
	dir.addUser("u1", "alice", "")
	r := NewResolver(dir, false)

	_, ok, err := r.ResolveProfile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ResolveProfile: %v", err)
	}
	if ok {
		t.Fatal("ok = true for a user without a profile")
	}
}

func TestResolveMentions(t *testing.T) {
	dir := newFakeDirectory()
	dir.addUser("u1", "alice", "")
	dir.addUser("u2", "bob", "")
	r := NewResolver(dir, false)

	users, err := r.ResolveMentions(context.Background(), []string{"bob", "ghost", "alice", "bob", ""})
	if err != nil {
		t.Fatalf("ResolveMentions: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
	if users[0].Username != "bob" || users[1].Username != "alice" {
		t.Fatalf("order = [%s %s], want [bob alice]", users[0].Username, users[1].Username)
	}
}

func TestResolveMentionsEmpty(t *testing.T) {
	r := NewResolver(newFakeDirectory(), false)
	users, err := r.ResolveMentions(context.Background(), nil)
	if err != nil {
		t.Fatalf("ResolveMentions: %v", err)
	}
	if users != nil {
		t.Fatalf("got %v, want nil", users)
	}
}
