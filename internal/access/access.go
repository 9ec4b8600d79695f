// Package access resolves user identity, role and per-room authorization.
// Policy lives here so it is testable in isolation from transports and
// repositories.
package access

import (
	"context"
	"errors"

	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/repository"
)

// Directory is the read-only user lookup the resolver needs; implemented by
// repository.UserRepository and by in-memory fakes in tests. Lookups signal
// missing records with repository.ErrNotFound.
type Directory interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByUsernames(ctx context.Context, usernames []string) ([]model.User, error)
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
}

type Resolver struct {
	dir Directory

	// allowElevated grants visa_admin/master_admin access to every chat.
	// The deployed policy is owner-only, so the default is false.
	allowElevated bool
}

func NewResolver(dir Directory, allowElevated bool) *Resolver {
	return &Resolver{dir: dir, allowElevated: allowElevated}
}

// ResolveUser looks up a user by id; repository.ErrNotFound passes through.
func (r *Resolver) ResolveUser(ctx context.Context, id string) (*model.User, error) {
	return r.dir.GetByID(ctx, id)
}

// ResolveProfile returns the user's profile, or ok=false when none exists.
func (r *Resolver) ResolveProfile(ctx context.Context, userID string) (*model.Profile, bool, error) {
	p, err := r.dir.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return p, true, nil
}

// ResolveRole returns the user's role. A missing profile means RoleUser: that
// is policy, not an error. Store failures also fall back to RoleUser and are
// reported so the caller can log them.
func (r *Resolver) ResolveRole(ctx context.Context, userID string) (model.Role, error) {
	p, ok, err := r.ResolveProfile(ctx, userID)
	if err != nil {
		return model.RoleUser, err
	}
	if !ok || !p.UserType.Valid() {
		return model.RoleUser, nil
	}
	return p.UserType, nil
}

// CanAccessChat decides whether user may join chat. Owner-only unless the
// resolver was configured to let elevated roles in.
func (r *Resolver) CanAccessChat(ctx context.Context, user *model.User, chat *model.Chat) (bool, error) {
	if chat.OwnerID == user.ID {
		return true, nil
	}
	if !r.allowElevated {
		return false, nil
	}
	role, err := r.ResolveRole(ctx, user.ID)
	if err != nil {
		return false, err
	}
	return role.Elevated(), nil
}

// ResolveMentions maps handles to users. Unknown handles are silently dropped
// and duplicates collapse to one recipient; the result keeps the order in
// which handles first appeared.
func (r *Resolver) ResolveMentions(ctx context.Context, handles []string) ([]model.User, error) {
	if len(handles) == 0 {
		return nil, nil
	}
	uniq := make([]string, 0, len(handles))
	seen := make(map[string]struct{}, len(handles))
	for _, h := range handles {
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		uniq = append(uniq, h)
	}
	if len(uniq) == 0 {
		return nil, nil
	}

	found, err := r.dir.GetByUsernames(ctx, uniq)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]model.User, len(found))
	for _, u := range found {
		byName[u.Username] = u
	}
	users := make([]model.User, 0, len(found))
	for _, h := range uniq {
		if u, ok := byName[h]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}
