package dal

import (
	"context"
	"fmt"

	"github.com/stevemurr/agentbench/store"
)

// EnsureProfile creates or refreshes the profile of an authenticated user
// and returns the stored record. An existing profile gets a new lastLoginAt
// and the identity provider's current email, display name and photo; its
// permissions are never touched. A nil user yields a nil profile.
func (d *DAL) EnsureProfile(ctx context.Context, user *AuthUser) (_ *UserProfile, err error) {
	defer d.track("ensureProfile")(&err)
	if user == nil {
		return nil, nil
	}
	if user.UID == "" {
		return nil, invalid("user uid is required")
	}

	existing, err := d.store.Get(ctx, UsersCollection, user.UID)
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", user.UID, err)
	}
	identity := map[string]any{
		"email":       user.Email,
		"displayName": optional(user.DisplayName),
		"photoURL":    optional(user.PhotoURL),
		"lastLoginAt": store.ServerTimestamp,
	}
	b := store.NewBatch()
	if existing != nil {
		b.Update(UsersCollection, user.UID, identity)
	} else {
		identity["uid"] = user.UID
		identity["createdAt"] = store.ServerTimestamp
		if _, err := d.prepare(UsersCollection, identity, false); err != nil {
			return nil, err
		}
		b.Create(UsersCollection, user.UID, identity)
	}
	if err := d.commit(ctx, "ensureProfile", b); err != nil {
		return nil, err
	}

	doc, err := d.get(ctx, UsersCollection, "user", user.UID)
	if err != nil {
		return nil, err
	}
	p := decodeUser(*doc)
	if existing == nil {
		d.log.Info().Str("uid", user.UID).Msg("user profile created")
	}
	return &p, nil
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetUser returns one stored profile.
func (d *DAL) GetUser(ctx context.Context, uid string) (_ UserProfile, err error) {
	defer d.track("getUser")(&err)
	doc, err := d.get(ctx, UsersCollection, "user", uid)
	if err != nil {
		return UserProfile{}, err
	}
	return decodeUser(*doc), nil
}

// ListPendingReview returns every user whose permissions were never set.
// The whole users collection is read; the store has no query for a missing
// field.
func (d *DAL) ListPendingReview(ctx context.Context) (_ []UserProfile, err error) {
	defer d.track("listPendingReview")(&err)
	docs, err := d.query(ctx, "users", store.Collection(UsersCollection))
	if err != nil {
		return nil, err
	}
	out := make([]UserProfile, 0)
	for _, doc := range docs {
		if u := decodeUser(doc); u.PendingReview() {
			out = append(out, u)
		}
	}
	return out, nil
}

// SetPermissions replaces a user's permissions. A nil map is stored as null,
// which still marks the user as reviewed. A failure is logged before it is
// returned.
func (d *DAL) SetPermissions(ctx context.Context, uid string, permissions map[string]any) (err error) {
	defer d.track("setPermissions")(&err)
	if uid == "" {
		return &NotFoundError{Kind: "user", ID: uid}
	}
	var perms any
	if permissions != nil {
		perms = store.Normalize(permissions)
	}
	b := store.NewBatch().Update(UsersCollection, uid, map[string]any{
		"permissions":              perms,
		"permissionsLastUpdatedAt": store.ServerTimestamp,
	})
	if err = d.commit(ctx, "setPermissions", b); err != nil {
		d.log.Error().Err(err).Str("uid", uid).Msg("setting user permissions failed")
	}
	return err
}
