// Package users reads alert preferences from the external identity
// provider, which stores them as opaque per-user metadata. The sweep
// depends only on the Store interface, never on a provider SDK shape.
package users

import (
	"context"
	"sort"

	"github.com/skycast/skycast/internal/models"
)

// User is the minimal identity the sweep needs.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Store is the capability interface over the identity provider's metadata
// fields. ListUsers pages through the full user set (empty slice past the
// end); GetPreferences reads one user's alert document. Absent or
// unreadable metadata yields a zero-value preference, not an error.
type Store interface {
	ListUsers(ctx context.Context, page, pageSize int) ([]User, error)
	GetPreferences(ctx context.Context, userID string) (models.UserAlertPreference, error)
}

// StaticStore is an in-memory Store for tests and local runs.
type StaticStore struct {
	Users map[string]StaticUser
}

// StaticUser pairs an identity with its stored preference document.
type StaticUser struct {
	Email string
	Prefs models.UserAlertPreference
}

// ListUsers returns users sorted by ID for deterministic paging.
func (s *StaticStore) ListUsers(ctx context.Context, page, pageSize int) ([]User, error) {
	ids := make([]string, 0, len(s.Users))
	for id := range s.Users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := page * pageSize
	if start >= len(ids) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(ids) {
		end = len(ids)
	}

	out := make([]User, 0, end-start)
	for _, id := range ids[start:end] {
		out = append(out, User{ID: id, Email: s.Users[id].Email})
	}
	return out, nil
}

// GetPreferences returns the stored preference document, or a zero-value
// preference for unknown users.
func (s *StaticStore) GetPreferences(ctx context.Context, userID string) (models.UserAlertPreference, error) {
	u, ok := s.Users[userID]
	if !ok {
		return models.UserAlertPreference{}, nil
	}
	prefs := u.Prefs
	if prefs.Email == "" {
		prefs.Email = u.Email
	}
	return prefs, nil
}
