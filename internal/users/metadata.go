package users

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/skycast/skycast/internal/models"
)

var (
	ErrProviderUnavailable = errors.New("users: identity provider unavailable")
	ErrUnauthorized        = errors.New("users: identity provider rejected token")
)

// alertMetadataKey is the private-metadata field holding the alert
// preference document.
const alertMetadataKey = "alertPreferences"

// PublicSettings are the user-visible (non-secret) metadata fields the
// settings surface reads and writes: unit preference, default location and
// saved locations.
type PublicSettings struct {
	Units           string   `json:"units,omitempty"`
	DefaultLocation string   `json:"defaultLocation,omitempty"`
	SavedLocations  []string `json:"savedLocations,omitempty"`
}

// MetadataClient implements Store against the identity provider's HTTP
// user API. The provider is treated as an opaque key-value store keyed by
// user id; this client never interprets fields beyond the two metadata
// documents it owns.
type MetadataClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewMetadataClient returns a client for the provider user API.
func NewMetadataClient(baseURL, token string, timeout time.Duration) (*MetadataClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("users: provider URL is required")
	}
	if token == "" {
		return nil, fmt.Errorf("users: provider token is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MetadataClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// providerUser is the wire shape of one user record.
type providerUser struct {
	ID              string          `json:"id"`
	Email           string          `json:"email"`
	PrivateMetadata json.RawMessage `json:"private_metadata"`
	PublicMetadata  json.RawMessage `json:"public_metadata"`
}

// ListUsers fetches one page of users, offset-paginated.
func (c *MetadataClient) ListUsers(ctx context.Context, page, pageSize int) ([]User, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(pageSize))
	params.Set("offset", strconv.Itoa(page*pageSize))

	var raw []providerUser
	if err := c.getJSON(ctx, "/users?"+params.Encode(), &raw); err != nil {
		return nil, err
	}

	out := make([]User, 0, len(raw))
	for _, u := range raw {
		out = append(out, User{ID: u.ID, Email: u.Email})
	}
	return out, nil
}

// GetPreferences reads the private alert-preference document for a user.
// Missing or malformed metadata yields a zero-value preference: a user who
// never saved preferences simply has alerts disabled.
func (c *MetadataClient) GetPreferences(ctx context.Context, userID string) (models.UserAlertPreference, error) {
	var u providerUser
	if err := c.getJSON(ctx, "/users/"+url.PathEscape(userID), &u); err != nil {
		return models.UserAlertPreference{}, err
	}

	prefs := parseAlertPreferences(u.PrivateMetadata)
	if prefs.Email == "" {
		prefs.Email = u.Email
	}
	return prefs, nil
}

// GetPublicSettings reads the public metadata fields for a user.
func (c *MetadataClient) GetPublicSettings(ctx context.Context, userID string) (PublicSettings, error) {
	var u providerUser
	if err := c.getJSON(ctx, "/users/"+url.PathEscape(userID), &u); err != nil {
		return PublicSettings{}, err
	}

	var settings PublicSettings
	if len(u.PublicMetadata) > 0 {
		// Malformed public metadata degrades to defaults.
		_ = json.Unmarshal(u.PublicMetadata, &settings)
	}
	return settings, nil
}

// SavePreferences writes the alert document back into private metadata.
// Used by the settings save path, not the sweep.
func (c *MetadataClient) SavePreferences(ctx context.Context, userID string, prefs models.UserAlertPreference) error {
	doc := map[string]any{alertMetadataKey: prefs}
	body, err := json.Marshal(map[string]any{"private_metadata": doc})
	if err != nil {
		return fmt.Errorf("users: encode preferences: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		c.baseURL+"/users/"+url.PathEscape(userID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("users: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	return checkStatus(resp.StatusCode)
}

// parseAlertPreferences digs the alert document out of private metadata.
// Every failure mode returns a zero-value (alerts disabled) preference.
func parseAlertPreferences(raw json.RawMessage) models.UserAlertPreference {
	if len(raw) == 0 {
		return models.UserAlertPreference{}
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(raw, &meta); err != nil {
		return models.UserAlertPreference{}
	}
	doc, ok := meta[alertMetadataKey]
	if !ok {
		return models.UserAlertPreference{}
	}
	var prefs models.UserAlertPreference
	if err := json.Unmarshal(doc, &prefs); err != nil {
		return models.UserAlertPreference{}
	}
	return prefs
}

func (c *MetadataClient) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("users: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp.StatusCode); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("users: read response: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("users: parse response: %w", err)
	}
	return nil
}

func checkStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	default:
		return fmt.Errorf("%w: HTTP %d", ErrProviderUnavailable, code)
	}
}

