package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/skycast/skycast/internal/models"
)

func mustPrefs(city string, high *float64) models.UserAlertPreference {
	return models.UserAlertPreference{
		City:              city,
		AlertsEnabled:     true,
		NotifyExtremeTemp: true,
		HighTempThreshold: high,
	}
}

func newProviderServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *MetadataClient) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	c, err := NewMetadataClient(ts.URL, "provider-token", time.Second)
	if err != nil {
		t.Fatalf("NewMetadataClient() error = %v", err)
	}
	return ts, c
}

// TestListUsersPaging verifies offset-based pagination parameters and the
// bearer token header.
func TestListUsersPaging(t *testing.T) {
	_, c := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer provider-token" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Query().Get("limit") != "2" || r.URL.Query().Get("offset") != "4" {
			t.Errorf("query = %v, want limit=2 offset=4", r.URL.Query())
		}
		fmt.Fprint(w, `[{"id":"u5","email":"e5@example.com"},{"id":"u6","email":"e6@example.com"}]`)
	})

	got, err := c.ListUsers(context.Background(), 2, 2)
	if err != nil {
		t.Fatalf("ListUsers() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "u5" || got[1].Email != "e6@example.com" {
		t.Errorf("users = %v", got)
	}
}

// TestGetPreferences verifies the alert document is dug out of private
// metadata and the identity email backfills a missing preference email.
func TestGetPreferences(t *testing.T) {
	_, c := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/u1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{
			"id": "u1",
			"email": "identity@example.com",
			"private_metadata": {
				"alertPreferences": {
					"city": "Phoenix",
					"alertsEnabled": true,
					"notifyExtremeTemp": true,
					"highTempThreshold": 35
				}
			}
		}`)
	})

	prefs, err := c.GetPreferences(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetPreferences() error = %v", err)
	}
	if !prefs.AlertsEnabled || prefs.City != "Phoenix" {
		t.Errorf("prefs = %+v", prefs)
	}
	if prefs.HighTempThreshold == nil || *prefs.HighTempThreshold != 35 {
		t.Errorf("HighTempThreshold = %v", prefs.HighTempThreshold)
	}
	if prefs.Email != "identity@example.com" {
		t.Errorf("Email = %q, want identity fallback", prefs.Email)
	}
}

// TestGetPreferencesDegradesToZeroValue verifies absent or malformed
// metadata yields a disabled preference rather than an error.
func TestGetPreferencesDegradesToZeroValue(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no private metadata", `{"id":"u1","email":"e@example.com"}`},
		{"metadata without alert document", `{"id":"u1","private_metadata":{"other":1}}`},
		{"malformed alert document", `{"id":"u1","private_metadata":{"alertPreferences":"not an object"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			})
			prefs, err := c.GetPreferences(context.Background(), "u1")
			if err != nil {
				t.Fatalf("GetPreferences() error = %v", err)
			}
			if prefs.AlertsEnabled {
				t.Errorf("prefs = %+v, want alerts disabled", prefs)
			}
		})
	}
}

// TestProviderErrors verifies status mapping to the package sentinels.
func TestProviderErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusInternalServerError, ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("HTTP %d", tt.status), func(t *testing.T) {
			_, c := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			if _, err := c.ListUsers(context.Background(), 0, 10); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

// TestSavePreferences verifies the PATCH body nests the document under the
// private metadata key.
func TestSavePreferences(t *testing.T) {
	var gotMethod string
	var gotBody map[string]map[string]json.RawMessage
	_, c := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	})

	high := 35.0
	err := c.SavePreferences(context.Background(), "u1", mustPrefs("Phoenix", &high))
	if err != nil {
		t.Fatalf("SavePreferences() error = %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Errorf("method = %q, want PATCH", gotMethod)
	}
	if _, ok := gotBody["private_metadata"]["alertPreferences"]; !ok {
		t.Errorf("body = %v, want alertPreferences under private_metadata", gotBody)
	}
}

// TestGetPublicSettings verifies the public metadata read path.
func TestGetPublicSettings(t *testing.T) {
	_, c := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"u1","public_metadata":{"units":"imperial","defaultLocation":"Phoenix","savedLocations":["Phoenix","Oslo"]}}`)
	})

	settings, err := c.GetPublicSettings(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetPublicSettings() error = %v", err)
	}
	if settings.Units != "imperial" || settings.DefaultLocation != "Phoenix" || len(settings.SavedLocations) != 2 {
		t.Errorf("settings = %+v", settings)
	}
}

// TestNewMetadataClientValidation verifies required construction inputs.
func TestNewMetadataClientValidation(t *testing.T) {
	if _, err := NewMetadataClient("", "token", time.Second); err == nil {
		t.Error("expected error for missing URL")
	}
	if _, err := NewMetadataClient("http://example.com", "", time.Second); err == nil {
		t.Error("expected error for missing token")
	}
}
