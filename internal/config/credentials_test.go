package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "42",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCredentialsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p", "credentials.toml")
	want := &Credentials{Token: "tok", Username: "Ana", UserID: "42", Role: "admin"}

	if err := SaveCredentials(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := LoadCredentials(path)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *want {
		t.Errorf("credentials = %+v, want %+v", got, want)
	}

	if err := ClearCredentials(path); err != nil {
		t.Fatal(err)
	}
	if err := ClearCredentials(path); err != nil {
		t.Errorf("second ClearCredentials: %v", err)
	}
	if _, err := LoadCredentials(path); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("LoadCredentials after clear = %v, want ErrNotLoggedIn", err)
	}
}

func TestCredentialsExpiry(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name        string
		token       string
		wantKnown   bool
		wantExpired bool
	}{
		{"valid jwt", signedToken(t, now.Add(time.Hour)), true, false},
		{"expired jwt", signedToken(t, now.Add(-time.Hour)), true, true},
		{"opaque token", "not-a-jwt", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Credentials{Token: tt.token}
			_, known := c.ExpiresAt()
			if known != tt.wantKnown {
				t.Errorf("ExpiresAt known = %v, want %v", known, tt.wantKnown)
			}
			if got := c.Expired(now); got != tt.wantExpired {
				t.Errorf("Expired = %v, want %v", got, tt.wantExpired)
			}
		})
	}
}
