package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golang-jwt/jwt/v5"
)

// ErrNotLoggedIn is returned when a profile has no stored credentials.
var ErrNotLoggedIn = errors.New("not logged in")

// Credentials is the identity established by the login flow.
type Credentials struct {
	Token    string `toml:"token"`
	Username string `toml:"username"`
	UserID   string `toml:"user_id"`
	Role     string `toml:"role"`
}

// LoadCredentials reads a profile's credentials file.
func LoadCredentials(path string) (*Credentials, error) {
	var c Credentials
	if _, err := toml.DecodeFile(path, &c); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotLoggedIn
		}
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	if c.Token == "" {
		return nil, ErrNotLoggedIn
	}
	return &c, nil
}

// SaveCredentials writes credentials with owner-only permissions.
func SaveCredentials(path string, c *Credentials) error {
	return writeTOML(path, c)
}

// ClearCredentials removes the credentials file. Missing files are ignored.
func ClearCredentials(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ExpiresAt returns the token's exp claim. ok is false when the token is not
// a JWT or carries no expiry; the signature is not verified here.
func (c *Credentials) ExpiresAt() (exp time.Time, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.Token, claims); err != nil {
		return time.Time{}, false
	}
	nd, err := claims.GetExpirationTime()
	if err != nil || nd == nil {
		return time.Time{}, false
	}
	return nd.Time, true
}

// Expired reports whether the token is known to be expired at now.
func (c *Credentials) Expired(now time.Time) bool {
	exp, ok := c.ExpiresAt()
	return ok && !now.Before(exp)
}
