// Package devauth provides a bearer verifier for local development that skips
// token signatures.
package devauth

import (
	"errors"
	"strconv"
	"strings"
)

// Config controls the dev verifier behavior.
type Config struct {
	// DefaultUserID is used for the literal token "dev".
	DefaultUserID int64
}

// Verifier treats the bearer token as a numeric user id. The token "dev"
// maps to Config.DefaultUserID.
type Verifier struct {
	defaultUserID int64
}

// NewVerifier constructs a dev verifier from Config.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.DefaultUserID <= 0 {
		return nil, errors.New("dev auth: DefaultUserID must be positive")
	}
	return &Verifier{defaultUserID: cfg.DefaultUserID}, nil
}

// UserID implements the HTTP layer's user verifier.
func (v *Verifier) UserID(token string) (int64, error) {
	token = strings.TrimSpace(token)
	if token == "dev" {
		return v.defaultUserID, nil
	}
	id, err := strconv.ParseInt(token, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("dev auth: token must be \"dev\" or a positive user id")
	}
	return id, nil
}
