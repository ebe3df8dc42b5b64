package service

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/target/job-launcher/internal/domain/signature"
	apperrors "github.com/target/job-launcher/internal/errors"
)

// SignatureAuthOptions groups dependencies for SignatureAuthenticator.
type SignatureAuthOptions struct {
	Rules  signature.Rules             // Required: ordered route rules
	Keys   map[signature.Family]string // Required: address or private key per family
	Logger *slog.Logger                // Optional: structured logger
}

// SignatureAuthenticator decides whether a signed request body came from the
// caller family its route belongs to.
type SignatureAuthenticator struct {
	rules   signature.Rules
	signers map[signature.Family]common.Address
	logger  *slog.Logger
}

// NewSignatureAuthenticator resolves the configured keys up front so a bad
// key fails at startup rather than on the first request.
func NewSignatureAuthenticator(opts SignatureAuthOptions) (*SignatureAuthenticator, error) {
	if len(opts.Rules) == 0 {
		return nil, errors.New("at least one signature rule is required")
	}
	if err := opts.Rules.Validate(); err != nil {
		return nil, err
	}

	signers := make(map[signature.Family]common.Address, len(opts.Keys))
	for family, key := range opts.Keys {
		addr, err := signature.ResolveAddress(key)
		if err != nil {
			return nil, fmt.Errorf("signature key for %s: %w", family, err)
		}
		signers[family] = addr
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SignatureAuthenticator{
		rules:   opts.Rules,
		signers: signers,
		logger:  logger.With("component", "signature_auth"),
	}, nil
}

// Authenticate classifies path, recovers the signer of body from sig and
// compares it with the family's expected address. Any failure, including an
// unknown route or a family without a configured key, is Unauthorized.
func (a *SignatureAuthenticator) Authenticate(path string, body []byte, sig string) (signature.Family, error) {
	family, err := a.rules.Classify(path)
	if err != nil {
		return "", a.deny(path, "", err)
	}

	expected, ok := a.signers[family]
	if !ok {
		return "", a.deny(path, family, errors.New("no key configured"))
	}

	// common.Address compares bytes, so hex case never matters.
	if err := signature.Verify(body, sig, expected); err != nil {
		return "", a.deny(path, family, err)
	}
	return family, nil
}

// Signer returns the expected address for family.
func (a *SignatureAuthenticator) Signer(family signature.Family) (common.Address, bool) {
	addr, ok := a.signers[family]
	return addr, ok
}

func (a *SignatureAuthenticator) deny(path string, family signature.Family, cause error) error {
	a.logger.Debug("signature rejected", "path", path, "family", family, "reason", cause)
	return apperrors.Wrap(fmt.Errorf("%w: %w", ErrUnauthorized, cause), apperrors.ErrCodeUnauthorized, ErrUnauthorized.Error())
}
