package config

import (
	"strings"

	"github.com/target/job-launcher/internal/domain/signature"
)

const (
	defaultSignatureHeader = "header-signature-key"
	defaultProtectedPrefix = "/api/webhook"
	defaultSignatureRoutes = "/api/webhook/exchange-oracle=exchange_oracle," +
		"/api/webhook/recording-oracle=recording_oracle," +
		"/api/webhook/reputation-oracle=reputation_oracle"
)

// SignatureConfig controls authentication of inbound oracle requests.
// Unset fields take their defaults in Sanitize.
type SignatureConfig struct {
	// Header carries the hex signature of the raw request body.
	Header string `env:"SIGNATURE_HEADER"`

	// ProtectedPrefix is the path prefix guarded by signature checks.
	ProtectedPrefix string `env:"SIGNATURE_PROTECTED_PREFIX"`

	// Routes is an ordered "prefix=family" list; the first match wins.
	Routes string `env:"SIGNATURE_ROUTES"`

	// RoutesFile, when set, replaces Routes with a YAML rule file.
	RoutesFile string `env:"SIGNATURE_ROUTES_FILE"`

	// Keys overrides the expected signer per family ("family=address" or "family=privateKey").
	Keys map[string]string `env:"SIGNATURE_KEYS" envKeyValSeparator:"="`
}

// Sanitize applies defaults to signature configuration values.
func (s *SignatureConfig) Sanitize() {
	s.Header = strings.TrimSpace(s.Header)
	if s.Header == "" {
		s.Header = defaultSignatureHeader
	}
	s.ProtectedPrefix = strings.TrimRight(strings.TrimSpace(s.ProtectedPrefix), "/")
	if s.ProtectedPrefix == "" {
		s.ProtectedPrefix = defaultProtectedPrefix
	}
	s.RoutesFile = strings.TrimSpace(s.RoutesFile)
	if strings.TrimSpace(s.Routes) == "" && s.RoutesFile == "" {
		s.Routes = defaultSignatureRoutes
	}
}

// Rules loads the ordered route rules.
func (s *SignatureConfig) Rules() (signature.Rules, error) {
	if s.RoutesFile != "" {
		return signature.LoadRulesFile(s.RoutesFile)
	}
	return signature.ParseRules(s.Routes)
}

// SignerKeys returns the expected signing identity per caller family. Oracle
// addresses are the defaults; SIGNATURE_KEYS entries take precedence.
func (c *AppConfig) SignerKeys() map[signature.Family]string {
	keys := make(map[signature.Family]string)
	add := func(f signature.Family, v string) {
		if v = strings.TrimSpace(v); v != "" {
			keys[f] = v
		}
	}
	add(signature.FamilyExchangeOracle, c.Oracles.ExchangeOracleAddress)
	add(signature.FamilyRecordingOracle, c.Oracles.RecordingOracleAddress)
	add(signature.FamilyReputationOracle, c.Oracles.ReputationOracleAddress)
	for family, v := range c.Signature.Keys {
		add(signature.Family(strings.TrimSpace(family)), v)
	}
	return keys
}
