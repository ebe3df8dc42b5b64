//go:build tools

// Package tools documents development tool dependencies.
// These tools run via `go run` or `go install` and are not tracked in go.mod
// since they are development tools, not runtime dependencies.
package tools

// Development tools:
//
// mockgen - regenerates internal/mocks from the core ports
//   Run: go generate ./internal/mocks
//   Version: v0.6.0 (matches go.uber.org/mock in go.mod)
//
// golangci-lint - linting (the nolint directives in this repo target it)
//   Install: go install github.com/golangci/golangci-lint/v2/cmd/golangci-lint@v2.5.0
//
// abigen - not required; the escrow factory and escrow ABIs are kept as
// JSON fragments in internal/adapters/chain/abi.go and bound at runtime.
