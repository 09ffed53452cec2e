// Package version exposes the Foreman release version.
package version

import "strings"

// version is overridden at build time via
// -ldflags "-X github.com/foremanhq/foreman/internal/version.version=...".
var version = "0.1.0-dev"

// Get returns the current version, with whitespace trimmed.
func Get() string {
	return strings.TrimSpace(version)
}
