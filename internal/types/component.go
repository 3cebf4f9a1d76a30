package types

import (
	"strings"

	"github.com/google/uuid"
)

// License is a resolved license entity. UUID is the canonical identity;
// LicenseID (usually an SPDX id) and Name are informational only.
type License struct {
	UUID      uuid.UUID
	LicenseID string
	Name      string
}

// UUIDString renders the license UUID in canonical lower-case form.
func (l *License) UUIDString() string {
	if l == nil {
		return ""
	}
	return l.UUID.String()
}

// LicenseGroup is a named set of licenses that policies can refer to as a unit.
type LicenseGroup struct {
	UUID     uuid.UUID
	Name     string
	Licenses []License
}

// Contains reports whether the license is a member of the group, by UUID.
func (g *LicenseGroup) Contains(license *License) bool {
	if g == nil || license == nil {
		return false
	}
	for i := range g.Licenses {
		if g.Licenses[i].UUID == license.UUID {
			return true
		}
	}
	return false
}

// Hash is a single digest of a component artifact.
type Hash struct {
	Algorithm string
	Value     string
}

// Vulnerability is a vulnerability already matched to a component upstream.
type Vulnerability struct {
	ID       string
	Source   string
	Severity Severity
}

// Component is the evaluation target. It is owned by the caller and
// treated as read-only by the engine.
type Component struct {
	UUID      uuid.UUID
	Group     string
	Name      string
	Version   string
	PURL      string
	CPE       string
	SWIDTagID string
	Hashes    []Hash

	// ResolvedLicense is nil when no license could be resolved.
	ResolvedLicense *License

	Vulnerabilities []Vulnerability
}

// HashFor returns the component digest for the given algorithm, if present.
// Algorithm names are compared after normalisation.
func (c *Component) HashFor(algorithm string) (string, bool) {
	if c == nil {
		return "", false
	}
	want := NormalizeHashAlgorithm(algorithm)
	for _, h := range c.Hashes {
		if NormalizeHashAlgorithm(h.Algorithm) == want {
			return h.Value, true
		}
	}
	return "", false
}

// Coordinates renders group/name@version for logging.
func (c *Component) Coordinates() string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	if c.Group != "" {
		b.WriteString(c.Group)
		b.WriteByte('/')
	}
	b.WriteString(c.Name)
	if c.Version != "" {
		b.WriteByte('@')
		b.WriteString(c.Version)
	}
	return b.String()
}

// NormalizeHashAlgorithm maps the spellings seen in SBOMs ("SHA-256",
// "sha_256", "SHA256") to a single lower-case form ("sha256"). The SHA-3
// and BLAKE2b families keep their size suffix ("sha3-256", "blake2b-512").
func NormalizeHashAlgorithm(algorithm string) string {
	a := strings.ToLower(strings.TrimSpace(algorithm))
	a = strings.ReplaceAll(a, "_", "-")
	if strings.HasPrefix(a, "sha3") || strings.HasPrefix(a, "blake2b") {
		return a
	}
	return strings.ReplaceAll(a, "-", "")
}
