// Package catalog loads policies and the component inventory they are
// evaluated against from a YAML document.
package catalog

import (
	"github.com/daimoniac/vigil/internal/policy"
	"github.com/daimoniac/vigil/internal/types"
)

// Document is the on-disk layout of a catalog file
type Document struct {
	Licenses      []LicenseDoc      `yaml:"licenses"`
	LicenseGroups []LicenseGroupDoc `yaml:"licenseGroups"`
	Policies      []PolicyDoc       `yaml:"policies"`
	Components    []ComponentDoc    `yaml:"components"`
}

// LicenseDoc declares a license that components and groups can reference by licenseId
type LicenseDoc struct {
	UUID      string `yaml:"uuid"`
	LicenseID string `yaml:"licenseId"`
	Name      string `yaml:"name"`
}

// LicenseGroupDoc declares a named set of licenses
type LicenseGroupDoc struct {
	UUID     string   `yaml:"uuid"`
	Name     string   `yaml:"name"`
	Licenses []string `yaml:"licenses"` // licenseIds
}

// PolicyDoc declares a policy and its conditions
type PolicyDoc struct {
	UUID           string         `yaml:"uuid"`
	Name           string         `yaml:"name"`
	Operator       string         `yaml:"operator"`
	ViolationState string         `yaml:"violationState"`
	Conditions     []ConditionDoc `yaml:"conditions"`
}

// ConditionDoc declares a single policy condition.
// LICENSE values may name a licenseId and LICENSE_GROUP values a group name
// instead of a UUID.
type ConditionDoc struct {
	UUID     string `yaml:"uuid"`
	Subject  string `yaml:"subject"`
	Operator string `yaml:"operator"`
	Value    string `yaml:"value"`
}

// ComponentDoc declares an inventory component
type ComponentDoc struct {
	UUID            string             `yaml:"uuid"`
	Group           string             `yaml:"group"`
	Name            string             `yaml:"name"`
	Version         string             `yaml:"version"`
	PURL            string             `yaml:"purl"`
	CPE             string             `yaml:"cpe"`
	SWIDTagID       string             `yaml:"swidTagId"`
	License         string             `yaml:"license"` // licenseId
	Hashes          []HashDoc          `yaml:"hashes"`
	Vulnerabilities []VulnerabilityDoc `yaml:"vulnerabilities"`
}

// HashDoc declares a component digest
type HashDoc struct {
	Algorithm string `yaml:"algorithm"`
	Value     string `yaml:"value"`
}

// VulnerabilityDoc declares a vulnerability affecting a component
type VulnerabilityDoc struct {
	ID       string `yaml:"id"`
	Source   string `yaml:"source"`
	Severity string `yaml:"severity"`
}

// Catalog is a resolved catalog ready for evaluation
type Catalog struct {
	Licenses   []types.License
	Groups     policy.LicenseGroups
	Policies   []types.Policy
	Components []types.Component

	// Warnings lists references that could not be resolved. They do not
	// prevent evaluation.
	Warnings []string
}
