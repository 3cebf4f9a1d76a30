package catalog

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/daimoniac/vigil/internal/errors"
	"github.com/daimoniac/vigil/internal/policy"
	"github.com/daimoniac/vigil/internal/types"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Load reads and resolves a catalog file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.NewTransientf("catalog not found: %w", err)
		}
		return nil, errors.NewPermanentf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and resolves a catalog document
func Parse(data []byte) (*Catalog, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewPermanentf("failed to parse catalog YAML: %w", err)
	}
	return Resolve(&doc)
}

// Resolve turns a decoded document into a catalog. License and group
// references are resolved by licenseId and name. Missing UUIDs are generated.
func Resolve(doc *Document) (*Catalog, error) {
	r := &resolver{
		catalog:      &Catalog{Groups: policy.LicenseGroups{}},
		licenses:     make(map[string]*types.License),
		groupsByName: make(map[string]*types.LicenseGroup),
	}

	for i := range doc.Licenses {
		if err := r.addLicense(&doc.Licenses[i]); err != nil {
			return nil, err
		}
	}
	for i := range doc.LicenseGroups {
		if err := r.addGroup(&doc.LicenseGroups[i]); err != nil {
			return nil, err
		}
	}
	for i := range doc.Policies {
		if err := r.addPolicy(&doc.Policies[i]); err != nil {
			return nil, err
		}
	}
	for i := range doc.Components {
		if err := r.addComponent(&doc.Components[i]); err != nil {
			return nil, err
		}
	}

	return r.catalog, nil
}

type resolver struct {
	catalog      *Catalog
	licenses     map[string]*types.License // by licenseId
	groupsByName map[string]*types.LicenseGroup
}

func (r *resolver) warnf(format string, args ...interface{}) {
	r.catalog.Warnings = append(r.catalog.Warnings, fmt.Sprintf(format, args...))
}

func (r *resolver) addLicense(doc *LicenseDoc) error {
	if doc.LicenseID == "" {
		return errors.NewPermanentf("license %q: licenseId is required: %w", doc.Name, errors.ErrInvalidInput)
	}
	if _, dup := r.licenses[doc.LicenseID]; dup {
		return errors.NewPermanentf("license %s declared twice: %w", doc.LicenseID, errors.ErrInvalidInput)
	}
	id, err := parseOrNewUUID(doc.UUID)
	if err != nil {
		return errors.NewPermanentf("license %s: invalid uuid: %w", doc.LicenseID, errors.ErrInvalidInput)
	}

	name := doc.Name
	if name == "" {
		name = doc.LicenseID
	}
	r.catalog.Licenses = append(r.catalog.Licenses, types.License{UUID: id, LicenseID: doc.LicenseID, Name: name})
	license := r.catalog.Licenses[len(r.catalog.Licenses)-1]
	r.licenses[doc.LicenseID] = &license
	return nil
}

func (r *resolver) addGroup(doc *LicenseGroupDoc) error {
	if doc.Name == "" {
		return errors.NewPermanentf("license group name is required: %w", errors.ErrInvalidInput)
	}
	id, err := parseOrNewUUID(doc.UUID)
	if err != nil {
		return errors.NewPermanentf("license group %s: invalid uuid: %w", doc.Name, errors.ErrInvalidInput)
	}

	group := &types.LicenseGroup{UUID: id, Name: doc.Name}
	for _, licenseID := range doc.Licenses {
		license, ok := r.licenses[licenseID]
		if !ok {
			r.warnf("license group %s: unknown license %s", doc.Name, licenseID)
			continue
		}
		group.Licenses = append(group.Licenses, *license)
	}

	r.catalog.Groups[id] = group
	r.groupsByName[doc.Name] = group
	return nil
}

func (r *resolver) addPolicy(doc *PolicyDoc) error {
	if doc.Name == "" {
		return errors.NewPermanentf("policy name is required: %w", errors.ErrInvalidInput)
	}
	id, err := parseOrNewUUID(doc.UUID)
	if err != nil {
		return errors.NewPermanentf("policy %s: invalid uuid: %w", doc.Name, errors.ErrInvalidInput)
	}
	op, err := types.ParsePolicyOperator(orDefault(doc.Operator, string(types.PolicyOperatorAny)))
	if err != nil {
		return fmt.Errorf("policy %s: %w", doc.Name, err)
	}
	state, err := types.ParseViolationState(orDefault(doc.ViolationState, string(types.ViolationStateInfo)))
	if err != nil {
		return fmt.Errorf("policy %s: %w", doc.Name, err)
	}

	p := types.Policy{
		UUID:           id,
		Name:           doc.Name,
		Operator:       op,
		ViolationState: state,
		Conditions:     make([]types.PolicyCondition, 0, len(doc.Conditions)),
	}
	for i := range doc.Conditions {
		cond, err := r.condition(&doc.Conditions[i])
		if err != nil {
			return fmt.Errorf("policy %s: condition %d: %w", doc.Name, i, err)
		}
		p.Conditions = append(p.Conditions, cond)
	}

	r.catalog.Policies = append(r.catalog.Policies, p)
	return nil
}

func (r *resolver) condition(doc *ConditionDoc) (types.PolicyCondition, error) {
	id, err := parseOrNewUUID(doc.UUID)
	if err != nil {
		return types.PolicyCondition{}, errors.NewPermanentf("invalid uuid %q: %w", doc.UUID, errors.ErrInvalidInput)
	}
	subject, err := types.ParseSubject(doc.Subject)
	if err != nil {
		return types.PolicyCondition{}, err
	}
	op, err := types.ParseConditionOperator(doc.Operator)
	if err != nil {
		return types.PolicyCondition{}, err
	}

	return types.PolicyCondition{
		UUID:     id,
		Subject:  subject,
		Operator: op,
		Value:    r.conditionValue(subject, doc.Value),
	}, nil
}

// conditionValue rewrites license and group names to their UUIDs and UUIDs
// to canonical form. Anything else is kept verbatim for the evaluator to judge.
func (r *resolver) conditionValue(subject types.Subject, value string) string {
	if subject != types.SubjectLicense && subject != types.SubjectLicenseGroup {
		return value
	}
	if id, err := uuid.Parse(value); err == nil {
		return id.String()
	}
	switch subject {
	case types.SubjectLicense:
		if license, ok := r.licenses[value]; ok {
			return license.UUID.String()
		}
	case types.SubjectLicenseGroup:
		if group, ok := r.groupsByName[value]; ok {
			return group.UUID.String()
		}
	}
	return value
}

func (r *resolver) addComponent(doc *ComponentDoc) error {
	if doc.Name == "" {
		return errors.NewPermanentf("component name is required: %w", errors.ErrInvalidInput)
	}
	id, err := parseOrNewUUID(doc.UUID)
	if err != nil {
		return errors.NewPermanentf("component %s: invalid uuid: %w", doc.Name, errors.ErrInvalidInput)
	}

	c := types.Component{
		UUID:      id,
		Group:     doc.Group,
		Name:      doc.Name,
		Version:   doc.Version,
		PURL:      doc.PURL,
		CPE:       doc.CPE,
		SWIDTagID: doc.SWIDTagID,
	}

	if doc.License != "" {
		if license, ok := r.licenses[doc.License]; ok {
			resolved := *license
			c.ResolvedLicense = &resolved
		} else {
			r.warnf("component %s: unknown license %s", c.Coordinates(), doc.License)
		}
	}

	for _, h := range doc.Hashes {
		if h.Algorithm == "" || h.Value == "" {
			return errors.NewPermanentf("component %s: hash requires algorithm and value: %w", c.Coordinates(), errors.ErrInvalidInput)
		}
		c.Hashes = append(c.Hashes, types.Hash{Algorithm: h.Algorithm, Value: strings.TrimSpace(h.Value)})
	}

	for _, v := range doc.Vulnerabilities {
		if v.ID == "" {
			return errors.NewPermanentf("component %s: vulnerability id is required: %w", c.Coordinates(), errors.ErrInvalidInput)
		}
		severity, err := types.ParseSeverity(v.Severity)
		if err != nil {
			return fmt.Errorf("component %s: vulnerability %s: %w", c.Coordinates(), v.ID, err)
		}
		c.Vulnerabilities = append(c.Vulnerabilities, types.Vulnerability{ID: v.ID, Source: v.Source, Severity: severity})
	}

	r.catalog.Components = append(r.catalog.Components, c)
	return nil
}

func parseOrNewUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(s)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
