package policy

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/daimoniac/vigil/internal/types"
	v1 "github.com/google/go-containerregistry/pkg/v1"
)

// digestSizes maps normalised hash algorithms to their digest length in bytes.
var digestSizes = map[string]int{
	"md5":         16,
	"sha1":        20,
	"sha256":      32,
	"sha384":      48,
	"sha512":      64,
	"sha3-256":    32,
	"sha3-384":    48,
	"sha3-512":    64,
	"blake2b-256": 32,
	"blake2b-384": 48,
	"blake2b-512": 64,
	"blake3":      32,
}

// ComponentHashEvaluator matches a component digest. The condition value is
// either "algorithm:hex" (as in OCI digests) or the JSON object
// {"algorithm": "SHA-256", "value": "..."}. IS matches when the component
// carries that digest; IS_NOT matches when the component carries a
// different digest for the same algorithm.
type ComponentHashEvaluator struct {
	guard
}

// NewComponentHashEvaluator creates a COMPONENT_HASH subject evaluator
func NewComponentHashEvaluator(logger *slog.Logger) *ComponentHashEvaluator {
	return &ComponentHashEvaluator{guard: newGuard(types.SubjectComponentHash, logger, types.OperatorIs, types.OperatorIsNot)}
}

// Evaluate implements ConditionEvaluator
func (e *ComponentHashEvaluator) Evaluate(cond *types.PolicyCondition, component *types.Component) bool {
	if !e.applies(cond, component) {
		return false
	}
	want, err := parseHash(cond.Value)
	if err != nil {
		return e.malformed(cond, err)
	}
	have, ok := component.HashFor(want.Algorithm)
	if !ok {
		return false
	}
	equal := strings.EqualFold(strings.TrimSpace(have), want.Value)
	if cond.Operator == types.OperatorIs {
		return equal
	}
	return !equal
}

// ValidateValue implements ValueValidator
func (e *ComponentHashEvaluator) ValidateValue(cond *types.PolicyCondition) error {
	_, err := parseHash(cond.Value)
	return err
}

func parseHash(raw string) (types.Hash, error) {
	raw = strings.TrimSpace(raw)
	var h types.Hash
	if strings.HasPrefix(raw, "{") {
		var doc struct {
			Algorithm string `json:"algorithm"`
			Value     string `json:"value"`
		}
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return types.Hash{}, err
		}
		h = types.Hash{Algorithm: doc.Algorithm, Value: doc.Value}
	} else {
		algorithm, value, ok := strings.Cut(raw, ":")
		if !ok {
			return types.Hash{}, fmt.Errorf("expected algorithm:hex, got %q", raw)
		}
		h = types.Hash{Algorithm: algorithm, Value: value}
	}

	h.Algorithm = types.NormalizeHashAlgorithm(h.Algorithm)
	h.Value = strings.ToLower(strings.TrimSpace(h.Value))

	// sha256 is the OCI digest algorithm, validate it the way image digests are.
	if h.Algorithm == "sha256" {
		digest, err := v1.NewHash(h.Algorithm + ":" + h.Value)
		if err != nil {
			return types.Hash{}, err
		}
		h.Value = digest.Hex
		return h, nil
	}

	size, ok := digestSizes[h.Algorithm]
	if !ok {
		return types.Hash{}, fmt.Errorf("unsupported hash algorithm %q", h.Algorithm)
	}
	decoded, err := hex.DecodeString(h.Value)
	if err != nil {
		return types.Hash{}, err
	}
	if len(decoded) != size {
		return types.Hash{}, fmt.Errorf("wrong number of hex digits for %s: %d", h.Algorithm, len(h.Value))
	}
	return h, nil
}
