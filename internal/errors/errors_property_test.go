package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestClassificationProperty checks that the retry classification of an error
// survives arbitrary layers of fmt.Errorf wrapping.
func TestClassificationProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("malformed values are never transient", prop.ForAll(
		func(subject, value string, depth int) bool {
			err := wrapN(NewMalformedValue(subject, value, nil), depth)
			return IsMalformedValue(err) && !IsTransient(err) && errors.Is(err, ErrMalformedValue)
		},
		genSubject(),
		gen.AlphaString(),
		gen.IntRange(0, 5),
	))

	properties.Property("transient marking survives wrapping", prop.ForAll(
		func(msg string, depth int) bool {
			err := wrapN(NewTransient(errors.New(msg)), depth)
			return IsTransient(err) && !IsPermanent(err)
		},
		gen.AlphaString(),
		gen.IntRange(0, 5),
	))

	properties.Property("permanent marking wins over transient sentinels", prop.ForAll(
		func(depth int) bool {
			err := wrapN(NewPermanent(ErrTimeout), depth)
			return IsPermanent(err) && !IsTransient(err)
		},
		gen.IntRange(0, 5),
	))

	properties.Property("nil errors stay nil", prop.ForAll(
		func() bool {
			return NewTransient(nil) == nil && NewPermanent(nil) == nil
		},
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func wrapN(err error, depth int) error {
	for i := 0; i < depth; i++ {
		err = fmt.Errorf("layer %d: %w", i, err)
	}
	return err
}

func genSubject() gopter.Gen {
	return gen.OneConstOf(
		"LICENSE",
		"LICENSE_GROUP",
		"COORDINATES",
		"VERSION",
		"COMPONENT_HASH",
		"EXPRESSION",
	)
}
