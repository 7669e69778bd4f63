package entity

import (
	"errors"
	"fmt"
)

// Validate checks a [CanonicalEntity] for required fields.
//
// Rules:
//   - DisplayName must be non-empty.
//   - Kind must be a recognised [Kind].
//   - Aliases must not contain the empty string.
//   - OccurrenceCount must not be negative.
func Validate(e *CanonicalEntity) error {
	var errs []error

	if e.DisplayName == "" {
		errs = append(errs, errors.New("display name must not be empty"))
	}

	if !e.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("kind %q is not a recognised entity kind", e.Kind))
	}

	for i, a := range e.Aliases {
		if a == "" {
			errs = append(errs, fmt.Errorf("alias[%d]: must not be empty", i))
		}
	}

	if e.OccurrenceCount < 0 {
		errs = append(errs, fmt.Errorf("occurrence count %d must not be negative", e.OccurrenceCount))
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
