package topics

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// validateSegment checks one level of a topic. Segments must be non-empty
// UTF-8 without separators, wildcards, or NUL: ids containing any of these
// would break the deterministic one-topic-per-channel invariant.
func validateSegment(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSegment)
	}
	if strings.ContainsAny(s, "/+#") {
		return fmt.Errorf("%w: %q contains separator or wildcard", ErrInvalidSegment, s)
	}
	if !utf8.ValidString(s) || strings.ContainsAny(s, " \x00") {
		return fmt.Errorf("%w: %q is not clean UTF-8", ErrInvalidSegment, s)
	}
	return nil
}
