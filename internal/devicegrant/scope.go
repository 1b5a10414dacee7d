package devicegrant

import "strings"

// ParseScope splits a raw scope string into an ordered list of scope tokens.
// Separators are tried in priority order; the first separator that actually
// splits the string into more than one piece is adopted and iteration stops.
// If no separator fires the whole string is a single scope value. An empty
// raw string yields nil.
//
// Trying separators in order supports heterogeneous clients that delimit
// scopes with either spaces or commas, at the cost of not supporting scope
// values that legitimately contain a lower-priority separator.
func ParseScope(raw string, separators []string) []string {
	if raw == "" {
		return nil
	}
	for _, sep := range separators {
		if parts := strings.Split(raw, sep); len(parts) > 1 {
			return parts
		}
	}
	return []string{raw}
}
