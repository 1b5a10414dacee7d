package devicestore

import (
	"fmt"
	"regexp"
	"strings"
)

// userCodeRegex enforces the XXXX-XXXX display format over the restricted
// charset
var userCodeRegex = regexp.MustCompile(fmt.Sprintf("^[%[1]s]{%[2]d}-[%[1]s]{%[2]d}$",
	userCodeCharset, userCodeGroupSize))

// NormalizeUserCode canonicalizes user input for lookup: uppercased,
// whitespace and separator dashes stripped. Users may type codes with or
// without the dash and in either case.
func NormalizeUserCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, " ", "")
	return strings.ReplaceAll(code, "-", "")
}

// ValidateUserCode checks that user input matches the issued code format
// once canonicalized
func ValidateUserCode(code string) error {
	normalized := NormalizeUserCode(code)
	if len(normalized) != 2*userCodeGroupSize {
		return fmt.Errorf("invalid user code length: got %d characters, want %d", len(normalized), 2*userCodeGroupSize)
	}
	display := normalized[:userCodeGroupSize] + "-" + normalized[userCodeGroupSize:]
	if !userCodeRegex.MatchString(display) {
		return fmt.Errorf("invalid user code: must use charset %s", userCodeCharset)
	}
	return nil
}
