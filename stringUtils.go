package commons

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var uuidPathPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// RemoveAccents strips diacritical marks, mapping accented characters to
// their base form.
func RemoveAccents(word string) (string, error) {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	result, _, err := transform.String(t, word)
	if err != nil {
		return "", err
	}

	return result, nil
}

// RemoveSpaces strips every whitespace character from word.
func RemoveSpaces(word string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}

		return r
	}, word)
}

// IsNilOrEmpty reports whether s is nil, blank, or one of the serialized
// null markers that upstream systems sometimes send as literal strings.
func IsNilOrEmpty(s *string) bool {
	if s == nil {
		return true
	}

	trimmed := strings.TrimSpace(*s)

	return trimmed == "" || trimmed == "null" || trimmed == "nil"
}

// CamelToSnakeCase converts a CamelCase identifier to snake_case.
func CamelToSnakeCase(str string) string {
	var builder strings.Builder

	for index, character := range str {
		if unicode.IsUpper(character) {
			if index > 0 {
				builder.WriteRune('_')
			}

			builder.WriteRune(unicode.ToLower(character))

			continue
		}

		builder.WriteRune(character)
	}

	return builder.String()
}

// RegexIgnoreAccents rewrites each letter of regex into a character class
// matching the letter and its accented variants, so stored accented text
// matches unaccented queries and vice versa.
func RegexIgnoreAccents(regex string) string {
	accentVariants := map[rune]string{
		'a': "[aáàãâ]", 'á': "[aáàãâ]", 'à': "[aáàãâ]", 'ã': "[aáàãâ]", 'â': "[aáàãâ]",
		'e': "[eéèê]", 'é': "[eéèê]", 'è': "[eéèê]", 'ê': "[eéèê]",
		'i': "[iíìî]", 'í': "[iíìî]", 'ì': "[iíìî]", 'î': "[iíìî]",
		'o': "[oóòõô]", 'ó': "[oóòõô]", 'ò': "[oóòõô]", 'õ': "[oóòõô]", 'ô': "[oóòõô]",
		'u': "[uúùû]", 'ú': "[uúùû]", 'ù': "[uúùû]", 'û': "[uúùû]",
		'c': "[cç]", 'ç': "[cç]",
	}

	var builder strings.Builder

	for _, character := range regex {
		lower := unicode.ToLower(character)

		variant, ok := accentVariants[lower]
		if !ok {
			builder.WriteRune(character)

			continue
		}

		builder.WriteString(variant)
	}

	return builder.String()
}

// RemoveChars strips every rune present in the chars set from str.
func RemoveChars(str string, chars map[string]bool) string {
	var builder strings.Builder

	for _, character := range str {
		if chars[string(character)] {
			continue
		}

		builder.WriteRune(character)
	}

	return builder.String()
}

// ReplaceUUIDWithPlaceholder substitutes every UUID in path with ":id",
// collapsing high-cardinality identifiers out of route labels.
func ReplaceUUIDWithPlaceholder(path string) string {
	return uuidPathPattern.ReplaceAllString(path, ":id")
}

// ValidateServerAddress accepts only host:port formatted addresses,
// returning "" for anything else.
func ValidateServerAddress(value string) string {
	host, port, err := net.SplitHostPort(value)
	if err != nil || host == "" || port == "" {
		return ""
	}

	return value
}

// HashSHA256 returns the hex-encoded SHA-256 digest of input.
func HashSHA256(input string) string {
	digest := sha256.Sum256([]byte(input))

	return hex.EncodeToString(digest[:])
}

// StringToInt parses s as an int, falling back to 100 when unparsable.
func StringToInt(s string) int {
	value, err := strconv.Atoi(s)
	if err != nil {
		return 100
	}

	return value
}
