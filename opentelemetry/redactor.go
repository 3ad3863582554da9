package opentelemetry

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	cn "github.com/LerianStudio/lib-eventbus/constants"
	"github.com/LerianStudio/lib-eventbus/security"
	"go.opentelemetry.io/otel/attribute"
)

// RedactionAction selects what happens to a matched value.
type RedactionAction string

const (
	// RedactionMask replaces the value with the redactor's mask string.
	RedactionMask RedactionAction = "mask"
	// RedactionHash replaces the value with a deterministic sha256 digest,
	// keeping correlation possible without exposing the raw value.
	RedactionHash RedactionAction = "hash"
	// RedactionDrop removes the field entirely.
	RedactionDrop RedactionAction = "drop"
)

// RedactionRule matches fields by name and, optionally, by their dotted path
// inside the payload. An empty Action defaults to RedactionMask.
type RedactionRule struct {
	FieldPattern string
	PathPattern  string
	Action       RedactionAction

	fieldRegex *regexp.Regexp
	pathRegex  *regexp.Regexp
}

// Redactor applies an ordered list of redaction rules; the first matching
// rule wins. Safe for concurrent use after construction.
type Redactor struct {
	rules     []RedactionRule
	maskValue string
}

// NewRedactor compiles rules into a Redactor. An empty mask falls back to
// the shared obfuscation placeholder.
func NewRedactor(rules []RedactionRule, mask string) (*Redactor, error) {
	if mask == "" {
		mask = cn.ObfuscatedValue
	}

	compiled := make([]RedactionRule, len(rules))

	for index, rule := range rules {
		if rule.Action == "" {
			rule.Action = RedactionMask
		}

		if rule.FieldPattern != "" {
			fieldRegex, err := regexp.Compile(rule.FieldPattern)
			if err != nil {
				return nil, fmt.Errorf("invalid redaction field pattern at index %d: %w", index, err)
			}

			rule.fieldRegex = fieldRegex
		}

		if rule.PathPattern != "" {
			pathRegex, err := regexp.Compile(rule.PathPattern)
			if err != nil {
				return nil, fmt.Errorf("invalid redaction path pattern at index %d: %w", index, err)
			}

			rule.pathRegex = pathRegex
		}

		compiled[index] = rule
	}

	return &Redactor{rules: compiled, maskValue: mask}, nil
}

// defaultRedactorExtraFields lists payment and identity fields the default
// redactor masks alongside the shared sensitive-field list; each of them is
// also present in that list.
var defaultRedactorExtraFields = []string{"cvv", "ssn", "pin", "cardnumber", "card_number"}

// NewDefaultRedactor masks every field in the shared sensitive-field list.
func NewDefaultRedactor() *Redactor {
	fields := append(append([]string{}, security.DefaultSensitiveFields()...), defaultRedactorExtraFields...)

	rules := make([]RedactionRule, 0, len(fields))
	for _, field := range fields {
		rules = append(rules, RedactionRule{
			FieldPattern: `(?i)^` + regexp.QuoteMeta(field) + `$`,
			Action:       RedactionMask,
		})
	}

	redactor, err := NewRedactor(rules, cn.ObfuscatedValue)
	if err != nil {
		// The patterns above are quoted literals; compilation cannot fail.
		panic(fmt.Sprintf("default redactor rules failed to compile: %v", err))
	}

	return redactor
}

// actionFor returns the action of the first rule matching the field at the
// given dotted path, and whether any rule matched.
func (r *Redactor) actionFor(path, field string) (RedactionAction, bool) {
	if r == nil {
		return RedactionAction(""), false
	}

	for _, rule := range r.rules {
		if rule.fieldRegex != nil && !rule.fieldRegex.MatchString(field) {
			continue
		}

		if rule.pathRegex != nil && !rule.pathRegex.MatchString(path) {
			continue
		}

		if rule.fieldRegex == nil && rule.pathRegex == nil {
			continue
		}

		return rule.Action, true
	}

	return RedactionAction(""), false
}

// redactValue applies the matching rule to value. The second return reports
// whether the field should be dropped entirely.
func (r *Redactor) redactValue(path, field string, value any) (any, bool) {
	action, matched := r.actionFor(path, field)
	if !matched {
		return value, false
	}

	switch action {
	case RedactionDrop:
		return nil, true
	case RedactionHash:
		return hashString(stringifyForHash(value)), false
	default:
		return r.maskValue, false
	}
}

func stringifyForHash(value any) string {
	if s, ok := value.(string); ok {
		return s
	}

	return fmt.Sprintf("%v", value)
}

// hashString returns a deterministic, prefixed sha256 digest of s.
func hashString(s string) string {
	digest := sha256.Sum256([]byte(s))

	return fmt.Sprintf("sha256:%x", digest)
}

// obfuscateStructFields walks decoded JSON data, applying the redactor to
// every map entry. path accumulates dotted field names for path rules.
func obfuscateStructFields(data any, path string, r *Redactor) any {
	switch value := data.(type) {
	case map[string]any:
		result := make(map[string]any, len(value))

		for key, entry := range value {
			childPath := joinFieldPath(path, key)

			if action, matched := r.actionFor(childPath, key); matched {
				switch action {
				case RedactionDrop:
					continue
				case RedactionHash:
					result[key] = hashString(stringifyForHash(entry))
				default:
					result[key] = r.maskValue
				}

				continue
			}

			result[key] = obfuscateStructFields(entry, childPath, r)
		}

		return result

	case []any:
		result := make([]any, len(value))

		for index, item := range value {
			result[index] = obfuscateStructFields(item, path, r)
		}

		return result

	default:
		return data
	}
}

func joinFieldPath(path, field string) string {
	if path == "" {
		return field
	}

	return path + "." + field
}

// ObfuscateStruct returns a copy of valueStruct with sensitive fields
// redacted. A nil redactor returns the input unchanged.
func ObfuscateStruct(valueStruct any, redactor *Redactor) (any, error) {
	if redactor == nil {
		return valueStruct, nil
	}

	data, err := decodeAsJSONValue(valueStruct)
	if err != nil {
		return nil, err
	}

	return obfuscateStructFields(data, "", redactor), nil
}

// RedactJSONText applies the redactor to a JSON object or array carried as
// text, returning the redacted rendering. Non-JSON text and nil redactors
// pass through unchanged, so callers can run every payload through it.
func RedactJSONText(text string, r *Redactor) string {
	if r == nil {
		return text
	}

	trimmed := strings.TrimSpace(text)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return text
	}

	decoder := json.NewDecoder(strings.NewReader(trimmed))
	decoder.UseNumber()

	var data any
	if err := decoder.Decode(&data); err != nil {
		return text
	}

	redacted, err := json.Marshal(obfuscateStructFields(data, "", r))
	if err != nil {
		return text
	}

	return string(redacted)
}

// decodeAsJSONValue round-trips value through JSON, preserving numeric
// precision via json.Number.
func decodeAsJSONValue(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var decoded any
	if err := decoder.Decode(&decoded); err != nil {
		return nil, err
	}

	return decoded, nil
}

// redactAttributesByKey applies the redactor to span attributes, matching
// rules against each attribute key's final dotted segment.
func redactAttributesByKey(attrs []attribute.KeyValue, r *Redactor) []attribute.KeyValue {
	if r == nil || len(attrs) == 0 {
		return attrs
	}

	result := make([]attribute.KeyValue, 0, len(attrs))

	for _, attr := range attrs {
		key := string(attr.Key)

		field := key
		if idx := strings.LastIndex(key, "."); idx >= 0 {
			field = key[idx+1:]
		}

		action, matched := r.actionFor(key, field)
		if !matched {
			result = append(result, attr)

			continue
		}

		switch action {
		case RedactionDrop:
		case RedactionHash:
			result = append(result, attribute.String(key, hashString(attr.Value.Emit())))
		default:
			result = append(result, attribute.String(key, r.maskValue))
		}
	}

	return result
}
