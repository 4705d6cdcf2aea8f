package ledger

import "strings"

// RedactedValue is the placeholder used for credential-shaped fields in
// audit snapshots. Application logging has its own allowlist-based
// observability/logging.MaskField, which uses "[REDACTED]".
const RedactedValue = "[redacted]"

// credentialKeys are field-name fragments that, when found anywhere in a
// dotted snapshot path, trigger redaction of that field's value before
// hashing, per spec.md §4.1.
var credentialKeys = []string{
	"accesstoken",
	"apikey",
	"apisecret",
	"secretkey",
	"password",
	"token",
	"connectioncredentials",
	"_principalid",
}

// isCredentialKey reports whether key (case-insensitively) matches one of
// the credential-shaped field patterns.
func isCredentialKey(key string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range credentialKeys {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// Redact walks snapshot recursively, replacing the value of any key
// matching a credential pattern with RedactedValue, and returns the
// redacted copy along with the dotted field paths it touched. The input is
// never mutated.
func Redact(snapshot map[string]interface{}) (map[string]interface{}, []string) {
	var fields []string
	out := redactValue("", snapshot, &fields)
	redactedMap, _ := out.(map[string]interface{})
	if redactedMap == nil {
		redactedMap = map[string]interface{}{}
	}
	return redactedMap, fields
}

func redactValue(path string, v interface{}, fields *[]string) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			if isCredentialKey(k) {
				out[k] = RedactedValue
				*fields = append(*fields, childPath)
				continue
			}
			out[k] = redactValue(childPath, child, fields)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = redactValue(path, child, fields)
		}
		return out
	default:
		return v
	}
}
