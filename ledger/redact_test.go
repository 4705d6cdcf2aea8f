package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"governor/ledger"
)

func TestRedactNestedAndCaseInsensitive(t *testing.T) {
	snapshot := map[string]interface{}{
		"principal": map[string]interface{}{
			"ACCESSTOKEN": "secret-value",
			"name":        "Ada Lovelace",
		},
		"connections": []interface{}{
			map[string]interface{}{"password": "hunter2"},
			map[string]interface{}{"label": "primary"},
		},
	}

	redacted, fields := ledger.Redact(snapshot)

	principal := redacted["principal"].(map[string]interface{})
	require.Equal(t, ledger.RedactedValue, principal["ACCESSTOKEN"])
	require.Equal(t, "Ada Lovelace", principal["name"])

	connections := redacted["connections"].([]interface{})
	require.Equal(t, ledger.RedactedValue, connections[0].(map[string]interface{})["password"])
	require.Equal(t, "primary", connections[1].(map[string]interface{})["label"])

	require.Contains(t, fields, "principal.ACCESSTOKEN")
	require.Contains(t, fields, "connections.password")
}

func TestRedactDoesNotMutateInput(t *testing.T) {
	snapshot := map[string]interface{}{"token": "abc"}
	_, _ = ledger.Redact(snapshot)
	require.Equal(t, "abc", snapshot["token"])
}
