package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain array", `[{"fields":{}}]`, `[{"fields":{}}]`},
		{"json fence", "```json\n[{\"fields\":{}}]\n```", `[{"fields":{}}]`},
		{"bare fence", "```\n{\"fields\":{}}\n```", `{"fields":{}}`},
		{"prose around array", "Here you go:\n[1, 2]\nThanks", `[1, 2]`},
		{"prose around object", `Result: {"a": [1]} done`, `{"a": [1]}`},
		{"no json", "nothing here", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}

func TestParseResults_Array(t *testing.T) {
	reply := "```json\n" + `[
	  {"fields": {"address": "12 Oak Ave", "bedrooms": 3},
	   "field_confidences": {"address": 97, "bedrooms": 80.6}},
	  {"fields": {"address": "14 Oak Ave"}}
	]` + "\n```"

	results, err := parseResults(reply)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "12 Oak Ave", results[0].Address())
	assert.Equal(t, float64(3), results[0].Fields["bedrooms"])
	assert.Equal(t, 97, results[0].Confidence("address"))
	assert.Equal(t, 81, results[0].Confidence("bedrooms"))
	assert.Empty(t, results[1].FieldConfidences)
}

func TestParseResults_SingleObject(t *testing.T) {
	results, err := parseResults(`{"fields": {"address": "1 Main St"}, "field_confidences": {"address": 90}}`)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1 Main St", results[0].Address())
}

func TestParseResults_PropertiesWrapper(t *testing.T) {
	results, err := parseResults(`{"properties": [{"fields": {"address": "A"}}, {"fields": {"address": "B"}}]}`)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "B", results[1].Address())
}

func TestParseResults_Empty(t *testing.T) {
	results, err := parseResults(`[]`)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestParseResults_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"not json", "sorry, I cannot help", "decode reply"},
		{"missing fields", `[{"field_confidences": {}}]`, "schema"},
		{"confidence out of range", `[{"fields": {}, "field_confidences": {"a": 140}}]`, "schema"},
		{"fields not object", `[{"fields": "x"}]`, "schema"},
		{"scalar", `42`, "schema"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseResults(tt.reply)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
