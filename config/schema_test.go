package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)

	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, "Claims Configuration", schema["title"])

	props, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok)
	for _, key := range []string{"version", "store", "triangulation", "heal"} {
		assert.Contains(t, props, key)
	}
	assert.NotContains(t, props, "Extensions")
	assert.NotContains(t, props, "SourcePath")
}

func TestSchemaValidatorRejectsUnknownDriver(t *testing.T) {
	v, err := NewSchemaValidator()
	require.NoError(t, err)

	cfg := &Config{}
	cfg.SetDefaults()
	require.NoError(t, v.Validate(cfg))

	cfg.Store.Driver = "oracle"
	err = v.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/store/driver")
}
