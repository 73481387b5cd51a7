package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConfigUsesConfiguredSizes(t *testing.T) {
	cfg := &Config{DatabaseURL: "postgres://u:p@localhost:5432/upscaler", DBMaxConns: 4, DBMinConns: 2}
	poolCfg, err := poolConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(4), poolCfg.MaxConns)
	assert.Equal(t, int32(2), poolCfg.MinConns)
	assert.Equal(t, "upscaler", poolCfg.ConnConfig.RuntimeParams["application_name"])
}

func TestPoolConfigKeepsApplicationNameFromURL(t *testing.T) {
	cfg := &Config{DatabaseURL: "postgres://u:p@localhost:5432/upscaler?application_name=worker", DBMaxConns: 1}
	poolCfg, err := poolConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "worker", poolCfg.ConnConfig.RuntimeParams["application_name"])
}

func TestPoolConfigRequiresURL(t *testing.T) {
	_, err := poolConfig(&Config{})
	assert.Error(t, err)
	_, err = poolConfig(nil)
	assert.Error(t, err)
}
