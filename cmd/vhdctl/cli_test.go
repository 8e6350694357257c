package main

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djs55/vhddisk/pkg/blkif"
)

func TestAbiFromConfigDefaultsTo64(t *testing.T) {
	viper.Reset()
	assert.Equal(t, blkif.ABI64, abiFromConfig())

	viper.Set(configABI, "32")
	assert.Equal(t, blkif.ABI32, abiFromConfig())
	viper.Reset()
}

func TestCreateDynamicThenServeRoundTrip(t *testing.T) {
	viper.Reset()
	viper.SetDefault(configBlockSize, 0x200000)
	viper.SetDefault(configABI, "64")
	viper.SetDefault(configRingSlots, 8)

	path := filepath.Join(t.TempDir(), "test.vhd")

	require.NoError(t, createDynamicCmd.RunE(createDynamicCmd, []string{path, "4194304"}))
	require.NoError(t, runServeDemo(path))
}
