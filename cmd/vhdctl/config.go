package main

import (
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const configFileName = "vhdctl.yaml"

const (
	configBlockSize = "block-size"
	configABI       = "abi"
	configRingSlots = "ring-slots"
)

// initConfig loads cfgFile if given, else looks for configFileName in
// the user's home directory, falling back to the built-in defaults
// used throughout the VHD engine and the loopback demo.
func initConfig(cfgFile string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := homedir.Dir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(configFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err == nil {
		log.Debugf("vhdctl: using config file %s", viper.ConfigFileUsed())
	} else {
		log.Debugf("vhdctl: no config file, using defaults: %v", err)
	}

	viper.SetDefault(configBlockSize, 0x200000)
	viper.SetDefault(configABI, "64")
	viper.SetDefault(configRingSlots, 32)
}
