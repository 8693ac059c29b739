package cli

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	cfgName string
)

func initCobra() {

	viper.SetEnvPrefix("minipolicer")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	configFolder, err := xdg.ConfigFile("minipolicer")
	if err != nil {
		slog.Error("Failed to retrieve xdg config folder", "err", err)
		os.Exit(1)
	}

	slog.Debug("Folders configured", "config", configFolder)

	if cfgFile == "" {
		cfgFile = os.Getenv("MINIPOLICER_CONFIG")
	}

	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
			slog.Error("Config file does not exist", "path", cfgFile, "err", err)
			os.Exit(1)
		}

		viper.SetConfigType("yaml")
		viper.SetConfigFile(cfgFile)

		if err = viper.ReadInConfig(); err != nil {
			slog.Error("Unable to read config", "path", cfgFile, "err", err)
			os.Exit(1)
		}

		slog.Debug("Using config file", "path", cfgFile)
		return
	}

	viper.AddConfigPath(configFolder)
	viper.AddConfigPath("/usr/local/etc/minipolicer")
	viper.AddConfigPath("/etc/minipolicer")

	if cfgName == "" {
		cfgName = os.Getenv("MINIPOLICER_CONFIG_NAME")
	}

	if cfgName == "" {
		cfgName = "default"
	}

	viper.SetConfigName(cfgName)

	if err = viper.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			slog.Error("Unable to read config", "err", err)
			os.Exit(1)
		}
	}

	slog.Debug("Using config name", "name", cfgName)
}
