package main

import (
	"fmt"
	"os"
	"strings"
)

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/config"
)

const (
	envPrefix         = "RELAY"
	defaultConfigPath = "configs/relay.yaml"
)

// Keys that may be overridden from the environment, e.g. RELAY_INFERENCE_TOKEN.
var secretKeys = []string{"inference.token", "gateway.token", "redis.password"}

func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "relaybot",
		Short:        "Chat relay bot backed by a hosted text-generation model",
		SilenceUsage: true,
	}

	cobra.OnInitialize(initConfig)

	cmd.PersistentFlags().String("config", defaultConfigPath, "Config file path.")
	cmd.PersistentFlags().String("log-level", "", "Override logging.level (debug|info|warn|error).")
	_ = viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("logging.level", cmd.PersistentFlags().Lookup("log-level"))

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newChannelsCmd())

	return cmd
}

func initConfig() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

// loadConfig reads the YAML file and applies flag and environment overrides.
func loadConfig() (*config.Config, error) {
	path := strings.TrimSpace(viper.GetString("config"))
	if path == "" {
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	applyOverrides(cfg)
	return cfg, nil
}

func applyOverrides(cfg *config.Config) {
	for _, key := range secretKeys {
		v := strings.TrimSpace(viper.GetString(key))
		if v == "" {
			continue
		}
		switch key {
		case "inference.token":
			cfg.Inference.Token = v
		case "gateway.token":
			cfg.Gateway.Token = v
		case "redis.password":
			cfg.Redis.Password = v
		}
	}
	if lvl := strings.TrimSpace(viper.GetString("logging.level")); lvl != "" {
		cfg.Logging.Level = lvl
	}
}
