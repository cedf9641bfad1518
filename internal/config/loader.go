package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// envKeys are bound explicitly: AutomaticEnv alone is invisible to
// Unmarshal for keys the config file does not mention.
var envKeys = []string{
	"remote.base_url", "remote.timeout",
	"remote.paths.cart", "remote.paths.add", "remote.paths.remove", "remote.paths.orders",
	"session.state_path",
	"store.concurrency", "store.clear_parallelism",
	"checkout.rule",
	"journal.enabled", "journal.path",
	"status.enabled", "status.http_addr",
	"telemetry.exporter",
	"log_level", "log_format", "dev_mode",
}

// InitViper points viper at configFile, or at the first cartsync.yaml or
// cartsync.yml in the search paths, and enables CARTSYNC_* overrides
// (CARTSYNC_REMOTE_BASE_URL sets remote.base_url). The search only
// accepts YAML extensions, so a cartsync binary in the working directory
// is never read as config.
func InitViper(configFile string) {
	if configFile == "" {
		configFile = findConfigFileInPaths(searchPaths())
	}
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		// Nothing to search: ReadInConfig reports ConfigFileNotFoundError.
		viper.SetConfigName("cartsync")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CARTSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
}

// searchPaths lists ".", ~/.cartsync and the system config directory.
func searchPaths() []string {
	paths := []string{".", DataDir()}
	switch {
	case runtime.GOOS != "windows":
		paths = append(paths, "/etc/cartsync")
	case os.Getenv("ProgramData") != "":
		paths = append(paths, filepath.Join(os.Getenv("ProgramData"), "cartsync"))
	}
	return paths
}

// findConfigFileInPaths returns the first cartsync.yaml or cartsync.yml in
// paths, or "".
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, name := range []string{"cartsync.yaml", "cartsync.yml"} {
			if path := filepath.Join(dir, name); fileExists(path) {
				return path
			}
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// LoadConfig reads the configuration file, applies environment overrides,
// defaults and dev defaults, and validates the result.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw is LoadConfig without dev defaults and validation, for
// callers that apply flag overrides first.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the loaded config file, or "" when none was found.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
