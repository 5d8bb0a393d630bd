package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
)

var ErrConfigNotFound = errors.New("config not found")

// GetConfigPath returns ~/.config/speechrelay/config.toml, creating the directory.
func GetConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}

	dir := filepath.Join(configDir, "speechrelay")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return filepath.Join(dir, "config.toml"), nil
}

// ResolvePath returns path if set, the default location otherwise.
func ResolvePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return GetConfigPath()
}

// Load reads the config file at path. Keys missing from the file keep their
// defaults. A missing file is reported with ErrConfigNotFound together with a
// usable default configuration, so the server can still run on environment
// credentials.
func Load(path string) (*Config, error) {
	configPath, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return config, fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat config file %s: %w", configPath, err)
	}

	log.Debug("loading configuration", "path", configPath)
	meta, err := toml.DecodeFile(configPath, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		log.Warn("unknown configuration keys ignored", "path", configPath, "keys", fmt.Sprint(undecoded))
	}

	if config.Providers == nil {
		config.Providers = make(map[string]ProviderConfig)
	}

	return config, nil
}

// Save writes the configuration to path with owner-only permissions, since
// it carries credentials.
func Save(path string, config *Config) error {
	configPath, err := ResolvePath(path)
	if err != nil {
		return err
	}

	tmp := configPath + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	if _, err := file.WriteString(header); err != nil {
		file.Close()
		return fmt.Errorf("failed to write config header: %w", err)
	}
	if err := toml.NewEncoder(file).Encode(config); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close config file: %w", err)
	}

	// rename keeps the watcher from seeing a half-written file
	if err := os.Rename(tmp, configPath); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

const header = `# speechrelay configuration
# Changes to [providers] are picked up by a running server without restart;
# sessions already streaming keep their credentials until their next restart.

`
