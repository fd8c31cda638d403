package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the hearthctl config file (~/.config/hearthctl/config.yaml).
type Config struct {
	// ServerURL is the backend WebSocket endpoint.
	ServerURL string `yaml:"server_url"`
	// DataDir holds the local sqlite store. Defaults next to the config.
	DataDir string `yaml:"data_dir"`
	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	logLevel zerolog.Level
	path     string
}

type umConfig Config

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	if err := node.Decode((*umConfig)(c)); err != nil {
		return err
	}
	return c.PostProcess()
}

func (c *Config) PostProcess() error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	c.logLevel = level
	return nil
}

func defaultConfigPath() string {
	baseDir, _ := os.UserConfigDir()
	return filepath.Join(baseDir, "hearthctl", "config.yaml")
}

func loadConfig(path string) (*Config, error) {
	cfg := &Config{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if perr := cfg.PostProcess(); perr != nil {
			return nil, perr
		}
		return cfg, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read config at %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config at %s: %w", path, err)
	}
	cfg.path = path
	return cfg, nil
}

func (c *Config) dataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return filepath.Dir(c.path)
}

func (c *Config) storePath() string {
	return filepath.Join(c.dataDir(), "hearthctl.db")
}

// watchConfig reloads the config whenever the file changes and hands
// the result to onReload. Used by long-running commands so a log-level
// edit takes effect without restarting the session. Reload failures are
// logged and the previous config stays active.
func watchConfig(path string, log zerolog.Logger, onReload func(*Config)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace the file, which drops a
	// watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path || !event.Op.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				cfg, err := loadConfig(path)
				if err != nil {
					log.Warn().Err(err).Msg("Config changed but reload failed, keeping previous config")
					continue
				}
				log.Info().Msg("Config reloaded")
				onReload(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Config watcher error")
			}
		}
	}()
	return watcher, nil
}
