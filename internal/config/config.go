// Package config reads and writes the global ~/.talk/config.toml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/talk/internal/paging"
)

// Config represents the global config file.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	// TimeZone names the zone used to bucket messages into days: "Local",
	// "UTC" or an IANA name.
	TimeZone string `toml:"time_zone"`
	// SenderID is the local user's id, stamped on sent messages.
	SenderID int64  `toml:"sender_id"`
	Paging   Paging `toml:"paging"`
}

// Paging holds list page sizes.
type Paging struct {
	PageSize      int `toml:"page_size"`
	MediaPageSize int `toml:"media_page_size"`
	// TotalCount asks the server for legacy total-count responses instead of
	// has-next flags.
	TotalCount bool `toml:"total_count"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		TimeZone: "Local",
		Paging: Paging{
			PageSize:      paging.DefaultPageSize,
			MediaPageSize: paging.MediaPageSize,
		},
	}
}

// Load reads config from the given path on top of Default. Returns an error
// if the file is missing or invalid.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Paging.PageSize <= 0 {
		return fmt.Errorf("paging.page_size must be positive, got %d", c.Paging.PageSize)
	}
	if c.Paging.MediaPageSize <= 0 {
		return fmt.Errorf("paging.media_page_size must be positive, got %d", c.Paging.MediaPageSize)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves TimeZone. An empty zone is the local one.
func (c *Config) Location() (*time.Location, error) {
	switch c.TimeZone {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("time_zone: %w", err)
	}
	return loc, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
