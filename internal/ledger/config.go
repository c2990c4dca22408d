// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package ledger

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

// Config is ledgerd's on-disk configuration. The supervisor materializes it
// into each node's working directory; ledgerd only ever reads it.
type Config struct {
	Listen       string `toml:"listen"`
	Flavor       string `toml:"flavor"`
	DBDir        string `toml:"db-dir"`
	LogLevel     string `toml:"log-level"`
	FaultHeight  int64  `toml:"fault-height"`
	FaultAccount string `toml:"fault-account"`
}

func (c *Config) Save(path string) error {
	b, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, b, 0600)
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c := new(Config)
	if err := toml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if c.Listen == "" {
		return nil, fmt.Errorf("config: listen address is required")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c, nil
}
