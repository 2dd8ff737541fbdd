// Package config handles stackc.toml tool configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file the front-ends look for.
const FileName = "stackc.toml"

// Config holds the settings shared by the command-line front-ends.
type Config struct {
	Run     Run     `toml:"run"`
	Desktop Desktop `toml:"desktop"`
}

// Run configures plain program execution.
type Run struct {
	// Trace writes one line per executed instruction to stderr.
	Trace bool `toml:"trace"`

	// MaxSteps bounds a run; 0 means unbounded.
	MaxSteps int `toml:"max_steps"`
}

// Desktop configures the visual debugger window.
type Desktop struct {
	Title        string `toml:"title"`
	WindowWidth  int    `toml:"window_width"`
	WindowHeight int    `toml:"window_height"`

	// ClockSpeed is the number of instructions executed per frame
	// while the machine is not paused.
	ClockSpeed int `toml:"clock_speed"`

	// SnapshotPath is where the S key writes machine snapshots.
	SnapshotPath string `toml:"snapshot_path"`
}

// Default returns the configuration used when no stackc.toml exists.
func Default() *Config {
	return &Config{
		Desktop: Desktop{
			Title:        "stackc",
			WindowWidth:  640,
			WindowHeight: 480,
			ClockSpeed:   10,
			SnapshotPath: "stackc-snapshot.zip",
		},
	}
}

// Load parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.applyDefaults()
	return &c, nil
}

// applyDefaults fills fields the file left unset.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Desktop.Title == "" {
		c.Desktop.Title = d.Desktop.Title
	}
	if c.Desktop.WindowWidth <= 0 {
		c.Desktop.WindowWidth = d.Desktop.WindowWidth
	}
	if c.Desktop.WindowHeight <= 0 {
		c.Desktop.WindowHeight = d.Desktop.WindowHeight
	}
	if c.Desktop.ClockSpeed <= 0 {
		c.Desktop.ClockSpeed = d.Desktop.ClockSpeed
	}
	if c.Desktop.SnapshotPath == "" {
		c.Desktop.SnapshotPath = d.Desktop.SnapshotPath
	}
}

// FindAndLoad walks up from startDir to find a stackc.toml file, then loads
// and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}
