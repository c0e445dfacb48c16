// Package environment holds evalforge's process-wide configuration: store
// and temp directories, core budget, and the addresses a worker or server
// listens on. Grounded on FollowTheProcess/spok's cli/app.Options +
// app.setup(): a single struct built once at startup and threaded
// explicitly through the program (the Design Notes' explicit-reference,
// not-global-state guidance), with an upward directory search for a
// default config file and an auto-loaded sibling .env, exactly as spok
// locates a spokfile and loads its .env.
package environment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigName is the default config file name environment.Find looks for,
// playing the role spok's file.NAME ("spokfile") plays for the DSL.
const ConfigName = "evalforge.yaml"

// Config is evalforge's process-wide configuration ("Design
// Notes" ambient-config section, expanded by SPEC_FULL.md's AMBIENT STACK).
type Config struct {
	StoreDir    string `yaml:"store_dir"`
	TempDir     string `yaml:"temp_dir"`
	NumCores    int32  `yaml:"num_cores"`
	RPCAddress  string `yaml:"rpc_address"`
	HTTPAddress string `yaml:"http_address"`
	Verbose     bool   `yaml:"verbose"`
}

// Default returns a Config with reasonable values for running out of a
// single directory: everything rooted under dir, one core reserved per
// logical CPU count the caller supplies.
func Default(dir string, numCores int32) Config {
	return Config{
		StoreDir:    filepath.Join(dir, "store"),
		TempDir:     filepath.Join(dir, "tmp"),
		NumCores:    numCores,
		RPCAddress:  "127.0.0.1:9876",
		HTTPAddress: "127.0.0.1:9877",
	}
}

// Load reads and parses the config file at path, then auto-loads a
// sibling .env file into the process environment if one exists (spok's
// app.setup() does the same beside the spokfile).
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("environment: could not read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("environment: could not parse %s: %w", path, err)
	}

	dotenv := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(dotenv); err == nil {
		if err := godotenv.Load(dotenv); err != nil {
			return Config{}, fmt.Errorf("environment: could not load %s: %w", dotenv, err)
		}
	}

	return cfg, nil
}

// Find climbs the directory tree from start to stop looking for
// ConfigName, exactly as spok's file.Find climbs looking for a spokfile.
// If stop is reached without finding one, an error is returned.
func Find(start, stop string) (string, error) {
	start, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("environment: could not resolve %s: %w", start, err)
	}
	stop, err = filepath.Abs(stop)
	if err != nil {
		return "", fmt.Errorf("environment: could not resolve %s: %w", stop, err)
	}

	for {
		entries, err := os.ReadDir(start)
		if err != nil {
			return "", fmt.Errorf("environment: could not read directory %s: %w", start, err)
		}
		for _, e := range entries {
			if !e.IsDir() && e.Name() == ConfigName {
				return filepath.Join(start, e.Name()), nil
			}
		}
		if start == stop {
			return "", errors.New("environment: no " + ConfigName + " found")
		}
		parent := filepath.Dir(start)
		if parent == start {
			return "", errors.New("environment: no " + ConfigName + " found")
		}
		start = parent
	}
}
