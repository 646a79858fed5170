package config

import (
	"errors"
	"fmt"
	"io/ioutil"

	"gopkg.in/yaml.v2"
)

// PloverConf is the top-level configuration
type PloverConf struct {
	Path   string     `yaml:"-"`
	Server ServerConf `yaml:"server"`
	DB     DBConf     `yaml:"db"`
	Log    LogConf    `yaml:"log"`
}

// ServerConf configures the HTTP listener
type ServerConf struct {
	Addr string `yaml:"addr"`
}

// DBConf configures the storage driver
type DBConf struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// LogConf configures logging
type LogConf struct {
	Level string `yaml:"level"`
}

// CreateDefaultConfig returns the configuration used when no file or
// field overrides it
func CreateDefaultConfig() PloverConf {
	return PloverConf{
		Server: ServerConf{
			Addr: ":8080",
		},
		DB: DBConf{
			Driver: "file",
			Path:   "./data",
		},
		Log: LogConf{
			Level: "info",
		},
	}
}

// LoadConfig reads, merges, and verifies the configuration at path
func LoadConfig(path string) (*PloverConf, error) {
	var conf PloverConf
	conf.Path = path

	if err := conf.Reload(); err != nil {
		return nil, err
	}

	if err := conf.Verify(); err != nil {
		return nil, err
	}

	return &conf, nil
}

// Reload re-reads the configuration file over the defaults
func (c *PloverConf) Reload() error {
	newConf := CreateDefaultConfig()

	if c.Path != "" {
		data, err := ioutil.ReadFile(c.Path)

		if err != nil {
			return fmt.Errorf("could not read config file %s: %s", c.Path, err.Error())
		}

		if err := yaml.Unmarshal(data, &newConf); err != nil {
			return fmt.Errorf("could not parse config file %s: %s", c.Path, err.Error())
		}
	}

	newConf.Path = c.Path
	*c = newConf

	return nil
}

// Verify rejects configurations the process cannot run with
func (c *PloverConf) Verify() error {
	if c.Server.Addr == "" {
		return errors.New("server addr must not be empty")
	}

	if c.DB.Driver != "file" && c.DB.Driver != "bbolt" {
		return fmt.Errorf("unknown db driver %q, expected file or bbolt", c.DB.Driver)
	}

	if c.DB.Path == "" {
		return errors.New("db path must not be empty")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}

	return nil
}
