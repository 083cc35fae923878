// Package config loads the ambient configuration of cmd/reflow-gateway: a
// YAML file overlaid onto built-in defaults. The file's path comes from the
// gateway's -config flag; no command-line flag overrides an individual field.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every knob the control stack and its collaborators need.
type Config struct {
	SerialPort string `yaml:"serial_port"`
	SerialBaud int    `yaml:"serial_baud"`
	GPIOLine   string `yaml:"gpio_line"`

	SharedMemPath string `yaml:"shared_mem_path"`
	SupervisorBin string `yaml:"supervisor_bin"`

	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	CurveDir      string `yaml:"curve_dir"`
	ArchiveDBPath string `yaml:"archive_db_path"`

	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
}

// Default returns the baseline configuration named across §6/§10 of the
// specification this repository implements.
func Default() Config {
	return Config{
		SerialPort: "/dev/ttyUSB0",
		SerialBaud: 115200,
		GPIOLine:   "GPIO15",

		SharedMemPath: "/var/run/reflow-mpc/cells",
		SupervisorBin: "reflow-supervisor",

		HTTPAddr:    ":8080",
		MetricsAddr: ":2112",

		CurveDir:      "saved_curves",
		ArchiveDBPath: "reflow-archive.db",

		RedisAddr:    "localhost:6379",
		RedisChannel: "reflow:status",
	}
}

// Load reads a YAML file at path and overlays it onto Default(). A missing
// file is not an error — the defaults stand alone for local/dev use.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
