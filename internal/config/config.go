// Package config parses the process's flag/env configuration, with an
// optional YAML file layer underneath. Grounded on the teacher's main()
// flag set (-httpport, -serial, -mqtt, -debug), generalized from a serial
// device path to a Moonraker base URL + API key since this subsystem
// talks to the printer host over HTTP, not a UART. The YAML file layer is
// grounded on the pack's other daemons (kennedn-restate-go,
// cybojanek-gridfan) which both load a YAML config file the teacher
// itself doesn't -- useful here since a Moonraker URL and MQTT broker
// address are the kind of per-install settings those daemons also keep
// out of the flag set.
package config

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds everything main needs to wire the process together.
type Config struct {
	HTTPPort int `yaml:"http_port"`

	MoonrakerURL    string `yaml:"moonraker_url"`
	MoonrakerAPIKey string `yaml:"moonraker_api_key"`

	MQTTBrokerURL string `yaml:"mqtt_broker_url"`
	MQTTUsername  string `yaml:"mqtt_username"`
	MQTTPassword  string `yaml:"mqtt_password"`

	Debug bool `yaml:"debug"`
}

// Parse reads an optional YAML file (-config) first, then overlays flags
// and finally the MOONRAKER_APIKEY/MQTTUSER/MQTTPASS env vars -- the same
// env var teacher's own ConnectMqtt call site reads a password from
// (os.Getenv("MQTTPASS")). Flags and env vars always win over the file
// since they're the explicit per-run override.
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("dryerd", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	httpPort := fs.Int("httpport", 0, "HTTP port to listen on (default 8080)")
	moonrakerURL := fs.String("moonraker", "", "base URL of the Moonraker instance (e.g. http://printer.local:7125)")
	mqttBrokerURL := fs.String("mqtt", "", "url for mqtt broker")
	debug := fs.Bool("debug", false, "enable debug log level")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{HTTPPort: 8080}
	if *configPath != "" {
		loaded, err := loadFile(*configPath)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}

	if *httpPort != 0 {
		cfg.HTTPPort = *httpPort
	}
	if *moonrakerURL != "" {
		cfg.MoonrakerURL = *moonrakerURL
	}
	if *mqttBrokerURL != "" {
		cfg.MQTTBrokerURL = *mqttBrokerURL
	}
	if *debug {
		cfg.Debug = true
	}
	if v := os.Getenv("MOONRAKER_APIKEY"); v != "" {
		cfg.MoonrakerAPIKey = v
	}
	if v := os.Getenv("MQTTUSER"); v != "" {
		cfg.MQTTUsername = v
	}
	if v := os.Getenv("MQTTPASS"); v != "" {
		cfg.MQTTPassword = v
	}

	if cfg.MoonrakerURL == "" {
		return Config{}, fmt.Errorf("must provide -moonraker or moonraker_url in -config")
	}

	return cfg, nil
}

func loadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Config{HTTPPort: 8080}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
