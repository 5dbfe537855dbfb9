package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env            string     `yaml:"env" env-default:"local"`
	StoragePath    string     `yaml:"storage_path" env:"STORAGE_PATH" env-required:"true"`
	HTTP           HTTPConfig `yaml:"http"`
	MigrationsPath string     `yaml:"migrations_path" env:"MIGRATIONS_PATH"`
	// MaxDevices is the hard cap on concurrently registered devices per account.
	MaxDevices int `yaml:"max_devices" env:"MAX_DEVICES" env-default:"3"`
	// HeartbeatInterval is advertised to clients; the server itself never
	// expires sessions on it.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL" env-default:"30s"`
	Auth              AuthConfig    `yaml:"auth"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port" env-default:"8080"`
	Timeout        time.Duration `yaml:"timeout" env-default:"10s"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type AuthConfig struct {
	// Secret verifies identity tokens minted by the external identity provider.
	Secret string `yaml:"secret" env:"AUTH_SECRET" env-required:"true"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("failed to read config: " + err.Error())
	}

	if cfg.MaxDevices < 1 {
		panic("max_devices must be a positive integer")
	}

	return &cfg
}

// fetchConfigPath fetches config path from command line flag or environment variable.
// Priority: flag > env > default.
// Default value is empty string.
func fetchConfigPath() string {
	var res string

	if !flag.Parsed() {
		flag.StringVar(&res, "config", "", "path to config file")
	}
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
