package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv         string `env:"APP_ENV" envDefault:"development"`
	APIAddr        string `env:"API_ADDR" envDefault:":8080"`
	SchedAddr      string `env:"SCHED_ADDR"`
	PostgresDSN    string `env:"POSTGRES_DSN"`
	MigrationsDir  string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	LeaderLockKey  int64  `env:"LEADER_LOCK_KEY" envDefault:"42"`
	RedisAddr      string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	RedisNamespace string `env:"REDIS_NAMESPACE" envDefault:"resque:"`
	IntervalSec    int    `env:"INTERVAL" envDefault:"5"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"normal"`
	LogFormat      string `env:"LOG_FORMAT" envDefault:"json"`
	ScheduleFile   string `env:"SCHEDULE_FILE"`
}

// Interval is the pause between two scheduler ticks.
func (c Config) Interval() time.Duration { return time.Duration(c.IntervalSec) * time.Second }

func (c Config) validate() error {
	if c.IntervalSec <= 0 {
		return fmt.Errorf("INTERVAL must be a positive number of seconds, got %d", c.IntervalSec)
	}
	switch c.LogLevel {
	case "silent", "normal", "verbose":
	default:
		return fmt.Errorf("LOG_LEVEL must be silent, normal or verbose, got %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}

// Parse reads the configuration from the environment.
func Parse() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return c, err
	}
	return c, c.validate()
}

func Load() Config {
	c, err := Parse()
	if err != nil {
		log.Fatal(err)
	}
	return c
}
