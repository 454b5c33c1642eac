/*
Package config loads server configuration from the environment.

A .env file in the working directory is honored when present, the same
way the service has always been deployed. Flags for port and database
path stay in cmd/server; everything secret or deployment-specific lives
here.

VARIABLES:
  ADMIN_TOKEN    bearer token for the admin surface (grant, ledger)
  DATABASE_URL   PostgreSQL DSN; empty selects the embedded SQLite store
  APP_ID         default app_id for requests that omit one
  KAFKA_BROKERS  comma-separated broker list; empty disables publishing
  COSTS_FILE     YAML action cost table; empty uses the built-in table
*/
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/warp/credit-engine/credit"
)

// Config is the environment-derived server configuration.
type Config struct {
	AdminToken   string
	DatabaseURL  string
	AppID        string
	KafkaBrokers []string
	CostsFile    string
}

// Load reads .env (if present) and the process environment.
func Load() Config {
	// Missing .env is fine; env vars may be set directly.
	_ = godotenv.Load()

	cfg := Config{
		AdminToken:  os.Getenv("ADMIN_TOKEN"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		AppID:       os.Getenv("APP_ID"),
		CostsFile:   os.Getenv("COSTS_FILE"),
	}
	if cfg.AppID == "" {
		cfg.AppID = "default"
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	return cfg
}

// LoadCosts parses a YAML cost table mapping action names to credit
// prices. An empty path returns the built-in defaults.
//
//	640p: 1
//	1080p: 3
func LoadCosts(path string) (credit.CostTable, error) {
	if path == "" {
		return credit.DefaultCosts(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read costs file: %w", err)
	}

	var costs credit.CostTable
	if err := yaml.Unmarshal(data, &costs); err != nil {
		return nil, fmt.Errorf("parse costs file: %w", err)
	}
	if len(costs) == 0 {
		return nil, fmt.Errorf("costs file %s: no actions defined", path)
	}
	for action, cost := range costs {
		if cost <= 0 {
			return nil, fmt.Errorf("costs file %s: action %q must cost > 0, got %d", path, action, cost)
		}
	}
	return costs, nil
}
