// Package config loads typed configuration structs from environment variables.
//
// Structs declare their variables with caarlos0/env tags; a .env file in the
// working directory is read once through godotenv before the first parse:
//
//	type Config struct {
//		PollInterval time.Duration `env:"MAILQUEUE_POLL_INTERVAL" envDefault:"1m"`
//		BatchSize    int           `env:"MAILQUEUE_BATCH_SIZE" envDefault:"20"`
//	}
//
//	var cfg Config
//	config.MustLoad(&cfg)
//
// Each struct type is parsed once per process. Tests that change variables
// between loads call Reset.
package config
