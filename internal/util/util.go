package util

import (
	"github.com/ecozmo/robobridge/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Ecovacs: config.EcovacsConfig{
			Email:     "test@example.com",
			Password:  "hunter2",
			Country:   "us",
			Continent: "na",
		},
		StatusRefreshMillis:  60000,
		CommandTimeoutMillis: 10000,
		InitTimeoutMillis:    30000,
		Port:                 8090,
	}
}
