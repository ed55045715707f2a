package config

import (
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	Ecovacs  EcovacsConfig `mapstructure:"ecovacs"`

	StatusRefreshMillis  uint32 `mapstructure:"status_refresh_millis"`
	CommandTimeoutMillis uint32 `mapstructure:"command_timeout_millis"`
	InitTimeoutMillis    uint32 `mapstructure:"init_timeout_millis"`
	Port                 uint   `mapstructure:"port"`
	HttpLog              bool   `mapstructure:"http_log"`
}

// EcovacsConfig holds the cloud account credentials and the region
// selector used to route authentication to the correct portal endpoint.
type EcovacsConfig struct {
	Email     string `mapstructure:"email"`
	Password  string `mapstructure:"password"`
	Country   string `mapstructure:"country"`
	Continent string `mapstructure:"continent"`
}

var regionCodeRegexp = regexp.MustCompile("^[a-z]{2}$")

// CheckCountryCode normalizes a two-letter country code to lower case.
func CheckCountryCode(country string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(country))
	if !regionCodeRegexp.MatchString(lower) {
		return "", errors.New("invalid country code. must be a two-letter ISO 3166-1 code")
	}
	return lower, nil
}

// CheckContinentCode normalizes a two-letter continent selector to lower case.
func CheckContinentCode(continent string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(continent))
	if !regionCodeRegexp.MatchString(lower) {
		return "", errors.New("invalid continent code. must be a two-letter selector like eu, na or ww")
	}
	return lower, nil
}
