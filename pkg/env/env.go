package env

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/jaywantadh/chunkstore/pkg/logging"
)

// LoadEnv loads the given dotenv files, or .env when none are given.
// Variables already set in the environment win.
func LoadEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		logging.Logger().WithError(err).Debug("No .env file found, using system envs")
	}
}

func GetEnv(key string, fallback string) string {
	if value, exist := os.LookupEnv(key); exist {
		return value
	}
	return fallback
}

// GetEnvInt is GetEnv for integers. Unparsable values fall back.
func GetEnvInt(key string, fallback int) int {
	value, exist := os.LookupEnv(key)
	if !exist {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logging.Logger().WithField("key", key).Warnf("ignoring non-integer value %q", value)
		return fallback
	}
	return n
}
