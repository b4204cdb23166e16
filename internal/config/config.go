package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Addr     string
	LogLevel string

	DBPath     string
	UploadsDir string

	MaxFeaturesPerRequest int

	ServiceTitle    string
	ServiceAbstract string
	ServiceURL      string

	AdminUser string
	AdminPass string

	MetricsEnabled bool
}

func FromEnv() Config {
	return Config{
		Addr:                  getenv("ADDR", ":8000"),
		LogLevel:              getenv("LOG_LEVEL", "info"),
		DBPath:                getenv("DB_PATH", "data/geofeatures.db"),
		UploadsDir:            getenv("UPLOADS_DIR", "uploads"),
		MaxFeaturesPerRequest: getint("MAX_FEATURES_PER_REQUEST", 10000),
		ServiceTitle:          getenv("SERVICE_TITLE", "GeoFeatureService"),
		ServiceAbstract:       getenv("SERVICE_ABSTRACT", "Lightweight WFS 2.0.0 feature server"),
		ServiceURL:            getenv("SERVICE_URL", "http://localhost:8000/wfs"),
		AdminUser:             getenv("ADMIN_USER", "admin"),
		AdminPass:             getenv("ADMIN_PASS", "changeme"),
		MetricsEnabled:        getbool("METRICS_ENABLED", false),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}
