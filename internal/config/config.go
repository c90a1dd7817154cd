// Package config builds the single Config value geodash runs with.
//
// Values come from an optional .env file (loaded with godotenv), then the
// process environment, then command-line flags applied by the cli package.
// The Config is built once at startup and passed by pointer to every
// component that needs it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultContentsURL = "http://www.stats.gov.cn/tjsj/pcsj/rkpc/6rp/left.htm"
	DefaultUserAgent   = "geodash/1.0 (census choropleth dashboard)"
)

type Config struct {
	DataDir     string
	ContentsURL string
	IndexFile   string
	TableSuffix string
	PageTypes   string
	JournalPath string

	UserAgent    string
	FetchTimeout time.Duration
	FetchRetries int
	Charset      string

	LocationLabel string
	TotalLabel    string

	GeoJSONPath  string
	GeoAliasFile string
	FeatureIDKey string

	ListenAddr string
	MapCenter  [2]float64
	MapZoom    float64
	ColorScale string

	LogLevel string
}

// Load reads envFile (if it exists) and the environment. An empty envFile
// means ".env" in the working directory; a missing file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	cfg := &Config{
		DataDir:     getEnv("GEODASH_DATA_DIR", "~/.local/share/geodash"),
		ContentsURL: getEnv("GEODASH_CONTENTS_URL", DefaultContentsURL),
		IndexFile:   getEnv("GEODASH_INDEX_FILE", "left.htm"),
		TableSuffix: getEnv("GEODASH_TABLE_SUFFIX", ".json"),
		PageTypes:   getEnv("GEODASH_PAGE_TYPES", "ABf"),
		JournalPath: getEnv("GEODASH_JOURNAL", ""),

		UserAgent:    getEnv("GEODASH_USER_AGENT", DefaultUserAgent),
		FetchTimeout: time.Duration(getEnvInt("GEODASH_FETCH_TIMEOUT_SEC", 30)) * time.Second,
		FetchRetries: getEnvInt("GEODASH_FETCH_RETRIES", 2),
		Charset:      getEnv("GEODASH_CHARSET", ""),

		LocationLabel: getEnv("GEODASH_LOCATION_LABEL", "地区"),
		TotalLabel:    getEnv("GEODASH_TOTAL_LABEL", "全国"),

		GeoJSONPath:  getEnv("GEODASH_GEOJSON", "china_province.geojson"),
		GeoAliasFile: getEnv("GEODASH_GEO_ALIASES", filepath.Join("configs", "province_aliases.json")),
		FeatureIDKey: getEnv("GEODASH_FEATURE_ID_KEY", "NL_NAME_1"),

		ListenAddr: getEnv("GEODASH_LISTEN", "127.0.0.1:8050"),
		MapCenter: [2]float64{
			getEnvFloat("GEODASH_MAP_CENTER_LAT", 37.110573),
			getEnvFloat("GEODASH_MAP_CENTER_LON", 106.493924),
		},
		MapZoom:    getEnvFloat("GEODASH_MAP_ZOOM", 3),
		ColorScale: getEnv("GEODASH_COLOR_SCALE", "Viridis"),

		LogLevel: getEnv("LOG_LEVEL", "INFO"),
	}

	return cfg, nil
}

// Finalize expands the data directory, creates it and fills in paths derived
// from it. Call it after flag overrides have been applied.
func (c *Config) Finalize() error {
	dir, err := ExpandHome(c.DataDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	c.DataDir = dir

	if strings.TrimSpace(c.JournalPath) == "" {
		c.JournalPath = filepath.Join(dir, "journal.db")
	}
	if strings.TrimSpace(c.PageTypes) == "" {
		return fmt.Errorf("GEODASH_PAGE_TYPES must not be empty")
	}
	if c.FetchRetries < 0 {
		c.FetchRetries = 0
	}
	return nil
}

// LoadAliases reads the alias table used to remap boundary feature names onto
// the names the statistics tables use. A missing file yields an empty table.
func (c *Config) LoadAliases() (map[string]string, error) {
	aliases := map[string]string{}
	if strings.TrimSpace(c.GeoAliasFile) == "" {
		return aliases, nil
	}

	data, err := os.ReadFile(c.GeoAliasFile)
	if err != nil {
		if os.IsNotExist(err) {
			return aliases, nil
		}
		return nil, fmt.Errorf("reading alias file: %w", err)
	}
	if err := json.Unmarshal(data, &aliases); err != nil {
		return nil, fmt.Errorf("parsing alias file %s: %w", c.GeoAliasFile, err)
	}
	return aliases, nil
}

// ExpandHome expands a leading ~/ to the user's home directory.
func ExpandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
