package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"carbitrage/models"
)

var ErrNoMarkets = errors.New("no market configs loaded")

type Config struct {
	ScrapingBee ScrapingBeeConfig
	Scan        ScanConfig
	Currency    CurrencyConfig
	Scheduler   SchedulerConfig
	Archive     ArchiveConfig
	DBPath      string
	DatabaseURL string
	LogLevel    string
	LogFile     string
	Markets     map[string]*MarketConfig
	Studies     []*models.Study

	marketsDir string
	studiesDir string
}

type ScrapingBeeConfig struct {
	APIKey       string
	Endpoint     string
	RenderJS     bool
	Timeout      time.Duration
	BlockMarkers []string
	RPS          float64
	Burst        int
	CacheTTL     time.Duration
}

type ScanConfig struct {
	Concurrency int
	Threshold   float64
}

// CurrencyConfig holds the static exchange table. Rates are multipliers
// into the reference currency.
type CurrencyConfig struct {
	Reference string
	Rates     map[string]float64
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// MarketConfig describes one marketplace: which hosts it serves, how its
// pages are extracted and how a trim keyword is encoded in its search URLs.
type MarketConfig struct {
	ID           string     `yaml:"id"`
	Name         string     `yaml:"name"`
	Hosts        []string   `yaml:"hosts"`
	Countries    []string   `yaml:"countries"`
	Currency     string     `yaml:"currency"`
	Extractor    string     `yaml:"extractor"`
	DecimalComma bool       `yaml:"decimal_comma"`
	Trim         TrimConfig `yaml:"trim"`
}

type TrimConfig struct {
	Style  string `yaml:"style"` // query, fragment, append
	Param  string `yaml:"param"`
	Anchor string `yaml:"anchor"`
	Before bool   `yaml:"before"`
}

var defaultRates = map[string]float64{
	"EUR": 1,
	"PLN": 0.232,
	"GBP": 1.17,
	"CHF": 1.04,
	"SEK": 0.087,
	"CZK": 0.040,
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ScrapingBee: ScrapingBeeConfig{
			APIKey:   os.Getenv("SCRAPINGBEE_API_KEY"),
			Endpoint: getEnv("SCRAPINGBEE_ENDPOINT", "https://app.scrapingbee.com/api/v1/"),
			RenderJS: getEnv("SCRAPINGBEE_RENDER_JS", "true") == "true",
			Timeout:  getEnvDuration("SCRAPINGBEE_TIMEOUT", 90*time.Second),
			BlockMarkers: getEnvList("SCRAPER_BLOCK_MARKERS", []string{
				"Pardon Our Interruption",
				"Access Denied",
				"px-captcha",
				"cf-chl-bypass",
			}),
			RPS:      getEnvFloat("SCRAPER_RPS", 2),
			Burst:    getEnvInt("SCRAPER_BURST", 4),
			CacheTTL: getEnvDuration("SCRAPER_CACHE_TTL", 10*time.Minute),
		},
		Scan: ScanConfig{
			Concurrency: getEnvInt("SCAN_CONCURRENCY", 4),
			Threshold:   getEnvFloat("OPPORTUNITY_THRESHOLD", 1500),
		},
		Currency: CurrencyConfig{
			Reference: strings.ToUpper(getEnv("REFERENCE_CURRENCY", "EUR")),
			Rates:     make(map[string]float64),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		Archive: ArchiveConfig{
			Bucket:          os.Getenv("ARCHIVE_S3_BUCKET"),
			Region:          getEnv("ARCHIVE_S3_REGION", "eu-west-1"),
			Endpoint:        os.Getenv("ARCHIVE_S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("ARCHIVE_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("ARCHIVE_S3_SECRET_ACCESS_KEY"),
		},
		DBPath:      getEnv("DB_PATH", "carbitrage.db"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", "daemon.log"),
		Markets:     make(map[string]*MarketConfig),
		marketsDir:  getEnv("MARKETS_DIR", "config/markets"),
		studiesDir:  getEnv("STUDIES_DIR", "config/studies"),
	}

	if interval := os.Getenv("SCRAPE_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	for code, rate := range defaultRates {
		cfg.Currency.Rates[code] = rate
	}
	rates, err := ParseRates(os.Getenv("EXCHANGE_RATES"))
	if err != nil {
		return nil, err
	}
	for code, rate := range rates {
		cfg.Currency.Rates[code] = rate
	}

	if err := cfg.loadMarketConfigs(); err != nil {
		return nil, err
	}
	if len(cfg.Markets) == 0 {
		return nil, fmt.Errorf("%w from %s", ErrNoMarkets, cfg.marketsDir)
	}

	if err := cfg.loadStudyConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseRates reads "PLN=0.232,GBP=1.17" into a rate table.
func ParseRates(s string) (map[string]float64, error) {
	rates := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid exchange rate %q", part)
		}
		rate, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || rate <= 0 {
			return nil, fmt.Errorf("invalid exchange rate %q", part)
		}
		rates[strings.ToUpper(strings.TrimSpace(code))] = rate
	}
	return rates, nil
}

// MarketIDs returns market IDs in a stable order.
func (c *Config) MarketIDs() []string {
	ids := make([]string, 0, len(c.Markets))
	for id := range c.Markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Config) loadMarketConfigs() error {
	return readYAMLDir(c.marketsDir, func(path string, data []byte) error {
		var market MarketConfig
		if err := yaml.Unmarshal(data, &market); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if market.ID == "" {
			return fmt.Errorf("%s: market id is required", path)
		}
		market.Currency = strings.ToUpper(market.Currency)
		c.Markets[market.ID] = &market
		return nil
	})
}

// loadStudyConfigs accepts either a single study or a list per file.
func (c *Config) loadStudyConfigs() error {
	return readYAMLDir(c.studiesDir, func(path string, data []byte) error {
		var file struct {
			Studies []*models.Study `yaml:"studies"`
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if len(file.Studies) == 0 {
			var study models.Study
			if err := yaml.Unmarshal(data, &study); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			file.Studies = []*models.Study{&study}
		}
		for _, study := range file.Studies {
			if study.ID == "" {
				log.Printf("Skipping study without id in %s", path)
				continue
			}
			c.Studies = append(c.Studies, study)
		}
		return nil
	})
}

func readYAMLDir(dir string, fn func(path string, data []byte) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := fn(path, data); err != nil {
			return err
		}
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
