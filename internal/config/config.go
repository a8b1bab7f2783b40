package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"opportunist/internal/logger"
	"opportunist/internal/models"
)

type SourceConfig struct {
	Domain     string   `yaml:"domain"`
	Scheme     string   `yaml:"scheme"`
	StartURLs  []string `yaml:"start_urls"`
	EntryPaths []string `yaml:"entry_paths"`
	MaxPages   int      `yaml:"max_pages"`
}

type DBConfig struct {
	Connection  string `yaml:"connection"`
	Database    string `yaml:"database"`
	Collections struct {
		Postings      string `yaml:"postings"`
		RawPages      string `yaml:"raw_pages"`
		CrawlAttempts string `yaml:"crawl_attempts"`
		Users         string `yaml:"users"`
	} `yaml:"collections"`
	RawPageTTLDays  int `yaml:"raw_page_ttl_days"`
	CrawlLogTTLDays int `yaml:"crawl_log_ttl_days"`
	PostingTTLDays  int `yaml:"posting_ttl_days"`
}

type LogicConfig struct {
	DelayMS              int    `yaml:"delay_ms"`
	RetryBaseDelayMS     int    `yaml:"retry_base_delay_ms"`
	TimeoutSec           int    `yaml:"timeout_sec"`
	MaxRetries           int    `yaml:"max_retries"`
	MaxPages             int    `yaml:"max_pages"`
	MaxConcurrentWorkers int    `yaml:"max_concurrent_workers"`
	UserAgent            string `yaml:"user_agent"`
}

type RelevanceConfig struct {
	Threshold       float64  `yaml:"threshold"`
	Backend         string   `yaml:"backend"`
	APIURL          string   `yaml:"api_url"`
	APIKey          string   `yaml:"api_key"`
	Model           string   `yaml:"model"`
	Dimension       int      `yaml:"dimension"`
	BatchSize       int      `yaml:"batch_size"`
	BatchIntervalMS int      `yaml:"batch_interval_ms"`
	Interests       []string `yaml:"interests"`
}

type DigestConfig struct {
	LookbackHours int `yaml:"lookback_hours"`
}

type EmailConfig struct {
	SendGridAPIKey string `yaml:"sendgrid_api_key"`
	FromEmail      string `yaml:"from_email"`
	FromName       string `yaml:"from_name"`
}

type ScheduleConfig struct {
	Daily       string `yaml:"daily"`
	Timezone    string `yaml:"timezone"`
	HealthEvery string `yaml:"health_every"`
}

type RedisConfig struct {
	URL           string `yaml:"url"`
	CacheTTLHours int    `yaml:"cache_ttl_hours"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type SpiderConfig struct {
	DB        DBConfig                `yaml:"db"`
	Logic     LogicConfig             `yaml:"logic"`
	Sources   map[string]SourceConfig `yaml:"sources"`
	Relevance RelevanceConfig         `yaml:"relevance"`
	Digest    DigestConfig            `yaml:"digest"`
	Email     EmailConfig             `yaml:"email"`
	Schedule  ScheduleConfig          `yaml:"schedule"`
	Redis     RedisConfig             `yaml:"redis"`
	Logging   logger.Config           `yaml:"logging"`
	Server    ServerConfig            `yaml:"server"`
}

// DefaultDomains are crawled when the config file lists no sources.
var DefaultDomains = []string{
	"careers.google.com",
	"jobs.netflix.com",
	"careers.microsoft.com",
	"careers.apple.com",
	"careers.amazon.com",
	"careers.meta.com",
	"jobs.lever.co",
	"greenhouse.io",
}

// DefaultInterests is the fixed interest set relevance is scored against.
var DefaultInterests = []string{
	"computer science internships",
	"software engineering jobs",
	"machine learning research",
	"PhD funding opportunities",
	"data science positions",
	"AI research fellowships",
	"technology scholarships",
	"programming competitions",
	"startup opportunities",
	"remote software development",
}

// DefaultThreshold is the minimum relevance score when none is configured.
const DefaultThreshold = 0.7

// LoadConfig reads .env files, the YAML file at path (optional when missing),
// applies env overrides and defaults.
func LoadConfig(path string) (*SpiderConfig, error) {
	_ = godotenv.Load(".env")

	// Preset so that an explicit threshold of 0 in the file survives.
	cfg := SpiderConfig{Relevance: RelevanceConfig{Threshold: DefaultThreshold}}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", models.ErrConfiguration, path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrConfiguration, path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	return &cfg, nil
}

func (c *SpiderConfig) applyEnv() error {
	setString(&c.DB.Connection, "MONGODB_URI")
	setString(&c.DB.Database, "MONGODB_DATABASE")
	setString(&c.Relevance.APIKey, "OPENAI_API_KEY")
	setString(&c.Relevance.Backend, "EMBEDDING_BACKEND")
	setString(&c.Email.SendGridAPIKey, "SENDGRID_API_KEY")
	setString(&c.Email.FromEmail, "SENDGRID_FROM_EMAIL")
	setString(&c.Redis.URL, "REDIS_URL")
	setString(&c.Logging.Level, "LOG_LEVEL")

	if v := os.Getenv("RELEVANCE_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: RELEVANCE_THRESHOLD must be a number, got %q", models.ErrConfiguration, v)
		}
		c.Relevance.Threshold = f
	}
	for env, dst := range map[string]*int{
		"MAX_RETRIES":     &c.Logic.MaxRetries,
		"CRAWL_DELAY_MS":  &c.Logic.DelayMS,
		"MAX_CRAWL_PAGES": &c.Logic.MaxPages,
	} {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: %s must be a non-negative integer, got %q", models.ErrConfiguration, env, v)
		}
		*dst = n
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func (c *SpiderConfig) SetDefaults() {
	if c.DB.Database == "" {
		c.DB.Database = "opportunist"
	}
	if c.DB.Collections.Postings == "" {
		c.DB.Collections.Postings = "opportunities"
	}
	if c.DB.Collections.RawPages == "" {
		c.DB.Collections.RawPages = "raw_pages"
	}
	if c.DB.Collections.CrawlAttempts == "" {
		c.DB.Collections.CrawlAttempts = "crawl_logs"
	}
	if c.DB.Collections.Users == "" {
		c.DB.Collections.Users = "users"
	}
	defaultInt(&c.DB.RawPageTTLDays, 7)
	defaultInt(&c.DB.CrawlLogTTLDays, 30)
	defaultInt(&c.DB.PostingTTLDays, 30)

	defaultInt(&c.Logic.DelayMS, 1000)
	defaultInt(&c.Logic.RetryBaseDelayMS, c.Logic.DelayMS)
	defaultInt(&c.Logic.TimeoutSec, 30)
	defaultInt(&c.Logic.MaxPages, 50)
	defaultInt(&c.Logic.MaxConcurrentWorkers, 4)
	if c.Logic.MaxRetries == 0 {
		c.Logic.MaxRetries = 3
	}
	if c.Logic.UserAgent == "" {
		c.Logic.UserAgent = "Mozilla/5.0 (compatible; OpportunistBot/1.0)"
	}

	if len(c.Sources) == 0 {
		c.Sources = make(map[string]SourceConfig, len(DefaultDomains))
		for _, d := range DefaultDomains {
			c.Sources[d] = SourceConfig{Domain: d}
		}
	}
	for name, src := range c.Sources {
		if src.Domain == "" {
			src.Domain = name
		}
		if src.Scheme == "" {
			src.Scheme = "https"
		}
		if src.MaxPages == 0 {
			src.MaxPages = c.Logic.MaxPages
		}
		c.Sources[name] = src
	}

	if c.Relevance.Backend == "" {
		if c.Relevance.APIKey != "" {
			c.Relevance.Backend = "api"
		} else {
			c.Relevance.Backend = "local"
		}
	}
	if c.Relevance.APIURL == "" {
		c.Relevance.APIURL = "https://api.openai.com/v1/embeddings"
	}
	if c.Relevance.Model == "" {
		c.Relevance.Model = "text-embedding-ada-002"
	}
	defaultInt(&c.Relevance.BatchSize, 100)
	defaultInt(&c.Relevance.BatchIntervalMS, 1000)
	if len(c.Relevance.Interests) == 0 {
		c.Relevance.Interests = append([]string(nil), DefaultInterests...)
	}

	defaultInt(&c.Digest.LookbackHours, 24)
	if c.Email.FromName == "" {
		c.Email.FromName = "Opportunist"
	}
	if c.Schedule.Daily == "" {
		c.Schedule.Daily = "0 7 * * *"
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "America/New_York"
	}
	if c.Schedule.HealthEvery == "" {
		c.Schedule.HealthEvery = "@every 30m"
	}
	defaultInt(&c.Redis.CacheTTLHours, 72)
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func defaultInt(dst *int, def int) {
	if *dst <= 0 {
		*dst = def
	}
}

// Validate checks settings required by every task.
func (c *SpiderConfig) Validate() error {
	if c.DB.Connection == "" {
		return fmt.Errorf("%w: db.connection (MONGODB_URI) is required", models.ErrConfiguration)
	}
	if c.Relevance.Threshold < 0 || c.Relevance.Threshold > 1 {
		return fmt.Errorf("%w: relevance.threshold must be within [0,1], got %v", models.ErrConfiguration, c.Relevance.Threshold)
	}
	switch c.Relevance.Backend {
	case "api":
		if c.Relevance.APIKey == "" {
			return fmt.Errorf("%w: relevance.api_key (OPENAI_API_KEY) is required for the api backend", models.ErrConfiguration)
		}
	case "local":
	default:
		return fmt.Errorf("%w: unknown embedding backend %q", models.ErrConfiguration, c.Relevance.Backend)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("%w: schedule.timezone: %v", models.ErrConfiguration, err)
	}
	return nil
}

// ValidateDelivery checks settings required by tasks that send email.
func (c *SpiderConfig) ValidateDelivery() error {
	if c.Email.SendGridAPIKey == "" {
		return fmt.Errorf("%w: email.sendgrid_api_key (SENDGRID_API_KEY) is required", models.ErrConfiguration)
	}
	if c.Email.FromEmail == "" {
		return fmt.Errorf("%w: email.from_email (SENDGRID_FROM_EMAIL) is required", models.ErrConfiguration)
	}
	return nil
}

// SourceNames returns source names in a stable order.
func (c *SpiderConfig) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l LogicConfig) Delay() time.Duration {
	return time.Duration(l.DelayMS) * time.Millisecond
}

func (l LogicConfig) RetryBaseDelay() time.Duration {
	return time.Duration(l.RetryBaseDelayMS) * time.Millisecond
}

func (l LogicConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSec) * time.Second
}
