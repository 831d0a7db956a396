/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT                = "5004"
	DEFAULT_BATCH_SIZE          = 5
	DEFAULT_FUZZY_THRESHOLD     = 0.8
	DEFAULT_FALLBACK_CONFIDENCE = 0.7
	DEFAULT_CANDIDATE_LIMIT     = 200
	DEFAULT_MAX_RETRIES         = 3
	DEFAULT_INITIAL_DELAY_MS    = 1000
	DEFAULT_BACKOFF_FACTOR      = 2.0
	DEFAULT_POLL_INTERVAL_MS    = 2000
	DEFAULT_POLL_TIMEOUT_SEC    = 120
	DEFAULT_IMPORT_QUEUE        = "import_batches"
	DEFAULT_STORE_DIR           = "./data/imports"

	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	StoreDisk      = "disk"
	StoreS3        = "s3"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"INTAKE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"INTAKE_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"INTAKE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns    string `json:"dns" envconfig:"INTAKE_DATA_SOURCE_DNS"`
	Driver string `json:"driver" envconfig:"INTAKE_DATA_SOURCE_DRIVER"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"INTAKE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"INTAKE_REDIS_SKIP_TLS_VERIFY"`
}

type ObjectStoreConfig struct {
	Driver          string `json:"driver" envconfig:"INTAKE_OBJECT_STORE_DRIVER"`
	Dir             string `json:"dir" envconfig:"INTAKE_OBJECT_STORE_DIR"`
	Bucket          string `json:"bucket" envconfig:"INTAKE_OBJECT_STORE_BUCKET"`
	Region          string `json:"region" envconfig:"INTAKE_OBJECT_STORE_REGION"`
	Endpoint        string `json:"endpoint" envconfig:"INTAKE_OBJECT_STORE_ENDPOINT"`
	AccessKeyID     string `json:"access_key_id" envconfig:"INTAKE_OBJECT_STORE_ACCESS_KEY_ID"`
	SecretAccessKey string `json:"secret_access_key" envconfig:"INTAKE_OBJECT_STORE_SECRET_ACCESS_KEY"`
}

// ImportConfig tunes batching and entity resolution.
type ImportConfig struct {
	BatchSize          int     `json:"batch_size" envconfig:"INTAKE_IMPORT_BATCH_SIZE"`
	FuzzyThreshold     float64 `json:"fuzzy_threshold" envconfig:"INTAKE_IMPORT_FUZZY_THRESHOLD"`
	FallbackConfidence float64 `json:"fallback_confidence" envconfig:"INTAKE_IMPORT_FALLBACK_CONFIDENCE"`
	CandidateLimit     int     `json:"candidate_limit" envconfig:"INTAKE_IMPORT_CANDIDATE_LIMIT"`
	EntityCacheTTLSec  int     `json:"entity_cache_ttl_sec" envconfig:"INTAKE_IMPORT_ENTITY_CACHE_TTL_SEC"`
}

type RetryConfig struct {
	MaxRetries     int     `json:"max_retries" envconfig:"INTAKE_RETRY_MAX_RETRIES"`
	InitialDelayMs int     `json:"initial_delay_ms" envconfig:"INTAKE_RETRY_INITIAL_DELAY_MS"`
	BackoffFactor  float64 `json:"backoff_factor" envconfig:"INTAKE_RETRY_BACKOFF_FACTOR"`
}

func (r RetryConfig) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMs) * time.Millisecond
}

type PollConfig struct {
	IntervalMs int `json:"interval_ms" envconfig:"INTAKE_POLL_INTERVAL_MS"`
	TimeoutSec int `json:"timeout_sec" envconfig:"INTAKE_POLL_TIMEOUT_SEC"`
}

func (p PollConfig) Interval() time.Duration {
	return time.Duration(p.IntervalMs) * time.Millisecond
}

func (p PollConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSec) * time.Second
}

type QueueConfig struct {
	ImportQueue      string `json:"import_queue" envconfig:"INTAKE_QUEUE_IMPORT_QUEUE"`
	Concurrency      int    `json:"concurrency" envconfig:"INTAKE_QUEUE_CONCURRENCY"`
	MaxRetryAttempts int    `json:"max_retry_attempts" envconfig:"INTAKE_QUEUE_MAX_RETRY_ATTEMPTS"`
	MonitoringPort   string `json:"monitoring_port" envconfig:"INTAKE_QUEUE_MONITORING_PORT"`
}

// AnalysisConfig points at the remote analysis functions. Classification is
// skipped when Url is empty.
type AnalysisConfig struct {
	Url        string            `json:"url" envconfig:"INTAKE_ANALYSIS_URL"`
	TimeoutSec int               `json:"timeout_sec" envconfig:"INTAKE_ANALYSIS_TIMEOUT_SEC"`
	Headers    map[string]string `json:"headers"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"INTAKE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"INTAKE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"INTAKE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

// TracingConfig ships spans to an OTLP HTTP collector. Endpoint is a
// host:port; empty means the exporter's default, localhost:4318.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" envconfig:"INTAKE_TRACING_ENABLED"`
	Endpoint    string  `json:"endpoint" envconfig:"INTAKE_TRACING_ENDPOINT"`
	Insecure    bool    `json:"insecure" envconfig:"INTAKE_TRACING_INSECURE"`
	SampleRatio float64 `json:"sample_ratio" envconfig:"INTAKE_TRACING_SAMPLE_RATIO"`
	ElasticAPM  bool    `json:"elastic_apm" envconfig:"INTAKE_TRACING_ELASTIC_APM"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"INTAKE_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName  string            `json:"project_name" envconfig:"INTAKE_PROJECT_NAME"`
	Server       ServerConfig      `json:"server"`
	DataSource   DataSourceConfig  `json:"data_source"`
	Redis        RedisConfig       `json:"redis"`
	ObjectStore  ObjectStoreConfig `json:"object_store"`
	Import       ImportConfig      `json:"import"`
	Retry        RetryConfig       `json:"retry"`
	Poll         PollConfig        `json:"poll"`
	Queue        QueueConfig       `json:"queue"`
	Analysis     AnalysisConfig    `json:"analysis"`
	Notification Notification      `json:"notification"`
	RateLimit    RateLimitConfig   `json:"rate_limit"`
	Tracing      TracingConfig     `json:"tracing"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("intake", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called intake.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Intake Server"
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.DataSource.Driver = strings.ToLower(strings.TrimSpace(cnf.DataSource.Driver))
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.ObjectStore.Driver = strings.ToLower(strings.TrimSpace(cnf.ObjectStore.Driver))
	cnf.Analysis.Url = strings.TrimRight(strings.TrimSpace(cnf.Analysis.Url), "/")

	if cnf.DataSource.Driver == "" {
		cnf.DataSource.Driver = DriverPostgres
	}
	switch cnf.DataSource.Driver {
	case DriverPostgres:
		if cnf.DataSource.Dns == "" {
			log.Println("Error: Data source DNS is empty. It's a required field.")
			return errors.New("data source DNS is required")
		}
	case DriverMemory:
	default:
		return errors.New("unsupported data source driver: " + cnf.DataSource.Driver)
	}

	if cnf.ObjectStore.Driver == "" {
		cnf.ObjectStore.Driver = StoreDisk
	}
	switch cnf.ObjectStore.Driver {
	case StoreDisk:
		if cnf.ObjectStore.Dir == "" {
			cnf.ObjectStore.Dir = DEFAULT_STORE_DIR
		}
	case StoreS3:
		if cnf.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is required for s3")
		}
	default:
		return errors.New("unsupported object store driver: " + cnf.ObjectStore.Driver)
	}

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.Import.addDefaults()
	if cnf.Import.FuzzyThreshold > 1 || cnf.Import.FallbackConfidence > 1 {
		return errors.New("fuzzy threshold and fallback confidence must be within [0, 1]")
	}

	if cnf.Retry.MaxRetries <= 0 {
		cnf.Retry.MaxRetries = DEFAULT_MAX_RETRIES
	}
	if cnf.Retry.InitialDelayMs <= 0 {
		cnf.Retry.InitialDelayMs = DEFAULT_INITIAL_DELAY_MS
	}
	if cnf.Retry.BackoffFactor < 1 {
		cnf.Retry.BackoffFactor = DEFAULT_BACKOFF_FACTOR
	}

	if cnf.Poll.IntervalMs <= 0 {
		cnf.Poll.IntervalMs = DEFAULT_POLL_INTERVAL_MS
	}
	if cnf.Poll.TimeoutSec <= 0 {
		cnf.Poll.TimeoutSec = DEFAULT_POLL_TIMEOUT_SEC
	}

	if cnf.Queue.ImportQueue == "" {
		cnf.Queue.ImportQueue = DEFAULT_IMPORT_QUEUE
	}
	if cnf.Queue.Concurrency <= 0 {
		cnf.Queue.Concurrency = 1
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 3
	}

	if cnf.Analysis.TimeoutSec <= 0 {
		cnf.Analysis.TimeoutSec = 10
	}

	if cnf.Tracing.SampleRatio <= 0 || cnf.Tracing.SampleRatio > 1 {
		cnf.Tracing.SampleRatio = 1
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (i *ImportConfig) addDefaults() {
	if i.BatchSize <= 0 {
		i.BatchSize = DEFAULT_BATCH_SIZE
	}
	if i.FuzzyThreshold <= 0 {
		i.FuzzyThreshold = DEFAULT_FUZZY_THRESHOLD
	}
	if i.FallbackConfidence <= 0 {
		i.FallbackConfidence = DEFAULT_FALLBACK_CONFIDENCE
	}
	if i.CandidateLimit <= 0 {
		i.CandidateLimit = DEFAULT_CANDIDATE_LIMIT
	}
	if i.EntityCacheTTLSec <= 0 {
		i.EntityCacheTTLSec = 600
	}
}

// MockConfig sets a mock configuration for testing purposes. Defaults are
// applied so callers only need to set what their test cares about.
func MockConfig(mockConfig *Configuration) {
	if mockConfig.DataSource.Driver == "" && mockConfig.DataSource.Dns == "" {
		mockConfig.DataSource.Driver = DriverMemory
	}
	if err := mockConfig.validateAndAddDefaults(); err != nil {
		logrus.Warn(err)
	}
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
