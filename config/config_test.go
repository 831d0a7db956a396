package config

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: ""},
	}
	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}

	cnf = Configuration{
		DataSource: DataSourceConfig{Driver: "mongo"},
	}
	err = cnf.validateAndAddDefaults()
	assert.EqualError(t, err, "unsupported data source driver: mongo")

	cnf = Configuration{
		DataSource:  DataSourceConfig{Dns: "postgres://localhost:5432"},
		ObjectStore: ObjectStoreConfig{Driver: "S3"},
	}
	err = cnf.validateAndAddDefaults()
	assert.EqualError(t, err, "object store bucket is required for s3")

	cnf = Configuration{
		ProjectName: "Test Project",
		DataSource:  DataSourceConfig{Dns: "some-dns"},
	}
	err = cnf.validateAndAddDefaults()
	require.NoError(t, err)

	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, DriverPostgres, cnf.DataSource.Driver)
	assert.Equal(t, StoreDisk, cnf.ObjectStore.Driver)
	assert.Equal(t, DEFAULT_STORE_DIR, cnf.ObjectStore.Dir)
	assert.Equal(t, 5, cnf.Import.BatchSize)
	assert.Equal(t, 0.8, cnf.Import.FuzzyThreshold)
	assert.Equal(t, 0.7, cnf.Import.FallbackConfidence)
	assert.Equal(t, 200, cnf.Import.CandidateLimit)
	assert.Equal(t, 3, cnf.Retry.MaxRetries)
	assert.Equal(t, 1000, cnf.Retry.InitialDelayMs)
	assert.Equal(t, 2.0, cnf.Retry.BackoffFactor)
	assert.Equal(t, DEFAULT_IMPORT_QUEUE, cnf.Queue.ImportQueue)
	assert.Nil(t, cnf.RateLimit.RequestsPerSecond)
	assert.Equal(t, 10800, *cnf.RateLimit.CleanupIntervalSec)
	assert.False(t, cnf.Tracing.Enabled)
	assert.Equal(t, 1.0, cnf.Tracing.SampleRatio)
}

func TestValidateAndAddDefaults_RejectsOutOfRangeThreshold(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Driver: DriverMemory},
		Import:     ImportConfig{FuzzyThreshold: 1.5},
	}
	assert.Error(t, cnf.validateAndAddDefaults())
}

func TestValidateAndAddDefaults_RateLimitBurst(t *testing.T) {
	rps := 10.0
	cnf := Configuration{
		DataSource: DataSourceConfig{Driver: DriverMemory},
		RateLimit:  RateLimitConfig{RequestsPerSecond: &rps},
	}
	require.NoError(t, cnf.validateAndAddDefaults())
	require.NotNil(t, cnf.RateLimit.Burst)
	assert.Equal(t, 20, *cnf.RateLimit.Burst)
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "intake.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource:  DataSourceConfig{Dns: "temp-dns"},
		Import:      ImportConfig{BatchSize: 10},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	t.Setenv("INTAKE_PROJECT_NAME", "Env Project")
	t.Setenv("INTAKE_IMPORT_FUZZY_THRESHOLD", "0.9")

	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile failed: %v", err)
	}

	loadedConfig, err := Fetch()
	require.NoError(t, err)

	assert.Equal(t, "Env Project", loadedConfig.ProjectName)
	assert.Equal(t, "temp-dns", loadedConfig.DataSource.Dns)
	assert.Equal(t, 10, loadedConfig.Import.BatchSize)
	assert.Equal(t, 0.9, loadedConfig.Import.FuzzyThreshold)
}

func TestInitConfig(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "intake.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "InitConfig Test",
		DataSource:  DataSourceConfig{Dns: "init-config-dns"},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	if err := InitConfig(tmpFile.Name()); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	loadedConfig, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "InitConfig Test", loadedConfig.ProjectName)
	assert.Equal(t, "init-config-dns", loadedConfig.DataSource.Dns)
}

func TestMockConfigAppliesDefaults(t *testing.T) {
	MockConfig(&Configuration{})
	cnf, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cnf.DataSource.Driver)
	assert.Equal(t, 5, cnf.Import.BatchSize)
	assert.Equal(t, PollConfig{IntervalMs: 2000, TimeoutSec: 120}, cnf.Poll)
}
