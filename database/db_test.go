package database

import (
	"sync"
	"testing"

	"github.com/blnkfinance/intake/config"
	"github.com/stretchr/testify/assert"
)

func TestNewDataSource_Memory(t *testing.T) {
	cnf := &config.Configuration{
		DataSource: config.DataSourceConfig{Driver: config.DriverMemory},
	}

	ds, err := NewDataSource(cnf)
	assert.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, ds)

	// Each call gets its own store.
	other, err := NewDataSource(cnf)
	assert.NoError(t, err)
	assert.NotSame(t, ds, other)
}

func TestNewDataSource_UnsupportedDriver(t *testing.T) {
	_, err := NewDataSource(&config.Configuration{
		DataSource: config.DataSourceConfig{Driver: "sqlite"},
	})
	assert.EqualError(t, err, `unsupported datasource driver "sqlite"`)
}

func TestGetDBConnection_Failure(t *testing.T) {
	// Reset the instance and once for testing purposes
	instance = nil
	once = sync.Once{}
	t.Cleanup(func() {
		instance = nil
		once = sync.Once{}
	})

	mockConfig := &config.Configuration{
		DataSource: config.DataSourceConfig{
			Dns: "invalid-dns",
		},
	}

	_, err := GetDBConnection(mockConfig)
	assert.Error(t, err)

	// The failed attempt is not retried on the second call.
	_, err = GetDBConnection(mockConfig)
	assert.Error(t, err)
}

func TestConnectDB_Failure(t *testing.T) {
	// Provide an invalid DNS string to simulate a failure
	invalidDNS := "invalid-dns"

	db, err := ConnectDB(invalidDNS)
	assert.Error(t, err)
	assert.Nil(t, db)
}
