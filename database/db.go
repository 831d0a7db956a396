package database

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/blnkfinance/intake/config"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn *sql.DB
}

// NewDataSource returns the store selected by configuration: the shared
// postgres connection, or a fresh in-memory store for the memory driver.
func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	switch configuration.DataSource.Driver {
	case config.DriverMemory:
		return NewMemoryStore(), nil
	case config.DriverPostgres, "":
		con, err := GetDBConnection(configuration)
		if err != nil {
			return nil, err
		}
		return con, nil
	default:
		return nil, fmt.Errorf("unsupported datasource driver %q", configuration.DataSource.Driver)
	}
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con}
	})
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, fmt.Errorf("database connection was not initialised")
	}
	return instance, nil
}

// ConnectDB opens and pings a postgres connection. Tables are created by
// the migrate command, not here.
func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		logrus.Errorf("database Connection error ❌: %v", err)
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
