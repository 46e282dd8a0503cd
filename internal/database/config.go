package database

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	DefaultPort    = 3306
	DefaultTimeout = 30 * time.Second
	EngineMySQL    = "mysql"
)

// DatabaseConfig holds the parameters of one connection profile
type DatabaseConfig struct {
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"password"`
	Database string        `mapstructure:"database" yaml:"database,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Engine   string        `mapstructure:"engine" yaml:"engine,omitempty"`
}

// SetDefaults fills in the port, timeout and engine
func (dc *DatabaseConfig) SetDefaults() {
	if dc.Port == 0 {
		dc.Port = DefaultPort
	}
	if dc.Timeout <= 0 {
		dc.Timeout = DefaultTimeout
	}
	if dc.Engine == "" {
		dc.Engine = EngineMySQL
	}
}

// Validate checks the profile. The database name is optional here because a
// schedule may name its own target database.
func (dc *DatabaseConfig) Validate() error {
	var errs []error

	if dc.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if dc.Port <= 0 || dc.Port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}
	if dc.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if dc.Engine != "" && dc.Engine != EngineMySQL {
		errs = append(errs, fmt.Errorf("unsupported engine %q", dc.Engine))
	}

	if len(errs) > 0 {
		return fmt.Errorf("database configuration validation failed: %v", errs)
	}
	return nil
}

// WithDatabase returns a copy targeting name, or the profile's own database when name is empty
func (dc DatabaseConfig) WithDatabase(name string) DatabaseConfig {
	if name != "" {
		dc.Database = name
	}
	return dc
}

// Address is host:port
func (dc *DatabaseConfig) Address() string {
	return net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port))
}

// Label is the short connection description shown in task listings
func (dc *DatabaseConfig) Label() string {
	return fmt.Sprintf("%s@%s", dc.Username, dc.Address())
}

// DSN returns the Data Source Name for MySQL connection
func (dc *DatabaseConfig) DSN() string {
	return dc.mysqlConfig(true).FormatDSN()
}

// DumpDSN keeps temporal columns as text so zero dates survive the dump verbatim,
// and reads them in UTC
func (dc *DatabaseConfig) DumpDSN() string {
	return dc.mysqlConfig(false).FormatDSN()
}

func (dc *DatabaseConfig) mysqlConfig(parseTime bool) *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = dc.Username
	cfg.Passwd = dc.Password
	cfg.Net = "tcp"
	cfg.Addr = dc.Address()
	cfg.DBName = dc.Database
	cfg.Timeout = dc.Timeout
	cfg.ParseTime = parseTime
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	if !parseTime {
		// dumps declare TIME_ZONE='+00:00', so TIMESTAMP text must be read in UTC
		cfg.Params["time_zone"] = "'+00:00'"
	}
	return cfg
}

// String hides the password
func (dc DatabaseConfig) String() string {
	return fmt.Sprintf("%s/%s", dc.Label(), dc.Database)
}
