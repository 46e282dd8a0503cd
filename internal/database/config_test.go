package database

import (
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
)

func TestDatabaseConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  DatabaseConfig
		wantErr bool
	}{
		{
			name:   "valid config without database",
			config: DatabaseConfig{Host: "localhost", Port: 3306, Username: "backup"},
		},
		{
			name:    "missing host",
			config:  DatabaseConfig{Port: 3306, Username: "backup"},
			wantErr: true,
		},
		{
			name:    "invalid port",
			config:  DatabaseConfig{Host: "localhost", Port: 70000, Username: "backup"},
			wantErr: true,
		},
		{
			name:    "missing username",
			config:  DatabaseConfig{Host: "localhost", Port: 3306},
			wantErr: true,
		},
		{
			name:    "unsupported engine",
			config:  DatabaseConfig{Host: "localhost", Port: 3306, Username: "backup", Engine: "mongodb"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDatabaseConfig_SetDefaults(t *testing.T) {
	config := DatabaseConfig{Host: "db"}
	config.SetDefaults()

	if config.Port != DefaultPort {
		t.Errorf("Expected default port %d, got %d", DefaultPort, config.Port)
	}
	if config.Timeout != DefaultTimeout {
		t.Errorf("Expected default timeout %v, got %v", DefaultTimeout, config.Timeout)
	}
	if config.Engine != EngineMySQL {
		t.Errorf("Expected engine %q, got %q", EngineMySQL, config.Engine)
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	config := DatabaseConfig{
		Host:     "db.internal",
		Port:     3307,
		Username: "backup",
		Password: "p@ss:w/rd",
		Database: "shop",
		Timeout:  5 * time.Second,
	}

	parsed, err := mysql.ParseDSN(config.DSN())
	if err != nil {
		t.Fatalf("DSN() produced an unparsable DSN: %v", err)
	}
	if parsed.Passwd != config.Password {
		t.Errorf("Expected password to survive round trip, got %q", parsed.Passwd)
	}
	if parsed.Addr != "db.internal:3307" {
		t.Errorf("Unexpected address %q", parsed.Addr)
	}
	if !parsed.ParseTime {
		t.Error("Expected DSN() to parse time")
	}

	dump, err := mysql.ParseDSN(config.DumpDSN())
	if err != nil {
		t.Fatalf("DumpDSN() produced an unparsable DSN: %v", err)
	}
	if dump.ParseTime {
		t.Error("Expected DumpDSN() to keep temporal values as text")
	}
	if dump.DBName != "shop" {
		t.Errorf("Expected database shop, got %q", dump.DBName)
	}
}

func TestDatabaseConfig_WithDatabase(t *testing.T) {
	base := DatabaseConfig{Host: "db", Database: "default"}

	if got := base.WithDatabase("other").Database; got != "other" {
		t.Errorf("Expected override, got %q", got)
	}
	if got := base.WithDatabase("").Database; got != "default" {
		t.Errorf("Expected profile database, got %q", got)
	}
	if base.Database != "default" {
		t.Error("WithDatabase must not modify the receiver")
	}
}

func TestDatabaseConfig_StringHidesPassword(t *testing.T) {
	config := DatabaseConfig{Host: "db", Port: 3306, Username: "backup", Password: "secret", Database: "shop"}
	if s := config.String(); strings.Contains(s, "secret") {
		t.Errorf("String() leaked password: %s", s)
	}
}
