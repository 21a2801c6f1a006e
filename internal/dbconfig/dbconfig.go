// Package dbconfig provides database connection settings shared by the
// config, source, and target packages. It exists so those packages can
// depend on connection types without importing each other.
package dbconfig

import (
	"fmt"
	"net/url"
)

// SourceConfig holds SQL Server connection settings for the source database.
type SourceConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Schema          string `yaml:"schema"`
	TrustServerCert bool   `yaml:"trust_server_cert"`
	Encrypt         *bool  `yaml:"encrypt"`
}

// DSN returns the sqlserver connection string. Credentials and database
// names are URL-encoded so passwords with @, :, or / survive parsing.
func (c *SourceConfig) DSN() string {
	q := url.Values{}
	q.Set("database", c.Database)
	if c.TrustServerCert {
		q.Set("TrustServerCertificate", "true")
	}
	if c.Encrypt != nil {
		q.Set("encrypt", fmt.Sprintf("%t", *c.Encrypt))
	}
	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		RawQuery: q.Encode(),
	}
	return u.String()
}

// TargetConfig holds PostgreSQL connection settings for the target database.
type TargetConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Schema   string `yaml:"schema"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN returns the postgres connection string.
func (c *TargetConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User), url.QueryEscape(c.Password),
		c.Host, c.Port, url.QueryEscape(c.Database), sslMode)
}
