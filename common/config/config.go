package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig Postgres connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

// RedisConfig Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT broker settings
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// GetDSN returns the lib/pq key/value connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LoadFromEnv overrides fields from <prefix>_HOST, _PORT, _USER, _PASSWORD,
// _NAME, _SSLMODE, _MAX_CONNS, _MAX_IDLE and _CONN_MAX_LIFETIME (a Go duration)
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	setString(prefix+"_HOST", &c.Host)
	setInt(prefix+"_PORT", &c.Port)
	setString(prefix+"_USER", &c.User)
	setString(prefix+"_PASSWORD", &c.Password)
	setString(prefix+"_NAME", &c.Database)
	setString(prefix+"_SSLMODE", &c.SSLMode)
	setInt(prefix+"_MAX_CONNS", &c.MaxConns)
	setInt(prefix+"_MAX_IDLE", &c.MaxIdle)
	if v, ok := lookup(prefix + "_CONN_MAX_LIFETIME"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.ConnMaxLifetime = d
		}
	}
}

// LoadFromEnv overrides fields from <prefix>_ADDR, _PASSWORD and _DB
func (c *RedisConfig) LoadFromEnv(prefix string) {
	setString(prefix+"_ADDR", &c.Addr)
	setString(prefix+"_PASSWORD", &c.Password)
	setInt(prefix+"_DB", &c.DB)
}

// LoadFromEnv overrides fields from <prefix>_BROKER, _CLIENT_ID, _USERNAME,
// _PASSWORD and _QOS. A QoS outside 0..2 is ignored.
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	setString(prefix+"_BROKER", &c.Broker)
	setString(prefix+"_CLIENT_ID", &c.ClientID)
	setString(prefix+"_USERNAME", &c.Username)
	setString(prefix+"_PASSWORD", &c.Password)

	qos := int(c.QoS)
	setInt(prefix+"_QOS", &qos)
	if qos >= 0 && qos <= 2 {
		c.QoS = byte(qos)
	}
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func setString(key string, dst *string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
