// Package config resolves runtime settings from a .env file and the process
// environment. Command-line flags are applied on top by the CLI.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/v1nybarreto/genai-agent/internal/utils"
)

const (
	BackendBigQuery = "bigquery"
	BackendMySQL    = "mysql"

	DefaultProjectID      = "genai-rio"
	DefaultLocation       = "US"
	DefaultDataset        = "datario.adm_central_atendimento_1746"
	DefaultTable          = "chamado"
	DefaultDimensionTable = "datario.dados_mestres.bairro"
	DefaultMaxBytesBilled = int64(2_000_000_000)
	DefaultQueryTimeout   = 60 * time.Second
	DefaultAppLabel       = "genai-rio-agent"
	DefaultEnvLabel       = "dev"
)

var labelCharRe = regexp.MustCompile(`[^a-z0-9_-]`)

// MySQL holds the mirror connection settings
type MySQL struct {
	Host     string
	User     string
	Password string
	Database string
	Port     string
}

// Config is the resolved runtime configuration
type Config struct {
	Backend        string
	ProjectID      string
	Location       string
	Dataset        string
	Table          string
	DimensionTable string
	// MaxBytesBilled is the byte ceiling; 0 or less disables it
	MaxBytesBilled int64
	QueryTimeout   time.Duration
	AppLabel       string
	EnvLabel       string
	MySQL          MySQL
	PushgatewayURL string
	LogLevel       string
}

// Load reads envFile when it exists and builds a Config from the environment
func Load(envFile string, logger *logrus.Logger) *Config {
	loadEnvFile(envFile, logger)

	cfg := &Config{
		Backend:        strings.ToLower(utils.GetEnvOrDefault("WAREHOUSE_BACKEND", BackendBigQuery)),
		ProjectID:      utils.GetEnvOrDefault("PROJECT_ID", DefaultProjectID),
		Location:       utils.GetEnvOrDefault("BQ_LOCATION", DefaultLocation),
		Dataset:        utils.GetEnvOrDefault("DATASET_ID", DefaultDataset),
		Table:          utils.GetEnvOrDefault("TABLE_ID", DefaultTable),
		DimensionTable: utils.GetEnvOrDefault("DIMENSION_TABLE", DefaultDimensionTable),
		MaxBytesBilled: utils.GetEnvInt64("BQ_MAX_BYTES_BILLED", DefaultMaxBytesBilled),
		QueryTimeout:   time.Duration(utils.GetEnvInt("BQ_QUERY_TIMEOUT", int(DefaultQueryTimeout/time.Second))) * time.Second,
		AppLabel:       utils.GetEnvOrDefault("APP_LABEL", DefaultAppLabel),
		EnvLabel:       utils.GetEnvOrDefault("ENV_LABEL", DefaultEnvLabel),
		MySQL: MySQL{
			Host:     utils.GetEnvOrDefault("MYSQL_HOST", "localhost"),
			User:     utils.GetEnvOrDefault("MYSQL_USER", "root"),
			Password: os.Getenv("MYSQL_PASSWORD"),
			Database: os.Getenv("MYSQL_DATABASE"),
			Port:     utils.GetEnvOrDefault("MYSQL_PORT", "3306"),
		},
		PushgatewayURL: os.Getenv("PUSHGATEWAY_URL"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
	}

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		cfg.logValues(logger)
	}
	return cfg
}

// loadEnvFile loads envFile without overriding variables already set
func loadEnvFile(envFile string, logger *logrus.Logger) {
	if envFile == "" {
		return
	}
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		sampleEnvFile := envFile + ".sample"
		if _, err := os.Stat(sampleEnvFile); err == nil {
			logger.Infof("No %s file found, but %s exists. Consider copying %s to %s and updating it.",
				envFile, sampleEnvFile, sampleEnvFile, envFile)
		} else {
			logger.Debugf("No %s file found, using existing environment variables", envFile)
		}
		return
	}

	if err := godotenv.Load(envFile); err != nil {
		logger.Warningf("Error loading %s file: %v", envFile, err)
	} else {
		logger.Infof("Loaded environment variables from %s", envFile)
	}
}

// Validate checks the settings the selected backend needs
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendBigQuery:
		if c.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID is required for the bigquery backend")
		}
	case BackendMySQL:
		if c.MySQL.Database == "" {
			return fmt.Errorf("MYSQL_DATABASE is required for the mysql backend")
		}
	default:
		return fmt.Errorf("unknown warehouse backend %q (expected %s or %s)", c.Backend, BackendBigQuery, BackendMySQL)
	}
	if c.Dataset == "" || c.Table == "" {
		return fmt.Errorf("dataset and table must be set")
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive, got %s", c.QueryTimeout)
	}
	return nil
}

// Labels returns the job labels attached to every warehouse job. Values are
// lowercased and restricted to the characters BigQuery accepts.
func (c *Config) Labels() map[string]string {
	labels := make(map[string]string, 2)
	if v := labelValue(c.AppLabel); v != "" {
		labels["app"] = v
	}
	if v := labelValue(c.EnvLabel); v != "" {
		labels["env"] = v
	}
	return labels
}

func labelValue(v string) string {
	v = labelCharRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(v)), "_")
	if len(v) > 63 {
		v = v[:63]
	}
	return v
}

func (c *Config) logValues(logger *logrus.Logger) {
	password := ""
	if c.MySQL.Password != "" {
		password = "********"
	}
	logger.WithFields(logrus.Fields{
		"backend":          c.Backend,
		"project_id":       c.ProjectID,
		"location":         c.Location,
		"dataset":          c.Dataset,
		"table":            c.Table,
		"dimension_table":  c.DimensionTable,
		"max_bytes_billed": c.MaxBytesBilled,
		"query_timeout":    c.QueryTimeout,
		"mysql_host":       c.MySQL.Host,
		"mysql_database":   c.MySQL.Database,
		"mysql_password":   password,
	}).Debug("Configuration resolved")
}
