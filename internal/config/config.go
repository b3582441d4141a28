package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the B3 pipeline binaries.
type Config struct {
	B3Config     `mapstructure:",squash"`
	AWSConfig    `mapstructure:",squash"`
	OpenAIConfig `mapstructure:",squash"`
	LogLevel     string `mapstructure:"log_level"`
}

// B3Config controls the acquisition strategies
type B3Config struct {
	BaseURL     string        `mapstructure:"b3_base_url"`
	Language    string        `mapstructure:"b3_language"`
	RenderWait  time.Duration `mapstructure:"render_wait"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	UseBrowser  bool          `mapstructure:"use_browser"`
	ChromePath  string        `mapstructure:"chrome_path"`
}

// AWSConfig holds the storage, ledger and batch job settings
type AWSConfig struct {
	Region        string `mapstructure:"aws_region"`
	Profile       string `mapstructure:"aws_profile"`
	BucketName    string `mapstructure:"s3_bucket_name"`
	RawPrefix     string `mapstructure:"s3_prefix"`
	RefinedPrefix string `mapstructure:"refined_prefix"`
	RunsTable     string `mapstructure:"runs_table"`
	GlueJobName   string `mapstructure:"glue_job_name"`
	ETLFunction   string `mapstructure:"etl_function_name"`
	GlueDatabase  string `mapstructure:"glue_database"`
	GlueTable     string `mapstructure:"glue_table"`
}

// OpenAIConfig enables the optional structured extraction of non-table pages
type OpenAIConfig struct {
	APIKey string `mapstructure:"openai_api_key"`
	Model  string `mapstructure:"openai_model"`
}

// Enabled reports whether an API key is configured
func (o OpenAIConfig) Enabled() bool {
	return o.APIKey != ""
}

var envKeys = []string{
	"b3_base_url", "b3_language", "render_wait", "http_timeout", "use_browser", "chrome_path",
	"aws_region", "aws_profile", "s3_bucket_name", "s3_prefix", "refined_prefix", "runs_table",
	"glue_job_name", "etl_function_name", "glue_database", "glue_table",
	"openai_api_key", "openai_model", "log_level",
}

// Load reads configuration from a .env file, environment variables and an
// optional config.yaml. Environment variables take precedence over the file.
//
// Every key maps to the upper-cased environment variable of the same name,
// e.g. b3_base_url -> B3_BASE_URL, s3_bucket_name -> S3_BUCKET_NAME.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: no .env file found, relying on environment variables")
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.b3pipeline")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for _, key := range envKeys {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("b3_base_url", "https://sistemaswebb3-listados.b3.com.br/indexPage/day/IBOV")
	v.SetDefault("b3_language", "pt-br")
	v.SetDefault("render_wait", "5s")
	v.SetDefault("http_timeout", "30s")
	v.SetDefault("use_browser", true)
	v.SetDefault("aws_region", "us-east-1")
	v.SetDefault("s3_prefix", "raw")
	v.SetDefault("refined_prefix", "refined")
	v.SetDefault("runs_table", "b3-pipeline-runs")
	v.SetDefault("glue_database", "b3_database")
	v.SetDefault("glue_table", "b3_refined")
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("log_level", "info")
}

// Validate checks values that would make every fetch fail before it starts
func (c *Config) Validate() error {
	var problems []string

	if c.B3Config.BaseURL == "" {
		problems = append(problems, "B3_BASE_URL must not be empty")
	} else if !strings.HasPrefix(c.B3Config.BaseURL, "http://") && !strings.HasPrefix(c.B3Config.BaseURL, "https://") {
		problems = append(problems, "B3_BASE_URL must start with http:// or https://")
	}
	if c.B3Config.RenderWait < 0 {
		problems = append(problems, "RENDER_WAIT must not be negative")
	}
	if c.B3Config.HTTPTimeout <= 0 {
		problems = append(problems, "HTTP_TIMEOUT must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
	}
	return nil
}
