// Package config loads the Kite configuration from tier defaults, an
// optional kite.yaml file and KITE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/kite/internal/domain"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. KITE_SERVER_PORT.
const EnvPrefix = "KITE"

// Load reads the configuration from the environment and, when present,
// kite.yaml in the working directory or /etc/kite. KITE_CONFIG names an
// explicit file.
func Load() (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("config")
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kite")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/kite")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper builds the configuration from an initialised viper instance.
// The tier picks the defaults every other key overrides.
func FromViper(v *viper.Viper) (*domain.Config, error) {
	var cfg *domain.Config
	switch tier := domain.Tier(strings.ToLower(v.GetString("tier"))); tier {
	case "", domain.TierCommunity:
		cfg = domain.DefaultConfig()
	case domain.TierPro:
		cfg = domain.ProConfig()
	default:
		return nil, fmt.Errorf("%w: unknown tier %q", domain.ErrInvalidInput, tier)
	}
	setDefaults(v, cfg)

	cfg.Server.Host = v.GetString("server.host")
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.ReadTimeout = v.GetInt("server.read_timeout")
	cfg.Server.WriteTimeout = v.GetInt("server.write_timeout")
	cfg.Server.AllowedOrigins = splitList(v.GetString("server.allowed_origins"))

	cfg.Repository.Driver = v.GetString("repository.driver")
	cfg.Repository.SQLitePath = v.GetString("repository.sqlite_path")
	cfg.Repository.PostgresHost = v.GetString("repository.postgres_host")
	cfg.Repository.PostgresPort = v.GetInt("repository.postgres_port")
	cfg.Repository.PostgresUser = v.GetString("repository.postgres_user")
	cfg.Repository.PostgresPassword = v.GetString("repository.postgres_password")
	cfg.Repository.PostgresDB = v.GetString("repository.postgres_db")
	cfg.Repository.PostgresSSLMode = v.GetString("repository.postgres_sslmode")
	cfg.Repository.MaxOpenConns = v.GetInt("repository.max_open_conns")
	cfg.Repository.MaxIdleConns = v.GetInt("repository.max_idle_conns")
	cfg.Repository.ConnMaxLifetime = v.GetDuration("repository.conn_max_lifetime")

	cfg.Cache.Type = v.GetString("cache.type")
	cfg.Cache.LocalMaxSize = v.GetInt("cache.local_max_size")
	cfg.Cache.LocalTTL = v.GetDuration("cache.local_ttl")
	cfg.Cache.RedisAddr = v.GetString("cache.redis_addr")
	cfg.Cache.RedisPassword = v.GetString("cache.redis_password")
	cfg.Cache.RedisDB = v.GetInt("cache.redis_db")
	cfg.Cache.EnableTwoPhase = v.GetBool("cache.two_phase")
	cfg.Cache.RuleTTL = v.GetDuration("cache.rule_ttl")

	cfg.EventBus.Type = v.GetString("eventbus.type")
	cfg.EventBus.ChannelBufferSize = v.GetInt("eventbus.channel_buffer_size")
	cfg.EventBus.NATSUrl = v.GetString("eventbus.nats_url")
	cfg.EventBus.NATSQueue = v.GetString("eventbus.nats_queue")
	cfg.EventBus.NATSToken = v.GetString("eventbus.nats_token")
	cfg.EventBus.NATSMaxReconnects = v.GetInt("eventbus.nats_max_reconnects")
	cfg.EventBus.NATSReconnectWait = v.GetInt("eventbus.nats_reconnect_wait")

	cfg.Messaging.Type = v.GetString("messaging.type")
	cfg.Messaging.AMQPURL = v.GetString("messaging.amqp_url")
	cfg.Messaging.Exchange = v.GetString("messaging.exchange")

	cfg.Telephony.BaseURL = v.GetString("telephony.base_url")
	cfg.Telephony.APIKey = v.GetString("telephony.api_key")
	cfg.Telephony.WebhookSecret = v.GetString("telephony.webhook_secret")
	cfg.Telephony.SignatureTolerance = v.GetDuration("telephony.signature_tolerance")
	cfg.Telephony.Timeout = v.GetDuration("telephony.timeout")

	cfg.Dispatcher.ActionTimeout = v.GetDuration("dispatcher.action_timeout")
	cfg.Dispatcher.ContactLimit = v.GetInt("dispatcher.contact_limit")
	cfg.Dispatcher.ContactWindow = v.GetDuration("dispatcher.contact_window")

	cfg.Worker.Enabled = v.GetBool("worker.enabled")
	cfg.Worker.TenantIDs = splitList(v.GetString("worker.tenants"))

	cfg.Scheduler.Enabled = v.GetBool("scheduler.enabled")
	cfg.Scheduler.OverdueSchedule = v.GetString("scheduler.overdue_schedule")
	cfg.Scheduler.InstallmentSchedule = v.GetString("scheduler.installment_schedule")

	cfg.Logging.Level = strings.ToLower(v.GetString("log.level"))
	cfg.Logging.Format = strings.ToLower(v.GetString("log.format"))

	cfg.Tracing.Enabled = v.GetBool("tracing.enabled")
	cfg.Tracing.ServiceName = v.GetString("tracing.service_name")

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *domain.Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.allowed_origins", strings.Join(cfg.Server.AllowedOrigins, ","))

	v.SetDefault("repository.driver", cfg.Repository.Driver)
	v.SetDefault("repository.sqlite_path", cfg.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", cfg.Repository.PostgresHost)
	v.SetDefault("repository.postgres_port", cfg.Repository.PostgresPort)
	v.SetDefault("repository.postgres_user", cfg.Repository.PostgresUser)
	v.SetDefault("repository.postgres_password", cfg.Repository.PostgresPassword)
	v.SetDefault("repository.postgres_db", cfg.Repository.PostgresDB)
	v.SetDefault("repository.postgres_sslmode", cfg.Repository.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", cfg.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", cfg.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", cfg.Repository.ConnMaxLifetime)

	v.SetDefault("cache.type", cfg.Cache.Type)
	v.SetDefault("cache.local_max_size", cfg.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", cfg.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", cfg.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", cfg.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", cfg.Cache.RedisDB)
	v.SetDefault("cache.two_phase", cfg.Cache.EnableTwoPhase)
	v.SetDefault("cache.rule_ttl", cfg.Cache.RuleTTL)

	v.SetDefault("eventbus.type", cfg.EventBus.Type)
	v.SetDefault("eventbus.channel_buffer_size", cfg.EventBus.ChannelBufferSize)
	v.SetDefault("eventbus.nats_url", cfg.EventBus.NATSUrl)
	v.SetDefault("eventbus.nats_queue", cfg.EventBus.NATSQueue)
	v.SetDefault("eventbus.nats_token", cfg.EventBus.NATSToken)
	v.SetDefault("eventbus.nats_max_reconnects", cfg.EventBus.NATSMaxReconnects)
	v.SetDefault("eventbus.nats_reconnect_wait", cfg.EventBus.NATSReconnectWait)

	v.SetDefault("messaging.type", cfg.Messaging.Type)
	v.SetDefault("messaging.amqp_url", cfg.Messaging.AMQPURL)
	v.SetDefault("messaging.exchange", cfg.Messaging.Exchange)

	v.SetDefault("telephony.base_url", cfg.Telephony.BaseURL)
	v.SetDefault("telephony.api_key", cfg.Telephony.APIKey)
	v.SetDefault("telephony.webhook_secret", cfg.Telephony.WebhookSecret)
	v.SetDefault("telephony.signature_tolerance", cfg.Telephony.SignatureTolerance)
	v.SetDefault("telephony.timeout", cfg.Telephony.Timeout)

	v.SetDefault("dispatcher.action_timeout", cfg.Dispatcher.ActionTimeout)
	v.SetDefault("dispatcher.contact_limit", cfg.Dispatcher.ContactLimit)
	v.SetDefault("dispatcher.contact_window", cfg.Dispatcher.ContactWindow)

	v.SetDefault("worker.enabled", cfg.Worker.Enabled)
	v.SetDefault("worker.tenants", strings.Join(cfg.Worker.TenantIDs, ","))

	v.SetDefault("scheduler.enabled", cfg.Scheduler.Enabled)
	v.SetDefault("scheduler.overdue_schedule", cfg.Scheduler.OverdueSchedule)
	v.SetDefault("scheduler.installment_schedule", cfg.Scheduler.InstallmentSchedule)

	v.SetDefault("log.level", cfg.Logging.Level)
	v.SetDefault("log.format", cfg.Logging.Format)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
}

func validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", domain.ErrInvalidInput, cfg.Server.Port)
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unknown repository driver %q", domain.ErrInvalidInput, cfg.Repository.Driver)
	}
	if cfg.Dispatcher.ContactLimit < 0 {
		return fmt.Errorf("%w: contact limit must not be negative", domain.ErrInvalidInput)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", domain.ErrInvalidInput, cfg.Logging.Level)
	}
	return nil
}

// splitList parses a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
