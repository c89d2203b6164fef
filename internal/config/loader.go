// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence ENV > File > Defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load merges defaults, the optional YAML file and environment overrides,
// then validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFileConfig(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge config file: %w", err)
		}
	}

	if err := mergeEnvConfig(&cfg); err != nil {
		return cfg, fmt.Errorf("merge environment: %w", err)
	}

	// A blank service id would write anonymous provenance into every
	// persisted document; mint one instead.
	if cfg.ServiceID == "" {
		cfg.ServiceID = "sipevd-" + uuid.NewString()[:8]
	}

	if err := Validate(&cfg); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func defaults() AppConfig {
	return AppConfig{
		ServiceID:    "",
		InstanceName: "",
		LogLevel:     "info",

		SIPBindURL:   "sip:0.0.0.0:5060;transport=udp",
		SIPUserAgent: "sip-event-processor",
		SIPTransport: "udp",

		NumWorkers:          0,
		MaxQueuePerWorker:   50000,
		MaxDialogsPerWorker: 2000000,

		MaxSubscriptionsPerTenant: 5000,

		BLFSubscriptionTTL:     time.Hour,
		MWISubscriptionTTL:     2 * time.Hour,
		ReaperScanInterval:     60 * time.Second,
		StuckProcessingTimeout: 30 * time.Second,

		PresenceFailoverStrategy:     "round_robin",
		PresenceReconnectInterval:    5 * time.Second,
		PresenceReconnectMaxInterval: 60 * time.Second,
		PresenceReadTimeout:          30 * time.Second,
		PresenceRecvBufferSize:       65536,
		PresenceHeartbeatInterval:    15 * time.Second,
		PresenceHeartbeatMiss:        3,
		PresenceMaxPendingEvents:     100000,
		PresenceServerCooldown:       2 * time.Minute,

		MongoURI:            "mongodb://localhost:27017",
		MongoDatabase:       "sip_events",
		MongoCollection:     "subscriptions",
		EnablePersistence:   true,
		MongoSyncInterval:   5 * time.Second,
		MongoBatchSize:      500,
		MongoMinPoolSize:    2,
		MongoMaxPoolSize:    16,
		MongoConnectTimeout: 10 * time.Second,
		MongoSocketTimeout:  10 * time.Second,

		SlowWarnThreshold:     50 * time.Millisecond,
		SlowErrorThreshold:    200 * time.Millisecond,
		SlowCriticalThreshold: time.Second,

		HTTPEnabled:        true,
		HTTPBindAddress:    "0.0.0.0",
		HTTPPort:           8080,
		HTTPReadTimeout:    5 * time.Second,
		HTTPWriteTimeout:   10 * time.Second,
		HTTPMaxConnections: 128,
		HTTPRateLimitRPS:   50,

		TelemetryEnabled:      false,
		TelemetryExporter:     "grpc",
		TelemetryEndpoint:     "localhost:4317",
		TelemetrySamplingRate: 1.0,
	}
}

func (l *Loader) loadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		if errors.Is(err, io.EOF) {
			return &fc, nil // empty file, defaults apply
		}
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return &fc, nil
}

func mergeFileConfig(cfg *AppConfig, fc *FileConfig) error {
	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	var errs []error
	setDur := func(dst *time.Duration, v, key string) {
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}

	setStr(&cfg.ServiceID, fc.Service.ServiceID)
	setStr(&cfg.InstanceName, fc.Service.InstanceName)
	setStr(&cfg.LogLevel, fc.Service.LogLevel)

	setStr(&cfg.SIPBindURL, fc.SIP.BindURL)
	setStr(&cfg.SIPUserAgent, fc.SIP.UserAgent)
	setStr(&cfg.SIPTransport, fc.SIP.Transport)

	setInt(&cfg.NumWorkers, fc.Dispatcher.NumWorkers)
	setInt(&cfg.MaxQueuePerWorker, fc.Dispatcher.MaxQueuePerWorker)
	setInt(&cfg.MaxDialogsPerWorker, fc.Dispatcher.MaxDialogsPerWorker)

	setInt(&cfg.MaxSubscriptionsPerTenant, fc.Tenant.MaxSubscriptionsPerTenant)

	setDur(&cfg.BLFSubscriptionTTL, fc.Reaper.BLFSubscriptionTTL, "reaper.blfSubscriptionTtl")
	setDur(&cfg.MWISubscriptionTTL, fc.Reaper.MWISubscriptionTTL, "reaper.mwiSubscriptionTtl")
	setDur(&cfg.ReaperScanInterval, fc.Reaper.ScanInterval, "reaper.scanInterval")
	setDur(&cfg.StuckProcessingTimeout, fc.Reaper.StuckProcessingTimeout, "reaper.stuckProcessingTimeout")

	if fc.Presence.Servers != "" {
		servers, err := ParsePresenceServers(fc.Presence.Servers)
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg.PresenceServers = servers
		}
	}
	setStr(&cfg.PresenceFailoverStrategy, fc.Presence.FailoverStrategy)
	setDur(&cfg.PresenceReconnectInterval, fc.Presence.ReconnectInterval, "presence.reconnectInterval")
	setDur(&cfg.PresenceReconnectMaxInterval, fc.Presence.ReconnectMaxInterval, "presence.reconnectMaxInterval")
	setDur(&cfg.PresenceReadTimeout, fc.Presence.ReadTimeout, "presence.readTimeout")
	setInt(&cfg.PresenceRecvBufferSize, fc.Presence.RecvBufferSize)
	setDur(&cfg.PresenceHeartbeatInterval, fc.Presence.HeartbeatInterval, "presence.heartbeatInterval")
	setInt(&cfg.PresenceHeartbeatMiss, fc.Presence.HeartbeatMiss)
	setInt(&cfg.PresenceMaxPendingEvents, fc.Presence.MaxPendingEvents)
	setDur(&cfg.PresenceServerCooldown, fc.Presence.ServerCooldown, "presence.serverCooldown")

	setStr(&cfg.MongoURI, fc.Store.URI)
	setStr(&cfg.MongoDatabase, fc.Store.Database)
	setStr(&cfg.MongoCollection, fc.Store.Collection)
	setBool(&cfg.EnablePersistence, fc.Store.EnablePersistence)
	setDur(&cfg.MongoSyncInterval, fc.Store.SyncInterval, "store.syncInterval")
	setInt(&cfg.MongoBatchSize, fc.Store.BatchSize)
	setInt(&cfg.MongoMinPoolSize, fc.Store.MinPoolSize)
	setInt(&cfg.MongoMaxPoolSize, fc.Store.MaxPoolSize)
	setDur(&cfg.MongoConnectTimeout, fc.Store.ConnectTimeout, "store.connectTimeout")
	setDur(&cfg.MongoSocketTimeout, fc.Store.SocketTimeout, "store.socketTimeout")

	setDur(&cfg.SlowWarnThreshold, fc.Slow.WarnThreshold, "slow.warnThreshold")
	setDur(&cfg.SlowErrorThreshold, fc.Slow.ErrorThreshold, "slow.errorThreshold")
	setDur(&cfg.SlowCriticalThreshold, fc.Slow.CriticalThreshold, "slow.criticalThreshold")

	setBool(&cfg.HTTPEnabled, fc.HTTP.Enabled)
	setStr(&cfg.HTTPBindAddress, fc.HTTP.BindAddress)
	setInt(&cfg.HTTPPort, fc.HTTP.Port)
	setDur(&cfg.HTTPReadTimeout, fc.HTTP.ReadTimeout, "http.readTimeout")
	setDur(&cfg.HTTPWriteTimeout, fc.HTTP.WriteTimeout, "http.writeTimeout")
	setInt(&cfg.HTTPMaxConnections, fc.HTTP.MaxConnections)
	setInt(&cfg.HTTPRateLimitRPS, fc.HTTP.RateLimitRPS)

	setBool(&cfg.TelemetryEnabled, fc.Telemetry.Enabled)
	setStr(&cfg.TelemetryExporter, fc.Telemetry.Exporter)
	setStr(&cfg.TelemetryEndpoint, fc.Telemetry.Endpoint)
	if fc.Telemetry.SamplingRate != nil {
		cfg.TelemetrySamplingRate = *fc.Telemetry.SamplingRate
	}

	return errors.Join(errs...)
}

func mergeEnvConfig(cfg *AppConfig) error {
	cfg.ServiceID = ParseString("SIPEVD_SERVICE_ID", cfg.ServiceID)
	cfg.InstanceName = ParseString("SIPEVD_INSTANCE_NAME", cfg.InstanceName)
	cfg.LogLevel = ParseString("SIPEVD_LOG_LEVEL", cfg.LogLevel)

	cfg.SIPBindURL = ParseString("SIPEVD_SIP_BIND_URL", cfg.SIPBindURL)
	cfg.SIPUserAgent = ParseString("SIPEVD_SIP_USER_AGENT", cfg.SIPUserAgent)
	cfg.SIPTransport = ParseString("SIPEVD_SIP_TRANSPORT", cfg.SIPTransport)

	cfg.NumWorkers = ParseInt("SIPEVD_NUM_WORKERS", cfg.NumWorkers)
	cfg.MaxQueuePerWorker = ParseInt("SIPEVD_MAX_QUEUE_PER_WORKER", cfg.MaxQueuePerWorker)
	cfg.MaxDialogsPerWorker = ParseInt("SIPEVD_MAX_DIALOGS_PER_WORKER", cfg.MaxDialogsPerWorker)

	cfg.MaxSubscriptionsPerTenant = ParseInt("SIPEVD_MAX_SUBS_PER_TENANT", cfg.MaxSubscriptionsPerTenant)

	cfg.BLFSubscriptionTTL = ParseDuration("SIPEVD_BLF_TTL", cfg.BLFSubscriptionTTL)
	cfg.MWISubscriptionTTL = ParseDuration("SIPEVD_MWI_TTL", cfg.MWISubscriptionTTL)
	cfg.ReaperScanInterval = ParseDuration("SIPEVD_REAPER_SCAN_INTERVAL", cfg.ReaperScanInterval)
	cfg.StuckProcessingTimeout = ParseDuration("SIPEVD_STUCK_TIMEOUT", cfg.StuckProcessingTimeout)

	if csv, ok := os.LookupEnv("SIPEVD_PRESENCE_SERVERS"); ok {
		servers, err := ParsePresenceServers(csv)
		if err != nil {
			return err
		}
		cfg.PresenceServers = servers
	}
	cfg.PresenceFailoverStrategy = ParseString("SIPEVD_PRESENCE_STRATEGY", cfg.PresenceFailoverStrategy)
	cfg.PresenceReconnectInterval = ParseDuration("SIPEVD_PRESENCE_RECONNECT_INTERVAL", cfg.PresenceReconnectInterval)
	cfg.PresenceReconnectMaxInterval = ParseDuration("SIPEVD_PRESENCE_RECONNECT_MAX_INTERVAL", cfg.PresenceReconnectMaxInterval)
	cfg.PresenceReadTimeout = ParseDuration("SIPEVD_PRESENCE_READ_TIMEOUT", cfg.PresenceReadTimeout)
	cfg.PresenceRecvBufferSize = ParseInt("SIPEVD_PRESENCE_RECV_BUFFER", cfg.PresenceRecvBufferSize)
	cfg.PresenceHeartbeatInterval = ParseDuration("SIPEVD_PRESENCE_HEARTBEAT_INTERVAL", cfg.PresenceHeartbeatInterval)
	cfg.PresenceHeartbeatMiss = ParseInt("SIPEVD_PRESENCE_HEARTBEAT_MISS", cfg.PresenceHeartbeatMiss)
	cfg.PresenceMaxPendingEvents = ParseInt("SIPEVD_PRESENCE_MAX_PENDING", cfg.PresenceMaxPendingEvents)
	cfg.PresenceServerCooldown = ParseDuration("SIPEVD_PRESENCE_COOLDOWN", cfg.PresenceServerCooldown)

	cfg.MongoURI = ParseString("SIPEVD_MONGO_URI", cfg.MongoURI)
	cfg.MongoDatabase = ParseString("SIPEVD_MONGO_DATABASE", cfg.MongoDatabase)
	cfg.MongoCollection = ParseString("SIPEVD_MONGO_COLLECTION", cfg.MongoCollection)
	cfg.EnablePersistence = ParseBool("SIPEVD_PERSISTENCE_ENABLED", cfg.EnablePersistence)
	cfg.MongoSyncInterval = ParseDuration("SIPEVD_MONGO_SYNC_INTERVAL", cfg.MongoSyncInterval)
	cfg.MongoBatchSize = ParseInt("SIPEVD_MONGO_BATCH_SIZE", cfg.MongoBatchSize)
	cfg.MongoMinPoolSize = ParseInt("SIPEVD_MONGO_MIN_POOL", cfg.MongoMinPoolSize)
	cfg.MongoMaxPoolSize = ParseInt("SIPEVD_MONGO_MAX_POOL", cfg.MongoMaxPoolSize)
	cfg.MongoConnectTimeout = ParseDuration("SIPEVD_MONGO_CONNECT_TIMEOUT", cfg.MongoConnectTimeout)
	cfg.MongoSocketTimeout = ParseDuration("SIPEVD_MONGO_SOCKET_TIMEOUT", cfg.MongoSocketTimeout)

	cfg.SlowWarnThreshold = ParseDuration("SIPEVD_SLOW_WARN", cfg.SlowWarnThreshold)
	cfg.SlowErrorThreshold = ParseDuration("SIPEVD_SLOW_ERROR", cfg.SlowErrorThreshold)
	cfg.SlowCriticalThreshold = ParseDuration("SIPEVD_SLOW_CRITICAL", cfg.SlowCriticalThreshold)

	cfg.HTTPEnabled = ParseBool("SIPEVD_HTTP_ENABLED", cfg.HTTPEnabled)
	cfg.HTTPBindAddress = ParseString("SIPEVD_HTTP_BIND", cfg.HTTPBindAddress)
	cfg.HTTPPort = ParseInt("SIPEVD_HTTP_PORT", cfg.HTTPPort)
	cfg.HTTPReadTimeout = ParseDuration("SIPEVD_HTTP_READ_TIMEOUT", cfg.HTTPReadTimeout)
	cfg.HTTPWriteTimeout = ParseDuration("SIPEVD_HTTP_WRITE_TIMEOUT", cfg.HTTPWriteTimeout)
	cfg.HTTPMaxConnections = ParseInt("SIPEVD_HTTP_MAX_CONNS", cfg.HTTPMaxConnections)
	cfg.HTTPRateLimitRPS = ParseInt("SIPEVD_HTTP_RATE_LIMIT", cfg.HTTPRateLimitRPS)

	cfg.TelemetryEnabled = ParseBool("SIPEVD_TELEMETRY_ENABLED", cfg.TelemetryEnabled)
	cfg.TelemetryExporter = ParseString("SIPEVD_TELEMETRY_EXPORTER", cfg.TelemetryExporter)
	cfg.TelemetryEndpoint = ParseString("SIPEVD_TELEMETRY_ENDPOINT", cfg.TelemetryEndpoint)
	cfg.TelemetrySamplingRate = ParseFloat("SIPEVD_TELEMETRY_SAMPLING", cfg.TelemetrySamplingRate)

	return nil
}

// Validate checks the merged configuration and reports every violation at once.
func Validate(cfg *AppConfig) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.NumWorkers < 0 {
		add("dispatcher.numWorkers must be >= 0 (0 = hardware parallelism), got %d", cfg.NumWorkers)
	}
	if cfg.MaxQueuePerWorker <= 0 {
		add("dispatcher.maxIncomingQueuePerWorker must be > 0, got %d", cfg.MaxQueuePerWorker)
	}
	if cfg.MaxDialogsPerWorker <= 0 {
		add("dispatcher.maxDialogsPerWorker must be > 0, got %d", cfg.MaxDialogsPerWorker)
	}
	if cfg.MaxSubscriptionsPerTenant <= 0 {
		add("tenant.maxSubscriptionsPerTenant must be > 0, got %d", cfg.MaxSubscriptionsPerTenant)
	}

	switch cfg.PresenceFailoverStrategy {
	case "round_robin", "priority", "random":
	default:
		add("presence.failoverStrategy must be round_robin, priority or random, got %q", cfg.PresenceFailoverStrategy)
	}
	if cfg.PresenceReconnectInterval <= 0 {
		add("presence.reconnectInterval must be > 0")
	}
	if cfg.PresenceReconnectMaxInterval < cfg.PresenceReconnectInterval {
		add("presence.reconnectMaxInterval must be >= reconnectInterval")
	}
	if cfg.PresenceHeartbeatMiss <= 0 {
		add("presence.heartbeatMissThreshold must be > 0, got %d", cfg.PresenceHeartbeatMiss)
	}
	if cfg.PresenceRecvBufferSize < 1024 {
		add("presence.recvBufferSize must be >= 1024, got %d", cfg.PresenceRecvBufferSize)
	}
	if cfg.PresenceMaxPendingEvents <= 0 {
		add("presence.maxPendingEvents must be > 0, got %d", cfg.PresenceMaxPendingEvents)
	}

	if cfg.EnablePersistence {
		if cfg.MongoURI == "" {
			add("store.uri must be set when persistence is enabled")
		}
		if cfg.MongoDatabase == "" || cfg.MongoCollection == "" {
			add("store.database and store.collection must be set when persistence is enabled")
		}
		if cfg.MongoBatchSize <= 0 {
			add("store.batchSize must be > 0, got %d", cfg.MongoBatchSize)
		}
		if cfg.MongoSyncInterval <= 0 {
			add("store.syncInterval must be > 0")
		}
	}

	if !(cfg.SlowWarnThreshold > 0 && cfg.SlowWarnThreshold <= cfg.SlowErrorThreshold && cfg.SlowErrorThreshold <= cfg.SlowCriticalThreshold) {
		add("slow thresholds must satisfy 0 < warn <= error <= critical")
	}

	if cfg.HTTPEnabled {
		if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
			add("http.port must be in 1..65535, got %d", cfg.HTTPPort)
		}
		if cfg.HTTPMaxConnections <= 0 {
			add("http.maxConnections must be > 0, got %d", cfg.HTTPMaxConnections)
		}
	}

	if cfg.TelemetryEnabled {
		switch cfg.TelemetryExporter {
		case "grpc", "http":
		default:
			add("telemetry.exporter must be grpc or http, got %q", cfg.TelemetryExporter)
		}
		if cfg.TelemetrySamplingRate < 0 || cfg.TelemetrySamplingRate > 1 {
			add("telemetry.samplingRate must be in [0,1], got %v", cfg.TelemetrySamplingRate)
		}
	}

	return errors.Join(errs...)
}
