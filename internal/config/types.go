// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FileConfig is the YAML configuration structure. Every field is optional;
// unset fields fall back to defaults and may be overridden by environment.
type FileConfig struct {
	Service    ServiceFileConfig    `yaml:"service,omitempty"`
	SIP        SIPFileConfig        `yaml:"sip,omitempty"`
	Dispatcher DispatcherFileConfig `yaml:"dispatcher,omitempty"`
	Tenant     TenantFileConfig     `yaml:"tenant,omitempty"`
	Reaper     ReaperFileConfig     `yaml:"reaper,omitempty"`
	Presence   PresenceFileConfig   `yaml:"presence,omitempty"`
	Store      StoreFileConfig      `yaml:"store,omitempty"`
	Slow       SlowFileConfig       `yaml:"slow,omitempty"`
	HTTP       HTTPFileConfig       `yaml:"http,omitempty"`
	Telemetry  TelemetryFileConfig  `yaml:"telemetry,omitempty"`
}

type ServiceFileConfig struct {
	ServiceID    string `yaml:"serviceId,omitempty"`
	InstanceName string `yaml:"instanceName,omitempty"`
	LogLevel     string `yaml:"logLevel,omitempty"`
}

type SIPFileConfig struct {
	BindURL   string `yaml:"bindUrl,omitempty"`
	UserAgent string `yaml:"userAgent,omitempty"`
	Transport string `yaml:"transport,omitempty"`
}

type DispatcherFileConfig struct {
	NumWorkers          *int `yaml:"numWorkers,omitempty"`
	MaxQueuePerWorker   *int `yaml:"maxIncomingQueuePerWorker,omitempty"`
	MaxDialogsPerWorker *int `yaml:"maxDialogsPerWorker,omitempty"`
}

type TenantFileConfig struct {
	MaxSubscriptionsPerTenant *int `yaml:"maxSubscriptionsPerTenant,omitempty"`
}

type ReaperFileConfig struct {
	BLFSubscriptionTTL     string `yaml:"blfSubscriptionTtl,omitempty"`
	MWISubscriptionTTL     string `yaml:"mwiSubscriptionTtl,omitempty"`
	ScanInterval           string `yaml:"scanInterval,omitempty"`
	StuckProcessingTimeout string `yaml:"stuckProcessingTimeout,omitempty"`
}

type PresenceFileConfig struct {
	Servers              string `yaml:"servers,omitempty"` // CSV host:port
	FailoverStrategy     string `yaml:"failoverStrategy,omitempty"`
	ReconnectInterval    string `yaml:"reconnectInterval,omitempty"`
	ReconnectMaxInterval string `yaml:"reconnectMaxInterval,omitempty"`
	ReadTimeout          string `yaml:"readTimeout,omitempty"`
	RecvBufferSize       *int   `yaml:"recvBufferSize,omitempty"`
	HeartbeatInterval    string `yaml:"heartbeatInterval,omitempty"`
	HeartbeatMiss        *int   `yaml:"heartbeatMissThreshold,omitempty"`
	MaxPendingEvents     *int   `yaml:"maxPendingEvents,omitempty"`
	ServerCooldown       string `yaml:"serverCooldown,omitempty"`
}

type StoreFileConfig struct {
	URI               string `yaml:"uri,omitempty"`
	Database          string `yaml:"database,omitempty"`
	Collection        string `yaml:"collection,omitempty"`
	EnablePersistence *bool  `yaml:"enablePersistence,omitempty"`
	SyncInterval      string `yaml:"syncInterval,omitempty"`
	BatchSize         *int   `yaml:"batchSize,omitempty"`
	MinPoolSize       *int   `yaml:"minPoolSize,omitempty"`
	MaxPoolSize       *int   `yaml:"maxPoolSize,omitempty"`
	ConnectTimeout    string `yaml:"connectTimeout,omitempty"`
	SocketTimeout     string `yaml:"socketTimeout,omitempty"`
}

type SlowFileConfig struct {
	WarnThreshold     string `yaml:"warnThreshold,omitempty"`
	ErrorThreshold    string `yaml:"errorThreshold,omitempty"`
	CriticalThreshold string `yaml:"criticalThreshold,omitempty"`
}

type HTTPFileConfig struct {
	Enabled        *bool  `yaml:"enabled,omitempty"`
	BindAddress    string `yaml:"bindAddress,omitempty"`
	Port           *int   `yaml:"port,omitempty"`
	ReadTimeout    string `yaml:"readTimeout,omitempty"`
	WriteTimeout   string `yaml:"writeTimeout,omitempty"`
	MaxConnections *int   `yaml:"maxConnections,omitempty"`
	RateLimitRPS   *int   `yaml:"rateLimitRps,omitempty"`
}

type TelemetryFileConfig struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	Exporter     string   `yaml:"exporter,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	SamplingRate *float64 `yaml:"samplingRate,omitempty"`
}

// AppConfig is the merged runtime configuration consumed by the daemon.
type AppConfig struct {
	ServiceID    string
	InstanceName string
	LogLevel     string

	SIPBindURL   string
	SIPUserAgent string
	SIPTransport string

	NumWorkers          int // 0 = hardware parallelism
	MaxQueuePerWorker   int
	MaxDialogsPerWorker int

	MaxSubscriptionsPerTenant int

	BLFSubscriptionTTL     time.Duration
	MWISubscriptionTTL     time.Duration
	ReaperScanInterval     time.Duration
	StuckProcessingTimeout time.Duration

	PresenceServers              []PresenceServer
	PresenceFailoverStrategy     string
	PresenceReconnectInterval    time.Duration
	PresenceReconnectMaxInterval time.Duration
	PresenceReadTimeout          time.Duration
	PresenceRecvBufferSize       int
	PresenceHeartbeatInterval    time.Duration
	PresenceHeartbeatMiss        int
	PresenceMaxPendingEvents     int
	PresenceServerCooldown       time.Duration

	MongoURI            string
	MongoDatabase       string
	MongoCollection     string
	EnablePersistence   bool
	MongoSyncInterval   time.Duration
	MongoBatchSize      int
	MongoMinPoolSize    int
	MongoMaxPoolSize    int
	MongoConnectTimeout time.Duration
	MongoSocketTimeout  time.Duration

	SlowWarnThreshold     time.Duration
	SlowErrorThreshold    time.Duration
	SlowCriticalThreshold time.Duration

	HTTPEnabled        bool
	HTTPBindAddress    string
	HTTPPort           int
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPMaxConnections int
	HTTPRateLimitRPS   int

	TelemetryEnabled      bool
	TelemetryExporter     string
	TelemetryEndpoint     string
	TelemetrySamplingRate float64
}

// PresenceServer is one endpoint of the presence feed. Priority is the
// position in the configured list (lower wins for the priority strategy).
type PresenceServer struct {
	Host     string
	Port     int
	Priority int
}

// Endpoint returns the host:port form used in logs and health listings.
func (s PresenceServer) Endpoint() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

const defaultPresencePort = 9000

// ParsePresenceServers parses the CSV "host[:port]" list. Entries without a
// port use the default feed port. Blank entries are skipped.
func ParsePresenceServers(csv string) ([]PresenceServer, error) {
	var out []PresenceServer
	for _, raw := range strings.Split(csv, ",") {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		host := entry
		port := defaultPresencePort
		if idx := strings.LastIndex(entry, ":"); idx >= 0 {
			host = entry[:idx]
			p, err := strconv.Atoi(entry[idx+1:])
			if err != nil || p <= 0 || p > 65535 {
				return nil, fmt.Errorf("presence server %q: invalid port", entry)
			}
			port = p
		}
		if host == "" {
			return nil, fmt.Errorf("presence server %q: empty host", entry)
		}
		out = append(out, PresenceServer{Host: host, Port: port, Priority: len(out)})
	}
	return out, nil
}
