// Copyright 2022 The brane Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"time"

	"github.com/spf13/viper"
)

// ===============================================================================
// Redis Related Config

// RedisConfig defines parameters for connecting to the Redis server
type RedisConfig struct {
	// Host is the Redis server hostname
	Host string `mapstructure:"host" json:"host" validate:"required"`
	// Port is the Redis server port
	Port uint16 `mapstructure:"port" json:"port" validate:"required,gt=0,lt=65536"`
	// Password is the Redis AUTH password
	Password string `mapstructure:"password" json:"-"`
	// DB is the Redis logical database
	DB int `mapstructure:"db" json:"db" validate:"gte=0"`
	// ConnectTimeout is the max duration for connecting to Redis in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// SocketTimeout is the read / write timeout on the Redis connection in seconds
	SocketTimeout int `mapstructure:"socket_timeout_sec" json:"socket_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSConfig defines parameters for connecting to NATS server
type NATSConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
}

// NotificationConfig selects the bus carrying the broadcast channels
type NotificationConfig struct {
	// Backend is either "redis" (Redis Pub/Sub) or "nats" (core NATS subjects)
	Backend string `mapstructure:"backend" json:"backend" validate:"required,oneof=redis nats"`
	// Channels are the broadcast channels the subscriber listens on
	Channels []string `mapstructure:"channels" json:"channels" validate:"required,min=1,dive,required"`
	// InsightsChannel is where generated insights are published
	InsightsChannel string `mapstructure:"insights_channel" json:"insights_channel" validate:"required"`
	// AlertsChannel is where insight alerts are published
	AlertsChannel string `mapstructure:"alerts_channel" json:"alerts_channel" validate:"required"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
	// AllowedOrigins is the CORS allowed origin list
	AllowedOrigins []string `mapstructure:"allowed_origins" json:"allowed_origins"`
}

// ===============================================================================
// Realtime Related Config

// StreamConsumerConfig defines the durable log consumer parameters
type StreamConsumerConfig struct {
	// Stream is the Redis stream to consume
	Stream string `mapstructure:"stream" json:"stream" validate:"required"`
	// Group is the consumer group name
	Group string `mapstructure:"group" json:"group" validate:"required"`
	// Consumer is this process' consumer name within the group
	Consumer string `mapstructure:"consumer" json:"consumer" validate:"required"`
	// BatchSize is the max number of entries fetched per poll
	BatchSize int64 `mapstructure:"batch_size" json:"batch_size" validate:"gte=1"`
	// PollTimeout is the max duration one poll blocks in milliseconds
	PollTimeout int `mapstructure:"poll_timeout_ms" json:"poll_timeout_ms" validate:"gte=1"`
	// ErrorBackoff is the pause after a failed poll or delivery in milliseconds
	ErrorBackoff int `mapstructure:"error_backoff_ms" json:"error_backoff_ms" validate:"gte=1"`
}

// WebSocketConfig defines per session parameters
type WebSocketConfig struct {
	// WriteTimeout is the max duration of one frame write in seconds
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=1"`
	// MaxMessageSize is the max inbound frame size in bytes
	MaxMessageSize int64 `mapstructure:"max_message_bytes" json:"max_message_bytes" validate:"gte=128"`
	// InboundRate is the allowed inbound messages per second per session
	InboundRate float64 `mapstructure:"inbound_rate_per_sec" json:"inbound_rate_per_sec" validate:"gt=0"`
	// InboundBurst is the inbound message burst allowance per session
	InboundBurst int `mapstructure:"inbound_burst" json:"inbound_burst" validate:"gte=1"`
}

// RealtimeConfig defines the real-time fan-out parameters
type RealtimeConfig struct {
	// StreamConsumer defines the durable log consumer
	StreamConsumer StreamConsumerConfig `mapstructure:"stream_consumer" json:"stream_consumer" validate:"required,dive"`
	// WebSocket defines per session parameters
	WebSocket WebSocketConfig `mapstructure:"websocket" json:"websocket" validate:"required,dive"`
	// RestartDelay is the pause before a failed background task is restarted in milliseconds
	RestartDelay int `mapstructure:"restart_delay_ms" json:"restart_delay_ms" validate:"gte=1"`
	// StatsInterval is the period of the connection statistics sampler in seconds
	StatsInterval int `mapstructure:"stats_interval_sec" json:"stats_interval_sec" validate:"gte=1"`
}

// ===============================================================================
// Store Related Config

// StoreConfig defines the document store parameters
type StoreConfig struct {
	// KeyPrefix is the prefix of every key and channel owned by the store
	KeyPrefix string `mapstructure:"key_prefix" json:"key_prefix" validate:"required"`
	// IndexName is the RediSearch index over the stored documents
	IndexName string `mapstructure:"index_name" json:"index_name" validate:"required"`
	// SeriesRetention is the RedisTimeSeries retention in milliseconds
	SeriesRetention int64 `mapstructure:"series_retention_ms" json:"series_retention_ms" validate:"gte=0"`
	// InsightsAlertDelay is the wait before the insights alert is published in milliseconds
	InsightsAlertDelay int `mapstructure:"insights_alert_delay_ms" json:"insights_alert_delay_ms" validate:"gte=0"`
	// BackgroundWorkers is the number of background task workers
	BackgroundWorkers int `mapstructure:"background_workers" json:"background_workers" validate:"gte=1"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config
type SystemConfig struct {
	// Redis are the Redis related config parameters
	Redis RedisConfig `mapstructure:"redis" json:"redis" validate:"required,dive"`
	// NATS are the NATS related config parameters. Only used with the "nats" notification backend.
	NATS NATSConfig `mapstructure:"nats" json:"nats" validate:"required,dive"`
	// Notifications selects and configures the broadcast channel bus
	Notifications NotificationConfig `mapstructure:"notifications" json:"notifications" validate:"required,dive"`
	// APIServer are the HTTP API server configs
	APIServer HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// Realtime are the real-time fan-out configs
	Realtime RealtimeConfig `mapstructure:"realtime" json:"realtime" validate:"required,dive"`
	// Store are the document store configs
	Store StoreConfig `mapstructure:"store" json:"store" validate:"required,dive"`
}

// PollTimeoutDuration returns the stream poll timeout as a duration
func (c StreamConsumerConfig) PollTimeoutDuration() time.Duration {
	return time.Millisecond * time.Duration(c.PollTimeout)
}

// ErrorBackoffDuration returns the error backoff as a duration
func (c StreamConsumerConfig) ErrorBackoffDuration() time.Duration {
	return time.Millisecond * time.Duration(c.ErrorBackoff)
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default Redis settings
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.connect_timeout_sec", 10)
	viper.SetDefault("redis.socket_timeout_sec", 10)

	// Default NATS settings
	viper.SetDefault("nats.server_uri", "nats://127.0.0.1:4222")
	viper.SetDefault("nats.connect_timeout_sec", 30)
	viper.SetDefault("nats.reconnect.max_attempts", -1)
	viper.SetDefault("nats.reconnect.wait_interval_sec", 15)

	// Default notification settings
	viper.SetDefault("notifications.backend", "redis")
	viper.SetDefault("notifications.channels", []string{"brane:insights", "brane:alerts"})
	viper.SetDefault("notifications.insights_channel", "brane:insights")
	viper.SetDefault("notifications.alerts_channel", "brane:alerts")

	// Default API server settings
	viper.SetDefault("api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("api_server.server_config.listen_port", 8000)
	viper.SetDefault("api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("api_server.server_config.write_timeout_sec", 60)
	viper.SetDefault("api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault("api_server.logging_config.request_id_header", "Brane-Request-ID")
	viper.SetDefault(
		"api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
	viper.SetDefault("api_server.allowed_origins", []string{"*"})

	// Default realtime settings
	viper.SetDefault("realtime.stream_consumer.stream", "brane:stream")
	viper.SetDefault("realtime.stream_consumer.group", "processors")
	viper.SetDefault("realtime.stream_consumer.consumer", "worker1")
	viper.SetDefault("realtime.stream_consumer.batch_size", 1)
	viper.SetDefault("realtime.stream_consumer.poll_timeout_ms", 1000)
	viper.SetDefault("realtime.stream_consumer.error_backoff_ms", 5000)
	viper.SetDefault("realtime.websocket.write_timeout_sec", 10)
	viper.SetDefault("realtime.websocket.max_message_bytes", 65536)
	viper.SetDefault("realtime.websocket.inbound_rate_per_sec", 20)
	viper.SetDefault("realtime.websocket.inbound_burst", 40)
	viper.SetDefault("realtime.restart_delay_ms", 5000)
	viper.SetDefault("realtime.stats_interval_sec", 60)

	// Default store settings
	viper.SetDefault("store.key_prefix", "brane")
	viper.SetDefault("store.index_name", "brane_data_idx")
	viper.SetDefault("store.series_retention_ms", 86400000)
	viper.SetDefault("store.insights_alert_delay_ms", 2000)
	viper.SetDefault("store.background_workers", 2)
}

// BindEnvironment binds the Redis connection environment variables over the config
func BindEnvironment() error {
	if err := viper.BindEnv("redis.host", "REDIS_HOST"); err != nil {
		return err
	}
	if err := viper.BindEnv("redis.port", "REDIS_PORT"); err != nil {
		return err
	}
	return viper.BindEnv("redis.password", "REDIS_PASSWORD")
}
