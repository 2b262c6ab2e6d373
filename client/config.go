package client

import (
	"errors"
	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"net/http"
	"time"
)

const (
	DefaultReconnectInterval    = 5 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultDebounceInterval     = 100 * time.Millisecond
	DefaultConnectTimeout       = 10 * time.Second
)

type ReconnectStrategy string

const (
	ReconnectFixed       ReconnectStrategy = "fixed"
	ReconnectExponential ReconnectStrategy = "exponential"
)

var (
	ErrNotConnected       = errors.New("not connected")
	ErrConnectTimeout     = errors.New("connect timed out")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrDisconnected       = errors.New("disconnected while connecting")
)

type Config struct {
	// Endpoint is the websocket URL of the session.
	Endpoint  string
	SessionID string
	// ClientID identifies this participant. A random id is used when empty.
	ClientID string
	Header   http.Header

	// ReconnectInterval is the delay between reconnect attempts, or the
	// initial delay for the exponential strategy.
	ReconnectInterval time.Duration
	// MaxReconnectAttempts bounds automatic reconnection. Zero selects the
	// default, a negative value disables reconnection.
	MaxReconnectAttempts int
	ReconnectStrategy    ReconnectStrategy
	// DebounceInterval is the quiet period before queued operations are sent.
	// A negative value sends every operation immediately.
	DebounceInterval time.Duration
	ConnectTimeout   time.Duration

	// SkipSyncOnJoin turns off the full sync requested after every
	// successful join.
	SkipSyncOnJoin bool
	// VerifyChecksum compares sync_response checksums with the synced content.
	VerifyChecksum bool

	Dialer Dialer
	Logger *zerolog.Logger
	Clock  func() time.Time
}

// DefaultConfig returns a config with every tunable at its default.
func DefaultConfig(endpoint, sessionID string) Config {
	return Config{
		Endpoint:             endpoint,
		SessionID:            sessionID,
		ReconnectInterval:    DefaultReconnectInterval,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		ReconnectStrategy:    ReconnectFixed,
		DebounceInterval:     DefaultDebounceInterval,
		ConnectTimeout:       DefaultConnectTimeout,
	}
}

func (c *Config) setDefaults() {
	if c.ClientID == "" {
		c.ClientID = uuid.NewString()
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ReconnectStrategy == "" {
		c.ReconnectStrategy = ReconnectFixed
	}
	if c.DebounceInterval == 0 {
		c.DebounceInterval = DefaultDebounceInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Dialer == nil {
		c.Dialer = WebsocketDialer{}
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

func (c *Config) validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if c.SessionID == "" {
		return errors.New("session id is required")
	}
	switch c.ReconnectStrategy {
	case ReconnectFixed, ReconnectExponential:
	default:
		return errors.New("unknown reconnect strategy " + string(c.ReconnectStrategy))
	}
	return nil
}

func (c *Config) logger() zerolog.Logger {
	l := log.Logger
	if c.Logger != nil {
		l = *c.Logger
	}
	return l.With().
		Str("component", "collab-client").
		Str("session_id", c.SessionID).
		Str("client_id", c.ClientID).
		Logger()
}

// retryPolicy builds the reconnect schedule. It returns backoff.Stop once
// MaxReconnectAttempts delays have been handed out.
func (c *Config) retryPolicy() backoff.BackOff {
	if c.MaxReconnectAttempts < 0 {
		return &backoff.StopBackOff{}
	}

	var base backoff.BackOff
	switch c.ReconnectStrategy {
	case ReconnectExponential:
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = c.ReconnectInterval
		exp.MaxInterval = 20 * c.ReconnectInterval
		exp.MaxElapsedTime = 0
		exp.Reset()
		base = exp
	default:
		base = backoff.NewConstantBackOff(c.ReconnectInterval)
	}
	return backoff.WithMaxRetries(base, uint64(c.MaxReconnectAttempts))
}
