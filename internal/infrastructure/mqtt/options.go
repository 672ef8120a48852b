package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/droidpilot/internal/infrastructure/config"
)

// Presence states.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

const keepAlive = 30 * time.Second

// Presence is the retained payload on droidpilot/system/{name}/status.
type Presence struct {
	Session   string `json:"session"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// sessionClientID derives the broker client ID for a session.
func sessionClientID(base, name string) string {
	if name == "" {
		return base
	}
	return base + "-" + name
}

// clientOptions builds paho options for the session name. The will
// marks the session offline if the process dies without Close.
func clientOptions(cfg config.MQTTConfig, name string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(sessionClientID(cfg.Broker.ClientID, name)).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetWill(Topics{}.Presence(name), string(presencePayload(name, PresenceOffline, "connection lost")), 1, true)

	if cfg.Reconnect.InitialDelay > 0 {
		// Paho retries the initial connect at this interval until
		// Connect gives up after connectTimeout.
		opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	}
	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

func presencePayload(name, state, reason string) []byte {
	// Only strings are encoded; Marshal cannot fail.
	data, _ := json.Marshal(Presence{ //nolint:errcheck // see above
		Session:   name,
		State:     state,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return data
}
