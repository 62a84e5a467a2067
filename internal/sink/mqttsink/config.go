package mqttsink

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/nwws-relay/nwws-relay/internal/config"
)

// Config is the C5 sink's runtime configuration, built from config.MQTT.
type Config struct {
	Broker               string
	Port                 int
	Username             string
	Password             string
	ClientID             string
	TopicPrefix          string
	QoS                  byte
	Retain               bool
	MessageExpiry        time.Duration
	QueueSize            int
	SweepInterval         time.Duration
	ConnectTimeout       time.Duration

	CACertFile     string
	ClientCertFile string
	ClientKeyFile  string
}

// FromConfig adapts the loaded config.MQTT section into a sink Config.
func FromConfig(c config.MQTT) Config {
	return Config{
		Broker:        c.Broker,
		Port:          c.Port,
		Username:      c.Username,
		Password:      c.Password,
		ClientID:      c.ClientID,
		TopicPrefix:   c.TopicPrefix,
		QoS:           c.QoS,
		Retain:        c.Retain,
		MessageExpiry: time.Duration(c.MessageExpiryMinutes) * time.Minute,
		QueueSize:     500,
		SweepInterval: 5 * time.Minute,
		ConnectTimeout: 10 * time.Second,
	}
}

func loadTLSConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	if caFile == "" && certFile == "" {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read ca cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse ca cert: invalid PEM")
		}
		tlsCfg.RootCAs = pool
	}
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client keypair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
