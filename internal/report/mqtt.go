package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Run status payloads.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// MQTT QoS Values.
const (
	qosAtMostOnce  = 0x00
	qosAtLeastOnce = 0x01
	qosExactlyOnce = 0x02
)

// MQTTOpts configures an MQTT reporter.
type MQTTOpts struct {
	BrokerAddr         string // Required
	ClientID           string // Optional
	Username, Password string // Optional

	Run         string // Required
	TopicPrefix string // Optional
}

// NewMQTT connects to the broker. The run status topic is registered as
// the will so that an aborted run shows as offline.
func NewMQTT(ctx context.Context, opts MQTTOpts) (*MQTT, error) {
	if opts.Run == "" {
		return nil, errors.New("Run cannot be blank")
	}
	if opts.ClientID == "" {
		opts.ClientID = "pmftest:" + opts.Run
	}

	topics := Topics{
		Prefix: opts.TopicPrefix,
		Run:    opts.Run,
	}
	if topics.Prefix == "" {
		topics.Prefix = "pmftest"
	}

	connLostErrs := make(chan error, 1)

	o := mqtt.NewClientOptions()
	o.AddBroker(opts.BrokerAddr)
	o.SetClientID(opts.ClientID)
	o.SetCleanSession(true)
	o.SetConnectRetry(false)  // Abort only.
	o.SetAutoReconnect(false) // Abort only.
	o.SetKeepAlive(time.Minute)
	if opts.Username != "" || opts.Password != "" {
		o.SetCredentialsProvider(mqtt.CredentialsProvider(func() (username string, password string) {
			return opts.Username, opts.Password
		}))
	}
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		err = fmt.Errorf("MQTT connection lost: %w", err)
		select {
		case connLostErrs <- err:
		default:
		}
	})

	o.SetWill(topics.Status(), StatusOffline, qosAtLeastOnce, true)

	c := mqtt.NewClient(o)
	tkn := c.Connect()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("timeout waiting for MQTT Connect: %w", ctx.Err())
	case <-tkn.Done():
		if err := tkn.Error(); err != nil {
			return nil, fmt.Errorf("MQTT Connect error: %w", err)
		}
	}

	return &MQTT{
		c:            c,
		connLostErrs: connLostErrs,
		topics:       topics,
	}, nil
}

// MQTT publishes results to a broker.
type MQTT struct {
	c            mqtt.Client
	connLostErrs <-chan error
	topics       Topics
}

// Topics returns the topics used for this run.
func (m *MQTT) Topics() Topics {
	return m.topics
}

// OnConnectionLost blocks until the broker connection drops or ctx is
// done.
func (m *MQTT) OnConnectionLost(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-m.connLostErrs:
		return err
	}
}

// Start publishes the retained online status.
func (m *MQTT) Start(ctx context.Context) error {
	return m.publishStatus(ctx, StatusOnline)
}

// Report publishes r as JSON. Skipped tests are published with
// status skip and the reason as message.
func (m *MQTT) Report(ctx context.Context, r Result) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	tkn := m.c.Publish(m.topics.Result(r.Name), qosAtLeastOnce, true, payload)
	return tokenWait(ctx, tkn, "publish result")
}

// Finish publishes the summary followed by the offline status.
func (m *MQTT) Finish(ctx context.Context, s Summary) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	tkn := m.c.Publish(m.topics.Summary(), qosExactlyOnce, true, payload)
	if err := tokenWait(ctx, tkn, "publish summary"); err != nil {
		return err
	}
	return m.publishStatus(ctx, StatusOffline)
}

func (m *MQTT) publishStatus(ctx context.Context, status string) error {
	tkn := m.c.Publish(m.topics.Status(), qosExactlyOnce, true, status)
	return tokenWait(ctx, tkn, "publish run status")
}

// Close the MQTT connection.
func (m *MQTT) Close() error {
	m.c.Disconnect(2500)
	return nil
}

// tokenWait waits for an MQTT token to complete, otherwise returning an error.
func tokenWait(ctx context.Context, tkn mqtt.Token, description string) error {
	select {
	case <-tkn.Done():
		if err := tkn.Error(); err != nil {
			return fmt.Errorf("mqtt token error (%s): %w", description, err)
		}
	case <-ctx.Done():
		return fmt.Errorf("mqtt canceled waiting for token completion (%s): %w", description, ctx.Err())
	case <-time.After(time.Second):
		return fmt.Errorf("mqtt timeout waiting for token completion (%s)", description)
	}
	return nil
}
