package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/picogrid/legion-missions/pkg/geo"
	"github.com/picogrid/legion-missions/pkg/logger"
)

const (
	DefaultMQTTTopic = "drones/+/telemetry"
	mqttQoS          = 1
)

// MQTTConfig describes the broker carrying the inbound telemetry feed
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Topic          string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// FeedMessage is the JSON payload of one inbound telemetry message. The
// drone id may come from the payload or from the topic wildcard.
type FeedMessage struct {
	DroneID       string     `json:"droneId"`
	Lat           float64    `json:"lat"`
	Lng           float64    `json:"lng"`
	Altitude      float64    `json:"altitude"`
	Heading       float64    `json:"heading"`
	Speed         float64    `json:"speed"`
	VerticalSpeed float64    `json:"verticalSpeed"`
	Battery       float64    `json:"battery"`
	NoData        bool       `json:"noData"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
}

// MQTTFeed subscribes to the external telemetry topic and pushes every
// message into a Multiplexer
type MQTTFeed struct {
	cfg MQTTConfig
	mux *Multiplexer
	log logger.Logger

	received atomic.Uint64
	rejected atomic.Uint64
}

// NewMQTTFeed creates a feed bound to a multiplexer
func NewMQTTFeed(cfg MQTTConfig, mux *Multiplexer) *MQTTFeed {
	if cfg.Topic == "" {
		cfg.Topic = DefaultMQTTTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "legion-missions-" + uuid.NewString()[:8]
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &MQTTFeed{
		cfg: cfg,
		mux: mux,
		log: logger.Default().WithPrefix("mqtt"),
	}
}

// Run connects, subscribes and blocks until ctx is done. Connection loss
// after the first connect is handled by the client's auto-reconnect.
func (f *MQTTFeed) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(f.cfg.Broker).
		SetClientID(f.cfg.ClientID).
		SetUsername(f.cfg.Username).
		SetPassword(f.cfg.Password).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetProtocolVersion(4)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		tok := c.Subscribe(f.cfg.Topic, mqttQoS, func(_ mqtt.Client, msg mqtt.Message) {
			if err := f.HandleMessage(msg.Topic(), msg.Payload()); err != nil {
				f.log.Warnf("Dropping message on %s: %v", msg.Topic(), err)
			}
		})
		if !tok.WaitTimeout(f.cfg.ConnectTimeout) {
			f.log.Errorf("Timed out subscribing to %s", f.cfg.Topic)
			return
		}
		if err := tok.Error(); err != nil {
			f.log.Errorf("Failed to subscribe to %s: %v", f.cfg.Topic, err)
			return
		}
		f.log.Infof("Subscribed to %s", f.cfg.Topic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		f.log.Warnf("Connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(f.cfg.ConnectTimeout) {
		return errors.Errorf("timed out connecting to %s", f.cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return errors.Wrapf(err, "failed to connect to %s", f.cfg.Broker)
	}
	logger.Networkf("Connected to telemetry broker %s", f.cfg.Broker)

	<-ctx.Done()
	client.Disconnect(250)
	return nil
}

// HandleMessage decodes one payload and routes it into the multiplexer
func (f *MQTTFeed) HandleMessage(topic string, payload []byte) error {
	f.received.Add(1)

	var msg FeedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		f.rejected.Add(1)
		return fmt.Errorf("invalid payload: %w", err)
	}
	if msg.DroneID == "" {
		msg.DroneID = droneFromTopic(f.cfg.Topic, topic)
	}
	if msg.DroneID == "" {
		f.rejected.Add(1)
		return errors.New("message has no drone id")
	}

	if msg.NoData {
		f.mux.MarkNoData(msg.DroneID)
		return nil
	}

	if !(geo.Point{Lat: msg.Lat, Lng: msg.Lng}).Valid() {
		f.rejected.Add(1)
		return errors.Errorf("drone %s: invalid coordinates (%v, %v)", msg.DroneID, msg.Lat, msg.Lng)
	}

	s := Snapshot{
		DroneID:                      msg.DroneID,
		Lat:                          msg.Lat,
		Lng:                          msg.Lng,
		AltitudeMeters:               msg.Altitude,
		HeadingDegrees:               geo.NormalizeHeading(msg.Heading),
		SpeedMetersPerSecond:         msg.Speed,
		VerticalSpeedMetersPerSecond: msg.VerticalSpeed,
		BatteryPercent:               msg.Battery,
	}
	if msg.Timestamp != nil {
		s.Timestamp = *msg.Timestamp
	}
	f.mux.PushExternal(s)
	return nil
}

// Stats returns the number of received and rejected messages
func (f *MQTTFeed) Stats() (received, rejected uint64) {
	return f.received.Load(), f.rejected.Load()
}

// droneFromTopic extracts the segment matched by the single-level
// wildcard of the subscription pattern.
func droneFromTopic(pattern, topic string) string {
	ps := strings.Split(pattern, "/")
	ts := strings.Split(topic, "/")
	for i, p := range ps {
		if p == "+" && i < len(ts) {
			return ts[i]
		}
	}
	return ""
}
