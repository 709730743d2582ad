package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

const (
	mqttDefaultPrefix  = "finechan"
	mqttPublishTimeout = 10 * time.Second
)

// Publisher is the part of mqtt.Client the MQTT exporter needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes each channel spectrum as JSON on <prefix>/<run>/<coarse chan>.
type MQTT struct {
	Client Publisher
	Prefix string
	QoS    byte
	Retain bool
}

// NewMQTTClient connects to broker and returns a client ready for publishing.
func NewMQTTClient(broker, clientID, username, password string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	if username != "" {
		opts.SetUsername(username)
	}
	if password != "" {
		opts.SetPassword(password)
	}
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		glog.Warningf("MQTT connection lost: %s", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", broker, token.Error())
	}
	glog.Infof("connected to MQTT broker %s", broker)
	return client, nil
}

func (m *MQTT) topic(s Spectrum) string {
	prefix := m.Prefix
	if prefix == "" {
		prefix = mqttDefaultPrefix
	}
	return fmt.Sprintf("%s/%s/%d", prefix, s.Run, s.CoarseChan)
}

func (m *MQTT) Write(ctx context.Context, spectra []Spectrum) error {
	c := newCounts()
	for _, s := range spectra {
		c["total"] += 1
		data, err := json.Marshal(s)
		if err != nil {
			c["error"] += 1
			glog.Warningf("error marshalling spectrum: %s\n", err)
			continue
		}
		topic := m.topic(s)
		token := m.Client.Publish(topic, m.QoS, m.Retain, data)
		if !token.WaitTimeout(mqttPublishTimeout) {
			c["error"] += 1
			glog.Warningf("timeout publishing to %s\n", topic)
			continue
		}
		if err := token.Error(); err != nil {
			c["error"] += 1
			glog.Warningf("error publishing to %s: %s\n", topic, err)
			continue
		}
		c["success"] += 1
	}
	glog.V(1).Infof("Spectrum export counts: %+v\n", c)
	return nil
}

func (m *MQTT) Close() error {
	m.Client.Disconnect(250)
	return nil
}
