package mqttclient

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/jobs"
	"github.com/rs/zerolog"
)

// publisher is the part of mqtt.Client the notifier uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Client publishes job notifications to an MQTT broker.
type Client struct {
	conn      mqtt.Client
	pub       publisher
	prefix    string
	connected atomic.Bool
	log       zerolog.Logger
}

type Options struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Log         zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		prefix: strings.TrimRight(opts.TopicPrefix, "/"),
		log:    opts.Log.With().Str("component", "mqtt").Logger(),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	c.pub = c.conn
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("prefix", c.prefix).Msg("mqtt connected")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// jobMessage is the payload published for a finished job.
type jobMessage struct {
	JobID            string      `json:"job_id"`
	Status           jobs.Status `json:"status"`
	Filename         string      `json:"filename"`
	UttID            string      `json:"uttid,omitempty"`
	Text             string      `json:"text,omitempty"`
	Language         string      `json:"language,omitempty"`
	ProcessingTimeMs int64       `json:"processing_time_ms,omitempty"`
	Error            string      `json:"error,omitempty"`
	FinishedAt       time.Time   `json:"finished_at"`
}

// JobFinished publishes a summary of a terminal job to
// <prefix>/jobs/<status>. Publishing is fire-and-forget.
func (c *Client) JobFinished(job jobs.PublicJob) {
	msg := jobMessage{
		JobID:      job.ID,
		Status:     job.Status,
		Filename:   job.Filename,
		UttID:      job.UttID,
		Error:      job.Error,
		FinishedAt: job.UpdatedAt,
	}
	if job.Result != nil {
		msg.Text = job.Result.Text
		msg.Language = job.Result.Language
		msg.ProcessingTimeMs = job.Result.ProcessingTimeMs
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		c.log.Error().Err(err).Str("job_id", job.ID).Msg("marshal job notification")
		return
	}

	topic := c.topic("jobs", string(job.Status))
	token := c.pub.Publish(topic, 1, false, payload)
	go func() {
		if !token.WaitTimeout(10 * time.Second) {
			c.log.Warn().Str("topic", topic).Msg("mqtt publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			c.log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
		}
	}()
}

func (c *Client) topic(parts ...string) string {
	if c.prefix == "" {
		return strings.Join(parts, "/")
	}
	return c.prefix + "/" + strings.Join(parts, "/")
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}
