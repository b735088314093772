package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/sentra-io/devicetrust/internal/config"
	"github.com/sentra-io/devicetrust/internal/models"
)

// KafkaEventShipper mirrors security events to a Kafka topic for out-of-band
// analytics. Writes are async and lossy under backpressure; the store remains
// the system of record. A disabled shipper satisfies the interface with
// no-ops.
type KafkaEventShipper struct {
	cfg  config.KafkaConfig
	w    *kafka.Writer
	ch   chan models.SecurityEvent
	stop chan struct{}
}

func NewKafkaEventShipper(cfgIn config.KafkaConfig) (*KafkaEventShipper, error) {
	cfg := cfgIn
	if !cfg.Enabled {
		return &KafkaEventShipper{cfg: cfg}, nil
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		cfg.Topic = "security-events"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 2 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = cfg.BatchSize * 4
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	tr := &kafka.Transport{
		DialTimeout: cfg.DialTimeout,
	}
	if cfg.TLS {
		tr.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.SASLPlain {
		tr.SASL = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Transport:              tr,
		AllowAutoTopicCreation: false,
		Async:                  true,
		BatchTimeout:           cfg.FlushEvery,
		BatchSize:              cfg.BatchSize,
		WriteTimeout:           cfg.WriteTimeout,
	}

	return &KafkaEventShipper{
		cfg:  cfg,
		w:    w,
		ch:   make(chan models.SecurityEvent, cfg.QueueCapacity),
		stop: make(chan struct{}),
	}, nil
}

func (s *KafkaEventShipper) Start() {
	if !s.cfg.Enabled {
		return
	}
	go s.loop()
}

func (s *KafkaEventShipper) Stop(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	close(s.stop)
	drain := time.After(500 * time.Millisecond)
	for {
		select {
		case evt := <-s.ch:
			_ = s.dispatch(evt)
		case <-drain:
			_ = s.w.Close()
			return
		case <-ctx.Done():
			_ = s.w.Close()
			return
		}
	}
}

// Publish enqueues one event. Drops on backpressure rather than blocking the
// decision path.
func (s *KafkaEventShipper) Publish(evt models.SecurityEvent) {
	if !s.cfg.Enabled {
		return
	}
	select {
	case s.ch <- evt:
	default:
	}
}

func (s *KafkaEventShipper) loop() {
	for {
		select {
		case evt := <-s.ch:
			_ = s.dispatch(evt)
		case <-s.stop:
			for {
				select {
				case evt := <-s.ch:
					_ = s.dispatch(evt)
				default:
					return
				}
			}
		}
	}
}

func (s *KafkaEventShipper) dispatch(evt models.SecurityEvent) error {
	rec := recordFromEvent(evt)
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.w.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(rec.FingerprintID),
		Value: payload,
		Time:  rec.Timestamp,
	})
}
