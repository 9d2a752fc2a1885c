package jobs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/opencdms/opencdms-process/internal/core/observability"
)

type Event struct {
	JobID   string    `json:"job_id"`
	Process string    `json:"process"`
	Status  Status    `json:"status"`
	Kind    string    `json:"error_type,omitempty"`
	TS      time.Time `json:"ts"`
}

// Notifier receives job lifecycle events. Notify must not block.
type Notifier interface {
	Notify(Event)
}

// Publisher forwards job events to a Kafka topic through an async producer.
type Publisher struct {
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	log     *slog.Logger
	stopped chan struct{}
	errDone chan struct{}
}

func Dial(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("jobs: create async producer: %w", err)
	}
	return NewPublisher(prod, topic, queueSize, logger), nil
}

func NewPublisher(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		log:     logger,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Error("job event marshal", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.JobID),
				Value: sarama.ByteEncoder(b),
			}
			observability.IncJobEvent("sent")
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncJobEvent("error")
				p.log.Warn("job event producer error", "err", err)
			}
		}
	}()

	return p
}

// Notify queues ev, dropping it when the queue is full.
func (p *Publisher) Notify(ev Event) {
	select {
	case p.events <- ev:
	default:
		observability.IncJobEvent("dropped")
	}
}

func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped
	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("jobs: close producer: %w", err)
	}
	return nil
}
