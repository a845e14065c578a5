package repository

import (
	"context"
	"fmt"
	"strconv"

	"PriceSim/internal/domain/models"
	pkgkafka "PriceSim/pkg/kafka"
)

// BatchPublisher is implemented by *kafka.Producer.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

// KafkaObservationPublisher streams a run's observations to a topic, keyed
// by run ID so one run lands on one partition in order.
type KafkaObservationPublisher struct {
	pub   BatchPublisher
	topic string
	batch int
}

func NewKafkaObservationPublisher(pub BatchPublisher, topic string) *KafkaObservationPublisher {
	return &KafkaObservationPublisher{pub: pub, topic: topic, batch: 500}
}

func (k *KafkaObservationPublisher) Name() string { return "kafka" }

type observationEvent struct {
	RunID     string          `json:"run_id"`
	Seed      uint64          `json:"seed"`
	Step      int             `json:"step"`
	Interval  models.Interval `json:"interval"`
	Price     float64         `json:"price"`
	Timestamp string          `json:"timestamp"`
}

func (k *KafkaObservationPublisher) Export(ctx context.Context, rec *models.RunRecord) error {
	if rec.Result == nil {
		return nil
	}
	key := []byte(rec.RunID)
	headers := map[string]string{
		"state":   rec.Result.State.String(),
		"horizon": strconv.Itoa(rec.Params.Horizon),
	}
	obs := rec.Result.Observations
	for lo := 0; lo < len(obs); lo += k.batch {
		hi := min(lo+k.batch, len(obs))
		msgs := make([]pkgkafka.Message, 0, hi-lo)
		for _, o := range obs[lo:hi] {
			price, _ := RoundPrice(o.Price).Float64()
			msgs = append(msgs, pkgkafka.Message{
				Key: key,
				Value: observationEvent{
					RunID:     rec.RunID,
					Seed:      rec.Params.Seed,
					Step:      o.Step,
					Interval:  o.Interval,
					Price:     price,
					Timestamp: o.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
				},
				Headers: headers,
			})
		}
		if err := k.pub.PublishBatch(ctx, k.topic, msgs); err != nil {
			return fmt.Errorf("publish observations %d-%d: %w", lo, hi, err)
		}
	}
	return nil
}
