// kafka-init pre-creates the log-created topic so the dispatcher can start
// with topic auto-creation disabled on the broker.
package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	kafkax "github.com/casetrail/casealert/internal/repository/kafka"
)

func main() {
	brokers := strings.Split(env("KAFKA_BROKERS", "kafka:9092"), ",")
	topic := env("KAFKA_TOPIC", "casealert.log.created")
	partitions := envInt("KAFKA_PARTITIONS", 3)
	rf := envInt("KAFKA_RF", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	l, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	if err := kafkax.EnsureTopic(ctx, brokers, kafkax.TopicSpec{
		Name:              topic,
		NumPartitions:     partitions,
		ReplicationFactor: rf,
		MaxWait:           55 * time.Second,
	}, l); err != nil {
		l.Fatal("ensure topic", zap.String("topic", topic), zap.Error(err))
	}
	l.Info("kafka-init ok", zap.String("topic", topic))
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
