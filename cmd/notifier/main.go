package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/formgate/formgate/internal/config"
	"github.com/formgate/formgate/internal/database"
	"github.com/formgate/formgate/internal/forms"
	"github.com/formgate/formgate/internal/mq"
	"github.com/formgate/formgate/internal/notifier"
	"github.com/formgate/formgate/internal/platform"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db := database.Connect()
	if err := db.AutoMigrate(forms.Models()...); err != nil {
		log.Fatalf("notifier: failed to run migrations: %v", err)
	}

	if !cfg.QueueEnabled() {
		log.Fatalf("notifier: kafka brokers/topic must be configured (brokers=%v topic=%s)", cfg.BrokerList(), cfg.KafkaTopic)
	}

	gateway := platform.NewInMemory()
	worker := notifier.New(forms.NewGormStore(db), gateway)

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Brokers:  cfg.BrokerList(),
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		ClientID: fmt.Sprintf("%s-notifier", cfg.ServiceName),
	}, worker.HandleMessage)
	if err != nil {
		log.Fatalf("notifier: failed to create consumer: %v", err)
	}
	defer consumer.Close()

	log.Printf("notifier consuming topic=%s group=%s", cfg.KafkaTopic, cfg.KafkaGroup)

	if err := worker.Run(ctx, consumer); err != nil && err != context.Canceled {
		log.Fatalf("notifier stopped: %v", err)
	}

	log.Println("notifier stopped")
}
