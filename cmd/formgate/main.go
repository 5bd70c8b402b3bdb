package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/formgate/formgate/internal/config"
	"github.com/formgate/formgate/internal/database"
	"github.com/formgate/formgate/internal/forms"
	"github.com/formgate/formgate/internal/httpx"
	"github.com/formgate/formgate/internal/mq"
	"github.com/formgate/formgate/internal/observability"
	"github.com/formgate/formgate/internal/platform"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db := database.Connect()
	if err := db.AutoMigrate(forms.Models()...); err != nil {
		log.Fatalf("formgate: failed to run migrations: %v", err)
	}

	var publisher forms.EventPublisher
	if cfg.QueueEnabled() {
		producer, err := mq.NewProducer(mq.ProducerConfig{
			Brokers:  cfg.BrokerList(),
			Topic:    cfg.KafkaTopic,
			ClientID: cfg.ServiceName,
		})
		if err != nil {
			log.Fatalf("formgate: failed to create producer: %v", err)
		}
		defer producer.Close()
		publisher = producer
	} else {
		log.Println("formgate: kafka not configured, events disabled")
	}

	// The gateway client is supplied by the embedding bot process; the
	// standalone binary runs against the in-memory platform.
	gateway := platform.NewInMemory()

	store := forms.NewGormStore(db)
	codes := forms.NewCodeSource(nil)
	evaluator := forms.NewEvaluator(gateway, store, nil)
	workflows := forms.NewWorkflowService(store, gateway, codes, publisher, nil)
	service := forms.NewService(store, evaluator, workflows, codes, publisher, cfg.InstanceID)

	server := httpx.New()
	observability.RegisterMetricsEndpoint(server.Router)
	forms.NewHandler(service).Mount(server.Router, "/forms")

	addr := fmt.Sprintf(":%s", cfg.HTTPPort)
	log.Printf("formgate listening on %s", addr)

	errs := make(chan error, 1)
	go func() {
		errs <- server.Start(addr)
	}()

	select {
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("formgate stopped: %v", err)
		}
	case <-ctx.Done():
		if err := server.Shutdown(context.Background()); err != nil {
			log.Printf("formgate shutdown: %v", err)
		}
	}

	log.Println("formgate stopped")
}
