package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ghalamif/kinsumer"
)

func main() {
	consumer, err := kinsumer.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := consumer.Run(ctx); err != nil {
		log.Fatalf("consumer exited: %v", err)
	}
}
