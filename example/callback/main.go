package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/kinsumer"
)

func main() {
	consumer, err := kinsumer.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	consumer.
		Transform(func(_ context.Context, b kinsumer.Batch) ([]kinsumer.Record, error) {
			out := make([]kinsumer.Record, 0, len(b.Records))
			for _, r := range b.Records {
				if len(bytes.TrimSpace(r.Data)) > 0 {
					out = append(out, r)
				}
			}
			return out, nil
		}).
		AfterConsume(func(_ context.Context, b kinsumer.Batch) error {
			for _, r := range b.Records {
				fmt.Printf("%s shard=%s seq=%s key=%s data=%s\n",
					r.ArrivalTimestamp.Format(time.RFC3339Nano),
					b.Shard.ShardID,
					r.SequenceNumber,
					r.PartitionKey,
					r.Data,
				)
			}
			return nil
		}).
		TeardownConsumer(func(_ context.Context, sc kinsumer.ShardContext, err error) {
			if sc.ShardID == "" {
				sc.LogInfo("consumer teardown")
				return
			}
			if err != nil {
				sc.LogError("shard teardown", err)
			}
		})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := consumer.Run(ctx); err != nil {
		log.Fatalf("consumer exited: %v", err)
	}
}
