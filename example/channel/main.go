// Command channel runs the consumer against an in-process stream and fans
// batches out to a worker over a channel.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/ghalamif/kinsumer"
	"github.com/ghalamif/kinsumer/internal/adapters/memstream"
)

func main() {
	stream := memstream.New("demo", "shard-0", "shard-1")
	const total = 20
	for i := 0; i < total; i++ {
		shard := fmt.Sprintf("shard-%d", i%2)
		if _, err := stream.Put(shard, fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("event %d", i))); err != nil {
			log.Fatalf("put: %v", err)
		}
	}

	cfg := &kinsumer.Config{}
	cfg.Stream.Name = "demo"
	cfg.Consumer.PollInterval = 50 * time.Millisecond
	cfg.Consumer.Bucket.SizeLimit = 5
	cfg.Consumer.Bucket.CountLimit = 4
	if err := cfg.Normalize(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, _ := zap.NewDevelopment()
	consumer, err := kinsumer.New(cfg,
		kinsumer.WithStreamClient(stream),
		kinsumer.WithLogger(logger),
		kinsumer.WithMetricsServer(false),
	)
	if err != nil {
		log.Fatalf("new consumer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink, batches, closeBatches := kinsumer.NewChannelSink(8)
	defer closeBatches()
	consumer.AfterConsume(sink)

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	seen := 0
	for seen < total {
		b := <-batches
		seen += len(b.Records)
		fmt.Printf("[%s] forwarding %d records from %s at %s\n", b.Shard.ShardID, len(b.Records), b.Shard.StreamName, time.Now().Format(time.RFC3339))
	}
	cancel()

	if err := <-done; err != nil {
		log.Fatalf("consumer exited: %v", err)
	}
	fmt.Printf("consumed %d records; shards now %+v\n", seen, consumer.Shards())
}
