package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghalamif/kinsumer"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kinsumer",
		Short:         "Consume every shard of a Kinesis stream with checkpointing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newValidateCmd(), newShardsCmd(), newCheckpointsCmd(), newStatsCmd())
	return root
}

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVar(path, "config", "./data/config.yaml", "Path to consumer configuration file")
}

func newRunCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Consume the stream and print every record as a JSON line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			consumer, err := kinsumer.Conf(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			out := newRecordPrinter(cmd.OutOrStdout())
			consumer.AfterConsume(out.printBatch)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
			defer stop()
			return consumer.Run(ctx)
		},
	}
	addConfigFlag(cmd, &cfgPath)
	return cmd
}

type recordLine struct {
	Shard          string    `json:"shard"`
	SequenceNumber string    `json:"sequence_number"`
	PartitionKey   string    `json:"partition_key"`
	Arrival        time.Time `json:"arrival"`
	Data           string    `json:"data"`
}

// recordPrinter serializes concurrent shard batches onto one writer.
type recordPrinter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newRecordPrinter(w io.Writer) *recordPrinter {
	return &recordPrinter{enc: json.NewEncoder(w)}
}

func (p *recordPrinter) printBatch(_ context.Context, b kinsumer.Batch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range b.Records {
		line := recordLine{
			Shard:          b.Shard.ShardID,
			SequenceNumber: r.SequenceNumber,
			PartitionKey:   r.PartitionKey,
			Arrival:        r.ArrivalTimestamp,
			Data:           string(r.Data),
		}
		if err := p.enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}

func newValidateCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file without consuming",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := kinsumer.LoadConfig(cfgPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config %s looks good\n", cfgPath)
			return nil
		},
	}
	addConfigFlag(cmd, &cfgPath)
	return cmd
}

// openConsumer builds a consumer for the read-only commands.
func openConsumer(path string) (*kinsumer.Consumer, error) {
	consumer, err := kinsumer.Conf(path, kinsumer.WithMetricsServer(false))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return consumer, nil
}

func newShardsCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "shards",
		Short: "Describe the stream and show each shard's checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			consumer, err := openConsumer(cfgPath)
			if err != nil {
				return err
			}
			defer consumer.Close()

			ctx := cmd.Context()
			stream, err := consumer.Describe(ctx)
			if err != nil {
				return err
			}
			cps, err := consumer.Checkpoints(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "stream %s (%s)\n", stream.Name, stream.Status)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SHARD\tPARENT\tCHECKPOINT")
			for _, sh := range stream.Shards {
				cp := cps[sh.ID]
				if cp == "" {
					cp = "-"
				}
				parent := sh.ParentShardID
				if parent == "" {
					parent = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", sh.ID, parent, cp)
			}
			return tw.Flush()
		},
	}
	addConfigFlag(cmd, &cfgPath)
	return cmd
}

func newCheckpointsCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "Dump the stored checkpoints as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			consumer, err := openConsumer(cfgPath)
			if err != nil {
				return err
			}
			defer consumer.Close()

			cps, err := consumer.Checkpoints(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cps)
		},
	}
	addConfigFlag(cmd, &cfgPath)
	return cmd
}

func newStatsCmd() *cobra.Command {
	var (
		url      string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Poll the Prometheus metrics endpoint and print live counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Streaming metrics from %s (Ctrl+C to stop)\n", url)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := printMetricsSnapshot(ctx, cmd.OutOrStdout(), url); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "stats error: %v\n", err)
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Refresh interval")
	return cmd
}

var statsTargets = []string{
	"kinsumer_records_fetched_total",
	"kinsumer_batches_processed_total",
	"kinsumer_checkpoints_total",
	"kinsumer_hook_errors_total",
	"kinsumer_fetch_errors_total",
	"kinsumer_active_shards",
}

func printMetricsSnapshot(ctx context.Context, w io.Writer, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	totals, err := sumMetrics(resp.Body, statsTargets)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "[%s] shards=%.0f fetched=%.0f batches=%.0f checkpoints=%.0f hook_errors=%.0f fetch_errors=%.0f\n",
		time.Now().Format(time.RFC3339),
		totals["kinsumer_active_shards"],
		totals["kinsumer_records_fetched_total"],
		totals["kinsumer_batches_processed_total"],
		totals["kinsumer_checkpoints_total"],
		totals["kinsumer_hook_errors_total"],
		totals["kinsumer_fetch_errors_total"],
	)
	return nil
}

// sumMetrics adds up every series of the named metrics in Prometheus text
// format, across labels.
func sumMetrics(r io.Reader, names []string) (map[string]float64, error) {
	totals := make(map[string]float64, len(names))

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, name := range names {
			rest, ok := strings.CutPrefix(line, name)
			if !ok || (rest != "" && rest[0] != ' ' && rest[0] != '{') {
				continue
			}
			fields := strings.Fields(rest[strings.LastIndex(rest, "}")+1:])
			if len(fields) == 0 {
				break
			}
			if v, err := strconv.ParseFloat(fields[0], 64); err == nil {
				totals[name] += v
			}
			break
		}
	}
	return totals, scanner.Err()
}
