// The write worker drains the SQS write queue and commits ops against the
// record store. Run it standalone when write throughput should scale
// independently of the API instances.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mwilkes/clinicdesk/cmd/mainconfig"
	"github.com/mwilkes/clinicdesk/internal/app/bootstrap"
	appconfig "github.com/mwilkes/clinicdesk/internal/config"
	"github.com/mwilkes/clinicdesk/internal/events"
	"github.com/mwilkes/clinicdesk/internal/observability/metrics"
	"github.com/mwilkes/clinicdesk/internal/records"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.UseMemoryQueue || cfg.WriteQueueURL == "" {
		logger.Error("a standalone write worker needs an SQS queue; set WRITE_QUEUE_URL")
		os.Exit(1)
	}

	awsConfig, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	pool, err := bootstrap.BuildPgxPool(context.Background(), cfg, logger)
	if err != nil || pool == nil {
		logger.Error("database is required", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	store := records.NewPostgresStore(pool)

	redisClient := bootstrap.BuildRedisClient(context.Background(), cfg, logger, true)
	bus := bootstrap.BuildLiveBus(redisClient, logger)

	relay := events.NewRelay()
	defer relay.Close()

	writerMetrics := metrics.NewWriterMetrics(prometheus.DefaultRegisterer)
	_, worker, _ := bootstrap.BuildWritePipeline(cfg, awsConfig, store, bus, relay, writerMetrics, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker.Start(ctx)
	logger.Info("write worker started", "queue", cfg.WriteQueueURL, "workers", cfg.WorkerCount)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down write worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("write worker stopped")
	case <-doneCtx.Done():
		logger.Error("write worker shutdown timed out", "error", doneCtx.Err())
	}
}
