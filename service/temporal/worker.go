package temporal

import (
	"fmt"
	"log/slog"

	"github.com/brojonat/petledger/service/metrics"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkerConfig contains configuration for the Temporal worker.
type WorkerConfig struct {
	// Temporal connection settings
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	// Concurrency caps both activity and workflow task slots. Defaults to 10.
	Concurrency int

	// Dependencies. Store and Publisher are optional.
	Store     StoreInterface
	Confirmer ConfirmerInterface
	Publisher PublisherInterface
	Metrics   *metrics.Metrics // Optional: if nil, no metrics will be recorded
	Logger    *slog.Logger
}

// Worker wraps a Temporal worker and provides lifecycle management.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// registry is the registration surface shared by worker.Worker and the SDK
// test environment.
type registry interface {
	RegisterWorkflow(w interface{})
	RegisterActivity(a interface{})
}

// confirmationActivities names the activities registerConfirmation adds.
var confirmationActivities = []string{"CheckConfirmation", "RecordSubmissionStatus", "PublishSubmissionStatus"}

// registerConfirmation registers the confirmation workflow and its activities.
// Activities are registered by method, matching the ExecuteActivity calls in
// the workflow.
func registerConfirmation(r registry, a *Activities) {
	r.RegisterWorkflow(ConfirmSubmissionWorkflow)
	r.RegisterActivity(a.CheckConfirmation)
	r.RegisterActivity(a.RecordSubmissionStatus)
	r.RegisterActivity(a.PublishSubmissionStatus)
}

// NewWorker dials Temporal and registers the confirmation workflow on the
// configured task queue.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Confirmer == nil {
		return nil, fmt.Errorf("confirmer is required")
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 10
	}

	logger := config.Logger.With("component", "temporal_worker")
	logger.Info("creating temporal worker",
		"host", config.TemporalHost,
		"namespace", config.TemporalNamespace,
		"task_queue", config.TaskQueue,
		"concurrency", config.Concurrency,
		"journal", config.Store != nil,
		"events", config.Publisher != nil,
	)

	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     config.Concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: config.Concurrency,
	})

	registerConfirmation(w, NewActivities(
		config.Store,
		config.Confirmer,
		config.Publisher,
		config.Metrics,
		logger,
	))
	logger.Info("registered confirmation workflow",
		"workflow", "ConfirmSubmissionWorkflow",
		"activities", confirmationActivities,
	)

	return &Worker{
		client: c,
		worker: w,
		logger: logger,
	}, nil
}

// Start begins processing workflows and activities.
// This method blocks until an interrupt signal or Stop.
func (w *Worker) Start() error {
	w.logger.Info("starting temporal worker")
	if err := w.worker.Run(worker.InterruptCh()); err != nil {
		w.logger.Error("worker stopped with error", "error", err)
		return fmt.Errorf("worker stopped with error: %w", err)
	}
	w.logger.Info("worker stopped gracefully")
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.logger.Info("stopping temporal worker")
	w.worker.Stop()
	w.client.Close()
	w.logger.Info("temporal worker stopped")
}
