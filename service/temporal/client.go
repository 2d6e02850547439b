package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// ConfirmationConfig controls the confirmation workflows a Client starts.
type ConfirmationConfig struct {
	Level         string
	MaxChecks     int
	CheckInterval time.Duration
}

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	confirm   ConfirmationConfig
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, confirm ConfirmationConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		confirm:   confirm,
		logger:    logger,
	}, nil
}

// StartConfirmation starts the ConfirmSubmissionWorkflow for a signature.
// Starting it twice for the same signature joins the running workflow.
func (c *Client) StartConfirmation(ctx context.Context, signature, kind string) (string, error) {
	id := confirmationWorkflowID(signature)

	c.logger.DebugContext(ctx, "starting confirmation workflow",
		"signature", signature,
		"kind", kind,
		"workflow_id", id,
	)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
		Memo: map[string]interface{}{
			"signature":  signature,
			"kind":       kind,
			"created_by": "petledger",
		},
	}, ConfirmSubmissionWorkflow, ConfirmSubmissionInput{
		Signature:     signature,
		Kind:          kind,
		Level:         c.confirm.Level,
		MaxChecks:     c.confirm.MaxChecks,
		CheckInterval: c.confirm.CheckInterval,
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to start confirmation workflow",
			"signature", signature,
			"workflow_id", id,
			"error", err,
		)
		return "", fmt.Errorf("failed to start workflow %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "confirmation workflow started",
		"signature", signature,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return run.GetID(), nil
}

// AwaitConfirmation blocks until the confirmation workflow for a signature
// completes and returns its result.
func (c *Client) AwaitConfirmation(ctx context.Context, signature string) (*ConfirmSubmissionResult, error) {
	id := confirmationWorkflowID(signature)
	var result ConfirmSubmissionResult
	if err := c.client.GetWorkflow(ctx, id, "").Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to get workflow %q result: %w", id, err)
	}
	return &result, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
