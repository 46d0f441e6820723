package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
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
		logger:    logger,
	}, nil
}

// UpsertReconcileSchedule creates the reconcile schedule, or updates its
// interval if it already exists.
func (c *Client) UpsertReconcileSchedule(ctx context.Context, interval time.Duration, input ReconcileInput) error {
	c.logger.Debug("upserting reconcile schedule",
		"schedule_id", reconcileScheduleID,
		"interval", interval,
	)

	handle := c.client.ScheduleClient().GetHandle(ctx, reconcileScheduleID)
	_, err := handle.Describe(ctx)
	if err != nil {
		// Schedule doesn't exist or error getting it - create new one
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", reconcileScheduleID,
			"error", err,
		)
		return c.createReconcileSchedule(ctx, interval, input)
	}

	err = handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(update client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			update.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			return &client.ScheduleUpdate{
				Schedule: &update.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule",
			"schedule_id", reconcileScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", reconcileScheduleID, err)
	}

	c.logger.Info("reconcile schedule updated",
		"schedule_id", reconcileScheduleID,
		"interval", interval,
	)
	return nil
}

func (c *Client) createReconcileSchedule(ctx context.Context, interval time.Duration, input ReconcileInput) error {
	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: reconcileScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{
				{Every: interval},
			},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        "reconcile",
			Workflow:  "ReconcileWorkflow",
			TaskQueue: c.taskQueue,
			Args:      []interface{}{input},
		},
		Memo: map[string]interface{}{
			"created_by": "mintd",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"schedule_id", reconcileScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", reconcileScheduleID, err)
	}

	c.logger.Info("reconcile schedule created",
		"schedule_id", reconcileScheduleID,
		"interval", interval,
	)
	return nil
}

// DeleteReconcileSchedule deletes the reconcile schedule.
func (c *Client) DeleteReconcileSchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, reconcileScheduleID)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"schedule_id", reconcileScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", reconcileScheduleID, err)
	}

	c.logger.Info("reconcile schedule deleted", "schedule_id", reconcileScheduleID)
	return nil
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
