package xrpl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sablefin/mintd/service/metrics"
)

// ConnectionProvider is the slice of the pool the submitter needs.
type ConnectionProvider interface {
	Acquire(ctx context.Context, network Network) (Session, error)
}

const (
	// DefaultPollInterval is how often the submitter polls for validation
	// after a transaction is provisionally accepted.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultMaxWait is the validation wait window. If it elapses without
	// the transaction appearing in a validated ledger, the submitter
	// reports a timeout outcome and the caller decides what to do.
	DefaultMaxWait = 30 * time.Second

	// connectAttempts is how many times a transport-level failure is
	// retried with a fresh connection before surfacing.
	connectAttempts = 3
)

// SubmitterConfig configures a Submitter.
type SubmitterConfig struct {
	PollInterval time.Duration // defaults to DefaultPollInterval
	MaxWait      time.Duration // defaults to DefaultMaxWait
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Submitter implements the reliable submission pipeline: submit a signed
// blob, classify the acknowledgement, retry per the taxonomy, then poll for
// validation up to the wait window.
type Submitter struct {
	pool         ConnectionProvider
	pollInterval time.Duration
	maxWait      time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger

	// sleep is swapped out in tests to avoid real waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSubmitter creates a submission pipeline on top of a connection pool.
func NewSubmitter(pool ConnectionProvider, cfg SubmitterConfig) *Submitter {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Submitter{
		pool:         pool,
		pollInterval: cfg.PollInterval,
		maxWait:      cfg.MaxWait,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		sleep:        sleepCtx,
	}
}

// SubmitAndWait submits a signed transaction blob and blocks until it is
// validated, terminally rejected, or the wait window elapses. Elapsed time
// is measured from the first submit attempt. Connectivity errors are retried
// with endpoint failover (inside the pool) and never surfaced raw; only
// exhausted connectivity comes back as an error.
func (s *Submitter) SubmitAndWait(ctx context.Context, txBlob string, network Network) (*Outcome, error) {
	start := time.Now()
	attempts := 0
	var lastCode string

	for {
		attempts++

		res, err := s.submitOnce(ctx, txBlob, network)
		if err != nil {
			return nil, err
		}

		code := res.EngineResult
		lastCode = code

		if Provisional(code) {
			return s.waitValidated(ctx, res.TxJSON.Hash, network, start, attempts)
		}

		policy := Classify(code)
		if policy.Action == ActionRetry && attempts < policy.MaxAttempts {
			backoff := policy.BackoffBase << uint(attempts-1)
			s.logger.WarnContext(ctx, "submission rejected, retrying",
				"network", network,
				"engine_result", code,
				"attempt", attempts,
				"backoff", backoff,
			)
			if s.metrics != nil {
				s.metrics.RecordSubmissionRetry(string(network), code)
			}
			if err := s.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			continue
		}

		// Terminal at acknowledgement: fail, resubmit, skip, or retries
		// exhausted. The caller classifies the code again to pick its next
		// move; the pipeline only reports what happened.
		outcome := &Outcome{
			EngineResult: lastCode,
			Hash:         res.TxJSON.Hash,
			Elapsed:      time.Since(start),
			Attempts:     attempts,
		}
		s.record(network, outcome)
		return outcome, nil
	}
}

// submitOnce performs a single submit call, retrying transport-level
// failures with a freshly acquired connection.
func (s *Submitter) submitOnce(ctx context.Context, txBlob string, network Network) (*SubmitResult, error) {
	var lastErr error
	for i := 0; i < connectAttempts; i++ {
		sess, err := s.pool.Acquire(ctx, network)
		if err != nil {
			lastErr = err
			if errors.Is(err, ErrUnknownNetwork) || ctx.Err() != nil {
				return nil, err
			}
			if err := s.sleep(ctx, time.Duration(1<<uint(i))*time.Second); err != nil {
				return nil, err
			}
			continue
		}

		res, err := sess.Submit(ctx, txBlob)
		if err == nil {
			return res, nil
		}
		lastErr = err

		// Command-level errors from the node are not transport failures;
		// the blob itself is the problem. Surface immediately.
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return nil, fmt.Errorf("submit rejected by node: %w", err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		s.logger.WarnContext(ctx, "submit transport failure, reconnecting",
			"network", network,
			"attempt", i+1,
			"error", err,
		)
		if err := s.sleep(ctx, time.Duration(1<<uint(i))*time.Second); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("submit failed after %d connection attempts: %w", connectAttempts, lastErr)
}

// waitValidated polls the tx command until the transaction is validated or
// the wait window elapses.
func (s *Submitter) waitValidated(ctx context.Context, hash string, network Network, start time.Time, attempts int) (*Outcome, error) {
	deadline := time.Now().Add(s.maxWait)

	for {
		if time.Now().After(deadline) {
			outcome := &Outcome{
				TimedOut: true,
				Hash:     hash,
				Elapsed:  time.Since(start),
				Attempts: attempts,
			}
			s.logger.WarnContext(ctx, "validation wait window elapsed",
				"network", network,
				"hash", hash,
				"elapsed", outcome.Elapsed,
			)
			s.record(network, outcome)
			return outcome, nil
		}

		if err := s.sleep(ctx, s.pollInterval); err != nil {
			return nil, err
		}

		sess, err := s.pool.Acquire(ctx, network)
		if err != nil {
			// Connectivity during polling: keep trying until the window
			// closes; the transaction may validate regardless.
			s.logger.WarnContext(ctx, "acquire failed during validation poll",
				"network", network,
				"hash", hash,
				"error", err,
			)
			continue
		}

		res, err := sess.Tx(ctx, hash)
		if err != nil {
			if IsRPCErrorCode(err, "txnNotFound") {
				continue // not seen yet, keep polling
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.WarnContext(ctx, "tx lookup failed during validation poll",
				"network", network,
				"hash", hash,
				"error", err,
			)
			continue
		}

		if res.Validated {
			outcome := &Outcome{
				Validated:    true,
				EngineResult: res.FinalResult(),
				Hash:         hash,
				Elapsed:      time.Since(start),
				Attempts:     attempts,
			}
			s.record(network, outcome)
			return outcome, nil
		}
	}
}

func (s *Submitter) record(network Network, o *Outcome) {
	if s.metrics == nil {
		return
	}
	class := "rejected"
	switch {
	case o.TimedOut:
		class = "timeout"
	case o.Validated && o.EngineResult == ResultSuccess:
		class = "validated_success"
	case o.Validated:
		class = "validated_failure"
	}
	s.metrics.RecordSubmission(string(network), class, o.Elapsed.Seconds())
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
