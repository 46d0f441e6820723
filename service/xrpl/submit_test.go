package xrpl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider hands out a fixed session, or an error.
type fakeProvider struct {
	mu       sync.Mutex
	sess     Session
	err      error
	acquires int
}

func (p *fakeProvider) Acquire(ctx context.Context, network Network) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquires++
	if p.err != nil {
		return nil, p.err
	}
	return p.sess, nil
}

// newTestSubmitter wires a submitter whose sleeps return instantly but still
// count down the wall clock via the recorded durations.
func newTestSubmitter(provider ConnectionProvider, maxWait time.Duration) (*Submitter, *[]time.Duration) {
	s := NewSubmitter(provider, SubmitterConfig{
		PollInterval: time.Millisecond,
		MaxWait:      maxWait,
		Logger:       testLogger(),
	})
	var slept []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return s, &slept
}

func TestSubmitAndWaitValidatedSuccess(t *testing.T) {
	sess := newFakeSession()
	sess.submitFn = func(txBlob string) (*SubmitResult, error) {
		res := &SubmitResult{EngineResult: "tesSUCCESS"}
		res.TxJSON.Hash = "ABC123"
		return res, nil
	}
	sess.txFn = func(hash string) (*TxResult, error) {
		return &TxResult{Hash: hash, Validated: true, Meta: TxMeta{TransactionResult: "tesSUCCESS"}}, nil
	}

	s, _ := newTestSubmitter(&fakeProvider{sess: sess}, time.Second)
	outcome, err := s.SubmitAndWait(context.Background(), "blob", NetworkTestnet)
	require.NoError(t, err)
	assert.True(t, outcome.Validated)
	assert.False(t, outcome.TimedOut)
	assert.Equal(t, "tesSUCCESS", outcome.EngineResult)
	assert.Equal(t, "ABC123", outcome.Hash)
	assert.Equal(t, 1, outcome.Attempts)
	assert.True(t, outcome.Succeeded())
}

func TestSubmitAndWaitValidatedFailure(t *testing.T) {
	// Provisionally accepted, but the validated ledger recorded a tec
	// failure. The outcome is validated, not successful.
	sess := newFakeSession()
	sess.submitFn = func(txBlob string) (*SubmitResult, error) {
		res := &SubmitResult{EngineResult: "tesSUCCESS"}
		res.TxJSON.Hash = "DEF456"
		return res, nil
	}
	sess.txFn = func(hash string) (*TxResult, error) {
		return &TxResult{Hash: hash, Validated: true, Meta: TxMeta{TransactionResult: "tecPATH_DRY"}}, nil
	}

	s, _ := newTestSubmitter(&fakeProvider{sess: sess}, time.Second)
	outcome, err := s.SubmitAndWait(context.Background(), "blob", NetworkTestnet)
	require.NoError(t, err)
	assert.True(t, outcome.Validated)
	assert.Equal(t, "tecPATH_DRY", outcome.EngineResult)
	assert.False(t, outcome.Succeeded())
}

func TestSubmitAndWaitRetriesTransientRejection(t *testing.T) {
	sess := newFakeSession()
	var submits int
	sess.submitFn = func(txBlob string) (*SubmitResult, error) {
		submits++
		if submits < 3 {
			return &SubmitResult{EngineResult: "telINSUF_FEE_P"}, nil
		}
		res := &SubmitResult{EngineResult: "tesSUCCESS"}
		res.TxJSON.Hash = "RETRY1"
		return res, nil
	}
	sess.txFn = func(hash string) (*TxResult, error) {
		return &TxResult{Hash: hash, Validated: true, Meta: TxMeta{TransactionResult: "tesSUCCESS"}}, nil
	}

	s, slept := newTestSubmitter(&fakeProvider{sess: sess}, time.Second)
	outcome, err := s.SubmitAndWait(context.Background(), "blob", NetworkTestnet)
	require.NoError(t, err)
	assert.True(t, outcome.Succeeded())
	assert.Equal(t, 3, outcome.Attempts)

	// Exponential backoff: base, then base doubled.
	base := Classify("telINSUF_FEE_P").BackoffBase
	require.GreaterOrEqual(t, len(*slept), 2)
	assert.Equal(t, base, (*slept)[0])
	assert.Equal(t, base*2, (*slept)[1])
}

func TestSubmitAndWaitExhaustsRetryBudget(t *testing.T) {
	sess := newFakeSession()
	var submits int
	sess.submitFn = func(txBlob string) (*SubmitResult, error) {
		submits++
		return &SubmitResult{EngineResult: "telINSUF_FEE_P"}, nil
	}

	s, _ := newTestSubmitter(&fakeProvider{sess: sess}, time.Second)
	outcome, err := s.SubmitAndWait(context.Background(), "blob", NetworkTestnet)
	require.NoError(t, err)
	assert.False(t, outcome.Validated)
	assert.False(t, outcome.TimedOut)
	assert.Equal(t, "telINSUF_FEE_P", outcome.EngineResult)
	assert.Equal(t, Classify("telINSUF_FEE_P").MaxAttempts, submits)
}

func TestSubmitAndWaitTerminalRejection(t *testing.T) {
	sess := newFakeSession()
	var submits int
	sess.submitFn = func(txBlob string) (*SubmitResult, error) {
		submits++
		return &SubmitResult{EngineResult: "tecUNFUNDED_PAYMENT"}, nil
	}

	s, _ := newTestSubmitter(&fakeProvider{sess: sess}, time.Second)
	outcome, err := s.SubmitAndWait(context.Background(), "blob", NetworkTestnet)
	require.NoError(t, err)
	assert.False(t, outcome.Validated)
	assert.False(t, outcome.TimedOut)
	assert.Equal(t, "tecUNFUNDED_PAYMENT", outcome.EngineResult)
	assert.Equal(t, 1, submits, "terminal rejections are not retried")
}

func TestSubmitAndWaitUnknownCodeFailsClosed(t *testing.T) {
	sess := newFakeSession()
	var submits int
	sess.submitFn = func(txBlob string) (*SubmitResult, error) {
		submits++
		return &SubmitResult{EngineResult: "tecNEWLY_INVENTED"}, nil
	}

	s, _ := newTestSubmitter(&fakeProvider{sess: sess}, time.Second)
	outcome, err := s.SubmitAndWait(context.Background(), "blob", NetworkTestnet)
	require.NoError(t, err)
	assert.Equal(t, 1, submits)
	assert.Equal(t, "tecNEWLY_INVENTED", outcome.EngineResult)
}

func TestSubmitAndWaitPollsUntilValidated(t *testing.T) {
	sess := newFakeSession()
	sess.submitFn = func(txBlob string) (*SubmitResult, error) {
		res := &SubmitResult{EngineResult: "terQUEUED"}
		res.TxJSON.Hash = "QUEUED1"
		return res, nil
	}
	var lookups int
	sess.txFn = func(hash string) (*TxResult, error) {
		lookups++
		switch {
		case lookups == 1:
			return nil, &RPCError{Code: "txnNotFound"}
		case lookups == 2:
			return &TxResult{Hash: hash, Validated: false}, nil
		default:
			return &TxResult{Hash: hash, Validated: true, Meta: TxMeta{TransactionResult: "tesSUCCESS"}}, nil
		}
	}

	s, _ := newTestSubmitter(&fakeProvider{sess: sess}, time.Second)
	outcome, err := s.SubmitAndWait(context.Background(), "blob", NetworkTestnet)
	require.NoError(t, err)
	assert.True(t, outcome.Succeeded())
	assert.Equal(t, 3, lookups)
}

func TestSubmitAndWaitTimeout(t *testing.T) {
	sess := newFakeSession()
	sess.submitFn = func(txBlob string) (*SubmitResult, error) {
		res := &SubmitResult{EngineResult: "tesSUCCESS"}
		res.TxJSON.Hash = "SLOW1"
		return res, nil
	}
	sess.txFn = func(hash string) (*TxResult, error) {
		return nil, &RPCError{Code: "txnNotFound"}
	}

	s := NewSubmitter(&fakeProvider{sess: sess}, SubmitterConfig{
		PollInterval: time.Millisecond,
		MaxWait:      30 * time.Millisecond,
		Logger:       testLogger(),
	})
	outcome, err := s.SubmitAndWait(context.Background(), "blob", NetworkTestnet)
	require.NoError(t, err)
	assert.True(t, outcome.TimedOut)
	assert.False(t, outcome.Validated)
	assert.Equal(t, "SLOW1", outcome.Hash)
	assert.Empty(t, outcome.EngineResult, "a timeout is indeterminate, not a failure code")
}

func TestSubmitAndWaitTransportFailureRetriesWithFreshConnection(t *testing.T) {
	dead := newFakeSession()
	dead.submitFn = func(txBlob string) (*SubmitResult, error) {
		return nil, ErrSessionClosed
	}
	healthy := newFakeSession()
	healthy.submitFn = func(txBlob string) (*SubmitResult, error) {
		res := &SubmitResult{EngineResult: "tesSUCCESS"}
		res.TxJSON.Hash = "FRESH1"
		return res, nil
	}
	healthy.txFn = func(hash string) (*TxResult, error) {
		return &TxResult{Hash: hash, Validated: true, Meta: TxMeta{TransactionResult: "tesSUCCESS"}}, nil
	}

	provider := &fakeProvider{sess: dead}
	s, _ := newTestSubmitter(provider, time.Second)
	// Swap the session after the first acquire, simulating the pool
	// replacing a dead connection.
	s.sleep = func(ctx context.Context, d time.Duration) error {
		provider.mu.Lock()
		provider.sess = healthy
		provider.mu.Unlock()
		return nil
	}

	outcome, err := s.SubmitAndWait(context.Background(), "blob", NetworkTestnet)
	require.NoError(t, err)
	assert.True(t, outcome.Succeeded())
}

func TestSubmitAndWaitRPCErrorSurfacesImmediately(t *testing.T) {
	sess := newFakeSession()
	var submits int
	sess.submitFn = func(txBlob string) (*SubmitResult, error) {
		submits++
		return nil, &RPCError{Code: "invalidTransaction", Message: "bad blob"}
	}

	s, _ := newTestSubmitter(&fakeProvider{sess: sess}, time.Second)
	_, err := s.SubmitAndWait(context.Background(), "blob", NetworkTestnet)
	require.Error(t, err)
	var rpcErr *RPCError
	assert.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, 1, submits, "a node-rejected blob is not a transport failure")
}

func TestSubmitAndWaitUnknownNetworkNotRetried(t *testing.T) {
	provider := &fakeProvider{err: ErrUnknownNetwork}
	s, _ := newTestSubmitter(provider, time.Second)
	_, err := s.SubmitAndWait(context.Background(), "blob", Network("nonsense"))
	assert.ErrorIs(t, err, ErrUnknownNetwork)
	assert.Equal(t, 1, provider.acquires)
}

func TestSubmitAndWaitContextCancellation(t *testing.T) {
	sess := newFakeSession()
	sess.submitFn = func(txBlob string) (*SubmitResult, error) {
		res := &SubmitResult{EngineResult: "tesSUCCESS"}
		res.TxJSON.Hash = "CANCEL1"
		return res, nil
	}
	sess.txFn = func(hash string) (*TxResult, error) {
		return nil, &RPCError{Code: "txnNotFound"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := NewSubmitter(&fakeProvider{sess: sess}, SubmitterConfig{
		PollInterval: 5 * time.Millisecond,
		MaxWait:      time.Minute,
		Logger:       testLogger(),
	})

	done := make(chan error, 1)
	go func() {
		_, err := s.SubmitAndWait(ctx, "blob", NetworkTestnet)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("SubmitAndWait did not return after context cancellation")
	}
}
