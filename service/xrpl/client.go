package xrpl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sablefin/mintd/service/metrics"
)

// Session is the per-connection surface the pool hands out and the
// submission pipeline consumes. *Client is the production implementation;
// tests substitute fakes.
type Session interface {
	ServerInfo(ctx context.Context) (*ServerInfoResult, error)
	AccountInfo(ctx context.Context, account string) (*AccountInfoResult, error)
	Submit(ctx context.Context, txBlob string) (*SubmitResult, error)
	Tx(ctx context.Context, hash string) (*TxResult, error)
	AccountTx(ctx context.Context, account string, limit int) ([]*TxResult, error)
	Alive() bool
	LastUsed() time.Time
	Close() error
}

// Client is one live WebSocket session to an XRPL node. Requests are
// correlated to responses by the envelope id; concurrent callers multiplex
// over the single connection.
type Client struct {
	endpoint string
	network  Network
	conn     *websocket.Conn
	logger   *slog.Logger
	metrics  *metrics.Metrics

	writeMu sync.Mutex // websocket allows one concurrent writer

	mu       sync.Mutex
	nextID   uint64
	pending  map[uint64]chan *rpcResponse
	closed   bool
	closedCh chan struct{}

	createdAt time.Time
	lastUsed  time.Time
	lastMu    sync.Mutex
}

// Dial opens a WebSocket session to the given endpoint and starts the read
// loop. The endpoint is used for metrics labeling. If m is nil, no metrics
// are recorded.
func Dial(ctx context.Context, endpoint string, network Network, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}

	c := &Client{
		endpoint:  endpoint,
		network:   network,
		conn:      conn,
		logger:    logger,
		metrics:   m,
		pending:   make(map[uint64]chan *rpcResponse),
		closedCh:  make(chan struct{}),
		createdAt: time.Now(),
		lastUsed:  time.Now(),
	}

	go c.readLoop()

	logger.InfoContext(ctx, "xrpl session opened",
		"endpoint", endpoint,
		"network", network,
	)
	return c, nil
}

// readLoop dispatches responses to waiting callers. A read error means the
// connection is dead: every pending call is failed and the session is
// marked closed.
func (c *Client) readLoop() {
	for {
		var resp rpcResponse
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.failAll(err)
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()

		if !ok {
			// Unsolicited message (e.g. a stream we never subscribed to).
			c.logger.Debug("dropping unsolicited message",
				"endpoint", c.endpoint,
				"id", resp.ID,
				"type", resp.Type,
			)
			continue
		}
		ch <- &resp
	}
}

// failAll marks the session dead and unblocks every in-flight call.
func (c *Client) failAll(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint64]chan *rpcResponse)
	close(c.closedCh)
	c.mu.Unlock()

	c.conn.Close()
	for _, ch := range pending {
		close(ch)
	}
	if cause != nil {
		c.logger.Warn("xrpl session lost",
			"endpoint", c.endpoint,
			"network", c.network,
			"error", cause,
		)
	}
}

// call sends one command and waits for its response or context expiry.
func (c *Client) call(ctx context.Context, command string, params rpcRequest) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrSessionClosed
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *rpcResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := rpcRequest{"id": id, "command": command}
	for k, v := range params {
		req[k] = v
	}

	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		c.failAll(err)
		return nil, fmt.Errorf("failed to send %s: %w", command, err)
	}

	start := time.Now()
	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-c.closedCh:
		return nil, ErrSessionClosed
	case resp, ok := <-ch:
		duration := time.Since(start).Seconds()
		if !ok {
			if c.metrics != nil {
				c.metrics.RecordLedgerCall(command, "error", c.endpoint, duration)
			}
			return nil, ErrSessionClosed
		}
		c.touch()
		if resp.Status == "error" {
			if c.metrics != nil {
				c.metrics.RecordLedgerCall(command, "error", c.endpoint, duration)
			}
			return nil, &RPCError{Code: resp.ErrorCode, Message: resp.ErrorMessage}
		}
		if c.metrics != nil {
			c.metrics.RecordLedgerCall(command, "success", c.endpoint, duration)
		}
		return resp.Result, nil
	}
}

// ServerInfo queries the node's state. Used as the liveness check.
func (c *Client) ServerInfo(ctx context.Context) (*ServerInfoResult, error) {
	raw, err := c.call(ctx, "server_info", nil)
	if err != nil {
		return nil, err
	}
	var result ServerInfoResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode server_info: %w", err)
	}
	return &result, nil
}

// AccountInfo fetches account state from the current ledger. The sequence
// number it returns is what transaction building needs.
func (c *Client) AccountInfo(ctx context.Context, account string) (*AccountInfoResult, error) {
	raw, err := c.call(ctx, "account_info", rpcRequest{
		"account":      account,
		"ledger_index": "current",
	})
	if err != nil {
		return nil, err
	}
	var result AccountInfoResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode account_info: %w", err)
	}
	return &result, nil
}

// Submit sends a signed transaction blob to the node.
func (c *Client) Submit(ctx context.Context, txBlob string) (*SubmitResult, error) {
	raw, err := c.call(ctx, "submit", rpcRequest{"tx_blob": txBlob})
	if err != nil {
		return nil, err
	}
	var result SubmitResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode submit response: %w", err)
	}
	return &result, nil
}

// Tx looks up a transaction by hash. Returns an RPCError with code
// "txnNotFound" while the transaction has not been seen by this node.
func (c *Client) Tx(ctx context.Context, hash string) (*TxResult, error) {
	raw, err := c.call(ctx, "tx", rpcRequest{"transaction": hash})
	if err != nil {
		return nil, err
	}
	var result TxResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tx response: %w", err)
	}
	return &result, nil
}

// AccountTx lists recent transactions touching an account, newest first.
// Used by the reconcile pass to find externally-signed transactions.
func (c *Client) AccountTx(ctx context.Context, account string, limit int) ([]*TxResult, error) {
	raw, err := c.call(ctx, "account_tx", rpcRequest{
		"account": account,
		"limit":   limit,
		"forward": false,
	})
	if err != nil {
		return nil, err
	}
	var result accountTxResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode account_tx response: %w", err)
	}
	txs := make([]*TxResult, 0, len(result.Transactions))
	for _, entry := range result.Transactions {
		tx := entry.Tx
		tx.Validated = entry.Validated
		tx.Meta = entry.Meta
		txs = append(txs, &tx)
	}
	return txs, nil
}

// Alive reports whether the session is still usable.
func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// LastUsed returns the time of the last completed call.
func (c *Client) LastUsed() time.Time {
	c.lastMu.Lock()
	defer c.lastMu.Unlock()
	return c.lastUsed
}

func (c *Client) touch() {
	c.lastMu.Lock()
	c.lastUsed = time.Now()
	c.lastMu.Unlock()
}

// Close shuts the session down and unblocks any in-flight calls.
func (c *Client) Close() error {
	c.failAll(nil)
	return nil
}
