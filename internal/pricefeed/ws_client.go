package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"mirror-exit-engine/internal/domain"
)

// StreamConfig configures the streaming price client.
type StreamConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the backoff between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration
	// WriteTimeout bounds writes to the connection.
	WriteTimeout time.Duration
}

// DefaultStreamConfig returns the default streaming configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// priceUpdate is the wire format of one streamed tick.
type priceUpdate struct {
	Token       string `json:"token"`
	Price       string `json:"price"` // decimal string, never float
	TimestampMs int64  `json:"ts"`
}

type subscribeRequest struct {
	Op    string `json:"op"`
	Token string `json:"token"`
}

// StreamClient maintains a websocket subscription to a live price stream and
// caches the latest tick per token. It backs CurrentPrice for still-open
// positions; historical replays come from the history store instead.
type StreamClient struct {
	endpoint string
	config   StreamConfig

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	// latest holds the newest tick per subscribed token.
	latest   map[string]domain.PricePoint
	latestMu sync.RWMutex

	// tokens remembers subscriptions for resubscribe after reconnect.
	tokens   map[string]struct{}
	tokensMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

// NewStreamClient connects to the endpoint and starts the read and ping loops.
func NewStreamClient(ctx context.Context, endpoint string, config *StreamConfig) (*StreamClient, error) {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}

	c := &StreamClient{
		endpoint: endpoint,
		config:   cfg,
		latest:   make(map[string]domain.PricePoint),
		tokens:   make(map[string]struct{}),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

func (c *StreamClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn
	return nil
}

// Subscribe starts streaming ticks for a token.
func (c *StreamClient) Subscribe(token string) error {
	if c.closed.Load() {
		return fmt.Errorf("stream client closed")
	}
	if err := domain.ValidateToken(token); err != nil {
		return err
	}

	c.tokensMu.Lock()
	c.tokens[token] = struct{}{}
	c.tokensMu.Unlock()

	return c.writeJSON(subscribeRequest{Op: "subscribe", Token: token})
}

// CurrentPrice returns the latest streamed tick for a subscribed token.
func (c *StreamClient) CurrentPrice(_ context.Context, token string) (domain.PricePoint, error) {
	c.latestMu.RLock()
	defer c.latestMu.RUnlock()

	p, ok := c.latest[token]
	if !ok {
		return domain.PricePoint{}, fmt.Errorf("%w: no tick received for %s", ErrNoPriceData, token)
	}
	return p, nil
}

// Close shuts down the client and waits for its goroutines.
func (c *StreamClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *StreamClient) writeJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteJSON(v)
}

// readLoop consumes ticks, updating the per-token cache. Stale ticks (older
// than the cached one) are dropped so the cache stays monotonic.
func (c *StreamClient) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			if !c.reconnect() {
				return
			}
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			if !c.reconnect() {
				return
			}
			continue
		}

		var upd priceUpdate
		if err := json.Unmarshal(data, &upd); err != nil {
			continue
		}
		price, err := decimal.NewFromString(upd.Price)
		if err != nil {
			continue
		}

		c.latestMu.Lock()
		if prev, ok := c.latest[upd.Token]; !ok || upd.TimestampMs >= prev.TimestampMs {
			c.latest[upd.Token] = domain.PricePoint{TimestampMs: upd.TimestampMs, Price: price}
		}
		c.latestMu.Unlock()
	}
}

// reconnect re-dials with exponential backoff and replays subscriptions.
// Returns false once the client is closed.
func (c *StreamClient) reconnect() bool {
	delay := c.config.ReconnectDelay

	for {
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		if err := c.connect(context.Background()); err == nil {
			c.tokensMu.Lock()
			tokens := make([]string, 0, len(c.tokens))
			for t := range c.tokens {
				tokens = append(tokens, t)
			}
			c.tokensMu.Unlock()

			for _, t := range tokens {
				_ = c.writeJSON(subscribeRequest{Op: "subscribe", Token: t})
			}
			return true
		}

		delay *= 2
		if delay > c.config.MaxReconnectDelay {
			delay = c.config.MaxReconnectDelay
		}
	}
}

func (c *StreamClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// LiveFeed combines stored history with a streaming client for current
// prices, satisfying the full Feed contract for open positions.
type LiveFeed struct {
	history *StoreFeed
	stream  *StreamClient
}

// NewLiveFeed creates a feed backed by a history store and a live stream.
func NewLiveFeed(history *StoreFeed, stream *StreamClient) *LiveFeed {
	return &LiveFeed{history: history, stream: stream}
}

// FetchHistory delegates to the history store.
func (f *LiveFeed) FetchHistory(ctx context.Context, token string, from, to int64) ([]domain.PricePoint, error) {
	return f.history.FetchHistory(ctx, token, from, to)
}

// CurrentPrice prefers the live stream, falling back to the newest stored
// sample when no tick has arrived yet.
func (f *LiveFeed) CurrentPrice(ctx context.Context, token string) (domain.PricePoint, error) {
	p, err := f.stream.CurrentPrice(ctx, token)
	if err == nil {
		return p, nil
	}
	return f.history.CurrentPrice(ctx, token)
}

// Ensure LiveFeed implements Feed.
var _ Feed = (*LiveFeed)(nil)
