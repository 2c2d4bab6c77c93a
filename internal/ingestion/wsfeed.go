// Package ingestion holds the market-data collaborators that drive the
// core: the WebSocket feed delivering book snapshots and trade prints, a
// REST snapshot client for bootstrap, and a raw event persistence sidecar.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mm-engine/internal/types"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	bookBufferSize   = 256
	tradeBufferSize  = 256
)

// wireLevel mirrors one [price, size] entry as delivered on the wire.
type wireLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

type wireBookEvent struct {
	EventType string      `json:"event_type"`
	Bids      []wireLevel `json:"bids"`
	Asks      []wireLevel `json:"asks"`
	Timestamp int64       `json:"timestamp"` // unix millis
}

type wireTradeEvent struct {
	EventType string  `json:"event_type"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	Side      string  `json:"side"` // "buy" or "sell" aggressor
	Timestamp int64   `json:"timestamp"`
}

// Feed manages a single WebSocket connection to the market-data source,
// auto-reconnecting with exponential backoff and delivering parsed book
// snapshots and trade prints over typed channels.
type Feed struct {
	url string

	connMu sync.Mutex
	conn   *websocket.Conn

	bookCh  chan types.BookSnapshot
	tradeCh chan types.TradePrint

	logger *slog.Logger
}

// NewFeed creates a market-data feed pointed at wsURL.
func NewFeed(wsURL string, logger *slog.Logger) *Feed {
	return &Feed{
		url:     wsURL,
		bookCh:  make(chan types.BookSnapshot, bookBufferSize),
		tradeCh: make(chan types.TradePrint, tradeBufferSize),
		logger:  logger.With("component", "ingestion_feed"),
	}
}

// BookEvents returns a read-only channel of book snapshots.
func (f *Feed) BookEvents() <-chan types.BookSnapshot { return f.bookCh }

// TradeEvents returns a read-only channel of trade prints.
func (f *Feed) TradeEvents() <-chan types.TradePrint { return f.tradeCh }

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close closes the underlying connection, if any.
func (f *Feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	f.logger.Info("feed connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *Feed) dispatch(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json message")
		return
	}

	switch envelope.EventType {
	case "book":
		var evt wireBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal book event", "error", err)
			return
		}
		snap := types.BookSnapshot{Timestamp: time.UnixMilli(evt.Timestamp)}
		for _, l := range evt.Bids {
			snap.Bids = append(snap.Bids, types.BookLevel{Price: l.Price, Size: l.Size})
		}
		for _, l := range evt.Asks {
			snap.Asks = append(snap.Asks, types.BookLevel{Price: l.Price, Size: l.Size})
		}
		select {
		case f.bookCh <- snap:
		default:
			f.logger.Warn("book channel full, dropping snapshot")
		}

	case "trade":
		var evt wireTradeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal trade event", "error", err)
			return
		}
		tp := types.TradePrint{
			Price:         evt.Price,
			Size:          evt.Size,
			AggressorSide: types.Side(evt.Side),
			Timestamp:     time.UnixMilli(evt.Timestamp),
		}
		select {
		case f.tradeCh <- tp:
		default:
			f.logger.Warn("trade channel full, dropping print")
		}

	default:
		f.logger.Debug("unknown event type", "type", envelope.EventType)
	}
}

func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.connMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			f.connMu.Unlock()
			if err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}
