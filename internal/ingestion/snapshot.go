package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"mm-engine/internal/types"
)

// SnapshotClient fetches a one-shot REST order-book snapshot to bootstrap
// the simulator before the WebSocket feed catches up.
type SnapshotClient struct {
	http *resty.Client
}

// NewSnapshotClient creates a client pointed at baseURL.
func NewSnapshotClient(baseURL string) *SnapshotClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &SnapshotClient{http: client}
}

type snapshotResponse struct {
	Bids      []wireLevel `json:"bids"`
	Asks      []wireLevel `json:"asks"`
	Timestamp int64       `json:"timestamp"`
}

// FetchBook retrieves the current order book for symbol.
func (c *SnapshotClient) FetchBook(ctx context.Context, symbol string) (types.BookSnapshot, error) {
	var out snapshotResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&out).
		Get("/book")
	if err != nil {
		return types.BookSnapshot{}, fmt.Errorf("fetch book: %w", err)
	}
	if resp.IsError() {
		return types.BookSnapshot{}, fmt.Errorf("fetch book: status %d", resp.StatusCode())
	}

	snap := types.BookSnapshot{Timestamp: time.UnixMilli(out.Timestamp)}
	for _, l := range out.Bids {
		snap.Bids = append(snap.Bids, types.BookLevel{Price: l.Price, Size: l.Size})
	}
	for _, l := range out.Asks {
		snap.Asks = append(snap.Asks, types.BookLevel{Price: l.Price, Size: l.Size})
	}
	return snap, nil
}
