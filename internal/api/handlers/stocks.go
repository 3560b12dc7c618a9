package handlers

import (
	"net/http"
	"time"

	"github.com/luwei/stockwatch/internal/cache"
	"github.com/luwei/stockwatch/internal/contracts"
	"github.com/luwei/stockwatch/pkg/logger"
)

// StocksHandler serves the combined deviation rankings.
type StocksHandler struct {
	snapshots contracts.SnapshotCache
	refresher contracts.Refresher
	logger    *logger.Logger
	now       func() time.Time
}

// NewStocksHandler creates a stocks handler.
func NewStocksHandler(snapshots contracts.SnapshotCache, refresher contracts.Refresher, log *logger.Logger) *StocksHandler {
	return &StocksHandler{
		snapshots: snapshots,
		refresher: refresher,
		logger:    log,
		now:       time.Now,
	}
}

// WithClock overrides the handler's clock, for tests.
func (h *StocksHandler) WithClock(now func() time.Time) *StocksHandler {
	h.now = now
	return h
}

// stocksResponse is the wire shape of the ranking endpoint.
type stocksResponse struct {
	Code      int                       `json:"code"`
	Message   string                    `json:"message"`
	Data      *contracts.RankingPayload `json:"data"`
	Count     map[string]int            `json:"count,omitempty"`
	FromCache bool                      `json:"from_cache"`
}

func emptyPayload() *contracts.RankingPayload {
	return &contracts.RankingPayload{
		Stocks10: []*contracts.RankingRecord{},
		Stocks30: []*contracts.RankingRecord{},
	}
}

// GetBoth serves both rankings from the snapshot cache.
// GET /api/stocks/both
//
// Before the 17:00 cutover the previous day's snapshot is
// authoritative. A cache miss triggers a synchronous full refresh and
// one retry; if the snapshot still is not there, an empty payload is
// returned rather than an error.
func (h *StocksHandler) GetBoth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := cache.SlotKey(h.now())

	payload := &contracts.RankingPayload{}
	found, err := h.snapshots.Get(ctx, key, "", payload)
	if err != nil {
		h.logger.WithError(err).Error("snapshot cache read failed")
		writeJSON(w, http.StatusInternalServerError, stocksResponse{
			Code:    http.StatusInternalServerError,
			Message: err.Error(),
			Data:    emptyPayload(),
		})
		return
	}
	if found {
		h.respond(w, key, payload)
		return
	}

	h.logger.Warnf("snapshot miss for %s, running refresh inline", key)
	if err := h.refresher.Refresh(ctx); err != nil {
		h.logger.WithError(err).Error("inline refresh failed")
	}

	payload = &contracts.RankingPayload{}
	found, err = h.snapshots.Get(ctx, key, "", payload)
	if err != nil {
		h.logger.WithError(err).Error("snapshot cache read failed after refresh")
		writeJSON(w, http.StatusInternalServerError, stocksResponse{
			Code:    http.StatusInternalServerError,
			Message: err.Error(),
			Data:    emptyPayload(),
		})
		return
	}
	if found {
		h.respond(w, key, payload)
		return
	}

	h.logger.Warnf("snapshot still missing for %s, returning empty payload", key)
	writeJSON(w, http.StatusOK, stocksResponse{
		Code:      0,
		Message:   "no cache",
		Data:      emptyPayload(),
		Count:     map[string]int{"10": 0, "30": 0},
		FromCache: false,
	})
}

func (h *StocksHandler) respond(w http.ResponseWriter, key string, payload *contracts.RankingPayload) {
	h.logger.Debugf("serving snapshot %s", key)
	writeJSON(w, http.StatusOK, stocksResponse{
		Code:    0,
		Message: "success",
		Data:    payload,
		Count: map[string]int{
			"10": len(payload.Stocks10),
			"30": len(payload.Stocks30),
		},
		FromCache: true,
	})
}
