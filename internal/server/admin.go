package server

import (
	"context"
	"errors"
	"net/http"

	"PerpClearing/internal/projection"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type collateralRequest struct {
	Account uuid.UUID `json:"account"`
	Asset   string    `json:"asset"`
	Amount  int64     `json:"amount"`
}

type topUpRequest struct {
	Caller uuid.UUID `json:"caller"`
	Amount int64     `json:"amount"`
}

type priceRequest struct {
	Market        string `json:"market,omitempty"`
	Asset         string `json:"asset,omitempty"`
	Price         int64  `json:"price"`
	PriceSequence int64  `json:"price_sequence"`
}

type marketAdminRequest struct {
	Caller uuid.UUID `json:"caller"`
	Price  int64     `json:"price,omitempty"`
}

type acceptedResponse struct {
	IdempotencyKey string `json:"idempotency_key"`
}

// injected answers an injection call. Validation errors from the ingest
// service are client errors; the engine applies the command asynchronously.
func (h *handlers) injected(w http.ResponseWriter, r *http.Request, key string, err error) {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			h.fail(w, r, err)
			return
		}
		h.fail(w, r, status.Error(codes.InvalidArgument, err.Error()))
		return
	}
	h.reply(w, r, acceptedResponse{IdempotencyKey: key})
}

func (h *handlers) ingestReady(w http.ResponseWriter, r *http.Request) bool {
	if h.deps.IngestService == nil {
		h.fail(w, r, status.Error(codes.Unavailable, "ingest not configured"))
		return false
	}
	return true
}

func (h *handlers) injectDeposit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req collateralRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if !h.ingestReady(w, r) {
		return
	}
	key, err := h.deps.IngestService.InjectDeposit(r.Context(), req.Account, req.Asset, req.Amount)
	h.injected(w, r, key, err)
}

func (h *handlers) injectWithdraw(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req collateralRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if !h.ingestReady(w, r) {
		return
	}
	key, err := h.deps.IngestService.InjectWithdraw(r.Context(), req.Account, req.Asset, req.Amount)
	h.injected(w, r, key, err)
}

func (h *handlers) injectTopUp(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req topUpRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if !h.ingestReady(w, r) {
		return
	}
	key, err := h.deps.IngestService.InjectInsuranceTopUp(r.Context(), req.Caller, req.Amount)
	h.injected(w, r, key, err)
}

func (h *handlers) injectIndexPrice(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req priceRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Market == "" {
		h.fail(w, r, status.Error(codes.InvalidArgument, "market is required"))
		return
	}
	if !h.ingestReady(w, r) {
		return
	}
	key, err := h.deps.IngestService.InjectIndexPrice(r.Context(), req.Market, req.Price, req.PriceSequence)
	h.injected(w, r, key, err)
}

func (h *handlers) injectCollateralPrice(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req priceRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Asset == "" {
		h.fail(w, r, status.Error(codes.InvalidArgument, "asset is required"))
		return
	}
	if !h.ingestReady(w, r) {
		return
	}
	key, err := h.deps.IngestService.InjectCollateralPrice(r.Context(), req.Asset, req.Price, req.PriceSequence)
	h.injected(w, r, key, err)
}

func (h *handlers) pauseMarket(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req marketAdminRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if !h.ingestReady(w, r) {
		return
	}
	key, err := h.deps.IngestService.PauseMarket(r.Context(), req.Caller, params["market"])
	h.injected(w, r, key, err)
}

func (h *handlers) closeMarket(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req marketAdminRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if !h.ingestReady(w, r) {
		return
	}
	key, err := h.deps.IngestService.CloseMarket(r.Context(), req.Caller, params["market"], req.Price)
	h.injected(w, r, key, err)
}

func (h *handlers) closeAfterCooldown(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req marketAdminRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if !h.ingestReady(w, r) {
		return
	}
	key, err := h.deps.IngestService.CloseMarketAfterCooldown(r.Context(), req.Caller, params["market"])
	h.injected(w, r, key, err)
}

func (h *handlers) takeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if h.deps.Snapshotter == nil {
		h.fail(w, r, status.Error(codes.Unavailable, "snapshots not configured"))
		return
	}
	seq, err := h.deps.Snapshotter.TakeSnapshot(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, r, map[string]int64{"sequence": seq})
}

func (h *handlers) rebuildProjections(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if h.deps.DB == nil {
		h.fail(w, r, status.Error(codes.Unavailable, "database not configured"))
		return
	}
	if err := projection.RebuildProjections(r.Context(), h.deps.DB, h.deps.Logger); err != nil {
		h.fail(w, r, status.Errorf(codes.Internal, "rebuild failed: %v", err))
		return
	}
	h.reply(w, r, map[string]bool{"rebuilt": true})
}

func (h *handlers) eventLogInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if h.deps.SnapshotMgr == nil {
		h.fail(w, r, status.Error(codes.Unavailable, "database not configured"))
		return
	}
	latest, err := h.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := map[string]int64{"last_sequence": latest}
	if q := h.deps.Query; q != nil {
		if wm, err := q.Watermark(r.Context()); err == nil {
			resp["projection_watermark"] = wm
		}
	}
	h.reply(w, r, resp)
}

func (h *handlers) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q, err := h.reader()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := q.VerifyIntegrity(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, r, report)
}
