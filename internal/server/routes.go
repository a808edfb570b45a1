package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"PerpClearing/internal/core"
	"PerpClearing/internal/query"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type handlers struct {
	deps *ServerDeps
	mux  *runtime.ServeMux
}

type route struct {
	method  string
	pattern string
	name    string
	fn      runtime.HandlerFunc
}

// NewGatewayMux registers the HTTP/JSON API on a gateway mux.
func NewGatewayMux(deps *ServerDeps, opts ...runtime.ServeMuxOption) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux(opts...)
	h := &handlers{deps: deps, mux: mux}

	routes := []route{
		// Projections
		{"GET", "/v1/accounts/{account}/balances", "GetBalances", h.getBalances},
		{"GET", "/v1/accounts/{account}/positions", "GetPositions", h.getPositions},
		{"GET", "/v1/accounts/{account}/funding", "GetFundingHistory", h.getFundingHistory},
		{"GET", "/v1/accounts/{account}/liquidations", "GetLiquidations", h.getLiquidations},
		{"GET", "/v1/accounts/{account}/journals", "GetJournalHistory", h.getJournals},
		{"GET", "/v1/markets/{market}/funding_rates", "GetFundingRates", h.getFundingRates},
		{"GET", "/v1/markets/{market}/status", "GetMarketStatus", h.getMarketStatus},
		{"GET", "/v1/insurance_fund", "GetInsuranceFund", h.getInsuranceFund},

		// Live engine state
		{"GET", "/v1/live/accounts/{account}", "LiveAccount", h.liveAccount},
		{"GET", "/v1/live/markets", "LiveMarkets", h.liveMarkets},
		{"GET", "/v1/live/markets/{market}", "LiveMarket", h.liveMarket},
		{"GET", "/v1/live/insurance_fund", "LiveInsuranceFund", h.liveInsuranceFund},

		// Manual injection
		{"POST", "/v1/ingest/deposit", "InjectDeposit", h.injectDeposit},
		{"POST", "/v1/ingest/withdraw", "InjectWithdraw", h.injectWithdraw},
		{"POST", "/v1/ingest/insurance_top_up", "InjectInsuranceTopUp", h.injectTopUp},
		{"POST", "/v1/ingest/index_price", "InjectIndexPrice", h.injectIndexPrice},
		{"POST", "/v1/ingest/collateral_price", "InjectCollateralPrice", h.injectCollateralPrice},

		// Admin
		{"POST", "/v1/admin/markets/{market}/pause", "PauseMarket", h.pauseMarket},
		{"POST", "/v1/admin/markets/{market}/close", "CloseMarket", h.closeMarket},
		{"POST", "/v1/admin/markets/{market}/close_after_cooldown", "CloseMarketAfterCooldown", h.closeAfterCooldown},
		{"POST", "/v1/admin/snapshot", "TakeSnapshot", h.takeSnapshot},
		{"POST", "/v1/admin/projections/rebuild", "RebuildProjections", h.rebuildProjections},
		{"GET", "/v1/admin/event_log", "GetEventLogInfo", h.eventLogInfo},
		{"GET", "/v1/admin/integrity", "VerifyIntegrity", h.verifyIntegrity},
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, h.instrument(rt.name, rt.fn)); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

func (h *handlers) instrument(name string, fn runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		fn(w, r.WithContext(withMethod(r.Context(), name)), params)
		if m := h.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(name).Inc()
			m.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
	}
}

type methodKey struct{}

func withMethod(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, methodKey{}, name)
}

func (h *handlers) reply(w http.ResponseWriter, r *http.Request, v interface{}) {
	_, outbound := runtime.MarshalerForRequest(h.mux, r)
	data, err := outbound.Marshal(v)
	if err != nil {
		h.fail(w, r, status.Errorf(codes.Internal, "marshal: %v", err))
		return
	}
	w.Header().Set("Content-Type", outbound.ContentType(v))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	st := toStatus(err)
	if m := h.deps.Metrics; m != nil {
		name, _ := r.Context().Value(methodKey{}).(string)
		m.QueryErrors.WithLabelValues(name, st.Code().String()).Inc()
	}
	_, outbound := runtime.MarshalerForRequest(h.mux, r)
	runtime.HTTPError(r.Context(), h.mux, outbound, w, r, st.Err())
}

func toStatus(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}
	switch {
	case errors.Is(err, query.ErrNotFound), errors.Is(err, core.ErrUnknownMarket):
		return status.New(codes.NotFound, err.Error())
	case errors.Is(err, core.ErrInvalidAsset), errors.Is(err, core.ErrInvalidAmount):
		return status.New(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.New(codes.Canceled, err.Error())
	}
	return status.New(codes.Internal, err.Error())
}

// --- request helpers ---

func accountParam(params map[string]string) (uuid.UUID, error) {
	id, err := uuid.Parse(params["account"])
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid account: %v", err)
	}
	return id, nil
}

func intQuery(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid %s: %v", name, err)
	}
	return &v, nil
}

func limitQuery(r *http.Request) (int, error) {
	v, err := intQuery(r, "limit")
	if err != nil || v == nil {
		return 0, err
	}
	return int(*v), nil
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid body: %v", err)
	}
	return nil
}

func (h *handlers) reader() (query.Reader, error) {
	if h.deps.Query == nil {
		return nil, status.Error(codes.Unavailable, "projections not configured")
	}
	return h.deps.Query, nil
}

// --- projection queries ---

func (h *handlers) getBalances(w http.ResponseWriter, r *http.Request, params map[string]string) {
	account, err := accountParam(params)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q, err := h.reader()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp, err := q.GetBalances(r.Context(), account)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, r, resp)
}

func (h *handlers) getPositions(w http.ResponseWriter, r *http.Request, params map[string]string) {
	account, err := accountParam(params)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q, err := h.reader()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	positions, err := q.GetPositions(r.Context(), account)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if positions == nil {
		positions = []query.PositionResponse{}
	}
	h.reply(w, r, map[string]interface{}{"positions": positions})
}

func (h *handlers) getFundingHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	account, err := accountParam(params)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := limitQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	before, err := intQuery(r, "before")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var market *string
	if m := r.URL.Query().Get("market"); m != "" {
		market = &m
	}
	q, err := h.reader()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	history, err := q.GetFundingHistory(r.Context(), account, market, limit, before)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if history == nil {
		history = []query.FundingHistoryResponse{}
	}
	h.reply(w, r, map[string]interface{}{"payments": history})
}

func (h *handlers) getLiquidations(w http.ResponseWriter, r *http.Request, params map[string]string) {
	account, err := accountParam(params)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := limitQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q, err := h.reader()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	liqs, err := q.GetLiquidations(r.Context(), account, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if liqs == nil {
		liqs = []query.LiquidationResponse{}
	}
	h.reply(w, r, map[string]interface{}{"liquidations": liqs})
}

func (h *handlers) getJournals(w http.ResponseWriter, r *http.Request, params map[string]string) {
	account, err := accountParam(params)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := limitQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	before, err := intQuery(r, "before")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q, err := h.reader()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entries, err := q.GetJournalHistory(r.Context(), account, limit, before)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []query.JournalHistoryEntry{}
	}
	h.reply(w, r, map[string]interface{}{"journals": entries})
}

func (h *handlers) getFundingRates(w http.ResponseWriter, r *http.Request, params map[string]string) {
	limit, err := limitQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q, err := h.reader()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rates, err := q.GetFundingRates(r.Context(), params["market"], limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rates == nil {
		rates = []query.FundingRateResponse{}
	}
	h.reply(w, r, map[string]interface{}{"rates": rates})
}

func (h *handlers) getMarketStatus(w http.ResponseWriter, r *http.Request, params map[string]string) {
	q, err := h.reader()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp, err := q.GetMarketStatus(r.Context(), params["market"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, r, resp)
}

func (h *handlers) getInsuranceFund(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q, err := h.reader()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp, err := q.GetInsuranceFund(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, r, resp)
}

// --- live engine state ---

func (h *handlers) engine() (EngineReader, error) {
	if h.deps.Engine == nil {
		return nil, status.Error(codes.Unavailable, "engine not ready")
	}
	return h.deps.Engine, nil
}

func (h *handlers) liveAccount(w http.ResponseWriter, r *http.Request, params map[string]string) {
	account, err := accountParam(params)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := h.engine()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := e.Account(account)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, r, toAccountJSON(view, e.Clock()))
}

func (h *handlers) liveMarkets(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	e, err := h.engine()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	views, err := e.Markets()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	markets := make([]marketJSON, 0, len(views))
	for _, v := range views {
		markets = append(markets, toMarketJSON(v))
	}
	h.reply(w, r, map[string]interface{}{"markets": markets})
}

func (h *handlers) liveMarket(w http.ResponseWriter, r *http.Request, params map[string]string) {
	e, err := h.engine()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := e.Market(params["market"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, r, toMarketJSON(view))
}

func (h *handlers) liveInsuranceFund(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	e, err := h.engine()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, r, toInsuranceFundJSON(e.InsuranceFund()))
}
