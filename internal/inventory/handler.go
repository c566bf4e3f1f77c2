package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/buildflow/internal/platform/httpx"
	"github.com/odyssey-erp/buildflow/internal/shared"
)

// IdempotencyHeader lets clients retry stock postings safely. Header keys must be UUIDs.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires JSON endpoints for the stock ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/low", h.lowStock)
	r.Get("/history", h.history)
	r.Get("/{id}", h.get)
	r.Post("/", h.add)
	r.Post("/{id}/remove", h.remove)
	r.Post("/{id}/adjust", h.adjust)
	r.Post("/{id}/transfer", h.transfer)
	r.Put("/{id}/threshold", h.threshold)
}

type addRequest struct {
	ProductID      int64           `json:"product_id" validate:"gte=0"`
	Name           string          `json:"name" validate:"required,max=200"`
	Quantity       decimal.Decimal `json:"quantity"`
	Unit           string          `json:"unit" validate:"max=20"`
	Location       string          `json:"location" validate:"max=100"`
	Note           string          `json:"note" validate:"max=500"`
	IdempotencyKey string          `json:"idempotency_key" validate:"omitempty,max=100"`
}

type removeRequest struct {
	Quantity       decimal.Decimal `json:"quantity"`
	Note           string          `json:"note" validate:"max=500"`
	IdempotencyKey string          `json:"idempotency_key" validate:"omitempty,max=100"`
}

type adjustRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	Reason   string          `json:"reason" validate:"required,max=500"`
}

type transferRequest struct {
	Quantity   decimal.Decimal `json:"quantity"`
	ToLocation string          `json:"to_location" validate:"required,max=100"`
	Note       string          `json:"note" validate:"max=500"`
}

type thresholdRequest struct {
	MinThreshold decimal.NullDecimal `json:"min_threshold"`
}

type transferResponse struct {
	Source      Stock `json:"source"`
	Destination Stock `json:"destination"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.ActorFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	productID, err := httpx.QueryInt64(r, "product_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var records []Stock
	if productID > 0 {
		records, err = h.service.GetStockByProduct(r.Context(), actor, productID)
	} else {
		records, err = h.service.GetStockByLocation(r.Context(), actor, r.URL.Query().Get("location"))
	}
	if err != nil {
		h.fail(w, "list stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, records)
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.ActorFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	records, err := h.service.GetLowStockItems(r.Context(), actor)
	if err != nil {
		h.fail(w, "low stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, records)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.ActorFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter, err := parseHistoryFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.GetStockHistory(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, "stock history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	stock, err := h.service.GetStock(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "get stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, stock)
}

func (h *Handler) add(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.ActorFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req addRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	key, err := idempotencyKey(r, req.IdempotencyKey)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	stock, err := h.service.AddStock(r.Context(), actor, AddStockInput{
		ProductID:      req.ProductID,
		Name:           req.Name,
		Quantity:       req.Quantity,
		Unit:           req.Unit,
		Location:       req.Location,
		Note:           req.Note,
		IdempotencyKey: key,
	})
	if err != nil {
		h.fail(w, "add stock", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, stock)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req removeRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	key, err := idempotencyKey(r, req.IdempotencyKey)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	stock, err := h.service.RemoveStock(r.Context(), actor, RemoveStockInput{
		StockID:        id,
		Quantity:       req.Quantity,
		Note:           req.Note,
		IdempotencyKey: key,
	})
	if err != nil {
		h.fail(w, "remove stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, stock)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	stock, err := h.service.AdjustStock(r.Context(), actor, AdjustStockInput{StockID: id, NewQuantity: req.Quantity, Reason: req.Reason})
	if err != nil {
		h.fail(w, "adjust stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, stock)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	src, dst, err := h.service.TransferStock(r.Context(), actor, TransferStockInput{
		StockID:    id,
		Quantity:   req.Quantity,
		ToLocation: req.ToLocation,
		Note:       req.Note,
	})
	if err != nil {
		h.fail(w, "transfer stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, transferResponse{Source: src, Destination: dst})
}

func (h *Handler) threshold(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req thresholdRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	stock, err := h.service.SetMinThreshold(r.Context(), actor, id, req.MinThreshold)
	if err != nil {
		h.fail(w, "set threshold", err)
		return
	}
	httpx.JSON(w, http.StatusOK, stock)
}

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (shared.Actor, int64, bool) {
	actor, err := shared.ActorFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Actor{}, 0, false
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Actor{}, 0, false
	}
	return actor, id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !shared.Classified(err) || errors.Is(err, shared.ErrBackend) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

// idempotencyKey prefers the header over the body field and normalises it.
func idempotencyKey(r *http.Request, fromBody string) (string, error) {
	raw := r.Header.Get(IdempotencyHeader)
	if raw == "" {
		return fromBody, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", shared.Validationf("%s must be a UUID", IdempotencyHeader)
	}
	return id.String(), nil
}

func parseHistoryFilter(r *http.Request) (HistoryFilter, error) {
	q := r.URL.Query()
	productID, err := httpx.QueryInt64(r, "product_id")
	if err != nil {
		return HistoryFilter{}, err
	}
	limit, err := httpx.QueryInt64(r, "limit")
	if err != nil {
		return HistoryFilter{}, err
	}
	offset, err := httpx.QueryInt64(r, "offset")
	if err != nil {
		return HistoryFilter{}, err
	}
	filter := HistoryFilter{
		ProductID: productID,
		Location:  q.Get("location"),
		Type:      TransactionType(q.Get("type")),
		Limit:     int(limit),
		Offset:    int(offset),
	}
	if raw := q.Get("from"); raw != "" {
		if filter.From, err = time.Parse(time.RFC3339, raw); err != nil {
			return HistoryFilter{}, shared.Validationf("invalid from")
		}
	}
	if raw := q.Get("to"); raw != "" {
		if filter.To, err = time.Parse(time.RFC3339, raw); err != nil {
			return HistoryFilter{}, shared.Validationf("invalid to")
		}
	}
	return filter, nil
}
