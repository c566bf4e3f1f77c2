package procurement

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/buildflow/internal/platform/httpx"
	"github.com/odyssey-erp/buildflow/internal/shared"
	"github.com/odyssey-erp/buildflow/internal/workflow"
)

// Handler manages procurement endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/", h.update)
		r.Delete("/", h.remove)
		r.Get("/history", h.history)
		r.Get("/stock-check", h.stockCheck)
		r.Put("/site-manager", h.assignSiteManager)

		r.Post("/submit", h.withNote(h.service.SubmitForApproval))
		r.Post("/approve-site", h.withNote(h.service.ApproveBySiteManager))
		r.Post("/reject-site", h.withReason(h.service.RejectBySiteManager))
		r.Post("/approve-management", h.approveManagement)
		r.Post("/reject-management", h.withReason(h.service.RejectByManagement))
		r.Post("/submit-to-supplier", h.withNote(h.service.SubmitToSupplier))
		r.Post("/accept", h.withNote(h.service.AcceptBySupplier))
		r.Post("/reject-supplier", h.withReason(h.service.RejectBySupplier))
		r.Post("/deliver", h.deliver)
		r.Post("/complete", h.withNote(h.service.Complete))
		r.Post("/cancel", h.withReason(h.service.Cancel))
	})
}

type textAction func(ctx context.Context, actor shared.Actor, orderID int64, text string) (PurchaseOrder, error)

func (h *Handler) withNote(action textAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := h.actorAndID(w, r)
		if !ok {
			return
		}
		var req noteRequest
		if r.ContentLength != 0 {
			if err := httpx.DecodeAndValidate(r, &req); err != nil {
				httpx.RespondError(w, err)
				return
			}
		}
		order, err := action(r.Context(), actor, id, req.Note)
		h.respondOrder(w, actor, order, err, http.StatusOK)
	}
}

func (h *Handler) withReason(action textAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := h.actorAndID(w, r)
		if !ok {
			return
		}
		var req reasonRequest
		if err := httpx.DecodeAndValidate(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		order, err := action(r.Context(), actor, id, req.Reason)
		h.respondOrder(w, actor, order, err, http.StatusOK)
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.ActorFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	projectID, err := httpx.QueryInt64(r, "project_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	orders, pagination, err := h.service.List(r.Context(), actor, ListFilters{
		Status:    workflow.Status(q.Get("status")),
		OrderType: OrderType(q.Get("type")),
		ProjectID: projectID,
		Search:    q.Get("search"),
		SortBy:    q.Get("sort"),
		SortDir:   q.Get("dir"),
		Page:      page,
		PerPage:   perPage,
	})
	if err != nil {
		h.fail(w, "list orders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Orders: orders, Pagination: pagination})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.ActorFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req draftRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.CreateDraft(r.Context(), actor, req.input())
	h.respondOrder(w, actor, order, err, http.StatusCreated)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	order, err := h.service.GetByID(r.Context(), actor, id)
	h.respondOrder(w, actor, order, err, http.StatusOK)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req draftRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.UpdateDraft(r.Context(), actor, id, req.input())
	h.respondOrder(w, actor, order, err, http.StatusOK)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteDraft(r.Context(), actor, id); err != nil {
		h.fail(w, "delete draft", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.GetWorkflowHistory(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "order history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) stockCheck(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	check, err := h.service.CheckStock(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "stock check", err)
		return
	}
	httpx.JSON(w, http.StatusOK, check)
}

func (h *Handler) assignSiteManager(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req siteManagerRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.AssignSiteManager(r.Context(), actor, id, req.UserID)
	h.respondOrder(w, actor, order, err, http.StatusOK)
}

func (h *Handler) approveManagement(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req managementApprovalRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeAndValidate(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	order, err := h.service.ApproveByManagement(r.Context(), actor, id, req.SupplierCompanyID, req.Note)
	h.respondOrder(w, actor, order, err, http.StatusOK)
}

func (h *Handler) deliver(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req deliveryRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeAndValidate(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	order, err := h.service.MarkAsDelivered(r.Context(), actor, id, DeliveryInput{Note: req.Note, ReceiveIntoStock: req.ReceiveIntoStock})
	h.respondOrder(w, actor, order, err, http.StatusOK)
}

func (h *Handler) respondOrder(w http.ResponseWriter, actor shared.Actor, order PurchaseOrder, err error, status int) {
	if err != nil {
		h.fail(w, "order", err)
		return
	}
	actions := h.service.Permitted(order, actor)
	if actions == nil {
		actions = []workflow.Action{}
	}
	httpx.JSON(w, status, orderResponse{PurchaseOrder: order, Total: order.Total(), Actions: actions})
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
