package documents

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-books/internal/numbering"
	"github.com/odyssey-erp/odyssey-books/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-books/internal/shared"
)

// IdempotencyHeader carries the client's replay key for create requests.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes the document JSON API.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.show)
		r.Delete("/", h.delete)
		r.Post("/restore", h.restore)
		r.Post("/transition", h.transition)
		r.Post("/payments", h.recordPayment)
		r.Put("/adjustments", h.updateAdjustments)
		r.Put("/items", h.replaceItems)
		r.Post("/items", h.addItem)
		r.Put("/items/{itemID}", h.updateItem)
		r.Delete("/items/{itemID}", h.deleteItem)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	companyID, err := strconv.ParseInt(q.Get("company_id"), 10, 64)
	if err != nil || companyID <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: company_id required", shared.ErrValidation))
		return
	}
	filter := ListFilter{CompanyID: companyID, IncludeDeleted: q.Get("include_deleted") == "true"}
	if raw := q.Get("type"); raw != "" {
		docType, err := numbering.ParseDocumentType(raw)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: %w", shared.ErrValidation, err))
			return
		}
		filter.Type = docType
	}
	if raw := q.Get("status"); raw != "" {
		status, err := parseStatus(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.Status = status
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	result, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list documents failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if key := r.Header.Get(IdempotencyHeader); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}
	doc, err := h.service.Create(r.Context(), req, httpx.ActorID(r))
	if err != nil {
		h.fail(w, "create document failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get document failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id, httpx.ActorID(r)); err != nil {
		h.fail(w, "delete document failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.Restore(r.Context(), id, httpx.ActorID(r))
	if err != nil {
		h.fail(w, "restore document failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in TransitionInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.Transition(r.Context(), id, in.To, httpx.ActorID(r))
	if err != nil {
		h.fail(w, "transition document failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in PaymentInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.RecordPayment(r.Context(), id, in, httpx.ActorID(r))
	if err != nil {
		h.fail(w, "record payment failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) updateAdjustments(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in AdjustmentsInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.UpdateAdjustments(r.Context(), id, in, httpx.ActorID(r))
	if err != nil {
		h.fail(w, "update adjustments failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) replaceItems(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var items []ItemInput
	if err := httpx.DecodeJSON(w, r, &items); err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.ReplaceItems(r.Context(), id, items, httpx.ActorID(r))
	if err != nil {
		h.fail(w, "replace items failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in ItemInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.AddItem(r.Context(), id, in, httpx.ActorID(r))
	if err != nil {
		h.fail(w, "add item failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemID, err := httpx.IDParam(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in ItemInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.UpdateItem(r.Context(), id, itemID, in, httpx.ActorID(r))
	if err != nil {
		h.fail(w, "update item failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemID, err := httpx.IDParam(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.DeleteItem(r.Context(), id, itemID, httpx.ActorID(r))
	if err != nil {
		h.fail(w, "delete item failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if httpx.StatusOf(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
