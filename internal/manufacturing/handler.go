package manufacturing

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-books/internal/platform/httpx"
)

// Handler exposes manufacturing endpoints.
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

// MountRoutes registers manufacturing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/formulas/{id}/availability", h.availability)
	r.Get("/formulas/{id}/cost", h.cost)
	r.Post("/processes", h.createProcess)
	r.Get("/processes/{id}", h.showProcess)
	r.Get("/processes/{id}/cost", h.processCost)
	r.Post("/processes/{id}/start", h.startProcess)
	r.Post("/processes/{id}/complete", h.completeProcess)
	r.Post("/processes/{id}/cancel", h.cancelProcess)
	r.Post("/processes/{id}/consumptions", h.recordConsumption)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.CheckAvailability(r.Context(), id)
	if err != nil {
		h.fail(w, "check availability failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) cost(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	breakdown, err := h.service.CalculateCost(r.Context(), id)
	if err != nil {
		h.fail(w, "calculate cost failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, breakdown)
}

func (h *Handler) createProcess(w http.ResponseWriter, r *http.Request) {
	var input CreateProcessInput
	if err := httpx.DecodeJSON(w, r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.ActorID = httpx.ActorID(r)
	process, err := h.service.CreateProcess(r.Context(), input)
	if err != nil {
		h.fail(w, "create process failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, process)
}

func (h *Handler) showProcess(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	process, err := h.service.GetProcess(r.Context(), id)
	if err != nil {
		h.fail(w, "get process failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, process)
}

func (h *Handler) processCost(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	breakdown, err := h.service.ProcessCost(r.Context(), id)
	if err != nil {
		h.fail(w, "process cost failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, breakdown)
}

func (h *Handler) startProcess(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	process, err := h.service.StartProcess(r.Context(), id, httpx.ActorID(r))
	if err != nil {
		h.fail(w, "start process failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, process)
}

func (h *Handler) completeProcess(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input CompleteProcessInput
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(w, r, &input); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	input.ProcessID = id
	input.ActorID = httpx.ActorID(r)
	process, err := h.service.CompleteProcess(r.Context(), input)
	if err != nil {
		h.fail(w, "complete process failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, process)
}

func (h *Handler) cancelProcess(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	process, err := h.service.CancelProcess(r.Context(), id, httpx.ActorID(r))
	if err != nil {
		h.fail(w, "cancel process failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, process)
}

func (h *Handler) recordConsumption(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input ConsumptionInput
	if err := httpx.DecodeJSON(w, r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.ProcessID = id
	input.ActorID = httpx.ActorID(r)
	consumption, err := h.service.RecordConsumption(r.Context(), input)
	if err != nil {
		h.fail(w, "record consumption failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, consumption)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if httpx.StatusOf(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
