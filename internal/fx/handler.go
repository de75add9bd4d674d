package fx

import (
	"fmt"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-books/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-books/internal/shared"
)

var currencyPattern = regexp.MustCompile(`^[A-Za-z]{3}$`)

// Handler exposes rate lookups.
type Handler struct {
	resolver *Resolver
}

// NewHandler builds Handler.
func NewHandler(resolver *Resolver) *Handler {
	return &Handler{resolver: resolver}
}

// MountRoutes registers fx routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{currency}", h.quote)
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	currency := chi.URLParam(r, "currency")
	if !currencyPattern.MatchString(currency) {
		httpx.RespondError(w, fmt.Errorf("%w: currency must be a three letter code", shared.ErrValidation))
		return
	}
	httpx.JSON(w, http.StatusOK, h.resolver.Quote(r.Context(), currency))
}
