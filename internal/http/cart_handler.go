package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/fjod/go_cart/cart-api/internal/domain"
	"github.com/fjod/go_cart/cart-api/internal/log"
)

const (
	msgCartAlreadyEmpty = "Cart already empty"
	msgCartCleared      = "Cart cleared successfully"
)

// CartEngine is the cart behaviour the handlers expose.
type CartEngine interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	AddToCart(ctx context.Context, userID, productID string, quantity int, credential string) (*domain.Cart, error)
	UpdateCartItem(ctx context.Context, userID, productID string, quantity int, credential string) (*domain.Cart, error)
	RemoveFromCart(ctx context.Context, userID, productID string) (*domain.Cart, error)
	ClearCart(ctx context.Context, userID string) (bool, error)
	GetCartSummary(ctx context.Context, userID string) (domain.Summary, error)
}

type CartHandler struct {
	engine   CartEngine
	validate *validator.Validate
}

func NewCartHandler(engine CartEngine) *CartHandler {
	return &CartHandler{
		engine:   engine,
		validate: newValidator(),
	}
}

// Routes registers the cart endpoints relative to the router's mount point.
func (h *CartHandler) Routes(r chi.Router) {
	r.Get("/", h.GetCart)
	r.Post("/add", h.AddToCart)
	r.Patch("/update", h.UpdateCartItem)
	r.Delete("/remove/{productId}", h.RemoveFromCart)
	r.Delete("/clear", h.ClearCart)
	r.Get("/summary", h.GetCartSummary)
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	cart, err := h.engine.GetCart(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, cartResponse{Message: "Cart retrieved successfully", Cart: cart})
}

func (h *CartHandler) AddToCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	req, ok := h.decodeItem(w, r)
	if !ok {
		return
	}

	cart, err := h.engine.AddToCart(r.Context(), userID, req.ProductID, req.Quantity, CredentialFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, cartResponse{Message: "Item added to cart successfully", Cart: cart})
}

func (h *CartHandler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	req, ok := h.decodeItem(w, r)
	if !ok {
		return
	}

	cart, err := h.engine.UpdateCartItem(r.Context(), userID, req.ProductID, req.Quantity, CredentialFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, cartResponse{Message: "Cart item updated successfully", Cart: cart})
}

func (h *CartHandler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	param := productParam{ProductID: chi.URLParam(r, "productId")}
	if err := h.validate.StructCtx(r.Context(), param); err != nil {
		respondError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	cart, err := h.engine.RemoveFromCart(r.Context(), userID, param.ProductID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, cartResponse{Message: "Item removed from cart successfully", Cart: cart})
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	cleared, err := h.engine.ClearCart(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	message := msgCartAlreadyEmpty
	if cleared {
		message = msgCartCleared
	}
	respondJSON(w, r, http.StatusOK, messageResponse{Message: message})
}

func (h *CartHandler) GetCartSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	summary, err := h.engine.GetCartSummary(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, summaryResponse{Message: "Cart summary retrieved successfully", Summary: summary})
}

func (h *CartHandler) decodeItem(w http.ResponseWriter, r *http.Request) (itemRequest, bool) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		zerolog.Ctx(r.Context()).Info().Err(err).Msg("failed decoding request body")
		respondError(w, r, http.StatusBadRequest, msgInvalidBody)
		return req, false
	}
	if err := h.validate.StructCtx(r.Context(), req); err != nil {
		respondError(w, r, http.StatusBadRequest, validationMessage(err))
		return req, false
	}

	zerolog.Ctx(r.Context()).Debug().
		Str(log.KeyProductID, req.ProductID).
		Int(log.KeyQuantity, req.Quantity).
		Msg("decoded item request")
	return req, true
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, r, http.StatusUnauthorized, msgUnauthenticated)
		return "", false
	}
	return userID, true
}
