package cart

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-checkout/internal/common"
	"github.com/noah-isme/storefront-checkout/internal/discount"
	"github.com/noah-isme/storefront-checkout/internal/pricing"
	"github.com/noah-isme/storefront-checkout/internal/rental"
)

// CatalogSource resolves catalog entries for products and variants.
type CatalogSource interface {
	CatalogEntry(ctx context.Context, productID, variantID string) (pricing.CatalogEntry, error)
}

// Handler wires the cart store to HTTP.
type Handler struct {
	Carts         *Manager
	Catalog       CatalogSource
	Subscriptions pricing.SubscriptionLookup
	Quoter        *Quoter
	Now           func() time.Time
	Logger        zerolog.Logger
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

type cartView struct {
	Items    []LineItem    `json:"items"`
	Subtotal pricing.Money `json:"subtotal"`
}

func view(s *Store) cartView {
	items := s.Items()
	if items == nil {
		items = []LineItem{}
	}
	return cartView{Items: items, Subtotal: s.Subtotal()}
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) (*Store, string, bool) {
	customerID, ok := common.CustomerID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "customer identity missing", nil)
		return nil, "", false
	}
	s, err := h.Carts.Open(r.Context(), customerID)
	if err != nil {
		h.writeError(w, err)
		return nil, "", false
	}
	return s, customerID, true
}

// Get returns the cart lines and subtotal.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	s, _, ok := h.open(w, r)
	if !ok {
		return
	}
	common.Data(w, http.StatusOK, view(s))
}

type addItemRequest struct {
	ProductID   string `json:"productId"`
	VariantID   string `json:"variantId"`
	Quantity    int    `json:"quantity"`
	RentalStart string `json:"rentalStart"`
	RentalEnd   string `json:"rentalEnd"`
}

// AddItem prices a catalog entry for the customer and merges it into the cart.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "productId is required", nil)
		return
	}
	if req.Quantity < 1 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "quantity must be positive", nil)
		return
	}
	s, customerID, ok := h.open(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	entry, err := h.Catalog.CatalogEntry(ctx, req.ProductID, strings.TrimSpace(req.VariantID))
	if err != nil {
		h.writeError(w, err)
		return
	}
	pass, err := pricing.NewPass(ctx, h.Subscriptions, customerID, h.now())
	if err != nil {
		h.writeError(w, err)
		return
	}
	line, err := BuildLine(entry, pass, req.Quantity, rental.Range{Start: req.RentalStart, End: req.RentalEnd})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := s.AddOrMerge(ctx, line); err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view(s))
}

type setQuantityRequest struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

// UpdateItem sets the quantity of a line; zero or less removes it.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req setQuantityRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	s, _, ok := h.open(w, r)
	if !ok {
		return
	}
	id := Identity{ProductID: strings.TrimSpace(req.ProductID), VariantID: strings.TrimSpace(req.VariantID)}
	if err := s.SetQuantity(r.Context(), id, req.Quantity); err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view(s))
}

// RemoveItem deletes a line identified by query parameters.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := Identity{ProductID: strings.TrimSpace(q.Get("productId")), VariantID: strings.TrimSpace(q.Get("variantId"))}
	if id.ProductID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "productId is required", nil)
		return
	}
	s, _, ok := h.open(w, r)
	if !ok {
		return
	}
	if err := s.Remove(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view(s))
}

// Clear empties the cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	s, _, ok := h.open(w, r)
	if !ok {
		return
	}
	if err := s.Clear(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type quoteRequest struct {
	CouponCode   string        `json:"couponCode"`
	WalletAmount pricing.Money `json:"walletAmount"`
}

// Quote previews the discount snapshot for the current cart.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	s, customerID, ok := h.open(w, r)
	if !ok {
		return
	}
	snap, err := h.Quoter.Quote(r.Context(), customerID, s.Subtotal(), QuoteInput{CouponCode: req.CouponCode, WalletAmount: req.WalletAmount})
	if err != nil {
		if errors.Is(err, discount.ErrCouponNotEligible) || errors.Is(err, discount.ErrCouponNotFound) {
			appErr := ErrorToApp(err)
			common.JSON(w, http.StatusOK, map[string]any{
				"data":    snap,
				"warning": common.ErrorBody{Code: appErr.Code, Message: appErr.Message},
			})
			return
		}
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, snap)
}

// ErrorToApp maps cart, pricing and discount errors to API errors.
func ErrorToApp(err error) *common.AppError {
	var appErr *common.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, ErrInvalidInput):
		return common.NewAppError("BAD_REQUEST", err.Error(), http.StatusBadRequest, err)
	case errors.Is(err, ErrItemNotFound):
		return common.NewAppError("NOT_FOUND", "cart item not found", http.StatusNotFound, err)
	case errors.Is(err, ErrInvariant):
		return common.NewAppError("CART_INVARIANT", err.Error(), http.StatusConflict, err)
	case errors.Is(err, rental.ErrInvalidRange):
		return common.NewAppError("INVALID_RANGE", err.Error(), http.StatusUnprocessableEntity, err)
	case errors.Is(err, pricing.ErrUnknownProduct):
		return common.NewAppError("PRODUCT_NOT_FOUND", "product not found", http.StatusNotFound, err)
	case errors.Is(err, pricing.ErrInvalidPrice):
		return common.NewAppError("INVALID_PRICE", "catalog price is invalid", http.StatusInternalServerError, err)
	case errors.Is(err, discount.ErrCouponNotFound):
		return common.NewAppError("COUPON_NOT_FOUND", "coupon not found", http.StatusNotFound, err)
	case errors.Is(err, discount.ErrCouponNotEligible):
		return common.NewAppError("COUPON_NOT_ELIGIBLE", err.Error(), http.StatusUnprocessableEntity, err)
	default:
		return nil
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if appErr := ErrorToApp(err); appErr != nil {
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			h.Logger.Error().Err(err).Str("code", appErr.Code).Msg("cart request failed")
		}
		common.WriteError(w, appErr)
		return
	}
	h.Logger.Error().Err(err).Msg("cart request failed")
	common.WriteError(w, err)
}
