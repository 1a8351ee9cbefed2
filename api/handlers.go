/*
handlers.go - HTTP API handlers for the bookstore

PURPOSE:
  Exposes registration, the catalog and the two-phase purchase and top-up
  workflows via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the domain services.

ENDPOINTS:
  Auth (public):
    POST   /api/register              Create account
    POST   /api/login                 Issue bearer token

  Account:
    GET    /api/me                    Current user and balance
    GET    /api/me/ledger             Balance history
    GET    /api/me/purchases          Purchase records

  Catalog:
    GET    /api/books                 Books visible to the user
    GET    /api/books/{id}            Book detail
    GET    /api/download/{id}         PDF of a purchased book

  Two-phase transactions:
    POST   /api/purchase              Request: issue challenge
    PUT    /api/purchase              Confirm: verify code, commit
    POST   /api/topup                 Request: issue challenge
    PUT    /api/topup                 Confirm: verify code, credit
    GET    /api/challenges/{id}       State of a pending transaction

REQUEST FLOW:
  1. Parse HTTP request
  2. Take the user from the auth context
  3. Call the domain service
  4. Serialize response
  5. Map errors through commerce.Kind

ERROR HANDLING:
  Errors are returned as {"error", "code", "details"}:
  - 400: Validation and business rule failures
  - 401: Missing or invalid token
  - 403: Access policy denied
  - 404: Resource not found
  - 409: Concurrency conflict (retry)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/bookstore-engine/auth"
	"github.com/warp/bookstore-engine/catalog"
	"github.com/warp/bookstore-engine/commerce"
	"github.com/warp/bookstore-engine/factory"
	"github.com/warp/bookstore-engine/purchase"
	"github.com/warp/bookstore-engine/topup"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter is implemented by stores that can drop all data (dev mode only).
type Resetter interface {
	Reset(ctx context.Context) error
}

// Deps are the services the handlers delegate to.
type Deps struct {
	Store      commerce.Store
	Auth       *auth.Service
	Catalog    *catalog.Service
	Purchases  *purchase.Service
	TopUps     *topup.Service
	Challenges *commerce.Challenges
	Seeds      *factory.SeedFactory
	Logger     *zap.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	store      commerce.Store
	auth       *auth.Service
	catalog    *catalog.Service
	purchases  *purchase.Service
	topups     *topup.Service
	challenges *commerce.Challenges
	seeds      *factory.SeedFactory
	log        *zap.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler from its dependencies.
func NewHandler(d Deps) *Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	seeds := d.Seeds
	if seeds == nil {
		seeds = factory.NewSeedFactory(nil)
	}
	return &Handler{
		store:      d.Store,
		auth:       d.Auth,
		catalog:    d.Catalog,
		purchases:  d.Purchases,
		topups:     d.TopUps,
		challenges: d.Challenges,
		seeds:      seeds,
		log:        log.Named("api"),
	}
}

// Tokens returns the verifier used by the Authenticated middleware.
func (h *Handler) Tokens() *auth.Tokens { return h.auth.Tokens() }

func zapRequest(r *http.Request, err error) []zap.Field {
	return []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	}
}

// currentUser returns the authenticated user ID or writes 401.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (commerce.UserID, bool) {
	id, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated", commerce.ErrUnauthenticated)
		return "", false
	}
	return id, true
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Register creates an account.
// POST /api/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	user, err := h.auth.Register(r.Context(), auth.Registration{Username: req.Username, Password: req.Password})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(*user))
}

// Login issues a bearer token.
// POST /api/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	session, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     session.Token,
		TokenType: "Bearer",
		ExpiresAt: formatTime(session.ExpiresAt),
		User:      toUserDTO(session.User),
	})
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// GetMe returns the current user.
// GET /api/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*user))
}

// GetLedger returns the current user's balance history.
// GET /api/me/ledger
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	entries, err := h.store.Entries(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toLedgerEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPurchases returns the current user's purchases.
// GET /api/me/purchases
func (h *Handler) GetPurchases(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	records, err := h.store.ListPurchases(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]PurchaseDTO, len(records))
	for i, p := range records {
		dtos[i] = toPurchaseDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListBooks returns the books visible to the user.
// GET /api/books?category=...
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	books, err := h.catalog.List(r.Context(), userID, catalog.Filter{Category: r.URL.Query().Get("category")})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]BookDTO, len(books))
	for i, b := range books {
		dtos[i] = toBookDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBook returns one book.
// GET /api/books/{id}
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	book, err := h.catalog.Get(r.Context(), userID, commerce.BookID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(*book))
}

// DownloadBook streams the PDF of a purchased book.
// GET /api/download/{id}
func (h *Handler) DownloadBook(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	rc, book, err := h.catalog.Download(r.Context(), userID, commerce.BookID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(book.ContentRef)))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.log.Warn("download interrupted", zapRequest(r, err)...)
	}
}

// =============================================================================
// PURCHASE HANDLERS
// =============================================================================

// RequestPurchase validates a purchase and issues its challenge.
// POST /api/purchase
func (h *Handler) RequestPurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req PurchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if req.Book == "" {
		h.writeDomainError(w, r, &commerce.ValidationError{Field: "book", Message: "is required"})
		return
	}

	pending, err := h.purchases.Request(r.Context(), purchase.Request{
		UserID:   userID,
		BookID:   commerce.BookID(req.Book),
		Quantity: req.quantity(),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ChallengeResponse{
		ChallengeID: string(pending.ChallengeID),
		Message:     pending.Prompt,
		Book:        string(pending.BookID),
		Quantity:    pending.Quantity,
		Amount:      pending.Total.Float64(),
		ExpiresAt:   optionalTime(pending.ExpiresAt),
	})
}

// ConfirmPurchase verifies the code and commits the purchase.
// PUT /api/purchase
func (h *Handler) ConfirmPurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req PurchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if req.ChallengeID == "" {
		h.writeDomainError(w, r, &commerce.ValidationError{Field: "challenge_id", Message: "is required"})
		return
	}

	receipt, err := h.purchases.Confirm(r.Context(), purchase.Confirmation{
		UserID:      userID,
		ChallengeID: commerce.ChallengeID(req.ChallengeID),
		BookID:      commerce.BookID(req.Book),
		Quantity:    req.quantity(),
		Code:        req.OTPCode,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, PurchaseResponse{
		Purchase:       toPurchaseDTO(receipt.Purchase),
		Balance:        receipt.Entry.BalanceAfter.Float64(),
		RemainingStock: receipt.Book.Stock,
	})
}

// =============================================================================
// TOP-UP HANDLERS
// =============================================================================

// RequestTopUp validates the amount and issues a challenge.
// POST /api/topup
func (h *Handler) RequestTopUp(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req TopUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	pending, err := h.topups.Request(r.Context(), topup.Request{
		UserID: userID,
		Amount: commerce.Money{Value: req.Amount},
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ChallengeResponse{
		ChallengeID: string(pending.ChallengeID),
		Message:     pending.Prompt,
		Amount:      pending.Amount.Float64(),
		ExpiresAt:   optionalTime(pending.ExpiresAt),
	})
}

// ConfirmTopUp verifies the code and credits the balance.
// PUT /api/topup
func (h *Handler) ConfirmTopUp(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req TopUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if req.ChallengeID == "" {
		h.writeDomainError(w, r, &commerce.ValidationError{Field: "challenge_id", Message: "is required"})
		return
	}

	receipt, err := h.topups.Confirm(r.Context(), topup.Confirmation{
		UserID:      userID,
		ChallengeID: commerce.ChallengeID(req.ChallengeID),
		Amount:      commerce.Money{Value: req.Amount},
		Code:        req.OTPCode,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, TopUpResponse{
		Message: fmt.Sprintf("Balance topped up by %s.", receipt.Entry.Delta),
		Balance: receipt.Balance.Float64(),
		Entry:   toLedgerEntryDTO(receipt.Entry),
	})
}

// GetChallenge returns the state of a guarded transaction.
// GET /api/challenges/{id}
func (h *Handler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	ch, err := h.challenges.Get(r.Context(), userID, commerce.ChallengeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChallengeDTO(*ch, h.challenges.Now()))
}
