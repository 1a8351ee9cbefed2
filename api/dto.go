/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Requests accept amounts as JSON numbers or strings and decode them into
  decimals. Responses carry money as JSON numbers.

TYPES:
  Auth:       CredentialsRequest, LoginResponse, UserDTO
  Catalog:    BookDTO
  Purchase:   PurchaseRequest, PurchaseDTO, ChallengeResponse
  Top-up:     TopUpRequest, TopUpResponse
  History:    LedgerEntryDTO, ChallengeDTO
  Scenarios:  ScenarioDTO, LoadScenarioRequest

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/bookstore-engine/commerce"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserDTO represents an account in API responses. The password hash is never sent.
type UserDTO struct {
	ID               string  `json:"id"`
	Username         string  `json:"username"`
	Balance          float64 `json:"balance"`
	Class            string  `json:"class"`
	RestrictedAccess bool    `json:"restricted_access"`
	CreatedAt        string  `json:"created_at,omitempty"`
}

// LoginResponse carries the bearer token.
type LoginResponse struct {
	Token     string  `json:"token"`
	TokenType string  `json:"token_type"`
	ExpiresAt string  `json:"expires_at"`
	User      UserDTO `json:"user"`
}

// BookDTO represents a catalog item.
type BookDTO struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Author       string  `json:"author"`
	Category     string  `json:"category,omitempty"`
	Price        float64 `json:"price"`
	Stock        int     `json:"stock"`
	Visibility   string  `json:"visibility"`
	Downloadable bool    `json:"downloadable"`
}

// PurchaseRequest is the body of both purchase phases. ChallengeID and
// OTPCode are only read by the confirm phase. Quantity defaults to 1.
type PurchaseRequest struct {
	ChallengeID string `json:"challenge_id,omitempty"`
	Book        string `json:"book"`
	Quantity    *int   `json:"quantity,omitempty"`
	OTPCode     string `json:"otp_code,omitempty"`
}

// quantity returns the requested quantity, 1 when omitted.
func (r PurchaseRequest) quantity() int {
	if r.Quantity == nil {
		return 1
	}
	return *r.Quantity
}

// TopUpRequest is the body of both top-up phases.
type TopUpRequest struct {
	ChallengeID string          `json:"challenge_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	OTPCode     string          `json:"otp_code,omitempty"`
}

// ChallengeResponse is returned by the request phase of a purchase or top-up.
type ChallengeResponse struct {
	ChallengeID string  `json:"challenge_id"`
	Message     string  `json:"message"`
	Book        string  `json:"book,omitempty"`
	Quantity    int     `json:"quantity,omitempty"`
	Amount      float64 `json:"amount"`
	ExpiresAt   *string `json:"expires_at,omitempty"`
}

// PurchaseDTO represents a purchase record.
type PurchaseDTO struct {
	ID          string  `json:"id"`
	Book        string  `json:"book"`
	Quantity    int     `json:"quantity"`
	Total       float64 `json:"total"`
	ChallengeID string  `json:"challenge_id"`
	PurchasedAt string  `json:"purchased_at"`
}

// PurchaseResponse is returned by a committed purchase.
type PurchaseResponse struct {
	Purchase       PurchaseDTO `json:"purchase"`
	Balance        float64     `json:"balance"`
	RemainingStock int         `json:"remaining_stock"`
}

// TopUpResponse is returned by a committed top-up.
type TopUpResponse struct {
	Message string         `json:"message"`
	Balance float64        `json:"balance"`
	Entry   LedgerEntryDTO `json:"entry"`
}

// LedgerEntryDTO represents one balance change.
type LedgerEntryDTO struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Delta        float64 `json:"delta"`
	BalanceAfter float64 `json:"balance_after"`
	ReferenceID  string  `json:"reference_id,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// ChallengeDTO represents the state of a guarded transaction.
type ChallengeDTO struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	State     string  `json:"state"`
	Book      string  `json:"book,omitempty"`
	Quantity  int     `json:"quantity,omitempty"`
	Amount    float64 `json:"amount"`
	Reason    string  `json:"reason,omitempty"`
	CreatedAt string  `json:"created_at"`
	ExpiresAt *string `json:"expires_at,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func optionalTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := formatTime(t)
	return &s
}

func toUserDTO(u commerce.User) UserDTO {
	return UserDTO{
		ID:               string(u.ID),
		Username:         u.Username,
		Balance:          u.Balance.Float64(),
		Class:            string(u.Class),
		RestrictedAccess: u.RestrictedAccess,
		CreatedAt:        formatTime(u.CreatedAt),
	}
}

func toBookDTO(b commerce.Book) BookDTO {
	return BookDTO{
		ID:           string(b.ID),
		Title:        b.Title,
		Author:       b.Author,
		Category:     b.Category,
		Price:        b.Price.Float64(),
		Stock:        b.Stock,
		Visibility:   string(b.Visibility),
		Downloadable: b.ContentRef != "",
	}
}

func toPurchaseDTO(p commerce.PurchaseRecord) PurchaseDTO {
	return PurchaseDTO{
		ID:          string(p.ID),
		Book:        string(p.BookID),
		Quantity:    p.Quantity,
		Total:       p.Total.Float64(),
		ChallengeID: string(p.ChallengeID),
		PurchasedAt: formatTime(p.PurchasedAt),
	}
}

func toLedgerEntryDTO(e commerce.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:           string(e.ID),
		Type:         string(e.Type),
		Delta:        e.Delta.Float64(),
		BalanceAfter: e.BalanceAfter.Float64(),
		ReferenceID:  e.ReferenceID,
		Reason:       e.Reason,
		CreatedAt:    formatTime(e.CreatedAt),
	}
}

func toChallengeDTO(c commerce.Challenge, now time.Time) ChallengeDTO {
	return ChallengeDTO{
		ID:        string(c.ID),
		Kind:      string(c.Kind),
		State:     string(c.State(now)),
		Book:      string(c.BookID),
		Quantity:  c.Quantity,
		Amount:    c.Amount.Float64(),
		Reason:    c.Reason,
		CreatedAt: formatTime(c.CreatedAt),
		ExpiresAt: optionalTime(c.ExpiresAt),
	}
}
