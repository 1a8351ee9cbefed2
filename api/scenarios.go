/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for demos. Each scenario creates users and books through the seed
	factory so every code path of the purchase workflow can be tried by hand.

AVAILABLE SCENARIOS:

	bookshop:        Public catalog, one funded reader (the 50.00 / 20.00 x 2 walk-through)
	restricted:      Restricted books, privileged vs restricted readers, download grant
	low-stock:       One copy left and two funded readers racing for it

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Parse the scenario's seed JSON via factory
 3. Apply users and books to the store

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "bookshop"}

	Every scenario user's password is "password123".

NOTE:

	Scenarios reset the store. Routes are mounted in dev mode only.

SEE ALSO:
  - factory/seed.go: Seed JSON definitions
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/bookstore-engine/commerce"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "bookshop",
		Name:        "Bookshop",
		Description: "Public catalog and a reader with 50.00 to spend",
	},
	{
		ID:          "restricted",
		Name:        "Restricted Catalog",
		Description: "Restricted books visible to privileged readers only; download needs a grant",
	},
	{
		ID:          "low-stock",
		Name:        "Low Stock",
		Description: "One copy left and two funded readers",
	},
}

var scenarioSeeds = map[string]string{
	"bookshop": `{
		"users": [
			{"id": "alice", "username": "alice", "password": "password123", "balance": "50.00"}
		],
		"books": [
			{"id": "go-book", "title": "The Go Programming Language", "author": "Donovan & Kernighan",
			 "category": "programming", "price": "20.00", "stock": 5, "content": "go-book.pdf"},
			{"id": "sicp", "title": "Structure and Interpretation of Computer Programs", "author": "Abelson & Sussman",
			 "category": "programming", "price": "35.50", "stock": 2, "content": "sicp.pdf"},
			{"id": "dune", "title": "Dune", "author": "Frank Herbert",
			 "category": "fiction", "price": "9.99", "stock": 10}
		]
	}`,
	"restricted": `{
		"users": [
			{"id": "pat", "username": "pat", "password": "password123", "balance": "100.00",
			 "class": "privileged", "restricted_access": true},
			{"id": "quinn", "username": "quinn", "password": "password123", "balance": "100.00",
			 "class": "privileged"},
			{"id": "robin", "username": "robin", "password": "password123", "balance": "100.00"}
		],
		"books": [
			{"id": "archive", "title": "The Archive", "author": "Anonymous",
			 "category": "history", "price": "40.00", "stock": 3, "visibility": "restricted",
			 "content": "archive.pdf"},
			{"id": "dune", "title": "Dune", "author": "Frank Herbert",
			 "category": "fiction", "price": "9.99", "stock": 10, "content": "dune.pdf"}
		]
	}`,
	"low-stock": `{
		"users": [
			{"id": "sam", "username": "sam", "password": "password123", "balance": "60.00"},
			{"id": "kim", "username": "kim", "password": "password123", "balance": "60.00"}
		],
		"books": [
			{"id": "last-copy", "title": "The Last Copy", "author": "R. Rare",
			 "category": "fiction", "price": "25.00", "stock": 1}
		]
	}`,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	seedJSON, ok := scenarioSeeds[id]
	if !ok {
		return &commerce.ValidationError{Field: "scenario_id", Message: fmt.Sprintf("unknown scenario %q", id)}
	}

	seed, err := h.seeds.ParseSeed(seedJSON)
	if err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}
	if err := h.reset(ctx); err != nil {
		return err
	}
	if err := seed.Apply(ctx, h.store); err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()

	h.log.Info("scenario loaded", zap.String("scenario", id),
		zap.Int("users", len(seed.Users)), zap.Int("books", len(seed.Books)))
	return nil
}

func (h *Handler) reset(ctx context.Context) error {
	resetter, ok := h.store.(Resetter)
	if !ok {
		return errors.New("store does not support reset")
	}
	if err := resetter.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}
