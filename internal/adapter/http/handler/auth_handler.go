package handler

import (
	"net/http"

	"github.com/iho/custody/internal/adapter/http/dto"
	"github.com/iho/custody/internal/domain"
)

// TokenIssuer signs bearer tokens.
type TokenIssuer interface {
	Generate(p domain.Principal) (string, error)
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	issuer TokenIssuer
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(issuer TokenIssuer) *AuthHandler {
	return &AuthHandler{issuer: issuer}
}

// IssueToken lets an admin mint a token for another principal.
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req dto.IssueTokenRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	principal, err := req.ToPrincipal()
	if err != nil {
		writeError(w, mapDomainError(err), "invalid principal", err.Error())
		return
	}

	token, err := h.issuer.Generate(principal)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, dto.TokenResponse{Token: token, Principal: principal})
}

// GetCurrentPrincipal returns the authenticated caller.
func (h *AuthHandler) GetCurrentPrincipal(w http.ResponseWriter, r *http.Request) {
	p, ok := domain.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	writeJSON(w, http.StatusOK, p)
}
