package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/iho/custody/internal/adapter/http/dto"
	"github.com/iho/custody/internal/domain"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// errorStatus maps domain errors to HTTP statuses; the first match wins.
var errorStatus = []struct {
	err    error
	status int
}{
	{domain.ErrMalformedInput, http.StatusBadRequest},
	{domain.ErrInvalidRole, http.StatusBadRequest},
	{domain.ErrUnknownWriter, http.StatusBadRequest},
	{domain.ErrOverflow, http.StatusUnprocessableEntity},
	{domain.ErrUnderflow, http.StatusUnprocessableEntity},
	{domain.ErrWriteAuthority, http.StatusConflict},
	{domain.ErrInvalidToken, http.StatusUnauthorized},
	{domain.ErrExpiredToken, http.StatusUnauthorized},
	{domain.ErrUnauthorized, http.StatusForbidden},
	{domain.ErrUnknownStore, http.StatusNotFound},
}

func mapDomainError(err error) int {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, dto.ErrorResponse{Error: message, Message: details})
}

// writeOutcome reports an engine result. A rejected operation is a
// successful call that changed nothing, so it is a 200 carrying the reason.
func writeOutcome(w http.ResponseWriter, message string, out domain.Outcome, err error, created bool) {
	if err != nil {
		writeError(w, mapDomainError(err), message, err.Error())
		return
	}

	status := http.StatusOK
	if created && out.Applied {
		status = http.StatusCreated
	}
	writeJSON(w, status, out)
}

// decodeBody decodes a JSON request body. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
	}
	return nil
}

// caller is the principal attached by the identity middleware.
func caller(r *http.Request) domain.Principal {
	p, _ := domain.PrincipalFromContext(r.Context())
	return p
}

func idParam(r *http.Request, name string) (uint64, error) {
	return domain.ParseID(chi.URLParam(r, name))
}

func addressParam(r *http.Request, name string) (domain.Address, error) {
	return domain.ParseAddress(chi.URLParam(r, name))
}

// pageQuery reads ?limit= and ?offset=. Missing or non-numeric values fall
// back to the defaults of domain.NewPage.
func pageQuery(r *http.Request) domain.Page {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return domain.NewPage(limit, offset)
}
