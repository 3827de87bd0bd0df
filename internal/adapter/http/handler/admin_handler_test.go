package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iho/custody/internal/adapter/http/dto"
	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/infrastructure/auth"
	"github.com/iho/custody/internal/usecase"
)

type tradableStub map[domain.Address]bool

func (s tradableStub) SetTradable(asset domain.Address, tradable bool) { s[asset] = tradable }

func TestAdminHandler_Upgrade(t *testing.T) {
	e := newEnv(t)
	h := NewAdminHandler(e.coordinator, nil)

	tests := []struct {
		name   string
		req    dto.UpgradeRequest
		caller domain.Address
		status int
		writer domain.WriterID
	}{
		{name: "non admin", req: dto.UpgradeRequest{Store: "exchange", Writer: "exchange/v2"}, caller: maker, status: http.StatusForbidden, writer: exchangeV1},
		{name: "unknown store", req: dto.UpgradeRequest{Store: "futures", Writer: "exchange/v2"}, caller: admin, status: http.StatusNotFound, writer: exchangeV1},
		{name: "unknown writer", req: dto.UpgradeRequest{Store: "exchange", Writer: "exchange/v3"}, caller: admin, status: http.StatusBadRequest, writer: exchangeV1},
		{name: "admin", req: dto.UpgradeRequest{Store: "exchange", Writer: "exchange/v2"}, caller: admin, status: http.StatusOK, writer: exchangeV2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Upgrade(rec, request(t, http.MethodPost, "/admin/upgrade", tt.req, domain.Principal{Address: tt.caller, Role: domain.RoleAdmin}))
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if e.exchange.Writer() != tt.writer {
				t.Fatalf("expected writer %s, got %s", tt.writer, e.exchange.Writer())
			}
		})
	}

	rec := httptest.NewRecorder()
	h.Versions(rec, request(t, http.MethodGet, "/admin/versions", nil, domain.Principal{Role: domain.RoleViewer}))
	var versions []usecase.StoreVersion
	if err := json.Unmarshal(rec.Body.Bytes(), &versions); err != nil {
		t.Fatalf("decode versions: %v", err)
	}
	if len(versions) != 2 || versions[1].Store != "exchange" || versions[1].Writer != exchangeV2 {
		t.Fatalf("unexpected versions %+v", versions)
	}
}

func TestAdminHandler_SetAssetStatus(t *testing.T) {
	e := newEnv(t)
	stub := tradableStub{}
	h := NewAdminHandler(e.coordinator, stub)

	rec := httptest.NewRecorder()
	h.SetAssetStatus(rec, request(t, http.MethodPut, "/admin/assets/"+string(asset), dto.AssetStatusRequest{Tradable: false}, domain.Principal{Address: admin, Role: domain.RoleAdmin}, "asset", string(asset)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if tradable, ok := stub[asset]; !ok || tradable {
		t.Fatalf("expected asset to be marked untradable, got %v", stub)
	}

	rec = httptest.NewRecorder()
	NewAdminHandler(e.coordinator, nil).SetAssetStatus(rec, request(t, http.MethodPut, "/admin/assets/x", nil, domain.Principal{}, "asset", string(asset)))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without registry, got %d", rec.Code)
	}
}

type failingIssuer struct{}

func (failingIssuer) Generate(domain.Principal) (string, error) { return "", errors.New("hsm offline") }

func TestAuthHandler(t *testing.T) {
	manager := auth.NewJWTManager("secret", time.Minute)
	h := NewAuthHandler(manager)
	adminCaller := domain.Principal{Address: admin, Role: domain.RoleAdmin}

	rec := httptest.NewRecorder()
	h.IssueToken(rec, request(t, http.MethodPost, "/admin/tokens", dto.IssueTokenRequest{Address: string(maker), Role: "participant"}, adminCaller))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp dto.TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err := manager.Verify(resp.Token)
	if err != nil || claims.Principal() != participant(maker) {
		t.Fatalf("issued token does not verify: %+v %v", claims, err)
	}

	rec = httptest.NewRecorder()
	h.IssueToken(rec, request(t, http.MethodPost, "/admin/tokens", dto.IssueTokenRequest{Address: string(maker), Role: "root"}, adminCaller))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid role, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewAuthHandler(failingIssuer{}).IssueToken(rec, request(t, http.MethodPost, "/admin/tokens", dto.IssueTokenRequest{Address: string(maker), Role: "viewer"}, adminCaller))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.GetCurrentPrincipal(rec, request(t, http.MethodGet, "/me", nil, adminCaller))
	var me domain.Principal
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil || me != adminCaller {
		t.Fatalf("unexpected principal %s", rec.Body.String())
	}
}
