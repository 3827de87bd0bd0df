package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/iho/custody/internal/adapter/http/dto"
	"github.com/iho/custody/internal/domain"
)

const approver = domain.Address("0x1000000000000000000000000000000000000006")

func TestEscrowHandler_ApprovalFlow(t *testing.T) {
	e := newEnv(t)
	e.assets.Approval[asset] = true
	e.assets.Approvers[asset] = approver
	h := NewEscrowHandler(e.escrows)

	rec := httptest.NewRecorder()
	h.Deposit(rec, request(t, http.MethodPost, "/escrow/deposits", dto.DepositRequest{From: string(maker), Amount: "50"}, assetCaller()))
	if !decodeOutcome(t, rec).Applied {
		t.Fatalf("deposit: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.Create(rec, request(t, http.MethodPost, "/escrow/escrows", dto.CreateEscrowRequest{
		Asset: string(asset), Recipient: string(recipient), Agent: string(agent), Amount: "50", ApplicationData: "kyc",
	}, participant(maker)))
	if rec.Code != http.StatusCreated || decodeOutcome(t, rec).ID != 1 {
		t.Fatalf("create escrow: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.Finish(rec, request(t, http.MethodPost, "/escrow/escrows/1/finish", nil, participant(agent), "id", "1"))
	if !decodeOutcome(t, rec).Applied {
		t.Fatalf("finish: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.Approve(rec, request(t, http.MethodPost, "/escrow/escrows/1/approve", dto.ApproveTransferRequest{ApprovalData: "ok"}, participant(approver), "id", "1"))
	if !decodeOutcome(t, rec).Applied {
		t.Fatalf("approve: %s", rec.Body.String())
	}
	if e.escrow.BalanceOf(recipient, asset) != 50 {
		t.Fatalf("expected recipient to hold 50, got %d", e.escrow.BalanceOf(recipient, asset))
	}

	rec = httptest.NewRecorder()
	h.Withdraw(rec, request(t, http.MethodPost, "/escrow/withdrawals", dto.WithdrawRequest{Asset: string(asset)}, participant(recipient)))
	if out := decodeOutcome(t, rec); out.Amount != 50 {
		t.Fatalf("withdraw: %s", rec.Body.String())
	}
}

func TestEscrowHandler_CancelAndValidation(t *testing.T) {
	e := newEnv(t)
	e.depositEscrow(t, maker, 10)
	h := NewEscrowHandler(e.escrows)

	rec := httptest.NewRecorder()
	h.Create(rec, request(t, http.MethodPost, "/escrow/escrows", dto.CreateEscrowRequest{
		Asset: string(asset), Recipient: string(recipient), Agent: string(agent), Amount: "10",
	}, participant(maker)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create escrow: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.Cancel(rec, request(t, http.MethodPost, "/escrow/escrows/1/cancel", nil, participant(recipient), "id", "1"))
	if out := decodeOutcome(t, rec); out.Reason != domain.ReasonNotAuthorized {
		t.Fatalf("expected recipient cancel to be rejected, got %+v", out)
	}

	rec = httptest.NewRecorder()
	h.Cancel(rec, request(t, http.MethodPost, "/escrow/escrows/1/cancel", nil, participant(maker), "id", "1"))
	if !decodeOutcome(t, rec).Applied || e.escrow.BalanceOf(maker, asset) != 10 {
		t.Fatalf("cancel: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	long := dto.ApproveTransferRequest{ApprovalData: strings.Repeat("a", domain.MaxApplicationDataLength+1)}
	h.Approve(rec, request(t, http.MethodPost, "/escrow/escrows/1/approve", long, participant(approver), "id", "1"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected oversize approval to be rejected, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Finish(rec, request(t, http.MethodPost, "/escrow/escrows/0/finish", nil, participant(agent), "id", "0"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected zero id to be rejected, got %d", rec.Code)
	}
}

func TestEscrowHandler_StaleWriter(t *testing.T) {
	e := newEnv(t)
	e.depositEscrow(t, maker, 10)

	// repoint the store at a writer with no engine registered
	if err := e.escrow.SetAuthorizedWriter(t.Context(), upgrader, "escrow/v9"); err != nil {
		t.Fatalf("repoint: %v", err)
	}

	rec := httptest.NewRecorder()
	NewEscrowHandler(e.escrows).Cancel(rec, request(t, http.MethodPost, "/escrow/escrows/1/cancel", nil, participant(maker), "id", "1"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	var resp dto.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Message == "" {
		t.Fatalf("expected error details, got %s", rec.Body.String())
	}
}
