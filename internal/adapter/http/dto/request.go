package dto

import (
	"errors"

	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/usecase"
)

// CreateOrderRequest represents a request to create an order. The maker is
// the authenticated caller.
type CreateOrderRequest struct {
	Asset       string `json:"asset"`
	Agent       string `json:"agent"`
	Amount      string `json:"amount"`
	Price       string `json:"price"`
	Side        string `json:"side,omitempty"`
	Counterpart string `json:"counterpart,omitempty"`
}

// ToUseCaseInput converts to use case input.
func (r *CreateOrderRequest) ToUseCaseInput(maker domain.Address) (usecase.CreateOrderInput, error) {
	asset, errAsset := domain.ParseAddress(r.Asset)
	agent, errAgent := domain.ParseAddress(r.Agent)
	counterpart, errCounterpart := domain.ParseOptionalAddress(r.Counterpart)
	amount, errAmount := domain.ParseAmount(r.Amount)
	price, errPrice := domain.ParseAmount(r.Price)

	var side domain.Side
	var errSide error
	if r.Side != "" {
		side, errSide = domain.ParseSide(r.Side)
	}

	if err := errors.Join(errAsset, errAgent, errCounterpart, errAmount, errPrice, errSide); err != nil {
		return usecase.CreateOrderInput{}, err
	}

	return usecase.CreateOrderInput{
		Maker:       maker,
		Counterpart: counterpart,
		Asset:       asset,
		Agent:       agent,
		Amount:      amount,
		Price:       price,
		Side:        side,
	}, nil
}

// ExecuteOrderRequest represents a take against an order. Amount and side
// are only read by the two-sided book.
type ExecuteOrderRequest struct {
	Amount string `json:"amount,omitempty"`
	Side   string `json:"side,omitempty"`
}

// ToUseCaseInput converts to use case input.
func (r *ExecuteOrderRequest) ToUseCaseInput(orderID uint64, taker domain.Address) (usecase.ExecuteOrderInput, error) {
	in := usecase.ExecuteOrderInput{OrderID: orderID, Taker: taker}
	if r.Amount != "" {
		amount, err := domain.ParseAmount(r.Amount)
		if err != nil {
			return usecase.ExecuteOrderInput{}, err
		}
		in.Amount = amount
	}
	if r.Side != "" {
		side, err := domain.ParseSide(r.Side)
		if err != nil {
			return usecase.ExecuteOrderInput{}, err
		}
		in.Side = side
	}
	return in, nil
}

// CreateEscrowRequest represents a request to open an escrow. The sender is
// the authenticated caller.
type CreateEscrowRequest struct {
	Asset           string `json:"asset"`
	Recipient       string `json:"recipient"`
	Agent           string `json:"agent"`
	Amount          string `json:"amount"`
	ApplicationData string `json:"application_data,omitempty"`
	Memo            string `json:"memo,omitempty"`
}

// ToUseCaseInput converts to use case input.
func (r *CreateEscrowRequest) ToUseCaseInput(sender domain.Address) (usecase.CreateEscrowInput, error) {
	asset, errAsset := domain.ParseAddress(r.Asset)
	recipient, errRecipient := domain.ParseAddress(r.Recipient)
	agent, errAgent := domain.ParseAddress(r.Agent)
	amount, errAmount := domain.ParseAmount(r.Amount)

	if err := errors.Join(errAsset, errRecipient, errAgent, errAmount); err != nil {
		return usecase.CreateEscrowInput{}, err
	}

	return usecase.CreateEscrowInput{
		Sender:          sender,
		Asset:           asset,
		Recipient:       recipient,
		Agent:           agent,
		Amount:          amount,
		ApplicationData: r.ApplicationData,
		Memo:            r.Memo,
	}, nil
}

// ApproveTransferRequest carries the issuer's approval payload.
type ApproveTransferRequest struct {
	ApprovalData string `json:"approval_data"`
}

// Validate rejects oversize approval payloads.
func (r *ApproveTransferRequest) Validate() error {
	return domain.ValidateText("approval_data", r.ApprovalData, domain.MaxApplicationDataLength)
}

// DepositRequest is a deposit notification sent by the asset collaborator.
// The asset is the authenticated caller.
type DepositRequest struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

// Parse validates the notification.
func (r *DepositRequest) Parse() (domain.Address, domain.Amount, error) {
	from, errFrom := domain.ParseAddress(r.From)
	amount, errAmount := domain.ParseAmount(r.Amount)
	if err := errors.Join(errFrom, errAmount); err != nil {
		return domain.ZeroAddress, 0, err
	}
	return from, amount, nil
}

// WithdrawRequest asks for the caller's whole available balance in one asset.
type WithdrawRequest struct {
	Asset string `json:"asset"`
}

// Parse validates the request.
func (r *WithdrawRequest) Parse() (domain.Address, error) {
	return domain.ParseAddress(r.Asset)
}

// UpgradeRequest repoints a store to a new engine version.
type UpgradeRequest struct {
	Store  string `json:"store"`
	Writer string `json:"writer"`
}

// Parse validates the request.
func (r *UpgradeRequest) Parse() (string, domain.WriterID, error) {
	writer := domain.WriterID(r.Writer)
	if err := writer.Validate(); err != nil {
		return "", "", err
	}
	if r.Store == "" {
		return "", "", errors.Join(domain.ErrMalformedInput, errors.New("store is required"))
	}
	return r.Store, writer, nil
}

// AssetStatusRequest flips an asset's tradable flag.
type AssetStatusRequest struct {
	Tradable bool `json:"tradable"`
}

// IssueTokenRequest asks for a bearer token for another principal.
type IssueTokenRequest struct {
	Address string `json:"address"`
	Role    string `json:"role"`
}

// ToPrincipal converts to a domain principal.
func (r *IssueTokenRequest) ToPrincipal() (domain.Principal, error) {
	addr, err := domain.ParseAddress(r.Address)
	if err != nil {
		return domain.Principal{}, err
	}
	role := domain.Role(r.Role)
	if !role.IsValid() {
		return domain.Principal{}, domain.ErrInvalidRole
	}
	return domain.Principal{Address: addr, Role: role}, nil
}
