package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"shadeledger/core/lederr"
	"shadeledger/crypto"
	"shadeledger/native/invoice"
	"shadeledger/native/merchant"
	"shadeledger/native/roles"
	"shadeledger/native/settlement"
	"shadeledger/observability"
)

type paramError struct {
	msg string
}

func (e *paramError) Error() string { return e.msg }

func badParams(format string, args ...interface{}) error {
	return &paramError{msg: fmt.Sprintf(format, args...)}
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return badParams("expected exactly one params object")
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return badParams("invalid params: %v", err)
	}
	return nil
}

func parseAddress(value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, badParams("invalid address %q: %v", value, err)
	}
	return addr.Raw(), nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, badParams("invalid amount %q", value)
	}
	return amount, nil
}

func formatAddress(raw [20]byte) string {
	return crypto.NewAddress(crypto.ShadePrefix, raw[:]).String()
}

type merchantView struct {
	ID      uint64 `json:"id"`
	Address string `json:"address"`
	Active  bool   `json:"active"`
}

func newMerchantView(m *merchant.Merchant) merchantView {
	return merchantView{ID: m.ID, Address: formatAddress(m.Address), Active: m.Active}
}

type invoiceView struct {
	ID          uint64 `json:"id"`
	Merchant    string `json:"merchant"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Token       string `json:"token"`
	Status      string `json:"status"`
	Payer       string `json:"payer,omitempty"`
	DatePaid    uint64 `json:"datePaid,omitempty"`
}

func newInvoiceView(inv *invoice.Invoice) invoiceView {
	view := invoiceView{
		ID:          inv.ID,
		Merchant:    formatAddress(inv.Merchant),
		Description: inv.Description,
		Amount:      inv.Amount.String(),
		Token:       formatAddress(inv.Token),
		Status:      inv.Status.String(),
		DatePaid:    inv.PaidAt,
	}
	if inv.HasPayer() {
		view.Payer = formatAddress(inv.Payer)
	}
	return view
}

type receiptView struct {
	Invoice invoiceView `json:"invoice"`
	Fee     string      `json:"fee"`
	Total   string      `json:"total"`
}

func newReceiptView(r *settlement.Receipt) receiptView {
	return receiptView{
		Invoice: newInvoiceView(r.Invoice),
		Fee:     r.Fee.String(),
		Total:   r.Total.String(),
	}
}

type addressParam struct {
	Address string `json:"address"`
}

type idParam struct {
	ID uint64 `json:"id"`
}

type roleParams struct {
	Caller string `json:"caller"`
	Target string `json:"target"`
	Role   string `json:"role"`
}

func (s *Server) handleInitialize(req *RPCRequest) (interface{}, error) {
	var params addressParam
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	admin, err := parseAddress(params.Address)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.Initialize(admin); err != nil {
		return nil, err
	}
	return map[string]bool{"initialized": true}, nil
}

func (s *Server) roleChange(req *RPCRequest, grant bool) (interface{}, error) {
	var params roleParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	target, err := parseAddress(params.Target)
	if err != nil {
		return nil, err
	}
	role := roles.Role(strings.TrimSpace(params.Role))
	if role == "" {
		role = roles.RoleManager
	}
	if !role.Valid() {
		return nil, badParams("unknown role %q", params.Role)
	}
	if grant {
		err = s.ledger.GrantRole(caller, target, role)
	} else {
		err = s.ledger.RevokeRole(caller, target, role)
	}
	if err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleGrantRole(req *RPCRequest) (interface{}, error) {
	return s.roleChange(req, true)
}

func (s *Server) handleRevokeRole(req *RPCRequest) (interface{}, error) {
	return s.roleChange(req, false)
}

func (s *Server) handleHasPrivilege(req *RPCRequest) (interface{}, error) {
	var params addressParam
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return nil, err
	}
	privileged, err := s.ledger.HasPrivilege(addr)
	if err != nil {
		return nil, err
	}
	return privileged, nil
}

func (s *Server) handleRegisterMerchant(req *RPCRequest) (interface{}, error) {
	var params addressParam
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return nil, err
	}
	record, err := s.ledger.RegisterMerchant(addr)
	if err != nil {
		return nil, err
	}
	return newMerchantView(record), nil
}

func (s *Server) handleGetMerchant(req *RPCRequest) (interface{}, error) {
	var params idParam
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	record, err := s.ledger.GetMerchant(params.ID)
	if err != nil {
		return nil, err
	}
	return newMerchantView(record), nil
}

func (s *Server) handleIsMerchant(req *RPCRequest) (interface{}, error) {
	var params addressParam
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return nil, err
	}
	return s.ledger.IsMerchant(addr), nil
}

type createInvoiceParams struct {
	Merchant    string `json:"merchant"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Token       string `json:"token"`
}

func (s *Server) handleCreateInvoice(req *RPCRequest) (interface{}, error) {
	var params createInvoiceParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	merchantAddr, err := parseAddress(params.Merchant)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, err
	}
	token, err := parseAddress(params.Token)
	if err != nil {
		return nil, err
	}
	record, err := s.ledger.CreateInvoice(merchantAddr, params.Description, amount, token)
	if err != nil {
		return nil, err
	}
	return newInvoiceView(record), nil
}

func (s *Server) handleGetInvoice(req *RPCRequest) (interface{}, error) {
	var params idParam
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	record, err := s.ledger.GetInvoice(params.ID)
	if err != nil {
		return nil, err
	}
	return newInvoiceView(record), nil
}

type payParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
}

func (s *Server) handlePayInvoice(req *RPCRequest) (interface{}, error) {
	var params payParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	receipt, err := s.ledger.PayInvoice(caller, params.ID)
	if err != nil {
		if code, ok := lederr.CodeOf(err); ok {
			observability.Metrics().Settlements.WithLabelValues(fmt.Sprintf("%d", code)).Inc()
		}
		return nil, err
	}
	observability.Metrics().Settlements.WithLabelValues("paid").Inc()
	return newReceiptView(receipt), nil
}

type tryPayResult struct {
	Paid    bool         `json:"paid"`
	Code    uint32       `json:"code,omitempty"`
	Message string       `json:"message,omitempty"`
	Receipt *receiptView `json:"receipt,omitempty"`
}

// handleTryPayInvoice is the non-aborting settlement variant: ledger
// failures come back in the result payload instead of a JSON-RPC error.
func (s *Server) handleTryPayInvoice(req *RPCRequest) (interface{}, error) {
	var params payParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	receipt, err := s.ledger.PayInvoice(caller, params.ID)
	if err != nil {
		code, ok := lederr.CodeOf(err)
		if !ok {
			return nil, err
		}
		observability.Metrics().Settlements.WithLabelValues(fmt.Sprintf("%d", code)).Inc()
		return tryPayResult{Paid: false, Code: uint32(code), Message: err.Error()}, nil
	}
	observability.Metrics().Settlements.WithLabelValues("paid").Inc()
	view := newReceiptView(receipt)
	return tryPayResult{Paid: true, Receipt: &view}, nil
}

func (s *Server) handleCancelInvoice(req *RPCRequest) (interface{}, error) {
	var params payParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	record, err := s.ledger.CancelInvoice(caller, params.ID)
	if err != nil {
		return nil, err
	}
	return newInvoiceView(record), nil
}

type tokenParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	Amount string `json:"amount,omitempty"`
}

func (s *Server) handleAddAcceptedToken(req *RPCRequest) (interface{}, error) {
	var params tokenParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	token, err := parseAddress(params.Token)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.AddAcceptedToken(caller, token); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleSetFee(req *RPCRequest) (interface{}, error) {
	var params tokenParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	token, err := parseAddress(params.Token)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.SetFee(caller, token, amount); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleGetFee(req *RPCRequest) (interface{}, error) {
	var params tokenParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	token, err := parseAddress(params.Token)
	if err != nil {
		return nil, err
	}
	fee, err := s.ledger.GetFee(token)
	if err != nil {
		return nil, err
	}
	return fee.String(), nil
}

func (s *Server) handlePause(req *RPCRequest) (interface{}, error) {
	return s.pauseChange(req, true)
}

func (s *Server) handleUnpause(req *RPCRequest) (interface{}, error) {
	return s.pauseChange(req, false)
}

func (s *Server) pauseChange(req *RPCRequest, pause bool) (interface{}, error) {
	var params struct {
		Caller string `json:"caller"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	if pause {
		err = s.ledger.Pause(caller)
	} else {
		err = s.ledger.Unpause(caller)
	}
	if err != nil {
		return nil, err
	}
	return map[string]bool{"paused": pause}, nil
}

func (s *Server) handlePaused(req *RPCRequest) (interface{}, error) {
	paused, err := s.ledger.Paused()
	if err != nil {
		return nil, err
	}
	return paused, nil
}

type mintParams struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

func (s *Server) handleMint(req *RPCRequest) (interface{}, error) {
	var params mintParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return nil, err
	}
	token, err := parseAddress(params.Token)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.Mint(caller, addr, token, amount); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

type balanceParams struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

func (s *Server) handleBalance(req *RPCRequest) (interface{}, error) {
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return nil, err
	}
	token, err := parseAddress(params.Token)
	if err != nil {
		return nil, err
	}
	balance, err := s.ledger.Balance(addr, token)
	if err != nil {
		return nil, err
	}
	return balance.String(), nil
}
