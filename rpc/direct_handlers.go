package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"defidirect/native/direct"
)

type callerParams struct {
	Caller string `json:"caller"`
}

type initializeParams struct {
	Caller             string `json:"caller"`
	FeeBps             uint32 `json:"feeBps"`
	TransactionManager string `json:"transactionManager"`
	FeeReceiver        string `json:"feeReceiver"`
	Vault              string `json:"vault"`
}

type feeParams struct {
	Caller string `json:"caller"`
	FeeBps uint32 `json:"feeBps"`
}

type addressParams struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
}

type tokenParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
}

type initiateParams struct {
	Caller          string `json:"caller"`
	Token           string `json:"token"`
	Amount          string `json:"amount"`
	FiatBankAccount uint64 `json:"fiatBankAccount"`
	FiatAmount      string `json:"fiatAmount"`
	FiatBank        string `json:"fiatBank"`
	RecipientName   string `json:"recipientName"`
}

type completeParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	ID     string `json:"id"`
	Amount string `json:"amount"`
}

type refundParams struct {
	Caller string `json:"caller"`
	ID     string `json:"id"`
	Token  string `json:"token"`
}

type idParams struct {
	ID string `json:"id"`
}

type listParams struct {
	Originator string `json:"originator"`
	Offset     int    `json:"offset"`
	Limit      int    `json:"limit"`
}

type eventsParams struct {
	Limit int `json:"limit"`
}

type transactionJSON struct {
	ID              string `json:"id"`
	Originator      string `json:"originator"`
	Token           string `json:"token"`
	Amount          string `json:"amount"`
	FiatBankAccount uint64 `json:"fiatBankAccount"`
	FiatAmount      string `json:"fiatAmount"`
	FiatBank        string `json:"fiatBank"`
	RecipientName   string `json:"recipientName"`
	Status          string `json:"status"`
	CreatedAt       uint64 `json:"createdAt"`
}

type transactionIDsJSON struct {
	Originator string   `json:"originator"`
	IDs        []string `json:"ids"`
}

type transactionListJSON struct {
	Transactions []transactionJSON `json:"transactions"`
	Total        int               `json:"total"`
	Offset       int               `json:"offset"`
}

type settingsJSON struct {
	Owner              string `json:"owner"`
	TransactionManager string `json:"transactionManager"`
	FeeReceiver        string `json:"feeReceiver"`
	Vault              string `json:"vault"`
	FeeBps             uint32 `json:"feeBps"`
	Paused             bool   `json:"paused"`
}

type supportedJSON struct {
	Token     string `json:"token"`
	Supported bool   `json:"supported"`
}

type balanceJSON struct {
	Token   string `json:"token"`
	Owner   string `json:"owner"`
	Balance string `json:"balance"`
}

type eventJSON struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func marshalTransaction(t *direct.Transaction) transactionJSON {
	out := transactionJSON{
		ID:              direct.FormatID(t.ID),
		Originator:      direct.FormatAddress(t.Originator),
		Token:           direct.FormatAddress(t.Token),
		FiatBankAccount: t.FiatBankAccount,
		FiatBank:        t.FiatBank,
		RecipientName:   t.RecipientName,
		Status:          t.Status.String(),
		CreatedAt:       t.CreatedAt,
	}
	if t.Amount != nil {
		out.Amount = t.Amount.String()
	}
	if t.FiatAmount != nil {
		out.FiatAmount = t.FiatAmount.String()
	}
	return out
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parsePositiveBigInt(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return value, nil
}

// mutating wraps auth and param decoding shared by every state-changing
// handler.
func (s *Server) mutating(w http.ResponseWriter, r *http.Request, req *RPCRequest, params interface{}) bool {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return false
	}
	if err := decodeParams(req, params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params initializeParams
	if !s.mutating(w, r, req, &params) {
		return
	}
	caller, err := direct.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	manager, err := direct.ParseAddress(params.TransactionManager)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	receiver, err := direct.ParseAddress(params.FeeReceiver)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	vault, err := direct.ParseAddress(params.Vault)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.Initialize(r.Context(), caller, params.FeeBps, manager, receiver, vault); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleUpdateSpreadFee(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params feeParams
	if !s.mutating(w, r, req, &params) {
		return
	}
	caller, err := direct.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.UpdateSpreadFee(r.Context(), caller, params.FeeBps); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetFeeReceiver(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params addressParams
	if !s.mutating(w, r, req, &params) {
		return
	}
	caller, addr, ok := s.parseCallerAddress(w, req, params.Caller, params.Address)
	if !ok {
		return
	}
	if err := s.node.SetFeeReceiver(r.Context(), caller, addr); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetVaultAddress(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params addressParams
	if !s.mutating(w, r, req, &params) {
		return
	}
	caller, addr, ok := s.parseCallerAddress(w, req, params.Caller, params.Address)
	if !ok {
		return
	}
	if err := s.node.SetVaultAddress(r.Context(), caller, addr); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetTransactionManager(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params addressParams
	if !s.mutating(w, r, req, &params) {
		return
	}
	caller, addr, ok := s.parseCallerAddress(w, req, params.Caller, params.Address)
	if !ok {
		return
	}
	if err := s.node.SetTransactionManager(r.Context(), caller, addr); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) parseCallerAddress(w http.ResponseWriter, req *RPCRequest, callerRaw, addrRaw string) ([20]byte, [20]byte, bool) {
	var zero [20]byte
	caller, err := direct.ParseAddress(callerRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return zero, zero, false
	}
	addr, err := direct.ParseAddress(addrRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return zero, zero, false
	}
	return caller, addr, true
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params callerParams
	if !s.mutating(w, r, req, &params) {
		return
	}
	caller, err := direct.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.Pause(r.Context(), caller); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params callerParams
	if !s.mutating(w, r, req, &params) {
		return
	}
	caller, err := direct.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.Unpause(r.Context(), caller); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleAddSupportedToken(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params tokenParams
	if !s.mutating(w, r, req, &params) {
		return
	}
	caller, tok, ok := s.parseCallerAddress(w, req, params.Caller, params.Token)
	if !ok {
		return
	}
	if err := s.node.AddSupportedToken(r.Context(), caller, tok); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRemoveSupportedToken(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params tokenParams
	if !s.mutating(w, r, req, &params) {
		return
	}
	caller, tok, ok := s.parseCallerAddress(w, req, params.Caller, params.Token)
	if !ok {
		return
	}
	if err := s.node.RemoveSupportedToken(r.Context(), caller, tok); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params initiateParams
	if !s.mutating(w, r, req, &params) {
		return
	}
	caller, tok, ok := s.parseCallerAddress(w, req, params.Caller, params.Token)
	if !ok {
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	fiatAmount, err := parsePositiveBigInt(params.FiatAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	record, err := s.node.Initiate(r.Context(), caller, tok, amount, params.FiatBankAccount, fiatAmount, params.FiatBank, params.RecipientName)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, marshalTransaction(record))
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params completeParams
	if !s.mutating(w, r, req, &params) {
		return
	}
	caller, tok, ok := s.parseCallerAddress(w, req, params.Caller, params.Token)
	if !ok {
		return
	}
	id, err := direct.ParseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.Complete(r.Context(), caller, tok, id, amount); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params refundParams
	if !s.mutating(w, r, req, &params) {
		return
	}
	caller, tok, ok := s.parseCallerAddress(w, req, params.Caller, params.Token)
	if !ok {
		return
	}
	id, err := direct.ParseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.Refund(r.Context(), caller, id, tok); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params idParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := direct.ParseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	record, found, err := s.node.Transaction(id)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	if !found {
		writeResult(w, req.ID, nil)
		return
	}
	writeResult(w, req.ID, marshalTransaction(record))
}

func (s *Server) handleGetTransactionIDs(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params struct {
		Originator string `json:"originator"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	originator, err := direct.ParseAddress(params.Originator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	ids, err := s.node.TransactionIDs(originator)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	out := transactionIDsJSON{
		Originator: direct.FormatAddress(originator),
		IDs:        make([]string, 0, len(ids)),
	}
	for _, id := range ids {
		out.IDs = append(out.IDs, direct.FormatID(id))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params listParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	originator, err := direct.ParseAddress(params.Originator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	records, total, err := s.node.TransactionsByOriginator(originator, params.Offset, params.Limit)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	out := transactionListJSON{
		Transactions: make([]transactionJSON, 0, len(records)),
		Total:        total,
		Offset:       params.Offset,
	}
	for _, record := range records {
		out.Transactions = append(out.Transactions, marshalTransaction(record))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	settings, err := s.node.Settings()
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, settingsJSON{
		Owner:              direct.FormatAddress(settings.Owner),
		TransactionManager: direct.FormatAddress(settings.TransactionManager),
		FeeReceiver:        direct.FormatAddress(settings.FeeReceiver),
		Vault:              direct.FormatAddress(settings.Vault),
		FeeBps:             settings.FeeBps,
		Paused:             settings.Paused,
	})
}

func (s *Server) handleIsTokenSupported(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params struct {
		Token string `json:"token"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	tok, err := direct.ParseAddress(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	supported, err := s.node.IsTokenSupported(tok)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, supportedJSON{Token: direct.FormatAddress(tok), Supported: supported})
}

func (s *Server) handleEscrowBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params struct {
		Token string `json:"token"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	tok, err := direct.ParseAddress(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.node.EscrowBalance(tok)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceJSON{
		Token:   direct.FormatAddress(tok),
		Owner:   direct.FormatAddress(direct.EscrowAddress),
		Balance: balance.String(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	params := eventsParams{Limit: 50}
	if len(req.Params) == 1 {
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	recent := s.node.Events(params.Limit)
	out := make([]eventJSON, 0, len(recent))
	for _, evt := range recent {
		out = append(out, eventJSON{Type: evt.Type, Attributes: evt.Attributes})
	}
	writeResult(w, req.ID, out)
}
