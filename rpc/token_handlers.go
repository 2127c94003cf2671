package rpc

import (
	"net/http"

	"defidirect/native/direct"
)

type mintParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type balanceOfParams struct {
	Token string `json:"token"`
	Owner string `json:"owner"`
}

func (s *Server) handleTokenMint(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params mintParams
	if !s.mutating(w, r, req, &params) {
		return
	}
	caller, tok, ok := s.parseCallerAddress(w, req, params.Caller, params.Token)
	if !ok {
		return
	}
	to, err := direct.ParseAddress(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.Mint(r.Context(), caller, tok, to, amount); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleTokenBalanceOf(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params balanceOfParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	tok, err := direct.ParseAddress(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := direct.ParseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.node.BalanceOf(tok, owner)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceJSON{
		Token:   direct.FormatAddress(tok),
		Owner:   direct.FormatAddress(owner),
		Balance: balance.String(),
	})
}
