package gateway

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	gwmiddleware "swave/gateway/middleware"
	"swave/ledger"
	"swave/native/collateral"
	nativecommon "swave/native/common"
	"swave/native/credit"
	"swave/native/loan"
	"swave/native/oracle"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps the engine error taxonomy onto HTTP status codes and a
// stable machine-readable code.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case errors.Is(err, loan.ErrInvalidAmount),
		errors.Is(err, collateral.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAmount):
		status, code = http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, loan.ErrLoanNotFound):
		status, code = http.StatusNotFound, "loan_not_found"
	case errors.Is(err, collateral.ErrCollateralNotFound):
		status, code = http.StatusNotFound, "collateral_not_found"
	case errors.Is(err, collateral.ErrAssetNotSupported):
		status, code = http.StatusBadRequest, "asset_not_supported"
	case errors.Is(err, loan.ErrLoanAlreadyExists):
		status, code = http.StatusConflict, "loan_already_exists"
	case errors.Is(err, collateral.ErrCollateralLocked):
		status, code = http.StatusConflict, "collateral_locked"
	case errors.Is(err, loan.ErrCollateralInsufficient),
		errors.Is(err, collateral.ErrInsufficientCollateral):
		status, code = http.StatusUnprocessableEntity, "collateral_insufficient"
	case errors.Is(err, collateral.ErrLiquidationNotRequired):
		status, code = http.StatusUnprocessableEntity, "liquidation_not_required"
	case errors.Is(err, loan.ErrPaymentFailed),
		errors.Is(err, ledger.ErrInsufficientFunds):
		status, code = http.StatusUnprocessableEntity, "payment_failed"
	case errors.Is(err, nativecommon.ErrUnauthorized):
		status, code = http.StatusForbidden, "unauthorized"
	case errors.Is(err, nativecommon.ErrModulePaused):
		status, code = http.StatusServiceUnavailable, "module_paused"
	case errors.Is(err, collateral.ErrPriceFeed),
		errors.Is(err, oracle.ErrNoFreshQuote):
		status, code = http.StatusServiceUnavailable, "price_feed_unavailable"
	case errors.Is(err, loan.ErrCrossContractCall):
		status, code = http.StatusBadGateway, "cross_contract_call_failed"
	case errors.Is(err, loan.ErrInterestCalculation):
		status, code = http.StatusInternalServerError, "interest_calculation_failed"
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: err.Error()}})
}

func (s *Server) writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{Code: "bad_request", Message: message}})
}

func decodeBody(r *http.Request, out any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func parseAddress(raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseAmount(raw string) (*big.Int, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, false
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, false
	}
	return amount, true
}

func pathAddress(r *http.Request, param string) (common.Address, bool) {
	return parseAddress(chi.URLParam(r, param))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type requestLoanBody struct {
	Borrower string `json:"borrower"`
	Amount   string `json:"amount"`
}

func (s *Server) handleRequestLoan(w http.ResponseWriter, r *http.Request) {
	var body requestLoanBody
	if err := decodeBody(r, &body); err != nil {
		s.writeBadRequest(w, "malformed request body")
		return
	}
	borrower, ok := parseAddress(body.Borrower)
	if !ok {
		s.writeBadRequest(w, "invalid borrower address")
		return
	}
	amount, ok := parseAmount(body.Amount)
	if !ok {
		s.writeBadRequest(w, "invalid amount")
		return
	}
	record, err := s.loans.RequestLoan(borrower, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

type provideCollateralBody struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Server) handleProvideCollateral(w http.ResponseWriter, r *http.Request) {
	borrower, ok := pathAddress(r, "borrower")
	if !ok {
		s.writeBadRequest(w, "invalid borrower address")
		return
	}
	var body provideCollateralBody
	if err := decodeBody(r, &body); err != nil {
		s.writeBadRequest(w, "malformed request body")
		return
	}
	amount, ok := parseAmount(body.Amount)
	if !ok {
		s.writeBadRequest(w, "invalid amount")
		return
	}
	if err := s.loans.ProvideCollateral(borrower, strings.TrimSpace(body.Asset), amount); err != nil {
		s.writeError(w, err)
		return
	}
	record, err := s.loans.GetLoanStatus(borrower)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type repayBody struct {
	Amount string `json:"amount"`
}

func (s *Server) handleRepayLoan(w http.ResponseWriter, r *http.Request) {
	borrower, ok := pathAddress(r, "borrower")
	if !ok {
		s.writeBadRequest(w, "invalid borrower address")
		return
	}
	var body repayBody
	if err := decodeBody(r, &body); err != nil {
		s.writeBadRequest(w, "malformed request body")
		return
	}
	amount, ok := parseAmount(body.Amount)
	if !ok {
		s.writeBadRequest(w, "invalid amount")
		return
	}
	if err := s.loans.RepayLoan(borrower, amount); err != nil {
		s.writeError(w, err)
		return
	}
	record, err := s.loans.GetLoanStatus(borrower)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleLiquidateLoan(w http.ResponseWriter, r *http.Request) {
	borrower, ok := pathAddress(r, "borrower")
	if !ok {
		s.writeBadRequest(w, "invalid borrower address")
		return
	}
	caller, _ := gwmiddleware.Caller(r.Context())
	if err := s.loans.Liquidate(caller, borrower); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "liquidated"})
}

func (s *Server) handleLoanStatus(w http.ResponseWriter, r *http.Request) {
	borrower, ok := pathAddress(r, "borrower")
	if !ok {
		s.writeBadRequest(w, "invalid borrower address")
		return
	}
	record, err := s.loans.GetLoanStatus(borrower)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleLoanDue(w http.ResponseWriter, r *http.Request) {
	borrower, ok := pathAddress(r, "borrower")
	if !ok {
		s.writeBadRequest(w, "invalid borrower address")
		return
	}
	due, err := s.loans.IsDue(borrower)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"due": due})
}

type lockBody struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Server) handleLockCollateral(w http.ResponseWriter, r *http.Request) {
	var body lockBody
	if err := decodeBody(r, &body); err != nil {
		s.writeBadRequest(w, "malformed request body")
		return
	}
	owner, ok := parseAddress(body.Owner)
	if !ok {
		s.writeBadRequest(w, "invalid owner address")
		return
	}
	amount, ok := parseAmount(body.Amount)
	if !ok {
		s.writeBadRequest(w, "invalid amount")
		return
	}
	if err := s.positions.Lock(owner, strings.TrimSpace(body.Asset), amount); err != nil {
		s.writeError(w, err)
		return
	}
	position, err := s.positions.GetPosition(owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, position)
}

func (s *Server) handleUnlockCollateral(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathAddress(r, "owner")
	if !ok {
		s.writeBadRequest(w, "invalid owner address")
		return
	}
	if err := s.positions.Unlock(owner); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (s *Server) handleLiquidateCollateral(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathAddress(r, "owner")
	if !ok {
		s.writeBadRequest(w, "invalid owner address")
		return
	}
	caller, _ := gwmiddleware.Caller(r.Context())
	if err := s.positions.Liquidate(caller, owner); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "liquidated"})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathAddress(r, "owner")
	if !ok {
		s.writeBadRequest(w, "invalid owner address")
		return
	}
	position, err := s.positions.GetPosition(owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

func (s *Server) handleLiquidatable(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathAddress(r, "owner")
	if !ok {
		s.writeBadRequest(w, "invalid owner address")
		return
	}
	required, err := s.positions.IsLiquidationRequired(owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"liquidatable": required})
}

func (s *Server) handleLiquidations(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathAddress(r, "owner")
	if !ok {
		s.writeBadRequest(w, "invalid owner address")
		return
	}
	if s.liquidations == nil {
		writeJSON(w, http.StatusOK, []*collateral.LiquidationEvent{})
		return
	}
	events, err := s.liquidations.LiquidationsFor(owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []*collateral.LiquidationEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

type statsResponse struct {
	Loans      *loan.GlobalStats       `json:"loans"`
	Collateral *collateral.GlobalStats `json:"collateral"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	loanStats, err := s.loans.Stats()
	if err != nil {
		s.writeError(w, err)
		return
	}
	collateralStats, err := s.positions.Stats()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Loans: loanStats, Collateral: collateralStats})
}

type pauseBody struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var body pauseBody
	if err := decodeBody(r, &body); err != nil {
		s.writeBadRequest(w, "malformed request body")
		return
	}
	module := strings.ToLower(strings.TrimSpace(body.Module))
	if module != "loan" && module != "collateral" {
		s.writeBadRequest(w, "unknown module")
		return
	}
	if s.pauses == nil {
		s.writeError(w, errors.New("pause switches not configured"))
		return
	}
	s.pauses.SetPaused(module, body.Paused)
	s.log.Info("module pause updated", "module", module, "paused", body.Paused)
	writeJSON(w, http.StatusOK, map[string]any{"module": module, "paused": body.Paused})
}

type setScoreBody struct {
	Score uint8 `json:"score"`
}

// handleSetScore records a manual underwriting score for a borrower. Only
// available when the daemon runs with the static scorer.
func (s *Server) handleSetScore(w http.ResponseWriter, r *http.Request) {
	if s.scores == nil {
		s.writeBadRequest(w, "manual scoring not enabled")
		return
	}
	borrower, ok := pathAddress(r, "borrower")
	if !ok {
		s.writeBadRequest(w, "invalid borrower address")
		return
	}
	var body setScoreBody
	if err := decodeBody(r, &body); err != nil {
		s.writeBadRequest(w, "malformed request body")
		return
	}
	if body.Score > credit.MaxScore {
		s.writeBadRequest(w, "score out of range")
		return
	}
	s.scores.Set(borrower, body.Score)
	writeJSON(w, http.StatusOK, map[string]any{"borrower": borrower.Hex(), "score": body.Score})
}

type assetPriceBody struct {
	PriceUSD string `json:"priceUsd"`
}

func (s *Server) handleAssetPrice(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))
	var body assetPriceBody
	if err := decodeBody(r, &body); err != nil {
		s.writeBadRequest(w, "malformed request body")
		return
	}
	price, ok := parseAmount(body.PriceUSD)
	if !ok {
		s.writeBadRequest(w, "invalid price")
		return
	}
	caller, _ := gwmiddleware.Caller(r.Context())
	if err := s.positions.UpdateAssetPrice(caller, code, price); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": code, "priceUsd": price.String()})
}
