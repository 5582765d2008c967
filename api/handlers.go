package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/mantlenetworkio/relayer/eip712"
	"github.com/mantlenetworkio/relayer/replay"
	"github.com/mantlenetworkio/relayer/scheduler"
	"github.com/mantlenetworkio/relayer/storage"
	"github.com/mantlenetworkio/relayer/types"
	"github.com/mantlenetworkio/relayer/wallet"
)

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, types.CodeInvalidValue, "malformed request body")
		return
	}

	intent, ferr := parseIntent(&req)
	if ferr != nil {
		writeError(w, http.StatusBadRequest, ferr.code, ferr.message)
		return
	}

	id, err := s.relayer.Submit(r.Context(), intent)
	if err != nil {
		status, code := mapSubmitError(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"transaction_id": id.String(),
		"status":         string(types.StatusPending),
		"message":        "transaction accepted for relay",
	})
}

// mapSubmitError translates pipeline errors into HTTP categories: 401 for
// authentication, 400 for replay, 503 for backpressure, 500 otherwise.
func mapSubmitError(err error) (int, string) {
	switch {
	case errors.Is(err, eip712.ErrStaleSignature),
		errors.Is(err, eip712.ErrBadSignature),
		errors.Is(err, eip712.ErrMalformedSignature):
		return http.StatusUnauthorized, types.CodeInvalidSignature
	case errors.Is(err, eip712.ErrBadNonce):
		return http.StatusUnauthorized, types.CodeInvalidNonce
	case errors.Is(err, replay.ErrReplay):
		return http.StatusBadRequest, types.CodeReplayAttack
	case errors.Is(err, scheduler.ErrQueueFull), errors.Is(err, scheduler.ErrClosed):
		return http.StatusServiceUnavailable, types.CodeQueueFull
	case errors.Is(err, wallet.ErrNoWallet):
		return http.StatusServiceUnavailable, types.CodeWalletUnavailable
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusInternalServerError, types.CodeDatabaseError
	}
	return http.StatusInternalServerError, types.CodeSchedulerError
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, types.CodeSchedulerError, "invalid transaction id")
		return
	}
	record, err := s.relayer.Status(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, types.CodeSchedulerError, "unknown transaction")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.CodeDatabaseError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, renderRecord(record))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, types.CodeSchedulerError, "invalid transaction id")
		return
	}
	removed, err := s.relayer.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.CodeDatabaseError, err.Error())
		return
	}

	status := string(types.StatusCancelled)
	if record, err := s.relayer.Status(r.Context(), id); err == nil {
		status = string(record.Status)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transaction_id": id.String(),
		"cancelled":      removed,
		"status":         status,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("address")
	if !common.IsHexAddress(addr) {
		writeError(w, http.StatusBadRequest, types.CodeInvalidAddress, "invalid address")
		return
	}

	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := queryInt(r, "limit", 20)
	if limit < 1 {
		limit = 1
	}
	if limit > s.config.MaxPageLimit {
		limit = s.config.MaxPageLimit
	}

	records, total, err := s.relayer.List(r.Context(), common.HexToAddress(addr), page, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.CodeDatabaseError, err.Error())
		return
	}

	out := make([]map[string]any, 0, len(records))
	for _, record := range records {
		out = append(out, renderRecord(record))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": out,
		"total":        total,
		"page":         page,
		"limit":        limit,
	})
}

func (s *Server) handleGasPrice(w http.ResponseWriter, r *http.Request) {
	priority := types.PriorityNormal
	if p := r.URL.Query().Get("priority"); p != "" {
		parsed, err := types.ParsePriority(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, types.CodeInvalidPriority, "invalid priority")
			return
		}
		priority = parsed
	}

	quote, err := s.relayer.GasQuote(priority)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, types.CodeSchedulerError, "no gas sample available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"priority":                 priority.String(),
		"max_fee_per_gas":          quote.MaxFeePerGas.String(),
		"max_priority_fee_per_gas": quote.MaxPriorityFeePerGas.String(),
		"block_number":             quote.BlockNumber,
		"trend":                    string(s.relayer.GasTrend()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relayer.Stats(r.Context()))
}

// renderRecord shapes a record for the wire.
func renderRecord(record *types.TransactionRecord) map[string]any {
	out := map[string]any{
		"transaction_id":           record.ID.String(),
		"user_address":             record.Sender.Hex(),
		"target_contract":          record.Target.Hex(),
		"value":                    record.Value,
		"gas_limit":                strconv.FormatUint(record.GasLimit, 10),
		"max_fee_per_gas":          record.GasFeeCap,
		"max_priority_fee_per_gas": record.GasTipCap,
		"nonce":                    strconv.FormatUint(record.Nonce, 10),
		"priority":                 record.Priority.String(),
		"status":                   string(record.Status),
		"created_at":               record.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":               record.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if record.TxHash != (common.Hash{}) {
		out["tx_hash"] = record.TxHash.Hex()
	}
	if record.BlockNumber > 0 {
		out["block_number"] = record.BlockNumber
	}
	if record.GasUsed > 0 {
		out["gas_used"] = record.GasUsed
	}
	if record.ErrorMessage != "" {
		out["error_message"] = record.ErrorMessage
	}
	return out
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
