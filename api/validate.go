package api

import (
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/mantlenetworkio/relayer/types"
)

// submitRequest is the intake body. Numerics travel as strings to avoid
// precision loss in JSON.
type submitRequest struct {
	UserAddress          string `json:"user_address"`
	TargetContract       string `json:"target_contract"`
	Calldata             string `json:"calldata"`
	Value                string `json:"value"`
	GasLimit             string `json:"gas_limit"`
	MaxFeePerGas         string `json:"max_fee_per_gas"`
	MaxPriorityFeePerGas string `json:"max_priority_fee_per_gas"`
	Nonce                string `json:"nonce"`
	SignatureR           string `json:"signature_r"`
	SignatureS           string `json:"signature_s"`
	SignatureV           string `json:"signature_v"`
	Priority             string `json:"priority"`
	// Timestamp is the signing time in unix seconds. It is covered by
	// the signature; omitted means "now" and only verifies for
	// freshly-signed intents.
	Timestamp string `json:"timestamp"`
}

// fieldError pairs a rejected field with its client error code.
type fieldError struct {
	code    string
	message string
}

func (e *fieldError) Error() string { return e.message }

func reject(code, message string) *fieldError {
	return &fieldError{code: code, message: message}
}

// parseIntent validates the request field by field and assembles the
// Intent. The first offending field wins, matching the intake contract.
func parseIntent(req *submitRequest) (*types.Intent, *fieldError) {
	if !common.IsHexAddress(req.UserAddress) {
		return nil, reject(types.CodeInvalidAddress, "invalid user_address")
	}
	if !common.IsHexAddress(req.TargetContract) {
		return nil, reject(types.CodeInvalidAddress, "invalid target_contract")
	}

	calldata, err := parseCalldata(req.Calldata)
	if err != nil {
		return nil, reject(types.CodeInvalidCalldata, "calldata is not valid hex")
	}

	value, ok := parseBig(req.Value)
	if !ok || value.Sign() < 0 {
		return nil, reject(types.CodeInvalidValue, "invalid value")
	}
	gasLimit, err := strconv.ParseUint(req.GasLimit, 10, 64)
	if err != nil || gasLimit == 0 {
		return nil, reject(types.CodeInvalidGasLimit, "invalid gas_limit")
	}
	maxFee, ok := parseBig(req.MaxFeePerGas)
	if !ok || maxFee.Sign() <= 0 {
		return nil, reject(types.CodeInvalidGasPrice, "invalid max_fee_per_gas")
	}
	maxTip, ok := parseBig(req.MaxPriorityFeePerGas)
	if !ok || maxTip.Sign() < 0 {
		return nil, reject(types.CodeInvalidGasPrice, "invalid max_priority_fee_per_gas")
	}
	if maxTip.Cmp(maxFee) > 0 {
		return nil, reject(types.CodeInvalidGasPrice, "max_priority_fee_per_gas above max_fee_per_gas")
	}
	nonce, err := strconv.ParseUint(req.Nonce, 10, 64)
	if err != nil || nonce == 0 {
		return nil, reject(types.CodeInvalidNonce, "invalid nonce")
	}

	sigR, ok := parseBig(req.SignatureR)
	if !ok {
		return nil, reject(types.CodeInvalidSignature, "invalid signature_r")
	}
	sigS, ok := parseBig(req.SignatureS)
	if !ok {
		return nil, reject(types.CodeInvalidSignature, "invalid signature_s")
	}
	sigV, err := strconv.ParseUint(req.SignatureV, 10, 64)
	if err != nil {
		return nil, reject(types.CodeInvalidSignature, "invalid signature_v")
	}

	priority, err := types.ParsePriority(req.Priority)
	if err != nil {
		return nil, reject(types.CodeInvalidPriority, "priority must be low, normal, high or critical")
	}

	timestamp := time.Now()
	if req.Timestamp != "" {
		secs, err := strconv.ParseInt(req.Timestamp, 10, 64)
		if err != nil {
			return nil, reject(types.CodeInvalidValue, "invalid timestamp")
		}
		timestamp = time.Unix(secs, 0)
	}

	return &types.Intent{
		Sender:    common.HexToAddress(req.UserAddress),
		Target:    common.HexToAddress(req.TargetContract),
		Calldata:  calldata,
		Value:     value,
		GasLimit:  gasLimit,
		GasFeeCap: maxFee,
		GasTipCap: maxTip,
		Nonce:     nonce,
		V:         sigV,
		R:         sigR,
		S:         sigS,
		Priority:  priority,
		Timestamp: timestamp,
	}, nil
}

// parseCalldata accepts hex with or without the 0x prefix; empty means no
// calldata.
func parseCalldata(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

// parseBig parses a decimal (or 0x-prefixed hex) unsigned integer string.
func parseBig(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	if strings.HasPrefix(s, "0x") {
		return new(big.Int).SetString(s[2:], 16)
	}
	return new(big.Int).SetString(s, 10)
}
