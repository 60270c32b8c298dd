// Package normalize converts heterogeneous upstream transaction payloads
// into the canonical PendingTx record. Normalize is pure: no I/O, no
// logger, no chain-specific knowledge beyond the chainId it is handed.
// NormalizeMany additionally logs a batch summary to an optional logger.
package normalize

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

// Status is the lifecycle stage of a PendingTx as observed by a Session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusDropped   Status = "dropped"
)

// PendingTx is the canonical transaction record produced by Normalize.
type PendingTx struct {
	Hash                 string    `json:"hash"`
	ChainID              uint64    `json:"chainId"`
	From                 string    `json:"from"`
	To                   string    `json:"to,omitempty"`
	Value                string    `json:"value"`
	GasPrice             string    `json:"gasPrice"`
	GasLimit             string    `json:"gasLimit"`
	MaxFeePerGas         string    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string    `json:"maxPriorityFeePerGas,omitempty"`
	Input                string    `json:"input"`
	Nonce                uint64    `json:"nonce"`
	Type                 uint64    `json:"type"`
	Timestamp            time.Time `json:"timestamp"`
	Status               Status    `json:"status"`
}

// NormalizationError describes why a raw payload could not be normalized.
// It is never surfaced to subscribers; callers log it and drop the event.
type NormalizationError struct {
	Reason string
	Field  string
}

func (e *NormalizationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("normalization error: %s (field %q)", e.Reason, e.Field)
	}
	return fmt.Sprintf("normalization error: %s", e.Reason)
}

func fieldErr(field, reason string) *NormalizationError {
	return &NormalizationError{Reason: reason, Field: field}
}

// Normalize converts a raw string-keyed transaction object plus its
// source chainId into a PendingTx. status is the caller-supplied lifecycle
// stage: dialects streaming already-mined transactions pass StatusConfirmed,
// dialects streaming the pending pool pass StatusPending.
func Normalize(raw map[string]any, chainID uint64, status Status) (*PendingTx, error) {
	hash, err := stringField(raw, "hash")
	if err != nil {
		return nil, fieldErr("hash", "missing or non-string hash")
	}
	if hash == "" {
		return nil, fieldErr("hash", "empty hash")
	}

	from, err := stringField(raw, "from")
	if err != nil {
		return nil, fieldErr("from", "missing or non-string from")
	}

	to, err := normalizeAddress(raw["to"])
	if err != nil {
		return nil, fieldErr("to", err.Error())
	}

	value, err := hexToBase10(raw["value"])
	if err != nil {
		return nil, fieldErr("value", err.Error())
	}

	gasLimit, err := hexToBase10(firstDefined(raw, "gas", "gasLimit"))
	if err != nil {
		return nil, fieldErr("gasLimit", err.Error())
	}

	maxFeePerGas, err := hexToBase10Optional(raw["maxFeePerGas"])
	if err != nil {
		return nil, fieldErr("maxFeePerGas", err.Error())
	}

	maxPriorityFeePerGas, err := hexToBase10Optional(raw["maxPriorityFeePerGas"])
	if err != nil {
		return nil, fieldErr("maxPriorityFeePerGas", err.Error())
	}

	// gasPrice effective value: first defined of gasPrice, maxFeePerGas, 0.
	var gasPrice string
	if raw["gasPrice"] != nil {
		gasPrice, err = hexToBase10(raw["gasPrice"])
		if err != nil {
			return nil, fieldErr("gasPrice", err.Error())
		}
	} else if maxFeePerGas != "" {
		gasPrice = maxFeePerGas
	} else {
		gasPrice = "0"
	}

	nonce, err := hexToUint64(raw["nonce"])
	if err != nil {
		return nil, fieldErr("nonce", err.Error())
	}

	txType, _ := hexToUint64(raw["type"])
	if txType != 0 && txType != 2 {
		txType = 0
	}

	input, _ := stringField(raw, "input")
	if input == "" {
		input = "0x"
	}

	return &PendingTx{
		Hash:                 strings.ToLower(hash),
		ChainID:              chainID,
		From:                 strings.ToLower(from),
		To:                   to,
		Value:                value,
		GasPrice:             gasPrice,
		GasLimit:             gasLimit,
		MaxFeePerGas:         maxFeePerGas,
		MaxPriorityFeePerGas: maxPriorityFeePerGas,
		Input:                input,
		Nonce:                nonce,
		Type:                 txType,
		Timestamp:            time.Now().UTC(),
		Status:               status,
	}, nil
}

// NormalizeMany normalizes a batch of transaction objects, such as the
// transactions of one fetched block, logging once for the whole batch
// rather than once per discarded transaction.
func NormalizeMany(raws []map[string]any, chainID uint64, status Status, logger *zap.Logger) []*PendingTx {
	out := make([]*PendingTx, 0, len(raws))
	discarded := 0
	for _, raw := range raws {
		tx, err := Normalize(raw, chainID, status)
		if err != nil {
			discarded++
			continue
		}
		out = append(out, tx)
	}
	if discarded > 0 && logger != nil {
		logger.Warn("discarded unnormalizable transactions in block fetch",
			zap.Uint64("chain_id", chainID),
			zap.Int("discarded", discarded),
			zap.Int("normalized", len(out)),
		)
	}
	return out
}

func stringField(raw map[string]any, key string) (string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing")
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("not a string")
	}
	return s, nil
}

func firstDefined(raw map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// normalizeAddress maps a missing or null "to" to the canonical absent
// representation (empty string), matching contract-creation transactions.
func normalizeAddress(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("not a string")
	}
	if s == "" {
		return "", nil
	}
	return strings.ToLower(s), nil
}

// hexToBase10 decodes a 0x-hex integer to its base-10 string form.
// Absent values default to "0".
func hexToBase10(v any) (string, error) {
	if v == nil {
		return "0", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("not a hex string")
	}
	if s == "" {
		return "0", nil
	}
	n, err := hexutil.DecodeBig(s)
	if err != nil {
		return "", fmt.Errorf("invalid hex integer %q: %w", s, err)
	}
	return bigToBase10(n), nil
}

// hexToBase10Optional decodes an optional hex integer, returning "" (not
// "0") when the field is absent so callers can distinguish "unset" from
// "explicitly zero".
func hexToBase10Optional(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	return hexToBase10(v)
}

func hexToUint64(v any) (uint64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("not a hex string")
	}
	if s == "" {
		return 0, nil
	}
	n, err := hexutil.DecodeUint64(s)
	if err != nil {
		return 0, fmt.Errorf("invalid hex integer %q: %w", s, err)
	}
	return n, nil
}

func bigToBase10(n *big.Int) string {
	if n.Sign() < 0 {
		n = new(big.Int).Abs(n)
	}
	return n.String()
}
