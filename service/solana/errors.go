package solana

import (
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ProgramError is a custom error the vault program can return.
type ProgramError struct {
	Code uint32
	Name string
	Msg  string
}

// Vault program error codes.
var (
	ErrProgramInvalidAmount         = ProgramError{Code: 6000, Name: "InvalidAmount", Msg: "Invalid deposit amount"}
	ErrProgramInvalidNFTCollection  = ProgramError{Code: 6001, Name: "InvalidNftCollection", Msg: "NFT does not belong to required collection"}
	ErrProgramInsufficientShares    = ProgramError{Code: 6002, Name: "InsufficientShares", Msg: "Insufficient shares"}
	ErrProgramInsufficientLiquidity = ProgramError{Code: 6003, Name: "InsufficientLiquidity", Msg: "Insufficient reserves"}
	ErrProgramMathOverflow          = ProgramError{Code: 6004, Name: "MathOverflow", Msg: "Mathematical overflow"}
)

var programErrors = map[uint32]ProgramError{
	ErrProgramInvalidAmount.Code:         ErrProgramInvalidAmount,
	ErrProgramInvalidNFTCollection.Code:  ErrProgramInvalidNFTCollection,
	ErrProgramInsufficientShares.Code:    ErrProgramInsufficientShares,
	ErrProgramInsufficientLiquidity.Code: ErrProgramInsufficientLiquidity,
	ErrProgramMathOverflow.Code:          ErrProgramMathOverflow,
}

// LookupProgramError returns the vault program error for code, if known.
func LookupProgramError(code uint32) (ProgramError, bool) {
	pe, ok := programErrors[code]
	return pe, ok
}

// Hex renders the code the way runtime logs do ("0x1774").
func (e ProgramError) Hex() string {
	return fmt.Sprintf("0x%x", e.Code)
}

func (e ProgramError) Error() string {
	return fmt.Sprintf("custom program error: %s (%s: %s)", e.Hex(), e.Name, e.Msg)
}

// TransactionError is a transaction that landed on chain and failed.
// Err is the status error exactly as the RPC node reported it.
type TransactionError struct {
	Signature solana.Signature
	Err       interface{}
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s failed: %s", e.Signature, DescribeTransactionError(e.Err))
}

// DescribeTransactionError renders an RPC transaction status error.
// Custom program errors are rendered with their hex code and, for the vault
// program, the error name, e.g.
// "instruction 0: custom program error: 0x1774 (MathOverflow: Mathematical overflow)".
func DescribeTransactionError(txErr interface{}) string {
	m, ok := txErr.(map[string]interface{})
	if !ok {
		return fmt.Sprintf("%v", txErr)
	}
	detail, ok := m["InstructionError"].([]interface{})
	if !ok || len(detail) != 2 {
		return fmt.Sprintf("%v", txErr)
	}

	index, _ := toUint32(detail[0])
	inner, ok := detail[1].(map[string]interface{})
	if !ok {
		return fmt.Sprintf("instruction %d: %v", index, detail[1])
	}
	code, ok := toUint32(inner["Custom"])
	if !ok {
		return fmt.Sprintf("instruction %d: %v", index, inner)
	}
	if pe, known := LookupProgramError(code); known {
		return fmt.Sprintf("instruction %d: %s", index, pe.Error())
	}
	return fmt.Sprintf("instruction %d: custom program error: 0x%x", index, code)
}

func toUint32(v interface{}) (uint32, bool) {
	switch n := v.(type) {
	case float64:
		return uint32(n), true
	case int:
		return uint32(n), true
	case int64:
		return uint32(n), true
	case uint32:
		return n, true
	case uint64:
		return uint32(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return uint32(i), true
	default:
		return 0, false
	}
}
