// Package domain re-exports core domain types so internal code can import
// `ilpsdk/internal/domain` while using definitions from `ilpsdk/pkg/domain`.
package domain

import pkg "ilpsdk/pkg/domain"

// SettlementType identifies a settlement backend.
type SettlementType = pkg.SettlementType

// Unit is an asset denomination.
type Unit = pkg.Unit

// Prepare is a conditional transfer request.
type Prepare = pkg.Prepare

// Reply is the result of a prepare.
type Reply = pkg.Reply

// Fulfill carries the preimage unlocking a prepare.
type Fulfill = pkg.Fulfill

// Reject carries an error code and diagnostic data.
type Reject = pkg.Reject

// ErrorCode is an ILP reject code.
type ErrorCode = pkg.ErrorCode

// AmountTooLarge is the F08 payload.
type AmountTooLarge = pkg.AmountTooLarge

// Re-exported settlement types.
const (
	Lightning  = pkg.Lightning
	Machinomy  = pkg.Machinomy
	XrpPaychan = pkg.XrpPaychan
)

// Re-exported error codes.
const (
	CodeBadRequest        = pkg.CodeBadRequest
	CodeUnreachable       = pkg.CodeUnreachable
	CodeWrongCondition    = pkg.CodeWrongCondition
	CodeUnexpectedPayment = pkg.CodeUnexpectedPayment
	CodeAmountTooLarge    = pkg.CodeAmountTooLarge
	CodeApplicationError  = pkg.CodeApplicationError
	CodeInternalError     = pkg.CodeInternalError
	CodeInsufficientLiq   = pkg.CodeInsufficientLiq
	CodeTransferTimedOut  = pkg.CodeTransferTimedOut
)

var (
	SettlementTypes      = pkg.SettlementTypes
	ParseSettlementType  = pkg.ParseSettlementType
	Rescale              = pkg.Rescale
	Condition            = pkg.Condition
	RandomFulfillment    = pkg.RandomFulfillment
	NewReject            = pkg.NewReject
	NewAmountTooLarge    = pkg.NewAmountTooLarge
	DecodeAmountTooLarge = pkg.DecodeAmountTooLarge
)
