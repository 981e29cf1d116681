// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// Registry errors
	ErrUplinkNotFound        = errors.New("uplink not found")
	ErrUplinkExists          = errors.New("uplink already exists")
	ErrCredentialNotFound    = errors.New("credential not found")
	ErrUnknownSettlementType = errors.New("unknown settlement type")
	ErrUnknownConnector      = errors.New("unknown remote connector")
	ErrInvalidStateDocument  = errors.New("invalid state document")
	ErrCredentialStillInUse  = errors.New("credential still referenced by uplinks")

	// Configuration errors
	ErrInvalidSecret        = errors.New("invalid credential secret")
	ErrInvalidBalanceConfig = errors.New("invalid balance limits")
	ErrInvalidConfig        = errors.New("invalid configuration")

	// Protocol errors
	ErrAssetMismatch      = errors.New("peer asset does not match settlement engine")
	ErrInvalidFulfillment = errors.New("fulfillment does not match execution condition")
	ErrHandshakeFailed    = errors.New("capability handshake failed")
	ErrNotConnected       = errors.New("transport not connected")
	ErrUplinkNotReady     = errors.New("uplink not ready")
	ErrTransportClosed    = errors.New("transport closed")
	ErrReplyTimeout       = errors.New("packet reply timed out")

	// Stream errors
	ErrStreamIdle          = errors.New("no packets fulfilled within idle timeout")
	ErrPacketSizeExhausted = errors.New("maximum packet amount reduced to zero")
	ErrInvalidAmount       = errors.New("invalid amount")

	// Rate errors
	ErrRateNotAvailable = errors.New("exchange rate not available")

	// Funding errors
	ErrAuthorizationDenied = errors.New("value-moving operation denied by authorize callback")
	ErrNotSupported        = errors.New("operation not supported by settlement engine")
)

// New returns an error with the given text.
func New(text string) error {
	return errors.New(text)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
