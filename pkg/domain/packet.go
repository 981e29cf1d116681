package domain

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrorCode is an ILP reject code
type ErrorCode string

const (
	CodeBadRequest        ErrorCode = "F00"
	CodeUnreachable       ErrorCode = "F02"
	CodeWrongCondition    ErrorCode = "F05"
	CodeUnexpectedPayment ErrorCode = "F06"
	CodeAmountTooLarge    ErrorCode = "F08"
	CodeApplicationError  ErrorCode = "F99"
	CodeInternalError     ErrorCode = "T00"
	CodeInsufficientLiq   ErrorCode = "T04"
	CodeTransferTimedOut  ErrorCode = "R00"
)

// Final reports whether the code belongs to the F (final) family.
func (c ErrorCode) Final() bool {
	return len(c) > 0 && c[0] == 'F'
}

// Prepare is a conditional transfer request
type Prepare struct {
	Destination        string
	Amount             uint64
	ExecutionCondition [32]byte
	ExpiresAt          time.Time
	Data               []byte
}

// Expired reports whether the prepare can no longer be fulfilled.
func (p *Prepare) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// Reply is either *Fulfill or *Reject.
type Reply interface {
	reply()
}

type Fulfill struct {
	Fulfillment [32]byte
	Data        []byte
}

type Reject struct {
	Code        ErrorCode
	TriggeredBy string
	Message     string
	Data        []byte
}

func (*Fulfill) reply() {}
func (*Reject) reply()  {}

func (r *Reject) String() string {
	return fmt.Sprintf("%s %s (triggered by %q)", r.Code, r.Message, r.TriggeredBy)
}

func NewReject(code ErrorCode, triggeredBy, message string) *Reject {
	return &Reject{Code: code, TriggeredBy: triggeredBy, Message: message}
}

// Condition returns the SHA-256 hash lock for a preimage.
func Condition(preimage [32]byte) [32]byte {
	return sha256.Sum256(preimage[:])
}

// Matches reports whether the fulfillment unlocks the condition.
func (f *Fulfill) Matches(condition [32]byte) bool {
	c := Condition(f.Fulfillment)
	return bytes.Equal(c[:], condition[:])
}

// RandomFulfillment generates a fresh single-use preimage.
func RandomFulfillment() ([32]byte, error) {
	var preimage [32]byte
	if _, err := rand.Read(preimage[:]); err != nil {
		return preimage, err
	}
	return preimage, nil
}

// AmountTooLarge is the F08 diagnostic payload.
type AmountTooLarge struct {
	ReceivedAmount uint64
	MaximumAmount  uint64
}

func (a AmountTooLarge) Encode() []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], a.ReceivedAmount)
	binary.BigEndian.PutUint64(buf[8:], a.MaximumAmount)
	return buf
}

func DecodeAmountTooLarge(data []byte) (AmountTooLarge, error) {
	if len(data) < 16 {
		return AmountTooLarge{}, errors.New("amount too large payload shorter than 16 bytes")
	}
	return AmountTooLarge{
		ReceivedAmount: binary.BigEndian.Uint64(data[:8]),
		MaximumAmount:  binary.BigEndian.Uint64(data[8:16]),
	}, nil
}

// NewAmountTooLarge builds an F08 reject carrying the diagnostic payload.
func NewAmountTooLarge(triggeredBy string, received, maximum uint64) *Reject {
	return &Reject{
		Code:        CodeAmountTooLarge,
		TriggeredBy: triggeredBy,
		Message:     "packet size too large",
		Data:        AmountTooLarge{ReceivedAmount: received, MaximumAmount: maximum}.Encode(),
	}
}
