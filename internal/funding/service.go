// ==============================================================================
// FUNDING SERVICE - internal/funding/service.go
// ==============================================================================
package funding

import (
	"context"
	"fmt"

	"ilpsdk/internal/credential"
	"ilpsdk/internal/domain"
	"ilpsdk/internal/engine"
	"ilpsdk/pkg/errors"
	"ilpsdk/pkg/logger"

	"github.com/shopspring/decimal"
)

// Authorization is what a caller approves before funds move on-chain.
// Amounts are in the engine's exchange unit.
type Authorization struct {
	AssetCode string          `json:"asset_code"`
	Value     decimal.Decimal `json:"value"`
	Fee       decimal.Decimal `json:"fee"`
}

// Authorize approves or denies a value-moving operation.
type Authorize func(ctx context.Context, auth Authorization) bool

// Receipt describes a submitted on-chain operation.
type Receipt struct {
	TxHash    string          `json:"tx_hash"`
	AssetCode string          `json:"asset_code"`
	Value     decimal.Decimal `json:"value"`
	Fee       decimal.Decimal `json:"fee"`
}

type Service struct {
	managers map[domain.SettlementType]ChannelManager
	logger   logger.Logger
}

func NewService(managers map[domain.SettlementType]ChannelManager, log logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{managers: managers, logger: log}
}

func (s *Service) manager(t domain.SettlementType) ChannelManager {
	if m, ok := s.managers[t]; ok && m != nil {
		return m
	}
	return NewDisabled(t)
}

// Deposit moves amount (exchange units) into the credential's channel once
// authorize approves the value and estimated fee.
func (s *Service) Deposit(ctx context.Context, eng *engine.SettlementEngine, cred credential.Ready, amount decimal.Decimal, authorize Authorize) (*Receipt, error) {
	base := eng.ToBaseUnit(amount)
	if !base.IsPositive() {
		return nil, errors.Wrap(errors.ErrInvalidAmount, fmt.Sprintf("deposit of %s %s", amount, eng.AssetCode))
	}

	m := s.manager(eng.Type)
	fee, err := m.DepositFee(ctx, cred)
	if err != nil {
		return nil, errors.Wrap(err, "failed to estimate deposit fee")
	}

	auth := Authorization{
		AssetCode: eng.AssetCode,
		Value:     eng.ToExchangeUnit(base),
		Fee:       eng.ToExchangeUnit(fee),
	}
	if authorize == nil || !authorize(ctx, auth) {
		s.logger.Info("Deposit denied", map[string]interface{}{
			"settlement_type": string(eng.Type),
			"value":           auth.Value.String(),
			"fee":             auth.Fee.String(),
		})
		return nil, errors.ErrAuthorizationDenied
	}

	txHash, err := m.Deposit(ctx, cred, base)
	if err != nil {
		s.logger.Error("Deposit failed", map[string]interface{}{
			"settlement_type": string(eng.Type),
			"credential_id":   cred.UniqueID(),
			"error":           err.Error(),
		})
		return nil, err
	}

	s.logger.Info("Deposit submitted", map[string]interface{}{
		"settlement_type": string(eng.Type),
		"credential_id":   cred.UniqueID(),
		"tx_hash":         txHash,
		"value":           auth.Value.String(),
	})
	return &Receipt{TxHash: txHash, AssetCode: eng.AssetCode, Value: auth.Value, Fee: auth.Fee}, nil
}

// Withdraw closes the credential's channel and returns its remaining value
// on-chain, once authorize approves.
func (s *Service) Withdraw(ctx context.Context, eng *engine.SettlementEngine, cred credential.Ready, authorize Authorize) (*Receipt, error) {
	m := s.manager(eng.Type)
	value, fee, err := m.WithdrawQuote(ctx, cred)
	if err != nil {
		return nil, errors.Wrap(err, "failed to quote withdrawal")
	}

	auth := Authorization{
		AssetCode: eng.AssetCode,
		Value:     eng.ToExchangeUnit(value),
		Fee:       eng.ToExchangeUnit(fee),
	}
	if authorize == nil || !authorize(ctx, auth) {
		s.logger.Info("Withdrawal denied", map[string]interface{}{
			"settlement_type": string(eng.Type),
			"value":           auth.Value.String(),
			"fee":             auth.Fee.String(),
		})
		return nil, errors.ErrAuthorizationDenied
	}

	txHash, err := m.Withdraw(ctx, cred)
	if err != nil {
		s.logger.Error("Withdrawal failed", map[string]interface{}{
			"settlement_type": string(eng.Type),
			"credential_id":   cred.UniqueID(),
			"error":           err.Error(),
		})
		return nil, err
	}

	s.logger.Info("Withdrawal submitted", map[string]interface{}{
		"settlement_type": string(eng.Type),
		"credential_id":   cred.UniqueID(),
		"tx_hash":         txHash,
		"value":           auth.Value.String(),
	})
	return &Receipt{TxHash: txHash, AssetCode: eng.AssetCode, Value: auth.Value, Fee: auth.Fee}, nil
}

// MaxFee approves any operation whose fee does not exceed limit.
func MaxFee(limit decimal.Decimal) Authorize {
	return func(_ context.Context, auth Authorization) bool {
		return auth.Fee.LessThanOrEqual(limit)
	}
}

// Interfaces

// ChannelManager performs the on-chain side of funding for one settlement
// type. Amounts are in base units.
type ChannelManager interface {
	DepositFee(ctx context.Context, cred credential.Ready) (decimal.Decimal, error)
	Deposit(ctx context.Context, cred credential.Ready, amount decimal.Decimal) (string, error)
	WithdrawQuote(ctx context.Context, cred credential.Ready) (value, fee decimal.Decimal, err error)
	Withdraw(ctx context.Context, cred credential.Ready) (string, error)
}

// Channels submits channel transactions for one backend.
type Channels interface {
	Deposit(ctx context.Context, cred credential.Ready, amount decimal.Decimal) (string, error)
	// Value is what closing the channel would return to the credential.
	Value(ctx context.Context, cred credential.Ready) (decimal.Decimal, error)
	Withdraw(ctx context.Context, cred credential.Ready) (string, error)
}
