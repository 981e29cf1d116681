package funding

import (
	"context"
	"math/big"
	"testing"

	"ilpsdk/internal/credential"
	"ilpsdk/internal/domain"
	"ilpsdk/internal/engine"
	"ilpsdk/pkg/errors"
	"ilpsdk/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mocks

type MockGasPricer struct {
	mock.Mock
}

func (m *MockGasPricer) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

type MockChannels struct {
	mock.Mock
}

func (m *MockChannels) Deposit(ctx context.Context, cred credential.Ready, amount decimal.Decimal) (string, error) {
	args := m.Called(ctx, cred, amount)
	return args.String(0), args.Error(1)
}

func (m *MockChannels) Value(ctx context.Context, cred credential.Ready) (decimal.Decimal, error) {
	args := m.Called(ctx, cred)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockChannels) Withdraw(ctx context.Context, cred credential.Ready) (string, error) {
	args := m.Called(ctx, cred)
	return args.String(0), args.Error(1)
}

const testEthereumKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func setupCredential(t *testing.T, cfg credential.Config) credential.Ready {
	reg := credential.NewRegistry(credential.Dialers{}, logger.NewNop())
	cred, err := reg.Setup(context.Background(), cfg)
	require.NoError(t, err)
	return cred
}

func testEngine(t *testing.T, st domain.SettlementType) *engine.SettlementEngine {
	reg, err := engine.NewRegistry("local")
	require.NoError(t, err)
	eng, err := reg.Get(st)
	require.NoError(t, err)
	return eng
}

func gwei(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), big.NewInt(1e9))
}

func TestEthereumWithdrawFee(t *testing.T) {
	ctx := context.Background()
	cred := setupCredential(t, credential.EthereumConfig{PrivateKey: testEthereumKey})
	eng := testEngine(t, domain.Machinomy)

	gas := new(MockGasPricer)
	gas.On("SuggestGasPrice", mock.Anything).Return(gwei(20), nil)
	channels := new(MockChannels)
	channels.On("Value", mock.Anything, cred).Return(decimal.NewFromInt(500000000), nil)
	channels.On("Withdraw", mock.Anything, cred).Return("0xabc", nil)

	svc := NewService(map[domain.SettlementType]ChannelManager{
		domain.Machinomy: NewEthereumManager(gas, channels),
	}, logger.NewNop())

	var seen Authorization
	receipt, err := svc.Withdraw(ctx, eng, cred, func(_ context.Context, auth Authorization) bool {
		seen = auth
		return true
	})
	require.NoError(t, err)

	// one claim-and-close transaction: 20 gwei x 100000 gas
	assert.True(t, seen.Fee.Equal(decimal.NewFromFloat(0.002)), seen.Fee.String())
	assert.True(t, seen.Value.Equal(decimal.NewFromFloat(0.5)))
	assert.Equal(t, "ETH", seen.AssetCode)
	assert.Equal(t, "0xabc", receipt.TxHash)
	assert.True(t, receipt.Fee.Equal(seen.Fee))
	gas.AssertExpectations(t)
	channels.AssertExpectations(t)
}

func TestEthereumDepositFeeAndDenial(t *testing.T) {
	ctx := context.Background()
	cred := setupCredential(t, credential.EthereumConfig{PrivateKey: testEthereumKey})
	eng := testEngine(t, domain.Machinomy)

	gas := new(MockGasPricer)
	gas.On("SuggestGasPrice", mock.Anything).Return(gwei(10), nil)
	channels := new(MockChannels)
	oneEther := mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(decimal.NewFromInt(1000000000)) })
	channels.On("Deposit", mock.Anything, cred, oneEther).Return("0xdef", nil)

	svc := NewService(map[domain.SettlementType]ChannelManager{
		domain.Machinomy: NewEthereumManager(gas, channels),
	}, logger.NewNop())

	// 10 gwei x 150000 gas = 0.0015 ETH
	_, err := svc.Deposit(ctx, eng, cred, decimal.NewFromInt(1), MaxFee(decimal.NewFromFloat(0.001)))
	assert.Equal(t, errors.ErrAuthorizationDenied, err)
	channels.AssertNotCalled(t, "Deposit", mock.Anything, mock.Anything, mock.Anything)

	receipt, err := svc.Deposit(ctx, eng, cred, decimal.NewFromInt(1), MaxFee(decimal.NewFromFloat(0.0015)))
	require.NoError(t, err)
	assert.Equal(t, "0xdef", receipt.TxHash)
	assert.True(t, receipt.Value.Equal(decimal.NewFromInt(1)))
	channels.AssertExpectations(t)
}

func TestDepositRejectsDustAndNilAuthorize(t *testing.T) {
	ctx := context.Background()
	cred := setupCredential(t, credential.XrpConfig{Secret: "snoPBrXtMeMyMHUVTgbuqAfg1SUTb"})
	eng := testEngine(t, domain.XrpPaychan)
	channels := new(MockChannels)
	svc := NewService(map[domain.SettlementType]ChannelManager{
		domain.XrpPaychan: NewXrpManager(0, channels),
	}, logger.NewNop())

	_, err := svc.Deposit(ctx, eng, cred, decimal.New(1, -12), MaxFee(decimal.NewFromInt(1)))
	assert.True(t, errors.Is(err, errors.ErrInvalidAmount))

	_, err = svc.Deposit(ctx, eng, cred, decimal.NewFromInt(10), nil)
	assert.Equal(t, errors.ErrAuthorizationDenied, err)
}

func TestXrpFee(t *testing.T) {
	cred := setupCredential(t, credential.XrpConfig{Secret: "snoPBrXtMeMyMHUVTgbuqAfg1SUTb"})
	m := NewXrpManager(0, nil)

	fee, err := m.DepositFee(context.Background(), cred)
	require.NoError(t, err)
	// 12 drops at scale 9
	assert.True(t, fee.Equal(decimal.NewFromInt(12000)))

	_, err = m.Deposit(context.Background(), cred, decimal.NewFromInt(1))
	assert.True(t, errors.Is(err, errors.ErrNotSupported))
}

func TestLightningFundingNotSupported(t *testing.T) {
	eng := testEngine(t, domain.Lightning)
	svc := NewService(nil, logger.NewNop())
	approve := func(context.Context, Authorization) bool { return true }

	_, err := svc.Deposit(context.Background(), eng, nil, decimal.NewFromInt(1), approve)
	assert.True(t, errors.Is(err, errors.ErrNotSupported))

	_, err = svc.Withdraw(context.Background(), eng, nil, approve)
	assert.True(t, errors.Is(err, errors.ErrNotSupported))
}

func TestEthereumWithoutRPC(t *testing.T) {
	cred := setupCredential(t, credential.EthereumConfig{PrivateKey: testEthereumKey})
	_, err := NewEthereumManager(nil, nil).DepositFee(context.Background(), cred)
	assert.True(t, errors.Is(err, errors.ErrNotSupported))
}
