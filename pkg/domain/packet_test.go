package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmountTooLargePayload(t *testing.T) {
	reject := NewAmountTooLarge("g.peer", 1000, 250)
	assert.Equal(t, CodeAmountTooLarge, reject.Code)
	assert.Len(t, reject.Data, 16)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 3, 0xe8, 0, 0, 0, 0, 0, 0, 0, 0xfa}, reject.Data)

	decoded, err := DecodeAmountTooLarge(reject.Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), decoded.ReceivedAmount)
	assert.Equal(t, uint64(250), decoded.MaximumAmount)

	_, err = DecodeAmountTooLarge([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestConditionAndFulfillment(t *testing.T) {
	preimage, err := RandomFulfillment()
	require.NoError(t, err)
	condition := Condition(preimage)

	assert.True(t, (&Fulfill{Fulfillment: preimage}).Matches(condition))

	other := preimage
	other[0] ^= 0xff
	assert.False(t, (&Fulfill{Fulfillment: other}).Matches(condition))

	// sha256 of 32 zero bytes
	zero := Condition([32]byte{})
	assert.Equal(t, byte(0x66), zero[0])
	assert.Equal(t, byte(0x68), zero[1])
}

func TestPrepareExpired(t *testing.T) {
	now := time.Now()
	p := &Prepare{ExpiresAt: now.Add(time.Second)}
	assert.False(t, p.Expired(now))
	assert.True(t, p.Expired(now.Add(2*time.Second)))
	assert.False(t, (&Prepare{}).Expired(now))
}

func TestSettlementTypesAndUnits(t *testing.T) {
	st, err := ParseSettlementType(" LND ")
	require.NoError(t, err)
	assert.Equal(t, Lightning, st)
	_, err = ParseSettlementType("paypal")
	assert.Error(t, err)

	btc := Unit{AssetCode: "BTC", Scale: 0}
	sat := Unit{AssetCode: "BTC", Scale: 8}
	assert.True(t, Rescale(decimal.NewFromFloat(0.5), btc, sat).Equal(decimal.NewFromInt(50000000)))
	assert.True(t, Rescale(decimal.NewFromInt(1), sat, btc).Equal(decimal.New(1, -8)))
	assert.True(t, CodeAmountTooLarge.Final())
	assert.False(t, CodeInsufficientLiq.Final())
}
