package resource

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestNewPairIsOrderIndependent(t *testing.T) {
	a := NewPair("WETH", "USDC")
	b := NewPair("USDC", "WETH")
	require.Equal(t, a.ID(), b.ID())
	require.Equal(t, "USDC::WETH", a.ID())
}

func TestNewKeyLayout(t *testing.T) {
	pair := NewPair("WETH", "USDC")
	key := NewKey("pool-batch", "mainnet", pair.Members...)
	require.Equal(t, Key("pool-batch::mainnet::USDC::WETH"), key)
	require.Equal(t, "pool-batch", key.Kind())
	require.Equal(t, Partition("mainnet"), key.Partition())
	require.NoError(t, key.Validate())
}

func TestKeyValidateRejectsShortKeys(t *testing.T) {
	require.Error(t, Key("pool-batch::mainnet").Validate())
	require.Error(t, NewKey("vault-metadata", "mainnet", "").Validate())
}

func TestPartitionValidate(t *testing.T) {
	require.NoError(t, Partition("mainnet").Validate())
	require.Error(t, Partition(" ").Validate())
	require.Error(t, Partition("main::net").Validate())
}

func TestBatchValidate(t *testing.T) {
	require.NoError(t, NewBatch("main-market").Validate())
	require.Error(t, BatchUnit{}.Validate())
	require.Error(t, NewBatch("a::b").Validate())
}

func TestRecordExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	forever := NewRecord("v", 0, now)
	require.Nil(t, forever.ExpiresAt)
	require.False(t, forever.Expired(now.Add(100*365*24*time.Hour)))
	require.Zero(t, forever.TTL(now))

	short := NewRecord("v", 10*time.Millisecond, now)
	require.NotNil(t, short.ExpiresAt)
	require.False(t, short.Expired(now.Add(5*time.Millisecond)))
	require.True(t, short.Expired(now.Add(10*time.Millisecond)))
	require.Equal(t, 4*time.Millisecond, short.TTL(now.Add(6*time.Millisecond)))
}

func TestRecordRoundTripValidatesPayload(t *testing.T) {
	now := time.Now().UTC()
	detail := Detail{
		LineID:     "0xpool",
		Values:     map[string]decimal.Decimal{"reserve0": decimal.RequireFromString("1250.5")},
		ObservedAt: now.Truncate(time.Second),
	}
	data, err := EncodeRecord(NewRecord(detail, time.Minute, now))
	require.NoError(t, err)

	decoded, err := DecodeRecord[Detail](data)
	require.NoError(t, err)
	require.Equal(t, "0xpool", decoded.Value.LineID)
	require.True(t, decoded.Value.Value("reserve0").Equal(decimal.RequireFromString("1250.5")))
	require.True(t, decoded.Value.Value("missing").IsZero())

	bad, err := EncodeRecord(NewRecord(Detail{}, 0, now))
	require.NoError(t, err)
	_, err = DecodeRecord[Detail](bad)
	require.Error(t, err)
}

func TestLinesValidate(t *testing.T) {
	require.NoError(t, Lines{{ID: "a"}, {ID: "b"}}.Validate())
	require.Error(t, Lines{{ID: "a"}, {ID: ""}}.Validate())
}

func TestLineValidateRejectsSeparator(t *testing.T) {
	require.NoError(t, LineUnit{ID: "0xabc"}.Validate())
	require.Error(t, LineUnit{ID: "pool::1"}.Validate())
	require.Error(t, Lines{{ID: "a"}, {ID: "::"}}.Validate())
}
