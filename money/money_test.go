package money

import (
	"testing"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestNewFromBtc(t *testing.T) {
	type args struct {
		amount decimal.Decimal
	}
	tests := []struct {
		name    string
		args    args
		want    Money
		wantErr bool
	}{
		{
			name: "NewFromBtc - Pass",
			args: args{
				amount: decimal.NewFromInt(1),
			},
			want:    100000000,
			wantErr: false,
		},
		{
			name: "NewFromBtc - Fail Negative Amount",
			args: args{
				amount: decimal.NewFromInt(-1),
			},
			want:    0,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewFromBtc(tt.args.amount)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFromBtc() error = %v, wantErr %v", err, tt.wantErr)

				return
			}
			if got != tt.want {
				t.Errorf("NewFromBtc() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewFromSats(t *testing.T) {
	tests := []struct {
		name    string
		sats    int64
		want    Money
		wantErr error
	}{
		{name: "positive", sats: 21, want: 21},
		{name: "zero", sats: 0, wantErr: ErrZeroAmount},
		{name: "negative", sats: -5, wantErr: ErrNegativeAmount},
		{name: "whole supply", sats: 2_100_000_000_000_000, want: MaxSupply},
		{name: "above supply", sats: 2_100_000_000_000_001, wantErr: ErrAmountTooLarge},
		{name: "millisat overflow", sats: 20_000_000_000_000_000, wantErr: ErrAmountTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewFromSats(tt.sats)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestMoney_ToBtc(t *testing.T) {
	tests := []struct {
		name string
		m    Money
		want decimal.Decimal
	}{
		{
			name: "To BTC - Pass",
			m:    100000000,
			want: decimal.NewFromInt(1),
		},
		{
			name: "Tip sized amount",
			m:    21,
			want: decimal.RequireFromString("0.00000021"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.ToBtc(); got.Cmp(tt.want) != 0 {
				t.Errorf("Money.ToBtc() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMoney_Conversions(t *testing.T) {
	m := Money(500)
	require.Equal(t, lnwire.MilliSatoshi(500000), m.ToMilliSat())
	require.Equal(t, int64(500), m.Int64())
	require.Equal(t, "500 sats", m.String())
}
