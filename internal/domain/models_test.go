package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int32
		want     uint64
		wantErr  bool
	}{
		{name: "fractional tokens", amount: "12.5", decimals: 6, want: 12500000},
		{name: "whole tokens", amount: "20", decimals: 6, want: 20000000},
		{name: "zero", amount: "0", decimals: 6, want: 0},
		{name: "sub-unit dust floored", amount: "0.0000004", decimals: 6, want: 0},
		{name: "dust above one unit floored", amount: "1.0000009", decimals: 6, want: 1000000},
		{name: "negative rejected", amount: "-1", decimals: 6, wantErr: true},
		{name: "overflow rejected", amount: "99999999999999999999999999", decimals: 9, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, err := decimal.NewFromString(tt.amount)
			require.NoError(t, err)

			got, err := BaseUnits(amount, tt.decimals)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
