package policy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestComputeFee(t *testing.T) {
	tests := []struct {
		gross string
		bps   uint32
		fee   string
	}{
		{"100000", 30, "300"},
		{"0", 30, "0"},
		{"333", 30, "0"},
		{"334", 30, "1"},
		{"9999", 1, "0"},
		{"10000", 1, "1"},
		{"12345", 1000, "1234"},
		{"12345", 0, "0"},
		{"115792089237316195423570985008687907853269984665640564039457584007913129639935", 1000,
			"11579208923731619542357098500868790785326998466564056403945758400791312963993"},
	}
	for _, tt := range tests {
		t.Run(tt.gross, func(t *testing.T) {
			gross := decimal.RequireFromString(tt.gross)
			fee, net := SplitAmount(gross, tt.bps)
			assert.Equal(t, tt.fee, fee.String())
			assert.True(t, fee.Add(net).Equal(gross))
			assert.True(t, fee.LessThanOrEqual(gross))
		})
	}
}

func TestSplitAmount_FloorProperty(t *testing.T) {
	for gross := int64(0); gross < 2000; gross += 7 {
		for _, bps := range []uint32{0, 1, 9, 30, 250, 999, 1000} {
			g := decimal.NewFromInt(gross)
			fee, net := SplitAmount(g, bps)

			want := gross * int64(bps) / 10000
			assert.Equal(t, want, fee.IntPart(), "gross=%d bps=%d", gross, bps)
			assert.False(t, net.IsNegative())
			assert.True(t, fee.LessThanOrEqual(MaxFee(g)))
		}
	}
}
