package policy

import (
	"math/big"

	"github.com/rail-service/rail_bridge/internal/domain/entities"
	"github.com/shopspring/decimal"
)

var bpsDenominator = big.NewInt(entities.BpsDenominator)

// ComputeFee returns floor(gross * feeRateBps / 10000) for a non-negative
// integer gross amount. The product is computed exactly before dividing.
func ComputeFee(gross decimal.Decimal, feeRateBps uint32) decimal.Decimal {
	product := new(big.Int).Mul(gross.BigInt(), big.NewInt(int64(feeRateBps)))
	return decimal.NewFromBigInt(product.Quo(product, bpsDenominator), 0)
}

// SplitAmount returns the fee and the net amount for gross at the given rate.
func SplitAmount(gross decimal.Decimal, feeRateBps uint32) (fee, net decimal.Decimal) {
	fee = ComputeFee(gross, feeRateBps)
	return fee, gross.Sub(fee)
}

// MaxFee is the largest fee any permitted rate could charge on gross.
func MaxFee(gross decimal.Decimal) decimal.Decimal {
	return ComputeFee(gross, entities.MaxFeeRateBps)
}
