package entities

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// MaxFeeRateBps caps the fee rate at 10%.
const MaxFeeRateBps uint32 = 1000

// BpsDenominator is the number of basis points in a whole.
const BpsDenominator = 10000

// Policy is the administrative configuration of a bridge node.
type Policy struct {
	ChainID           uint64          `json:"chain_id"`
	SupportedAssets   []string        `json:"supported_assets"`
	SupportedChains   []uint64        `json:"supported_chains"`
	FeeRateBps        uint32          `json:"fee_rate_bps"`
	MinTransferAmount decimal.Decimal `json:"min_transfer_amount"`
	MaxTransferAmount decimal.Decimal `json:"max_transfer_amount"`
	Paused            bool            `json:"paused"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// SupportsAsset reports whether asset is enabled.
func (p *Policy) SupportsAsset(asset string) bool {
	for _, a := range p.SupportedAssets {
		if a == asset {
			return true
		}
	}
	return false
}

// SupportsChain reports whether chain is enabled as a counterparty.
func (p *Policy) SupportsChain(chain uint64) bool {
	for _, c := range p.SupportedChains {
		if c == chain {
			return true
		}
	}
	return false
}

// SetAsset enables or disables asset, keeping the list sorted.
func (p *Policy) SetAsset(asset string, supported bool) {
	out := make([]string, 0, len(p.SupportedAssets)+1)
	for _, a := range p.SupportedAssets {
		if a != asset {
			out = append(out, a)
		}
	}
	if supported {
		out = append(out, asset)
	}
	sort.Strings(out)
	p.SupportedAssets = out
}

// SetChain enables or disables chain, keeping the list sorted.
func (p *Policy) SetChain(chain uint64, supported bool) {
	out := make([]uint64, 0, len(p.SupportedChains)+1)
	for _, c := range p.SupportedChains {
		if c != chain {
			out = append(out, c)
		}
	}
	if supported {
		out = append(out, chain)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	p.SupportedChains = out
}

// Clone returns a deep copy.
func (p *Policy) Clone() *Policy {
	c := *p
	c.SupportedAssets = append([]string(nil), p.SupportedAssets...)
	c.SupportedChains = append([]uint64(nil), p.SupportedChains...)
	return &c
}
