package identifier

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"
)

func baseFields() Fields {
	return Fields{
		Sender:      "0xaaaa000000000000000000000000000000000001",
		Recipient:   "0xbbbb000000000000000000000000000000000002",
		Asset:       "0xcccc000000000000000000000000000000000003",
		GrossAmount: decimal.NewFromInt(100000),
		TargetChain: 137,
		Nonce:       0,
		SourceChain: 1,
	}
}

func TestKeccakPrimitive(t *testing.T) {
	h := sha3.NewLegacyKeccak256()
	assert.Equal(t,
		"c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		hex.EncodeToString(h.Sum(nil)))
}

func TestDerive_Deterministic(t *testing.T) {
	a, err := Derive(baseFields())
	require.NoError(t, err)
	b, err := Derive(baseFields())
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.False(t, a.IsZero())
}

func TestDerive_MatchesKeccakOfEncoding(t *testing.T) {
	enc, err := Encode(baseFields())
	require.NoError(t, err)

	h := sha3.NewLegacyKeccak256()
	h.Write(enc)

	id, err := Derive(baseFields())
	require.NoError(t, err)
	assert.Equal(t, h.Sum(nil), id.Bytes())
}

func TestEncode_Layout(t *testing.T) {
	f := Fields{
		Sender:      "s",
		Recipient:   "rr",
		Asset:       "",
		GrossAmount: decimal.NewFromInt(258),
		TargetChain: 2,
		Nonce:       3,
		SourceChain: 4,
	}
	enc, err := Encode(f)
	require.NoError(t, err)

	require.Len(t, enc, 4+1+4+2+4+0+4*32)
	assert.Equal(t, []byte{0, 0, 0, 1, 's'}, enc[0:5])
	assert.Equal(t, []byte{0, 0, 0, 2, 'r', 'r'}, enc[5:11])
	assert.Equal(t, []byte{0, 0, 0, 0}, enc[11:15])

	amount := enc[15:47]
	assert.Equal(t, byte(1), amount[30])
	assert.Equal(t, byte(2), amount[31])
	assert.Equal(t, byte(2), enc[47+31])
	assert.Equal(t, byte(3), enc[79+31])
	assert.Equal(t, byte(4), enc[111+31])
}

func TestDerive_FieldSensitivity(t *testing.T) {
	base, err := Derive(baseFields())
	require.NoError(t, err)

	mutations := map[string]func(*Fields){
		"sender":       func(f *Fields) { f.Sender = "0xaaaa000000000000000000000000000000000009" },
		"recipient":    func(f *Fields) { f.Recipient = "0xbbbb000000000000000000000000000000000009" },
		"asset":        func(f *Fields) { f.Asset = "0xcccc000000000000000000000000000000000009" },
		"gross amount": func(f *Fields) { f.GrossAmount = f.GrossAmount.Add(decimal.NewFromInt(1)) },
		"target chain": func(f *Fields) { f.TargetChain = 138 },
		"nonce":        func(f *Fields) { f.Nonce = 1 },
		"source chain": func(f *Fields) { f.SourceChain = 2 },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			f := baseFields()
			mutate(&f)
			id, err := Derive(f)
			require.NoError(t, err)
			assert.NotEqual(t, base, id)
		})
	}
}

func TestEncode_StringBoundariesAreUnambiguous(t *testing.T) {
	a := baseFields()
	a.Sender, a.Recipient = "ab", "c"
	b := baseFields()
	b.Sender, b.Recipient = "a", "bc"

	ida, err := Derive(a)
	require.NoError(t, err)
	idb, err := Derive(b)
	require.NoError(t, err)
	assert.NotEqual(t, ida, idb)
}

func TestAmountWord_Rejects(t *testing.T) {
	cases := map[string]decimal.Decimal{
		"negative":   decimal.NewFromInt(-1),
		"fractional": decimal.RequireFromString("1.5"),
		"too wide":   decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 256), 0),
	}
	for name, amount := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := AmountWord(amount)
			assert.Error(t, err)
		})
	}
}

func TestAmountWord_AcceptsMaximum(t *testing.T) {
	max := decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 256), 0).Sub(decimal.NewFromInt(1))
	word, err := AmountWord(max)
	require.NoError(t, err)
	for _, b := range word {
		assert.Equal(t, byte(0xff), b)
	}
}
