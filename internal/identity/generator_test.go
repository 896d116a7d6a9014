package identity

import (
	"math/rand"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	taxIDPattern = regexp.MustCompile(`^\d{3}\.\d{3}\.\d{3}-\d{2}$`)
	phonePattern = regexp.MustCompile(`^\+55\d{2}9\d{8}$`)
)

func TestRandomPayer_ProducesValidFields(t *testing.T) {
	gen := NewGenerator(rand.New(rand.NewSource(42)))

	for i := 0; i < 500; i++ {
		payer := gen.RandomPayer()

		require.Regexp(t, taxIDPattern, payer.TaxID)
		require.True(t, ValidTaxID(payer.TaxID), "invalid check digits in %s", payer.TaxID)

		require.Len(t, payer.Phone, 14)
		require.Regexp(t, phonePattern, payer.Phone)
		assert.Contains(t, AreaCodes, payer.Phone[3:5])

		assert.GreaterOrEqual(t, payer.AmountCents, int64(MinAmountCents))
		assert.LessOrEqual(t, payer.AmountCents, int64(MaxAmountCents))

		parts := strings.Split(payer.Name, " ")
		require.Len(t, parts, 2)
		assert.True(t, strings.HasPrefix(payer.Email, strings.ToLower(parts[0])+"."+strings.ToLower(parts[1])))
		assert.Contains(t, payer.Email, "@")
	}
}

func TestRandomPayer_DeterministicWithSeed(t *testing.T) {
	a := NewGenerator(rand.New(rand.NewSource(7))).RandomPayer()
	b := NewGenerator(rand.New(rand.NewSource(7))).RandomPayer()
	assert.Equal(t, a, b)
}

func TestValidTaxID(t *testing.T) {
	tests := []struct {
		name  string
		taxID string
		want  bool
	}{
		{name: "known valid", taxID: "529.982.247-25", want: true},
		{name: "all zeros checksum", taxID: "000.000.000-00", want: true},
		{name: "wrong first digit", taxID: "529.982.247-35", want: false},
		{name: "wrong second digit", taxID: "529.982.247-26", want: false},
		{name: "unformatted", taxID: "52998224725", want: false},
		{name: "letters", taxID: "52a.982.247-25", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidTaxID(tt.taxID))
		})
	}
}

func TestCheckDigit_RemainderBelowTwoIsZero(t *testing.T) {
	assert.Equal(t, 0, checkDigit([]int{0, 0, 0, 0, 0, 0, 0, 0, 0}, 10))
	assert.Equal(t, 1, checkDigit([]int{1, 0, 0, 0, 0, 0, 0, 0, 0}, 10))
}

func TestIntBetween_StaysInRange(t *testing.T) {
	gen := NewGenerator(rand.New(rand.NewSource(1)))
	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		n := gen.IntBetween(8, 12)
		require.GreaterOrEqual(t, n, 8)
		require.LessOrEqual(t, n, 12)
		seen[n] = true
	}
	assert.Len(t, seen, 5)
	assert.Equal(t, 3, gen.IntBetween(3, 3))
}
