// Package identity produces random but structurally valid Brazilian payers for
// synthetic payment requests.
package identity

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

const (
	MinAmountCents = 1_000
	MaxAmountCents = 50_000
)

var (
	firstNames = []string{
		"Ana", "Bruno", "Carla", "Diego", "Elena", "Felipe", "Gabriela",
		"Hugo", "Isabela", "João", "Karen", "Lucas", "Marina", "Nathan",
		"Olivia", "Pedro", "Rafael", "Sofia", "Tiago", "Vitória",
	}
	lastNames = []string{
		"Almeida", "Araújo", "Barbosa", "Carvalho", "Costa", "Ferreira",
		"Freitas", "Gomes", "Lima", "Martins", "Nascimento", "Oliveira",
		"Pereira", "Ribeiro", "Rocha", "Rodrigues", "Santos", "Silva",
		"Souza", "Tavares",
	}
	emailDomains = []string{
		"gmail.com", "hotmail.com", "outlook.com", "yahoo.com.br", "icloud.com",
	}
	// AreaCodes are the mobile area codes a generated phone number may use.
	AreaCodes = []string{"11", "21", "31", "41", "51", "61", "71", "81", "85", "91"}
)

// Payer is one synthetic customer with the amount they will be billed.
type Payer struct {
	AmountCents int64
	Name        string
	TaxID       string
	Email       string
	Phone       string
}

// Generator draws payers from an injectable random source. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator creates a generator. A nil source is replaced by a time-seeded one.
func NewGenerator(rnd *rand.Rand) *Generator {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{rnd: rnd}
}

// RandomPayer returns a payer with a valid tax id, a mobile phone and an amount in range.
func (g *Generator) RandomPayer() Payer {
	g.mu.Lock()
	defer g.mu.Unlock()

	first := firstNames[g.rnd.Intn(len(firstNames))]
	last := lastNames[g.rnd.Intn(len(lastNames))]
	seq := g.rnd.Intn(999) + 1
	domain := emailDomains[g.rnd.Intn(len(emailDomains))]

	return Payer{
		AmountCents: int64(MinAmountCents + g.rnd.Intn(MaxAmountCents-MinAmountCents+1)),
		Name:        first + " " + last,
		TaxID:       g.taxID(),
		Email:       fmt.Sprintf("%s.%s%d@%s", strings.ToLower(first), strings.ToLower(last), seq, domain),
		Phone:       g.phone(),
	}
}

// IntBetween returns a uniform integer in [min, max].
func (g *Generator) IntBetween(min, max int) int {
	if max <= min {
		return min
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return min + g.rnd.Intn(max-min+1)
}

func (g *Generator) taxID() string {
	digits := make([]int, 9, 11)
	for i := range digits {
		digits[i] = g.rnd.Intn(10)
	}
	digits = append(digits, checkDigit(digits, 10))
	digits = append(digits, checkDigit(digits, 11))

	return fmt.Sprintf("%d%d%d.%d%d%d.%d%d%d-%d%d",
		digits[0], digits[1], digits[2], digits[3], digits[4], digits[5],
		digits[6], digits[7], digits[8], digits[9], digits[10])
}

func (g *Generator) phone() string {
	var b strings.Builder
	b.WriteString("+55")
	b.WriteString(AreaCodes[g.rnd.Intn(len(AreaCodes))])
	b.WriteByte('9')
	for i := 0; i < 8; i++ {
		b.WriteByte(byte('0' + g.rnd.Intn(10)))
	}
	return b.String()
}

// checkDigit computes one mod-11 check digit over digits with weights factor down to 2.
func checkDigit(digits []int, factor int) int {
	total := 0
	for i, d := range digits {
		weight := factor - i
		if weight < 2 {
			break
		}
		total += weight * d
	}
	remainder := total % 11
	if remainder < 2 {
		return 0
	}
	return 11 - remainder
}

// ValidTaxID reports whether s is a formatted tax id (XXX.XXX.XXX-DD) with correct check digits.
func ValidTaxID(s string) bool {
	if len(s) != 14 || s[3] != '.' || s[7] != '.' || s[11] != '-' {
		return false
	}
	digits := make([]int, 0, 11)
	for i, r := range s {
		if i == 3 || i == 7 || i == 11 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
		digits = append(digits, int(r-'0'))
	}
	return checkDigit(digits[:9], 10) == digits[9] && checkDigit(digits[:10], 11) == digits[10]
}
