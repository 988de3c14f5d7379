package service

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"

	"github.com/niikun/social-listening/internal/model"
)

// PersonaGenerator draws persona populations from a demographics table.
// It holds no mutable state and is safe for concurrent use.
type PersonaGenerator struct {
	demo *Demographics
}

// NewPersonaGenerator creates a generator; nil selects DefaultDemographics
func NewPersonaGenerator(demo *Demographics) *PersonaGenerator {
	if demo == nil {
		demo = DefaultDemographics()
	}
	return &PersonaGenerator{demo: demo}
}

// ResolveSeed returns *seed, or a fresh random seed when seed is nil
func ResolveSeed(seed *int64) int64 {
	if seed != nil {
		return *seed
	}
	return rand.Int64()
}

// Generate returns n personas P1..Pn. The same n and seed always produce the
// same attributes; a nil seed yields a fresh population.
func (g *PersonaGenerator) Generate(n int, seed *int64) ([]model.Persona, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: persona count must be positive, got %d", ErrConfig, n)
	}
	runSeed := ResolveSeed(seed)

	personas := make([]model.Persona, n)
	for i := range personas {
		id := "P" + strconv.Itoa(i+1)
		personas[i] = g.generateOne(i, id, personaSeed(runSeed, id))
	}
	return personas, nil
}

// personaSeed derives a per-persona seed so each slot is drawn independently
func personaSeed(runSeed int64, id string) int64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(runSeed))
	h.Write(buf[:])
	h.Write([]byte(id))
	return int64(h.Sum64())
}

func (g *PersonaGenerator) generateOne(index int, id string, seed int64) model.Persona {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	d := g.demo

	bracket := pickBracket(rng, d.AgeBrackets)
	age := bracket.Min + rng.IntN(bracket.Max-bracket.Min+1)

	gender := weightedChoice(rng, d.Gender)
	region := weightedChoice(rng, d.Region)
	occupation := weightedChoice(rng, d.Occupation)
	if age <= 20 {
		occupation = d.StudentLabel
	}
	education := weightedChoice(rng, d.Education)
	income := weightedChoice(rng, d.Income)
	family := weightedChoice(rng, d.Family)
	political := weightedChoice(rng, d.politicalFor(age))

	urbanRural := "rural"
	if d.isUrban(region) {
		urbanRural = "urban"
	}

	stance := weightedChoice(rng, d.Stance)
	if political == d.ApatheticLabel {
		stance = "indifferent"
	}

	return model.Persona{
		ID:    id,
		Index: index,
		Seed:  seed,
		Attributes: []model.Attribute{
			{Name: model.AttrAge, Value: strconv.Itoa(age)},
			{Name: model.AttrAgeBracket, Value: fmt.Sprintf("%d-%d", bracket.Min, bracket.Max)},
			{Name: model.AttrGender, Value: gender},
			{Name: model.AttrRegion, Value: region},
			{Name: model.AttrUrbanRural, Value: urbanRural},
			{Name: model.AttrOccupation, Value: occupation},
			{Name: model.AttrGeneration, Value: GenerationLabel(age)},
			{Name: model.AttrPoliticalLeaning, Value: political},
			{Name: model.AttrStance, Value: stance},
			{Name: model.AttrEducation, Value: education},
			{Name: model.AttrIncome, Value: income},
			{Name: model.AttrFamily, Value: family},
			{Name: model.AttrTraits, Value: strings.Join(pickTraits(rng, d.Traits, 2), ", ")},
		},
	}
}

func weightedChoice(rng *rand.Rand, choices []Choice) string {
	var total float64
	for _, c := range choices {
		total += c.Weight
	}
	r := rng.Float64() * total
	for _, c := range choices {
		if r < c.Weight {
			return c.Value
		}
		r -= c.Weight
	}
	return choices[len(choices)-1].Value
}

func pickBracket(rng *rand.Rand, brackets []AgeBracket) AgeBracket {
	var total float64
	for _, b := range brackets {
		total += b.Weight
	}
	r := rng.Float64() * total
	for _, b := range brackets {
		if r < b.Weight {
			return b
		}
		r -= b.Weight
	}
	return brackets[len(brackets)-1]
}

// pickTraits draws k distinct traits, preserving pool order for stable output
func pickTraits(rng *rand.Rand, pool []string, k int) []string {
	if k > len(pool) {
		k = len(pool)
	}
	idx := rng.Perm(len(pool))[:k]
	slices.Sort(idx)
	out := make([]string, 0, k)
	for _, i := range idx {
		out = append(out, pool[i])
	}
	return out
}
