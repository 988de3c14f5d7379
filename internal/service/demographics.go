package service

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Choice is one weighted category value
type Choice struct {
	Value  string  `yaml:"value" json:"value"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// AgeBracket is an inclusive age range with a population weight
type AgeBracket struct {
	Min    int     `yaml:"min" json:"min"`
	Max    int     `yaml:"max" json:"max"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// Demographics are the category distributions personas are drawn from
type Demographics struct {
	AgeBrackets     []AgeBracket `yaml:"age_brackets" json:"ageBrackets"`
	Gender          []Choice     `yaml:"gender" json:"gender"`
	Region          []Choice     `yaml:"region" json:"region"`
	UrbanRegions    []string     `yaml:"urban_regions" json:"urbanRegions"`
	Occupation      []Choice     `yaml:"occupation" json:"occupation"`
	Education       []Choice     `yaml:"education" json:"education"`
	Income          []Choice     `yaml:"income" json:"income"`
	Family          []Choice     `yaml:"family" json:"family"`
	Political       []Choice     `yaml:"political" json:"political"`
	PoliticalYoung  []Choice     `yaml:"political_young" json:"politicalYoung"`   // age <= 29
	PoliticalSenior []Choice     `yaml:"political_senior" json:"politicalSenior"` // age >= 65
	Stance          []Choice     `yaml:"stance" json:"stance"`
	Traits          []string     `yaml:"traits" json:"traits"`
	StudentLabel    string       `yaml:"student_label" json:"studentLabel"`
	ApatheticLabel  string       `yaml:"apathetic_label" json:"apatheticLabel"`
}

// DefaultDemographics mirrors national census shares for Japan
func DefaultDemographics() *Demographics {
	return &Demographics{
		AgeBrackets: []AgeBracket{
			{0, 14, 11.2}, {15, 24, 9.8}, {25, 34, 12.1}, {35, 44, 14.2},
			{45, 54, 13.8}, {55, 64, 13.9}, {65, 74, 12.5}, {75, 100, 16.8},
		},
		Gender: []Choice{{"male", 50}, {"female", 50}},
		Region: []Choice{
			{"Tokyo", 11.4}, {"Kanagawa", 7.5}, {"Osaka", 7.1}, {"Aichi", 6.1},
			{"Saitama", 5.9}, {"Chiba", 5.1}, {"Hyogo", 4.4}, {"Hokkaido", 4.2},
			{"Fukuoka", 4.1}, {"Shizuoka", 3.0}, {"Other", 40.7},
		},
		UrbanRegions: []string{"Tokyo", "Kanagawa", "Osaka", "Aichi", "Saitama", "Chiba"},
		Occupation: []Choice{
			{"office worker (clerical)", 23.1}, {"office worker (technical)", 15.8},
			{"service industry", 12.6}, {"sales", 11.0}, {"manufacturing", 13.9},
			{"construction", 6.7}, {"public servant", 3.2}, {"self-employed", 8.5},
			{"student", 4.2}, {"unemployed or retired", 12.8}, {"other", 14.7},
		},
		Education: []Choice{
			{"junior high school", 8.2}, {"high school", 35.4}, {"vocational school", 18.7},
			{"junior college", 9.1}, {"university", 24.8}, {"graduate school", 3.8},
		},
		Income: []Choice{
			{"under 2M JPY", 15.3}, {"2-3M JPY", 18.7}, {"3-4M JPY", 16.9},
			{"4-5M JPY", 14.2}, {"5-6M JPY", 11.8}, {"6-8M JPY", 12.4},
			{"8-10M JPY", 6.8}, {"over 10M JPY", 3.9},
		},
		Family: []Choice{
			{"single", 28.8}, {"couple", 20.3}, {"two generations", 29.5},
			{"three generations", 8.7}, {"single parent", 7.2}, {"other", 5.5},
		},
		Political:       []Choice{{"conservative", 35.2}, {"moderate", 42.1}, {"liberal", 15.8}, {"apathetic", 6.9}},
		PoliticalYoung:  []Choice{{"conservative", 25}, {"moderate", 35}, {"liberal", 20}, {"apathetic", 20}},
		PoliticalSenior: []Choice{{"conservative", 50}, {"moderate", 35}, {"liberal", 12}, {"apathetic", 3}},
		Stance:          []Choice{{"optimistic", 30}, {"pragmatic", 40}, {"skeptical", 30}},
		Traits: []string{
			"budget-conscious", "early adopter", "family-oriented", "risk-averse",
			"community-minded", "tech-savvy", "health-conscious", "environmentally aware",
			"career-focused", "traditional", "curious", "outspoken", "cautious", "practical",
		},
		StudentLabel:   "student",
		ApatheticLabel: "apathetic",
	}
}

// LoadDemographics overlays a YAML file onto the defaults. Sections absent
// from the file keep their default distribution.
func LoadDemographics(path string) (*Demographics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read distributions: %v", ErrConfig, err)
	}
	d := DefaultDemographics()
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("%w: parse distributions: %v", ErrConfig, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate rejects empty categories and non-positive weights
func (d *Demographics) Validate() error {
	if len(d.AgeBrackets) == 0 {
		return fmt.Errorf("%w: age_brackets is empty", ErrConfig)
	}
	for _, b := range d.AgeBrackets {
		if b.Weight <= 0 || b.Max < b.Min || b.Min < 0 {
			return fmt.Errorf("%w: invalid age bracket %d-%d", ErrConfig, b.Min, b.Max)
		}
	}
	sections := map[string][]Choice{
		"gender": d.Gender, "region": d.Region, "occupation": d.Occupation,
		"education": d.Education, "income": d.Income, "family": d.Family,
		"political": d.Political, "political_young": d.PoliticalYoung,
		"political_senior": d.PoliticalSenior, "stance": d.Stance,
	}
	for name, choices := range sections {
		if len(choices) == 0 {
			return fmt.Errorf("%w: %s is empty", ErrConfig, name)
		}
		for _, c := range choices {
			if c.Weight <= 0 || c.Value == "" {
				return fmt.Errorf("%w: %s has an invalid entry %q", ErrConfig, name, c.Value)
			}
		}
	}
	if len(d.Traits) < 2 {
		return fmt.Errorf("%w: traits needs at least two entries", ErrConfig)
	}
	return nil
}

func (d *Demographics) isUrban(region string) bool {
	for _, r := range d.UrbanRegions {
		if r == region {
			return true
		}
	}
	return false
}

func (d *Demographics) politicalFor(age int) []Choice {
	switch {
	case age <= 29:
		return d.PoliticalYoung
	case age >= 65:
		return d.PoliticalSenior
	default:
		return d.Political
	}
}

// GenerationLabel buckets an age into a generation cohort
func GenerationLabel(age int) string {
	switch {
	case age <= 24:
		return "Gen Z"
	case age <= 39:
		return "Millennial"
	case age <= 54:
		return "Gen X"
	case age <= 64:
		return "Bubble"
	default:
		return "Boomer"
	}
}
