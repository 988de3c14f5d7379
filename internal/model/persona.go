package model

// Attribute names every generated persona carries, in prompt order
const (
	AttrAge              = "age"
	AttrAgeBracket       = "age_bracket"
	AttrGender           = "gender"
	AttrRegion           = "region"
	AttrOccupation       = "occupation"
	AttrEducation        = "education"
	AttrIncome           = "income"
	AttrFamily           = "family"
	AttrPoliticalLeaning = "political_leaning"
	AttrUrbanRural       = "urban_rural"
	AttrGeneration       = "generation"
	AttrStance           = "stance"
	AttrTraits           = "traits"
)

// Attribute is one named persona trait
type Attribute struct {
	Name  string `json:"name" bson:"name"`
	Value string `json:"value" bson:"value"`
}

// Persona is a synthetic respondent. Immutable once generated.
type Persona struct {
	ID         string      `json:"id" bson:"id"`
	Index      int         `json:"index" bson:"index"`
	Seed       int64       `json:"seed" bson:"seed"`
	Attributes []Attribute `json:"attributes" bson:"attributes"`
}

// Attr returns the value of the named attribute or "" when absent
func (p Persona) Attr(name string) string {
	for _, a := range p.Attributes {
		if a.Name == name {
			return a.Value
		}
	}
	return ""
}

// AttributeMap flattens the attributes for lookups and export
func (p Persona) AttributeMap() map[string]string {
	m := make(map[string]string, len(p.Attributes))
	for _, a := range p.Attributes {
		m[a.Name] = a.Value
	}
	return m
}
