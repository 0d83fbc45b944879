package enrichment

// Result is the normalized outcome of a phone lookup. A nil *Result means
// no enrichment is available.
type Result struct {
	Valid       *bool  `json:"valid"`
	LineType    string `json:"lineType,omitempty"`
	Carrier     string `json:"carrier,omitempty"`
	Location    string `json:"location,omitempty"`
	CountryName string `json:"countryName,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
	Number      string `json:"number,omitempty"`
}

func (r *Result) empty() bool {
	return r.Valid == nil && r.LineType == "" && r.Carrier == "" && r.Location == "" &&
		r.CountryName == "" && r.CountryCode == "" && r.Number == ""
}
