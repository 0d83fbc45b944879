package enrichment

import (
	"strings"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/fieldpath"
)

// ResponsePaths lists, per Result field, where known lookup providers put
// the value. The first non-empty candidate wins.
var ResponsePaths = struct {
	Valid       []string
	LineType    []string
	Carrier     []string
	Location    []string
	CountryName []string
	CountryCode []string
	Number      []string
}{
	Valid:       []string{"valid", "is_valid", "isValid", "data.valid", "phone_validation.is_valid"},
	LineType:    []string{"line_type", "lineType", "type", "carrier.type", "data.line_type", "phone_validation.line_type"},
	Carrier:     []string{"carrier", "carrier.name", "carrierName", "data.carrier", "phone_carrier.name"},
	Location:    []string{"location", "city", "region", "data.location", "phone_location"},
	CountryName: []string{"country_name", "countryName", "country.name", "data.country_name", "country"},
	CountryCode: []string{"country_code", "countryCode", "country.code", "data.country_code", "country.code_alpha2"},
	Number:      []string{"international_format", "e164", "format.international", "phone_number", "number"},
}

// mapResponse maps a raw provider response into a Result. It returns nil
// when nothing recognisable is present.
func mapResponse(raw map[string]interface{}) *Result {
	if len(raw) == 0 {
		return nil
	}

	r := &Result{
		Valid:       boolField(raw, ResponsePaths.Valid),
		LineType:    stringField(raw, ResponsePaths.LineType),
		Carrier:     stringField(raw, ResponsePaths.Carrier),
		Location:    stringField(raw, ResponsePaths.Location),
		CountryName: stringField(raw, ResponsePaths.CountryName),
		CountryCode: strings.ToUpper(stringField(raw, ResponsePaths.CountryCode)),
		Number:      stringField(raw, ResponsePaths.Number),
	}
	if r.empty() {
		return nil
	}
	return r
}

func stringField(raw map[string]interface{}, paths []string) string {
	for _, p := range paths {
		v, ok := fieldpath.Get(raw, p)
		if !ok {
			continue
		}
		if _, isBool := v.(bool); isBool {
			continue
		}
		if s, ok := fieldpath.AsString(v); ok {
			return s
		}
	}
	return ""
}

func boolField(raw map[string]interface{}, paths []string) *bool {
	for _, p := range paths {
		v, ok := fieldpath.Get(raw, p)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case bool:
			return &t
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "true", "yes", "valid":
				b := true
				return &b
			case "false", "no", "invalid":
				b := false
				return &b
			}
		}
	}
	return nil
}
