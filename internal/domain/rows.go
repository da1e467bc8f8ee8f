package domain

import (
	"encoding/json"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// ResolvedCompany is the normal form of one uploaded row after cleaning.
// Empty fields mean the row carried nothing usable for that slot.
type ResolvedCompany struct {
	Name    string `json:"company_name"`
	Type    string `json:"company_type"`
	City    string `json:"company_city"`
	Country string `json:"company_country"`
	Website string `json:"company_website"`
	Address string `json:"company_address"`
}

// Usable reports whether the row carries enough identity to research.
// Rows without a company name are counted as processed but never charged.
func (c ResolvedCompany) Usable() bool { return c.Name != "" }

var (
	urlSchemeRx  = regexp.MustCompile(`(?i)^https?://`)
	wwwPrefixRx  = regexp.MustCompile(`(?i)^www\.`)
	bareHostRx   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.-]*\.[A-Za-z]{2,}(/\S*)?$`)
	postalExact  = regexp.MustCompile(`^\d{4,6}(-\d{4})?$`)
	postalToken  = regexp.MustCompile(`\b\d{4,6}\b`)
	letterRx     = regexp.MustCompile(`[A-Za-z]`)
	digitRx      = regexp.MustCompile(`\d`)
	poBoxRx      = regexp.MustCompile(`(?i)\bP\.?\s*O\.?\s*Box\b`)
	zipInlineRx  = regexp.MustCompile(`\d{5}(-\d{4})?\s*,`)
	streetLineRx = regexp.MustCompile(`(?i)\b\d{1,6}\s+\S+(?:\s+\S+){0,4}?[\s,]+(?:st|street|ave|avenue|rd|road|blvd|boulevard|dr|drive|ln|lane|way|hwy|highway|suite|ste|apt|unit|pl|place|ct|court|cir|circle)\.?\b`)
	capsPairRx   = regexp.MustCompile(`^[A-Z]{2}$`)
	mapsPlaceRx  = regexp.MustCompile(`/place/([^/?#]+)`)
	nonAlnumRx   = regexp.MustCompile(`(?i)[^a-z0-9-]+`)
	wsRx         = regexp.MustCompile(`\s+`)
)

var placeholderValues = map[string]struct{}{
	"unknown": {}, "n/a": {}, "na": {}, "none": {}, "null": {}, "-": {}, "—": {},
}

// IsPlaceholder reports whether a cell value is empty or one of the junk
// markers that uploaded tables routinely carry in lieu of blanks.
func IsPlaceholder(s string) bool {
	t := strings.ToLower(strings.TrimSpace(s))
	if t == "" {
		return true
	}
	_, ok := placeholderValues[t]
	return ok
}

// LooksLikeURL reports whether the value is a URL or bare hostname.
func LooksLikeURL(s string) bool {
	t := strings.TrimSpace(s)
	if t == "" || strings.ContainsAny(t, " \t\n\r") {
		return false
	}
	return urlSchemeRx.MatchString(t) || wwwPrefixRx.MatchString(t) || bareHostRx.MatchString(t)
}

// LooksLikePostalCode reports whether the value is a postal code on its own:
// either an exact zip shape, or a short all-numeric token with no letters.
func LooksLikePostalCode(s string) bool {
	t := strings.TrimSpace(s)
	if t == "" {
		return false
	}
	if postalExact.MatchString(t) {
		return true
	}
	return len(t) <= 12 && !letterRx.MatchString(t) && postalToken.MatchString(t)
}

// LooksLikeAddress reports whether the value reads as a street address:
// PO Box forms, a zip followed by a comma, or a street number and suffix.
func LooksLikeAddress(s string) bool {
	t := strings.TrimSpace(s)
	if t == "" {
		return false
	}
	return poBoxRx.MatchString(t) || zipInlineRx.MatchString(t) || streetLineRx.MatchString(t)
}

// CleanCompanyName empties values that cannot be a company name: junk
// markers, URLs (the caller promotes those into the website slot), postal
// codes, and street addresses.
func CleanCompanyName(s string) string {
	t := collapseSpace(s)
	if IsPlaceholder(t) || LooksLikeURL(t) || LooksLikePostalCode(t) || LooksLikeAddress(t) {
		return ""
	}
	return t
}

// CleanCompanyType empties junk markers and URLs; anything else passes.
func CleanCompanyType(s string) string {
	t := collapseSpace(s)
	if IsPlaceholder(t) || LooksLikeURL(t) {
		return ""
	}
	return t
}

// CleanCity empties values that cannot be a city: junk markers, URLs,
// postal codes, addresses, and anything containing digits.
func CleanCity(s string) string {
	t := collapseSpace(s)
	if IsPlaceholder(t) || LooksLikeURL(t) || LooksLikePostalCode(t) || LooksLikeAddress(t) || digitRx.MatchString(t) {
		return ""
	}
	return t
}

// CleanCountry canonicalizes a country cell. Known aliases and US states
// map onto canonical country names; unrecognized two-letter codes are
// resolved through the TLD table or dropped; free text passes through.
func CleanCountry(s string) string {
	t := collapseSpace(s)
	if IsPlaceholder(t) || LooksLikeURL(t) || digitRx.MatchString(t) {
		return ""
	}
	if c := CanonicalCountry(t); c != "" {
		return c
	}
	if len(t) == 2 {
		if c, ok := tldCountries[strings.ToLower(t)]; ok {
			return c
		}
		return ""
	}
	return t
}

// CleanWebsite keeps URL-shaped values only.
func CleanWebsite(s string) string {
	t := strings.TrimSpace(s)
	if IsPlaceholder(t) || !LooksLikeURL(t) {
		return ""
	}
	return t
}

var countryAliases = map[string]string{
	"united states": "United States",
	"usa":           "United States",
	"u.s.":          "United States",
	"us":            "United States",
	"united kingdom": "United Kingdom",
	"uk":             "United Kingdom",
	"great britain":  "United Kingdom",
	"england":        "United Kingdom",
	"scotland":       "United Kingdom",
	"wales":          "United Kingdom",
	"canada":         "Canada",
	"australia":      "Australia",
	"new zealand":    "New Zealand",
	"ireland":        "Ireland",
	"germany":        "Germany",
	"france":         "France",
	"spain":          "Spain",
	"italy":          "Italy",
	"netherlands":    "Netherlands",
	"sweden":         "Sweden",
	"norway":         "Norway",
	"denmark":        "Denmark",
	"finland":        "Finland",
	"switzerland":    "Switzerland",
	"austria":        "Austria",
	"belgium":        "Belgium",
	"portugal":       "Portugal",
	"brazil":         "Brazil",
	"mexico":         "Mexico",
	"india":          "India",
	"japan":          "Japan",
	"singapore":      "Singapore",
	"united arab emirates": "United Arab Emirates",
	"uae":                  "United Arab Emirates",
	"south africa":         "South Africa",
}

var tldCountries = map[string]string{
	"us": "United States",
	"uk": "United Kingdom",
	"gb": "United Kingdom",
	"ca": "Canada",
	"au": "Australia",
	"nz": "New Zealand",
	"ie": "Ireland",
	"de": "Germany",
	"fr": "France",
	"es": "Spain",
	"it": "Italy",
	"nl": "Netherlands",
	"se": "Sweden",
	"no": "Norway",
	"dk": "Denmark",
	"fi": "Finland",
	"ch": "Switzerland",
	"at": "Austria",
	"be": "Belgium",
	"pt": "Portugal",
	"br": "Brazil",
	"mx": "Mexico",
	"in": "India",
	"jp": "Japan",
	"sg": "Singapore",
}

var usStateNames = map[string]struct{}{
	"alabama": {}, "alaska": {}, "arizona": {}, "arkansas": {}, "california": {},
	"colorado": {}, "connecticut": {}, "delaware": {}, "florida": {}, "georgia": {},
	"hawaii": {}, "idaho": {}, "illinois": {}, "indiana": {}, "iowa": {},
	"kansas": {}, "kentucky": {}, "louisiana": {}, "maine": {}, "maryland": {},
	"massachusetts": {}, "michigan": {}, "minnesota": {}, "mississippi": {}, "missouri": {},
	"montana": {}, "nebraska": {}, "nevada": {}, "new hampshire": {}, "new jersey": {},
	"new mexico": {}, "new york": {}, "north carolina": {}, "north dakota": {}, "ohio": {},
	"oklahoma": {}, "oregon": {}, "pennsylvania": {}, "rhode island": {}, "south carolina": {},
	"south dakota": {}, "tennessee": {}, "texas": {}, "utah": {}, "vermont": {},
	"virginia": {}, "washington": {}, "west virginia": {}, "wisconsin": {}, "wyoming": {},
}

var usStateAbbrs = map[string]struct{}{
	"AL": {}, "AK": {}, "AZ": {}, "AR": {}, "CA": {}, "CO": {}, "CT": {}, "DE": {},
	"FL": {}, "GA": {}, "HI": {}, "ID": {}, "IL": {}, "IN": {}, "IA": {}, "KS": {},
	"KY": {}, "LA": {}, "ME": {}, "MD": {}, "MA": {}, "MI": {}, "MN": {}, "MS": {},
	"MO": {}, "MT": {}, "NE": {}, "NV": {}, "NH": {}, "NJ": {}, "NM": {}, "NY": {},
	"NC": {}, "ND": {}, "OH": {}, "OK": {}, "OR": {}, "PA": {}, "RI": {}, "SC": {},
	"SD": {}, "TN": {}, "TX": {}, "UT": {}, "VT": {}, "VA": {}, "WA": {}, "WV": {},
	"WI": {}, "WY": {},
}

// CanonicalCountry resolves country aliases and US state names or
// abbreviations to a canonical country name, or "" when unrecognized.
func CanonicalCountry(s string) string {
	t := collapseSpace(s)
	if t == "" {
		return ""
	}
	if c, ok := countryAliases[strings.ToLower(t)]; ok {
		return c
	}
	if _, ok := usStateAbbrs[t]; ok {
		return "United States"
	}
	if _, ok := usStateNames[strings.ToLower(t)]; ok {
		return "United States"
	}
	return ""
}

// InferCountryFromLocation derives a country from free-form location text
// by canonicalizing its tail segment, ignoring any trailing postal code.
func InferCountryFromLocation(location string) string {
	t := collapseSpace(location)
	if t == "" || LooksLikeURL(t) {
		return ""
	}
	segs := strings.Split(t, ",")
	tail := strings.TrimSpace(segs[len(segs)-1])
	words := strings.Fields(tail)
	for len(words) > 0 && postalExact.MatchString(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	tail = strings.Join(words, " ")
	if tail == "" {
		return ""
	}
	if c := CanonicalCountry(tail); c != "" {
		return c
	}
	if len(words) > 0 {
		if c := CanonicalCountry(words[len(words)-1]); c != "" {
			return c
		}
	}
	return ""
}

// SplitCityCountry pulls a city and country out of "city, country" text.
// The country slot is dropped when the tail is an unrecognized two-letter
// all-caps token or contains digits.
func SplitCityCountry(location string) (city, country string) {
	t := collapseSpace(location)
	if t == "" || !strings.Contains(t, ",") {
		return "", ""
	}
	segs := strings.Split(t, ",")
	head := strings.TrimSpace(segs[0])
	tail := strings.TrimSpace(segs[len(segs)-1])

	if head != "" && !digitRx.MatchString(head) && !LooksLikeURL(head) && !IsPlaceholder(head) {
		city = head
	}
	if c := CanonicalCountry(tail); c != "" {
		return city, c
	}
	if tail == "" || digitRx.MatchString(tail) || capsPairRx.MatchString(tail) || IsPlaceholder(tail) {
		return city, ""
	}
	return city, tail
}

// WebsiteHost extracts the lowercase host from a website value, stripping
// any leading "www.". Values without a scheme are treated as https.
func WebsiteHost(website string) string {
	raw := strings.TrimSpace(website)
	if raw == "" {
		return ""
	}
	if !urlSchemeRx.MatchString(raw) {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(strings.TrimSpace(u.Host))
	host = strings.TrimPrefix(host, "www.")
	return host
}

// CountryFromTLD infers a country from the final label of the website host.
func CountryFromTLD(website string) string {
	host := WebsiteHost(website)
	if host == "" {
		return ""
	}
	labels := strings.Split(host, ".")
	return tldCountries[labels[len(labels)-1]]
}

// CompanyNameFromMapsURL recovers a display name from a Google Maps URL by
// decoding its /place/<name> segment.
func CompanyNameFromMapsURL(u string) string {
	t := strings.TrimSpace(u)
	if t == "" {
		return ""
	}
	m := mapsPlaceRx.FindStringSubmatch(t)
	if m == nil {
		return ""
	}
	decoded, err := url.PathUnescape(m[1])
	if err != nil {
		decoded = m[1]
	}
	decoded = strings.ReplaceAll(decoded, "+", " ")
	return collapseSpace(decoded)
}

// CompanyNameFromWebsite guesses a display name from the second-level
// domain label of the website host.
func CompanyNameFromWebsite(website string) string {
	host := WebsiteHost(website)
	if host == "" {
		return ""
	}
	parts := make([]string, 0, 4)
	for _, p := range strings.Split(host, ".") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return ""
	}
	base := nonAlnumRx.ReplaceAllString(parts[len(parts)-2], " ")
	base = collapseSpace(base)
	if base == "" {
		return ""
	}
	return titleCase(base)
}

// NormalizeRow cleans one uploaded row through the job's column mappings
// and returns the resolved company plus a location hint for query building.
func NormalizeRow(row map[string]any, mappings map[string]string) (ResolvedCompany, string) {
	rawName := CellString(row, mappings["company_name"])
	rawLocation := CellString(row, mappings["location"])
	rawMaps := CellString(row, mappings["google_maps_url"])
	rawWebsite := CellString(row, mappings["website"])
	rawIndustry := CellString(row, mappings["industry"])
	rawCity := CellString(row, mappings["city"])
	rawCountry := CellString(row, mappings["country"])

	var rc ResolvedCompany
	rc.Website = CleanWebsite(rawWebsite)

	rc.Name = CleanCompanyName(rawName)
	if rc.Name == "" && LooksLikeURL(rawName) && rc.Website == "" {
		rc.Website = strings.TrimSpace(rawName)
	}
	if rc.Name == "" {
		rc.Name = CompanyNameFromMapsURL(rawMaps)
	}
	if rc.Name == "" {
		rc.Name = CompanyNameFromWebsite(rc.Website)
	}

	rc.Type = CleanCompanyType(rawIndustry)
	rc.City = CleanCity(rawCity)
	rc.Country = CleanCountry(rawCountry)

	if rc.City == "" || rc.Country == "" {
		city, country := SplitCityCountry(rawLocation)
		if rc.City == "" {
			rc.City = city
		}
		if rc.Country == "" {
			rc.Country = country
		}
	}
	if rc.Country == "" {
		rc.Country = InferCountryFromLocation(rawLocation)
	}
	if rc.Country == "" {
		rc.Country = CountryFromTLD(rc.Website)
	}
	if LooksLikeAddress(rawLocation) {
		rc.Address = collapseSpace(rawLocation)
	}

	hint := joinNonEmpty(rc.City, rc.Country)
	if hint == "" && !IsPlaceholder(rawLocation) && !LooksLikeURL(rawLocation) {
		hint = collapseSpace(rawLocation)
	}
	return rc, hint
}

// ResolveForSave merges the researched company fields over the row's
// resolved fields. Per field: the researched value wins when it survives
// cleaning, then the uploaded value, then an inference from the website.
func ResolveForSave(researched, uploaded ResolvedCompany) ResolvedCompany {
	out := ResolvedCompany{
		Name:    firstNonEmpty(CleanCompanyName(researched.Name), CleanCompanyName(uploaded.Name)),
		Type:    firstNonEmpty(CleanCompanyType(researched.Type), CleanCompanyType(uploaded.Type)),
		City:    firstNonEmpty(CleanCity(researched.City), CleanCity(uploaded.City)),
		Country: firstNonEmpty(CleanCountry(researched.Country), CleanCountry(uploaded.Country)),
		Website: firstNonEmpty(CleanWebsite(researched.Website), CleanWebsite(uploaded.Website)),
		Address: firstNonEmpty(cleanFreeText(researched.Address), cleanFreeText(uploaded.Address)),
	}
	if out.Name == "" {
		out.Name = CompanyNameFromWebsite(out.Website)
	}
	if out.Country == "" {
		out.Country = CountryFromTLD(out.Website)
	}
	return out
}

// CellString renders one mapped cell as trimmed text. Numbers print without
// exponents so a JSON round-trip of the row keeps resolution stable.
func CellString(row map[string]any, column string) string {
	if column == "" || row == nil {
		return ""
	}
	v, ok := row[column]
	if !ok {
		return ""
	}
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(b))
	}
}

func cleanFreeText(s string) string {
	t := collapseSpace(s)
	if IsPlaceholder(t) {
		return ""
	}
	return t
}

func collapseSpace(s string) string {
	return strings.TrimSpace(wsRx.ReplaceAllString(s, " "))
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// titleCase uppercases the first letter of every alphabetic run and
// lowercases the rest, so "acme-corp" becomes "Acme-Corp".
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		isLower := r >= 'a' && r <= 'z'
		isUpper := r >= 'A' && r <= 'Z'
		switch {
		case !prevLetter && isLower:
			b.WriteRune(r - 'a' + 'A')
		case prevLetter && isUpper:
			b.WriteRune(r - 'A' + 'a')
		default:
			b.WriteRune(r)
		}
		prevLetter = isLower || isUpper
	}
	return b.String()
}
