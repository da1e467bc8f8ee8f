package domain

import (
	"regexp"
	"strings"
)

// negativeTitlePatterns disqualify a title outright, before any positive match.
var negativeTitlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bassistant\b`),
	regexp.MustCompile(`(?i)\bintern\b`),
	regexp.MustCompile(`(?i)\bcoordinator\b`),
	regexp.MustCompile(`(?i)\breceptionist\b`),
	regexp.MustCompile(`(?i)\bclerk\b`),
	regexp.MustCompile(`(?i)\btechnician\b`),
	regexp.MustCompile(`(?i)\bsupport\b`),
	regexp.MustCompile(`(?i)\bcustomer\s+service\b`),
	regexp.MustCompile(`(?i)\brepresentative\b`),
	regexp.MustCompile(`(?i)\bspecialist\b`),
	regexp.MustCompile(`(?i)\bassociate\b`),
	regexp.MustCompile(`(?i)\bstaff\b`),
}

type titlePattern struct {
	keyword string
	rx      *regexp.Regexp
}

// positiveTitlePatterns are checked in priority order; the first match wins.
var positiveTitlePatterns = []titlePattern{
	{"CEO", regexp.MustCompile(`(?i)\bCEO\b|\bChief\s+Executive\s+Officer\b`)},
	{"COO", regexp.MustCompile(`(?i)\bCOO\b|\bChief\s+Operating\s+Officer\b`)},
	{"CFO", regexp.MustCompile(`(?i)\bCFO\b|\bChief\s+Financial\s+Officer\b`)},
	{"CTO", regexp.MustCompile(`(?i)\bCTO\b|\bChief\s+Technology\s+Officer\b`)},
	{"CIO", regexp.MustCompile(`(?i)\bCIO\b|\bChief\s+Information\s+Officer\b`)},
	{"CMO", regexp.MustCompile(`(?i)\bCMO\b|\bChief\s+Marketing\s+Officer\b`)},
	{"Chief", regexp.MustCompile(`(?i)\bChief\b`)},
	{"Founder", regexp.MustCompile(`(?i)\bco[- ]?founder\b|\bfounder\b`)},
	{"Owner", regexp.MustCompile(`(?i)\bowner\b`)},
	{"President", regexp.MustCompile(`(?i)\bpresident\b`)},
	{"Managing Director", regexp.MustCompile(`(?i)\bmanaging\s+director\b`)},
	{"General Manager", regexp.MustCompile(`(?i)\bgeneral\s+manager\b`)},
	{"Senior Head", regexp.MustCompile(`(?i)\bsenior\s+head\b`)},
	{"Head", regexp.MustCompile(`(?i)\bhead\b`)},
	{"Senior Director", regexp.MustCompile(`(?i)\bsenior\s+director\b`)},
	{"Director", regexp.MustCompile(`(?i)\bdirector\b`)},
	{"Senior Vice President", regexp.MustCompile(`(?i)\bsenior\s+vice\s+president\b|\bSVP\b`)},
	{"Vice President", regexp.MustCompile(`(?i)\bvice\s+president\b|\bVP\b`)},
	{"Chairman", regexp.MustCompile(`(?i)\bchairman\b|\bchair\b`)},
	{"Managing Partner", regexp.MustCompile(`(?i)\bmanaging\s+partner\b`)},
	{"Managing Member", regexp.MustCompile(`(?i)\bmanaging\s+member\b`)},
	{"Partner", regexp.MustCompile(`(?i)\bpartner\b`)},
	{"Principal", regexp.MustCompile(`(?i)\bprincipal\b`)},
}

// IsDecisionMakerTitle classifies a free-form title. Negative patterns win
// over positive ones; on a positive match the canonical keyword is returned.
func IsDecisionMakerTitle(title string) (bool, string) {
	t := strings.TrimSpace(title)
	if t == "" {
		return false, ""
	}
	for _, rx := range negativeTitlePatterns {
		if rx.MatchString(t) {
			return false, ""
		}
	}
	for _, p := range positiveTitlePatterns {
		if p.rx.MatchString(t) {
			return true, p.keyword
		}
	}
	return false, ""
}

// DefaultQueryKeywords is the search-keyword list used when a job supplies no
// titles of its own. Multi-word phrases are pre-quoted for search syntax.
func DefaultQueryKeywords() []string {
	return []string{
		"CEO",
		"Founder",
		`"Co-Founder"`,
		"Owner",
		"President",
		`"Managing Director"`,
		`"General Manager"`,
		`"Senior Head"`,
		`"Head of"`,
		`"Senior Director"`,
		"Director",
		`"Senior Vice President"`,
		`"Vice President"`,
		"SVP",
		"VP",
		"COO",
		"CFO",
		"CTO",
		"CIO",
		"CMO",
		"Partner",
		"Principal",
		`"Managing Partner"`,
		`"Managing Member"`,
		"Chairman",
	}
}

// BuildQueryKeywords expands seniority/department pairs into quoted role
// phrases: ("Head", "Marketing") yields "Head Marketing" and
// "Head of Marketing". Duplicates are dropped case-insensitively. When both
// inputs are empty the default keyword list is returned.
func BuildQueryKeywords(seniorities, departments []string) []string {
	seniorities = trimNonEmpty(seniorities)
	departments = trimNonEmpty(departments)
	if len(seniorities) == 0 && len(departments) == 0 {
		return DefaultQueryKeywords()
	}

	var phrases []string
	switch {
	case len(seniorities) > 0 && len(departments) > 0:
		for _, s := range seniorities {
			for _, d := range departments {
				phrases = append(phrases, s+" "+d, s+" of "+d)
			}
		}
	case len(seniorities) > 0:
		phrases = seniorities
	default:
		phrases = departments
	}

	seen := make(map[string]struct{}, len(phrases))
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		k := strings.ToLower(p)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, `"`+p+`"`)
	}
	return out
}

// TitleMatchesKeywords reports whether a title matches any of the caller's
// keywords as a case-insensitive substring. Negative patterns still veto.
func TitleMatchesKeywords(title string, keywords []string) bool {
	t := strings.TrimSpace(title)
	if t == "" {
		return false
	}
	for _, rx := range negativeTitlePatterns {
		if rx.MatchString(t) {
			return false
		}
	}
	lt := strings.ToLower(t)
	for _, kw := range keywords {
		k := strings.ToLower(strings.Trim(strings.TrimSpace(kw), `"`))
		if k == "" {
			continue
		}
		if strings.Contains(lt, k) {
			return true
		}
	}
	return false
}

func trimNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
