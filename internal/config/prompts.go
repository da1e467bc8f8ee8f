// Package config provides loading of prompt and query-template assets.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prompts holds the planner and extractor prompt text plus the per-platform
// query templates passed to the extractor as guidance. All fields have
// compiled-in defaults; a YAML file can override any subset of them.
type Prompts struct {
	PlannerSystem    string            `yaml:"planner_system"`
	ExtractorSystem  string            `yaml:"extractor_system"`
	EvidenceRules    []string          `yaml:"evidence_rules"`
	ConfidenceLadder []string          `yaml:"confidence_ladder"`
	PlatformQueries  map[string]string `yaml:"platform_queries"`
}

// DefaultPrompts returns the compiled-in prompt set.
func DefaultPrompts() Prompts {
	return Prompts{
		PlannerSystem: strings.Join([]string{
			"You are a search planning assistant for business research.",
			"Given a company and its location, produce Google search queries that surface the company's leadership and official pages.",
			`Return ONLY a raw JSON object, no markdown fences and no explanation, matching: {"queries":[{"q":"...","gl":"..?","hl":"..?","num":10?,"page":1?}],"notes":"..."}.`,
			"Never use the phrase \"decision maker\" or \"decision makers\" in any query.",
		}, " "),
		ExtractorSystem: strings.Join([]string{
			"You are a lead research assistant specializing in finding business decision-makers.",
			"Analyze the serper_results (Google search evidence) provided in the user message to identify real people who hold leadership roles at the specified company.",
			`Return ONLY a raw JSON object, no markdown fences and no explanation, matching this schema exactly: {"people":[{"name":"...","title":"...","platform":"...","profile_url":"...","emails_found":["..."],"confidence":"HIGH|MEDIUM|LOW"}],"company":{"company_website":"...","company_type":"...","company_address":"...","gmaps_rating":0.0,"gmaps_reviews":0}}.`,
			`If no decision-makers are found, return {"people":[],"company":{}}.`,
		}, " "),
		EvidenceRules: []string{
			"Only include people who appear in serper_results. Never invent names, titles, emails, or profile URLs.",
			"Exclude people whose evidence ties them to a different company that shares the name.",
			"If the same person appears more than once, include them once at the highest supported confidence.",
			"The title must contain at least one of the provided role keywords and must not be an assistant, intern, coordinator, receptionist, clerk, technician, support, customer service, representative, specialist, associate, or staff role.",
			"Use the exact title wording found in the evidence.",
			"Prefer linkedin.com/in profile URLs when multiple sources exist.",
		},
		ConfidenceLadder: []string{
			"HIGH: the person's name appears in the profile URL slug AND a snippet confirms the title at the named company.",
			"MEDIUM: a snippet names the person with title and company but there is no direct profile URL.",
			"LOW: a single mention without clear confirmation.",
		},
		PlatformQueries: map[string]string{
			"linkedin":  `site:linkedin.com/in ("{company}") ("{title}")`,
			"instagram": `site:instagram.com "{company}" "{title}"`,
			"facebook":  `site:facebook.com "{company}" "{title}"`,
			"twitter":   `(site:x.com OR site:twitter.com) "{company}" "{title}"`,
		},
	}
}

// LoadPrompts returns the defaults overlaid with any fields present in the
// YAML file at path. An empty path returns the defaults unchanged.
func LoadPrompts(path string) (Prompts, error) {
	p := DefaultPrompts()
	if path == "" {
		return p, nil
	}
	// #nosec G304 -- prompt asset path comes from operator configuration
	b, err := os.ReadFile(path)
	if err != nil {
		return Prompts{}, fmt.Errorf("op=config.LoadPrompts: %w", err)
	}
	var over Prompts
	if err := yaml.Unmarshal(b, &over); err != nil {
		return Prompts{}, fmt.Errorf("op=config.LoadPrompts: %w", err)
	}
	if strings.TrimSpace(over.PlannerSystem) != "" {
		p.PlannerSystem = over.PlannerSystem
	}
	if strings.TrimSpace(over.ExtractorSystem) != "" {
		p.ExtractorSystem = over.ExtractorSystem
	}
	if len(over.EvidenceRules) > 0 {
		p.EvidenceRules = over.EvidenceRules
	}
	if len(over.ConfidenceLadder) > 0 {
		p.ConfidenceLadder = over.ConfidenceLadder
	}
	for k, v := range over.PlatformQueries {
		p.PlatformQueries[strings.ToLower(k)] = v
	}
	return p, nil
}
