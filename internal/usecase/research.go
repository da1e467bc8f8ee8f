// Package usecase contains application business logic services.
package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/fairyhunter13/lead-scout/internal/config"
	"github.com/fairyhunter13/lead-scout/internal/domain"
	"github.com/fairyhunter13/lead-scout/internal/service/researchcache"
	"github.com/fairyhunter13/lead-scout/pkg/textx"
)

// Parse modes select how queries are planned and which cache namespace the
// request lives in.
const (
	ParseModePeople  = "people"
	ParseModeCompany = "company"
)

// ResearchInput describes one research request. The JSON tags define the
// canonical shape hashed into the cache key, so renaming a field invalidates
// previously cached outcomes.
type ResearchInput struct {
	Company        string   `json:"company"`
	Location       string   `json:"location"`
	MapsURL        string   `json:"maps_url"`
	Website        string   `json:"website"`
	CompanyType    string   `json:"company_type"`
	Platforms      []string `json:"platforms"`
	MaxPeople      int      `json:"max_people"`
	DeepSearch     bool     `json:"deep_search"`
	RoleKeywords   []string `json:"role_keywords"`
	MaxSearchCalls int      `json:"max_search_calls"`
	ParseMode      string   `json:"parse_mode"`
}

// ResearchService runs the plan/search/extract pipeline for one company and
// returns validated-candidate material plus a full call trace.
type ResearchService struct {
	Search  domain.SearchClient
	AI      domain.AIClient
	Cache   domain.ResearchCache
	Prompts config.Prompts
}

// NewResearchService constructs a ResearchService with its dependencies.
func NewResearchService(search domain.SearchClient, ai domain.AIClient, cache domain.ResearchCache, prompts config.Prompts) ResearchService {
	return ResearchService{Search: search, AI: ai, Cache: cache, Prompts: prompts}
}

// searchEvidence is one executed query and its trimmed result (or an error
// placeholder) as presented to the extractor.
type searchEvidence struct {
	Q      string `json:"q"`
	Result any    `json:"result"`
}

// phraseRx matches the "decision maker(s)" phrase that must never reach the
// search provider or come back as evidence wording.
var phraseRx = regexp.MustCompile(`(?i)\bdecision[ -]?makers?\b`)

// Research executes the pipeline: cache lookup, query planning, sequential
// searches, and a final extraction call. Search failures become error
// evidence instead of aborting; an extractor reply that carries no JSON is
// fatal and surfaces as ErrMalformedLLMResponse. The returned trace is valid
// even when err != nil so callers can still account for tokens and calls.
func (s ResearchService) Research(ctx domain.Context, in ResearchInput) ([]domain.Person, domain.ResearchTrace, error) {
	var trace domain.ResearchTrace
	if strings.TrimSpace(in.Company) == "" {
		return nil, trace, fmt.Errorf("%w: company required", domain.ErrInvalidArgument)
	}

	mode := strings.ToLower(strings.TrimSpace(in.ParseMode))
	if mode == "" {
		mode = ParseModePeople
	}
	maxPeople := in.MaxPeople
	if maxPeople <= 0 {
		maxPeople = 25
	}
	maxCalls := in.MaxSearchCalls
	if maxCalls <= 0 {
		maxCalls = 3
	}
	keywords := trimKeywords(in.RoleKeywords, 5)
	if len(keywords) == 0 {
		keywords = trimKeywords(domain.DefaultQueryKeywords(), 5)
	}
	platforms := normalizePlatforms(in.Platforms)

	namespace := researchcache.NamespacePeople
	if mode == ParseModeCompany {
		namespace = researchcache.NamespaceCompany
	}
	cacheKey, err := researchcache.Key(namespace, in)
	if err == nil && s.Cache != nil {
		if hit, ok := s.Cache.Get(cacheKey); ok {
			slog.Debug("research cache hit", slog.String("company", in.Company))
			return hit.People, hit.Trace, nil
		}
	}

	queries := s.planQueries(ctx, in, mode, maxCalls, keywords, &trace)

	maxOrganic, maxPAA := 4, 0
	if in.DeepSearch {
		maxOrganic, maxPAA = 8, 6
	}
	evidence := make([]searchEvidence, 0, len(queries))
	for _, q := range queries {
		q.Q = collapseSpaces(phraseRx.ReplaceAllString(q.Q, ""))
		if q.Q == "" {
			continue
		}
		trace.SerperQueries = append(trace.SerperQueries, q.Q)
		trace.SerperCalls++
		res, serr := s.Search.Search(ctx, q, maxOrganic, maxPAA)
		if serr != nil {
			slog.Warn("search query failed", slog.String("company", in.Company), slog.Any("error", serr))
			evidence = append(evidence, searchEvidence{Q: q.Q, Result: map[string]any{"error": serr.Error()}})
			continue
		}
		if trace.SerperCallAt == nil {
			now := time.Now().UTC()
			trace.SerperCallAt = &now
		}
		evidence = append(evidence, searchEvidence{Q: q.Q, Result: sanitizeResult(res)})
	}

	var evidenceEmails []string
	if mode == ParseModePeople {
		if blob, merr := json.Marshal(evidence); merr == nil {
			evidenceEmails = textx.ScanEmails(string(blob), 25)
		}
	}

	payload := map[string]any{
		"company_name":             in.Company,
		"location":                 in.Location,
		"google_maps_url":          in.MapsURL,
		"website":                  in.Website,
		"company_type":             in.CompanyType,
		"platforms":                platforms,
		"max_people":               maxPeople,
		"deep_search":              in.DeepSearch,
		"role_keywords":            keywords,
		"platform_query_templates": s.platformTemplates(platforms),
		"serper_results":           evidence,
		"evidence_rules":           s.Prompts.EvidenceRules,
		"confidence_ladder":        s.Prompts.ConfidenceLadder,
	}
	if len(evidenceEmails) > 0 {
		payload["emails_found_in_evidence"] = evidenceEmails
	}
	userJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, trace, fmt.Errorf("op=research.payload: %w", err)
	}

	messages := []domain.ChatMessage{
		{Role: "system", Content: s.Prompts.ExtractorSystem},
		{Role: "user", Content: string(userJSON)},
	}
	trace.FinalMessages = messages
	trace.LLMCalls++
	text, usage, err := s.AI.Chat(ctx, messages, true, "extract_people")
	if err != nil {
		return nil, trace, err
	}
	if trace.LLMCallAt == nil {
		now := time.Now().UTC()
		trace.LLMCallAt = &now
	}
	trace.FinalUsage = usage
	trace.FinalText = text

	parsed := textx.ExtractJSON(text)
	if parsed == nil {
		return nil, trace, fmt.Errorf("%w: extractor returned no JSON", domain.ErrMalformedLLMResponse)
	}
	items, companyObj := coercePeople(parsed)
	people := make([]domain.Person, 0, len(items))
	for _, item := range items {
		p := personFromMap(item)
		if p.Name == "" {
			continue
		}
		backfillCompany(&p, companyObj)
		if mode == ParseModePeople && len(p.EmailsFound) == 0 {
			p.EmailsFound = evidenceEmails
		}
		people = append(people, p)
		if len(people) >= maxPeople {
			break
		}
	}

	if s.Cache != nil && cacheKey != "" {
		s.Cache.Put(cacheKey, domain.ResearchOutcome{People: people, Trace: trace})
	}
	return people, trace, nil
}

// planQueries produces the search queries for the request. People mode
// synthesizes a single boolean query; company mode asks the planner model and
// falls back to the synthesized query when the reply is unusable.
func (s ResearchService) planQueries(ctx domain.Context, in ResearchInput, mode string, maxCalls int, keywords []string, trace *domain.ResearchTrace) []domain.SearchQuery {
	if mode != ParseModeCompany {
		return []domain.SearchQuery{{Q: synthesizeQuery(in, keywords)}}
	}

	planPayload := map[string]any{
		"company_name":     in.Company,
		"location":         in.Location,
		"google_maps_url":  in.MapsURL,
		"website":          in.Website,
		"company_type":     in.CompanyType,
		"role_keywords":    keywords,
		"max_search_calls": maxCalls,
	}
	planJSON, err := json.Marshal(planPayload)
	if err != nil {
		return []domain.SearchQuery{{Q: synthesizeQuery(in, keywords)}}
	}
	messages := []domain.ChatMessage{
		{Role: "system", Content: s.Prompts.PlannerSystem},
		{Role: "user", Content: string(planJSON)},
	}
	trace.PlanMessages = messages
	trace.LLMCalls++
	text, usage, err := s.AI.Chat(ctx, messages, true, "plan_queries")
	if err != nil {
		slog.Warn("query planning failed, using synthesized query", slog.String("company", in.Company), slog.Any("error", err))
		return []domain.SearchQuery{{Q: synthesizeQuery(in, keywords)}}
	}
	if trace.LLMCallAt == nil {
		now := time.Now().UTC()
		trace.LLMCallAt = &now
	}
	trace.PlanUsage = &usage
	trace.PlanText = text

	queries := decodePlannedQueries(textx.ExtractJSON(text), maxCalls)
	if len(queries) == 0 {
		return []domain.SearchQuery{{Q: synthesizeQuery(in, keywords)}}
	}
	return queries
}

// synthesizeQuery builds the single people-mode boolean query:
// ("<company>") AND ("<k1>" OR ...) AND "<location>", with a deep-search
// disjunction on a hint derived from website host, location, or company type.
func synthesizeQuery(in ResearchInput, keywords []string) string {
	var b strings.Builder
	b.WriteString("(" + quoteTerm(in.Company) + ")")
	if len(keywords) > 0 {
		quoted := make([]string, 0, len(keywords))
		for _, k := range keywords {
			quoted = append(quoted, quoteTerm(k))
		}
		b.WriteString(" AND (" + strings.Join(quoted, " OR ") + ")")
	}
	location := strings.TrimSpace(in.Location)
	if location != "" {
		b.WriteString(" AND " + quoteTerm(location))
	}
	if in.DeepSearch {
		if hint := deepSearchHint(in); hint != "" && !strings.EqualFold(hint, location) {
			b.WriteString(" OR (" + quoteTerm(in.Company) + " AND " + quoteTerm(hint) + ")")
		}
	}
	return b.String()
}

// deepSearchHint picks the strongest secondary identity signal available.
func deepSearchHint(in ResearchInput) string {
	if host := domain.WebsiteHost(in.Website); host != "" {
		return host
	}
	if loc := strings.TrimSpace(in.Location); loc != "" {
		return strings.ToLower(loc)
	}
	return strings.ToLower(strings.TrimSpace(in.CompanyType))
}

// decodePlannedQueries coerces the planner JSON into search queries, dropping
// entries whose q empties out after the phrase strip and capping at maxCalls.
func decodePlannedQueries(v any, maxCalls int) []domain.SearchQuery {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := m["queries"].([]any)
	if !ok {
		return nil
	}
	out := make([]domain.SearchQuery, 0, len(raw))
	for _, item := range raw {
		qm, ok := item.(map[string]any)
		if !ok {
			continue
		}
		q := collapseSpaces(phraseRx.ReplaceAllString(stringField(qm["q"]), ""))
		if q == "" {
			continue
		}
		sq := domain.SearchQuery{
			Q:  q,
			GL: stringField(qm["gl"]),
			HL: stringField(qm["hl"]),
		}
		if n, ok := intField(qm["num"]); ok {
			sq.Num = n
		}
		if p, ok := intField(qm["page"]); ok {
			sq.Page = p
		}
		out = append(out, sq)
		if len(out) >= maxCalls {
			break
		}
	}
	return out
}

// sanitizeResult re-encodes a trimmed search result with the forbidden phrase
// removed so the extractor never sees it in evidence wording.
func sanitizeResult(res domain.SearchResult) any {
	raw, err := json.Marshal(res)
	if err != nil {
		return map[string]any{"error": "unencodable search result"}
	}
	cleaned := phraseRx.ReplaceAllString(string(raw), "")
	var v any
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		_ = json.Unmarshal(raw, &v)
	}
	return v
}

// coercePeople accepts {people:[...]}, a bare array, or {results:[...]} and
// returns the object items plus any company object for back-filling.
func coercePeople(v any) ([]map[string]any, map[string]any) {
	switch t := v.(type) {
	case map[string]any:
		company, _ := t["company"].(map[string]any)
		if arr, ok := t["people"].([]any); ok {
			return onlyObjects(arr), company
		}
		if arr, ok := t["results"].([]any); ok {
			return onlyObjects(arr), company
		}
		return nil, company
	case []any:
		return onlyObjects(t), nil
	default:
		return nil, nil
	}
}

func onlyObjects(arr []any) []map[string]any {
	out := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func personFromMap(m map[string]any) domain.Person {
	p := domain.Person{
		Name:           strings.TrimSpace(stringField(m["name"])),
		Title:          strings.TrimSpace(stringField(m["title"])),
		Platform:       strings.TrimSpace(stringField(m["platform"])),
		ProfileURL:     strings.TrimSpace(stringField(m["profile_url"])),
		Confidence:     strings.ToUpper(strings.TrimSpace(stringField(m["confidence"]))),
		CompanyWebsite: strings.TrimSpace(stringField(m["company_website"])),
		CompanyType:    strings.TrimSpace(stringField(m["company_type"])),
		CompanyAddress: strings.TrimSpace(stringField(m["company_address"])),
	}
	if arr, ok := m["emails_found"].([]any); ok {
		seen := make(map[string]struct{}, len(arr))
		for _, e := range arr {
			v := strings.ToLower(strings.TrimSpace(stringField(e)))
			if v == "" {
				continue
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			p.EmailsFound = append(p.EmailsFound, v)
		}
	}
	if r, ok := floatField(m["gmaps_rating"]); ok && r > 0 {
		p.GmapsRating = &r
	}
	if n, ok := intField(m["gmaps_reviews"]); ok && n > 0 {
		p.GmapsReviews = &n
	}
	return p
}

// backfillCompany copies company-level fields onto a person that omitted them.
func backfillCompany(p *domain.Person, company map[string]any) {
	if company == nil {
		return
	}
	if p.CompanyWebsite == "" {
		p.CompanyWebsite = strings.TrimSpace(stringField(company["company_website"]))
	}
	if p.CompanyType == "" {
		p.CompanyType = strings.TrimSpace(stringField(company["company_type"]))
	}
	if p.CompanyAddress == "" {
		p.CompanyAddress = strings.TrimSpace(stringField(company["company_address"]))
	}
	if p.GmapsRating == nil {
		if r, ok := floatField(company["gmaps_rating"]); ok && r > 0 {
			p.GmapsRating = &r
		}
	}
	if p.GmapsReviews == nil {
		if n, ok := intField(company["gmaps_reviews"]); ok && n > 0 {
			p.GmapsReviews = &n
		}
	}
}

// platformTemplates returns the query templates for the requested platforms,
// defaulting to the linkedin template when none were selected.
func (s ResearchService) platformTemplates(platforms []string) map[string]string {
	if len(platforms) == 0 {
		platforms = []string{"linkedin"}
	}
	out := make(map[string]string, len(platforms))
	for _, p := range platforms {
		if tpl, ok := s.Prompts.PlatformQueries[p]; ok {
			out[p] = tpl
		}
	}
	return out
}

func normalizePlatforms(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, p := range in {
		v := strings.ToLower(strings.TrimSpace(p))
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func trimKeywords(in []string, limit int) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out = append(out, k)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func quoteTerm(s string) string {
	return `"` + strings.ReplaceAll(strings.TrimSpace(s), `"`, "") + `"`
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func stringField(v any) string {
	s, _ := v.(string)
	return s
}

func floatField(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func intField(v any) (int, bool) {
	f, ok := floatField(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}
