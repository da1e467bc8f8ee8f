package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_DefaultPrompts_Shape(t *testing.T) {
	t.Parallel()
	p := DefaultPrompts()
	require.Contains(t, p.ExtractorSystem, "lead research assistant")
	require.Contains(t, p.ExtractorSystem, `{"people":[],"company":{}}`)
	require.Contains(t, p.PlannerSystem, "decision maker")
	require.NotEmpty(t, p.EvidenceRules)
	require.Len(t, p.ConfidenceLadder, 3)
	require.Contains(t, p.PlatformQueries, "linkedin")
	require.Contains(t, p.PlatformQueries["linkedin"], "site:linkedin.com/in")
}

func Test_LoadPrompts_EmptyPath(t *testing.T) {
	t.Parallel()
	p, err := LoadPrompts("")
	require.NoError(t, err)
	require.Equal(t, DefaultPrompts().ExtractorSystem, p.ExtractorSystem)
}

func Test_LoadPrompts_Overlay(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.yaml")
	doc := strings.Join([]string{
		"extractor_system: custom extractor",
		"platform_queries:",
		"  LinkedIn: site:linkedin.com/company {company}",
		"  tiktok: site:tiktok.com {company}",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	p, err := LoadPrompts(path)
	require.NoError(t, err)
	require.Equal(t, "custom extractor", p.ExtractorSystem)
	// Untouched fields keep their defaults.
	require.Equal(t, DefaultPrompts().PlannerSystem, p.PlannerSystem)
	// Platform keys are lowercased and merged over the defaults.
	require.Equal(t, "site:linkedin.com/company {company}", p.PlatformQueries["linkedin"])
	require.Contains(t, p.PlatformQueries, "tiktok")
	require.Contains(t, p.PlatformQueries, "facebook")
}

func Test_LoadPrompts_Missing(t *testing.T) {
	t.Parallel()
	_, err := LoadPrompts(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "op=config.LoadPrompts")
}

func Test_LoadPrompts_BadYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("::: not yaml"), 0o600))
	_, err := LoadPrompts(path)
	require.Error(t, err)
}
