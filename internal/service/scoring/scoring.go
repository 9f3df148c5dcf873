// Package scoring produces the ATS match score for a (CV, job) pair. The AI
// path asks for a weighted rubric and maps it into the [50,95] band; any AI
// failure falls back to a deterministic keyword score so an application is
// never blocked on a provider outage.
package scoring

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Ugoplus/smartcvnaija/internal/adapter/observability"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
	"github.com/Ugoplus/smartcvnaija/internal/service/intent"
	"github.com/Ugoplus/smartcvnaija/pkg/textx"
)

const (
	// ScoreFloor and ScoreCeil bound every score we hand out. Recruiters
	// see nothing below 50 and nothing above 95.
	ScoreFloor = 50
	ScoreCeil  = 95

	aiMaxTokens  = 600
	cvExcerptLen = 4000
)

// rubric is the AI's ATS analysis. Parameters are on a 1-5 scale.
type rubric struct {
	SkillsMatch       float64 `json:"skills_match"`       // 40% weight
	ExperienceMatch   float64 `json:"experience_match"`   // 30% weight
	EducationMatch    float64 `json:"education_match"`    // 15% weight
	AchievementsMatch float64 `json:"achievements_match"` // 15% weight
	Summary           string  `json:"summary"`
}

var (
	yearsRe = regexp.MustCompile(`(\d+)\s*\+?\s*years?`)
	certRe  = regexp.MustCompile(`certif|licen[cs]e|\bacca\b|\bican\b|\bpmp\b|comptia|cissp`)
)

// Scorer computes match scores, preferring the AI rubric.
type Scorer struct {
	ai      domain.AIClient
	catalog *intent.Catalog
}

func New(ai domain.AIClient, catalog *intent.Catalog) *Scorer {
	return &Scorer{ai: ai, catalog: catalog}
}

// Score returns the match score for cvText against job, always within
// [ScoreFloor, ScoreCeil].
func (s *Scorer) Score(ctx domain.Context, cvText string, job domain.JobListing) int {
	score, err := s.aiScore(ctx, cvText, job)
	if err != nil {
		slog.Warn("ai scoring failed, using keyword score",
			"job_id", job.ID, "error", err)
		score = s.keywordScore(cvText, job)
	}
	observability.ObserveCVScore(score)
	return score
}

func (s *Scorer) aiScore(ctx domain.Context, cvText string, job domain.JobListing) (int, error) {
	raw, err := s.ai.ChatJSON(ctx, scoringSystemPrompt, scoringUserPrompt(cvText, job), aiMaxTokens)
	if err != nil {
		return 0, err
	}
	var r rubric
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return 0, fmt.Errorf("%w: invalid rubric response: %v", domain.ErrSchemaInvalid, err)
	}
	if err := validateRubric(r); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrSchemaInvalid, err)
	}
	return weightedScore(r), nil
}

// keywordScore is the deterministic fallback: category keyword hits plus
// modifiers for education, experience years, CV length and certifications.
func (s *Scorer) keywordScore(cvText string, job domain.JobListing) int {
	cv := strings.ToLower(cvText)
	score := ScoreFloor

	hits := 0
	for _, kw := range s.familyKeywords(job) {
		if strings.Contains(cv, kw) {
			hits++
		}
	}
	if hits > 7 {
		hits = 7
	}
	score += hits * 3

	score += educationPoints(cv)
	score += experiencePoints(cv)

	switch {
	case len(cv) > 2000:
		score += 3
	case len(cv) > 1000:
		score += 2
	}
	if certRe.MatchString(cv) {
		score += 4
	}
	return clamp(score)
}

// familyKeywords resolves the job-family keyword table, falling back to a
// title match when the listing's category key is unknown.
func (s *Scorer) familyKeywords(job domain.JobListing) []string {
	if cat, ok := s.catalog.ByKey(job.Category); ok {
		return cat.Keywords
	}
	if cat, _, ok := s.catalog.MatchCategory(strings.ToLower(job.Title)); ok {
		return cat.Keywords
	}
	return nil
}

func educationPoints(cv string) int {
	switch {
	case strings.Contains(cv, "msc") || strings.Contains(cv, "m.sc") || strings.Contains(cv, "master"):
		return 6
	case strings.Contains(cv, "bsc") || strings.Contains(cv, "b.sc") || strings.Contains(cv, "bachelor"):
		return 4
	case strings.Contains(cv, "hnd") || strings.Contains(cv, "diploma"):
		return 2
	}
	return 0
}

func experiencePoints(cv string) int {
	years := 0
	for _, m := range yearsRe.FindAllStringSubmatch(cv, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > years && n < 60 {
			years = n
		}
	}
	switch {
	case years >= 5:
		return 8
	case years >= 2:
		return 5
	case years >= 1:
		return 3
	}
	return 0
}

func validateRubric(r rubric) error {
	params := []struct {
		name  string
		value float64
	}{
		{"skills_match", r.SkillsMatch},
		{"experience_match", r.ExperienceMatch},
		{"education_match", r.EducationMatch},
		{"achievements_match", r.AchievementsMatch},
	}
	for _, p := range params {
		if p.value < 1.0 || p.value > 5.0 {
			return fmt.Errorf("invalid score for %s: %.2f (must be 1.0-5.0)", p.name, p.value)
		}
	}
	return nil
}

// weightedScore maps the 1-5 weighted rubric onto the [50,95] band.
func weightedScore(r rubric) int {
	w := r.SkillsMatch*0.4 + r.ExperienceMatch*0.3 +
		r.EducationMatch*0.15 + r.AchievementsMatch*0.15
	return clamp(ScoreFloor + int(math.Round((w-1)/4*(ScoreCeil-ScoreFloor))))
}

func clamp(score int) int {
	if score < ScoreFloor {
		return ScoreFloor
	}
	if score > ScoreCeil {
		return ScoreCeil
	}
	return score
}

const scoringSystemPrompt = `You are an ATS screening assistant for Nigerian job applications. Evaluate how well the CV matches the job on a 1-5 scale per parameter:

1. skills_match (40% weight): required skills and tools present in the CV
2. experience_match (30% weight): years and seniority against the role
3. education_match (15% weight): qualifications against the role
4. achievements_match (15% weight): measurable impact relevant to the role

CRITICAL: Respond with ONLY valid JSON following this structure:
{
  "skills_match": 4.2,
  "experience_match": 3.8,
  "education_match": 4.0,
  "achievements_match": 3.5,
  "summary": "One sentence on fit"
}

Rules:
- Scores: 1.0-5.0 (1=poor, 5=excellent)
- NO reasoning, explanations, or chain-of-thought`

func scoringUserPrompt(cvText string, job domain.JobListing) string {
	return fmt.Sprintf("Job Title: %s\nCompany: %s\nLocation: %s\nRequirements:\n%s\n\nCV:\n%s",
		job.Title, job.Company, job.Location, job.Requirements, textx.Truncate(cvText, cvExcerptLen))
}
