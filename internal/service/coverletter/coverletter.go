// Package coverletter writes the application letter attached to each
// recruiter email. The AI path personalizes from the CV; when it fails the
// deterministic path interpolates CV-derived facts (experience bucket,
// education, job-family skills) into a fixed template, so every application
// always carries a letter.
package coverletter

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/osteele/liquid"

	"github.com/Ugoplus/smartcvnaija/internal/domain"
	"github.com/Ugoplus/smartcvnaija/internal/service/intent"
	"github.com/Ugoplus/smartcvnaija/pkg/textx"
)

const (
	aiMaxTokens   = 1500
	aiTemperature = 0.7
	aiTimeout     = 90 * time.Second
	cvExcerptLen  = 3000
)

var experienceRe = regexp.MustCompile(`(\d+)\s*years?\s*(of\s*)?experience`)

const fallbackTemplate = `Dear Hiring Manager,

I am writing to apply for the {{ job_title }} position at {{ company }}. I bring {{ experience }} experience and {{ education }}, with a proven focus on {{ skills }}.

My CV is attached with full details of my background. I am available to start promptly and would welcome the opportunity to discuss how I can contribute to your team.

Thank you for considering my application.

Sincerely,
{{ applicant_name }}`

// Generator produces cover letters, AI first with a deterministic fallback.
type Generator struct {
	ai      domain.AIClient
	catalog *intent.Catalog
	tpl     *liquid.Template
}

func New(ai domain.AIClient, catalog *intent.Catalog) *Generator {
	tpl, err := liquid.NewEngine().ParseString(fallbackTemplate)
	if err != nil {
		panic(fmt.Sprintf("coverletter: parse template: %v", err))
	}
	return &Generator{ai: ai, catalog: catalog, tpl: tpl}
}

// Generate returns a letter for applicantName applying to job. It never
// fails: AI errors degrade to the template, template errors to a fixed
// letter.
func (g *Generator) Generate(ctx domain.Context, cvText, applicantName string, job domain.JobListing) string {
	letter, err := g.aiLetter(ctx, cvText, applicantName, job)
	if err != nil {
		slog.Warn("ai cover letter failed, using template",
			"job_id", job.ID, "error", err)
		return g.Fallback(cvText, applicantName, job)
	}
	return letter
}

func (g *Generator) aiLetter(ctx domain.Context, cvText, applicantName string, job domain.JobListing) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, aiTimeout)
	defer cancel()

	out, err := g.ai.Chat(ctx, letterSystemPrompt,
		letterUserPrompt(cvText, applicantName, job), aiMaxTokens, aiTemperature)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("empty letter response")
	}
	return out, nil
}

// Fallback renders the fixed template with CV-derived facts.
func (g *Generator) Fallback(cvText, applicantName string, job domain.JobListing) string {
	company := job.Company
	if company == "" {
		company = "your organization"
	}
	bindings := map[string]any{
		"job_title":      job.Title,
		"company":        company,
		"experience":     experienceBucket(cvText),
		"education":      educationPhrase(cvText),
		"skills":         g.skillsPhrase(job),
		"applicant_name": applicantName,
	}
	out, err := g.tpl.RenderString(bindings)
	if err != nil {
		slog.Error("cover letter template render failed", "error", err)
		return hardFallback(applicantName, job)
	}
	return out
}

// experienceBucket grades the CV's self-declared years of experience.
func experienceBucket(cvText string) string {
	years := 0
	for _, m := range experienceRe.FindAllStringSubmatch(strings.ToLower(cvText), -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > years && n < 60 {
			years = n
		}
	}
	switch {
	case years >= 6:
		return "extensive"
	case years >= 3:
		return "solid"
	}
	return "foundational"
}

func educationPhrase(cvText string) string {
	cv := strings.ToLower(cvText)
	switch {
	case strings.Contains(cv, "msc") || strings.Contains(cv, "m.sc") || strings.Contains(cv, "master"):
		return "a Master's degree"
	case strings.Contains(cv, "bsc") || strings.Contains(cv, "b.sc") || strings.Contains(cv, "bachelor"):
		return "a Bachelor's degree"
	case strings.Contains(cv, "hnd") || strings.Contains(cv, "diploma"):
		return "a professional diploma"
	}
	return "relevant training"
}

// skillsPhrase maps the job family to its skills line from the category
// table.
func (g *Generator) skillsPhrase(job domain.JobListing) string {
	if cat, ok := g.catalog.ByKey(job.Category); ok && cat.Skills != "" {
		return cat.Skills
	}
	if cat, _, ok := g.catalog.MatchCategory(strings.ToLower(job.Title)); ok && cat.Skills != "" {
		return cat.Skills
	}
	return "dependable teamwork, fast learning and a strong work ethic"
}

func hardFallback(applicantName string, job domain.JobListing) string {
	return fmt.Sprintf("Dear Hiring Manager,\n\nPlease consider my application for the %s role. My CV is attached with full details of my experience and qualifications.\n\nSincerely,\n%s",
		job.Title, applicantName)
}

const letterSystemPrompt = `You write short professional cover letters for Nigerian job applications.

Rules:
- 3 short paragraphs, under 200 words total
- Plain text only, no markdown, no placeholders like [Company]
- Ground every claim in the CV provided; never invent employers or degrees
- Close with "Sincerely," followed by the applicant's name`

func letterUserPrompt(cvText, applicantName string, job domain.JobListing) string {
	return fmt.Sprintf("Applicant: %s\nJob Title: %s\nCompany: %s\nLocation: %s\n\nCV:\n%s",
		applicantName, job.Title, job.Company, job.Location, textx.Truncate(cvText, cvExcerptLen))
}
