// Package identity pulls the applicant contact block (name, email, phone)
// out of CV text. Three name strategies run in confidence order: a labeled
// contact line, the document header, then derivation from the email local
// part or a Nigerian three-part name scan.
package identity

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/Ugoplus/smartcvnaija/internal/domain"
	"github.com/Ugoplus/smartcvnaija/internal/service/intent"
	"github.com/Ugoplus/smartcvnaija/pkg/msisdn"
)

var (
	labeledNameRe = regexp.MustCompile(`(?im)^\s*(?:full\s+)?name\s*[:\-]\s*(.{2,60})$`)
	nameTokenRe   = regexp.MustCompile(`^[A-Z][a-z]{1,15}$`)
	threePartRe   = regexp.MustCompile(`\b[A-Z][a-z]{1,15} [A-Z][a-z]{1,15} [A-Z][a-z]{1,15}\b`)
	emailRe       = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe       = regexp.MustCompile(`\+234\d{10}|\b234\d{10}\b|\b0\d{10}\b`)
)

// rejectedDomains are placeholder domains that show up in CV templates.
var rejectedDomains = map[string]struct{}{
	"example.com":      {},
	"test.com":         {},
	"domain.com":       {},
	"email.com":        {},
	"smartcvnaija.com": {},
	"sample.com":       {},
	"dummy.com":        {},
}

// stopWords are tokens that disqualify a name candidate: job titles,
// section headers and CV boilerplate that tend to sit where a name would.
var stopWords = map[string]struct{}{
	"curriculum": {}, "vitae": {}, "resume": {}, "cv": {},
	"professional": {}, "personal": {}, "summary": {}, "objective": {},
	"profile": {}, "statement": {}, "career": {},
	"experience": {}, "education": {}, "skills": {}, "references": {},
	"contact": {}, "information": {}, "details": {}, "address": {},
	"phone": {}, "email": {}, "nationality": {}, "gender": {},
	"team": {}, "leadership": {}, "senior": {}, "junior": {},
	"manager": {}, "engineer": {}, "developer": {}, "analyst": {},
	"officer": {}, "assistant": {}, "consultant": {}, "specialist": {},
	"coordinator": {}, "supervisor": {}, "executive": {}, "director": {},
	"accountant": {}, "nurse": {}, "driver": {}, "teacher": {},
	"marketing": {}, "sales": {}, "customer": {}, "service": {},
	"software": {}, "data": {}, "project": {}, "product": {},
}

// headerLines bounds how deep into the document the header scan looks.
const headerLines = 8

// Extractor chains the name strategies and validates the result.
type Extractor struct {
	catalog *intent.Catalog
}

func New(catalog *intent.Catalog) *Extractor {
	return &Extractor{catalog: catalog}
}

// Extract scans CV text for the applicant contact block. It always returns
// an Identity; emptiness and plausibility are judged by Validate.
func (e *Extractor) Extract(text string) domain.Identity {
	id := domain.Identity{
		Email: firstEmail(text),
		Phone: firstPhone(text),
	}

	if name, ok := labeledName(text); ok && e.plausibleName(name) {
		id.Name = name
		id.Confidence = domain.ConfidenceHigh
		return id
	}
	if name, ok := headerName(text); ok && e.plausibleName(name) {
		id.Name = name
		id.Confidence = domain.ConfidenceMedium
		return id
	}
	if name, ok := emailName(id.Email); ok && e.plausibleName(name) {
		id.Name = name
		id.Confidence = domain.ConfidenceLow
		return id
	}
	if name, ok := threePartName(text); ok && e.plausibleName(name) {
		id.Name = name
		id.Confidence = domain.ConfidenceLow
		return id
	}
	return id
}

// Validate decides whether id is enough to apply with: a plausible name and
// at least one way for a recruiter to reach the applicant.
func (e *Extractor) Validate(id domain.Identity) error {
	if !e.plausibleName(id.Name) {
		return fmt.Errorf("%w: could not find your name on the CV", domain.ErrCVValidation)
	}
	if id.Email == "" && id.Phone == "" {
		return fmt.Errorf("%w: no email address or phone number found on the CV", domain.ErrCVValidation)
	}
	return nil
}

// plausibleName applies the final gate: at least two characters, letters
// and spaces only, not a state name, no stop-listed token.
func (e *Extractor) plausibleName(name string) bool {
	name = strings.TrimSpace(name)
	if len(name) < 2 {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && r != ' ' {
			return false
		}
	}
	if e.catalog.IsState(name) {
		return false
	}
	for _, tok := range strings.Fields(name) {
		if _, bad := stopWords[strings.ToLower(tok)]; bad {
			return false
		}
	}
	return true
}

// labeledName matches explicit "Name: ..." contact lines.
func labeledName(text string) (string, bool) {
	m := labeledNameRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	fields := strings.Fields(strings.TrimRight(m[1], " .,;"))
	if len(fields) < 2 || len(fields) > 4 {
		return "", false
	}
	for i, f := range fields {
		for _, r := range f {
			if !unicode.IsLetter(r) {
				return "", false
			}
		}
		fields[i] = titleCase(f)
	}
	return strings.Join(fields, " "), true
}

// headerName takes the document's opening line that is entirely made of
// 2-4 name-shaped tokens.
func headerName(text string) (string, bool) {
	seen := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		seen++
		if seen > headerLines {
			break
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields) > 4 {
			continue
		}
		ok := true
		for _, f := range fields {
			if !nameTokenRe.MatchString(f) {
				ok = false
				break
			}
		}
		if ok {
			return strings.Join(fields, " "), true
		}
	}
	return "", false
}

// emailName rebuilds a name from the email local part: "john.doe93@x.com"
// becomes "John Doe".
func emailName(email string) (string, bool) {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "", false
	}
	parts := strings.FieldsFunc(email[:at], func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	names := make([]string, 0, 3)
	for _, p := range parts {
		p = strings.TrimRightFunc(p, unicode.IsDigit)
		if len(p) < 2 || !allLetters(p) {
			continue
		}
		names = append(names, titleCase(p))
		if len(names) == 3 {
			break
		}
	}
	if len(names) == 0 {
		return "", false
	}
	return strings.Join(names, " "), true
}

// threePartName scans the top of the document for a Nigerian three-part
// name pattern.
func threePartName(text string) (string, bool) {
	head := text
	if len(head) > 1500 {
		head = head[:1500]
	}
	for _, m := range threePartRe.FindAllString(head, 5) {
		bad := false
		for _, tok := range strings.Fields(m) {
			if _, s := stopWords[strings.ToLower(tok)]; s {
				bad = true
				break
			}
		}
		if !bad {
			return m, true
		}
	}
	return "", false
}

// firstEmail returns the first email in text whose domain is not a known
// placeholder, lowercased.
func firstEmail(text string) string {
	for _, m := range emailRe.FindAllString(text, 10) {
		m = strings.ToLower(m)
		at := strings.LastIndexByte(m, '@')
		if _, rejected := rejectedDomains[m[at+1:]]; rejected {
			continue
		}
		return m
	}
	return ""
}

// firstPhone returns the first Nigerian phone match normalized to the
// international form.
func firstPhone(text string) string {
	for _, m := range phoneRe.FindAllString(text, 10) {
		if n := msisdn.Normalize(m); msisdn.IsValid(n) {
			return n
		}
	}
	return ""
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func allLetters(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
