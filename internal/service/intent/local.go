package intent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Ugoplus/smartcvnaija/internal/domain"
)

const (
	greetingReply = "Hello! 👋 I'm SmartCV Naija. Send me your CV (PDF or DOCX) and I'll help you find and apply to jobs across Nigeria. Try \"developer jobs in Lagos\" to see what's out there."
	helpReply     = "Here's what I can do:\n\n📄 Send your CV as PDF or DOCX\n🔍 Search: \"accountant jobs in Abuja\"\n✉️ Apply: \"apply all\" or \"apply 1,3\"\n📋 \"status\" — your uploads and quota\n🔄 \"reset\" — clear your session\n\nJust tell me what kind of work you're looking for."
	aboutReply    = "SmartCV Naija helps you apply for jobs straight from WhatsApp. Upload your CV once, search openings across all 36 states and FCT, and I'll send tailored applications with a cover letter to recruiters on your behalf."
	chatReply     = "I can help you find and apply to jobs. Tell me the kind of role and the state, like \"sales jobs in Ogun\", or send your CV to get started."
)

// commandMap resolves exact short commands without touching the AI.
var commandMap = map[string]domain.Intent{
	"hi":             {Action: domain.IntentGreeting, Response: greetingReply},
	"hello":          {Action: domain.IntentGreeting, Response: greetingReply},
	"hey":            {Action: domain.IntentGreeting, Response: greetingReply},
	"good morning":   {Action: domain.IntentGreeting, Response: greetingReply},
	"good afternoon": {Action: domain.IntentGreeting, Response: greetingReply},
	"good evening":   {Action: domain.IntentGreeting, Response: greetingReply},
	"how far":        {Action: domain.IntentGreeting, Response: greetingReply},
	"start":          {Action: domain.IntentGreeting, Response: greetingReply},
	"help":           {Action: domain.IntentHelp, Response: helpReply},
	"menu":           {Action: domain.IntentHelp, Response: helpReply},
	"about":          {Action: domain.IntentAboutService, Response: aboutReply},
	"about service":  {Action: domain.IntentAboutService, Response: aboutReply},
	"who are you":    {Action: domain.IntentAboutService, Response: aboutReply},
	"status":         {Action: domain.IntentStatus},
	"my status":      {Action: domain.IntentStatus},
	"reset":          {Action: domain.IntentReset},
	"restart":        {Action: domain.IntentReset},
	"start over":     {Action: domain.IntentReset},
	"clear":          {Action: domain.IntentReset},
}

var (
	applyAllRe  = regexp.MustCompile(`^apply(?:\s+(?:all|to\s+all))?$`)
	applyNumsRe = regexp.MustCompile(`^apply\s+(?:to\s+)?(?:jobs?\s+)?(\d+(?:\s*,\s*\d+)*)$`)
	remoteRe    = regexp.MustCompile(`\bremote(?:ly)?\b|\bwork from home\b|\bwfh\b`)
	jobWordRe   = regexp.MustCompile(`\b(?:jobs?|vacanc(?:y|ies)|openings?|roles?|positions?|work|hiring|opportunit(?:y|ies))\b`)
)

// normalize lowercases and strips trailing punctuation so "Hello!!" still
// hits the command map.
func normalize(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, ".!?,;: ")
	return strings.Join(strings.Fields(t), " ")
}

// resolveLocal is stage 1. The bool reports whether the message was
// understood without the AI.
func (r *Resolver) resolveLocal(text string, history []domain.ConversationTurn) (domain.Intent, bool) {
	t := normalize(text)
	if t == "" {
		return domain.Intent{}, false
	}
	if in, ok := commandMap[t]; ok {
		return in, true
	}
	if applyAllRe.MatchString(t) {
		return domain.Intent{Action: domain.IntentApplyJob, ApplyAll: true}, true
	}
	if m := applyNumsRe.FindStringSubmatch(t); m != nil {
		nums := parseJobNumbers(m[1])
		if len(nums) == 0 {
			return domain.Intent{
				Action:   domain.IntentClarify,
				Response: "Which jobs should I apply to? Reply like \"apply 1,3\" or \"apply all\".",
			}, true
		}
		return domain.Intent{Action: domain.IntentApplyJob, JobNumbers: nums}, true
	}
	return r.searchIntent(t, history)
}

// searchIntent binds a job category and a location from the message. Both
// bound emits search_jobs; exactly one bound asks for the other; neither
// defers to stage 2.
func (r *Resolver) searchIntent(t string, history []domain.ConversationTurn) (domain.Intent, bool) {
	cat, kw, okCat := r.catalog.MatchCategory(t)
	state, okState := r.catalog.MatchState(t)
	remote := remoteRe.MatchString(t)

	if okCat && isAmbiguousKeyword(kw) {
		cat = r.breakTie(cat, history)
	}

	switch {
	case okCat && (okState || remote):
		f := domain.JobFilters{Title: searchTerm(cat, kw), Location: state}
		if remote {
			tr := true
			f.Remote = &tr
		}
		return domain.Intent{Action: domain.IntentSearchJobs, Filters: f}, true
	case okCat && (jobWordRe.MatchString(t) || len(strings.Fields(t)) <= 2):
		return domain.Intent{
			Action:   domain.IntentClarify,
			Response: "Which state should I search for " + cat.Label + " jobs? You can also say \"remote\".",
		}, true
	case (okState || remote) && jobWordRe.MatchString(t):
		where := state
		if where == "" {
			where = "remote"
		}
		return domain.Intent{
			Action:   domain.IntentClarify,
			Response: "What kind of job are you looking for in " + where + "? For example \"accountant\" or \"driver\".",
		}, true
	}
	return domain.Intent{}, false
}

// breakTie resolves a bare "engineer" by scanning the recent turns for
// software-leaning tokens.
func (r *Resolver) breakTie(cat Category, history []domain.ConversationTurn) Category {
	recent := lastTurnsText(history, 6)
	for _, tok := range []string{"software", "developer", "programming", "network", "frontend", "backend", "devops"} {
		if containsWord(recent, tok) {
			if c, ok := r.catalog.ByKey("it_software"); ok {
				return c
			}
		}
	}
	if c, ok := r.catalog.ByKey("engineering_technical"); ok {
		return c
	}
	return cat
}

func isAmbiguousKeyword(kw string) bool {
	return kw == "engineer" || kw == "engineering"
}

// searchTerm prefers the category's canonical term; categories without one
// fall back to the keyword that matched.
func searchTerm(cat Category, matched string) string {
	if cat.Search != "" {
		return cat.Search
	}
	return matched
}

func parseJobNumbers(s string) []int {
	parts := strings.Split(s, ",")
	nums := make([]int, 0, len(parts))
	seen := make(map[int]bool, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 1 || seen[n] {
			continue
		}
		seen[n] = true
		nums = append(nums, n)
	}
	return nums
}

func lastTurnsText(history []domain.ConversationTurn, n int) string {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	var b strings.Builder
	for _, t := range history {
		b.WriteString(strings.ToLower(t.Content))
		b.WriteByte('\n')
	}
	return b.String()
}
