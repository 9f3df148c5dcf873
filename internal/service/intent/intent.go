package intent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Ugoplus/smartcvnaija/internal/domain"
)

const (
	aiMaxTokens  = 512
	historyTurns = 6
)

const systemPrompt = `You are the intent classifier for a Nigerian WhatsApp job-application assistant.
Classify the user's latest message using the recent conversation.
Return ONLY compact JSON, no markdown, exactly this schema:
{"action":"about_service|chat|search_jobs|clarify|help","response":"short reply to send the user","filters":{"title":"job keyword","location":"Nigerian state","remote":false}}
Rules:
- "search_jobs" only when BOTH a job type and a location (or remote work) are clear; bind them in filters.
- "clarify" when the user wants a job but the type or the location is missing; ask for the missing part in response.
- "help" when the user asks how to use the service, "about_service" when they ask what this is.
- otherwise "chat" with a brief reply that steers toward job search.`

// Resolver turns one inbound text into a domain.Intent. Stage 1 is local
// keyword matching; stage 2 asks the AI; both failing, a deterministic
// fallback reads the recent history. Resolve never errors: the orchestrator
// always gets something it can act on.
type Resolver struct {
	ai      domain.AIClient
	catalog *Catalog
}

func New(ai domain.AIClient, catalog *Catalog) *Resolver {
	return &Resolver{ai: ai, catalog: catalog}
}

// Resolve classifies text against the recent conversation turns.
func (r *Resolver) Resolve(ctx domain.Context, text string, history []domain.ConversationTurn) domain.Intent {
	if in, ok := r.resolveLocal(text, history); ok {
		return in
	}
	in, err := r.resolveAI(ctx, text, history)
	if err != nil {
		slog.Warn("intent ai stage failed, using context fallback", slog.Any("error", err))
		return r.contextFallback(text, history)
	}
	return in
}

type intentWire struct {
	Action   string `json:"action"`
	Response string `json:"response"`
	Filters  struct {
		Title    string `json:"title"`
		Location string `json:"location"`
		Remote   *bool  `json:"remote"`
	} `json:"filters"`
}

func (r *Resolver) resolveAI(ctx domain.Context, text string, history []domain.ConversationTurn) (domain.Intent, error) {
	raw, err := r.ai.ChatJSON(ctx, systemPrompt, buildUserPrompt(text, history), aiMaxTokens)
	if err != nil {
		return domain.Intent{}, err
	}
	wire, err := parseWire(raw)
	if err != nil {
		return domain.Intent{}, fmt.Errorf("op=intent.parse: %w", err)
	}
	return r.fromWire(wire), nil
}

// parseWire unmarshals the model reply, repairing a missing closing brace
// when the reply was cut off at the token limit.
func parseWire(raw string) (intentWire, error) {
	var w intentWire
	err := json.Unmarshal([]byte(raw), &w)
	if err == nil {
		return w, nil
	}
	if diff := strings.Count(raw, "{") - strings.Count(raw, "}"); diff > 0 {
		repaired := raw + strings.Repeat("}", diff)
		if err2 := json.Unmarshal([]byte(repaired), &w); err2 == nil {
			return w, nil
		}
	}
	return intentWire{}, err
}

// fromWire validates the model's classification. search_jobs without both a
// type and a place is downgraded to clarify.
func (r *Resolver) fromWire(w intentWire) domain.Intent {
	action := domain.IntentAction(strings.TrimSpace(w.Action))
	resp := strings.TrimSpace(w.Response)

	switch action {
	case domain.IntentSearchJobs:
		f := domain.JobFilters{
			Title:    strings.TrimSpace(w.Filters.Title),
			Location: r.canonicalState(w.Filters.Location),
			Remote:   w.Filters.Remote,
		}
		if f.Title == "" {
			return domain.Intent{
				Action:   domain.IntentClarify,
				Response: "What kind of job are you looking for? For example \"accountant\" or \"driver\".",
			}
		}
		if f.Location == "" && f.Remote == nil {
			return domain.Intent{
				Action:   domain.IntentClarify,
				Response: "Which state should I search for " + f.Title + " jobs? You can also say \"remote\".",
			}
		}
		return domain.Intent{Action: domain.IntentSearchJobs, Filters: f}
	case domain.IntentClarify:
		if resp == "" {
			resp = "Could you tell me the job type and the state you're interested in?"
		}
		return domain.Intent{Action: domain.IntentClarify, Response: resp}
	case domain.IntentHelp:
		if resp == "" {
			resp = helpReply
		}
		return domain.Intent{Action: domain.IntentHelp, Response: resp}
	case domain.IntentAboutService:
		if resp == "" {
			resp = aboutReply
		}
		return domain.Intent{Action: domain.IntentAboutService, Response: resp}
	case domain.IntentChat:
		if resp == "" {
			resp = chatReply
		}
		return domain.Intent{Action: domain.IntentChat, Response: resp}
	}
	return domain.Intent{Action: domain.IntentChat, Response: chatReply}
}

// canonicalState maps free-text locations onto the state list when
// possible; unknown places pass through for the ILIKE filter.
func (r *Resolver) canonicalState(loc string) string {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return ""
	}
	if s, ok := r.catalog.MatchState(strings.ToLower(loc)); ok {
		return s
	}
	return loc
}

// contextFallback reads the message plus recent history for a category and
// a state when the AI stage is unavailable.
func (r *Resolver) contextFallback(text string, history []domain.ConversationTurn) domain.Intent {
	combined := strings.ToLower(text) + "\n" + lastTurnsText(history, historyTurns)

	cat, kw, okCat := r.catalog.MatchCategory(combined)
	if okCat && isAmbiguousKeyword(kw) {
		cat = r.breakTie(cat, history)
	}
	state, okState := r.catalog.MatchState(combined)
	remote := remoteRe.MatchString(combined)

	switch {
	case okCat && (okState || remote):
		f := domain.JobFilters{Title: searchTerm(cat, kw), Location: state}
		if remote {
			tr := true
			f.Remote = &tr
		}
		return domain.Intent{Action: domain.IntentSearchJobs, Filters: f}
	case okCat:
		return domain.Intent{
			Action:   domain.IntentClarify,
			Response: "Which state should I search for " + cat.Label + " jobs? You can also say \"remote\".",
		}
	case okState || remote:
		return domain.Intent{
			Action:   domain.IntentClarify,
			Response: "What kind of job are you looking for? For example \"accountant\" or \"driver\".",
		}
	}
	return domain.Intent{Action: domain.IntentChat, Response: chatReply}
}

func buildUserPrompt(text string, history []domain.ConversationTurn) string {
	var b strings.Builder
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	for _, t := range history {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteByte('\n')
	}
	b.WriteString("user: ")
	b.WriteString(text)
	return b.String()
}
