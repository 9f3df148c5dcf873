package domain

import (
	"fmt"
	"strings"
)

// IntentAction enumerates what a user message asks the bot to do.
type IntentAction string

const (
	IntentGreeting     IntentAction = "greeting"
	IntentHelp         IntentAction = "help"
	IntentStatus       IntentAction = "status"
	IntentReset        IntentAction = "reset"
	IntentAboutService IntentAction = "about_service"
	IntentSearchJobs   IntentAction = "search_jobs"
	IntentApplyJob     IntentAction = "apply_job"
	IntentGenerate     IntentAction = "generate_cover_letter"
	IntentChat         IntentAction = "chat"
	IntentClarify      IntentAction = "clarify"
	IntentUnknown      IntentAction = "unknown"
)

// JobFilters narrows a listing search. Remote is tri-state: nil means both
// remote and on-site listings match.
type JobFilters struct {
	Title    string `json:"title,omitempty"`
	Location string `json:"location,omitempty"`
	Remote   *bool  `json:"remote,omitempty"`
}

// IsZero reports whether no filter is set.
func (f JobFilters) IsZero() bool {
	return f.Title == "" && f.Location == "" && f.Remote == nil
}

// CacheKey folds normalized filters into a stable Redis key suffix so
// identical searches share one cached reply.
func (f JobFilters) CacheKey() string {
	remote := "any"
	if f.Remote != nil {
		remote = fmt.Sprintf("%t", *f.Remote)
	}
	norm := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			return "any"
		}
		return strings.Join(strings.Fields(s), "-")
	}
	return fmt.Sprintf("%s:%s:%s", norm(f.Title), norm(f.Location), remote)
}

// Intent is the resolved interpretation of one inbound text message.
type Intent struct {
	Action IntentAction `json:"action"`
	// Response carries a ready reply for conversational actions (greeting,
	// help, chat); empty for actions the orchestrator renders itself.
	Response string     `json:"response,omitempty"`
	Filters  JobFilters `json:"filters,omitempty"`
	// JobNumbers are 1-based positions into the last presented job list.
	JobNumbers []int `json:"job_numbers,omitempty"`
	// ApplyAll marks an "apply to all" request over the last job list.
	ApplyAll bool `json:"apply_all,omitempty"`
}
