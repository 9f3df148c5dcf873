// Package ratelimiter enforces per-user action quotas on Redis.
//
// Limits use a fixed window: the first action in a window sets the expiry,
// later actions increment the same counter. Redis failures fail open so a
// cache outage degrades to unlimited traffic instead of a dead bot.
package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Action classifies the operations subject to limits.
type Action string

const (
	ActionMessage      Action = "message"
	ActionJobSearch    Action = "job_search"
	ActionCVUpload     Action = "cv_upload"
	ActionApplication  Action = "application"
	ActionAICall       Action = "ai_call"
	ActionFileDownload Action = "file_download"
)

// Rule is one action's ceiling within its window.
type Rule struct {
	Limit  int64
	Window time.Duration
}

// DefaultRules mirror the product's WhatsApp abuse thresholds.
func DefaultRules() map[Action]Rule {
	return map[Action]Rule{
		ActionMessage:      {Limit: 10, Window: 60 * time.Second},
		ActionJobSearch:    {Limit: 20, Window: 300 * time.Second},
		ActionCVUpload:     {Limit: 3, Window: 3600 * time.Second},
		ActionApplication:  {Limit: 50, Window: 86400 * time.Second},
		ActionAICall:       {Limit: 5, Window: 60 * time.Second},
		ActionFileDownload: {Limit: 10, Window: 300 * time.Second},
	}
}

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed   bool
	Remaining int64
	ResetIn   time.Duration
	// Message is a user-facing denial notice; empty when allowed.
	Message string
}

// Usage is a read-only snapshot for the admin endpoints.
type Usage struct {
	Action  Action        `json:"action"`
	Used    int64         `json:"used"`
	Limit   int64         `json:"limit"`
	ResetIn time.Duration `json:"reset_in"`
}

// Limiter checks and resets per-identifier action counters.
type Limiter struct {
	rdb    *goredis.Client
	rules  map[Action]Rule
	script *goredis.Script
}

// Counter keys live beside sessions as rate:{action}:{identifier}.
func key(action Action, identifier string) string {
	return fmt.Sprintf("rate:%s:%s", action, identifier)
}

const luaFixedWindow = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("TTL", KEYS[1])
if ttl < 0 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return { current, ttl }
`

// New builds a limiter with the default rules. Overrides replace individual
// actions and are primarily used by tests.
func New(rdb *goredis.Client, overrides map[Action]Rule) *Limiter {
	rules := DefaultRules()
	for a, r := range overrides {
		rules[a] = r
	}
	return &Limiter{
		rdb:    rdb,
		rules:  rules,
		script: goredis.NewScript(luaFixedWindow),
	}
}

// Check counts one occurrence of action for identifier and decides whether
// it may proceed. Unknown actions are always allowed.
func (l *Limiter) Check(ctx context.Context, identifier string, action Action) Decision {
	if l == nil || l.rdb == nil {
		return Decision{Allowed: true}
	}
	rule, ok := l.rules[action]
	if !ok || rule.Limit <= 0 {
		return Decision{Allowed: true}
	}

	res, err := l.script.Run(ctx, l.rdb, []string{key(action, identifier)},
		int64(rule.Window.Seconds())).Result()
	if err != nil {
		slog.Error("rate limiter script error",
			slog.String("action", string(action)), slog.Any("error", err))
		return Decision{Allowed: true}
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		slog.Error("rate limiter unexpected script result", slog.Any("result", res))
		return Decision{Allowed: true}
	}

	used := toInt64(vals[0])
	resetIn := time.Duration(toInt64(vals[1])) * time.Second

	if used > rule.Limit {
		return Decision{
			Allowed: false,
			ResetIn: resetIn,
			Message: denialMessage(action, resetIn),
		}
	}
	return Decision{Allowed: true, Remaining: rule.Limit - used, ResetIn: resetIn}
}

// Status reports current usage across all actions for one identifier.
func (l *Limiter) Status(ctx context.Context, identifier string) ([]Usage, error) {
	out := make([]Usage, 0, len(l.rules))
	for action, rule := range l.rules {
		var used int64
		v, err := l.rdb.Get(ctx, key(action, identifier)).Int64()
		switch {
		case err == goredis.Nil:
			used = 0
		case err != nil:
			return nil, fmt.Errorf("op=ratelimiter.Status action=%s: %w", action, err)
		default:
			used = v
		}
		ttl, err := l.rdb.TTL(ctx, key(action, identifier)).Result()
		if err != nil {
			return nil, fmt.Errorf("op=ratelimiter.Status action=%s: %w", action, err)
		}
		if ttl < 0 {
			ttl = 0
		}
		out = append(out, Usage{Action: action, Used: used, Limit: rule.Limit, ResetIn: ttl})
	}
	return out, nil
}

// Reset clears one action counter, or every counter when action is empty.
func (l *Limiter) Reset(ctx context.Context, identifier string, action Action) error {
	keys := make([]string, 0, len(l.rules))
	if action != "" {
		keys = append(keys, key(action, identifier))
	} else {
		for a := range l.rules {
			keys = append(keys, key(a, identifier))
		}
	}
	if err := l.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("op=ratelimiter.Reset: %w", err)
	}
	return nil
}

func denialMessage(action Action, resetIn time.Duration) string {
	wait := humanDuration(resetIn)
	switch action {
	case ActionMessage:
		return fmt.Sprintf("⏳ You're sending messages too quickly. Please wait %s and try again.", wait)
	case ActionJobSearch:
		return fmt.Sprintf("🔍 Too many searches right now. Take a short break and search again in %s.", wait)
	case ActionCVUpload:
		return fmt.Sprintf("📄 You've uploaded several CVs recently. Please try again in %s.", wait)
	case ActionApplication:
		return fmt.Sprintf("📨 You've hit today's application limit. It resets in %s.", wait)
	case ActionAICall:
		return fmt.Sprintf("🤖 I need a moment to catch up. Please try again in %s.", wait)
	case ActionFileDownload:
		return fmt.Sprintf("📥 Too many downloads at once. Please retry in %s.", wait)
	default:
		return fmt.Sprintf("⏳ Too many requests. Please try again in %s.", wait)
	}
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		h := int(d.Round(time.Hour).Hours())
		if h <= 1 {
			return "about an hour"
		}
		return fmt.Sprintf("about %d hours", h)
	case d >= time.Minute:
		m := int(d.Round(time.Minute).Minutes())
		if m <= 1 {
			return "a minute"
		}
		return fmt.Sprintf("%d minutes", m)
	case d > 0:
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	default:
		return "a moment"
	}
}

func toInt64(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case string:
		var n int64
		_, _ = fmt.Sscan(x, &n)
		return n
	default:
		return 0
	}
}
