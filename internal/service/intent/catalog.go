// Package intent resolves inbound WhatsApp text into a typed action: a
// local keyword stage first, then an AI stage with a deterministic fallback.
package intent

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var categoriesYAML []byte

// Category is one entry of the closed job-category table. Keys match the
// jobs.category column; Keywords double as the deterministic scorer's
// keyword table and Skills feeds the cover-letter fallback.
type Category struct {
	Key      string   `yaml:"key"`
	Label    string   `yaml:"label"`
	Search   string   `yaml:"search"`
	Skills   string   `yaml:"skills"`
	Keywords []string `yaml:"keywords"`
}

// Catalog holds the category table and the Nigerian state list.
type Catalog struct {
	Categories   []Category        `yaml:"categories"`
	States       []string          `yaml:"states"`
	StateAliases map[string]string `yaml:"state_aliases"`

	byKey    map[string]Category
	stateRes []stateRe
}

type stateRe struct {
	name string
	re   *regexp.Regexp
}

// LoadCatalog parses the embedded category table.
func LoadCatalog() (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(categoriesYAML, &c); err != nil {
		return nil, fmt.Errorf("op=intent.catalog: %w", err)
	}
	if len(c.Categories) == 0 || len(c.States) == 0 {
		return nil, fmt.Errorf("op=intent.catalog: empty table")
	}
	c.byKey = make(map[string]Category, len(c.Categories))
	for _, cat := range c.Categories {
		c.byKey[cat.Key] = cat
	}

	// Longer names match first so "Cross River" wins over "Rivers".
	type entry struct{ pattern, name string }
	entries := make([]entry, 0, len(c.States)+len(c.StateAliases))
	for _, s := range c.States {
		entries = append(entries, entry{pattern: strings.ToLower(s), name: s})
	}
	for alias, name := range c.StateAliases {
		entries = append(entries, entry{pattern: strings.ToLower(alias), name: name})
	}
	sort.Slice(entries, func(i, j int) bool { return len(entries[i].pattern) > len(entries[j].pattern) })
	c.stateRes = make([]stateRe, 0, len(entries))
	for _, e := range entries {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(e.pattern) + `\b`)
		c.stateRes = append(c.stateRes, stateRe{name: e.name, re: re})
	}
	return &c, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// DefaultCatalog returns the shared embedded catalog. It panics when the
// embedded table fails to parse, which is a build defect.
func DefaultCatalog() *Catalog {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = LoadCatalog()
	})
	if defaultErr != nil {
		panic(defaultErr)
	}
	return defaultCatalog
}

// ByKey looks up a category by its key.
func (c *Catalog) ByKey(key string) (Category, bool) {
	cat, ok := c.byKey[key]
	return cat, ok
}

// MatchCategory finds the category whose keyword matches text, preferring
// the longest keyword so "cybersecurity analyst" lands in it_software even
// though "security" also matches. Text must already be lowercased.
func (c *Catalog) MatchCategory(text string) (Category, string, bool) {
	var best Category
	var bestKw string
	for _, cat := range c.Categories {
		for _, kw := range cat.Keywords {
			if len(kw) <= len(bestKw) {
				continue
			}
			if containsWord(text, kw) {
				best = cat
				bestKw = kw
			}
		}
	}
	return best, bestKw, bestKw != ""
}

// MatchState finds a Nigerian state (or alias) mentioned in text and
// returns its display name. Text must already be lowercased.
func (c *Catalog) MatchState(text string) (string, bool) {
	for _, sr := range c.stateRes {
		if sr.re.MatchString(text) {
			return sr.name, true
		}
	}
	return "", false
}

// IsState reports whether s names a state exactly (case-insensitive).
// The recruiter form whitelist and the identity stop-list both use it.
func (c *Catalog) IsState(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, st := range c.States {
		if strings.ToLower(st) == s {
			return true
		}
	}
	_, ok := c.StateAliases[s]
	return ok
}

// containsWord reports whether sub occurs in s on word boundaries. Plain
// strings.Contains would turn "niger" into a hit inside "nigeria".
func containsWord(s, sub string) bool {
	for idx := 0; idx < len(s); {
		i := strings.Index(s[idx:], sub)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isWordByte(s[i-1])
		after := i+len(sub) == len(s) || !isWordByte(s[i+len(sub)])
		if before && after {
			return true
		}
		idx = i + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
