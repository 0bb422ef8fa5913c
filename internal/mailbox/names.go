package mailbox

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Agent name limits.
const (
	MinNameLength = 2
	MaxNameLength = 64
)

var (
	validName     = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9._-]*[a-z0-9])?$`)
	invalidChars  = regexp.MustCompile(`[^a-z0-9._-]`)
	repeatedDash  = regexp.MustCompile(`-{2,}`)
	numberedName  = regexp.MustCompile(`^(.+)-([1-9][0-9]?)$`)
	nameSuffixes  = []string{"ai", "bot", "agent", "assistant", "worker", "helper", "client"}
	separatorCuts = "-_."
)

// ValidateAgentName reports whether name is already canonical: lowercase
// alphanumerics plus '-', '_' and '.', 2 to 64 characters, starting and
// ending with an alphanumeric.
func ValidateAgentName(name string) error {
	if len(name) < MinNameLength || len(name) > MaxNameLength {
		return validationf("agent name %q must be %d-%d characters", name, MinNameLength, MaxNameLength)
	}
	if !validName.MatchString(name) {
		return validationf("agent name %q must be lowercase alphanumerics, '-', '_' or '.', without a leading or trailing separator", name)
	}
	return nil
}

// SanitizeAgentName maps arbitrary input onto the canonical name charset.
// The result always passes ValidateAgentName.
func SanitizeAgentName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "default-agent"
	}
	name = invalidChars.ReplaceAllString(name, "-")
	name = repeatedDash.ReplaceAllString(name, "-")
	name = strings.Trim(name, separatorCuts)

	if name == "" {
		return "default-agent"
	}
	if len(name) > MaxNameLength {
		name = strings.TrimRight(name[:MaxNameLength], separatorCuts)
	}
	if len(name) < MinNameLength {
		name = "agent-" + name
	}
	return name
}

// UniqueAgentName returns preferred if no registered agent uses it, else
// the first free "<base>-N" variant.
func (s *Store) UniqueAgentName(ctx context.Context, preferred string) (string, error) {
	agents, err := s.ListAgents(ctx)
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(agents))
	for _, a := range agents {
		taken[a.Name] = true
	}
	return uniqueName(preferred, taken), nil
}

func uniqueName(preferred string, taken map[string]bool) string {
	if !taken[preferred] {
		return preferred
	}
	base := preferred
	if m := numberedName.FindStringSubmatch(preferred); m != nil {
		base = m[1]
	}
	for i := 1; ; i++ {
		candidate := fitSuffix(base, fmt.Sprintf("-%d", i))
		if !taken[candidate] {
			return candidate
		}
	}
}

// SuggestAgentNames proposes up to count free alternatives to base.
func SuggestAgentNames(base string, existing map[string]bool, count int) []string {
	base = SanitizeAgentName(base)
	var out []string
	seen := map[string]bool{}
	for i := 2; len(out) < count && i <= 1000; i++ {
		c := fitSuffix(base, fmt.Sprintf("-%d", i))
		if !existing[c] && !seen[c] {
			out = append(out, c)
			seen[c] = true
		}
	}
	for _, suffix := range nameSuffixes {
		if len(out) >= count {
			break
		}
		c := fitSuffix(base, "-"+suffix)
		if !existing[c] && !seen[c] {
			out = append(out, c)
			seen[c] = true
		}
	}
	return out
}

// fitSuffix appends suffix, trimming base so the result stays within
// MaxNameLength.
func fitSuffix(base, suffix string) string {
	if len(base)+len(suffix) > MaxNameLength {
		base = strings.TrimRight(base[:MaxNameLength-len(suffix)], separatorCuts)
	}
	return base + suffix
}
