package membersync

import (
	"strconv"
	"strings"
	"time"

	"github.com/viralboard/membersync/pkg/roster"
)

// defaultWindowDays is the grant length when a record has no usable date.
const defaultWindowDays = 32

// Tier label keywords, checked in order. The first match wins.
var planKeywords = []struct {
	plan     Plan
	keywords []string
}{
	{PlanGold, []string{"gold", "pro", "골드"}},
	{PlanSilver, []string{"silver", "regular", "실버"}},
}

// timestampLayouts are the date formats seen in roster exports.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"2006. 1. 2.",
}

// MapTierToPlan maps a free text tier label to a plan. Matching is a
// case-insensitive substring test; unrecognized labels map to PlanFree.
func MapTierToPlan(tierLabel string) Plan {
	lower := strings.ToLower(tierLabel)
	for _, pk := range planKeywords {
		for _, kw := range pk.keywords {
			if strings.Contains(lower, kw) {
				return pk.plan
			}
		}
	}
	return PlanFree
}

// ParseLastUpdate parses an export timestamp.
func ParseLastUpdate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseLeadingDays parses the leading run of digits, e.g. "12 days" -> 12.
func parseLeadingDays(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Resolve computes the entitlement the snapshot grants to externalID.
// It returns false when the ID is not on the snapshot.
func Resolve(externalID string, snapshot *Whitelist, now time.Time) (*Decision, bool) {
	rec, ok := snapshot.Find(externalID)
	if !ok {
		return nil, false
	}
	return decide(rec, now), true
}

func decide(rec *roster.Record, now time.Time) *Decision {
	d := &Decision{
		Plan:      MapTierToPlan(rec.TierLabel),
		Role:      RoleApproved,
		TierLabel: rec.TierLabel,
	}
	d.ExpiresAt, d.Rule = computeExpiry(rec, now)
	return d
}

func computeExpiry(rec *roster.Record, now time.Time) (time.Time, Rule) {
	if rec.HasRemainingDays {
		if days, ok := parseLeadingDays(rec.RemainingDaysHint); ok {
			return now.AddDate(0, 0, days), RuleRemainingDays
		}
	}
	if ts, ok := ParseLastUpdate(rec.LastUpdateTimestamp); ok {
		return NextRenewal(ts.Day(), now), RuleAnchorDay
	}
	return now.AddDate(0, 0, defaultWindowDays), RuleDefaultWindow
}
