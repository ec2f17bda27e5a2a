package roster

import "strings"

// headerScanLimit bounds how far into the file the header row is searched for.
const headerScanLimit = 20

// Header detection keywords. A line is the header only if it contains at
// least one subject keyword and at least one structure keyword.
var (
	subjectKeywords   = []string{"member", "profile", "회원", "멤버", "프로필"}
	structureKeywords = []string{"link", "tier", "level", "링크", "등급"}
)

type field int

const (
	fieldName field = iota
	fieldLink
	fieldTier
	fieldTierDuration
	fieldTotalDuration
	fieldStatus
	fieldLastUpdate
	fieldRemainingDays
)

// columnMarkers maps canonical fields to header substrings. Order matters:
// every header column is claimed by the first field that matches it, so the
// specific titles ("Total time as member", "Last update timestamp") are listed
// before the generic ones ("Member", "Last update").
var columnMarkers = []struct {
	field   field
	markers []string
}{
	{fieldLink, []string{"link", "profile", "url", "링크", "프로필", "채널"}},
	{fieldTierDuration, []string{"time on level", "time at level", "tier duration", "등급 유지", "등급 기간", "현재 등급 기간"}},
	{fieldTotalDuration, []string{"time as member", "total time", "total duration", "총 멤버십", "총 기간", "전체 기간"}},
	{fieldLastUpdate, []string{"timestamp", "last updated", "타임스탬프", "일시", "날짜"}},
	{fieldStatus, []string{"last update", "status", "최종 업데이트", "상태"}},
	{fieldTier, []string{"current level", "level", "tier", "현재 등급", "등급"}},
	{fieldRemainingDays, []string{"remaining", "days left", "남은", "잔여"}},
	{fieldName, []string{"member", "name", "회원", "멤버", "이름"}},
}

// columnMap records the header index of each mapped field.
type columnMap map[field]int

func (m columnMap) value(f field, fields []string) (string, bool) {
	idx, ok := m[f]
	if !ok || idx >= len(fields) {
		return "", ok
	}
	return fields[idx], true
}

func isHeaderLine(line string) bool {
	lower := strings.ToLower(line)
	return containsAny(lower, subjectKeywords) && containsAny(lower, structureKeywords)
}

func mapColumns(header []string) columnMap {
	lowered := make([]string, len(header))
	for i, h := range header {
		lowered[i] = strings.ToLower(h)
	}

	claimed := make(map[int]bool, len(header))
	columns := make(columnMap, len(columnMarkers))
	for _, cm := range columnMarkers {
		if idx, ok := findColumn(lowered, claimed, cm.markers); ok {
			columns[cm.field] = idx
			claimed[idx] = true
		}
	}
	return columns
}

// findColumn tries markers in order, so an earlier marker anywhere in the
// header beats a later marker in an earlier column.
func findColumn(titles []string, claimed map[int]bool, markers []string) (int, bool) {
	for _, marker := range markers {
		for i, title := range titles {
			if !claimed[i] && strings.Contains(title, marker) {
				return i, true
			}
		}
	}
	return 0, false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
