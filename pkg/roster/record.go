// Package roster parses membership exports from the external community
// platform into normalized records.
//
// The export format is not formally specified upstream: it may be comma or
// tab separated, UTF-8 or EUC-KR encoded, with an arbitrary number of
// preamble lines before the header and English or Korean column titles.
// Parsing is heuristic but deterministic.
package roster

// Record is a single member row taken from a roster export.
// All values are carried verbatim from the export (trimmed and unquoted),
// no type coercion is applied.
type Record struct {
	// ExternalID is the platform-issued channel identifier (UC + 22 chars)
	ExternalID string `json:"externalId"`

	DisplayName         string `json:"displayName"`
	TierLabel           string `json:"tierLabel"`
	TierDurationMonths  string `json:"tierDurationMonths"`
	TotalDurationMonths string `json:"totalDurationMonths"`
	Status              string `json:"status"`
	LastUpdateTimestamp string `json:"lastUpdateTimestamp"`

	// RemainingDaysHint is only meaningful when HasRemainingDays is true,
	// i.e. the export carried an explicit days-remaining column.
	RemainingDaysHint string `json:"remainingDaysHint,omitempty"`
	HasRemainingDays  bool   `json:"hasRemainingDays,omitempty"`
}
