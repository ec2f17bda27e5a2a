package roster

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	previewLines    = 5
	previewMaxRunes = 80
)

var (
	lineSplitter = regexp.MustCompile(`[\r\n]+`)

	// channelIDPattern matches a platform channel identifier, either bare or
	// embedded in a profile URL.
	channelIDPattern = regexp.MustCompile(`UC[A-Za-z0-9_-]{22}`)
)

// ExtractChannelID returns the first channel identifier found in s.
func ExtractChannelID(s string) (string, bool) {
	id := channelIDPattern.FindString(s)
	return id, id != ""
}

// Parse decodes raw export bytes and parses them into records.
// Decoding problems are not fatal; use Decode and ParseText directly when the
// decode diagnostic needs to be observed.
func Parse(raw []byte) ([]Record, error) {
	text, _, _ := Decode(raw)
	return ParseText(text)
}

// ParseText parses already decoded export text.
// It fails with a *ParseError wrapping ErrHeaderNotFound or ErrNoValidRows;
// no partial result is ever returned alongside an error.
func ParseText(text string) ([]Record, error) {
	lines := splitLines(text)

	headerIdx := -1
	for i := 0; i < len(lines) && i < headerScanLimit; i++ {
		if isHeaderLine(lines[i]) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, &ParseError{Err: ErrHeaderNotFound, Preview: preview(lines)}
	}

	sep := detectSeparator(lines[headerIdx])
	columns := mapColumns(splitFields(lines[headerIdx], sep))

	seen := make(map[string]bool)
	records := make([]Record, 0, len(lines)-headerIdx-1)
	for _, line := range lines[headerIdx+1:] {
		fields := splitFields(line, sep)

		link, _ := columns.value(fieldLink, fields)
		id, ok := ExtractChannelID(link)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true

		rec := Record{ExternalID: id}
		rec.DisplayName, _ = columns.value(fieldName, fields)
		rec.TierLabel, _ = columns.value(fieldTier, fields)
		rec.TierDurationMonths, _ = columns.value(fieldTierDuration, fields)
		rec.TotalDurationMonths, _ = columns.value(fieldTotalDuration, fields)
		rec.Status, _ = columns.value(fieldStatus, fields)
		rec.LastUpdateTimestamp, _ = columns.value(fieldLastUpdate, fields)
		rec.RemainingDaysHint, rec.HasRemainingDays = columns.value(fieldRemainingDays, fields)

		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, &ParseError{Err: ErrNoValidRows, Preview: preview(lines)}
	}
	return records, nil
}

// splitLines splits on runs of CR/LF, so empty lines never count toward the
// header scan window. Whitespace-only lines do.
func splitLines(text string) []string {
	lines := lineSplitter.Split(text, -1)
	out := lines[:0]
	for _, l := range lines {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// detectSeparator picks tab or comma by frequency on the header line.
func detectSeparator(header string) rune {
	if strings.Count(header, "\t") > strings.Count(header, ",") {
		return '\t'
	}
	return ','
}

func splitFields(line string, sep rune) []string {
	if sep == '\t' {
		parts := strings.Split(line, "\t")
		for i, p := range parts {
			parts[i] = cleanField(p)
		}
		return parts
	}
	return splitQuoted(line)
}

// splitQuoted splits a comma separated line, keeping commas that appear inside
// double quotes. A doubled quote inside a quoted field is a literal quote.
func splitQuoted(line string) []string {
	var (
		fields   []string
		current  strings.Builder
		inQuotes bool
	)
	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' && inQuotes && i+1 < len(runes) && runes[i+1] == '"':
			current.WriteRune('"')
			i++
		case r == '"':
			inQuotes = !inQuotes
		case r == ',' && !inQuotes:
			fields = append(fields, cleanField(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	return append(fields, cleanField(current.String()))
}

// cleanField trims whitespace and one pair of surrounding quotes.
func cleanField(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func preview(lines []string) []string {
	n := len(lines)
	if n > previewLines {
		n = previewLines
	}
	out := make([]string, 0, n)
	for _, l := range lines[:n] {
		if utf8.RuneCountInString(l) > previewMaxRunes {
			l = string([]rune(l)[:previewMaxRunes]) + "..."
		}
		out = append(out, l)
	}
	return out
}
