package roster

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding/korean"
)

const (
	utf8BOM     = "\uFEFF"
	replacement = "\uFFFD"
)

// Decode converts raw export bytes to text. UTF-8 is tried first; when the
// result contains the replacement character the original bytes are decoded
// once more as EUC-KR (the legacy encoding spreadsheet tools use for Korean
// exports). fallback reports whether the legacy decoding was used.
//
// A non-nil error wraps ErrDecodeFailure; text is still the best effort
// result and callers are expected to carry on with it.
func Decode(raw []byte) (text string, fallback bool, err error) {
	text = strings.ToValidUTF8(string(raw), replacement)
	if !strings.Contains(text, replacement) {
		return strings.TrimPrefix(text, utf8BOM), false, nil
	}

	legacy, decodeErr := korean.EUCKR.NewDecoder().Bytes(raw)
	if decodeErr != nil {
		return strings.TrimPrefix(text, utf8BOM), false,
			fmt.Errorf("%w: euc-kr: %v", ErrDecodeFailure, decodeErr)
	}

	decoded := strings.TrimPrefix(string(legacy), utf8BOM)
	if strings.Contains(decoded, replacement) {
		return decoded, true, fmt.Errorf("%w: invalid sequences in both encodings", ErrDecodeFailure)
	}
	return decoded, true, nil
}
