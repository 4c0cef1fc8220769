// Package tabular normalizes messy CSV and XLSX backfill files into
// structured records, flagging anything a human should review.
package tabular

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

// encodingPriority is tried in order when statistical sniffing is not
// confident. ISO-8859-1 decodes any byte sequence, so the chain never
// fails outright.
var encodingPriority = []string{"utf-8", "windows-1252", "iso-8859-1"}

const sniffSample = 10 * 1024

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeText converts raw file bytes to a UTF-8 string. Statistical
// sniffing runs first; a low-confidence result falls through the
// priority list, accepting the first encoding that decodes cleanly.
func DecodeText(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)

	sample := data
	if len(sample) > sniffSample {
		sample = sample[:sniffSample]
	}
	if res, err := chardet.NewTextDetector().DetectBest(sample); err == nil && res.Confidence > 80 {
		if decoded, ok := decodeAs(data, res.Charset); ok {
			return decoded
		}
	}

	for _, name := range encodingPriority {
		if name == "utf-8" {
			if utf8.Valid(data) {
				return string(data)
			}
			continue
		}
		if decoded, ok := decodeAs(data, name); ok {
			return decoded
		}
	}

	// Unreachable in practice: ISO-8859-1 always decodes.
	out, _ := charmap.ISO8859_1.NewDecoder().Bytes(data)
	return string(out)
}

func decodeAs(data []byte, charset string) (string, bool) {
	if strings.EqualFold(charset, "utf-8") {
		if utf8.Valid(data) {
			return string(data), true
		}
		return "", false
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		zap.L().Debug("tabular: unsupported charset from sniffer", zap.String("charset", charset))
		return "", false
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	return string(out), true
}
