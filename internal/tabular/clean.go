package tabular

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rotisserie/eris"
)

// excelEpoch anchors spreadsheet serial dates. The -2 day correction in
// ParseDateCell accounts for Excel's phantom 1900-02-29 plus 1-based
// serials.
var excelEpoch = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

var serialRe = regexp.MustCompile(`^[0-9]+(?:\.[0-9]+)?$`)

// ParseDateCell interprets a spreadsheet cell as a date. Bare numbers
// are serial dates counted from 1900-01-01; anything else goes through
// free-form parsing. Total failure is an error the caller logs as a
// missing value, never a row abort.
func ParseDateCell(value string) (time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, eris.New("tabular: empty date cell")
	}

	if serialRe.MatchString(s) {
		serial, err := strconv.ParseFloat(s, 64)
		if err == nil {
			return excelEpoch.AddDate(0, 0, int(serial)-2), nil
		}
	}

	parsed, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "tabular: unparseable date cell %q", value)
	}
	return parsed, nil
}
