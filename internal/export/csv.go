// Package export renders record sets into the downloadable tabular artifact.
package export

import (
	"strconv"
	"strings"
	"time"

	"github.com/reviewgrab/reviewgrab/internal/review"
)

// Columns is the fixed column order of the export.
var Columns = []string{"reviewer", "rating", "text", "date", "country"}

// ContentType is the MIME type the artifact is served with.
const ContentType = "text/csv"

// Table renders records as delimited text. The header row is always present,
// every record field is quote-wrapped with embedded quotes doubled, and rows
// are joined by a single newline with no trailing newline.
//
// encoding/csv is deliberately not used here: it quotes only when required
// and always terminates the final record, neither of which matches the
// export contract.
func Table(records []review.Review) string {
	var b strings.Builder
	b.WriteString(strings.Join(Columns, ","))
	for _, r := range records {
		b.WriteByte('\n')
		b.WriteString(quote(r.Reviewer))
		b.WriteByte(',')
		b.WriteString(quote(strconv.Itoa(r.Rating)))
		b.WriteByte(',')
		b.WriteString(quote(r.Text))
		b.WriteByte(',')
		b.WriteString(quote(r.Date))
		b.WriteByte(',')
		b.WriteString(quote(r.Country))
	}
	return b.String()
}

// Filename returns the download filename for an export generated at ts.
func Filename(ts time.Time) string {
	return "reviews-" + ts.Format("20060102-150405") + ".csv"
}

func quote(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
