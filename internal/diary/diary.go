// Package diary models a submitted diary entry and derives its on-disk form:
// the front-matter file content, the date-partitioned path and the commit message.
package diary

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/starford/hibi/internal/apperr"
)

// DateLayout is the accepted textual form of Record.Date.
const DateLayout = "YYYY-MM-DD"

var dateRe = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}$`)

// Record is one diary submission. It only lives for the duration of a request.
type Record struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Date    string `json:"date"`
}

// Date is a validated entry date split into its path components.
type Date struct {
	Year  string
	Month string
	Day   string
}

// ParseDate splits s on "-" into year, month and day. Anything that is not
// exactly YYYY-MM-DD is rejected with an error wrapping apperr.ErrInvalidRecord.
func ParseDate(s string) (Date, error) {
	if !dateRe.MatchString(s) {
		return Date{}, fmt.Errorf("%w: date %q is not in %s form", apperr.ErrInvalidRecord, s, DateLayout)
	}
	parts := strings.Split(s, "-")
	return Date{Year: parts[0], Month: parts[1], Day: parts[2]}, nil
}

// MatchesLayout reports whether s has the YYYY-MM-DD shape.
func MatchesLayout(s string) bool {
	return dateRe.MatchString(s)
}

// String returns the date in YYYY-MM-DD form.
func (d Date) String() string {
	return d.Year + "-" + d.Month + "-" + d.Day
}

// RelPath returns the slash-separated path of the entry file, e.g. 2024/03/05.md.
func (d Date) RelPath(ext string) string {
	return path.Join(d.Year, d.Month, d.Day+"."+strings.TrimPrefix(ext, "."))
}

// CommitMessage is the message used when committing an entry written from the web form.
func (d Date) CommitMessage() string {
	return fmt.Sprintf("%s/%s/%s (from web)", d.Year, d.Month, d.Day)
}

// DateFromRelPath is the inverse of RelPath. ok is false for paths that do not
// follow the yyyy/mm/dd.ext layout.
func DateFromRelPath(rel string) (Date, bool) {
	rel = path.Clean(strings.ReplaceAll(rel, "\\", "/"))
	parts := strings.Split(rel, "/")
	if len(parts) != 3 {
		return Date{}, false
	}
	day := strings.TrimSuffix(parts[2], path.Ext(parts[2]))
	d, err := ParseDate(parts[0] + "-" + parts[1] + "-" + day)
	if err != nil {
		return Date{}, false
	}
	return d, true
}

// Format renders the file content for rec: a front-matter header with the
// title, a blank line, then the body verbatim. The title is not escaped.
func Format(rec Record) []byte {
	var b strings.Builder
	b.Grow(len(rec.Title) + len(rec.Content) + 20)
	b.WriteString("---\ntitle: ")
	b.WriteString(rec.Title)
	b.WriteString("\n---\n\n")
	b.WriteString(rec.Content)
	return []byte(b.String())
}
