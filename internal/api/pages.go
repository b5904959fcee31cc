package api

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"unicode"

	"github.com/charmbracelet/x/ansi"
)

var pages = template.Must(template.New("pages").Parse(`
{{define "head"}}<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.}}</title></head><body>{{end}}
{{define "foot"}}</body></html>
{{end}}

{{define "updated"}}{{template "head" "updated"}}
<h1>updated!</h1>
<p>{{.Date}} was written to <code>{{.Path}}</code>.</p>
<script>setTimeout(() => {window.location.pathname = ""}, 1000)</script>
{{template "foot"}}{{end}}

{{define "busy"}}{{template "head" "busy"}}
<h1>another update is running</h1>
<p>Try again in a few seconds.</p>
{{template "foot"}}{{end}}

{{define "invalid"}}{{template "head" "bad request"}}
<h1>invalid diary</h1>
<pre>{{.}}</pre>
{{template "foot"}}{{end}}

{{define "failed"}}{{template "head" "error"}}
<h1>{{if .Command}}failed to run command: {{.Command}}{{else}}failed to update diary{{end}}</h1>
{{if .Step}}<p>step: {{.Step}}</p>{{end}}
{{if .Stderr}}<pre>{{.Stderr}}</pre>{{else}}<p>{{.Error}}</p>{{end}}
{{template "foot"}}{{end}}
`))

type updatedPage struct {
	Date string
	Path string
}

type failedPage struct {
	Step    string
	Command string
	Stderr  string
	Error   string
}

// cleanOutput strips terminal control sequences from tool output and
// blanks the remaining control characters except newline and tab. The
// template escapes what remains.
func cleanOutput(b []byte) string {
	return strings.Map(blankControl, ansi.Strip(string(bytes.ToValidUTF8(b, []byte("�")))))
}

func blankControl(r rune) rune {
	if r != '\n' && r != '\t' && unicode.IsControl(r) {
		return ' '
	}
	return r
}

func writePage(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("render page failed", slog.String("page", name), slog.String("error", err.Error()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
