// Package parser reads diary entry files back: YAML front matter, title and body.
package parser

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"
)

// Result holds the output of parsing an entry file.
type Result struct {
	Frontmatter map[string]any
	Body        string
	Title       string
}

// Parse extracts front matter, body and title from raw entry bytes.
// It never fails on malformed front matter; see splitFrontmatter.
func Parse(data []byte) (*Result, error) {
	fm, header, body := splitFrontmatter(data)
	return &Result{
		Frontmatter: fm,
		Body:        body,
		Title:       deriveTitle(fm, header, body),
	}, nil
}

// splitFrontmatter separates the block between leading --- delimiters from
// the body. Titles are written unescaped, so the block may not be valid YAML;
// in that case fm is nil and the raw header is returned for line scanning.
func splitFrontmatter(data []byte) (fm map[string]any, header, body string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, "", string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, "", string(data)
	}

	block := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body = strings.TrimLeft(string(afterDelim), "\n\r")

	if err := yaml.Unmarshal(block, &fm); err != nil {
		return nil, string(block), body
	}
	return fm, string(block), body
}

// deriveTitle prefers the front-matter title, then a raw "title:" header line,
// then the first H1 heading.
func deriveTitle(fm map[string]any, header, body string) string {
	if fm != nil {
		if t, ok := fm["title"]; ok {
			switch v := t.(type) {
			case string:
				if v != "" {
					return v
				}
			case nil:
			default:
				// Unquoted titles such as "2024" or "yes" decode as scalars.
				if s := strings.TrimSpace(rawTitle(header)); s != "" {
					return s
				}
			}
		}
	}
	if s := rawTitle(header); s != "" {
		return s
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

func rawTitle(header string) string {
	for _, line := range strings.Split(header, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimRight(line, "\r"), "title:"); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
