package mcpserver

// EntryFormatContract describes how a diary entry is stored, so that LLM
// consumers can write sensible title and content values.
const EntryFormatContract = `# Diary Entry Format

Each diary entry is one Markdown file per day, committed and pushed to the
diary git repository.

## Layout

` + "```" + `
<repository>/<subdir>/YYYY/MM/DD.md
` + "```" + `

Posting twice for the same date replaces that day's file.

## File content

` + "```" + `markdown
---
title: <title>
---

<content>
` + "```" + `

## Rules

1. **date** is ` + "`" + `YYYY-MM-DD` + "`" + ` (4, 2 and 2 digits). Anything else is rejected.
2. **title** is written verbatim into the front matter. Keep it to a single line;
   it is not quoted or escaped.
3. **content** is written verbatim as the Markdown body.
4. Every post runs ` + "`" + `git pull` + "`" + `, writes the file, then ` + "`" + `git add -A` + "`" + `,
   ` + "`" + `git commit --all -m "YYYY/MM/DD (from web)"` + "`" + ` and ` + "`" + `git push` + "`" + `.
   Only one post runs at a time; a post made while another is running is refused
   with "busy" and should be retried a few seconds later.

## Example

` + "```" + `markdown
---
title: Rainy Tuesday
---

Walked to the station in the rain. Finished the first draft.
` + "```" + `
`
