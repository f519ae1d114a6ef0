package telegram

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"ImpactScanner/internal/domain"
)

// MaxMessageLength is the Telegram sendMessage text limit in characters.
const MaxMessageLength = 4096

// EmptyReportMessage is sent when no result cleared the threshold.
const EmptyReportMessage = "No qualifying items in this run."

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// Render formats a report as legacy Telegram Markdown.
func Render(report domain.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "*Market impact report* (%s)\n", escape(report.Label))
	fmt.Fprintf(&b, "%s | analyzed %d | unavailable %d | shown %d above %.1f\n",
		report.GeneratedAt.UTC().Format("2006-01-02 15:04 MST"),
		report.Analyzed, report.Placeholders, len(report.Results), report.Threshold)

	if len(report.Results) == 0 {
		b.WriteString("\n")
		b.WriteString(EmptyReportMessage)
		return b.String()
	}

	for i, res := range report.Results {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%d. *%s*\n", i+1, escape(res.Title))
		fmt.Fprintf(&b, "Score: %.1f/10", res.ImpactScore)
		if res.Source != "" {
			fmt.Fprintf(&b, " | %s", escape(res.Source))
		}
		fmt.Fprintf(&b, " | via %s\n", escape(res.EngineUsed))
		if res.Rationale != "" {
			b.WriteString(escape(res.Rationale))
			b.WriteString("\n")
		}
		if len(res.RelatedEntities) > 0 {
			fmt.Fprintf(&b, "Related: %s\n", escape(strings.Join(res.RelatedEntities, ", ")))
		}
		if res.URL != "" {
			b.WriteString(res.URL)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Split cuts text into chunks of at most limit runes, preferring line breaks.
func Split(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var (
		chunks  []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if size > 0 {
			chunks = append(chunks, strings.TrimRight(current.String(), "\n"))
			current.Reset()
			size = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		lineLen := utf8.RuneCountInString(line)
		if size+lineLen > limit {
			flush()
		}
		for lineLen > limit {
			runes := []rune(line)
			chunks = append(chunks, string(runes[:limit]))
			line = string(runes[limit:])
			lineLen -= limit
		}
		current.WriteString(line)
		size += lineLen
	}
	flush()
	return chunks
}

func escape(s string) string {
	return markdownEscaper.Replace(s)
}
