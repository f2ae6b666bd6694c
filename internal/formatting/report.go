// Package formatting renders research reports as Markdown.
package formatting

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/models"
)

var citationRe = regexp.MustCompile(`\[(\d{1,3})\]`)

// RenderMarkdown renders a final report. Sources are numbered in output
// order and marked "Used inline" when a theme cites them or the analysis
// carries a matching [n] marker.
func RenderMarkdown(o *models.FinalOutput) string {
	if o == nil {
		return ""
	}

	index := make(map[string]int, len(o.Sources))
	for i, f := range o.Sources {
		if f.ID != "" {
			index[f.ID] = i + 1
		}
	}

	analysis := stripSourcesSection(o.DetailedAnalysis)
	used := inlineCitations(analysis)

	var b strings.Builder
	title := o.Query
	if title == "" {
		title = o.RequestID
	}
	fmt.Fprintf(&b, "# Research report: %s\n\n", title)
	if o.Goal != "" {
		fmt.Fprintf(&b, "**Goal:** %s\n\n", o.Goal)
	}
	fmt.Fprintf(&b, "**Verdict:** %s | **Confidence:** %.2f | **Iterations:** %d\n\n",
		verdictLabel(o.Verification.Verdict), o.Metadata.Confidence, o.Metadata.IterationsUsed)

	section(&b, "Executive summary", o.ExecutiveSummary)
	section(&b, "Analysis", analysis)

	if len(o.Themes) > 0 {
		b.WriteString("## Themes\n\n")
		for _, t := range o.Themes {
			fmt.Fprintf(&b, "### %s (confidence %.2f)\n\n", t.Name, t.Confidence)
			if t.Description != "" {
				b.WriteString(strings.TrimSpace(t.Description))
				b.WriteString("\n\n")
			}
			var refs []int
			for _, id := range t.SupportingFindings {
				if n, ok := index[id]; ok {
					refs = append(refs, n)
					used[n] = true
				}
			}
			if len(refs) > 0 {
				sort.Ints(refs)
				b.WriteString("Supporting sources: ")
				b.WriteString(joinRefs(refs))
				b.WriteString("\n\n")
			}
		}
	}

	if len(o.Contradictions) > 0 {
		b.WriteString("## Contradictions\n\n")
		for _, c := range o.Contradictions {
			fmt.Fprintf(&b, "- %s (%s) vs. %s (%s)", c.ClaimA, c.SourceA, c.ClaimB, c.SourceB)
			if c.Resolution != "" {
				fmt.Fprintf(&b, ": %s", c.Resolution)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(o.OpenQuestions) > 0 {
		b.WriteString("## Open questions\n\n")
		for _, q := range o.OpenQuestions {
			b.WriteString("- ")
			b.WriteString(q.Question)
			if q.Reason != "" {
				fmt.Fprintf(&b, " (%s)", q.Reason)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	renderVerification(&b, &o.Verification)

	if len(o.Sources) > 0 {
		b.WriteString("## Sources\n\n")
		for i, f := range o.Sources {
			n := i + 1
			fmt.Fprintf(&b, "[%d] %s", n, f.Claim)
			switch {
			case f.Source != "" && f.SourceURL != "":
				fmt.Fprintf(&b, " (%s, %s)", f.Source, f.SourceURL)
			case f.Source != "":
				fmt.Fprintf(&b, " (%s)", f.Source)
			case f.SourceURL != "":
				fmt.Fprintf(&b, " (%s)", f.SourceURL)
			}
			if used[n] {
				b.WriteString(" - Used inline\n")
			} else {
				b.WriteString(" - Additional source\n")
			}
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func renderVerification(b *strings.Builder, v *models.VerificationReport) {
	if v.Verdict == "" && len(v.Vulnerabilities) == 0 {
		return
	}
	b.WriteString("## Verification\n\n")
	fmt.Fprintf(b, "Verdict: %s", verdictLabel(v.Verdict))
	if v.AdjustedConfidence > 0 {
		fmt.Fprintf(b, ", confidence %.2f -> %.2f", v.OriginalConfidence, v.AdjustedConfidence)
	}
	b.WriteString("\n\n")
	if v.ConfidenceReason != "" {
		b.WriteString(v.ConfidenceReason)
		b.WriteString("\n\n")
	}
	for _, vuln := range v.Vulnerabilities {
		fmt.Fprintf(b, "- **%s** %s", vuln.Severity, vuln.Finding)
		if vuln.SuggestedFix != "" {
			fmt.Fprintf(b, " Fix: %s", vuln.SuggestedFix)
		}
		b.WriteString("\n")
	}
	if len(v.Vulnerabilities) > 0 {
		b.WriteString("\n")
	}
}

func verdictLabel(v models.Verdict) string {
	if v == "" {
		return "UNVERIFIED"
	}
	return string(v)
}

func section(b *strings.Builder, heading, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	fmt.Fprintf(b, "## %s\n\n%s\n\n", heading, body)
}

// stripSourcesSection drops a trailing "## Sources" block the model may
// have written; the rebuilt list replaces it.
func stripSourcesSection(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndex(strings.ToLower(s), "## sources"); idx != -1 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}

func inlineCitations(s string) map[int]bool {
	used := map[int]bool{}
	for _, m := range citationRe.FindAllStringSubmatch(s, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			used[n] = true
		}
	}
	return used
}

func joinRefs(refs []int) string {
	parts := make([]string, len(refs))
	for i, n := range refs {
		parts[i] = "[" + strconv.Itoa(n) + "]"
	}
	return strings.Join(parts, ", ")
}
