// Package quickadd turns free-form task text into a structured spec using
// Vikunja's quick-add magic syntax: *label, !priority, +project, plus a
// small fixed set of natural-language due dates.
package quickadd

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Spec is the parsed result. Zero values mean "not present" (Priority 0 is
// unset; valid priorities are 1..5).
type Spec struct {
	Title    string
	Labels   []string
	Priority int
	Project  string
	DueDate  string // YYYY-MM-DD
	Repeat   string
}

var (
	labelRe    = regexp.MustCompile(`\*(?:"([^"]+)"|'([^']+)'|(\S+))`)
	priorityRe = regexp.MustCompile(`!([1-5])`)
	projectRe  = regexp.MustCompile(`\+(?:"([^"]+)"|'([^']+)'|(\S+))`)
)

// datePattern pairs a regexp with the date it resolves to. The list order is
// the precedence contract: the first pattern that matches anywhere in the
// text wins, and no later pattern is tried even if it would also match.
type datePattern struct {
	re      *regexp.Regexp
	resolve func(m []string, now time.Time) time.Time
}

var datePatterns = buildDatePatterns()

func buildDatePatterns() []datePattern {
	patterns := []datePattern{
		{regexp.MustCompile(`(?i)\btoday\b`), func(m []string, now time.Time) time.Time {
			return now
		}},
		{regexp.MustCompile(`(?i)\btomorrow\b`), func(m []string, now time.Time) time.Time {
			return now.AddDate(0, 0, 1)
		}},
	}
	weekdays := []struct {
		name string
		day  time.Weekday
	}{
		{"monday", time.Monday},
		{"tuesday", time.Tuesday},
		{"wednesday", time.Wednesday},
		{"thursday", time.Thursday},
		{"friday", time.Friday},
		{"saturday", time.Saturday},
		{"sunday", time.Sunday},
	}
	for _, wd := range weekdays {
		day := wd.day
		patterns = append(patterns, datePattern{
			regexp.MustCompile(`(?i)\bnext ` + wd.name + `\b`),
			func(m []string, now time.Time) time.Time {
				return nextWeekday(now, day)
			},
		})
	}
	patterns = append(patterns,
		datePattern{regexp.MustCompile(`(?i)in (\d+) days?`), func(m []string, now time.Time) time.Time {
			n, _ := strconv.Atoi(m[1])
			return now.AddDate(0, 0, n)
		}},
		datePattern{regexp.MustCompile(`(?i)in (\d+) weeks?`), func(m []string, now time.Time) time.Time {
			n, _ := strconv.Atoi(m[1])
			return now.AddDate(0, 0, 7*n)
		}},
		datePattern{regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})`), func(m []string, now time.Time) time.Time {
			d, _ := strconv.Atoi(m[1])
			mo, _ := strconv.Atoi(m[2])
			y, _ := strconv.Atoi(m[3])
			return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, now.Location())
		}},
	)
	return patterns
}

// nextWeekday returns the next future occurrence of day. If now already
// falls on day, it rolls a full week forward.
func nextWeekday(now time.Time, day time.Weekday) time.Time {
	ahead := (int(day) - int(now.Weekday()) + 7) % 7
	if ahead == 0 {
		ahead = 7
	}
	return now.AddDate(0, 0, ahead)
}

// Parse extracts task attributes from text. It is total: any input yields a
// Spec, worst case one whose title is the whole (normalized) text. Stages
// run in fixed order and each removes its matched span before the next
// stage sees the text.
func Parse(text string, now time.Time) Spec {
	var spec Spec
	spec.Labels, text = extractLabels(text)
	spec.Priority, text = extractPriority(text)
	spec.Project, text = extractProject(text)
	spec.DueDate, text = extractDue(text, now)
	spec.Title = strings.Join(strings.Fields(text), " ")
	return spec
}

// ParseDue runs only the due-date stage, for flows that expect a bare date
// answer. Reports whether any pattern matched.
func ParseDue(text string, now time.Time) (string, bool) {
	due, _ := extractDue(text, now)
	return due, due != ""
}

func extractLabels(text string) ([]string, string) {
	var labels []string
	for _, m := range labelRe.FindAllStringSubmatch(text, -1) {
		labels = append(labels, firstGroup(m))
	}
	return labels, labelRe.ReplaceAllString(text, "")
}

func extractPriority(text string) (int, string) {
	m := priorityRe.FindStringSubmatchIndex(text)
	if m == nil {
		return 0, text
	}
	p, _ := strconv.Atoi(text[m[2]:m[3]])
	return p, text[:m[0]] + text[m[1]:]
}

func extractProject(text string) (string, string) {
	m := projectRe.FindStringSubmatch(text)
	if m == nil {
		return "", text
	}
	loc := projectRe.FindStringIndex(text)
	return firstGroup(m), text[:loc[0]] + text[loc[1]:]
}

func extractDue(text string, now time.Time) (string, string) {
	for _, p := range datePatterns {
		loc := p.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		m := p.re.FindStringSubmatch(text)
		t := p.resolve(m, now)
		due := fmt.Sprintf("%04d-%02d-%02d", t.Year(), t.Month(), t.Day())
		return due, text[:loc[0]] + text[loc[1]:]
	}
	return "", text
}

// firstGroup returns the first non-empty capture group, matching the
// quoted-or-bare alternation in the label and project patterns.
func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}
