// Package extractor turns raw feedback text into a structured feature signal.
package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/vocguru/pkg/models"
)

const (
	// UnknownFeatureTitle is the title of a degraded extraction.
	UnknownFeatureTitle = "Unknown Feature"

	// fallbackSummaryRunes caps the summary copied from content on fallback.
	fallbackSummaryRunes = 200

	maxTags     = 10
	maxTitleLen = 120
)

var codeFenceRegex = regexp.MustCompile("(?s)^\\s*```(?:json)?\\s*\\n?(.*?)\\n?\\s*```\\s*$")

// Signal is the structured view of one piece of feedback.
type Signal struct {
	Title     string           `json:"title"`
	Summary   string           `json:"summary"`
	Sentiment models.Sentiment `json:"sentiment"`
	Tags      []string         `json:"tags"`
	Urgency   int              `json:"urgency"`
}

// EmbeddingText is the text the pipeline embeds for nearest-neighbour search.
func (s Signal) EmbeddingText() string {
	return strings.TrimSpace(s.Title + " " + s.Summary)
}

// Result is what an extractor returns. Degraded results carry the fallback
// signal and a reason; they are not errors.
type Result struct {
	Reason   string `json:"reason,omitempty"`
	Signal   Signal `json:"signal"`
	Degraded bool   `json:"degraded"`
}

// Fallback builds the degraded signal for content the extractor could not handle.
func Fallback(content string) Signal {
	return Signal{
		Title:     UnknownFeatureTitle,
		Summary:   truncateRunes(strings.TrimSpace(content), fallbackSummaryRunes),
		Sentiment: models.SentimentNeutral,
		Urgency:   models.DefaultUrgency,
		Tags:      []string{},
	}
}

// Degraded wraps the fallback signal in a degraded Result.
func Degraded(content, reason string) Result {
	return Result{Signal: Fallback(content), Degraded: true, Reason: reason}
}

// rawSignal is the JSON shape the extraction prompt asks for.
type rawSignal struct {
	FeatureTitle   string `json:"feature_title"`
	ProblemSummary string `json:"problem_summary"`
	Sentiment      string `json:"sentiment"`
	Urgency        any    `json:"urgency"`
	Tags           any    `json:"tags"`
}

// ParseSignal validates and coerces model output into a Result.
// Anything unparseable yields a degraded Result built from content.
func ParseSignal(raw, content string) Result {
	body := stripCodeFence(raw)
	if body == "" {
		return Degraded(content, "empty extractor response")
	}

	var rs rawSignal
	if err := json.Unmarshal([]byte(body), &rs); err != nil {
		log.Warn().Err(err).Str("response", truncateRunes(raw, 200)).Msg("Failed to parse extractor response")
		return Degraded(content, "malformed extractor response")
	}

	title := strings.TrimSpace(rs.FeatureTitle)
	if title == "" {
		return Degraded(content, "missing feature_title")
	}

	sentiment, ok := models.ParseSentiment(rs.Sentiment)
	if !ok && rs.Sentiment != "" {
		log.Warn().Str("sentiment", rs.Sentiment).Msg("Invalid sentiment from extractor, using neutral")
	}

	summary := strings.TrimSpace(rs.ProblemSummary)
	if summary == "" {
		summary = truncateRunes(strings.TrimSpace(content), fallbackSummaryRunes)
	}

	return Result{
		Signal: Signal{
			Title:     truncateRunes(title, maxTitleLen),
			Summary:   summary,
			Sentiment: sentiment,
			Urgency:   coerceUrgency(rs.Urgency),
			Tags:      coerceTags(rs.Tags),
		},
	}
}

// stripCodeFence removes a surrounding ```json fence if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRegex.FindStringSubmatch(s); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return s
}

// coerceUrgency accepts numbers or numeric strings and clamps to 1-10.
func coerceUrgency(v any) int {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint64:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return models.DefaultUrgency
		}
		f = parsed
	default:
		return models.DefaultUrgency
	}

	u := int(f + 0.5)
	if u < models.MinUrgency {
		return models.MinUrgency
	}
	if u > models.MaxUrgency {
		return models.MaxUrgency
	}
	return u
}

// coerceTags accepts an array of strings or a comma-separated string.
// Tags are lower-cased, trimmed and de-duplicated in order.
func coerceTags(v any) []string {
	var items []string
	switch x := v.(type) {
	case []any:
		for _, item := range x {
			if s, ok := item.(string); ok {
				items = append(items, s)
			}
		}
	case string:
		items = strings.Split(x, ",")
	}

	tags := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		tag := strings.ToLower(strings.TrimSpace(item))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
