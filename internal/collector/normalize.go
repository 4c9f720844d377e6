// Package collector turns source-specific webhook payloads into feedback
// items, stores them, and hands them to background processing.
package collector

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/thebtf/vocguru/pkg/models"
)

// ErrEmptyContent is returned for payloads with no feedback text.
var ErrEmptyContent = errors.New("feedback content is empty")

// Normalize maps a raw payload from source onto a FeedbackItem. Known
// integrations are slack, zoom and freshdesk; the canonical source names
// are accepted too. Anything else is treated as manual input.
func Normalize(source string, data map[string]any) (*models.FeedbackItem, error) {
	var item *models.FeedbackItem

	switch strings.ToLower(strings.TrimSpace(source)) {
	case "slack", string(models.SourceChat):
		item = &models.FeedbackItem{
			Source:      models.SourceChat,
			ExternalID:  first(data, "ts", "message_ts"),
			Content:     first(data, "text", "content"),
			AuthorEmail: first(data, "user_email"),
			AuthorName:  first(data, "user_name"),
			CreatedAt:   slackTime(first(data, "ts")),
			Metadata: metadata(map[string]string{
				"channel":       first(data, "channel"),
				"thread_ts":     first(data, "thread_ts"),
				"permalink":     first(data, "permalink"),
				"slack_user_id": first(data, "slack_user_id", "user"),
			}),
		}

	case "zoom", string(models.SourceCallTranscript):
		transcript := first(data, "transcript")
		if LooksLikeVTT(transcript) {
			transcript = ParseVTT(transcript)
		}
		item = &models.FeedbackItem{
			Source:      models.SourceCallTranscript,
			ExternalID:  first(data, "uuid"),
			Content:     transcript,
			AuthorEmail: first(data, "host_email"),
			AuthorName:  first(data, "host_name"),
			Metadata: metadata(map[string]string{
				"meeting_topic": first(data, "topic", "meeting_topic"),
				"recording_url": first(data, "recording_url"),
				"duration":      first(data, "duration"),
			}),
		}

	case "freshdesk", string(models.SourceHelpdesk):
		item = &models.FeedbackItem{
			Source:      models.SourceHelpdesk,
			ExternalID:  first(data, "ticket_id"),
			Content:     first(data, "description", "content"),
			AuthorEmail: first(data, "requester_email"),
			AuthorName:  first(data, "requester_name"),
			CreatedAt:   parseTime(first(data, "created_at")),
			Metadata: metadata(map[string]string{
				"ticket_url": first(data, "ticket_url"),
				"priority":   first(data, "priority"),
				"status":     first(data, "status"),
			}),
		}

	default:
		item = &models.FeedbackItem{
			Source:      models.SourceManual,
			ExternalID:  first(data, "id", "external_id"),
			Content:     first(data, "content"),
			AuthorEmail: first(data, "author_email"),
			AuthorName:  first(data, "author_name"),
		}
		if m, ok := data["metadata"].(map[string]any); ok && len(m) > 0 {
			item.Metadata = models.JSONMap(m)
		}
	}

	item.Content = strings.TrimSpace(item.Content)
	if item.Content == "" {
		return nil, ErrEmptyContent
	}
	if item.ExternalID == "" {
		item.ExternalID = uuid.NewString()
	}
	item.AuthorEmail = models.NormalizeEmail(item.AuthorEmail)
	item.Weight = models.DefaultFeedbackWeight
	return item, nil
}

// first returns the first non-empty value among keys, rendered as a string.
func first(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringValue(data[k]); s != "" {
			return s
		}
	}
	return ""
}

func stringValue(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

// metadata drops empty values so stored metadata only carries what the
// source actually sent.
func metadata(kv map[string]string) models.JSONMap {
	m := models.JSONMap{}
	for k, v := range kv {
		if v != "" {
			m[k] = v
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// slackTime parses a Slack "1700000000.000100" timestamp.
func slackTime(ts string) time.Time {
	secs, err := strconv.ParseFloat(ts, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	whole := int64(secs)
	return time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC()
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05Z07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
