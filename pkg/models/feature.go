package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentiment is the emotional tone extracted from feedback.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ParseSentiment maps free-form extractor output onto a known sentiment.
// The second return value is false when the input was not recognized.
func ParseSentiment(s string) (Sentiment, bool) {
	switch Sentiment(strings.ToLower(strings.TrimSpace(s))) {
	case SentimentPositive:
		return SentimentPositive, true
	case SentimentNegative:
		return SentimentNegative, true
	case SentimentNeutral:
		return SentimentNeutral, true
	}
	return SentimentNeutral, false
}

// FeatureStatus tracks a feature through the roadmap.
type FeatureStatus string

const (
	StatusDiscovered FeatureStatus = "discovered"
	StatusPlanned    FeatureStatus = "planned"
	StatusInProgress FeatureStatus = "in_progress"
	StatusShipped    FeatureStatus = "shipped"
	// StatusDeclined is also the terminal state of the losing side of a manual merge.
	StatusDeclined FeatureStatus = "declined"
)

// AllFeatureStatuses lists every valid status.
var AllFeatureStatuses = []FeatureStatus{
	StatusDiscovered,
	StatusPlanned,
	StatusInProgress,
	StatusShipped,
	StatusDeclined,
}

// Valid reports whether s is a known status.
func (s FeatureStatus) Valid() bool {
	for _, known := range AllFeatureStatuses {
		if s == known {
			return true
		}
	}
	return false
}

const (
	MinUrgency     = 1
	MaxUrgency     = 10
	DefaultUrgency = 5
)

// Feature is a synthesized, deduplicated product request.
// TotalWeight, TotalARR and FeedbackCount are derived from the linked feedback
// and are only ever written by aggregate recalculation.
type Feature struct {
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Tags            JSONStringArray `json:"tags"`
	Embedding       []float32       `json:"-"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	ProblemSummary  string          `json:"problem_summary"`
	Sentiment       Sentiment       `json:"sentiment"`
	Status          FeatureStatus   `json:"status"`
	TrackerIssueKey string          `json:"tracker_issue_key,omitempty"`
	TrackerIssueURL string          `json:"tracker_issue_url,omitempty"`
	UrgencyScore    int             `json:"urgency_score"`
	Priority        int             `json:"priority"`
	TotalWeight     float64         `json:"total_weight"`
	TotalARR        float64         `json:"total_arr"`
	FeedbackCount   int64           `json:"feedback_count"`
	PublicVotes     int64           `json:"public_votes"`
	ID              uuid.UUID       `json:"id"`
	IsPublic        bool            `json:"is_public"`
}

// FeatureMatch is a nearest-neighbour hit from the feature index.
type FeatureMatch struct {
	FeatureID uuid.UUID
	Distance  float64
}

// SimilarFeature is a feature returned by similarity review, with its distance
// from the probe feature and similarity = 1 - distance.
type SimilarFeature struct {
	Feature
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
}

// FeatureDetail is a feature together with its linked feedback.
type FeatureDetail struct {
	Feature
	LinkedFeedback []LinkedFeedback `json:"linked_feedback"`
}

// FeatureSortFields is the whitelist of sortable columns for feature listings.
var FeatureSortFields = []string{
	"total_arr",
	"total_weight",
	"feedback_count",
	"urgency_score",
	"created_at",
	"priority",
}

// FeatureFilter selects and orders a page of features.
type FeatureFilter struct {
	Status FeatureStatus
	Search string
	Sort   string
	Order  string
	Page   int
	Limit  int
}

// Normalize applies defaults and clamps the filter to safe values.
func (f FeatureFilter) Normalize() FeatureFilter {
	valid := false
	for _, s := range FeatureSortFields {
		if f.Sort == s {
			valid = true
			break
		}
	}
	if !valid {
		f.Sort = "total_arr"
	}
	if strings.ToLower(f.Order) == "asc" {
		f.Order = "ASC"
	} else {
		f.Order = "DESC"
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	return f
}

// Offset returns the row offset of the filter's page.
func (f FeatureFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// FeaturePatch carries the editable, non-aggregate fields of a feature.
// Nil fields are left untouched.
type FeaturePatch struct {
	Title           *string        `json:"title,omitempty"`
	Description     *string        `json:"description,omitempty"`
	Status          *FeatureStatus `json:"status,omitempty"`
	Priority        *int           `json:"priority,omitempty"`
	TrackerIssueKey *string        `json:"tracker_issue_key,omitempty"`
	TrackerIssueURL *string        `json:"tracker_issue_url,omitempty"`
	IsPublic        *bool          `json:"is_public,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p FeaturePatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.TrackerIssueKey == nil && p.TrackerIssueURL == nil &&
		p.IsPublic == nil
}
