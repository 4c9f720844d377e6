package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// FeedbackSource identifies the channel a feedback item was captured from.
type FeedbackSource string

const (
	SourceChat           FeedbackSource = "chat"
	SourceCallTranscript FeedbackSource = "call-transcript"
	SourceHelpdesk       FeedbackSource = "helpdesk"
	SourceManual         FeedbackSource = "manual"
)

// AllFeedbackSources lists every accepted source tag.
var AllFeedbackSources = []FeedbackSource{
	SourceChat,
	SourceCallTranscript,
	SourceHelpdesk,
	SourceManual,
}

// Valid reports whether s is one of the known sources.
func (s FeedbackSource) Valid() bool {
	for _, known := range AllFeedbackSources {
		if s == known {
			return true
		}
	}
	return false
}

// DefaultFeedbackWeight is the weight of an item before identity resolution.
const DefaultFeedbackWeight = 1.0

// FeedbackItem is one normalized unit of customer input from any source.
// Items are append-only: the pipeline flips Processed once and nothing deletes them.
type FeedbackItem struct {
	CreatedAt   time.Time      `json:"created_at"`
	Metadata    JSONMap        `json:"metadata,omitempty"`
	CustomerID  *uuid.UUID     `json:"customer_id,omitempty"`
	Source      FeedbackSource `json:"source"`
	ExternalID  string         `json:"external_id"`
	Content     string         `json:"content"`
	AuthorEmail string         `json:"author_email,omitempty"`
	AuthorName  string         `json:"author_name,omitempty"`
	Weight      float64        `json:"weight"`
	ID          uuid.UUID      `json:"id"`
	Processed   bool           `json:"processed"`
}

// NormalizeEmail lower-cases and trims an email address for customer lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LinkedFeedback is a feedback item as seen through its link to a feature.
type LinkedFeedback struct {
	FeedbackItem
	SimilarityScore *float64 `json:"similarity_score,omitempty"`
	CustomerEmail   string   `json:"customer_email,omitempty"`
	CustomerARR     float64  `json:"customer_arr"`
}

// FeedbackFeatureLink attaches one feedback item to one feature.
// SimilarityScore is nil when the link created a brand-new feature.
type FeedbackFeatureLink struct {
	CreatedAt       time.Time `json:"created_at"`
	SimilarityScore *float64  `json:"similarity_score,omitempty"`
	FeedbackID      uuid.UUID `json:"feedback_id"`
	FeatureID       uuid.UUID `json:"feature_id"`
}

// Customer is a paying (or free) account whose revenue weighs its feedback.
type Customer struct {
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Email       string    `json:"email"`
	Name        string    `json:"name,omitempty"`
	CompanyName string    `json:"company_name,omitempty"`
	PlanName    string    `json:"plan_name,omitempty"`
	ARR         float64   `json:"arr"`
	ID          uuid.UUID `json:"id"`
}
