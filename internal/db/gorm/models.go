package gorm

import (
	"time"

	"github.com/google/uuid"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/thebtf/vocguru/pkg/models"
)

// GORM row types. Domain types live in pkg/models; these carry the table
// layout and convert at the package boundary.

// Customer is a row of the customers table.
type Customer struct {
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
	Email       string    `gorm:"type:text;uniqueIndex;not null"`
	Name        string    `gorm:"type:text"`
	CompanyName string    `gorm:"type:text"`
	PlanName    string    `gorm:"type:text"`
	ARR         float64   `gorm:"column:arr;not null;default:0"`
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
}

func (Customer) TableName() string { return "customers" }

// BeforeCreate assigns an id when none was set.
func (c *Customer) BeforeCreate(_ *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

func (c *Customer) toModel() *models.Customer {
	return &models.Customer{
		ID:          c.ID,
		Email:       c.Email,
		Name:        c.Name,
		CompanyName: c.CompanyName,
		PlanName:    c.PlanName,
		ARR:         c.ARR,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// FeedbackItem is a row of the feedback table.
type FeedbackItem struct {
	CreatedAt   time.Time      `gorm:"not null;index:idx_feedback_processed_created,priority:2"`
	Metadata    models.JSONMap `gorm:"type:jsonb"`
	CustomerID  *uuid.UUID     `gorm:"type:uuid;index"`
	Source      string         `gorm:"type:text;not null;uniqueIndex:idx_feedback_source_external,priority:1"`
	ExternalID  string         `gorm:"type:text;not null;uniqueIndex:idx_feedback_source_external,priority:2"`
	Content     string         `gorm:"type:text;not null"`
	AuthorEmail string         `gorm:"type:text"`
	AuthorName  string         `gorm:"type:text"`
	Weight      float64        `gorm:"not null;default:1"`
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Processed   bool           `gorm:"not null;default:false;index:idx_feedback_processed_created,priority:1"`
}

func (FeedbackItem) TableName() string { return "feedback" }

// BeforeCreate assigns an id when none was set.
func (f *FeedbackItem) BeforeCreate(_ *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

func feedbackRow(m *models.FeedbackItem) *FeedbackItem {
	return &FeedbackItem{
		ID:          m.ID,
		Source:      string(m.Source),
		ExternalID:  m.ExternalID,
		Content:     m.Content,
		AuthorEmail: m.AuthorEmail,
		AuthorName:  m.AuthorName,
		CustomerID:  m.CustomerID,
		Weight:      m.Weight,
		Metadata:    m.Metadata,
		Processed:   m.Processed,
		CreatedAt:   m.CreatedAt,
	}
}

func (f *FeedbackItem) toModel() *models.FeedbackItem {
	return &models.FeedbackItem{
		ID:          f.ID,
		Source:      models.FeedbackSource(f.Source),
		ExternalID:  f.ExternalID,
		Content:     f.Content,
		AuthorEmail: f.AuthorEmail,
		AuthorName:  f.AuthorName,
		CustomerID:  f.CustomerID,
		Weight:      f.Weight,
		Metadata:    f.Metadata,
		Processed:   f.Processed,
		CreatedAt:   f.CreatedAt,
	}
}

// Feature is a row of the features table. The embedding column is sized at
// migration time, so AutoMigrate skips it.
type Feature struct {
	CreatedAt       time.Time              `gorm:"not null;index"`
	UpdatedAt       time.Time              `gorm:"not null"`
	Embedding       *pgvec.Vector          `gorm:"column:embedding;-:migration"`
	Tags            models.JSONStringArray `gorm:"type:jsonb;not null;default:'[]'"`
	Title           string                 `gorm:"type:text;not null"`
	Description     string                 `gorm:"type:text"`
	ProblemSummary  string                 `gorm:"type:text"`
	Sentiment       string                 `gorm:"type:text;not null;default:'neutral'"`
	Status          string                 `gorm:"type:text;not null;default:'discovered';index"`
	TrackerIssueKey string                 `gorm:"type:text"`
	TrackerIssueURL string                 `gorm:"type:text"`
	UrgencyScore    int                    `gorm:"not null;default:5"`
	Priority        int                    `gorm:"not null;default:0"`
	TotalWeight     float64                `gorm:"not null;default:0"`
	TotalARR        float64                `gorm:"column:total_arr;not null;default:0;index"`
	FeedbackCount   int64                  `gorm:"not null;default:0"`
	PublicVotes     int64                  `gorm:"not null;default:0"`
	ID              uuid.UUID              `gorm:"type:uuid;primaryKey"`
	IsPublic        bool                   `gorm:"not null;default:false"`
}

func (Feature) TableName() string { return "features" }

func featureRow(m *models.Feature) *Feature {
	row := &Feature{
		ID:              m.ID,
		Title:           m.Title,
		Description:     m.Description,
		ProblemSummary:  m.ProblemSummary,
		Sentiment:       string(m.Sentiment),
		Status:          string(m.Status),
		UrgencyScore:    m.UrgencyScore,
		Tags:            m.Tags,
		TrackerIssueKey: m.TrackerIssueKey,
		TrackerIssueURL: m.TrackerIssueURL,
		Priority:        m.Priority,
		TotalWeight:     m.TotalWeight,
		TotalARR:        m.TotalARR,
		FeedbackCount:   m.FeedbackCount,
		PublicVotes:     m.PublicVotes,
		IsPublic:        m.IsPublic,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if len(m.Embedding) > 0 {
		v := pgvec.NewVector(m.Embedding)
		row.Embedding = &v
	}
	if row.Tags == nil {
		row.Tags = models.JSONStringArray{}
	}
	return row
}

func (f *Feature) toModel() *models.Feature {
	m := &models.Feature{
		ID:              f.ID,
		Title:           f.Title,
		Description:     f.Description,
		ProblemSummary:  f.ProblemSummary,
		Sentiment:       models.Sentiment(f.Sentiment),
		Status:          models.FeatureStatus(f.Status),
		UrgencyScore:    f.UrgencyScore,
		Tags:            f.Tags,
		TrackerIssueKey: f.TrackerIssueKey,
		TrackerIssueURL: f.TrackerIssueURL,
		Priority:        f.Priority,
		TotalWeight:     f.TotalWeight,
		TotalARR:        f.TotalARR,
		FeedbackCount:   f.FeedbackCount,
		PublicVotes:     f.PublicVotes,
		IsPublic:        f.IsPublic,
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.UpdatedAt,
	}
	if f.Embedding != nil {
		m.Embedding = f.Embedding.Slice()
	}
	return m
}

// FeedbackFeature is a row of the feedback_features link table.
type FeedbackFeature struct {
	CreatedAt       time.Time `gorm:"not null"`
	SimilarityScore *float64
	FeedbackID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	FeatureID       uuid.UUID `gorm:"type:uuid;primaryKey;index"`
}

func (FeedbackFeature) TableName() string { return "feedback_features" }

// AllModels returns every row type for AutoMigrate.
func AllModels() []any {
	return []any{
		&Customer{},
		&FeedbackItem{},
		&Feature{},
		&FeedbackFeature{},
	}
}
