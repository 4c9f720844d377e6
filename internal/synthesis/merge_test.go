package synthesis

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/thebtf/vocguru/pkg/models"
)

func (s *PipelineSuite) TestMergeDisjoint() {
	target := s.store.addFeature("sso", []float32{1, 0, 0, 0}, models.StatusPlanned)
	source := s.store.addFeature("saml login", []float32{0, 1, 0, 0}, models.StatusDiscovered)
	a := s.store.addFeedback("a", 1, nil)
	b := s.store.addFeedback("b", 2, nil)
	s.store.addLink(a, target)
	s.store.addLink(b, source)

	merged, err := s.pipe.Merge(s.ctx, source, target)
	s.Require().NoError(err)

	s.Equal(target, merged.ID)
	s.Equal(models.StatusPlanned, merged.Status)
	s.Equal(int64(2), merged.FeedbackCount)
	s.InDelta(3.0, merged.TotalWeight, 1e-9)

	links := s.store.linksOf(target)
	s.Len(links, 2)
	s.Contains(links, a)
	s.Contains(links, b)
	s.Empty(s.store.linksOf(source))

	src := s.store.feature(source)
	s.Equal(models.StatusDeclined, src.Status)
	s.Equal(int64(0), src.FeedbackCount)
	s.InDelta(0.0, src.TotalWeight, 1e-9)
	s.Equal(int64(1), s.pipe.Stats().Merges)
}

func (s *PipelineSuite) TestMergeOverlappingLinks() {
	target := s.store.addFeature("sso", []float32{1, 0, 0, 0}, models.StatusDiscovered)
	source := s.store.addFeature("saml login", []float32{0, 1, 0, 0}, models.StatusDiscovered)
	cust := s.store.addCustomer(4000)
	shared := s.store.addFeedback("shared", 2, &cust)
	only := s.store.addFeedback("only in source", 1, nil)
	s.store.addLink(shared, target)
	s.store.addLink(shared, source)
	s.store.addLink(only, source)

	merged, err := s.pipe.Merge(s.ctx, source, target)
	s.Require().NoError(err)

	s.Equal(int64(2), merged.FeedbackCount, "shared item is counted once")
	s.InDelta(3.0, merged.TotalWeight, 1e-9)
	s.InDelta(4000.0, merged.TotalARR, 1e-9)
	s.Len(s.store.linksOf(target), 2)
	s.Empty(s.store.linksOf(source))
	s.Equal(2, s.store.linkCount())
	s.Equal(models.StatusDeclined, s.store.feature(source).Status)
}

func (s *PipelineSuite) TestMergeRejectsInvalidPairs() {
	active := s.store.addFeature("sso", []float32{1, 0, 0, 0}, models.StatusDiscovered)
	declined := s.store.addFeature("old sso", []float32{1, 0, 0, 0}, models.StatusDeclined)
	fb := s.store.addFeedback("a", 1, nil)
	s.store.addLink(fb, active)

	tests := []struct {
		name           string
		source, target uuid.UUID
	}{
		{"self", active, active},
		{"nil source", uuid.Nil, active},
		{"missing source", uuid.New(), active},
		{"missing target", active, uuid.New()},
		{"declined target", active, declined},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.pipe.Merge(s.ctx, tt.source, tt.target)
			s.ErrorIs(err, ErrInvalidArgument)
		})
	}

	s.Equal(models.StatusDiscovered, s.store.feature(active).Status)
	s.Contains(s.store.linksOf(active), fb)
	s.Equal(int64(0), s.pipe.Stats().Merges)
}

func (s *PipelineSuite) TestMergeStorageFailureRollsBack() {
	target := s.store.addFeature("sso", []float32{1, 0, 0, 0}, models.StatusDiscovered)
	source := s.store.addFeature("saml login", []float32{0, 1, 0, 0}, models.StatusDiscovered)
	fb := s.store.addFeedback("a", 1, nil)
	s.store.addLink(fb, source)
	s.store.failOn = "SetStatus"

	_, err := s.pipe.Merge(s.ctx, source, target)
	s.ErrorIs(err, ErrStorage)

	s.Contains(s.store.linksOf(source), fb)
	s.Empty(s.store.linksOf(target))
	s.Equal(models.StatusDiscovered, s.store.feature(source).Status)
}

func (s *PipelineSuite) TestSimilarFeaturesOrderingAndCutoff() {
	origin := s.store.addFeature("dark mode", []float32{1, 0, 0, 0}, models.StatusDiscovered)
	near := s.store.addFeature("dark theme", []float32{0.99, 0.05, 0, 0}, models.StatusDiscovered)
	// cos = 0.8, distance 0.2
	mid := s.store.addFeature("night mode", []float32{0.8, 0.6, 0, 0}, models.StatusPlanned)
	s.store.addFeature("csv export", []float32{0, 1, 0, 0}, models.StatusDiscovered)
	s.store.addFeature("old dark mode", []float32{1, 0, 0, 0}, models.StatusDeclined)

	similar, err := s.pipe.SimilarFeatures(s.ctx, origin, 0)
	s.Require().NoError(err)
	s.Require().Len(similar, 2)
	s.Equal(near, similar[0].ID)
	s.Equal(mid, similar[1].ID)
	s.Less(similar[0].Distance, similar[1].Distance)
	s.InDelta(0.2, similar[1].Distance, 1e-6)
	for _, sf := range similar {
		s.InDelta(1-sf.Distance, sf.Similarity, 1e-12)
	}

	tight, err := s.pipe.SimilarFeatures(s.ctx, origin, 0.1)
	s.Require().NoError(err)
	s.Require().Len(tight, 1)
	s.Equal(near, tight[0].ID)

	none, err := s.pipe.SimilarFeatures(s.ctx, origin, 0.001)
	s.Require().NoError(err)
	s.NotNil(none)
	s.Empty(none)

	_, err = s.pipe.SimilarFeatures(s.ctx, uuid.New(), 0.3)
	s.ErrorIs(err, ErrNotFound)
}

func (s *PipelineSuite) TestSimilarFeaturesCap() {
	origin := s.store.addFeature("base", []float32{1, 0, 0, 0}, models.StatusDiscovered)
	ids := make([]uuid.UUID, 0, SimilarLimit+2)
	for i := 1; i <= SimilarLimit+2; i++ {
		ids = append(ids, s.store.addFeature(fmt.Sprintf("variant %d", i), []float32{1, 0.01 * float32(i), 0, 0}, models.StatusDiscovered))
	}

	similar, err := s.pipe.SimilarFeatures(s.ctx, origin, 0.5)
	s.Require().NoError(err)
	s.Require().Len(similar, SimilarLimit)
	for i, sf := range similar {
		s.Equal(ids[i], sf.ID)
	}
}
