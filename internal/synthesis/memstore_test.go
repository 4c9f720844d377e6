package synthesis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thebtf/vocguru/internal/extractor"
	"github.com/thebtf/vocguru/internal/vector"
	"github.com/thebtf/vocguru/pkg/models"
)

type linkKey struct {
	feedback uuid.UUID
	feature  uuid.UUID
}

type memState struct {
	feedback  map[uuid.UUID]models.FeedbackItem
	features  map[uuid.UUID]models.Feature
	links     map[linkKey]*float64
	customers map[uuid.UUID]float64
}

func (s *memState) clone() *memState {
	c := &memState{
		feedback:  make(map[uuid.UUID]models.FeedbackItem, len(s.feedback)),
		features:  make(map[uuid.UUID]models.Feature, len(s.features)),
		links:     make(map[linkKey]*float64, len(s.links)),
		customers: make(map[uuid.UUID]float64, len(s.customers)),
	}
	for k, v := range s.feedback {
		c.feedback[k] = v
	}
	for k, v := range s.features {
		c.features[k] = v
	}
	for k, v := range s.links {
		c.links[k] = v
	}
	for k, v := range s.customers {
		c.customers[k] = v
	}
	return c
}

// memStore is an in-memory Store. Transactions run on a copy of the state
// that replaces the original only when the callback succeeds.
type memStore struct {
	state    *memState
	distance func(a, b []float32) float64
	failOn   string
	base     time.Time
	buckets  []int64
	// stale is served by Nearest before the live index, one id per call,
	// whatever the feature's status.
	stale    []uuid.UUID
	seq      int
	mu       sync.Mutex
}

func newMemStore() *memStore {
	return &memStore{
		state: &memState{
			feedback:  map[uuid.UUID]models.FeedbackItem{},
			features:  map[uuid.UUID]models.Feature{},
			links:     map[linkKey]*float64{},
			customers: map[uuid.UUID]float64{},
		},
		distance: vector.CosineDistance,
		base:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) nextTime() time.Time {
	m.seq++
	return m.base.Add(time.Duration(m.seq) * time.Second)
}

func (m *memStore) addCustomer(arr float64) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.state.customers[id] = arr
	return id
}

func (m *memStore) addFeedback(content string, weight float64, customerID *uuid.UUID) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.state.feedback[id] = models.FeedbackItem{
		ID:         id,
		Source:     models.SourceManual,
		ExternalID: id.String(),
		Content:    content,
		Weight:     weight,
		CustomerID: customerID,
		CreatedAt:  m.nextTime(),
	}
	return id
}

func (m *memStore) addFeature(title string, vec []float32, status models.FeatureStatus) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.state.features[id] = models.Feature{
		ID:        id,
		Title:     title,
		Embedding: vec,
		Status:    status,
		CreatedAt: m.nextTime(),
	}
	return id
}

func (m *memStore) addLink(feedbackID, featureID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.links[linkKey{feedbackID, featureID}] = nil
}

func (m *memStore) setCreatedAt(id uuid.UUID, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fb := m.state.feedback[id]
	fb.CreatedAt = at
	m.state.feedback[id] = fb
}

func (m *memStore) feedback(id uuid.UUID) models.FeedbackItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.feedback[id]
}

func (m *memStore) feature(id uuid.UUID) models.Feature {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.features[id]
}

func (m *memStore) features() []models.Feature {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Feature, 0, len(m.state.features))
	for _, f := range m.state.features {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *memStore) linksOf(featureID uuid.UUID) map[uuid.UUID]*float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[uuid.UUID]*float64{}
	for k, v := range m.state.links {
		if k.feature == featureID {
			out[k.feedback] = v
		}
	}
	return out
}

func (m *memStore) linkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.links)
}

func (m *memStore) GetFeedback(_ context.Context, id uuid.UUID) (*models.FeedbackItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fb, ok := m.state.feedback[id]
	if !ok {
		return nil, fmt.Errorf("feedback %s: %w", id, ErrNotFound)
	}
	return &fb, nil
}

func (m *memStore) ListUnprocessed(_ context.Context, limit int, createdBefore time.Time) ([]*models.FeedbackItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.FeedbackItem
	for _, fb := range m.state.feedback {
		if !createdBefore.IsZero() && !fb.CreatedAt.Before(createdBefore) {
			continue
		}
		if !fb.Processed {
			fb := fb
			out = append(out, &fb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) GetFeature(_ context.Context, id uuid.UUID) (*models.Feature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.state.features[id]
	if !ok {
		return nil, fmt.Errorf("feature %s: %w", id, ErrNotFound)
	}
	return &f, nil
}

func (m *memStore) SimilarFeatures(_ context.Context, id uuid.UUID, maxDistance float64, limit int) ([]models.SimilarFeature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	origin, ok := m.state.features[id]
	if !ok {
		return nil, fmt.Errorf("feature %s: %w", id, ErrNotFound)
	}
	if origin.Embedding == nil {
		return nil, nil
	}
	var out []models.SimilarFeature
	for _, f := range m.state.features {
		if f.ID == id || f.Embedding == nil || f.Status == models.StatusDeclined {
			continue
		}
		d := m.distance(origin.Embedding, f.Embedding)
		if d < maxDistance {
			out = append(out, models.SimilarFeature{Feature: f, Distance: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) WithinTx(_ context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{store: m, state: m.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

type memTx struct {
	store *memStore
	state *memState
}

func (t *memTx) fail(op string) error {
	if t.store.failOn == op {
		return errors.New("injected failure: " + op)
	}
	return nil
}

func (t *memTx) LockFeedback(id uuid.UUID) (*models.FeedbackItem, error) {
	if err := t.fail("LockFeedback"); err != nil {
		return nil, err
	}
	fb, ok := t.state.feedback[id]
	if !ok {
		return nil, fmt.Errorf("feedback %s: %w", id, ErrNotFound)
	}
	return &fb, nil
}

func (t *memTx) LockBucket(key int64) error {
	t.store.buckets = append(t.store.buckets, key)
	return t.fail("LockBucket")
}

func (t *memTx) LockFeatures(...uuid.UUID) error {
	return t.fail("LockFeatures")
}

func (t *memTx) Nearest(vec []float32) (*models.FeatureMatch, error) {
	if err := t.fail("Nearest"); err != nil {
		return nil, err
	}
	if len(t.store.stale) > 0 {
		id := t.store.stale[0]
		t.store.stale = t.store.stale[1:]
		return &models.FeatureMatch{FeatureID: id, Distance: t.store.distance(vec, t.state.features[id].Embedding)}, nil
	}
	var (
		best     *models.FeatureMatch
		bestFeat models.Feature
	)
	for _, f := range t.state.features {
		if f.Embedding == nil || f.Status == models.StatusDeclined {
			continue
		}
		d := t.store.distance(vec, f.Embedding)
		better := best == nil || d < best.Distance ||
			(d == best.Distance && (f.CreatedAt.Before(bestFeat.CreatedAt) ||
				(f.CreatedAt.Equal(bestFeat.CreatedAt) && f.ID.String() < bestFeat.ID.String())))
		if better {
			best = &models.FeatureMatch{FeatureID: f.ID, Distance: d}
			bestFeat = f
		}
	}
	return best, nil
}

func (t *memTx) CreateFeature(f *models.Feature) error {
	if err := t.fail("CreateFeature"); err != nil {
		return err
	}
	f.CreatedAt = t.store.nextTime()
	f.UpdatedAt = f.CreatedAt
	t.state.features[f.ID] = *f
	return nil
}

func (t *memTx) GetFeature(id uuid.UUID) (*models.Feature, error) {
	f, ok := t.state.features[id]
	if !ok {
		return nil, fmt.Errorf("feature %s: %w", id, ErrNotFound)
	}
	return &f, nil
}

func (t *memTx) Link(feedbackID, featureID uuid.UUID, score *float64) (bool, error) {
	if err := t.fail("Link"); err != nil {
		return false, err
	}
	k := linkKey{feedbackID, featureID}
	if _, ok := t.state.links[k]; ok {
		return false, nil
	}
	t.state.links[k] = score
	return true, nil
}

func (t *memTx) MarkProcessed(id uuid.UUID) error {
	if err := t.fail("MarkProcessed"); err != nil {
		return err
	}
	fb, ok := t.state.feedback[id]
	if !ok {
		return fmt.Errorf("feedback %s: %w", id, ErrNotFound)
	}
	fb.Processed = true
	t.state.feedback[id] = fb
	return nil
}

func (t *memTx) Recalculate(id uuid.UUID) (*models.Feature, error) {
	if err := t.fail("Recalculate"); err != nil {
		return nil, err
	}
	f, ok := t.state.features[id]
	if !ok {
		return nil, fmt.Errorf("feature %s: %w", id, ErrNotFound)
	}

	var (
		count  int64
		weight float64
		arr    float64
	)
	customers := map[uuid.UUID]bool{}
	for k := range t.state.links {
		if k.feature != id {
			continue
		}
		fb := t.state.feedback[k.feedback]
		count++
		weight += fb.Weight
		if fb.CustomerID != nil {
			customers[*fb.CustomerID] = true
		}
	}
	for c := range customers {
		arr += t.state.customers[c]
	}

	f.FeedbackCount = count
	f.TotalWeight = weight
	f.TotalARR = arr
	t.state.features[id] = f
	return &f, nil
}

func (t *memTx) MoveLinks(sourceID, targetID uuid.UUID) (int64, int64, error) {
	if err := t.fail("MoveLinks"); err != nil {
		return 0, 0, err
	}
	var moved, dropped int64
	for k, score := range t.state.links {
		if k.feature != sourceID {
			continue
		}
		delete(t.state.links, k)
		target := linkKey{k.feedback, targetID}
		if _, exists := t.state.links[target]; exists {
			dropped++
			continue
		}
		t.state.links[target] = score
		moved++
	}
	return moved, dropped, nil
}

func (t *memTx) SetStatus(id uuid.UUID, status models.FeatureStatus) error {
	if err := t.fail("SetStatus"); err != nil {
		return err
	}
	f, ok := t.state.features[id]
	if !ok {
		return fmt.Errorf("feature %s: %w", id, ErrNotFound)
	}
	f.Status = status
	t.state.features[id] = f
	return nil
}

// fakeExtractor titles each signal with the content itself and embeds using
// a per-text vector table.
type fakeExtractor struct {
	vectors      map[string][]float32
	extractFn    func(ctx context.Context, content string) (extractor.Result, error)
	embedErr     error
	extractCalls int
	mu           sync.Mutex
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{vectors: map[string][]float32{}}
}

func (f *fakeExtractor) Extract(ctx context.Context, content string) (extractor.Result, error) {
	f.mu.Lock()
	f.extractCalls++
	fn := f.extractFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, content)
	}
	return extractor.Result{Signal: extractor.Signal{
		Title:     content,
		Sentiment: models.SentimentNeutral,
		Urgency:   5,
		Tags:      []string{"test"},
	}}, nil
}

func (f *fakeExtractor) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0, 1}, nil
}

func (f *fakeExtractor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.extractCalls
}
