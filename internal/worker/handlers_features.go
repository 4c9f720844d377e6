package worker

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/vocguru/internal/db/gorm"
	"github.com/thebtf/vocguru/internal/worker/sse"
	"github.com/thebtf/vocguru/pkg/models"
)

// Feature listing limits.
const (
	DefaultFeaturesLimit = 50
	MaxFeaturesLimit     = 200
)

// FeatureListResponse is one page of features.
type FeatureListResponse struct {
	Features []*models.Feature `json:"features"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

// MergeRequest names the features of a manual merge.
type MergeRequest struct {
	SourceID uuid.UUID `json:"source_id"`
	TargetID uuid.UUID `json:"target_id"`
}

// SimilarResponse lists merge candidates for one feature.
type SimilarResponse struct {
	Similar   []models.SimilarFeature `json:"similar"`
	Threshold float64                 `json:"threshold"`
	FeatureID uuid.UUID               `json:"feature_id"`
}

func (s *Service) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := models.FeatureFilter{
		Search: q.Get("search"),
		Sort:   q.Get("sort"),
		Order:  q.Get("order"),
		Page:   gorm.ParsePageParam(r),
		Limit:  gorm.ParseLimitParam(r, DefaultFeaturesLimit, MaxFeaturesLimit),
	}
	if status := q.Get("status"); status != "" {
		filter.Status = models.FeatureStatus(status)
		if !filter.Status.Valid() {
			badRequest(w, r, "unknown status %q", status)
			return
		}
	}
	filter = filter.Normalize()

	features, total, err := s.components().Store.ListFeatures(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if features == nil {
		features = []*models.Feature{}
	}
	writeJSON(w, FeatureListResponse{Features: features, Total: total, Page: filter.Page, Limit: filter.Limit})
}

func (s *Service) handleGetFeature(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	detail, err := s.components().Store.GetFeatureDetail(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, detail)
}

// handlePatchFeature edits the curated fields of a feature. Aggregates are
// not part of FeaturePatch, so a body naming them is rejected as unknown.
func (s *Service) handlePatchFeature(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var patch models.FeaturePatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	if patch.Empty() {
		badRequest(w, r, "no editable fields in request")
		return
	}

	feature, err := s.components().Store.PatchFeature(r.Context(), id, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.sse.Broadcast(sse.Event{Type: "feature_updated", Data: feature})
	writeJSON(w, feature)
}

// handleSimilarFeatures lists features closer than ?threshold (cosine distance).
func (s *Service) handleSimilarFeatures(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	pipeline := s.components().Pipeline
	threshold := pipeline.Config().SimilarThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		threshold, err = strconv.ParseFloat(raw, 64)
		if err != nil || threshold <= 0 || threshold > 2 {
			badRequest(w, r, "threshold must be a number in (0, 2]")
			return
		}
	}

	similar, err := pipeline.SimilarFeatures(r.Context(), id, threshold)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, SimilarResponse{FeatureID: id, Threshold: threshold, Similar: similar})
}

func (s *Service) handleMergeFeatures(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	target, err := s.components().Pipeline.Merge(r.Context(), req.SourceID, req.TargetID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.sse.Broadcast(sse.Event{Type: "features_merged", Data: map[string]any{
		"source_id": req.SourceID,
		"target":    target,
	}})
	writeJSON(w, target)
}

func (s *Service) handleRecalculateFeature(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	feature, err := s.components().Pipeline.Recalculate(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, feature)
}

// handleReprocess synthesizes a batch of unprocessed feedback. Runs are
// rate limited; a run in cooldown answers 429.
func (s *Service) handleReprocess(w http.ResponseWriter, r *http.Request) {
	if !s.bulk.CanExecute() {
		w.Header().Set("Retry-After", strconv.FormatInt(max(s.bulk.CooldownRemaining(), 1), 10))
		writeJSONStatus(w, http.StatusTooManyRequests, errorResponse{
			Error:     "reprocess already ran recently",
			RequestID: GetRequestID(r.Context()),
		})
		return
	}

	pipeline := s.components().Pipeline
	limit := gorm.ParseLimitParam(r, pipeline.Config().ReprocessBatchSize, gorm.MaxPaginationLimit)

	res, err := pipeline.Reprocess(r.Context(), limit)
	if err != nil {
		// A cancelled run still reports what it finished.
		log.Warn().Err(err).Int("processed", res.Processed).Msg("Reprocess interrupted")
		if res.Processed+res.Errors == 0 {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, res)
}
