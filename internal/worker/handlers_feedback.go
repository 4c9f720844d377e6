package worker

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/vocguru/internal/db/gorm"
	"github.com/thebtf/vocguru/pkg/models"
)

// DefaultFeedbackLimit is the default page size of feedback listings.
const DefaultFeedbackLimit = 50

// CaptureResponse reports a stored delivery. Created is false for a
// re-delivery of an already stored item.
type CaptureResponse struct {
	Feedback *models.FeedbackItem `json:"feedback"`
	Created  bool                 `json:"created"`
}

// FeedbackListResponse is one page of feedback.
type FeedbackListResponse struct {
	Feedback []*models.FeedbackItem `json:"feedback"`
	Total    int64                  `json:"total"`
	Limit    int                    `json:"limit"`
	Offset   int                    `json:"offset"`
}

// CustomerRequest is the body of a customer upsert.
type CustomerRequest struct {
	Email       string  `json:"email"`
	Name        string  `json:"name"`
	CompanyName string  `json:"company_name"`
	PlanName    string  `json:"plan_name"`
	ARR         float64 `json:"arr"`
}

// CustomerResponse is a stored customer and how many features were
// re-aggregated because of it.
type CustomerResponse struct {
	Customer     *models.Customer `json:"customer"`
	Recalculated int              `json:"recalculated_features"`
}

func (s *Service) capture(w http.ResponseWriter, r *http.Request, source string, data map[string]any) {
	item, created, err := s.components().Collector.Capture(r.Context(), source, data)
	if err != nil {
		s.metrics.captured.WithLabelValues("unknown", "rejected").Inc()
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	outcome := "duplicate"
	if created {
		status = http.StatusCreated
		outcome = "created"
	}
	s.metrics.captured.WithLabelValues(string(item.Source), outcome).Inc()
	writeJSONStatus(w, status, CaptureResponse{Feedback: item, Created: created})
}

// handleCreateFeedback stores manually entered feedback.
func (s *Service) handleCreateFeedback(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if err := decodeJSON(r, &data); err != nil {
		writeError(w, r, err)
		return
	}
	s.capture(w, r, string(models.SourceManual), data)
}

// handleWebhook stores a delivery from an integration named in the path.
// Slack's endpoint verification handshake is answered without storing anything.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	source := strings.ToLower(chi.URLParam(r, "source"))

	var data map[string]any
	if err := decodeJSON(r, &data); err != nil {
		writeError(w, r, err)
		return
	}

	if source == "slack" && data["type"] == "url_verification" {
		writeJSON(w, map[string]any{"challenge": data["challenge"]})
		return
	}
	s.capture(w, r, source, data)
}

func (s *Service) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	filter := gorm.FeedbackFilter{
		Processed: gorm.ParseBoolParam(r, "processed"),
		Limit:     gorm.ParseLimitParam(r, DefaultFeedbackLimit, 0),
		Offset:    gorm.ParseOffsetParam(r),
	}

	items, total, err := s.components().Store.ListFeedback(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []*models.FeedbackItem{}
	}
	writeJSON(w, FeedbackListResponse{Feedback: items, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

func (s *Service) handleGetFeedback(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	item, err := s.components().Store.GetFeedback(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, item)
}

// handleUpsertCustomer creates or updates a customer by email. Features
// already linked to the customer's feedback are re-aggregated so their
// total ARR follows the new value.
func (s *Service) handleUpsertCustomer(w http.ResponseWriter, r *http.Request) {
	var req CustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	email := models.NormalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		badRequest(w, r, "a valid email is required")
		return
	}
	if req.ARR < 0 {
		badRequest(w, r, "arr must not be negative")
		return
	}

	deps := s.components()
	customer, err := deps.Store.UpsertCustomer(r.Context(), &models.Customer{
		Email:       email,
		Name:        strings.TrimSpace(req.Name),
		CompanyName: strings.TrimSpace(req.CompanyName),
		PlanName:    strings.TrimSpace(req.PlanName),
		ARR:         req.ARR,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	featureIDs, err := deps.Store.FeatureIDsForCustomer(r.Context(), customer.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	recalculated := 0
	for _, id := range featureIDs {
		if _, err := deps.Pipeline.Recalculate(r.Context(), id); err != nil {
			log.Warn().Err(err).Str("feature_id", id.String()).Msg("Failed to recalculate feature after customer update")
			continue
		}
		recalculated++
	}

	writeJSON(w, CustomerResponse{Customer: customer, Recalculated: recalculated})
}

func (s *Service) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil || strings.TrimSpace(email) == "" {
		badRequest(w, r, "invalid email")
		return
	}

	customer, err := s.components().Store.GetCustomerByEmail(r.Context(), email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, customer)
}
