package dashboard

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"promobot/internal/services/campaign"
	"promobot/internal/services/scheduler"
	"promobot/internal/storage"
)

type statusResponse struct {
	Overview   campaign.Overview   `json:"overview"`
	Campaign   *campaignBody       `json:"campaign,omitempty"`
	LastPostAt *time.Time          `json:"lastPostAt,omitempty"`
	ResetAt    *time.Time          `json:"rateLimitResetAt,omitempty"`
	Jobs       []scheduler.JobInfo `json:"jobs"`
}

type campaignBody struct {
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	IntervalMinutes int       `json:"intervalMinutes"`
}

func campaignToBody(c *storage.Campaign) *campaignBody {
	if c == nil {
		return nil
	}
	return &campaignBody{
		StartTime:       c.StartAt,
		EndTime:         c.EndAt,
		IntervalMinutes: int(c.Interval / time.Minute),
	}
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	ov, err := s.svc.Overview(r.Context())
	if err != nil {
		s.mapError(w, err)
		return
	}
	resp := statusResponse{Overview: ov, Jobs: s.sched.Jobs()}
	if camp, err := s.svc.Campaign(r.Context()); err == nil {
		resp.Campaign = campaignToBody(camp)
	}
	last, reset := s.pacing.State()
	if !last.IsZero() {
		resp.LastPostAt = &last
	}
	if !reset.IsZero() {
		resp.ResetAt = &reset
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.ItemsByStatus(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Service) handleIngest(w http.ResponseWriter, r *http.Request) {
	var drafts []storage.Draft
	if err := decodeJSON(r, &drafts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	added, err := s.svc.Ingest(r.Context(), drafts)
	if err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (s *Service) handleSkip(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	if err := s.svc.Skip(r.Context(), id); err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"skipped": id})
}

func (s *Service) handleSkipAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.CancelAll(r.Context())
	if err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"skipped": n})
}

func (s *Service) handleClearErrors(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.ClearErrors(r.Context())
	if err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Service) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	camp, err := s.svc.Campaign(r.Context())
	if err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaignToBody(camp))
}

func (s *Service) handleSaveCampaign(w http.ResponseWriter, r *http.Request) {
	var body campaignBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	camp, err := s.svc.SaveCampaign(r.Context(), body.StartTime, body.EndTime, body.IntervalMinutes)
	if err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaignToBody(camp))
}

func (s *Service) handleTestPost(w http.ResponseWriter, r *http.Request) {
	item, err := s.svc.TestPost(r.Context())
	if err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 4<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func subtleEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
