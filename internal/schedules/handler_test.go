package schedules_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ratescan/ratescan/internal/jobs"
	"github.com/ratescan/ratescan/internal/schedules"
	"github.com/ratescan/ratescan/pkg/pagination"
)

type mockSystem struct {
	listFn           func(ctx context.Context, page pagination.PageRequest, filters schedules.Filters) (*pagination.PageResult[schedules.Schedule], error)
	findFn           func(ctx context.Context, id uuid.UUID) (*schedules.Schedule, error)
	evidenceFn       func(ctx context.Context, scheduleID uuid.UUID, version int) (*schedules.RateText, error)
	latestEvidenceFn func(ctx context.Context, scheduleID uuid.UUID) (*schedules.RateText, error)
	extractionFn     func(ctx context.Context, scheduleID uuid.UUID, version int) (*schedules.Extraction, error)
	extractionsFn    func(ctx context.Context, scheduleID uuid.UUID) ([]schedules.Extraction, error)
	currentFn        func(ctx context.Context, scheduleID uuid.UUID) (*schedules.Extraction, error)
	reextractFn      func(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
}

func (m *mockSystem) Handler() *schedules.Handler {
	return schedules.NewHandler(
		m,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		pagination.Config{DefaultPageSize: 20, MaxPageSize: 100},
	)
}

func (m *mockSystem) List(ctx context.Context, page pagination.PageRequest, filters schedules.Filters) (*pagination.PageResult[schedules.Schedule], error) {
	return m.listFn(ctx, page, filters)
}

func (m *mockSystem) Find(ctx context.Context, id uuid.UUID) (*schedules.Schedule, error) {
	return m.findFn(ctx, id)
}

func (m *mockSystem) CreateForDetection(context.Context, schedules.DetectionCommand) ([]schedules.Schedule, error) {
	return nil, nil
}

func (m *mockSystem) Evidence(ctx context.Context, scheduleID uuid.UUID, version int) (*schedules.RateText, error) {
	return m.evidenceFn(ctx, scheduleID, version)
}

func (m *mockSystem) LatestEvidence(ctx context.Context, scheduleID uuid.UUID) (*schedules.RateText, error) {
	return m.latestEvidenceFn(ctx, scheduleID)
}

func (m *mockSystem) InsertExtraction(context.Context, schedules.ExtractionCommand) (*schedules.Extraction, error) {
	return nil, nil
}

func (m *mockSystem) ExtractionByOrigin(context.Context, uuid.UUID, uuid.UUID) (*schedules.Extraction, error) {
	return nil, nil
}

func (m *mockSystem) Extraction(ctx context.Context, scheduleID uuid.UUID, version int) (*schedules.Extraction, error) {
	return m.extractionFn(ctx, scheduleID, version)
}

func (m *mockSystem) Extractions(ctx context.Context, scheduleID uuid.UUID) ([]schedules.Extraction, error) {
	return m.extractionsFn(ctx, scheduleID)
}

func (m *mockSystem) Current(ctx context.Context, scheduleID uuid.UUID) (*schedules.Extraction, error) {
	return m.currentFn(ctx, scheduleID)
}

func (m *mockSystem) PromoteCurrent(context.Context, uuid.UUID, int) (bool, error) {
	return false, nil
}

func (m *mockSystem) RecordExport(context.Context, uuid.UUID, int, string) error {
	return nil
}

func (m *mockSystem) Reextract(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	return m.reextractFn(ctx, id)
}

func setupMux(h *schedules.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	group := h.Routes()
	for _, route := range group.Routes {
		pattern := route.Method + " " + group.Prefix + route.Pattern
		mux.HandleFunc(pattern, route.Handler)
	}
	return mux
}

func sampleSchedule() schedules.Schedule {
	return schedules.Schedule{
		ID:           uuid.MustParse("0d4b9c2e-8a31-4f24-b1c5-6e7d09a8f312"),
		DocumentID:   uuid.MustParse("9f8e7d6c-5b4a-3921-8076-5f4e3d2c1b0a"),
		Utility:      "Georgia Power",
		DetectionRun: 1,
		PageStart:    12,
		PageEnd:      18,
		Score:        9,
		Status:       schedules.StatusDetected,
		CreatedAt:    time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}
}

func sampleExtraction(version int) schedules.Extraction {
	return schedules.Extraction{
		ScheduleID:      sampleSchedule().ID,
		Version:         version,
		Status:          schedules.ExtractionValid,
		Payload:         json.RawMessage(`{"schedules": []}`),
		EvidenceVersion: 1,
		TraceID:         "trace-1",
		CreatedAt:       time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestHandlerList(t *testing.T) {
	sched := sampleSchedule()

	t.Run("returns paginated list", func(t *testing.T) {
		sys := &mockSystem{
			listFn: func(_ context.Context, _ pagination.PageRequest, _ schedules.Filters) (*pagination.PageResult[schedules.Schedule], error) {
				result := pagination.NewPageResult([]schedules.Schedule{sched}, 1, 1, 20)
				return &result, nil
			},
		}
		mux := setupMux(sys.Handler())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/schedules", nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}

		var result pagination.PageResult[schedules.Schedule]
		if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if result.Total != 1 || len(result.Data) != 1 {
			t.Fatalf("result = total %d, %d rows", result.Total, len(result.Data))
		}
		if result.Data[0].Utility != "Georgia Power" {
			t.Errorf("utility = %q", result.Data[0].Utility)
		}
	})

	t.Run("passes query filters", func(t *testing.T) {
		var captured schedules.Filters
		sys := &mockSystem{
			listFn: func(_ context.Context, _ pagination.PageRequest, f schedules.Filters) (*pagination.PageResult[schedules.Schedule], error) {
				captured = f
				result := pagination.NewPageResult([]schedules.Schedule{}, 0, 1, 20)
				return &result, nil
			},
		}
		mux := setupMux(sys.Handler())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/schedules?utility=Georgia+Power&status=detected&detection_run=2", nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if captured.Utility == nil || *captured.Utility != "Georgia Power" {
			t.Errorf("utility filter = %v", captured.Utility)
		}
		if captured.Status == nil || *captured.Status != "detected" {
			t.Errorf("status filter = %v", captured.Status)
		}
		if captured.DetectionRun == nil || *captured.DetectionRun != 2 {
			t.Errorf("detection_run filter = %v", captured.DetectionRun)
		}
	})
}

func TestHandlerFind(t *testing.T) {
	sched := sampleSchedule()

	t.Run("returns schedule by id", func(t *testing.T) {
		sys := &mockSystem{
			findFn: func(_ context.Context, id uuid.UUID) (*schedules.Schedule, error) {
				if id != sched.ID {
					return nil, schedules.ErrNotFound
				}
				return &sched, nil
			},
		}
		mux := setupMux(sys.Handler())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/schedules/"+sched.ID.String(), nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}

		var got schedules.Schedule
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ID != sched.ID || got.PageStart != 12 {
			t.Errorf("schedule = %+v", got)
		}
	})

	t.Run("unknown id returns 404", func(t *testing.T) {
		sys := &mockSystem{
			findFn: func(_ context.Context, _ uuid.UUID) (*schedules.Schedule, error) {
				return nil, schedules.ErrNotFound
			},
		}
		mux := setupMux(sys.Handler())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/schedules/"+uuid.NewString(), nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("malformed id returns 400", func(t *testing.T) {
		sys := &mockSystem{}
		mux := setupMux(sys.Handler())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/schedules/not-a-uuid", nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestHandlerEvidence(t *testing.T) {
	sched := sampleSchedule()

	t.Run("returns requested version", func(t *testing.T) {
		var capturedVersion int
		sys := &mockSystem{
			evidenceFn: func(_ context.Context, _ uuid.UUID, version int) (*schedules.RateText, error) {
				capturedVersion = version
				return &schedules.RateText{ScheduleID: sched.ID, Version: version, Text: "--- PAGE 12 ---\ntext"}, nil
			},
		}
		mux := setupMux(sys.Handler())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/schedules/"+sched.ID.String()+"/evidence/2", nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if capturedVersion != 2 {
			t.Errorf("version = %d, want 2", capturedVersion)
		}
	})

	t.Run("non-positive version returns 400", func(t *testing.T) {
		sys := &mockSystem{}
		mux := setupMux(sys.Handler())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/schedules/"+sched.ID.String()+"/evidence/0", nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("latest evidence", func(t *testing.T) {
		sys := &mockSystem{
			latestEvidenceFn: func(_ context.Context, _ uuid.UUID) (*schedules.RateText, error) {
				return &schedules.RateText{ScheduleID: sched.ID, Version: 3}, nil
			},
		}
		mux := setupMux(sys.Handler())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/schedules/"+sched.ID.String()+"/evidence", nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}

		var rt schedules.RateText
		if err := json.NewDecoder(rec.Body).Decode(&rt); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if rt.Version != 3 {
			t.Errorf("version = %d, want 3", rt.Version)
		}
	})

	t.Run("missing evidence returns 404", func(t *testing.T) {
		sys := &mockSystem{
			latestEvidenceFn: func(_ context.Context, _ uuid.UUID) (*schedules.RateText, error) {
				return nil, schedules.ErrNoEvidence
			},
		}
		mux := setupMux(sys.Handler())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/schedules/"+sched.ID.String()+"/evidence", nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestHandlerExtractions(t *testing.T) {
	sched := sampleSchedule()

	t.Run("lists attempts", func(t *testing.T) {
		sys := &mockSystem{
			extractionsFn: func(_ context.Context, _ uuid.UUID) ([]schedules.Extraction, error) {
				return []schedules.Extraction{sampleExtraction(2), sampleExtraction(1)}, nil
			},
		}
		mux := setupMux(sys.Handler())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/schedules/"+sched.ID.String()+"/extractions", nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}

		var exts []schedules.Extraction
		if err := json.NewDecoder(rec.Body).Decode(&exts); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(exts) != 2 || exts[0].Version != 2 {
			t.Errorf("extractions = %+v", exts)
		}
	})

	t.Run("single version", func(t *testing.T) {
		var capturedVersion int
		sys := &mockSystem{
			extractionFn: func(_ context.Context, _ uuid.UUID, version int) (*schedules.Extraction, error) {
				capturedVersion = version
				e := sampleExtraction(version)
				return &e, nil
			},
		}
		mux := setupMux(sys.Handler())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/schedules/"+sched.ID.String()+"/extractions/4", nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if capturedVersion != 4 {
			t.Errorf("version = %d, want 4", capturedVersion)
		}
	})

	t.Run("unknown version returns 404", func(t *testing.T) {
		sys := &mockSystem{
			extractionFn: func(_ context.Context, _ uuid.UUID, _ int) (*schedules.Extraction, error) {
				return nil, schedules.ErrNotFound
			},
		}
		mux := setupMux(sys.Handler())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/schedules/"+sched.ID.String()+"/extractions/99", nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestHandlerCurrent(t *testing.T) {
	sched := sampleSchedule()

	t.Run("returns current extraction", func(t *testing.T) {
		sys := &mockSystem{
			currentFn: func(_ context.Context, _ uuid.UUID) (*schedules.Extraction, error) {
				e := sampleExtraction(3)
				return &e, nil
			},
		}
		mux := setupMux(sys.Handler())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/schedules/"+sched.ID.String()+"/current", nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}

		var got schedules.Extraction
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Version != 3 || got.Status != schedules.ExtractionValid {
			t.Errorf("extraction = %+v", got)
		}
	})

	t.Run("no current pointer returns 404", func(t *testing.T) {
		sys := &mockSystem{
			currentFn: func(_ context.Context, _ uuid.UUID) (*schedules.Extraction, error) {
				return nil, schedules.ErrNoCurrent
			},
		}
		mux := setupMux(sys.Handler())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/schedules/"+sched.ID.String()+"/current", nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestHandlerSearch(t *testing.T) {
	t.Run("applies body filters", func(t *testing.T) {
		var captured schedules.Filters
		sys := &mockSystem{
			listFn: func(_ context.Context, _ pagination.PageRequest, f schedules.Filters) (*pagination.PageResult[schedules.Schedule], error) {
				captured = f
				result := pagination.NewPageResult([]schedules.Schedule{}, 0, 1, 20)
				return &result, nil
			},
		}
		mux := setupMux(sys.Handler())

		body := `{"page": 1, "utility": "Georgia Power", "status": "extracted"}`
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/schedules/search", strings.NewReader(body))
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if captured.Utility == nil || *captured.Utility != "Georgia Power" {
			t.Errorf("utility filter = %v", captured.Utility)
		}
		if captured.Status == nil || *captured.Status != "extracted" {
			t.Errorf("status filter = %v", captured.Status)
		}
	})

	t.Run("undecodable body returns 400", func(t *testing.T) {
		sys := &mockSystem{}
		mux := setupMux(sys.Handler())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/schedules/search", strings.NewReader("{"))
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestHandlerReextract(t *testing.T) {
	sched := sampleSchedule()

	t.Run("dispatches extract job", func(t *testing.T) {
		sys := &mockSystem{
			reextractFn: func(_ context.Context, id uuid.UUID) (*jobs.Job, error) {
				return &jobs.Job{
					ID:         uuid.New(),
					Stage:      jobs.StageExtract,
					Status:     jobs.StatusQueued,
					ScheduleID: &id,
					TraceID:    "trace-manual",
				}, nil
			},
		}
		mux := setupMux(sys.Handler())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/schedules/"+sched.ID.String()+"/extract", nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", rec.Code)
		}

		var job jobs.Job
		if err := json.NewDecoder(rec.Body).Decode(&job); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if job.Stage != jobs.StageExtract || job.Status != jobs.StatusQueued {
			t.Errorf("job = %+v", job)
		}
		if job.ScheduleID == nil || *job.ScheduleID != sched.ID {
			t.Errorf("schedule_id = %v, want %v", job.ScheduleID, sched.ID)
		}
	})

	t.Run("schedule without evidence returns 404", func(t *testing.T) {
		sys := &mockSystem{
			reextractFn: func(_ context.Context, _ uuid.UUID) (*jobs.Job, error) {
				return nil, schedules.ErrNoEvidence
			},
		}
		mux := setupMux(sys.Handler())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/schedules/"+sched.ID.String()+"/extract", nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", schedules.ErrNotFound, http.StatusNotFound},
		{"no evidence", schedules.ErrNoEvidence, http.StatusNotFound},
		{"no current", schedules.ErrNoCurrent, http.StatusNotFound},
		{"invalid id", schedules.ErrInvalidID, http.StatusBadRequest},
		{"invalid version", schedules.ErrInvalidVersion, http.StatusBadRequest},
		{"stale export", schedules.ErrStaleExport, http.StatusConflict},
		{"unknown", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := schedules.MapHTTPStatus(tt.err); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}
