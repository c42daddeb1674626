package ingest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/publisher"
	"github.com/blocksense-network/sequencer/pkg/registry"
	"github.com/blocksense-network/sequencer/pkg/votestore"
)

type fakeFeedLookup map[oracle.FeedId]bool

func (f fakeFeedLookup) Known(id oracle.FeedId) bool { return f[id] }

// fakeReporterLookup treats any reporter whose id is in known as registered,
// and verifies a payload's signature only if its reporter id is marked true
// in valid — a stand-in for a per-reporter good or bad signature, enough to
// reproduce scenario S2 without real key material.
type fakeReporterLookup struct {
	known map[oracle.ReporterId]bool
	valid map[oracle.ReporterId]bool
}

func (f fakeReporterLookup) Known(id oracle.ReporterId) bool { return f.known[id] }
func (f fakeReporterLookup) Verify(id oracle.ReporterId, _ oracle.DataFeedPayload) bool {
	return f.valid[id]
}

type fakeSlotResolver struct{}

func (fakeSlotResolver) CurrentSlot(oracle.FeedId, oracle.Timestamp) (oracle.Timestamp, oracle.Timestamp, int64, bool) {
	return 0, 1 << 40, 0, true
}

func newTestServer(t *testing.T, reps fakeReporterLookup) (*Server, *votestore.Store) {
	t.Helper()
	store := votestore.New(fakeFeedLookup{1: true, 2: true}, reps, fakeSlotResolver{})
	reg := registry.New()
	pub := publisher.New(publisher.Config{Network: "ETH1"}, reg, zap.NewNop(), nil, nil)
	pub2 := publisher.New(publisher.Config{Network: "ETH2"}, reg, zap.NewNop(), nil, nil)
	srv := NewServer(zap.NewNop(), zap.NewAtomicLevel(), store, reps,
		map[string]*publisher.Publisher{"ETH1": pub, "ETH2": pub2}, nil, nil, nil, nil)
	return srv, store
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// TestPostReportsBatchRejectsWholeBatchOnBadSignature reproduces S2: one
// reporter's signature fails verification, so the whole batch is rejected
// with 401 and no vote is committed to the store.
func TestPostReportsBatchRejectsWholeBatchOnBadSignature(t *testing.T) {
	reps := fakeReporterLookup{known: map[oracle.ReporterId]bool{1: true, 2: true}, valid: map[oracle.ReporterId]bool{1: true, 2: false}}
	srv, store := newTestServer(t, reps)

	batch := []oracle.DataFeedPayload{
		{Meta: oracle.PayloadMetaData{ReporterID: 1, FeedID: 1, Timestamp: 100}, Result: oracle.OkResult(oracle.NumericalValue(1))},
		{Meta: oracle.PayloadMetaData{ReporterID: 2, FeedID: 1, Timestamp: 100}, Result: oracle.OkResult(oracle.NumericalValue(2))},
	}
	rec := postJSON(t, srv.router, "/post_reports_batch", batch)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	if votes := store.Drain(1, 0); len(votes) != 0 {
		t.Fatalf("expected no votes committed, got %d", len(votes))
	}
}

func TestPostReportsBatchAllValidAccepted(t *testing.T) {
	reps := fakeReporterLookup{known: map[oracle.ReporterId]bool{1: true, 2: true}, valid: map[oracle.ReporterId]bool{1: true, 2: true}}
	srv, store := newTestServer(t, reps)

	batch := []oracle.DataFeedPayload{
		{Meta: oracle.PayloadMetaData{ReporterID: 1, FeedID: 1, Timestamp: 100}, Result: oracle.OkResult(oracle.NumericalValue(1))},
		{Meta: oracle.PayloadMetaData{ReporterID: 2, FeedID: 1, Timestamp: 100}, Result: oracle.OkResult(oracle.NumericalValue(2))},
	}
	rec := postJSON(t, srv.router, "/post_reports_batch", batch)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	votes := store.Drain(1, 0)
	if len(votes) != 2 {
		t.Fatalf("expected both votes committed, got %d", len(votes))
	}
}

// TestProviderDisableAndStatus reproduces S3: disabling one network leaves
// the other's status untouched.
func TestProviderDisableAndStatus(t *testing.T) {
	srv, _ := newTestServer(t, fakeReporterLookup{})

	req := httptest.NewRequest(http.MethodPost, "/disable_provider/ETH1", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/list_provider_status", nil)
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	var status map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status["ETH1"] != "Disabled" {
		t.Fatalf("ETH1 status = %q, want Disabled", status["ETH1"])
	}
	if status["ETH2"] != "AwaitingFirstUpdate" {
		t.Fatalf("ETH2 status = %q, want AwaitingFirstUpdate (untouched)", status["ETH2"])
	}
}

func TestMainLogLevelRejectsNonLoopback(t *testing.T) {
	srv, _ := newTestServer(t, fakeReporterLookup{})

	req := httptest.NewRequest(http.MethodPost, "/main_log_level/debug", nil)
	req.RemoteAddr = "203.0.113.5:12345"
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for a non-loopback caller", rec.Code)
	}
}

func TestMainLogLevelAcceptsLoopback(t *testing.T) {
	srv, _ := newTestServer(t, fakeReporterLookup{})

	req := httptest.NewRequest(http.MethodPost, "/main_log_level/debug", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a loopback caller", rec.Code)
	}
}
