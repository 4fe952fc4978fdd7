package fixture_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/krisalay/posyandu-cache/internal/fixture"
	"github.com/krisalay/posyandu-cache/posyandu"
)

//
// ================= HELPERS =================
//

func newStore(t *testing.T) (*fixture.Store, fixture.Seeded) {
	t.Helper()

	s, err := fixture.Open(":memory:")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	seeded, err := fixture.Seed(context.Background(), s)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return s, seeded
}

type recordingPublisher struct {
	mu   sync.Mutex
	tags [][]string
}

func (p *recordingPublisher) Publish(tags ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tags = append(p.tags, tags)
	return nil
}

func (p *recordingPublisher) published() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tags
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("bad request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

//
// ================= STORE =================
//

func TestStoreFilterPosyandus(t *testing.T) {
	ctx := context.Background()
	s, seeded := newStore(t)

	if _, err := s.SetPosyanduActive(ctx, seeded.Posyandus[1], false); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}

	all, _ := s.ListPosyandus(ctx, "")
	active, _ := s.ListPosyandus(ctx, "active")
	inactive, _ := s.ListPosyandus(ctx, "inactive")

	if len(all) != 2 || len(active) != 1 || len(inactive) != 1 {
		t.Fatalf("expected 2/1/1 posyandus, got %d/%d/%d", len(all), len(active), len(inactive))
	}
	if inactive[0].ID != seeded.Posyandus[1] {
		t.Fatalf("expected %s inactive, got %s", seeded.Posyandus[1], inactive[0].ID)
	}
}

func TestStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	if _, err := s.GetPosyandu(ctx, "999"); !errors.Is(err, fixture.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetChild(ctx, "not-a-number"); !errors.Is(err, fixture.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.SetUserActive(ctx, "999", false); !errors.Is(err, fixture.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreDashboardCounts(t *testing.T) {
	ctx := context.Background()
	s, seeded := newStore(t)

	sum, err := s.Dashboard(ctx, "")
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if sum.TotalPosyandu != 2 || sum.TotalChildren != 3 || sum.TotalCadres != 1 {
		t.Fatalf("unexpected totals: %+v", sum)
	}

	n := 0
	for _, c := range sum.StatusCounts {
		n += c
	}
	if n != 3 {
		t.Fatalf("expected 3 classified children, got %d", n)
	}

	one, _ := s.Dashboard(ctx, seeded.Posyandus[0])
	if one.TotalPosyandu != 1 || one.TotalChildren != 2 {
		t.Fatalf("unexpected totals for one posyandu: %+v", one)
	}
}

func TestStoreMonthlyReport(t *testing.T) {
	ctx := context.Background()
	s, seeded := newStore(t)

	report, err := s.MonthlyReport(ctx, seeded.Posyandus[0], "2025-06")
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if len(report.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(report.Rows))
	}

	empty, _ := s.MonthlyReport(ctx, seeded.Posyandus[0], "2025-07")
	if len(empty.Rows) != 0 {
		t.Fatalf("expected no rows outside the period, got %d", len(empty.Rows))
	}

	if _, err := s.MonthlyReport(ctx, seeded.Posyandus[0], "June"); err == nil {
		t.Fatalf("expected error for malformed period")
	}
}

func TestStoreLatestRecordWins(t *testing.T) {
	ctx := context.Background()
	s, seeded := newStore(t)

	child := seeded.Children[0]
	_, err := s.AddGrowth(ctx, child, posyandu.GrowthRecord{
		MeasuredAt: time.Date(2025, time.June, 28, 9, 0, 0, 0, time.UTC),
		WeightKg:   5.0,
		HeightCm:   79,
		ZScore:     -4.5,
	})
	if err != nil {
		t.Fatalf("add growth failed: %v", err)
	}

	report, _ := s.MonthlyReport(ctx, seeded.Posyandus[0], "2025-06")
	for _, row := range report.Rows {
		if row.ChildID == child && row.Status != posyandu.SeverelyUnderweight {
			t.Fatalf("expected latest record to win, got %s", row.Status)
		}
	}
}

//
// ================= HANDLER =================
//

func newServer(t *testing.T) (*httptest.Server, *fixture.Server, *recordingPublisher, fixture.Seeded) {
	t.Helper()

	s, seeded := newStore(t)
	pub := &recordingPublisher{}
	api := fixture.NewServer(s, fixture.WithToken("secret"), fixture.WithPublisher(pub))
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return srv, api, pub, seeded
}

func TestHandlerRequiresToken(t *testing.T) {
	srv, _, _, _ := newServer(t)

	resp, err := srv.Client().Get(srv.URL + "/posyandus")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestHandlerToggleAndPublish(t *testing.T) {
	srv, _, pub, seeded := newServer(t)
	id := seeded.Posyandus[0]

	status, body := do(t, srv, http.MethodPatch, "/posyandus/"+id+"/active", `{"active":false}`)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["active"] != false {
		t.Fatalf("expected inactive posyandu, got %v", body["active"])
	}

	got := pub.published()
	if len(got) != 1 {
		t.Fatalf("expected one publish, got %d", len(got))
	}
	if strings.Join(got[0], ",") != "posyandu,posyandu:"+id {
		t.Fatalf("unexpected tags %v", got[0])
	}
}

func TestHandlerNotFound(t *testing.T) {
	srv, _, pub, _ := newServer(t)

	status, body := do(t, srv, http.MethodPatch, "/posyandus/999/active", `{"active":false}`)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	if body["message"] != "not found" {
		t.Fatalf("unexpected message %v", body["message"])
	}
	if len(pub.published()) != 0 {
		t.Fatalf("failed write must not publish")
	}
}

func TestHandlerInjectedFailure(t *testing.T) {
	srv, api, _, _ := newServer(t)

	api.Fail("/dashboard", http.StatusServiceUnavailable, "maintenance")

	status, body := do(t, srv, http.MethodGet, "/dashboard", "")
	if status != http.StatusServiceUnavailable || body["message"] != "maintenance" {
		t.Fatalf("expected injected failure, got %d %v", status, body)
	}

	api.Recover("/dashboard")

	status, _ = do(t, srv, http.MethodGet, "/dashboard", "")
	if status != http.StatusOK {
		t.Fatalf("expected recovery, got %d", status)
	}
	if n := api.Requests("/dashboard"); n != 2 {
		t.Fatalf("expected 2 requests counted, got %d", n)
	}
}

func TestHandlerRejectsBadBody(t *testing.T) {
	srv, _, _, _ := newServer(t)

	status, _ := do(t, srv, http.MethodPost, "/posyandus", `{`)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}

	status, _ = do(t, srv, http.MethodPost, "/posyandus", `{"name":" "}`)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", status)
	}
}
