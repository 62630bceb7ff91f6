package fallback

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"lead_waterfall_backend/internal/leads/domain"
	"lead_waterfall_backend/internal/leads/repository"
	"lead_waterfall_backend/platform/apperr"
	"lead_waterfall_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func testLead(t *testing.T, zone string) domain.Lead {
	t.Helper()
	lead, err := domain.NewLead(domain.NewLeadParams{
		Vertical: "onoranze_funebri",
		City:     "Milano",
		Service:  domain.ServiceTransfer,
		Zone:     zone,
		Timing:   domain.TimingImmediate,
		Phone:    "+393331234567",
		Consent:  true,
		Source:   domain.SourceForm,
	}, t0)
	if err != nil {
		t.Fatalf("NewLead: %v", err)
	}
	return lead
}

func openQueue(t *testing.T) *SQLiteQueue {
	t.Helper()
	q, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestSQLiteQueueRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t)

	first := testLead(t, "Brera")
	second := testLead(t, "Isola")
	if err := q.Save(ctx, Entry{Lead: second, Reason: "ledger timeout", SavedAt: t0.Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}
	if err := q.Save(ctx, Entry{Lead: first, Reason: "ledger timeout", SavedAt: t0}); err != nil {
		t.Fatal(err)
	}

	entries, err := q.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Lead.ID != first.ID || entries[1].Lead.ID != second.ID {
		t.Fatal("expected oldest entry first")
	}
	got := entries[0].Lead
	if got.Zone != "Brera" || got.Service != domain.ServiceTransfer || got.PriceID != first.PriceID ||
		got.Phone != first.Phone || !got.CreatedAt.Equal(first.CreatedAt) || got.Status.Kind != domain.KindNew {
		t.Fatalf("lead not preserved: %+v", got)
	}
	if !entries[0].SavedAt.Equal(t0) || entries[0].Reason != "ledger timeout" {
		t.Fatalf("unexpected entry metadata %+v", entries[0])
	}

	limited, err := q.List(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d (%v)", len(limited), err)
	}

	if err := q.Delete(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	if err := q.Delete(ctx, first.ID); err != nil {
		t.Fatalf("deleting a missing id must succeed, got %v", err)
	}
	entries, _ = q.List(ctx, 0)
	if len(entries) != 1 || entries[0].Lead.ID != second.ID {
		t.Fatalf("expected only the second entry to remain, got %d", len(entries))
	}
}

func TestSQLiteQueueSaveTwiceBumpsAttempts(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t)
	lead := testLead(t, "Brera")

	for i := 0; i < 3; i++ {
		if err := q.Save(ctx, Entry{Lead: lead, Reason: "down", SavedAt: t0}); err != nil {
			t.Fatal(err)
		}
	}
	entries, _ := q.List(ctx, 0)
	if len(entries) != 1 {
		t.Fatalf("expected one entry per lead, got %d", len(entries))
	}
	if entries[0].Attempts != 2 {
		t.Fatalf("expected attempts=2 after two re-saves, got %d", entries[0].Attempts)
	}
}

func TestOpenSQLiteCreatesFile(t *testing.T) {
	dir := t.TempDir() + "/nested"
	q, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer q.Close()
	if err := q.Save(context.Background(), Entry{Lead: testLead(t, "Brera"), SavedAt: t0}); err != nil {
		t.Fatal(err)
	}
}

type failingAppender struct {
	failAfter int
	calls     int
}

func (f *failingAppender) Append(_ context.Context, lead domain.Lead) (uuid.UUID, error) {
	f.calls++
	if f.calls > f.failAfter {
		return uuid.Nil, errors.New("ledger unreachable")
	}
	return lead.ID, nil
}

func TestReplayMovesEntriesIntoLedger(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t)
	ledger := repository.NewMemoryLedger()
	lead := testLead(t, "Brera")
	if err := q.Save(ctx, Entry{Lead: lead, SavedAt: t0}); err != nil {
		t.Fatal(err)
	}

	r := NewReplayer(q, ledger, time.Minute, time.Second, logger.Discard())
	n, err := r.ReplayOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 replayed, got %d (%v)", n, err)
	}

	stored, err := ledger.Get(ctx, lead.ID)
	if err != nil {
		t.Fatalf("expected replayed lead in ledger: %v", err)
	}
	if stored.Status.Kind != domain.KindNew || stored.Zone != "Brera" {
		t.Fatalf("unexpected stored lead %+v", stored)
	}
	if entries, _ := q.List(ctx, 0); len(entries) != 0 {
		t.Fatal("expected queue to be empty after replay")
	}

	// A repeat replay of the same lead does not duplicate it.
	if err := q.Save(ctx, Entry{Lead: lead, SavedAt: t0}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReplayOnce(ctx); err != nil {
		t.Fatal(err)
	}
	all, _ := ledger.Scan(ctx, repository.Filter{})
	if len(all) != 1 {
		t.Fatalf("expected one ledger row, got %d", len(all))
	}
}

func TestReplayStopsAtFirstLedgerFailure(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t)
	for i, zone := range []string{"Brera", "Isola", "Lambrate"} {
		if err := q.Save(ctx, Entry{Lead: testLead(t, zone), SavedAt: t0.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatal(err)
		}
	}

	r := NewReplayer(q, &failingAppender{failAfter: 1}, time.Minute, time.Second, logger.Discard())
	n, err := r.ReplayOnce(ctx)
	if err == nil || n != 1 {
		t.Fatalf("expected one replayed then an error, got %d (%v)", n, err)
	}
	entries, _ := q.List(ctx, 0)
	if len(entries) != 2 || entries[0].Lead.Zone != "Isola" {
		t.Fatalf("expected the unreplayed entries to stay queued, got %d", len(entries))
	}
}

type hungAppender struct{}

func (hungAppender) Append(ctx context.Context, _ domain.Lead) (uuid.UUID, error) {
	<-ctx.Done()
	return uuid.Nil, ctx.Err()
}

func TestReplayAppendIsBounded(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t)
	if err := q.Save(ctx, Entry{Lead: testLead(t, "Brera"), SavedAt: t0}); err != nil {
		t.Fatal(err)
	}

	r := NewReplayer(q, hungAppender{}, time.Minute, 20*time.Millisecond, logger.Discard())
	done := make(chan error, 1)
	go func() {
		_, err := r.ReplayOnce(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		if !apperr.Is(err, apperr.KindUnavailable) {
			t.Fatalf("expected unavailable, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replay blocked on a hung ledger")
	}
	if entries, _ := q.List(ctx, 0); len(entries) != 1 {
		t.Fatal("expected the entry to stay queued")
	}
}

type recordingArchive struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (a *recordingArchive) Archive(_ context.Context, entry Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return a.err
}

func TestArchivedQueueWritesLocalFirst(t *testing.T) {
	ctx := context.Background()
	local := openQueue(t)
	archive := &recordingArchive{err: errors.New("bucket unreachable")}
	q := NewArchivedQueue(local, archive, logger.Discard())

	lead := testLead(t, "Brera")
	if err := q.Save(ctx, Entry{Lead: lead, SavedAt: t0}); err != nil {
		t.Fatalf("archive failure must not fail Save: %v", err)
	}
	if len(archive.entries) != 1 {
		t.Fatal("expected archive copy attempt")
	}
	entries, _ := q.List(ctx, 0)
	if len(entries) != 1 || entries[0].Lead.ID != lead.ID {
		t.Fatal("expected local copy to be listed")
	}
}

func TestObjectKey(t *testing.T) {
	lead := testLead(t, "Brera")
	key := objectKey(Entry{Lead: lead, SavedAt: t0})
	if key != "leads/2026/03/02/"+lead.ID.String()+".json" {
		t.Fatalf("unexpected key %q", key)
	}
}

func TestMinIOArchiveUploadsJSONObject(t *testing.T) {
	var (
		mu          sync.Mutex
		paths       []string
		contentType string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			mu.Lock()
			paths = append(paths, r.URL.Path)
			contentType = r.Header.Get("Content-Type")
			mu.Unlock()
		}
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := minio.New(strings.TrimPrefix(server.URL, "http://"), &minio.Options{
		Creds:  credentials.NewStaticV4("access", "secret", ""),
		Secure: false,
		Region: "us-east-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	archive := &MinIOArchive{client: client, bucket: "lead-fallback"}

	lead := testLead(t, "Brera")
	if err := archive.Archive(context.Background(), Entry{Lead: lead, SavedAt: t0}); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := "/lead-fallback/leads/2026/03/02/" + lead.ID.String() + ".json"
	if len(paths) != 1 || paths[0] != want {
		t.Fatalf("expected PUT %s, got %v", want, paths)
	}
	if contentType != "application/json" {
		t.Fatalf("expected JSON content type, got %q", contentType)
	}
}
