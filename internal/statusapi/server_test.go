package statusapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"spinwheel/internal/channel"
	"spinwheel/internal/core/network"
	"spinwheel/internal/wheel"
)

// idlePrimal keeps a hub alive long enough for a test to poke at it.
type idlePrimal struct{}

func (idlePrimal) WeightDim() int     { return 1 }
func (idlePrimal) ConsensusDim() int  { return 1 }
func (idlePrimal) Objective() float64 { return 10 }
func (idlePrimal) Converged() bool    { return false }

func (idlePrimal) Consensus() []float64 { return []float64{0} }

func (idlePrimal) Iterate(ctx context.Context, iter int) ([]float64, []float64, bool, error) {
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Millisecond):
	}
	return nil, nil, false, nil
}

func newTestHub(t *testing.T, ps *network.MemoryPubSub) *wheel.Hub {
	t.Helper()
	hub, err := wheel.NewHub(ps, "status", wheel.HubConfig{
		MaxIterations: 10000,
		Spokes:        []string{"bound"},
	}, idlePrimal{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return hub
}

func TestStatusEndpoint(t *testing.T) {
	hub := newTestHub(t, network.NewMemoryPubSub())
	defer hub.Close()
	mux := http.NewServeMux()
	NewServer(hub).Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body struct {
		Status wheel.Snapshot `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status.Terminated || body.Status.Iteration != 0 {
		t.Fatalf("unexpected snapshot: %+v", body.Status)
	}
}

func TestStatusRejectsNonGet(t *testing.T) {
	hub := newTestHub(t, network.NewMemoryPubSub())
	defer hub.Close()
	mux := http.NewServeMux()
	NewServer(hub).Register(mux)

	for _, path := range []string{"/api/status", "/api/bounds/stream"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
	}
}

func TestBoundsStreamDeliversReports(t *testing.T) {
	ps := network.NewMemoryPubSub()
	hub := newTestHub(t, ps)
	mux := http.NewServeMux()
	NewServer(hub).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_, _ = hub.Run(ctx)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/bounds/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	reports := channel.NewReportWriter(ps, channel.ReportTopic("status", "bound"), "bound")
	if err := reports.Send(channel.Report{StateVersion: 0, Bound: 7, Usable: true}); err != nil {
		t.Fatal(err)
	}

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	deadline := time.After(10 * time.Second)
	var event, data string
	for event == "" || data == "" {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before any event")
			}
			if strings.HasPrefix(line, "event: ") {
				event = strings.TrimPrefix(line, "event: ")
			}
			if strings.HasPrefix(line, "data: ") {
				data = strings.TrimPrefix(line, "data: ")
			}
		case <-deadline:
			t.Fatal("no event before deadline")
		}
	}
	if event != "bound" {
		t.Fatalf("event %q", event)
	}
	var got channel.Report
	if err := json.Unmarshal([]byte(data), &got); err != nil {
		t.Fatal(err)
	}
	if got.Bound != 7 || got.Spoke != "bound" {
		t.Fatalf("streamed report %+v", got)
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not stop")
	}
	hub.Close()
}
