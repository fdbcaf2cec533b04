package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/matzehuels/pipescope/pkg/components"
	"github.com/matzehuels/pipescope/pkg/ecs"
	"github.com/matzehuels/pipescope/pkg/graph"
	"github.com/matzehuels/pipescope/pkg/observability"
	"github.com/matzehuels/pipescope/pkg/protocol"
	"github.com/matzehuels/pipescope/pkg/replica"
	"github.com/matzehuels/pipescope/pkg/transport"
)

func quiet() *log.Logger { return log.New(io.Discard) }

func batch(conn string, ms ...ecs.Mutation) transport.Batch {
	msgs := []protocol.Message{protocol.Hello("test"), protocol.Control(protocol.KindSyncBegin)}
	for _, m := range ms {
		msgs = append(msgs, protocol.Mutate(m))
	}
	msgs = append(msgs, protocol.Control(protocol.KindSyncEnd))
	return transport.Batch{Conn: conn, Remote: "test", Messages: msgs}
}

func pipeline() []ecs.Mutation {
	return []ecs.Mutation{
		ecs.Set(1, components.Node{Name: "src"}),
		ecs.Set(2, components.Port{Direction: components.Output, Owner: 1}),
		ecs.Set(3, components.Node{Name: "sink"}),
		ecs.Set(4, components.Port{Direction: components.Input, Owner: 3}),
		ecs.Set(2, components.Link{Peer: 4}),
	}
}

func newServer(t *testing.T, opts ...Option) (*replica.Replica, *Server) {
	t.Helper()
	r := replica.New(replica.WithLogger(quiet()))
	r.Apply(context.Background(), batch("c1", pipeline()...))
	return r, New(r, append([]Option{WithLogger(quiet())}, opts...)...)
}

func get(t *testing.T, h http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	_, s := newServer(t)
	rec := get(t, s, "/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Errorf("GET /healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestSnapshot(t *testing.T) {
	r, s := newServer(t)
	rec := get(t, s, "/api/v1/snapshot")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[SnapshotResponse](t, rec)
	if got.Seq != r.View().Seq {
		t.Errorf("seq = %d, want %d", got.Seq, r.View().Seq)
	}
	want := []graph.Edge{{From: 1, To: 3, Output: 2, Input: 4}}
	if diff := cmp.Diff(want, got.Topology.Edges); diff != "" {
		t.Errorf("edges (-want +got):\n%s", diff)
	}
	if len(got.Topology.Nodes) != 2 {
		t.Errorf("nodes = %d, want 2", len(got.Topology.Nodes))
	}
}

func TestLayoutAndScene(t *testing.T) {
	_, s := newServer(t)

	lay := decode[LayoutResponse](t, get(t, s, "/api/v1/layout"))
	if lay.Layout == nil || len(lay.Layout.Items) != 2 || len(lay.Layout.Routes) != 1 {
		t.Fatalf("layout = %+v, want 2 items and 1 route", lay.Layout)
	}

	sc := decode[SceneResponse](t, get(t, s, "/api/v1/scene"))
	if sc.Layout == nil || len(sc.Topology.Nodes) != 2 {
		t.Fatalf("scene = %+v", sc)
	}
	sc.Layout.Decorate()
	src, _ := sc.Layout.Item(1)
	sink, _ := sc.Layout.Item(3)
	if src.Layer >= sink.Layer {
		t.Errorf("src layer %d not before sink layer %d", src.Layer, sink.Layer)
	}
}

func TestStatus(t *testing.T) {
	_, s := newServer(t)
	got := decode[StatusResponse](t, get(t, s, "/api/v1/status"))
	if !got.Connected || len(got.Producers) != 1 || got.Producers[0].Name != "test" {
		t.Errorf("status = %+v, want one producer named test", got)
	}
	if got.Entities != 4 || got.Relayouts == 0 {
		t.Errorf("status counters = %+v", got.Status)
	}
}

func TestConditionalGet(t *testing.T) {
	r, s := newServer(t)
	rec := get(t, s, "/api/v1/layout")
	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("no ETag header")
	}

	if rec := get(t, s, "/api/v1/layout", "If-None-Match", etag); rec.Code != http.StatusNotModified {
		t.Errorf("unchanged view: status = %d, want 304", rec.Code)
	}

	r.Apply(context.Background(), transport.Batch{Conn: "c1", Messages: []protocol.Message{
		protocol.Mutate(ecs.Set(5, components.Node{Name: "tee"})),
	}})
	if rec := get(t, s, "/api/v1/layout", "If-None-Match", etag); rec.Code != http.StatusOK {
		t.Errorf("changed view: status = %d, want 200", rec.Code)
	}
}

func TestGraphDOT(t *testing.T) {
	_, s := newServer(t)
	rec := get(t, s, "/api/v1/graph.dot?detailed=true")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/vnd.graphviz") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"digraph G {", `"n1" -> "n3";`, `state: null`} {
		if !strings.Contains(body, want) {
			t.Errorf("DOT missing %q:\n%s", want, body)
		}
	}

	if rec := get(t, s, "/api/v1/graph.dot?detailed=maybe"); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid detailed: status = %d, want 400", rec.Code)
	}
}

func TestGraphSVG(t *testing.T) {
	if testing.Short() {
		t.Skip("graphviz rendering in short mode")
	}
	_, s := newServer(t)
	rec := get(t, s, "/api/v1/graph.svg")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/svg+xml" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "<svg") {
		t.Errorf("body is not SVG:\n%s", rec.Body.String())
	}
}

func TestNotFound(t *testing.T) {
	_, s := newServer(t)
	if rec := get(t, s, "/api/v1/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	observability.Install(observability.NewPrometheus(reg))
	t.Cleanup(observability.Reset)

	_, s := newServer(t, WithGatherer(reg))
	get(t, s, "/api/v1/status")

	rec := get(t, s, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	want := `pipescope_http_requests_total{method="GET",route="/api/v1/status",status="200"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Errorf("metrics missing %q:\n%s", want, rec.Body.String())
	}
}

func TestEvents(t *testing.T) {
	r, s := newServer(t)
	ts := httptest.NewServer(s)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	nextID := func() string {
		for sc.Scan() {
			if id, ok := strings.CutPrefix(sc.Text(), "id: "); ok {
				return id
			}
		}
		t.Fatalf("stream ended: %v", sc.Err())
		return ""
	}

	first := nextID()
	r.Apply(context.Background(), transport.Batch{Conn: "c1", Messages: []protocol.Message{
		protocol.Mutate(ecs.Set(5, components.Node{Name: "tee"})),
	}})
	second := nextID()
	if first == second {
		t.Errorf("event ids did not advance: %s", first)
	}
}

func TestServe(t *testing.T) {
	_, s := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	ready := make(chan string, 1)
	go func() {
		ln, err := listen()
		if err != nil {
			errc <- err
			return
		}
		ready <- ln.Addr().String()
		errc <- s.Serve(ctx, ln)
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-errc:
		t.Fatalf("listen: %v", err)
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Serve = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func listen() (net.Listener, error) { return net.Listen("tcp", "127.0.0.1:0") }
