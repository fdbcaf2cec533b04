package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	perrors "github.com/matzehuels/pipescope/pkg/errors"
	"github.com/matzehuels/pipescope/pkg/graph"
	"github.com/matzehuels/pipescope/pkg/httputil"
	"github.com/matzehuels/pipescope/pkg/layout"
	"github.com/matzehuels/pipescope/pkg/render/nodelink"
	"github.com/matzehuels/pipescope/pkg/replica"
)

// SnapshotResponse is the body of GET /api/v1/snapshot.
type SnapshotResponse struct {
	Seq      uint64         `json:"seq"`
	Topology graph.Topology `json:"topology"`
}

// LayoutResponse is the body of GET /api/v1/layout.
type LayoutResponse struct {
	Seq    uint64         `json:"seq"`
	Layout *layout.Result `json:"layout"`
}

// SceneResponse is the body of GET /api/v1/scene.
type SceneResponse struct {
	Seq uint64 `json:"seq"`
	graph.Scene
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Seq       uint64 `json:"seq"`
	Connected bool   `json:"connected"`
	replica.Status
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

// view returns the current view and handles conditional requests. It
// returns nil when the response has already been written.
func (s *Server) view(w http.ResponseWriter, r *http.Request) *replica.View {
	v := s.src.View()
	if v == nil {
		httputil.WriteError(w, perrors.New(perrors.ErrCodeNotFound, "no view published yet"))
		return nil
	}
	if httputil.NotModified(w, r, httputil.ETag(v.Seq)) {
		return nil
	}
	return v
}

func sceneOf(v *replica.View) graph.Scene {
	if v.Snapshot == nil {
		return graph.Scene{Layout: v.Layout}
	}
	return graph.NewScene(v.Snapshot, v.Layout)
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	v := s.view(w, r)
	if v == nil {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, SnapshotResponse{Seq: v.Seq, Topology: sceneOf(v).Topology})
}

func (s *Server) layout(w http.ResponseWriter, r *http.Request) {
	v := s.view(w, r)
	if v == nil {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, LayoutResponse{Seq: v.Seq, Layout: v.Layout})
}

func (s *Server) scene(w http.ResponseWriter, r *http.Request) {
	v := s.view(w, r)
	if v == nil {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, SceneResponse{Seq: v.Seq, Scene: sceneOf(v)})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	v := s.view(w, r)
	if v == nil {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, StatusResponse{Seq: v.Seq, Connected: v.Status.Connected(), Status: v.Status})
}

// dotOptions reads ?detailed=true.
func dotOptions(r *http.Request) (nodelink.Options, error) {
	var opts nodelink.Options
	if q := r.URL.Query().Get("detailed"); q != "" {
		b, err := strconv.ParseBool(q)
		if err != nil {
			return opts, perrors.New(perrors.ErrCodeInvalidInput, "invalid detailed value %q", q)
		}
		opts.Detailed = b
	}
	return opts, nil
}

func (s *Server) dot(w http.ResponseWriter, r *http.Request) {
	opts, err := dotOptions(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	v := s.view(w, r)
	if v == nil {
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	w.Write([]byte(nodelink.ToDOT(sceneOf(v), opts)))
}

func (s *Server) svg(w http.ResponseWriter, r *http.Request) {
	opts, err := dotOptions(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	v := s.view(w, r)
	if v == nil {
		return
	}
	svg, err := nodelink.RenderSVG(r.Context(), nodelink.ToDOT(sceneOf(v), opts))
	if err != nil {
		s.logger.Error("render svg", "err", err)
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Write(svg)
}

// events streams one "view" event per published view. Each event carries
// the status and layout; clients fetch the topology when they need it.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, perrors.New(perrors.ErrCodeUnsupported, "streaming not supported"))
		return
	}
	views, cancel := s.src.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case v := <-views:
			data, err := json.Marshal(v)
			if err != nil {
				s.logger.Error("encode view event", "err", err)
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: view\ndata: %s\n\n", v.Seq, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
