package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ravi-parthasarathy/mosaik/pkg/engine"
	"github.com/ravi-parthasarathy/mosaik/pkg/fileio"
	"github.com/ravi-parthasarathy/mosaik/pkg/workflow"
)

// ─── helpers ───────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			slog.Error("write response", "error", err)
		}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		err = ErrInternalFailure
	} else {
		slog.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	http.Error(w, errorToJSON(err), status)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

// nodeID reads the {id} route variable; the route pattern guarantees digits.
func nodeID(r *http.Request) int {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	return id
}

// ─── workflow ──────────────────────────────────────────────────────────────

func (s *Service) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	data, err := workflow.Marshal(s.wf.Snapshot())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

type orderResponse struct {
	Order []int   `json:"order"`
	Tiers [][]int `json:"tiers"`
}

func (s *Service) HandleGetOrder(w http.ResponseWriter, _ *http.Request) {
	var resp orderResponse
	s.wf.View(func(g *workflow.Graph) {
		resp.Order = g.ExecutionOrder()
		resp.Tiers = g.ExecutionTiers()
	})
	if resp.Order == nil {
		resp.Order = []int{}
	}
	if resp.Tiers == nil {
		resp.Tiers = [][]int{}
	}
	writeJSON(w, http.StatusOK, resp)
}

type lintEntry struct {
	NodeID  int    `json:"node_id,omitempty"`
	Message string `json:"message"`
	Warning bool   `json:"warning"`
}

func (s *Service) HandleLint(w http.ResponseWriter, _ *http.Request) {
	var issues []workflow.LintError
	s.wf.View(func(g *workflow.Graph) { issues = workflow.Validate(g) })
	out := make([]lintEntry, 0, len(issues))
	for _, e := range issues {
		out = append(out, lintEntry{NodeID: e.NodeID, Message: e.Message, Warning: e.Warning})
	}
	writeJSON(w, http.StatusOK, out)
}

// ─── nodes ─────────────────────────────────────────────────────────────────

type addNodeRequest struct {
	Kind     workflow.Kind     `json:"kind"`
	Provider workflow.Provider `json:"provider"`
	X        float64           `json:"x"`
	Y        float64           `json:"y"`
}

type idResponse struct {
	ID int `json:"id"`
}

func (s *Service) HandleAddNode(w http.ResponseWriter, r *http.Request) {
	var req addNodeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	switch req.Kind {
	case workflow.KindPrompt, workflow.KindFileImport, workflow.KindFileExport, workflow.KindModel:
	default:
		writeError(w, r, fmt.Errorf("%w: %q", ErrInvalidKind, req.Kind))
		return
	}
	var id int
	_ = s.wf.Update(func(g *workflow.Graph) error {
		if req.Kind == workflow.KindModel {
			id = g.AddModelNode(req.Provider, req.X, req.Y)
		} else {
			id = g.AddNode(req.Kind, req.X, req.Y)
		}
		return nil
	})
	slog.Info("node added", "node", id, "kind", req.Kind)
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Service) HandleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id := nodeID(r)
	err := s.wf.Update(func(g *workflow.Graph) error {
		if _, ok := g.Node(id); !ok {
			return fmt.Errorf("delete node %d: %w", id, workflow.ErrNodeNotFound)
		}
		g.RemoveNode(id)
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type positionRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (s *Service) HandleMoveNode(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id := nodeID(r)
	if err := s.wf.Update(func(g *workflow.Graph) error { return g.MoveNode(id, req.X, req.Y) }); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type textRequest struct {
	Text string `json:"text"`
}

func (s *Service) HandleSetOutput(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id := nodeID(r)
	if err := s.wf.Update(func(g *workflow.Graph) error { return g.SetOutput(id, req.Text) }); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type modelRequest struct {
	Provider *workflow.Provider `json:"provider"`
	Model    *string            `json:"model"`
	Thinking *bool              `json:"thinking"`
}

func (s *Service) HandleSetModel(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id := nodeID(r)
	err := s.wf.Update(func(g *workflow.Graph) error {
		n, ok := g.Node(id)
		if !ok {
			return fmt.Errorf("node %d: %w", id, workflow.ErrNodeNotFound)
		}
		if _, ok := n.Model(); !ok {
			return fmt.Errorf("node %d: %w", id, workflow.ErrNotModelNode)
		}
		if req.Provider != nil {
			if err := g.SetProvider(id, *req.Provider); err != nil {
				return err
			}
		}
		if req.Model != nil {
			if err := g.SetModel(id, *req.Model); err != nil {
				return err
			}
		}
		if req.Thinking != nil {
			return g.SetThinking(id, *req.Thinking)
		}
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) HandleResetNode(w http.ResponseWriter, r *http.Request) {
	id := nodeID(r)
	if err := s.wf.Update(func(g *workflow.Graph) error { return g.ResetNode(id) }); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDetachInput removes the connection feeding a node, the API
// counterpart of grabbing its input port.
func (s *Service) HandleDetachInput(w http.ResponseWriter, r *http.Request) {
	id := nodeID(r)
	var removed workflow.Connection
	err := s.wf.Update(func(g *workflow.Graph) error {
		c, ok := g.RemoveConnectionTargeting(id)
		if !ok {
			return fmt.Errorf("node %d: %w", id, ErrNoConnection)
		}
		removed = c
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

type outputResponse struct {
	Output string `json:"output"`
}

func (s *Service) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id := nodeID(r)
	if err := s.engine.Send(r.Context(), id, req.Text); err != nil {
		writeError(w, r, err)
		return
	}
	var resp outputResponse
	s.wf.View(func(g *workflow.Graph) {
		if n, ok := g.Node(id); ok && n.Output != nil {
			resp.Output = *n.Output
		}
	})
	writeJSON(w, http.StatusOK, resp)
}

type importRequest struct {
	Path string `json:"path"`
}

func (s *Service) HandleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := fileio.Import(s.wf, nodeID(r), req.Path); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type exportResponse struct {
	Path string `json:"path"`
}

func (s *Service) HandleExport(w http.ResponseWriter, r *http.Request) {
	path, err := fileio.Export(s.wf, nodeID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{Path: path})
}

type targetRequest struct {
	Folder   string `json:"folder"`
	Name     string `json:"name"`
	FileType string `json:"file_type"`
}

func (s *Service) HandleSetExportTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Folder == "" || req.Name == "" {
		writeError(w, r, fileio.ErrExportTarget)
		return
	}
	switch req.FileType {
	case "", "txt", "md":
	default:
		writeError(w, r, fmt.Errorf("%w: %q", ErrInvalidFileType, req.FileType))
		return
	}
	id := nodeID(r)
	if err := s.wf.Update(func(g *workflow.Graph) error {
		return g.SetFileExport(id, req.Folder, req.Name, req.FileType)
	}); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── connections ───────────────────────────────────────────────────────────

type connectionRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (s *Service) HandleAddConnection(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	var id int
	err := s.wf.Update(func(g *workflow.Graph) error {
		var err error
		id, err = g.AddConnection(req.From, req.To)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// ─── execution ─────────────────────────────────────────────────────────────

type nodeFailure struct {
	NodeID int    `json:"node_id"`
	Error  string `json:"error"`
}

type runResponse struct {
	Failed []nodeFailure `json:"failed"`
	Error  string        `json:"error,omitempty"`
}

// HandleRun executes the workflow and reports per-node failures. A run with
// failed nodes still answers 200: the graph records what succeeded.
func (s *Service) HandleRun(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Run(r.Context())
	resp := runResponse{Failed: []nodeFailure{}}
	for _, e := range flatten(err) {
		var ne *engine.NodeError
		if errors.As(e, &ne) {
			resp.Failed = append(resp.Failed, nodeFailure{NodeID: ne.NodeID, Error: ne.Err.Error()})
			continue
		}
		resp.Error = e.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// flatten splits an errors.Join result into its parts.
func flatten(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func (s *Service) HandleListModels(w http.ResponseWriter, r *http.Request) {
	if s.clients == nil {
		writeError(w, r, ErrNoClients)
		return
	}
	provider := workflow.Provider(mux.Vars(r)["provider"])
	if !workflow.KnownProvider(provider) {
		writeError(w, r, fmt.Errorf("%w %q", workflow.ErrUnknownProvider, provider))
		return
	}
	client, err := s.clients.Client(provider)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models, err := client.Models(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

// ─── persistence ───────────────────────────────────────────────────────────

type saveResponse struct {
	Name string `json:"name"`
}

func (s *Service) HandleSave(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		writeError(w, r, ErrNoRepository)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = s.name
	}
	if err := s.repo.Save(r.Context(), name, s.wf.Snapshot()); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("workflow saved", "name", name)
	writeJSON(w, http.StatusOK, saveResponse{Name: name})
}

// HandleLoad replaces the served workflow with a saved one. Executions that
// were in flight when it was saved are cleared.
func (s *Service) HandleLoad(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		writeError(w, r, ErrNoRepository)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = s.name
	}
	g, err := s.repo.Load(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	g.ClearStaleExecutions()
	nodes := g.Len()
	if err := s.wf.Replace(g); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("workflow loaded", "name", name, "nodes", nodes)
	writeJSON(w, http.StatusOK, saveResponse{Name: name})
}
