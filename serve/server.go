package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	ghostline "github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/generate"
	"github.com/Paranoid-AF/ghostline/provider"
)

// Completer processes socket requests.
type Completer interface {
	Complete(ctx context.Context, req *ghostline.Request) *ghostline.Response
	Edit(req *ghostline.EditRequest) *ghostline.AckResponse
	Command(req *ghostline.CommandRequest) *ghostline.AckResponse
}

// sessionEntry tracks a cancellable in-flight request for a session.
type sessionEntry struct {
	requestID int
	cancel    context.CancelFunc
}

// Server listens on a Unix domain socket for completion requests.
type Server struct {
	listener net.Listener
	sockPath string
	engine   Completer
	reload   func() (*ghostline.Config, error)

	mu       sync.Mutex
	sessions map[string]sessionEntry
}

// NewServer creates an IPC server bound to sockPath. reload is run for the
// "reload" config action; nil only rereads the file.
func NewServer(sockPath string, completer Completer, reload func() (*ghostline.Config, error)) (*Server, error) {
	// Remove stale socket file if it exists
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "remove stale socket")
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", sockPath)
	}

	if reload == nil {
		reload = ghostline.LoadConfig
	}
	return &Server{
		listener: listener,
		sockPath: sockPath,
		engine:   completer,
		reload:   reload,
		sessions: make(map[string]sessionEntry),
	}, nil
}

// Serve accepts connections and handles requests.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops listening and removes the socket file.
func (s *Server) Close() {
	s.listener.Close()
	os.Remove(s.sockPath)
}

// envelope holds the fields used to tell request kinds apart.
type envelope struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	// Requests carry whole documents.
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	if !scanner.Scan() {
		return
	}

	raw := scanner.Bytes()
	slog.Debug("request", "bytes", len(raw))

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Warn("invalid request", "error", err)
		writeJSON(conn, &ghostline.Response{Items: []ghostline.Item{}, Error: invalidRequest(err)})
		return
	}

	switch {
	case env.Type == "edit":
		var req ghostline.EditRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			writeJSON(conn, &ghostline.AckResponse{Error: invalidRequest(err)})
			return
		}
		writeJSON(conn, s.engine.Edit(&req))

	case env.Type == "command":
		var req ghostline.CommandRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			writeJSON(conn, &ghostline.AckResponse{Error: invalidRequest(err)})
			return
		}
		writeJSON(conn, s.engine.Command(&req))

	case env.Action != "":
		writeJSON(conn, s.handleConfigRequest(&ghostline.ConfigRequest{Action: env.Action}))

	default:
		var req ghostline.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			slog.Warn("invalid request", "error", err)
			writeJSON(conn, &ghostline.Response{Items: []ghostline.Item{}, Error: invalidRequest(err)})
			return
		}
		s.handleCompletion(conn, &req)
	}
}

func (s *Server) handleCompletion(conn net.Conn, req *ghostline.Request) {
	// Cancel any in-flight request for this session and create a new context.
	ctx, cancel := context.WithCancel(context.Background())
	sid := req.SessionID
	reqID := req.RequestID
	if sid != "" {
		s.mu.Lock()
		if prev, ok := s.sessions[sid]; ok {
			prev.cancel()
		}
		s.sessions[sid] = sessionEntry{requestID: reqID, cancel: cancel}
		s.mu.Unlock()
	}
	defer func() {
		cancel()
		if sid != "" {
			s.mu.Lock()
			if cur, ok := s.sessions[sid]; ok && cur.requestID == reqID {
				delete(s.sessions, sid)
			}
			s.mu.Unlock()
		}
	}()

	resp := s.engine.Complete(ctx, req)

	// If cancelled, skip writing; the client has already moved on.
	if ctx.Err() != nil {
		return
	}

	resp.RequestID = req.RequestID
	if resp.Items == nil {
		resp.Items = []ghostline.Item{}
	}
	writeJSON(conn, resp)
}

func (s *Server) handleConfigRequest(req *ghostline.ConfigRequest) *ghostline.ConfigResponse {
	var resp ghostline.ConfigResponse

	switch req.Action {
	case "get":
		cfg, err := ghostline.LoadConfig()
		if err != nil {
			resp.Error = &ghostline.Error{Code: "config_error", Message: err.Error()}
		} else {
			resp.Config = cfg
		}

	case "reload":
		cfg, err := s.reload()
		if err != nil {
			resp.Error = &ghostline.Error{Code: "config_error", Message: err.Error()}
		} else {
			resp.Config = cfg
		}

	case "defaults":
		resp.Config = ghostline.DefaultConfig()

	case "validate":
		cfg, err := ghostline.LoadConfig()
		if err != nil {
			resp.Error = &ghostline.Error{Code: "config_error", Message: err.Error()}
		} else {
			resp.Warnings = ghostline.ValidateConfig(cfg)
		}

	default:
		resp.Error = &ghostline.Error{
			Code:    "unknown_action",
			Message: "unknown config action: " + req.Action,
		}
	}
	return &resp
}

func writeJSON(conn net.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}
	slog.Debug("response", "data", string(data))
	conn.Write(append(data, '\n'))
}

func invalidRequest(err error) *ghostline.Error {
	return &ghostline.Error{Code: "invalid_request", Message: err.Error()}
}

// hostCompleter answers socket requests with a provider.Host.
type hostCompleter struct {
	host  *provider.Host
	model func() string
}

func (c *hostCompleter) Complete(ctx context.Context, req *ghostline.Request) *ghostline.Response {
	resp := &ghostline.Response{Items: []ghostline.Item{}}
	if req.SourceID == "" {
		resp.Error = &ghostline.Error{Code: "invalid_request", Message: "source_id is required"}
		return resp
	}
	if c.model != nil && c.model() == "" {
		resp.Error = &ghostline.Error{Code: "not_configured", Message: "no model configured; set backend.model"}
		return resp
	}

	sid := req.SessionID
	if sid == "" {
		sid = uuid.NewString()
	}
	slog.Debug("completion", "session", sid, "request", req.RequestID, "source", req.SourceID)

	doc := document(req.SourceID, req.LanguageID, req.Text)
	c.host.Documents.Open(doc)
	if items := c.host.Complete(ctx, doc, ghostline.Position{Line: req.Line, Column: req.Column}); items != nil {
		resp.Items = items
	}
	return resp
}

func (c *hostCompleter) Edit(req *ghostline.EditRequest) *ghostline.AckResponse {
	if req.SourceID == "" {
		return &ghostline.AckResponse{Error: &ghostline.Error{Code: "invalid_request", Message: "source_id is required"}}
	}
	doc := document(req.SourceID, req.LanguageID, req.Text)
	c.host.Documents.Open(doc)
	c.host.Edited(doc, ghostline.Position{Line: req.Line, Column: req.Column}, provider.Edit{
		Inserted: req.Inserted,
		Deleted:  req.Deleted,
	})
	return &ghostline.AckResponse{OK: true}
}

func (c *hostCompleter) Command(req *ghostline.CommandRequest) *ghostline.AckResponse {
	st, err := c.host.Execute(req.Command)
	if err != nil {
		return &ghostline.AckResponse{Error: &ghostline.Error{Code: "unknown_command", Message: err.Error()}}
	}
	return &ghostline.AckResponse{OK: true, Status: st}
}

// document builds a Document for a socket source. Absolute source ids are
// files on disk and get a diff.
func document(sourceID, languageID, text string) generate.Document {
	doc := generate.Document{SourceID: sourceID, LanguageID: languageID, Text: text}
	if filepath.IsAbs(sourceID) {
		doc.Path = sourceID
	}
	return doc
}
