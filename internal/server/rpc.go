package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"git.home.luguber.info/inful/autobuild/internal/daemon"
	aerrors "git.home.luguber.info/inful/autobuild/internal/errors"
	"git.home.luguber.info/inful/autobuild/internal/history"
)

const jsonrpcVersion = "2.0"

// JSON-RPC 2.0 error codes. Domain errors that do not map onto a standard
// code are reported as codeDomainError with the error category in data.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeDomainError    = -32000
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

type configureParams struct {
	Name           string            `json:"name"`
	ProjectPath    string            `json:"project_path"`
	BuildCommand   string            `json:"build_command"`
	Environment    map[string]string `json:"environment"`
	TimeoutSeconds *int              `json:"timeout_seconds"`
	IgnorePatterns []string          `json:"ignore_patterns"`
}

type toggleParams struct {
	Name    string `json:"name"`
	Enabled *bool  `json:"enabled"`
}

type nameParams struct {
	Name string `json:"name"`
}

type logParams struct {
	Name      string `json:"name"`
	TailLines int    `json:"tail_lines"`
}

type historyParams struct {
	Profile string `json:"profile"`
	Limit   int    `json:"limit"`
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPC(w, rpcResponse{
			JSONRPC: jsonrpcVersion,
			Error:   &rpcError{Code: codeParseError, Message: "parse error"},
		})
		return
	}
	if req.JSONRPC != jsonrpcVersion || req.Method == "" {
		writeRPC(w, rpcResponse{
			JSONRPC: jsonrpcVersion,
			Error:   &rpcError{Code: codeInvalidRequest, Message: "invalid request"},
			ID:      req.ID,
		})
		return
	}

	result, rpcErr := s.dispatch(r.Context(), req.Method, req.Params)
	writeRPC(w, rpcResponse{JSONRPC: jsonrpcVersion, Result: result, Error: rpcErr, ID: req.ID})
}

func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (any, *rpcError) {
	switch method {
	case "configure_profile":
		return s.rpcConfigureProfile(params)
	case "toggle_autobuild":
		return s.rpcToggleAutobuild(params)
	case "start_build":
		return s.rpcStartBuild(params)
	case "stop_build":
		return s.rpcStopBuild(params)
	case "get_status":
		return s.rpcGetStatus(params)
	case "list_profiles":
		return s.rpcListProfiles()
	case "get_log":
		return s.rpcGetLog(params)
	case "get_history":
		return s.rpcGetHistory(ctx, params)
	case "delete_profile":
		return s.rpcDeleteProfile(params)
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
	}
}

func (s *Server) rpcConfigureProfile(raw json.RawMessage) (any, *rpcError) {
	var p configureParams
	if rpcErr := decodeParams(raw, &p); rpcErr != nil {
		return nil, rpcErr
	}
	spec := daemon.ProfileSpec{
		Name:           p.Name,
		ProjectPath:    p.ProjectPath,
		BuildCommand:   p.BuildCommand,
		Environment:    p.Environment,
		TimeoutSeconds: p.TimeoutSeconds,
		IgnorePatterns: p.IgnorePatterns,
	}
	if err := s.engine.ConfigureProfile(spec); err != nil {
		return nil, errorToRPC(err)
	}
	return map[string]any{"profile": p.Name, "status": "configured"}, nil
}

func (s *Server) rpcToggleAutobuild(raw json.RawMessage) (any, *rpcError) {
	var p toggleParams
	if rpcErr := decodeParams(raw, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.Enabled == nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "enabled is required"}
	}
	if err := s.engine.ToggleAutobuild(p.Name, *p.Enabled); err != nil {
		return nil, errorToRPC(err)
	}
	return map[string]any{"profile": p.Name, "autobuild_enabled": *p.Enabled}, nil
}

func (s *Server) rpcStartBuild(raw json.RawMessage) (any, *rpcError) {
	var p nameParams
	if rpcErr := decodeParams(raw, &p); rpcErr != nil {
		return nil, rpcErr
	}
	pos, err := s.engine.StartBuild(p.Name)
	if err != nil {
		return nil, errorToRPC(err)
	}
	return map[string]any{"profile": p.Name, "status": "queued", "queue_position": pos}, nil
}

func (s *Server) rpcStopBuild(raw json.RawMessage) (any, *rpcError) {
	var p nameParams
	if rpcErr := decodeParams(raw, &p); rpcErr != nil {
		return nil, rpcErr
	}
	res, err := s.engine.StopBuild(p.Name)
	if err != nil {
		return nil, errorToRPC(err)
	}
	return res, nil
}

func (s *Server) rpcGetStatus(raw json.RawMessage) (any, *rpcError) {
	var p nameParams
	if rpcErr := decodeParams(raw, &p); rpcErr != nil {
		return nil, rpcErr
	}
	report, err := s.engine.GetStatus(p.Name)
	if err != nil {
		return nil, errorToRPC(err)
	}
	return report, nil
}

func (s *Server) rpcListProfiles() (any, *rpcError) {
	profiles, err := s.engine.ListProfiles()
	if err != nil {
		return nil, errorToRPC(err)
	}
	return map[string]any{"profiles": profiles}, nil
}

func (s *Server) rpcGetLog(raw json.RawMessage) (any, *rpcError) {
	var p logParams
	if rpcErr := decodeParams(raw, &p); rpcErr != nil {
		return nil, rpcErr
	}
	res, err := s.engine.GetLog(p.Name, p.TailLines)
	if err != nil {
		return nil, errorToRPC(err)
	}
	return res, nil
}

func (s *Server) rpcGetHistory(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	if s.history == nil {
		return nil, errorToRPC(aerrors.New(aerrors.CategoryHistory, aerrors.SeverityWarning, "history is disabled"))
	}
	var p historyParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
		}
	}
	var (
		runs []history.Run
		err  error
	)
	if p.Profile != "" {
		runs, err = s.history.ListByProfile(ctx, p.Profile, p.Limit)
	} else {
		runs, err = s.history.ListRecent(ctx, p.Limit)
	}
	if err != nil {
		return nil, errorToRPC(aerrors.Wrap(err, aerrors.CategoryHistory, aerrors.SeverityError, "history query failed"))
	}
	if runs == nil {
		runs = []history.Run{}
	}
	return map[string]any{"runs": runs}, nil
}

func (s *Server) rpcDeleteProfile(raw json.RawMessage) (any, *rpcError) {
	var p nameParams
	if rpcErr := decodeParams(raw, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.DeleteProfile(p.Name); err != nil {
		return nil, errorToRPC(err)
	}
	return map[string]any{"profile": p.Name, "deleted": true}, nil
}

func decodeParams(raw json.RawMessage, v any) *rpcError {
	if len(raw) == 0 {
		return &rpcError{Code: codeInvalidParams, Message: "params required"}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &rpcError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

// errorToRPC maps domain errors onto JSON-RPC codes. Validation failures are
// invalid params; everything else carries its category in the error data so
// clients can tell a missing profile from a state conflict.
func errorToRPC(err error) *rpcError {
	var abe *aerrors.AutobuildError
	if errors.As(err, &abe) {
		data := map[string]any{"category": string(abe.Category)}
		for k, v := range abe.Context {
			data[k] = v
		}
		switch abe.Category {
		case aerrors.CategoryValidation:
			return &rpcError{Code: codeInvalidParams, Message: abe.Message, Data: data}
		case aerrors.CategoryInternal:
			return &rpcError{Code: codeInternalError, Message: abe.Message, Data: data}
		default:
			return &rpcError{Code: codeDomainError, Message: abe.Message, Data: data}
		}
	}
	return &rpcError{Code: codeInternalError, Message: err.Error()}
}

func writeRPC(w http.ResponseWriter, resp rpcResponse) {
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
