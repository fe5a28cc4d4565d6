package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nextlevelbuilder/voxd/internal/backend"
	"github.com/nextlevelbuilder/voxd/internal/queue"
	"github.com/nextlevelbuilder/voxd/internal/stt"
	"github.com/nextlevelbuilder/voxd/internal/tts"
	"github.com/nextlevelbuilder/voxd/pkg/protocol"
)

// MethodHandler processes a single RPC method request.
type MethodHandler func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter maps method names to handlers.
type MethodRouter struct {
	handlers map[string]MethodHandler
	server   *Server
}

func NewMethodRouter(server *Server) *MethodRouter {
	r := &MethodRouter{
		handlers: make(map[string]MethodHandler),
		server:   server,
	}
	r.registerDefaults()
	return r
}

// Register adds a method handler.
func (r *MethodRouter) Register(method string, handler MethodHandler) {
	r.handlers[method] = handler
}

// Handle dispatches a request to the appropriate handler.
func (r *MethodRouter) Handle(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	handler, ok := r.handlers[req.Method]
	if !ok {
		slog.Warn("unknown method", "method", req.Method, "client", client.id)
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrInvalidRequest, "unknown method: "+req.Method))
		return
	}

	slog.Debug("handling method", "method", req.Method, "client", client.id, "req_id", req.ID)
	handler(ctx, client, req)
}

func (r *MethodRouter) registerDefaults() {
	r.Register(protocol.MethodConnect, r.handleConnect)
	r.Register(protocol.MethodHealth, r.handleHealth)
	r.Register(protocol.MethodSubmit, r.handleSubmit)
	r.Register(protocol.MethodCancel, r.handleCancel)
	r.Register(protocol.MethodBackendsList, r.handleBackendsList)
	r.Register(protocol.MethodBackendsSelect, r.handleBackendsSelect)
	r.Register(protocol.MethodSpeech, r.handleSpeech)
}

func (r *MethodRouter) handleConnect(_ context.Context, client *Client, req *protocol.RequestFrame) {
	var params struct {
		Token string `json:"token"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	if token := r.server.cfg.Token; token != "" && params.Token != token {
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrInvalidRequest, "invalid token"))
		return
	}

	client.authenticated = true
	client.SendResponse(protocol.NewResponse(req.ID, map[string]interface{}{
		"protocol": protocol.ProtocolVersion,
		"server": map[string]interface{}{
			"name":    "voxd",
			"version": "0.1.0",
		},
	}))
}

func (r *MethodRouter) handleHealth(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	families := map[string][]backend.Health{}
	for _, f := range r.server.families {
		families[f.Family()] = f.Health(ctx)
	}
	client.SendResponse(protocol.NewResponse(req.ID, map[string]interface{}{
		"status":   "ok",
		"queued":   r.server.queue.Depth(),
		"running":  r.server.queue.Running(),
		"clients":  r.server.ClientCount(),
		"backends": families,
	}))
}

func (r *MethodRouter) handleSubmit(_ context.Context, client *Client, req *protocol.RequestFrame) {
	if r.server.limiter.Enabled() && !r.server.limiter.Allow(client.id) {
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrResourceExhausted, "rate limit exceeded"))
		return
	}

	var params struct {
		Input string `json:"input"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrInvalidRequest, "invalid params: "+err.Error()))
		return
	}
	if params.Input == "" {
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrInvalidRequest, "input is required"))
		return
	}

	record, err := r.server.queue.Submit(params.Input)
	if err != nil {
		code := protocol.ErrInternal
		if errors.Is(err, queue.ErrQueueFull) {
			code = protocol.ErrQueueFull
		}
		client.SendResponse(protocol.NewErrorResponse(req.ID, code, err.Error()))
		return
	}

	client.SendResponse(protocol.NewResponse(req.ID, map[string]interface{}{
		"request_id": record.ID,
		"status":     record.Status,
	}))
}

func (r *MethodRouter) handleCancel(_ context.Context, client *Client, req *protocol.RequestFrame) {
	var params struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.RequestID == "" {
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrInvalidRequest, "request_id is required"))
		return
	}

	err := r.server.queue.Cancel(params.RequestID)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrNotFound, "unknown request: "+params.RequestID))
	case errors.Is(err, queue.ErrTerminal):
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrInvalidRequest, "request already terminal"))
	case err != nil:
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
	default:
		client.SendResponse(protocol.NewResponse(req.ID, map[string]interface{}{
			"request_id": params.RequestID,
		}))
	}
}

func (r *MethodRouter) handleSpeech(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	if r.server.speech == nil {
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrUnavailable, "speech pipeline not configured"))
		return
	}
	if r.server.limiter.Enabled() && !r.server.limiter.Allow(client.id) {
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrResourceExhausted, "rate limit exceeded"))
		return
	}

	var params struct {
		Audio    string `json:"audio"` // base64
		Language string `json:"language"`
		Voice    string `json:"voice"`
		Format   string `json:"format"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Audio == "" {
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrInvalidRequest, "audio is required"))
		return
	}
	audio, err := base64.StdEncoding.DecodeString(params.Audio)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrInvalidRequest, "audio must be base64: "+err.Error()))
		return
	}

	ex := r.server.speech.Converse(ctx, audio,
		stt.Options{Language: params.Language},
		tts.Options{Voice: params.Voice, Format: params.Format})

	payload := map[string]interface{}{
		"transcript": ex.Transcript,
		"answer":     ex.Answer,
		"elapsed_ms": ex.Elapsed.Milliseconds(),
	}
	if ex.Audio != nil {
		payload["audio"] = base64.StdEncoding.EncodeToString(ex.Audio.Audio)
		payload["mime_type"] = ex.Audio.MimeType
		payload["extension"] = ex.Audio.Extension
	}
	if ex.Failed != nil {
		payload["failed"] = map[string]interface{}{
			"stage": ex.Failed.Stage,
			"error": ex.Failed.Err.Error(),
		}
	}
	client.SendResponse(protocol.NewResponse(req.ID, payload))
}

func (r *MethodRouter) handleBackendsList(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	out := map[string]interface{}{}
	for _, f := range r.server.families {
		out[f.Family()] = map[string]interface{}{
			"selected": f.SelectedID(),
			"backends": f.Health(ctx),
		}
	}
	client.SendResponse(protocol.NewResponse(req.ID, out))
}

func (r *MethodRouter) handleBackendsSelect(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var params struct {
		Family string `json:"family"`
		ID     string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Family == "" || params.ID == "" {
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrInvalidRequest, "family and id are required"))
		return
	}

	f := r.server.family(params.Family)
	if f == nil {
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrNotFound, "unknown backend family: "+params.Family))
		return
	}

	err := f.Select(ctx, params.ID)
	switch {
	case errors.Is(err, backend.ErrUnknownBackend):
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrNotFound, err.Error()))
	case errors.Is(err, backend.ErrBackendNotReady):
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrBackendNotReady, err.Error()))
	case err != nil:
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
	default:
		client.SendResponse(protocol.NewResponse(req.ID, map[string]interface{}{
			"family":   params.Family,
			"selected": f.SelectedID(),
		}))
	}
}
