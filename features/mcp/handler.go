package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookscroll/features/document"
	"bookscroll/features/snippet"
	"bookscroll/internal/middleware"
	"bookscroll/internal/retrieval"
)

const (
	protocolVersion = "2024-11-05"
	sessionBuffer   = 100
	keepAlive       = 15 * time.Second
)

type Retriever interface {
	Search(ctx context.Context, query string, opts *retrieval.SearchOptions) ([]snippet.Item, error)
	Sample(ctx context.Context, scope snippet.Scope, n int) ([]snippet.Item, error)
}

type Library interface {
	List(ctx context.Context) ([]document.Document, error)
	Sentences(ctx context.Context, id int64, from, to int) (*document.SentenceWindow, error)
}

// Handler serves the snippet library as MCP tools over plain JSON-RPC POST
// and over the SSE transport.
type Handler struct {
	retriever Retriever
	library   Library
	tools     map[string]toolFunc

	sessions     map[string]chan string
	sessionsLock sync.RWMutex
}

type toolFunc func(ctx context.Context, args json.RawMessage) (string, error)

func NewHandler(r Retriever, l Library) *Handler {
	h := &Handler{
		retriever: r,
		library:   l,
		sessions:  make(map[string]chan string),
	}
	h.tools = map[string]toolFunc{
		"bookscroll_search":         h.search,
		"bookscroll_random":         h.random,
		"bookscroll_list_documents": h.listDocuments,
		"bookscroll_read_passage":   h.readPassage,
	}
	return h
}

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

// errInvalidArgs marks tool failures caused by the caller rather than the library.
var errInvalidArgs = errors.New("invalid arguments")

func invalidArgs(msg string) error {
	return fmt.Errorf("%w: %s", errInvalidArgs, msg)
}

func object(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var toolList = []Tool{
	{
		Name: "bookscroll_search",
		Description: `Finds passages across every ingested book by meaning and by keywords.

semantic_weight balances the two signals: 0.0 matches words only (names, rare terms), 1.0 matches meaning only ("passages about grief"). Omit it to use the configured default.`,
		InputSchema: object(map[string]interface{}{
			"query":           map[string]string{"type": "string", "description": "What to look for"},
			"semantic_weight": map[string]interface{}{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"limit":           map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 50},
			"document_id":     map[string]string{"type": "integer", "description": "Restrict to one book"},
		}, "query"),
	},
	{
		Name:        "bookscroll_random",
		Description: "Returns random passages, optionally from one book or about one theme.",
		InputSchema: object(map[string]interface{}{
			"limit":       map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 50},
			"document_id": map[string]string{"type": "integer"},
			"theme":       map[string]string{"type": "string"},
		}),
	},
	{
		Name:        "bookscroll_list_documents",
		Description: "Lists the books in the library with their ingestion status.",
		InputSchema: object(map[string]interface{}{}),
	},
	{
		Name:        "bookscroll_read_passage",
		Description: "Reads the source text between two sentence indices of a book, with the sentences just before and after. Use the start_index and end_index of a search result.",
		InputSchema: object(map[string]interface{}{
			"document_id": map[string]string{"type": "integer"},
			"from":        map[string]string{"type": "integer"},
			"to":          map[string]string{"type": "integer"},
		}, "document_id", "from", "to"),
	},
}

// processRequest returns nil for notifications.
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": protocolVersion,
				"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
				"serverInfo":      map[string]interface{}{"name": "bookscroll-mcp", "version": "1.0.0"},
			},
		}
	case "notifications/initialized":
		return nil
	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: toolList}}
	case "tools/call":
		return h.callTool(ctx, req)
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
	return &resp
}

func (h *Handler) callTool(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	var params CallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		slog.WarnContext(ctx, "invalid params structure", "error", err)
		resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
		return &resp
	}

	tool, ok := h.tools[params.Name]
	if !ok {
		slog.WarnContext(ctx, "tool not found", "tool", params.Name)
		resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found: "+params.Name)
		return &resp
	}

	text, err := tool(ctx, params.Arguments)
	if errors.Is(err, errInvalidArgs) {
		resp := makeErrorResponse(req.ID, ErrInvalidParams, err.Error())
		return &resp
	}
	if err != nil {
		slog.ErrorContext(ctx, "tool execution failed", "tool", params.Name, "error", err)
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: ToolResult{
				Content: []ToolContent{{Type: "text", Text: "Error: " + err.Error()}},
				IsError: true,
			},
		}
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", params.Name)
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  ToolResult{Content: []ToolContent{{Type: "text", Text: text}}},
	}
}

func decodeArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidArgs("arguments are not a valid object")
	}
	return nil
}

func (h *Handler) search(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Query          string   `json:"query"`
		SemanticWeight *float64 `json:"semantic_weight"`
		Limit          *int     `json:"limit"`
		DocumentID     int64    `json:"document_id"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", invalidArgs("query is required")
	}
	if w := args.SemanticWeight; w != nil && (*w < 0 || *w > 1) {
		return "", invalidArgs("semantic_weight must be between 0.0 and 1.0")
	}
	if args.Limit != nil && *args.Limit <= 0 {
		return "", invalidArgs("limit must be positive")
	}

	items, err := h.retriever.Search(ctx, args.Query, &retrieval.SearchOptions{
		Limit:          args.Limit,
		SemanticWeight: args.SemanticWeight,
		DocumentID:     args.DocumentID,
	})
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "No passages found.", nil
	}
	return formatItems(items, true) + "\nUse bookscroll_read_passage(document_id, from, to) to read the surrounding text.\n", nil
}

func (h *Handler) random(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Limit      int    `json:"limit"`
		DocumentID int64  `json:"document_id"`
		Theme      string `json:"theme"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Limit == 0 {
		args.Limit = 5
	}
	if args.Limit < 0 {
		return "", invalidArgs("limit must be positive")
	}

	items, err := h.retriever.Sample(ctx, snippet.Scope{DocumentID: args.DocumentID, Theme: args.Theme}, args.Limit)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "No passages found.", nil
	}
	return formatItems(items, false), nil
}

func (h *Handler) listDocuments(ctx context.Context, _ json.RawMessage) (string, error) {
	docs, err := h.library.List(ctx)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "No documents found.", nil
	}

	type summary struct {
		ID     int64  `json:"id"`
		Title  string `json:"title"`
		Author string `json:"author,omitempty"`
		Status string `json:"status"`
	}
	out := make([]summary, len(docs))
	for i, d := range docs {
		out[i] = summary{ID: d.ID, Title: d.Title, Author: d.Author, Status: d.Status}
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h *Handler) readPassage(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		DocumentID int64 `json:"document_id"`
		From       *int  `json:"from"`
		To         *int  `json:"to"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.DocumentID <= 0 || args.From == nil || args.To == nil {
		return "", invalidArgs("document_id, from and to are required")
	}

	win, err := h.library.Sentences(ctx, args.DocumentID, *args.From, *args.To)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(win.Title)
	if win.Author != "" {
		fmt.Fprintf(&sb, " by %s", win.Author)
	}
	fmt.Fprintf(&sb, "\nSentences %d-%d\n\n", win.From, win.To)
	if win.PreviousSentence != "" {
		fmt.Fprintf(&sb, "[before] %s\n\n", win.PreviousSentence)
	}
	fmt.Fprintf(&sb, "%s\n", win.Text)
	if win.NextSentence != "" {
		fmt.Fprintf(&sb, "\n[after] %s\n", win.NextSentence)
	}
	return sb.String(), nil
}

func formatItems(items []snippet.Item, scored bool) string {
	var sb strings.Builder
	for i, it := range items {
		if scored {
			fmt.Fprintf(&sb, "Result %d (Score: %.2f):\n", i+1, it.Score)
		} else {
			fmt.Fprintf(&sb, "Passage %d:\n", i+1)
		}
		fmt.Fprintf(&sb, "Book: %s (document_id %d, sentences %d-%d)\n", it.DocumentTitle, it.DocumentID, it.StartIndex, it.EndIndex)
		if len(it.Themes) > 0 {
			fmt.Fprintf(&sb, "Themes: %s\n", strings.Join(it.Themes, ", "))
		}
		fmt.Fprintf(&sb, "Snippet: %s\n", it.SnippetText)
		if it.Context != "" {
			fmt.Fprintf(&sb, "Context: %s\n", it.Context)
		}
		sb.WriteString("\n---\n")
	}
	return sb.String()
}

func makeErrorResponse(id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

// ServeHTTP answers a single JSON-RPC request in the response body.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slog.InfoContext(ctx, "mcp request received", "method", r.Method, "path", r.URL.Path)

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		// JSON-RPC errors travel with 200 OK
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(makeErrorResponse(nil, ErrParse, "Parse error"))
		return
	}

	resp := h.processRequest(ctx, req)
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleSSE opens an event stream. The first event names the endpoint the
// client posts its messages to; responses come back on this stream.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sessionID := uuid.New().String()
	msgChan := make(chan string, sessionBuffer)

	h.sessionsLock.Lock()
	h.sessions[sessionID] = msgChan
	h.sessionsLock.Unlock()

	defer func() {
		h.sessionsLock.Lock()
		delete(h.sessions, sessionID)
		close(msgChan)
		h.sessionsLock.Unlock()
		slog.Info("sse session ended", "session_id", sessionID)
	}()

	slog.Info("sse session started", "session_id", sessionID)

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", html.EscapeString(endpoint))
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleMessage accepts a JSON-RPC message for an open SSE session and
// answers 202 immediately; the response is delivered on the stream.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		h.writeHTTPError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId", correlationID)
		return
	}

	h.sessionsLock.RLock()
	_, exists := h.sessions[sessionID]
	h.sessionsLock.RUnlock()
	if !exists {
		slog.WarnContext(ctx, "session not found", "session_id", sessionID)
		h.writeHTTPError(w, http.StatusNotFound, "NOT_FOUND", "Session not found", correlationID)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeHTTPError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON", correlationID)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	// keep the correlation id, drop the request's cancellation
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		resp := h.processRequest(bgCtx, req)
		if resp == nil {
			return
		}
		b, err := json.Marshal(resp)
		if err != nil {
			slog.ErrorContext(bgCtx, "failed to marshal response", "error", err)
			return
		}
		h.deliver(bgCtx, sessionID, string(b))
	}()
}

// deliver holds the read lock while sending, so the stream cannot close the
// channel underneath it.
func (h *Handler) deliver(ctx context.Context, sessionID, msg string) {
	h.sessionsLock.RLock()
	defer h.sessionsLock.RUnlock()

	msgChan, ok := h.sessions[sessionID]
	if !ok {
		slog.WarnContext(ctx, "session closed before response", "session_id", sessionID)
		return
	}
	select {
	case msgChan <- msg:
	default:
		slog.WarnContext(ctx, "session channel full, dropping message", "session_id", sessionID)
	}
}

func (h *Handler) writeHTTPError(w http.ResponseWriter, status int, code, message, correlationID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": correlationID,
	})
}
