package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bookscroll/features/document"
	"bookscroll/features/snippet"
	"bookscroll/internal/retrieval"
)

type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Search(ctx context.Context, query string, opts *retrieval.SearchOptions) ([]snippet.Item, error) {
	args := m.Called(ctx, query, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]snippet.Item), args.Error(1)
}

func (m *MockRetriever) Sample(ctx context.Context, scope snippet.Scope, n int) ([]snippet.Item, error) {
	args := m.Called(ctx, scope, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]snippet.Item), args.Error(1)
}

type MockLibrary struct {
	mock.Mock
}

func (m *MockLibrary) List(ctx context.Context) ([]document.Document, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]document.Document), args.Error(1)
}

func (m *MockLibrary) Sentences(ctx context.Context, id int64, from, to int) (*document.SentenceWindow, error) {
	args := m.Called(ctx, id, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*document.SentenceWindow), args.Error(1)
}

func call(t *testing.T, h *Handler, tool string, args string) *JSONRPCResponse {
	t.Helper()
	params, err := json.Marshal(map[string]interface{}{"name": tool, "arguments": json.RawMessage(args)})
	require.NoError(t, err)
	return h.processRequest(context.Background(), JSONRPCRequest{JSONRPC: "2.0", Method: "tools/call", Params: params, ID: 1})
}

func resultText(t *testing.T, resp *JSONRPCResponse) string {
	t.Helper()
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	res, ok := resp.Result.(ToolResult)
	require.True(t, ok, "result should be a ToolResult")
	require.Len(t, res.Content, 1)
	return res.Content[0].Text
}

func errorCode(t *testing.T, resp *JSONRPCResponse) int {
	t.Helper()
	require.NotNil(t, resp)
	e, ok := resp.Error.(map[string]interface{})
	require.True(t, ok, "expected a JSON-RPC error")
	return e["code"].(int)
}

var sampleItem = snippet.Item{
	Snippet: snippet.Snippet{
		ID:          3,
		DocumentID:  7,
		StartIndex:  12,
		EndIndex:    14,
		SnippetText: "Attention is the rarest form of generosity.",
		Context:     "On attention",
		Themes:      []string{"attention", "love"},
	},
	DocumentTitle: "Gravity and Grace",
	Score:         0.83,
}

func TestProcessRequest_Protocol(t *testing.T) {
	h := NewHandler(new(MockRetriever), new(MockLibrary))
	ctx := context.Background()

	initResp := h.processRequest(ctx, JSONRPCRequest{JSONRPC: "2.0", Method: "initialize", ID: 1})
	require.NotNil(t, initResp)
	result := initResp.Result.(map[string]interface{})
	assert.Equal(t, protocolVersion, result["protocolVersion"])

	assert.Nil(t, h.processRequest(ctx, JSONRPCRequest{JSONRPC: "2.0", Method: "notifications/initialized"}))

	list := h.processRequest(ctx, JSONRPCRequest{JSONRPC: "2.0", Method: "tools/list", ID: 2})
	require.NotNil(t, list)
	var names []string
	for _, tool := range list.Result.(ListToolsResult).Tools {
		names = append(names, tool.Name)
		_, registered := h.tools[tool.Name]
		assert.True(t, registered, "%s is listed but not registered", tool.Name)
	}
	assert.ElementsMatch(t, []string{"bookscroll_search", "bookscroll_random", "bookscroll_list_documents", "bookscroll_read_passage"}, names)

	unknown := h.processRequest(ctx, JSONRPCRequest{JSONRPC: "2.0", Method: "resources/list", ID: 3})
	assert.Equal(t, ErrMethodNotFound, errorCode(t, unknown))
}

func TestCallTool_Search(t *testing.T) {
	retriever := new(MockRetriever)
	h := NewHandler(retriever, new(MockLibrary))

	retriever.On("Search", mock.Anything, "attention", mock.MatchedBy(func(o *retrieval.SearchOptions) bool {
		return o.SemanticWeight != nil && *o.SemanticWeight == 0.3 &&
			o.Limit != nil && *o.Limit == 5 && o.DocumentID == 7
	})).Return([]snippet.Item{sampleItem}, nil).Once()

	text := resultText(t, call(t, h, "bookscroll_search", `{"query":"attention","semantic_weight":0.3,"limit":5,"document_id":7}`))
	assert.Contains(t, text, "Result 1 (Score: 0.83)")
	assert.Contains(t, text, "Gravity and Grace (document_id 7, sentences 12-14)")
	assert.Contains(t, text, "Themes: attention, love")
	assert.Contains(t, text, "bookscroll_read_passage")
	retriever.AssertExpectations(t)
}

func TestCallTool_SearchValidation(t *testing.T) {
	h := NewHandler(new(MockRetriever), new(MockLibrary))

	tests := []struct {
		name string
		args string
	}{
		{"MissingQuery", `{}`},
		{"BlankQuery", `{"query":"   "}`},
		{"WeightTooHigh", `{"query":"x","semantic_weight":1.5}`},
		{"ZeroLimit", `{"query":"x","limit":0}`},
		{"NotAnObject", `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, ErrInvalidParams, errorCode(t, call(t, h, "bookscroll_search", tt.args)))
		})
	}
}

func TestCallTool_SearchEmptyAndFailure(t *testing.T) {
	retriever := new(MockRetriever)
	h := NewHandler(retriever, new(MockLibrary))

	retriever.On("Search", mock.Anything, "nothing", mock.Anything).Return([]snippet.Item{}, nil).Once()
	assert.Equal(t, "No passages found.", resultText(t, call(t, h, "bookscroll_search", `{"query":"nothing"}`)))

	retriever.On("Search", mock.Anything, "boom", mock.Anything).Return(nil, errors.New("db down")).Once()
	resp := call(t, h, "bookscroll_search", `{"query":"boom"}`)
	res := resp.Result.(ToolResult)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "db down")
}

func TestCallTool_Random(t *testing.T) {
	retriever := new(MockRetriever)
	h := NewHandler(retriever, new(MockLibrary))

	retriever.On("Sample", mock.Anything, snippet.Scope{Theme: "love"}, 5).Return([]snippet.Item{sampleItem}, nil).Once()

	text := resultText(t, call(t, h, "bookscroll_random", `{"theme":"love"}`))
	assert.Contains(t, text, "Passage 1:")
	assert.NotContains(t, text, "Score")
	retriever.AssertExpectations(t)
}

func TestCallTool_ListDocuments(t *testing.T) {
	library := new(MockLibrary)
	h := NewHandler(new(MockRetriever), library)

	library.On("List", mock.Anything).Return([]document.Document{
		{ID: 1, Title: "Meditations", Author: "Marcus Aurelius", Status: document.StatusCompleted},
	}, nil).Once()

	text := resultText(t, call(t, h, "bookscroll_list_documents", `{}`))
	var docs []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "Meditations", docs[0]["title"])
	assert.Equal(t, "completed", docs[0]["status"])

	library.On("List", mock.Anything).Return([]document.Document{}, nil).Once()
	assert.Equal(t, "No documents found.", resultText(t, call(t, h, "bookscroll_list_documents", `{}`)))
}

func TestCallTool_ReadPassage(t *testing.T) {
	library := new(MockLibrary)
	h := NewHandler(new(MockRetriever), library)

	library.On("Sentences", mock.Anything, int64(7), 14, 12).Return(&document.SentenceWindow{
		From:             12,
		To:               14,
		Text:             "Attention is the rarest and purest form of generosity.",
		PreviousSentence: "We must learn to look.",
		Title:            "Gravity and Grace",
		Author:           "Simone Weil",
	}, nil).Once()

	text := resultText(t, call(t, h, "bookscroll_read_passage", `{"document_id":7,"from":14,"to":12}`))
	assert.True(t, strings.HasPrefix(text, "Gravity and Grace by Simone Weil\nSentences 12-14"))
	assert.Contains(t, text, "[before] We must learn to look.")
	assert.NotContains(t, text, "[after]")

	assert.Equal(t, ErrInvalidParams, errorCode(t, call(t, h, "bookscroll_read_passage", `{"document_id":7,"from":1}`)))
	library.AssertExpectations(t)
}

func TestCallTool_Unknown(t *testing.T) {
	h := NewHandler(new(MockRetriever), new(MockLibrary))
	assert.Equal(t, ErrMethodNotFound, errorCode(t, call(t, h, "library_search", `{}`)))

	resp := h.processRequest(context.Background(), JSONRPCRequest{JSONRPC: "2.0", Method: "tools/call", Params: json.RawMessage(`"x"`), ID: 9})
	assert.Equal(t, ErrInvalidParams, errorCode(t, resp))
}

func TestServeHTTP(t *testing.T) {
	h := NewHandler(new(MockRetriever), new(MockLibrary))

	t.Run("ParseError", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("POST", "/mcp", strings.NewReader("{")))
		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.EqualValues(t, ErrParse, resp["error"].(map[string]interface{})["code"])
	})

	t.Run("Notification", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("POST", "/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Body.String())
	})

	t.Run("ToolsList", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("POST", "/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"tools/list","id":1}`)))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "bookscroll_search")
	})
}

func TestHandleMessage_Validation(t *testing.T) {
	h := NewHandler(new(MockRetriever), new(MockLibrary))

	w := httptest.NewRecorder()
	h.HandleMessage(w, httptest.NewRequest("POST", "/mcp/messages", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")

	w = httptest.NewRecorder()
	h.HandleMessage(w, httptest.NewRequest("POST", "/mcp/messages?sessionId=missing", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSSE_RoundTrip(t *testing.T) {
	h := NewHandler(new(MockRetriever), new(MockLibrary))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /mcp/sse", h.HandleSSE)
	mux.HandleFunc("POST /mcp/messages", h.HandleMessage)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/mcp/sse", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := bufio.NewScanner(resp.Body)
	dataAfter := func(event string) string {
		for events.Scan() {
			if events.Text() == "event: "+event {
				require.True(t, events.Scan())
				return strings.TrimPrefix(events.Text(), "data: ")
			}
		}
		t.Fatalf("stream ended before %s event", event)
		return ""
	}

	endpoint := strings.ReplaceAll(dataAfter("endpoint"), "&amp;", "&")
	require.Contains(t, endpoint, "/mcp/messages?sessionId=")

	post, err := http.Post(endpoint, "application/json", bytes.NewBufferString(`{"jsonrpc":"2.0","method":"tools/list","id":42}`))
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusAccepted, post.StatusCode)

	var msg JSONRPCResponse
	require.NoError(t, json.Unmarshal([]byte(dataAfter("message")), &msg))
	assert.EqualValues(t, 42, msg.ID)
	assert.NotNil(t, msg.Result)
}
