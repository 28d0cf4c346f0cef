package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/dd0wney/cluso-collab/pkg/logging"
)

// GraphQLRequest represents a GraphQL HTTP request
type GraphQLRequest struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// GraphQLResponse represents a GraphQL HTTP response
type GraphQLResponse struct {
	Data   any            `json:"data,omitempty"`
	Errors []GraphQLError `json:"errors,omitempty"`
}

// GraphQLError represents a GraphQL error
type GraphQLError struct {
	Message string `json:"message"`
}

// Handler serves /admin/graphql and /admin/state
type Handler struct {
	src     Sources
	schema  graphql.Schema
	logger  logging.Logger
	timeout time.Duration
	mux     *http.ServeMux
}

// NewHandler builds the admin endpoints
func NewHandler(src Sources, logger logging.Logger) (*Handler, error) {
	schema, err := NewSchema(src)
	if err != nil {
		return nil, err
	}
	h := &Handler{
		src:     src,
		schema:  schema,
		logger:  logging.OrNop(logger).With(logging.Component("admin")),
		timeout: 5 * time.Second,
		mux:     http.NewServeMux(),
	}
	h.mux.HandleFunc("/admin/graphql", h.serveGraphQL)
	h.mux.HandleFunc("/admin/state", h.serveState)
	return h, nil
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Execute runs a query against the admin schema
func (h *Handler) Execute(ctx context.Context, req GraphQLRequest) GraphQLResponse {
	result := graphql.Do(graphql.Params{
		Schema:         h.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        ctx,
	})

	response := GraphQLResponse{Data: result.Data}
	for _, err := range result.Errors {
		response.Errors = append(response.Errors, GraphQLError{Message: err.Message})
	}
	return response
}

func (h *Handler) serveGraphQL(w http.ResponseWriter, r *http.Request) {
	var req GraphQLRequest
	switch r.Method {
	case http.MethodGet:
		req.Query = r.URL.Query().Get("query")
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if req.Query == "" {
		http.Error(w, "Missing query", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	writeJSON(w, http.StatusOK, h.Execute(ctx, req))
}

func (h *Handler) serveState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	st, err := h.src.Collect(ctx)
	if err != nil {
		h.logger.Warn("claims unavailable for admin state", logging.Error(err))
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
