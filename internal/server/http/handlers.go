package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/helixir/paper-search-service/internal/domain"
)

// Request validation constants.
const (
	minQueryLength     = 2
	maxQueryLength     = 500
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

var validate = validator.New()

// searchFiltersRequest narrows the search. Zero values mean "no filter".
type searchFiltersRequest struct {
	YearFrom       int    `json:"yearFrom,omitempty" validate:"omitempty,min=1000,max=2100"`
	YearTo         int    `json:"yearTo,omitempty" validate:"omitempty,min=1000,max=2100"`
	StudyType      string `json:"studyType,omitempty" validate:"omitempty,max=100"`
	OpenAccessOnly bool   `json:"openAccessOnly,omitempty"`
	HumanOnly      bool   `json:"humanOnly,omitempty"`
}

// searchRequest is the JSON request body for a federated paper search.
type searchRequest struct {
	Query   string               `json:"query" validate:"required,min=2,max=500"`
	Filters searchFiltersRequest `json:"filters"`
	Sort    string               `json:"sort,omitempty" validate:"omitempty,oneof=relevance newest citations"`
	Page    int                  `json:"page,omitempty" validate:"omitempty,min=1,max=1000"`
}

// handleSearch handles POST /api/v1/search. It fans the query out to every
// enabled paper source and returns the merged, sorted result set. Upstream
// source failures degrade to per-source status entries in a 200 response.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req searchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	if req.Filters.YearFrom > 0 && req.Filters.YearTo > 0 && req.Filters.YearFrom > req.Filters.YearTo {
		writeError(w, http.StatusBadRequest, "yearFrom must not exceed yearTo")
		return
	}

	response, err := s.search.Search(ctx, domain.SearchRequest{
		Query: req.Query,
		Filters: domain.SearchFilters{
			YearFrom:       req.Filters.YearFrom,
			YearTo:         req.Filters.YearTo,
			StudyType:      req.Filters.StudyType,
			OpenAccessOnly: req.Filters.OpenAccessOnly,
			HumanOnly:      req.Filters.HumanOnly,
		},
		Sort:     domain.SortMode(req.Sort),
		Page:     req.Page,
		ClientID: clientIDFromContext(ctx),
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("search failed")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// validationMessage converts a validator error into a client-safe message
// naming the first offending field. Raw input values are never echoed back.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}

	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
