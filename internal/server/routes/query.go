package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/quill/pkg/indexer"
)

func PostFeedbackHandler(c echo.Context) error {
	data := new(indexer.FeedbackRequest)
	if err := bindBody(c, data); err != nil {
		return badRequest(c, err)
	}
	idx, err := collectionIndexer(c)
	if err != nil {
		return failure(c, err)
	}
	res, err := idx.ContextualFeedback(c.Request().Context(), *data)
	if err != nil {
		return failure(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func PostConsistencyHandler(c echo.Context) error {
	data := new(indexer.ConsistencyRequest)
	if err := bindBody(c, data); err != nil {
		return badRequest(c, err)
	}
	idx, err := collectionIndexer(c)
	if err != nil {
		return failure(c, err)
	}
	res, err := idx.CheckConsistency(c.Request().Context(), *data)
	if err != nil {
		return failure(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func PostSuggestionsHandler(c echo.Context) error {
	data := new(indexer.SuggestionRequest)
	if err := bindBody(c, data); err != nil {
		return badRequest(c, err)
	}
	idx, err := collectionIndexer(c)
	if err != nil {
		return failure(c, err)
	}
	res, err := idx.WritingSuggestions(c.Request().Context(), *data)
	if err != nil {
		return failure(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// PostSearchHandler answers with 200 even when a source was unavailable;
// the response then carries "error": true.
func PostSearchHandler(c echo.Context) error {
	data := new(indexer.SearchRequest)
	if err := bindBody(c, data); err != nil {
		return badRequest(c, err)
	}
	idx, err := collectionIndexer(c)
	if err != nil {
		return failure(c, err)
	}
	res, err := idx.Search(c.Request().Context(), *data)
	if err != nil {
		return failure(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func GetCollectionHealthHandler(c echo.Context) error {
	idx, err := collectionIndexer(c)
	if err != nil {
		return failure(c, err)
	}
	return c.JSON(http.StatusOK, idx.Health(c.Request().Context()))
}

// GetHealthHandler reports the service and every loaded collection.
func GetHealthHandler(c echo.Context) error {
	type healthResponse struct {
		Status      string           `json:"status"`
		Collections []indexer.Health `json:"collections"`
	}

	reg := appOf(c).Registry
	res := healthResponse{Status: "ok", Collections: []indexer.Health{}}
	for _, name := range reg.Collections() {
		idx, err := reg.Get(name)
		if err != nil {
			continue
		}
		h := idx.Health(c.Request().Context())
		if h.Status != "ok" {
			res.Status = h.Status
		}
		res.Collections = append(res.Collections, h)
	}
	return c.JSON(http.StatusOK, res)
}
