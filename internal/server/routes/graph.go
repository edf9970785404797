package routes

import (
	"cmp"
	"maps"
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/graph"
)

func GetGraphHandler(c echo.Context) error {
	idx, err := collectionIndexer(c)
	if err != nil {
		return failure(c, err)
	}
	return c.JSON(http.StatusOK, idx.Graph().Export())
}

// GetCentralityHandler lists nodes by betweenness, then degree. The
// optional "type" query parameter filters by entity type.
func GetCentralityHandler(c echo.Context) error {
	type centralityEntry struct {
		Key string `json:"key"`
		graph.Centrality
	}

	idx, err := collectionIndexer(c)
	if err != nil {
		return failure(c, err)
	}
	typ := common.EntityType(c.QueryParam("type"))
	metrics := idx.Graph().CentralityMetrics()

	out := make([]centralityEntry, 0, len(metrics))
	for _, key := range slices.Sorted(maps.Keys(metrics)) {
		m := metrics[key]
		if typ != "" && m.Type != typ {
			continue
		}
		out = append(out, centralityEntry{Key: key, Centrality: m})
	}
	slices.SortStableFunc(out, func(a, b centralityEntry) int {
		if d := cmp.Compare(b.Betweenness, a.Betweenness); d != 0 {
			return d
		}
		return cmp.Compare(b.Degree, a.Degree)
	})
	return c.JSON(http.StatusOK, out)
}

func GetInteractionsHandler(c echo.Context) error {
	idx, err := collectionIndexer(c)
	if err != nil {
		return failure(c, err)
	}
	edges := idx.Graph().CharacterInteractions(param(c, "name"))
	if edges == nil {
		edges = []common.GraphEdge{}
	}
	return c.JSON(http.StatusOK, edges)
}

func GetLocationsHandler(c echo.Context) error {
	idx, err := collectionIndexer(c)
	if err != nil {
		return failure(c, err)
	}
	locs := idx.Graph().CharacterLocations(param(c, "name"))
	if locs == nil {
		locs = []graph.LocationRef{}
	}
	return c.JSON(http.StatusOK, locs)
}

func GetEventsHandler(c echo.Context) error {
	idx, err := collectionIndexer(c)
	if err != nil {
		return failure(c, err)
	}
	events := idx.Graph().PlotEvents()
	if events == nil {
		events = []graph.PlotEvent{}
	}
	return c.JSON(http.StatusOK, events)
}
