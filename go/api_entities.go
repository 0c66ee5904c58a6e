package catalogserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	aspectshttpmapper "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/adapters/http/mapper"
	aspectsdomain "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	aspectsports "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
	viewshttpmapper "github.com/Apurer/go-catalog-pipeline/internal/domains/views/adapters/http/mapper"
	viewsdomain "github.com/Apurer/go-catalog-pipeline/internal/domains/views/domain"
	viewsports "github.com/Apurer/go-catalog-pipeline/internal/domains/views/ports"
	apierrors "github.com/Apurer/go-catalog-pipeline/internal/shared/errors"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
	maxWait            = 30 * time.Second
)

// EntityAPI serves materialized views and the version history.
type EntityAPI struct {
	service aspectsports.Service
	reader  viewsports.Reader
}

// NewEntityAPI wires the read path.
func NewEntityAPI(service aspectsports.Service, reader viewsports.Reader) EntityAPI {
	return EntityAPI{service: service, reader: reader}
}

// Get /v1/entities/:urn/aspects/:aspect
// Read an aspect from a materialized view. ?minVersion makes the read answer
// 202 until the view applied that version; ?wait=2s blocks up to the given
// duration first.
func (api *EntityAPI) GetAspect(c *gin.Context) {
	key, ok := parseAspectKey(c)
	if !ok {
		return
	}
	view := c.DefaultQuery("view", viewsdomain.ViewAspectCache)
	var minVersion *int64
	if raw := c.Query("minVersion"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			respondBadRequest(c, fmt.Errorf("minVersion must be a non-negative integer"))
			return
		}
		minVersion = &v
	}
	ctx := c.Request.Context()
	if raw := c.Query("wait"); raw != "" && minVersion != nil {
		wait, err := time.ParseDuration(raw)
		if err != nil || wait <= 0 {
			respondBadRequest(c, fmt.Errorf("wait must be a positive duration"))
			return
		}
		if wait > maxWait {
			wait = maxWait
		}
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		_, _ = api.reader.WaitForVersion(waitCtx, view, key, *minVersion)
		cancel()
	}
	doc, err := api.reader.Document(ctx, view, key, minVersion)
	if errors.Is(err, viewsdomain.ErrNotYetConsistent) {
		var applied int64 = -1
		if av, avErr := api.reader.AppliedVersion(ctx, view, key); avErr == nil && av != nil {
			applied = av.Version
		}
		responder.Respond(c, apierrors.NewNotYetConsistentProblem(view, applied, *minVersion))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewshttpmapper.FromDocument(view, doc))
}

// Get /v1/entities/:urn/aspects/:aspect/versions
// List every stored version, oldest first
func (api *EntityAPI) ListVersions(c *gin.Context) {
	key, ok := parseAspectKey(c)
	if !ok {
		return
	}
	history, err := api.service.History(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, aspectshttpmapper.FromHistory(history))
}

// Get /v1/entities/:urn/aspects/:aspect/versions/:version
// Fetch one stored version
func (api *EntityAPI) GetVersion(c *gin.Context) {
	key, ok := parseAspectKey(c)
	if !ok {
		return
	}
	version, err := strconv.ParseInt(c.Param("version"), 10, 64)
	if err != nil || version < 0 {
		respondBadRequest(c, fmt.Errorf("version must be a non-negative integer"))
		return
	}
	stored, err := api.service.GetVersion(c.Request.Context(), key, version)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, aspectshttpmapper.FromVersionedAspect(stored))
}

// Get /v1/entities/:urn/edges
// Relationships of an entity from the graph-index view
func (api *EntityAPI) ListEdges(c *gin.Context) {
	urn, err := aspectsdomain.ParseEntityUrn(c.Param("urn"))
	if err != nil {
		respondError(c, err)
		return
	}
	edges, err := api.reader.Edges(c.Request.Context(), urn)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewshttpmapper.FromEdges(edges))
}

// Get /v1/search
// Full text query over the search-index view
func (api *EntityAPI) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		respondBadRequest(c, fmt.Errorf("q is required"))
		return
	}
	limit := defaultSearchLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondBadRequest(c, fmt.Errorf("limit must be a positive integer"))
			return
		}
		limit = min(parsed, maxSearchLimit)
	}
	docs, err := api.reader.Search(c.Request.Context(), query, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewshttpmapper.FromSearch(query, docs))
}

func parseAspectKey(c *gin.Context) (aspectsdomain.AspectKey, bool) {
	urn, err := aspectsdomain.ParseEntityUrn(c.Param("urn"))
	if err != nil {
		respondError(c, err)
		return aspectsdomain.AspectKey{}, false
	}
	aspect := strings.TrimSpace(c.Param("aspect"))
	if aspect == "" {
		respondBadRequest(c, aspectsdomain.ErrEmptyAspectName)
		return aspectsdomain.AspectKey{}, false
	}
	return aspectsdomain.AspectKey{EntityUrn: urn, AspectName: aspect}, true
}
