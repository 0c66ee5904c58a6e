package catalogserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Route is the information for every URI.
type Route struct {
	// Name is the name of this Route.
	Name string
	// Method is the string for the HTTP method. ex) GET, POST etc..
	Method string
	// Pattern is the pattern of the URI.
	Pattern string
	// HandlerFunc is the handler function of this route.
	HandlerFunc gin.HandlerFunc
}

// ApiHandleFunctions groups the handlers of every API section.
type ApiHandleFunctions struct {
	ProposalAPI ProposalAPI
	EntityAPI   EntityAPI
	AdminAPI    AdminAPI
	// Metrics serves the Prometheus scrape endpoint. Nil disables /metrics.
	Metrics http.Handler
}

// NewRouter returns a new router.
func NewRouter(handleFunctions ApiHandleFunctions) *gin.Engine {
	return NewRouterWithGinEngine(gin.Default(), handleFunctions)
}

// NewRouterWithGinEngine adds the catalog routes to an existing engine.
func NewRouterWithGinEngine(router *gin.Engine, handleFunctions ApiHandleFunctions) *gin.Engine {
	for _, route := range getRoutes(handleFunctions) {
		if route.HandlerFunc == nil {
			route.HandlerFunc = DefaultHandleFunc
		}
		switch route.Method {
		case http.MethodGet:
			router.GET(route.Pattern, route.HandlerFunc)
		case http.MethodPost:
			router.POST(route.Pattern, route.HandlerFunc)
		}
	}
	if handleFunctions.Metrics != nil {
		router.GET("/metrics", gin.WrapH(handleFunctions.Metrics))
	}
	return router
}

// DefaultHandleFunc answers routes whose handler is not wired.
func DefaultHandleFunc(c *gin.Context) {
	c.String(http.StatusNotImplemented, "501 not implemented")
}

func getRoutes(handleFunctions ApiHandleFunctions) []Route {
	proposals := handleFunctions.ProposalAPI
	entities := handleFunctions.EntityAPI
	admin := handleFunctions.AdminAPI
	return []Route{
		{"SubmitProposal", http.MethodPost, "/v1/proposals", proposals.SubmitProposal},
		{"GetAspect", http.MethodGet, "/v1/entities/:urn/aspects/:aspect", entities.GetAspect},
		{"ListAspectVersions", http.MethodGet, "/v1/entities/:urn/aspects/:aspect/versions", entities.ListVersions},
		{"GetAspectVersion", http.MethodGet, "/v1/entities/:urn/aspects/:aspect/versions/:version", entities.GetVersion},
		{"ListEdges", http.MethodGet, "/v1/entities/:urn/edges", entities.ListEdges},
		{"Search", http.MethodGet, "/v1/search", entities.Search},
		{"ListDeadLetters", http.MethodGet, "/v1/admin/deadletters", admin.ListDeadLetters},
		{"ReplayDeadLetter", http.MethodPost, "/v1/admin/deadletters/:id/replay", admin.ReplayDeadLetter},
		{"GetLag", http.MethodGet, "/v1/admin/lag", admin.GetLag},
		{"GetOutboxSummary", http.MethodGet, "/v1/admin/outbox", admin.GetOutboxSummary},
	}
}
