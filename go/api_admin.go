package catalogserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	aspectshttpmapper "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/adapters/http/mapper"
	aspectsdomain "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	aspectsports "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
	propagationhttpmapper "github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/adapters/http/mapper"
	propagationports "github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/ports"
	apierrors "github.com/Apurer/go-catalog-pipeline/internal/shared/errors"
)

// AdminAPI is the operator surface. Every call needs an ADMIN token.
type AdminAPI struct {
	admin    propagationports.Admin
	service  aspectsports.Service
	verifier aspectsports.ActorVerifier
	now      func() time.Time
}

// NewAdminAPI wires the dispatcher admin and the outbox summary.
func NewAdminAPI(admin propagationports.Admin, service aspectsports.Service, verifier aspectsports.ActorVerifier) AdminAPI {
	return AdminAPI{admin: admin, service: service, verifier: verifier, now: time.Now}
}

// Get /v1/admin/deadletters
// List dead letters, optionally for one group
func (api *AdminAPI) ListDeadLetters(c *gin.Context) {
	if !api.authorize(c) {
		return
	}
	letters, err := api.admin.DeadLetters(c.Request.Context(), c.Query("group"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, propagationhttpmapper.FromDeadLetters(letters))
}

// Post /v1/admin/deadletters/:id/replay
// Re-inject a dead letter into its group
func (api *AdminAPI) ReplayDeadLetter(c *gin.Context) {
	if !api.authorize(c) {
		return
	}
	letter, err := api.admin.Replay(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, propagationhttpmapper.FromDeadLetter(*letter))
}

// Get /v1/admin/lag
// Head minus checkpoint per group and partition
func (api *AdminAPI) GetLag(c *gin.Context) {
	if !api.authorize(c) {
		return
	}
	lag, err := api.admin.Lag(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, propagationhttpmapper.FromLag(lag))
}

// Get /v1/admin/outbox
// Events committed but not yet published
func (api *AdminAPI) GetOutboxSummary(c *gin.Context) {
	if !api.authorize(c) {
		return
	}
	summary, err := api.service.OutboxSummary(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, aspectshttpmapper.FromOutboxSummary(summary, api.now()))
}

func (api *AdminAPI) authorize(c *gin.Context) bool {
	actor, ok := authenticate(c, api.verifier)
	if !ok {
		return false
	}
	if !actor.Has(aspectsdomain.PrivilegeAdmin) {
		responder.Respond(c, apierrors.ErrForbidden.WithDetail(actor.Actor+" lacks ADMIN"))
		return false
	}
	return true
}
