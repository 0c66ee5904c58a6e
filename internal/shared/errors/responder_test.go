package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStale = stderrors.New("stale")

func TestResponderUsesMappersInOrder(t *testing.T) {
	gin.SetMode(gin.TestMode)
	responder := NewResponder("https://catalog.example",
		func(err error) (ProblemDetail, bool) {
			if stderrors.Is(err, errStale) {
				return ErrConflict.WithDetail(err.Error()).WithReason("Conflict"), true
			}
			return ProblemDetail{}, false
		},
	)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/proposals", nil)
	responder.RespondError(c, errStale)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, ContentTypeProblemJSON, rec.Header().Get("Content-Type"))
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "https://catalog.example"+TypeConflict, body.Type)
	assert.Equal(t, "Conflict", body.Reason)
	assert.Equal(t, "/v1/proposals", body.Instance)
}

func TestResponderFallsBackToInternal(t *testing.T) {
	responder := NewResponder("")
	problem := responder.Problem(stderrors.New("disk on fire"))
	assert.Equal(t, http.StatusInternalServerError, problem.Status)
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromError(stderrors.New("x")))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatusFromError(ErrUnavailable))
}

func TestWithExtensionDoesNotMutateTemplate(t *testing.T) {
	problem := NewNotYetConsistentProblem("aspect-cache", 2, 3)
	assert.Equal(t, http.StatusAccepted, problem.Status)
	assert.Equal(t, int64(3), problem.Extensions["minVersion"])
	assert.Nil(t, ErrNotYetConsistent.Extensions)
}
