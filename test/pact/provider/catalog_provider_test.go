//go:build pact
// +build pact

package provider_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	pacttest "github.com/Apurer/go-catalog-pipeline/test/pact"

	catalogserver "github.com/Apurer/go-catalog-pipeline/go"
	aspectmemory "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/adapters/memory"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/adapters/policy"
	aspectapp "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application"
	aspectsdomain "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	propagationmemory "github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/adapters/memory"
	propagationapp "github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/application"
	propagationdomain "github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
	propagationports "github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/ports"
	viewsdomain "github.com/Apurer/go-catalog-pipeline/internal/domains/views/domain"

	"github.com/gin-gonic/gin"
	"github.com/pact-foundation/pact-go/v2/models"
	pactprovider "github.com/pact-foundation/pact-go/v2/provider"
	"github.com/stretchr/testify/require"
)

func TestCatalogProviderPact(t *testing.T) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	app := newContractProviderApp(t)
	pactFile := filepath.ToSlash(pacttest.PactFile(t))
	if _, err := os.Stat(pactFile); errors.Is(err, os.ErrNotExist) {
		t.Fatalf("pact file not found at %s - run the pact consumer tests first", pactFile)
	} else {
		require.NoError(t, err)
	}

	verifier := pactprovider.NewVerifier()
	stateHandlers := models.StateHandlers{
		pacttest.StateNoDeadLetters: func(setup bool, _ models.ProviderState) (models.ProviderStateResponse, error) {
			app.reset(t)
			return nil, nil
		},
		pacttest.StateDeadLetterExists: func(setup bool, _ models.ProviderState) (models.ProviderStateResponse, error) {
			app.reset(t)
			if setup {
				app.seedDeadLetter(t)
			}
			return nil, nil
		},
		pacttest.StateDeadLetterGone: func(setup bool, _ models.ProviderState) (models.ProviderStateResponse, error) {
			app.reset(t)
			return nil, nil
		},
	}

	err := verifier.VerifyProvider(t, pactprovider.VerifyRequest{
		ProviderBaseURL: app.server.URL,
		Provider:        pacttest.ProviderName,
		PactFiles:       []string{pactFile},
		StateHandlers:   stateHandlers,
		BeforeEach: func() error {
			app.reset(t)
			return nil
		},
	})
	require.NoError(t, err)
}

// tokenVerifier accepts the pact admin token only.
type tokenVerifier struct{}

func (tokenVerifier) Verify(_ context.Context, token string) (aspectsdomain.ActorContext, error) {
	if token != pacttest.AdminToken {
		return aspectsdomain.ActorContext{}, errors.New("unknown token")
	}
	return aspectsdomain.ActorContext{Actor: "corpuser:pact", Privileges: []aspectsdomain.Privilege{aspectsdomain.PrivilegeAdmin}}, nil
}

type contractProviderApp struct {
	deadLetters *propagationmemory.DeadLetterStore
	server      *httptest.Server
}

func newContractProviderApp(t testing.TB) *contractProviderApp {
	t.Helper()

	store := aspectmemory.NewAspectStore()
	schemas := aspectapp.DefaultSchemaRegistry()
	service := aspectapp.NewService(store, aspectapp.NewValidator(schemas, policy.Default()),
		aspectapp.NewEngine(store, schemas), aspectmemory.NewIdempotencyStore())

	log := propagationmemory.NewEventLog(2)
	checkpoints := propagationmemory.NewCheckpointStore()
	deadLetterStore := propagationmemory.NewDeadLetterStore()
	deadLetters := propagationapp.NewDeadLetterHandler(deadLetterStore, nil)

	group, err := propagationapp.NewConsumerGroup(propagationapp.GroupConfig{
		Name:    viewsdomain.ViewGraph,
		Handler: propagationports.HandlerFunc(func(context.Context, propagationdomain.LogRecord) error { return nil }),
	}, log, checkpoints, deadLetters)
	require.NoError(t, err)
	dispatcher, err := propagationapp.NewDispatcher(nil, group)
	require.NoError(t, err)

	verifier := tokenVerifier{}
	handlers := catalogserver.ApiHandleFunctions{
		ProposalAPI: catalogserver.NewProposalAPI(service, nil, verifier),
		EntityAPI:   catalogserver.NewEntityAPI(service, nil),
		AdminAPI:    catalogserver.NewAdminAPI(propagationapp.NewAdmin(dispatcher, log, checkpoints, deadLetters), service, verifier),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router = catalogserver.NewRouterWithGinEngine(router, handlers)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &contractProviderApp{deadLetters: deadLetterStore, server: server}
}

func (a *contractProviderApp) reset(t testing.TB) {
	t.Helper()
	a.deadLetters.Reset()
}

func (a *contractProviderApp) seedDeadLetter(t testing.TB) {
	t.Helper()
	previous := int64(1)
	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	letter := propagationdomain.DeadLetter{
		ID:    pacttest.DeadLetterID,
		Group: pacttest.DeadLetterGroup,
		Record: propagationdomain.LogRecord{
			Partition: 0,
			Offset:    3,
			Key:       pacttest.DeadLetterUrn,
			Event: aspectsdomain.AuditEvent{
				ID:              pacttest.DeadLetterEventID,
				EntityUrn:       aspectsdomain.MustParseEntityUrn(pacttest.DeadLetterUrn),
				EntityType:      "glossaryTerm",
				AspectName:      pacttest.DeadLetterAspect,
				PreviousVersion: &previous,
				CurrentVersion:  2,
				ChangeType:      aspectsdomain.ChangeUpsert,
				Timestamp:       at,
			},
			AppendedAt: at,
		},
		Failures: []propagationdomain.FailureRecord{{
			Attempt: 1,
			Kind:    propagationdomain.FailurePermanent,
			Reason:  pacttest.DeadLetterReason,
			At:      at,
		}},
		QuarantinedAt: at,
	}
	require.NoError(t, a.deadLetters.Put(context.Background(), letter))
}
