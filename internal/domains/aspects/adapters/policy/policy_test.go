package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
)

func TestDefaultPolicy(t *testing.T) {
	p := Default()
	ctx := context.Background()
	editor := domain.ActorContext{Actor: "corpuser:alice", Privileges: []domain.Privilege{domain.PrivilegeEditEntity}}
	steward := domain.ActorContext{Actor: "corpuser:sam", Privileges: []domain.Privilege{domain.PrivilegeManageGlossary}}

	require.NoError(t, p.Authorize(ctx, editor, "dataset", "Ownership", domain.ChangeUpsert))
	require.ErrorIs(t, p.Authorize(ctx, editor, "dataset", "Ownership", domain.ChangeDelete), ports.ErrUnauthorized)
	require.NoError(t, p.Authorize(ctx, steward, domain.EntityGlossaryTerm, domain.AspectGlossaryTermInfo, domain.ChangeDelete))
	require.ErrorIs(t, p.Authorize(ctx, steward, domain.EntityTest, domain.AspectTestInfo, domain.ChangePatch), ports.ErrUnauthorized)
}

func TestParse(t *testing.T) {
	p, err := Parse([]byte(`
rules:
  - entityTypes: [test]
    aspects: ["*"]
    changeTypes: [UPSERT]
    privilege: MANAGE_TESTS
`))
	require.NoError(t, err)
	require.Len(t, p.Rules, 1)

	tester := domain.ActorContext{Actor: "corpuser:qa", Privileges: []domain.Privilege{domain.PrivilegeManageTests}}
	require.NoError(t, p.Authorize(context.Background(), tester, "test", domain.AspectTestInfo, domain.ChangeUpsert))
	err = p.Authorize(context.Background(), tester, "dataset", domain.AspectStatus, domain.ChangeUpsert)
	require.ErrorIs(t, err, ports.ErrUnauthorized)
	require.Contains(t, err.Error(), "no rule covers")

	_, err = Parse([]byte("rules:\n  - aspects: [\"*\"]\n"))
	require.Error(t, err)
}

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), p)
}
