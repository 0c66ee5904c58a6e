package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEntityUrn(t *testing.T) {
	urn, err := ParseEntityUrn("urn:li:dataset:hive:db.table")
	require.NoError(t, err)
	require.Equal(t, "dataset", urn.EntityType)
	require.Equal(t, "hive:db.table", urn.Key)
	require.Equal(t, "dataset:hive:db.table", urn.String())

	short, err := ParseEntityUrn("glossaryNode:finance")
	require.NoError(t, err)
	require.Equal(t, EntityUrn{EntityType: "glossaryNode", Key: "finance"}, short)

	for _, raw := range []string{"", "finance", ":finance", "glossaryNode:", "urn:li:"} {
		_, err := ParseEntityUrn(raw)
		require.ErrorIs(t, err, ErrInvalidUrn, raw)
	}
}

func TestEntityUrn_JSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Urn EntityUrn `json:"urn"`
	}
	data, err := json.Marshal(wrapper{Urn: MustParseEntityUrn("glossaryTerm:revenue")})
	require.NoError(t, err)
	require.JSONEq(t, `{"urn":"glossaryTerm:revenue"}`, string(data))

	var decoded wrapper
	require.Error(t, json.Unmarshal([]byte(`{"urn":"nope"}`), &decoded))
}
