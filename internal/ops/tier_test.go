package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shakram02/go-supabase-mcp/internal/apperr"
	"github.com/shakram02/go-supabase-mcp/internal/backend"
	"github.com/shakram02/go-supabase-mcp/internal/config"
)

func TestSelectTier(t *testing.T) {
	policies := []config.Policy{
		{},
		{AllowCreateWithStandard: true},
		{AllowUpdateWithStandard: true},
		{AllowDeleteWithStandard: true},
		{AllowCreateWithStandard: true, AllowUpdateWithStandard: true, AllowDeleteWithStandard: true},
	}
	want := func(allowed bool) backend.Tier {
		if allowed {
			return backend.TierStandard
		}
		return backend.TierPrivileged
	}
	for _, p := range policies {
		tests := []struct {
			kind Kind
			want backend.Tier
		}{
			{KindQuery, backend.TierStandard},
			{KindCreateTable, want(p.AllowCreateWithStandard)},
			{KindInsert, want(p.AllowCreateWithStandard)},
			{KindUpdate, want(p.AllowUpdateWithStandard)},
			{KindDelete, want(p.AllowDeleteWithStandard)},
		}
		for _, tt := range tests {
			got, err := SelectTier(tt.kind, p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "kind %s policy %+v", tt.kind, p)
		}
	}
}

func TestSelectTier_UnknownKind(t *testing.T) {
	_, err := SelectTier("truncate", config.Policy{})
	require.Error(t, err)
	assert.Equal(t, apperr.Configuration, apperr.KindOf(err))
}

func TestBatchTier(t *testing.T) {
	policy := config.Policy{AllowCreateWithStandard: true}

	tier, err := BatchTier([]Operation{{Type: KindInsert}, {Type: KindInsert}}, policy)
	require.NoError(t, err)
	assert.Equal(t, backend.TierStandard, tier)

	tier, err = BatchTier([]Operation{{Type: KindInsert}, {Type: KindDelete}}, policy)
	require.NoError(t, err)
	assert.Equal(t, backend.TierPrivileged, tier, "one privileged operation elevates the batch")
}
