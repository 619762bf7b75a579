package ops

import (
	"github.com/shakram02/go-supabase-mcp/internal/apperr"
	"github.com/shakram02/go-supabase-mcp/internal/backend"
	"github.com/shakram02/go-supabase-mcp/internal/config"
)

// SelectTier returns the credential tier an operation of the given kind
// runs with under policy.
func SelectTier(kind Kind, policy config.Policy) (backend.Tier, error) {
	elevate := func(allowed bool) backend.Tier {
		if allowed {
			return backend.TierStandard
		}
		return backend.TierPrivileged
	}
	switch kind {
	case KindQuery:
		return backend.TierStandard, nil
	case KindCreateTable, KindInsert:
		return elevate(policy.AllowCreateWithStandard), nil
	case KindUpdate:
		return elevate(policy.AllowUpdateWithStandard), nil
	case KindDelete:
		return elevate(policy.AllowDeleteWithStandard), nil
	}
	return backend.TierStandard, apperr.Newf(apperr.Configuration, "no credential tier for operation kind %q", kind)
}

// BatchTier returns the single tier for a batch: privileged if any
// operation requires it.
func BatchTier(ops []Operation, policy config.Policy) (backend.Tier, error) {
	tier := backend.TierStandard
	for _, op := range ops {
		t, err := SelectTier(op.Type, policy)
		if err != nil {
			return tier, err
		}
		if t == backend.TierPrivileged {
			tier = t
		}
	}
	return tier, nil
}
