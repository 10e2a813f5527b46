package app

import (
	"context"
	"fmt"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Capabilities describes which optional schema surfaces are present. The
// descriptor is resolved once when the engine opens; components consult it
// instead of probing the catalog per request.
type Capabilities struct {
	HasNumberTracking bool
	HasApprovalLog    bool
	HasAuditLog       bool
}

// ResolveCapabilities inspects the schema for optional tables.
func ResolveCapabilities(ctx context.Context, q db.Querier) (Capabilities, error) {
	caps := Capabilities{}
	checks := []struct {
		table string
		flag  *bool
	}{
		{"document_number_tracking", &caps.HasNumberTracking},
		{"approvals", &caps.HasApprovalLog},
		{"audit_logs", &caps.HasAuditLog},
	}
	for _, c := range checks {
		var exists bool
		err := q.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1)`,
			c.table).Scan(&exists)
		if err != nil {
			return Capabilities{}, fmt.Errorf("app: resolve capabilities: %w", err)
		}
		*c.flag = exists
	}
	return caps, nil
}
