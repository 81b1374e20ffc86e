package api

import (
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/quorum/pkg/audit"
	"github.com/platinummonkey/quorum/pkg/authz"
	"github.com/platinummonkey/quorum/pkg/governance"
	"github.com/platinummonkey/quorum/pkg/graph"
	"github.com/platinummonkey/quorum/pkg/httputil"
	"github.com/platinummonkey/quorum/pkg/workflow"
)

// RegisterRoutes mounts every admin endpoint under router. auditLogger is
// searched for transition history and served under /admin/audit when it
// implements AuditStore; pass audit.NoOp() when there is none.
func RegisterRoutes(router *mux.Router, store *graph.Store, auditLogger audit.Logger, logger *logrus.Logger) {
	permissions := authz.NewPermissionResolver(store)
	capabilities := authz.NewCapabilityResolver(store)
	svc := governance.NewService(store, governance.WithAuditLogger(auditLogger))

	sub := router.PathPrefix("/admin").Subrouter()
	sub.Use(httputil.RequestIDMiddleware)
	sub.Use(httputil.LoggingMiddleware(logger))
	sub.Use(httputil.RecoveryMiddleware(logger))

	NewWorkflowHandlers(workflow.NewBuilder(store), svc, permissions).RegisterRoutes(sub)
	NewAuthzHandlers(permissions, capabilities).RegisterRoutes(sub)

	auditStore, _ := auditLogger.(AuditStore)
	NewAuditHandlers(auditStore).RegisterRoutes(sub)
}
