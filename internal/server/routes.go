package server

import (
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/wardenhq/warden/internal/api/v1"
	"github.com/wardenhq/warden/internal/api/ws"
	"github.com/wardenhq/warden/internal/auth"
	"github.com/wardenhq/warden/internal/store/postgres"
)

func registerAuthRoutes(api huma.API, authSvc *auth.Service) {
	v1.RegisterAuthRoutes(api, authSvc)
}

func registerAPIRoutes(api huma.API, store *postgres.Store, authSvc *auth.Service, pub v1.Publisher, notifier v1.ApprovalNotifier, approvalTTL time.Duration) {
	v1.RegisterAccountRoutes(api, authSvc)
	v1.RegisterAgentRoutes(api, store)
	v1.RegisterPolicyRoutes(api, store)
	v1.RegisterGuardRoutes(api, store, pub, notifier, approvalTTL)
	v1.RegisterLogRoutes(api, store, pub)
	v1.RegisterApprovalRoutes(api, store, pub)
	v1.RegisterAnalyticsRoutes(api, store)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/logs", hub.ServeLogs)
	r.Get("/approvals", hub.ServeApprovals)
}
