package handlers

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/phonehub/phonehub/internal/callstore"
	"github.com/phonehub/phonehub/internal/dialog"
	"github.com/phonehub/phonehub/internal/outbound"
	"github.com/phonehub/phonehub/internal/summary"
	"github.com/phonehub/phonehub/pkg/ai"
	"github.com/phonehub/phonehub/pkg/audit"
	"github.com/phonehub/phonehub/pkg/client"
	"github.com/phonehub/phonehub/pkg/env"
	"github.com/phonehub/phonehub/pkg/mongo"
	"github.com/phonehub/phonehub/pkg/persona"
	"github.com/phonehub/phonehub/pkg/telephony"
	"github.com/phonehub/phonehub/pkg/voice"
)

// Deps are the services the handlers call. Redis, Mongo, Store, Audit and
// Forwarder may be nil; the features that need them are skipped.
type Deps struct {
	Config    *env.Config
	Redis     redis.Cmdable
	Mongo     *mongo.Client
	Store     callstore.Store
	Registry  *persona.Registry
	Engine    *dialog.Engine
	Markup    *voice.Generator
	Outbound  *outbound.Service
	Planner   *outbound.Planner
	Forwarder *summary.Forwarder
	Telephony *telephony.Client
	AI        *ai.Manager
	Webhooks  *client.HTTPClient
	Audit     *audit.Trail
	Logger    *zap.Logger
}

type Handler struct {
	cfg       *env.Config
	redis     redis.Cmdable
	mongo     *mongo.Client
	store     callstore.Store
	registry  *persona.Registry
	engine    *dialog.Engine
	markup    *voice.Generator
	outbound  *outbound.Service
	planner   *outbound.Planner
	forwarder *summary.Forwarder
	telephony *telephony.Client
	aiManager *ai.Manager
	webhooks  *client.HTTPClient
	audit     *audit.Trail
	logger    *zap.Logger

	// background runs work that must outlive the webhook response.
	background func(func())
}

func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Audit == nil {
		d.Audit = audit.NewTrail(nil, d.Logger)
	}
	return &Handler{
		cfg:        d.Config,
		redis:      d.Redis,
		mongo:      d.Mongo,
		store:      d.Store,
		registry:   d.Registry,
		engine:     d.Engine,
		markup:     d.Markup,
		outbound:   d.Outbound,
		planner:    d.Planner,
		forwarder:  d.Forwarder,
		telephony:  d.Telephony,
		aiManager:  d.AI,
		webhooks:   d.Webhooks,
		audit:      d.Audit,
		logger:     d.Logger,
		background: func(fn func()) { go fn() },
	}
}
