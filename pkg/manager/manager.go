package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artifortress/artifortress/pkg/auth"
	"github.com/artifortress/artifortress/pkg/config"
	"github.com/artifortress/artifortress/pkg/events"
	"github.com/artifortress/artifortress/pkg/health"
	"github.com/artifortress/artifortress/pkg/lifecycle"
	"github.com/artifortress/artifortress/pkg/metrics"
	"github.com/artifortress/artifortress/pkg/objectstore"
	"github.com/artifortress/artifortress/pkg/outbox"
	"github.com/artifortress/artifortress/pkg/policy"
	"github.com/artifortress/artifortress/pkg/publish"
	"github.com/artifortress/artifortress/pkg/storage"
	"github.com/artifortress/artifortress/pkg/types"
	"github.com/artifortress/artifortress/pkg/uploads"
)

// componentWatchInterval is how often dependency probe results are folded
// into the component health registry.
const componentWatchInterval = 15 * time.Second

// Manager is the composition root of one Artifortress deployment. It wires
// the domain services onto the shared truth store, object store, and event
// broker, resolves the deployment tenant once at startup, and drives the
// background sweeps. The API layer talks only to the Manager.
type Manager struct {
	cfg    *config.Config
	logger zerolog.Logger

	store   storage.Store
	objects objectstore.Client
	broker  *events.Broker

	tokens    *auth.TokenService
	authn     *auth.Authenticator
	saml      *auth.SAMLService
	uploads   *uploads.Service
	publish   *publish.Service
	policy    *policy.Service
	lifecycle *lifecycle.Service
	outbox    *outbox.Service
	sweeper   *outbox.Sweeper
	collector *metrics.Collector
	health    *health.Registry

	mu     sync.RWMutex
	tenant *types.Tenant

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New wires a Manager onto an open store and object store client. Nothing
// is started and no queries run until Start; construction only fails when
// the auth or SAML configuration is unusable.
func New(cfg *config.Config, store storage.Store, objects objectstore.Client, logger zerolog.Logger) (*Manager, error) {
	m := &Manager{
		cfg:     cfg,
		logger:  logger.With().Str("component", "manager").Logger(),
		store:   store,
		objects: objects,
		broker:  events.NewBroker(),
		stopCh:  make(chan struct{}),
	}
	m.broker.Start()

	m.tokens = auth.NewTokenService(store, logger)
	authn, err := auth.NewAuthenticator(cfg.Auth, store, m.tokens, logger)
	if err != nil {
		return nil, err
	}
	m.authn = authn

	if cfg.Auth.SAML.Enabled {
		saml, err := auth.NewSAMLService(cfg.Auth.SAML, m.tokens, logger)
		if err != nil {
			return nil, err
		}
		m.saml = saml
	}

	m.uploads = uploads.NewService(store, objects, m.broker, cfg.ObjectStorage.PresignPartTTL(), logger)
	m.publish = publish.NewService(store, m.broker, logger)
	m.policy = policy.NewService(store, time.Duration(cfg.Policy.TimeoutMs)*time.Millisecond, m.broker, logger)
	m.lifecycle = lifecycle.NewService(store, objects, m.broker, cfg.GC.DefaultBatchSize, logger)

	m.outbox = outbox.NewService(store, outbox.Settings{
		BatchSize:   cfg.Sweeps.BatchSize,
		MaxAttempts: cfg.Sweeps.JobMaxAttempts,
		BaseDelay:   time.Duration(cfg.Sweeps.JobBaseDelaySeconds) * time.Second,
		MaxExponent: cfg.Sweeps.JobMaxExponent,
	}, logger)
	m.sweeper = outbox.NewSweeper(m.outbox, m.broker,
		time.Duration(cfg.Sweeps.OutboxIntervalSeconds)*time.Second,
		time.Duration(cfg.Sweeps.JobsIntervalSeconds)*time.Second,
		logger)

	m.collector = metrics.NewCollector(store, m.broker)
	m.health = health.NewRegistry(
		health.NewPostgresChecker(store),
		health.NewObjectStoreChecker(objects),
	)

	metrics.RegisterComponent("postgres", false, "not checked yet")
	metrics.RegisterComponent("objectstore", false, "not checked yet")

	return m, nil
}

// Bootstrap resolves the configured tenant, creating its row on first run.
// Safe to call more than once.
func (m *Manager) Bootstrap(ctx context.Context) error {
	tenant, err := m.store.EnsureTenant(ctx, m.cfg.Tenant.DefaultSlug)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.tenant = tenant
	m.mu.Unlock()
	m.logger.Info().Str("tenant", tenant.Slug).Str("tenantId", tenant.TenantID.String()).Msg("tenant resolved")
	return nil
}

// Start bootstraps the tenant and launches the background work: the outbox
// and job sweeps, the metrics collector, and the component health watch.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Bootstrap(ctx); err != nil {
		return err
	}
	m.sweeper.Start()
	m.collector.Start()

	m.wg.Add(1)
	go m.watchComponents()

	m.logger.Info().Msg("manager started")
	return nil
}

// Stop halts the background work and the broker. The store and object
// store client stay open; whoever opened them closes them.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.sweeper.Stop()
	m.collector.Stop()
	m.broker.Stop()
	m.logger.Info().Msg("manager stopped")
}

// watchComponents folds the dependency probe results into the component
// health registry on a fixed cadence.
func (m *Manager) watchComponents() {
	defer m.wg.Done()
	ticker := time.NewTicker(componentWatchInterval)
	defer ticker.Stop()

	m.updateComponents()
	for {
		select {
		case <-ticker.C:
			m.updateComponents()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) updateComponents() {
	ctx, cancel := context.WithTimeout(context.Background(), componentWatchInterval)
	defer cancel()

	for name, result := range m.health.Results(ctx) {
		metrics.UpdateComponent(name, result.Healthy, result.Message)
	}
}

// Tenant returns the deployment tenant resolved by Bootstrap, or nil
// before it.
func (m *Manager) Tenant() *types.Tenant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tenant
}

// Store returns the truth store
func (m *Manager) Store() storage.Store {
	return m.store
}

// Objects returns the object store client
func (m *Manager) Objects() objectstore.Client {
	return m.objects
}

// Broker returns the in-process event broker
func (m *Manager) Broker() *events.Broker {
	return m.broker
}

// Health returns the dependency probe registry
func (m *Manager) Health() *health.Registry {
	return m.health
}

// Tokens returns the personal access token service
func (m *Manager) Tokens() *auth.TokenService {
	return m.tokens
}

// Authenticator returns the bearer resolution chain
func (m *Manager) Authenticator() *auth.Authenticator {
	return m.authn
}

// SAML returns the SAML service, or nil when disabled
func (m *Manager) SAML() *auth.SAMLService {
	return m.saml
}

// Uploads returns the upload session engine
func (m *Manager) Uploads() *uploads.Service {
	return m.uploads
}

// Publish returns the draft and publish workflow
func (m *Manager) Publish() *publish.Service {
	return m.publish
}

// Policy returns the policy evaluation and quarantine service
func (m *Manager) Policy() *policy.Service {
	return m.policy
}

// Lifecycle returns the tombstone and garbage collection service
func (m *Manager) Lifecycle() *lifecycle.Service {
	return m.lifecycle
}

// Outbox returns the sweep service for synchronous admin-triggered passes
func (m *Manager) Outbox() *outbox.Service {
	return m.outbox
}
