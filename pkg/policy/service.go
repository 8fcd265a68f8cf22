package policy

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artifortress/artifortress/pkg/audit"
	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/events"
	"github.com/artifortress/artifortress/pkg/metrics"
	"github.com/artifortress/artifortress/pkg/storage"
	"github.com/artifortress/artifortress/pkg/types"
)

// EngineSimulateTimeout is the engine version that blocks until the
// evaluation deadline, exercising the fail-closed path end to end
const EngineSimulateTimeout = "simulate_timeout"

// Decision sources recorded with each evaluation
const (
	SourceHintAllow      = "hint_allow"
	SourceHintDeny       = "hint_deny"
	SourceHintQuarantine = "hint_quarantine"
	SourceDefaultAllow   = "default_allow"
)

// Service evaluates policy verdicts under a hard timeout and runs the
// quarantine lifecycle. A timeout fails closed: the caller gets a 503
// and no evaluation or quarantine row is written.
type Service struct {
	store   storage.Store
	timeout time.Duration
	broker  *events.Broker
	logger  zerolog.Logger
}

// NewService creates the policy evaluator. The timeout arrives from
// configuration and bounds every evaluation. The broker may be nil;
// live notifications are then skipped.
func NewService(store storage.Store, timeout time.Duration, broker *events.Broker, logger zerolog.Logger) *Service {
	return &Service{
		store:   store,
		timeout: timeout,
		broker:  broker,
		logger:  logger.With().Str("component", "policy").Logger(),
	}
}

// EvaluateRequest asks for a verdict on one version
type EvaluateRequest struct {
	VersionID     string `json:"versionId"`
	Action        string `json:"action"`
	Reason        string `json:"reason"`
	DecisionHint  string `json:"decisionHint,omitempty"`
	EngineVersion string `json:"engineVersion,omitempty"`
}

// EvaluateResponse is the recorded verdict
type EvaluateResponse struct {
	EvaluationID   uuid.UUID            `json:"evaluationId"`
	VersionID      uuid.UUID            `json:"versionId"`
	Action         types.PolicyAction   `json:"action"`
	Decision       types.PolicyDecision `json:"decision"`
	DecisionSource string               `json:"decisionSource"`
	QuarantineID   *uuid.UUID           `json:"quarantineId,omitempty"`
}

// Evaluate records a policy verdict for a version. The decision comes
// from the caller's hint (blank means allow by default); a quarantine
// decision upserts the version's quarantine item in the same
// transaction as the evaluation row.
func (s *Service) Evaluate(ctx context.Context, tenant *types.Tenant, repo *types.Repo, subject string, req EvaluateRequest) (*EvaluateResponse, error) {
	action, err := parseAction(req.Action)
	if err != nil {
		return nil, err
	}
	rawID := strings.TrimSpace(req.VersionID)
	if rawID == "" {
		return nil, errs.Validation("versionId is required.")
	}
	versionID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, errs.Validation("versionId must be a UUID.")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, errs.Validation("reason is required.")
	}
	decision, source, err := parseHint(req.DecisionHint)
	if err != nil {
		return nil, err
	}

	version, err := s.store.GetVersionInRepo(ctx, tenant.TenantID, repo.RepoID, versionID)
	if err != nil {
		return nil, err
	}

	engineVersion := strings.TrimSpace(req.EngineVersion)
	if err := s.runEngine(ctx, engineVersion); err != nil {
		return nil, s.failClosed(ctx, tenant, repo, subject, version.VersionID, action, engineVersion)
	}

	eval := &types.PolicyEvaluation{
		EvaluationID:   uuid.New(),
		VersionID:      version.VersionID,
		Action:         action,
		Decision:       decision,
		DecisionSource: source,
		Reason:         reason,
	}
	if engineVersion != "" {
		eval.EngineVersion = &engineVersion
	}

	var quarantineID *uuid.UUID
	err = s.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		if err := tx.InsertPolicyEvaluation(ctx, tenant.TenantID, eval); err != nil {
			return err
		}
		details := map[string]interface{}{
			"repoKey":        repo.RepoKey,
			"versionId":      version.VersionID.String(),
			"action":         string(action),
			"decision":       string(decision),
			"decisionSource": source,
			"reason":         reason,
		}
		if decision == types.PolicyDecisionQuarantine {
			qid, err := tx.UpsertQuarantineItem(ctx, tenant.TenantID, repo.RepoID, version.VersionID)
			if err != nil {
				return err
			}
			quarantineID = &qid
			details["quarantineId"] = qid.String()
		}
		return tx.InsertAudit(ctx, audit.Record(tenant.TenantID, audit.ActionPolicyEvaluated, subject, audit.ResourcePolicy, eval.EvaluationID.String(), details))
	})
	if err != nil {
		return nil, err
	}

	metrics.PolicyEvaluationsTotal.WithLabelValues(string(decision)).Inc()
	s.logger.Info().
		Str("version_id", version.VersionID.String()).
		Str("action", string(action)).
		Str("decision", string(decision)).
		Str("decision_source", source).
		Msg("policy evaluated")
	if quarantineID != nil {
		s.publish(events.EventQuarantineImposed, "version quarantined", map[string]string{
			"versionId":    version.VersionID.String(),
			"quarantineId": quarantineID.String(),
			"repoKey":      repo.RepoKey,
		})
	}

	return &EvaluateResponse{
		EvaluationID:   eval.EvaluationID,
		VersionID:      version.VersionID,
		Action:         action,
		Decision:       decision,
		DecisionSource: source,
		QuarantineID:   quarantineID,
	}, nil
}

// runEngine bounds the engine call by the configured timeout. The
// built-in engine decides from hints and returns immediately; the
// simulate_timeout version blocks until the deadline.
func (s *Service) runEngine(ctx context.Context, engineVersion string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if engineVersion == EngineSimulateTimeout {
			<-ctx.Done()
		}
	}()

	select {
	case <-done:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// failClosed audits the timeout and surfaces the 503. The audit record
// is the only write: no evaluation row, no quarantine mutation.
func (s *Service) failClosed(ctx context.Context, tenant *types.Tenant, repo *types.Repo, subject string, versionID uuid.UUID, action types.PolicyAction, engineVersion string) error {
	timeoutMs := int(s.timeout / time.Millisecond)
	details := map[string]interface{}{
		"repoKey":    repo.RepoKey,
		"versionId":  versionID.String(),
		"action":     string(action),
		"timeoutMs":  timeoutMs,
		"failClosed": true,
	}
	if engineVersion != "" {
		details["engineVersion"] = engineVersion
	}
	// The request context may already be past its deadline; the audit
	// write must still land.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.InsertAudit(auditCtx, audit.Record(tenant.TenantID, audit.ActionPolicyTimeout, subject, audit.ResourcePolicy, versionID.String(), details)); err != nil {
		s.logger.Error().Err(err).Msg("failed to audit policy timeout")
	}

	metrics.PolicyTimeoutsTotal.Inc()
	s.logger.Warn().
		Str("version_id", versionID.String()).
		Str("action", string(action)).
		Int("timeout_ms", timeoutMs).
		Msg("policy evaluation timed out, failing closed")

	return errs.Unavailable("policy_timeout", "policy evaluation timed out and fails closed").
		With("action", string(action)).
		With("failClosed", true).
		With("timeoutMs", timeoutMs)
}

// ListQuarantine returns a repo's quarantine items, optionally filtered
// by status (case-insensitive)
func (s *Service) ListQuarantine(ctx context.Context, tenant *types.Tenant, repo *types.Repo, statusFilter string) ([]*types.QuarantineItem, error) {
	var status *types.QuarantineStatus
	if trimmed := strings.TrimSpace(statusFilter); trimmed != "" {
		parsed := types.QuarantineStatus(strings.ToLower(trimmed))
		switch parsed {
		case types.QuarantineStatusQuarantined, types.QuarantineStatusReleased, types.QuarantineStatusRejected:
			status = &parsed
		default:
			return nil, errs.Validation("status must be one of quarantined, released, rejected.")
		}
	}
	return s.store.ListQuarantine(ctx, tenant.TenantID, repo.RepoID, status)
}

// Release transitions a quarantined item to released, unblocking reads
func (s *Service) Release(ctx context.Context, tenant *types.Tenant, repo *types.Repo, quarantineID uuid.UUID, subject string) (*types.QuarantineItem, error) {
	return s.transition(ctx, tenant, repo, quarantineID, subject, types.QuarantineStatusReleased, audit.ActionQuarantineReleased, "release")
}

// Reject transitions a quarantined item to rejected, blocking reads
// permanently
func (s *Service) Reject(ctx context.Context, tenant *types.Tenant, repo *types.Repo, quarantineID uuid.UUID, subject string) (*types.QuarantineItem, error) {
	return s.transition(ctx, tenant, repo, quarantineID, subject, types.QuarantineStatusRejected, audit.ActionQuarantineRejected, "reject")
}

func (s *Service) transition(ctx context.Context, tenant *types.Tenant, repo *types.Repo, quarantineID uuid.UUID, subject string, to types.QuarantineStatus, action, verb string) (*types.QuarantineItem, error) {
	var item *types.QuarantineItem
	err := s.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		var err error
		item, err = tx.GetQuarantineForUpdate(ctx, tenant.TenantID, quarantineID)
		if err != nil {
			return err
		}
		// Ownership before state: an id from another repo must read as
		// forbidden, never as a state hint.
		if item.RepoID != repo.RepoID {
			return errs.Forbidden("quarantine item does not belong to this repo")
		}
		ok, err := tx.SetQuarantineStatus(ctx, quarantineID, types.QuarantineStatusQuarantined, to)
		if err != nil {
			return err
		}
		if !ok {
			return errs.Conflictf("cannot %s a quarantine item in state %q", verb, item.Status)
		}
		return tx.InsertAudit(ctx, audit.Record(tenant.TenantID, action, subject, audit.ResourceQuarantine, quarantineID.String(), map[string]interface{}{
			"repoKey":      repo.RepoKey,
			"versionId":    item.VersionID.String(),
			"quarantineId": quarantineID.String(),
			"from":         string(types.QuarantineStatusQuarantined),
			"to":           string(to),
		}))
	})
	if err != nil {
		return nil, err
	}
	item.Status = to

	eventType := events.EventQuarantineReleased
	if to == types.QuarantineStatusRejected {
		eventType = events.EventQuarantineRejected
	}
	s.publish(eventType, "quarantine "+string(to), map[string]string{
		"versionId":    item.VersionID.String(),
		"quarantineId": quarantineID.String(),
		"repoKey":      repo.RepoKey,
	})
	return item, nil
}

func (s *Service) publish(eventType events.EventType, message string, metadata map[string]string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(events.New(eventType, message, metadata))
}

func parseAction(raw string) (types.PolicyAction, error) {
	switch types.PolicyAction(strings.ToLower(strings.TrimSpace(raw))) {
	case types.PolicyActionPublish:
		return types.PolicyActionPublish, nil
	case types.PolicyActionPromote:
		return types.PolicyActionPromote, nil
	default:
		return "", errs.Validation("action must be 'publish' or 'promote'.")
	}
}

func parseHint(raw string) (types.PolicyDecision, string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return types.PolicyDecisionAllow, SourceDefaultAllow, nil
	case string(types.PolicyDecisionAllow):
		return types.PolicyDecisionAllow, SourceHintAllow, nil
	case string(types.PolicyDecisionDeny):
		return types.PolicyDecisionDeny, SourceHintDeny, nil
	case string(types.PolicyDecisionQuarantine):
		return types.PolicyDecisionQuarantine, SourceHintQuarantine, nil
	default:
		return "", "", errs.Validation("decisionHint must be one of allow, deny, quarantine.")
	}
}
