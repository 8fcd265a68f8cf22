package audit

import (
	"github.com/google/uuid"

	"github.com/artifortress/artifortress/pkg/types"
)

// Actions recorded for privileged mutations. The ops summary counts
// ActionPolicyTimeout rows by this exact string, so it is part of the
// storage contract, not just a label.
const (
	ActionTokenIssued  = "token.issued"
	ActionTokenRevoked = "token.revoked"

	ActionRepoCreated    = "repo.created"
	ActionRepoDeleted    = "repo.deleted"
	ActionBindingUpsert  = "binding.upserted"
	ActionBindingDeleted = "binding.deleted"

	ActionUploadCreated            = "upload.created"
	ActionUploadPartPresigned      = "upload.part.presigned"
	ActionUploadCompleted          = "upload.completed"
	ActionUploadCommitted          = "upload.committed"
	ActionUploadAborted            = "upload.aborted"
	ActionUploadVerificationFailed = "upload.commit.verification_failed"

	ActionVersionCreated    = "package.version.created"
	ActionEntriesUpserted   = "package.version.entries_upserted"
	ActionManifestUpserted  = "package.version.manifest_upserted"
	ActionVersionPublished  = "package.version.published"
	ActionVersionTombstoned = "package.version.tombstoned"

	ActionPolicyEvaluated = "policy.evaluated"
	ActionPolicyTimeout   = "policy.timeout"

	ActionQuarantineReleased = "quarantine.released"
	ActionQuarantineRejected = "quarantine.rejected"

	ActionGCRun = "gc.run"
)

// Resource types referenced by audit records
const (
	ResourceToken      = "token"
	ResourceRepo       = "repo"
	ResourceBinding    = "binding"
	ResourceUpload     = "upload_session"
	ResourceVersion    = "package_version"
	ResourcePolicy     = "policy_evaluation"
	ResourceQuarantine = "quarantine"
	ResourceGCRun      = "gc_run"
)

// Record assembles an audit record for insertion. occurred_at is filled by
// the store at write time so it matches the transaction clock.
func Record(tenantID uuid.UUID, action, actor, resourceType, resourceID string, details map[string]interface{}) *types.AuditRecord {
	return &types.AuditRecord{
		TenantID:     tenantID,
		Action:       action,
		Actor:        actor,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
	}
}
