// Package policy records security verdicts for versions and manages the
// quarantine queue those verdicts feed.
//
// An evaluation is an append-only record: who asked, which version, what
// the engine decided, and why. The engine itself is deliberately thin.
// It decides from the caller's hint and a blank hint allows, so the
// interesting machinery is everything around the decision rather than
// the decision itself.
//
// # Fail closed
//
// Every engine call runs under the configured timeout. When the engine
// does not answer in time the evaluation fails closed: the caller gets a
// 503 with code "policy_timeout", no evaluation row or quarantine item
// is written, and a single audit record marks the timeout. That audit
// write runs outside any transaction on a context detached from the
// request, so it lands even when the caller has already given up.
//
// The "simulate_timeout" engine version blocks until the deadline and
// exists so operators can exercise the fail-closed path end to end.
//
// # Quarantine lifecycle
//
//	            evaluate(hint=quarantine)
//	                      |
//	                      v
//	               +-------------+   release   +----------+
//	               | quarantined | ----------> | released |
//	               +-------------+             +----------+
//	                      |
//	                      | reject
//	                      v
//	               +-------------+
//	               |  rejected   |
//	               +-------------+
//
// A quarantine decision upserts the version's quarantine item in the
// same transaction as the evaluation row, resetting a previously
// released or rejected item back to quarantined. Release and reject are
// one-way exits: both verify the item belongs to the addressed repo
// before looking at its state, so an id from another repo always reads
// as forbidden rather than leaking what state it is in.
package policy
