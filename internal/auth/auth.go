/*

This file implements the capability policy injected into every mutating manager
and teller operation. Callers are authorized per (caller, operation) pair, not
per ambient role, so a strategist key granted Rebalance cannot touch fee
configuration.

*/

package auth

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var ErrUnauthorized = errors.New("caller is not authorized for operation")

// Operation names gate individual entry points.
const (
	OpRebalance         = "rebalance"
	OpReviewPerformance = "review_performance"
	OpClaimFees         = "claim_fees"
	OpSwitchMetric      = "switch_performance_metric"
	OpResetWatermark    = "reset_high_watermark"
	OpConfigure         = "configure"
	OpPause             = "pause"
	OpDeposit           = "deposit"
	OpWithdraw          = "withdraw"
)

// Authorizer decides whether a caller may invoke a named operation.
type Authorizer interface {
	Authorize(caller common.Address, operation string) error
}

// RoleTable is a concurrency-safe in-memory Authorizer keyed on exact
// (caller, operation) grants.
type RoleTable struct {
	mu     sync.RWMutex
	grants map[grantKey]struct{}
}

type grantKey struct {
	caller    common.Address
	operation string
}

// NewRoleTable returns an empty role table; nothing is authorized until
// granted.
func NewRoleTable() *RoleTable {
	return &RoleTable{grants: make(map[grantKey]struct{})}
}

// Grant authorizes caller for operation.
func (r *RoleTable) Grant(caller common.Address, operation string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants[grantKey{caller: caller, operation: operation}] = struct{}{}
}

// Revoke removes a grant.
func (r *RoleTable) Revoke(caller common.Address, operation string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.grants, grantKey{caller: caller, operation: operation})
}

// Authorize implements Authorizer.
func (r *RoleTable) Authorize(caller common.Address, operation string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.grants[grantKey{caller: caller, operation: operation}]; !ok {
		return fmt.Errorf("%w: caller %s, operation %s", ErrUnauthorized, caller.Hex(), operation)
	}
	return nil
}

// Open authorizes every caller for every operation. Test and dry-run helper.
type Open struct{}

// Authorize implements Authorizer.
func (Open) Authorize(common.Address, string) error { return nil }
