package retry

import (
	"context"
	"fmt"
)

// PolicyFilter narrows ListPolicies results.
type PolicyFilter struct {
	OrganisationID string
	SocieteID      string
	ProductID      string
	ActiveOnly     bool
	Limit          int
	Offset         int
}

// PolicyStore persists retry policies.
type PolicyStore interface {
	CreatePolicy(ctx context.Context, p *Policy) error
	UpdatePolicy(ctx context.Context, p *Policy) error
	GetPolicy(ctx context.Context, id string) (*Policy, error)
	ListPolicies(ctx context.Context, filter PolicyFilter) ([]Policy, error)
}

// Resolver picks the retry policy applicable to a scope.
type Resolver struct {
	store PolicyStore
}

func NewResolver(store PolicyStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the highest-priority active policy whose societe/product
// scope is either unset or matches the request. Priority ties prefer an
// exact societe match, then an exact product match. When nothing matches,
// the organisation's default policy is used; without one the resolution
// fails with ErrPolicyNotFound.
func (r *Resolver) Resolve(ctx context.Context, orgID, societeID, productID string) (*Policy, error) {
	policies, err := r.store.ListPolicies(ctx, PolicyFilter{OrganisationID: orgID, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list retry policies: %w", err)
	}

	var best *Policy
	for i := range policies {
		p := &policies[i]
		if p.SocieteID != "" && p.SocieteID != societeID {
			continue
		}
		if p.ProductID != "" && p.ProductID != productID {
			continue
		}
		if best == nil || moreSpecific(p, best) {
			best = p
		}
	}
	if best != nil {
		out := *best
		return &out, nil
	}

	for i := range policies {
		if policies[i].IsDefault {
			out := policies[i]
			return &out, nil
		}
	}

	return nil, fmt.Errorf("%w: organisation %s societe %q product %q", ErrPolicyNotFound, orgID, societeID, productID)
}

// moreSpecific reports whether candidate beats current: higher priority
// first, then bound societe, then bound product.
func moreSpecific(candidate, current *Policy) bool {
	if candidate.Priority != current.Priority {
		return candidate.Priority > current.Priority
	}
	if (candidate.SocieteID != "") != (current.SocieteID != "") {
		return candidate.SocieteID != ""
	}
	if (candidate.ProductID != "") != (current.ProductID != "") {
		return candidate.ProductID != ""
	}
	return false
}
