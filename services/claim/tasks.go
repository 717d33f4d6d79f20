package claim

import (
	"context"

	"claimpay/pkg/errutil"
	"claimpay/services/policy"
)

// BaseTaskNames is the checking sequence every claim gets, in order, before
// any policy-specific or cross-claim tasks.
var BaseTaskNames = []string{"qualifications", "employment"}

// MatchingDetailsTaskName is appended when another claim shares the same
// teacher reference number, so a checker compares the two by hand.
const MatchingDetailsTaskName = "matching_details"

// CheckingTasks models the tasks that need to be performed on a claim as part
// of the claim checking process.
type CheckingTasks struct {
	claim   *Claim
	matcher *MatchingFinder
}

func NewCheckingTasks(c *Claim, matcher *MatchingFinder) *CheckingTasks {
	return &CheckingTasks{claim: c, matcher: matcher}
}

// ApplicableTaskNames returns the task names that need to pass on the claim
// before it can be decided: the base sequence, then the policy's extras, then
// matching_details when another submitted claim shares the claimant's TRN.
//
// The matching_details condition depends on claims that arrive concurrently,
// so it is recomputed on every call rather than stored on the claim.
func (t *CheckingTasks) ApplicableTaskNames(ctx context.Context) ([]string, error) {
	p, ok := policy.Lookup(t.claim.Policy)
	if !ok {
		return nil, errutil.ValidationFailed("unknown policy", nil,
			errutil.WithDetails(errutil.Detail{Field: "policy", Message: string(t.claim.Policy)}))
	}

	names := make([]string, 0, len(BaseTaskNames)+2)
	names = append(names, BaseTaskNames...)
	names = append(names, p.ExtraTaskNames()...)

	matching, err := t.matcher.MatchingClaimsExist(ctx, t.claim)
	if err != nil {
		return nil, err
	}
	if matching {
		names = append(names, MatchingDetailsTaskName)
	}

	return names, nil
}

// IncompleteTaskNames returns the applicable names with no recorded task yet,
// preserving applicable order. A claim is checkable for decision only once
// this is empty.
func (t *CheckingTasks) IncompleteTaskNames(ctx context.Context) ([]string, error) {
	applicable, err := t.ApplicableTaskNames(ctx)
	if err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(t.claim.Tasks))
	for _, task := range t.claim.Tasks {
		done[task.Name] = true
	}

	incomplete := make([]string, 0, len(applicable))
	for _, name := range applicable {
		if !done[name] {
			incomplete = append(incomplete, name)
		}
	}
	return incomplete, nil
}
