package claim

import (
	"context"

	"gorm.io/gorm"
)

// MatchingFinder is the payroll-admission consistency engine. For a candidate
// claim it finds the other payrollable claims from the same claimant whose
// payment-relevant details disagree, and therefore block batching the claims
// into one payroll run.
//
// Results are never cached: the payrollable set changes under concurrent
// approval and run assembly, so every answer is computed from a fresh read.
// Callers that need the answer to hold until commit must run the finder
// inside their own transaction (see payroll.Service.AssembleRun).
type MatchingFinder struct {
	db *gorm.DB
}

func NewMatchingFinder(db *gorm.DB) *MatchingFinder {
	return &MatchingFinder{db: db}
}

// WithTrx returns a finder whose reads run inside the given transaction.
func (f *MatchingFinder) WithTrx(tx *gorm.DB) *MatchingFinder {
	return &MatchingFinder{db: tx}
}

// ClaimsPreventingPayment returns the payrollable claims sharing the
// candidate's identity key whose normalized value differs on any attribute of
// the fixed discrepancy list. Claims that are unsubmitted, undecided,
// rejected, or already paid never appear.
func (f *MatchingFinder) ClaimsPreventingPayment(ctx context.Context, c *Claim) ([]*Claim, error) {
	candidates, err := f.payrollableFromSameClaimant(ctx, c)
	if err != nil {
		return nil, err
	}

	preventing := make([]*Claim, 0)
	for _, other := range candidates {
		for _, attr := range PersonalDetailsForbiddingDiscrepancies {
			if other.NormalizedAttribute(attr) != c.NormalizedAttribute(attr) {
				preventing = append(preventing, other)
				break
			}
		}
	}
	return preventing, nil
}

// AttributesPreventingPayment returns the subset of the discrepancy list, in
// list order, on which any preventing claim disagrees with the candidate.
// These are the fields an operator has to reconcile before the claims can be
// paid together.
func (f *MatchingFinder) AttributesPreventingPayment(ctx context.Context, c *Claim) ([]string, error) {
	preventing, err := f.ClaimsPreventingPayment(ctx, c)
	if err != nil {
		return nil, err
	}

	attrs := make([]string, 0)
	for _, attr := range PersonalDetailsForbiddingDiscrepancies {
		for _, other := range preventing {
			if other.NormalizedAttribute(attr) != c.NormalizedAttribute(attr) {
				attrs = append(attrs, attr)
				break
			}
		}
	}
	return attrs, nil
}

// MatchingClaimsExist reports whether any other submitted claim shares the
// candidate's teacher reference number. It feeds the matching_details
// checking task.
func (f *MatchingFinder) MatchingClaimsExist(ctx context.Context, c *Claim) (bool, error) {
	trn := c.NormalizedTeacherReferenceNumber()
	if trn == "" {
		return false, nil
	}

	var count int64
	err := f.db.WithContext(ctx).Model(&Claim{}).
		Where("id <> ?", c.ID).
		Where("normalized_teacher_reference_number = ?", trn).
		Where("submitted_at IS NOT NULL").
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (f *MatchingFinder) payrollableFromSameClaimant(ctx context.Context, c *Claim) ([]*Claim, error) {
	var claims []*Claim
	err := f.db.WithContext(ctx).
		Where("id <> ?", c.ID).
		Where("normalized_national_insurance_number = ?", c.IdentityKey()).
		Where("payment_id IS NULL").
		Where("submitted_at IS NOT NULL").
		Where("EXISTS (SELECT 1 FROM decisions WHERE decisions.claim_id = claims.id AND decisions.result = ?)", Approved).
		Find(&claims).Error
	if err != nil {
		return nil, err
	}
	return claims, nil
}
