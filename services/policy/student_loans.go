package policy

import "fmt"

// Student loan repayments scheme: reimburses the student loan repayments a
// teacher made over the claim year, provided they taught an eligible subject
// at an eligible school since qualifying.

type studentLoansPolicy struct{}

func (studentLoansPolicy) Tag() Tag { return StudentLoans }

func (studentLoansPolicy) ExtraTaskNames() []string {
	return []string{"student_loan_amount"}
}

func (studentLoansPolicy) Eligibility(ans Answers) Eligibility {
	return studentLoansEligibility{ans: ans}
}

func (studentLoansPolicy) Presenter(ans Answers) AdminPresenter {
	return studentLoansPresenter{ans: ans}
}

type studentLoansEligibility struct {
	ans Answers
}

func (e studentLoansEligibility) Eligible() bool {
	return e.IneligibleReason() == ""
}

func (e studentLoansEligibility) IneligibleReason() string {
	switch {
	case e.ans.String("qts_award_year") == "before_cut_off_date":
		return "ineligible_qts_award_year"
	case e.ans.String("employment_status") == "no_school":
		return "employed_at_no_school"
	case !e.taughtEligibleSubjects():
		return "not_taught_eligible_subjects"
	case e.ans.Bool("had_leadership_position") && e.ans.Bool("mostly_performed_leadership_duties"):
		return "mostly_performed_leadership_duties"
	case e.ans.Int64("student_loan_repayment_amount") <= 0:
		return "no_student_loan_repayment"
	default:
		return ""
	}
}

// AwardAmount is the student loan repayment made over the claim year, in pence.
func (e studentLoansEligibility) AwardAmount() int64 {
	return e.ans.Int64("student_loan_repayment_amount")
}

func (e studentLoansEligibility) taughtEligibleSubjects() bool {
	subjects := []string{
		"biology_taught",
		"chemistry_taught",
		"physics_taught",
		"computing_taught",
		"languages_taught",
	}
	for _, s := range subjects {
		if e.ans.Bool(s) {
			return true
		}
	}
	return false
}

type studentLoansPresenter struct {
	ans Answers
}

func (p studentLoansPresenter) Qualifications() []Row {
	return []Row{
		{Label: "Award year", Value: p.ans.String("qts_award_year")},
	}
}

func (p studentLoansPresenter) Employment() []Row {
	rows := []Row{
		{Label: "Claim school", Value: p.ans.String("claim_school")},
		{Label: "Current school", Value: p.ans.String("current_school")},
	}
	if amount := p.ans.Int64("student_loan_repayment_amount"); amount > 0 {
		rows = append(rows, Row{
			Label: "Student loan repayment amount",
			Value: formatPence(amount),
		})
	}
	return rows
}

func formatPence(pence int64) string {
	return fmt.Sprintf("£%d.%02d", pence/100, pence%100)
}
