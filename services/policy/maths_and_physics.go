package policy

// Maths and physics teacher payment: a fixed annual payment for teachers in
// the first years after qualifying who spend at least half their time
// teaching maths or physics.

// Award amount for the scheme, in pence.
const mathsAndPhysicsAward int64 = 2000_00

type mathsAndPhysicsPolicy struct{}

func (mathsAndPhysicsPolicy) Tag() Tag { return MathsAndPhysics }

func (mathsAndPhysicsPolicy) ExtraTaskNames() []string { return nil }

func (mathsAndPhysicsPolicy) Eligibility(ans Answers) Eligibility {
	return mathsAndPhysicsEligibility{ans: ans}
}

func (mathsAndPhysicsPolicy) Presenter(ans Answers) AdminPresenter {
	return mathsAndPhysicsPresenter{ans: ans}
}

type mathsAndPhysicsEligibility struct {
	ans Answers
}

func (e mathsAndPhysicsEligibility) Eligible() bool {
	return e.IneligibleReason() == ""
}

func (e mathsAndPhysicsEligibility) IneligibleReason() string {
	switch {
	case !e.ans.Bool("teaching_maths_or_physics"):
		return "not_teaching_maths_or_physics"
	case e.ans.String("qts_award_year") == "before_cut_off_date":
		return "ineligible_qts_award_year"
	case !e.hasMathsOrPhysicsQualification():
		return "no_maths_or_physics_qualification"
	default:
		return ""
	}
}

func (e mathsAndPhysicsEligibility) AwardAmount() int64 {
	return mathsAndPhysicsAward
}

func (e mathsAndPhysicsEligibility) hasMathsOrPhysicsQualification() bool {
	if subject := e.ans.String("initial_teacher_training_subject"); subject == "maths" || subject == "physics" {
		return true
	}
	degree := e.ans.String("has_uk_maths_or_physics_degree")
	return degree == "yes" || degree == "has_non_uk"
}

type mathsAndPhysicsPresenter struct {
	ans Answers
}

func (p mathsAndPhysicsPresenter) Qualifications() []Row {
	rows := []Row{
		{Label: "Award year", Value: p.ans.String("qts_award_year")},
		{Label: "ITT subject", Value: p.ans.String("initial_teacher_training_subject")},
	}
	switch p.ans.String("has_uk_maths_or_physics_degree") {
	case "yes":
		rows = append(rows, Row{Label: "Maths or Physics degree", Value: "UK Maths or Physics degree"})
	case "has_non_uk":
		rows = append(rows, Row{Label: "Maths or Physics degree", Value: "Non-UK Maths or Physics degree"})
	}
	return rows
}

func (p mathsAndPhysicsPresenter) Employment() []Row {
	return []Row{
		{Label: "Current school", Value: p.ans.String("current_school")},
	}
}
