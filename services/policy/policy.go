package policy

// A Policy is one payment scheme. Each scheme interprets the claim's
// eligibility answers through its own rules, contributes its own extra
// checking tasks, and renders its own admin checking views.

type Tag string

var (
	StudentLoans    Tag = "student-loans"
	MathsAndPhysics Tag = "maths-and-physics"
)

func (t Tag) String() string {
	switch t {
	case StudentLoans, MathsAndPhysics:
		return string(t)
	default:
		return ""
	}
}

// Answers holds the scheme-specific eligibility answers decoded from a
// claim's eligibility record.
type Answers map[string]any

func (a Answers) String(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

func (a Answers) Bool(key string) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return false
}

// Int64 reads a numeric answer. JSON decoding produces float64 for numbers,
// so both representations are accepted.
func (a Answers) Int64(key string) int64 {
	switch v := a[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Eligibility is the outcome of running a scheme's rules over a set of
// answers. An ineligible outcome carries a machine-actionable reason.
type Eligibility interface {
	Eligible() bool
	IneligibleReason() string
	// AwardAmount is the amount payable, in whole pence, were the claim
	// approved today.
	AwardAmount() int64
}

// Row is one label/value line in an admin checking view.
type Row struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// AdminPresenter renders the information a claim checker needs in order to
// complete the qualifications and employment tasks.
type AdminPresenter interface {
	Qualifications() []Row
	Employment() []Row
}

type Policy interface {
	Tag() Tag
	Eligibility(ans Answers) Eligibility
	// ExtraTaskNames are the scheme-specific checking tasks appended after
	// the base sequence, in declared order.
	ExtraTaskNames() []string
	Presenter(ans Answers) AdminPresenter
}

var registry = map[Tag]Policy{
	StudentLoans:    studentLoansPolicy{},
	MathsAndPhysics: mathsAndPhysicsPolicy{},
}

// Lookup resolves a policy by its stored tag.
func Lookup(tag Tag) (Policy, bool) {
	p, ok := registry[tag]
	return p, ok
}

func All() []Policy {
	return []Policy{registry[StudentLoans], registry[MathsAndPhysics]}
}
