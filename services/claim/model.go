package claim

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"claimpay/services/policy"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PayrollGender string

var (
	GenderFemale   PayrollGender = "female"
	GenderMale     PayrollGender = "male"
	GenderDontKnow PayrollGender = "dont_know"
)

func (g PayrollGender) String() string {
	switch g {
	case GenderFemale, GenderMale, GenderDontKnow:
		return string(g)
	default:
		return ""
	}
}

type StudentLoanPlan string

var (
	Plan1         StudentLoanPlan = "plan_1"
	Plan2         StudentLoanPlan = "plan_2"
	Plan1And2     StudentLoanPlan = "plan_1_and_2"
	NoStudentLoan StudentLoanPlan = "not_applicable"
)

func (p StudentLoanPlan) String() string {
	switch p {
	case Plan1, Plan2, Plan1And2, NoStudentLoan:
		return string(p)
	default:
		return ""
	}
}

type DecisionResult string

var (
	Approved DecisionResult = "approved"
	Rejected DecisionResult = "rejected"
)

func (r DecisionResult) String() string {
	switch r {
	case Approved, Rejected:
		return string(r)
	default:
		return ""
	}
}

// PersonalDetailsForbiddingDiscrepancies is the fixed list of payment-relevant
// attributes that must agree across a claimant's claims before those claims can
// share a payroll run. Names are deliberately absent: a name difference is
// reconciled by the payroll provider, a bank-detail difference cannot be.
var PersonalDetailsForbiddingDiscrepancies = []string{
	"date_of_birth",
	"student_loan_plan",
	"email_address",
	"bank_sort_code",
	"bank_account_number",
	"building_society_roll_number",
}

// AmendableAttributes is the allow-list of claim attributes a post-decision
// amendment may change.
var AmendableAttributes = []string{
	"teacher_reference_number",
	"national_insurance_number",
	"date_of_birth",
	"student_loan_plan",
	"bank_sort_code",
	"bank_account_number",
	"building_society_roll_number",
	"payroll_gender",
}

// Claim is one applicant's submission for payment under a policy.
type Claim struct {
	ID        string    `gorm:"column:id;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`

	// Reference is assigned exactly once, at submission. NULL until then so
	// drafts never trip the unique index.
	Reference   *string    `gorm:"column:reference;uniqueIndex"`
	SubmittedAt *time.Time `gorm:"column:submitted_at"`

	FirstName   string     `gorm:"column:first_name"`
	MiddleName  string     `gorm:"column:middle_name"`
	Surname     string     `gorm:"column:surname"`
	DateOfBirth *time.Time `gorm:"column:date_of_birth"`

	AddressLine1 string `gorm:"column:address_line_1"`
	AddressLine2 string `gorm:"column:address_line_2"`
	AddressLine3 string `gorm:"column:address_line_3"`
	AddressLine4 string `gorm:"column:address_line_4"`
	Postcode     string `gorm:"column:postcode"`
	EmailAddress string `gorm:"column:email_address"`

	PayrollGender           PayrollGender   `gorm:"column:payroll_gender"`
	TeacherReferenceNumber  string          `gorm:"column:teacher_reference_number"`
	NationalInsuranceNumber string          `gorm:"column:national_insurance_number"`
	StudentLoanPlan         StudentLoanPlan `gorm:"column:student_loan_plan"`

	// Normalized copies maintained by the BeforeSave hook. The matching
	// queries filter on these so "QQ 12 34 56 C" and "qq123456c" land on the
	// same index entry.
	NormalizedNationalInsuranceNumber string `gorm:"column:normalized_national_insurance_number;index"`
	NormalizedTRN                     string `gorm:"column:normalized_teacher_reference_number;index"`

	BankSortCode              string `gorm:"column:bank_sort_code"`
	BankAccountNumber         string `gorm:"column:bank_account_number"`
	BuildingSocietyRollNumber string `gorm:"column:building_society_roll_number"`

	Policy policy.Tag `gorm:"column:policy"`

	// VerifiedFields lists the attribute names whose values came from the
	// external identity-verification step rather than self-report.
	VerifiedFields datatypes.JSON `gorm:"column:verified_fields"`

	// PaymentID is set when the claim joins a payroll run. A payrolled claim
	// is out of scope for all further admission checks.
	PaymentID *string `gorm:"column:payment_id;index"`

	Eligibility *Eligibility `gorm:"foreignKey:ClaimID;constraint:OnDelete:CASCADE"`
	Tasks       []Task       `gorm:"foreignKey:ClaimID;constraint:OnDelete:CASCADE"`
	Decisions   []Decision   `gorm:"foreignKey:ClaimID;constraint:OnDelete:CASCADE"`
	Amendments  []Amendment  `gorm:"foreignKey:ClaimID;constraint:OnDelete:CASCADE"`
}

func (Claim) TableName() string { return "claims" }

// BeforeSave keeps the normalized lookup columns in step with the raw values.
func (c *Claim) BeforeSave(tx *gorm.DB) error {
	c.NormalizedNationalInsuranceNumber = Normalize(c.NationalInsuranceNumber)
	c.NormalizedTRN = digitsOnly(c.TeacherReferenceNumber)
	return nil
}

// Eligibility is the policy-specific sub-record of a claim, created with it
// and immutable in shape once the scheme is fixed.
type Eligibility struct {
	ID        string         `gorm:"column:id;primaryKey"`
	ClaimID   string         `gorm:"column:claim_id;uniqueIndex"`
	Policy    policy.Tag     `gorm:"column:policy"`
	Answers   datatypes.JSON `gorm:"column:answers"`
	CreatedAt time.Time      `gorm:"column:created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (Eligibility) TableName() string { return "eligibilities" }

func (e *Eligibility) DecodedAnswers() (policy.Answers, error) {
	ans := policy.Answers{}
	if len(e.Answers) == 0 {
		return ans, nil
	}
	if err := json.Unmarshal(e.Answers, &ans); err != nil {
		return nil, err
	}
	return ans, nil
}

// Task is one completed checking step on a claim.
type Task struct {
	ID        string    `gorm:"column:id;primaryKey"`
	ClaimID   string    `gorm:"column:claim_id;uniqueIndex:idx_tasks_claim_name"`
	Name      string    `gorm:"column:name;uniqueIndex:idx_tasks_claim_name"`
	Passed    bool      `gorm:"column:passed"`
	Manual    bool      `gorm:"column:manual"`
	CreatedBy string    `gorm:"column:created_by"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Task) TableName() string { return "tasks" }

// Decision is the approve/reject outcome recorded for a claim. Append-only.
type Decision struct {
	ID        string         `gorm:"column:id;primaryKey"`
	ClaimID   string         `gorm:"column:claim_id;index"`
	Result    DecisionResult `gorm:"column:result"`
	Notes     string         `gorm:"column:notes"`
	CreatedBy string         `gorm:"column:created_by"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (Decision) TableName() string { return "decisions" }

// Amendment records a post-decision corrective edit. Append-only; the diff
// keeps the before/after value of every changed attribute for audit.
type Amendment struct {
	ID        string         `gorm:"column:id;primaryKey"`
	ClaimID   string         `gorm:"column:claim_id;index"`
	Diff      datatypes.JSON `gorm:"column:diff"`
	Notes     string         `gorm:"column:notes"`
	CreatedBy string         `gorm:"column:created_by"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (Amendment) TableName() string { return "amendments" }

func (c *Claim) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{c.FirstName, c.MiddleName, c.Surname} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func (c *Claim) Submitted() bool {
	return c.SubmittedAt != nil
}

// LatestDecision returns the active decision, or nil when the claim is
// undecided. Decisions are append-only; the newest entry is the active one.
func (c *Claim) LatestDecision() *Decision {
	if len(c.Decisions) == 0 {
		return nil
	}
	latest := &c.Decisions[0]
	for i := range c.Decisions {
		if c.Decisions[i].CreatedAt.After(latest.CreatedAt) {
			latest = &c.Decisions[i]
		}
	}
	return latest
}

// Approvable reports whether a decision may be recorded: the claim has been
// submitted and no decision exists yet.
func (c *Claim) Approvable() bool {
	return c.Submitted() && c.LatestDecision() == nil
}

// DecisionUndoable reports whether a post-decision amendment is permitted:
// a decision exists and the claim has not been paid.
func (c *Claim) DecisionUndoable() bool {
	return c.LatestDecision() != nil && !c.Payrolled()
}

// Payrollable reports whether the claim is approved and not yet part of any
// payroll run.
func (c *Claim) Payrollable() bool {
	d := c.LatestDecision()
	return d != nil && d.Result == Approved && !c.Payrolled()
}

func (c *Claim) Payrolled() bool {
	return c.PaymentID != nil
}

func (c *Claim) VerifiedFieldNames() []string {
	if len(c.VerifiedFields) == 0 {
		return nil
	}
	var names []string
	if err := json.Unmarshal(c.VerifiedFields, &names); err != nil {
		return nil
	}
	return names
}

func (c *Claim) PayrollGenderVerified() bool {
	for _, f := range c.VerifiedFieldNames() {
		if f == "payroll_gender" {
			return true
		}
	}
	return false
}

func (c *Claim) AddressVerified() bool {
	address := map[string]bool{
		"address_line_1": true,
		"address_line_2": true,
		"address_line_3": true,
		"address_line_4": true,
		"postcode":       true,
	}
	for _, f := range c.VerifiedFieldNames() {
		if address[f] {
			return true
		}
	}
	return false
}

// IdentityKey is the strong, policy-independent claimant identifier used by
// the payroll admission check.
func (c *Claim) IdentityKey() string {
	return Normalize(c.NationalInsuranceNumber)
}

// NormalizedTeacherReferenceNumber strips the separators applicants type into
// their TRN ("12\34567", "12/34 567") down to the digits.
func (c *Claim) NormalizedTeacherReferenceNumber() string {
	return digitsOnly(c.TeacherReferenceNumber)
}

// AttributeValue returns the raw string form of a named claim attribute.
// Unknown names return "".
func (c *Claim) AttributeValue(name string) string {
	switch name {
	case "first_name":
		return c.FirstName
	case "middle_name":
		return c.MiddleName
	case "surname":
		return c.Surname
	case "date_of_birth":
		if c.DateOfBirth == nil {
			return ""
		}
		return c.DateOfBirth.Format("2006-01-02")
	case "email_address":
		return c.EmailAddress
	case "payroll_gender":
		return string(c.PayrollGender)
	case "teacher_reference_number":
		return c.TeacherReferenceNumber
	case "national_insurance_number":
		return c.NationalInsuranceNumber
	case "student_loan_plan":
		return string(c.StudentLoanPlan)
	case "bank_sort_code":
		return c.BankSortCode
	case "bank_account_number":
		return c.BankAccountNumber
	case "building_society_roll_number":
		return c.BuildingSocietyRollNumber
	default:
		return ""
	}
}

// SetAttribute writes a claim attribute by name. Callers applying amendments
// are responsible for restricting names to AmendableAttributes first.
func (c *Claim) SetAttribute(name, value string) error {
	switch name {
	case "first_name":
		c.FirstName = value
	case "middle_name":
		c.MiddleName = value
	case "surname":
		c.Surname = value
	case "address_line_1":
		c.AddressLine1 = value
	case "address_line_2":
		c.AddressLine2 = value
	case "address_line_3":
		c.AddressLine3 = value
	case "address_line_4":
		c.AddressLine4 = value
	case "postcode":
		c.Postcode = value
	case "email_address":
		c.EmailAddress = value
	case "teacher_reference_number":
		c.TeacherReferenceNumber = value
	case "national_insurance_number":
		c.NationalInsuranceNumber = value
	case "date_of_birth":
		t, err := time.Parse("2006-01-02", value)
		if err != nil {
			return err
		}
		c.DateOfBirth = &t
	case "student_loan_plan":
		c.StudentLoanPlan = StudentLoanPlan(value)
	case "bank_sort_code":
		c.BankSortCode = value
	case "bank_account_number":
		c.BankAccountNumber = value
	case "building_society_roll_number":
		c.BuildingSocietyRollNumber = value
	case "payroll_gender":
		c.PayrollGender = PayrollGender(value)
	default:
		return fmt.Errorf("unknown claim attribute %q", name)
	}
	return nil
}

// NormalizedAttribute is the comparison form of an attribute: lowercased with
// whitespace and punctuation stripped, so "11-11-11" and "111111" agree.
func (c *Claim) NormalizedAttribute(name string) string {
	return Normalize(c.AttributeValue(name))
}

var nonAlphaNumeric = regexp.MustCompile(`[^a-z0-9]`)

// Normalize lowercases a value and strips everything but letters and digits.
func Normalize(s string) string {
	return nonAlphaNumeric.ReplaceAllString(strings.ToLower(s), "")
}

var notDigit = regexp.MustCompile(`\D`)

func digitsOnly(s string) string {
	return notDigit.ReplaceAllString(s, "")
}
