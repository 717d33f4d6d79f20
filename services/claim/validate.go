package claim

import (
	"regexp"
	"strings"

	"claimpay/pkg/errutil"
)

// niFormat matches a normalized National Insurance number: two prefix
// letters, six digits, one suffix letter A-D.
var niFormat = regexp.MustCompile(`^[a-z]{2}[0-9]{6}[a-d]$`)

// submitValidationDetails returns one detail per field blocking submission.
// An empty result means the claim passes the submit rules; eligibility is
// checked separately by the policy.
func (c *Claim) submitValidationDetails() []errutil.Detail {
	var details []errutil.Detail

	require := func(field, value, msg string) {
		if strings.TrimSpace(value) == "" {
			details = append(details, errutil.Detail{Field: field, Message: msg})
		}
	}

	require("first_name", c.FirstName, "first name is required")
	require("surname", c.Surname, "surname is required")
	require("address_line_1", c.AddressLine1, "address is required")
	require("postcode", c.Postcode, "postcode is required")

	if c.DateOfBirth == nil {
		details = append(details, errutil.Detail{Field: "date_of_birth", Message: "date of birth is required"})
	}

	if !strings.Contains(c.EmailAddress, "@") {
		details = append(details, errutil.Detail{Field: "email_address", Message: "a valid email address is required"})
	}

	if !niFormat.MatchString(Normalize(c.NationalInsuranceNumber)) {
		details = append(details, errutil.Detail{Field: "national_insurance_number", Message: "a valid National Insurance number is required"})
	}

	if len(c.NormalizedTeacherReferenceNumber()) != 7 {
		details = append(details, errutil.Detail{Field: "teacher_reference_number", Message: "teacher reference number must be 7 digits"})
	}

	if c.StudentLoanPlan.String() == "" {
		details = append(details, errutil.Detail{Field: "student_loan_plan", Message: "student loan plan is required"})
	}

	if len(digitsOnly(c.BankSortCode)) != 6 {
		details = append(details, errutil.Detail{Field: "bank_sort_code", Message: "bank sort code must be 6 digits"})
	}

	if len(digitsOnly(c.BankAccountNumber)) != 8 {
		details = append(details, errutil.Detail{Field: "bank_account_number", Message: "bank account number must be 8 digits"})
	}

	return details
}

// Submittable reports whether the claim passes the submit rules and has not
// already been submitted. Eligibility is not part of this check.
func (c *Claim) Submittable() bool {
	return !c.Submitted() && len(c.submitValidationDetails()) == 0
}
