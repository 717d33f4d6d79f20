package claim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestNormalize(t *testing.T) {
	require.Equal(t, "qq123456c", Normalize("QQ 12 34 56 C"))
	require.Equal(t, "123456", Normalize("12-34-56"))
	require.Equal(t, "", Normalize("  --  "))
}

func TestNormalizedTeacherReferenceNumber(t *testing.T) {
	c := &Claim{TeacherReferenceNumber: `12\34 567`}
	require.Equal(t, "1234567", c.NormalizedTeacherReferenceNumber())
}

func TestFullNameSkipsBlankParts(t *testing.T) {
	c := &Claim{FirstName: "Jo", Surname: "Bloggs"}
	require.Equal(t, "Jo Bloggs", c.FullName())

	c.MiddleName = "Frances"
	require.Equal(t, "Jo Frances Bloggs", c.FullName())
}

func TestAttributeRoundTrip(t *testing.T) {
	c := &Claim{}
	require.NoError(t, c.SetAttribute("date_of_birth", "1988-03-01"))
	require.Equal(t, "1988-03-01", c.AttributeValue("date_of_birth"))

	require.Error(t, c.SetAttribute("date_of_birth", "01/03/1988"))
	require.Error(t, c.SetAttribute("shoe_size", "9"))
}

func TestSubmittableRequiresCoreDetails(t *testing.T) {
	c := &Claim{}
	require.False(t, c.Submittable())

	dob := time.Date(1988, 3, 1, 0, 0, 0, 0, time.UTC)
	c = &Claim{
		FirstName:               "Jo",
		Surname:                 "Bloggs",
		DateOfBirth:             &dob,
		AddressLine1:            "1 Test Row",
		Postcode:                "TE5 7ER",
		EmailAddress:            "jo@example.com",
		NationalInsuranceNumber: "QQ123456C",
		TeacherReferenceNumber:  "1234567",
		StudentLoanPlan:         Plan1,
		BankSortCode:            "12-34-56",
		BankAccountNumber:       "12345678",
	}
	require.True(t, c.Submittable())

	c.NationalInsuranceNumber = "QQ123456Z"
	require.False(t, c.Submittable())
}

func TestLifecyclePredicates(t *testing.T) {
	now := time.Now()
	paymentID := "pay-1"

	c := &Claim{}
	require.False(t, c.Submitted())
	require.False(t, c.Approvable())
	require.False(t, c.Payrollable())

	c.SubmittedAt = &now
	require.True(t, c.Approvable())

	c.Decisions = []Decision{{ID: "1", Result: Approved, CreatedAt: now}}
	require.False(t, c.Approvable())
	require.True(t, c.Payrollable())
	require.True(t, c.DecisionUndoable())

	c.PaymentID = &paymentID
	require.True(t, c.Payrolled())
	require.False(t, c.Payrollable())
	require.False(t, c.DecisionUndoable())
}

func TestVerifiedFieldHelpers(t *testing.T) {
	c := &Claim{VerifiedFields: datatypes.JSON(`["payroll_gender","postcode"]`)}
	require.True(t, c.PayrollGenderVerified())
	require.True(t, c.AddressVerified())

	c = &Claim{VerifiedFields: datatypes.JSON(`["first_name"]`)}
	require.False(t, c.PayrollGenderVerified())
	require.False(t, c.AddressVerified())
}
