package claim

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"claimpay/pkg/errutil"
	"claimpay/pkg/reference"
	"claimpay/pkg/task"
	"claimpay/services/policy"
	"claimpay/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return nil, nil
}

func (f *fakeEnqueuer) types() []string {
	out := make([]string, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t.Type())
	}
	return out
}

func newTestService(t *testing.T) (*Service, *fakeEnqueuer) {
	t.Helper()

	db := testutil.NewTestDB(t, &Claim{}, &Eligibility{}, &Task{}, &Decision{}, &Amendment{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	enqueuer := &fakeEnqueuer{}
	svc := NewService(ServiceParams{DB: db, Node: node, Asynq: enqueuer})
	return svc, enqueuer
}

func validAttributes() map[string]string {
	return map[string]string{
		"first_name":                "Jo",
		"surname":                   "Bloggs",
		"date_of_birth":             "1988-03-01",
		"address_line_1":            "1 Test Row",
		"postcode":                  "TE5 7ER",
		"email_address":             "jo.bloggs@example.com",
		"national_insurance_number": "QQ123456C",
		"teacher_reference_number":  "1234567",
		"student_loan_plan":         "plan_1",
		"payroll_gender":            "female",
		"bank_sort_code":            "123456",
		"bank_account_number":       "12345678",
	}
}

func eligibleAnswers() policy.Answers {
	return policy.Answers{
		"qts_award_year":                "on_or_after_cut_off_date",
		"employment_status":             "claim_school",
		"physics_taught":                true,
		"had_leadership_position":       false,
		"student_loan_repayment_amount": 110000,
	}
}

func buildDraft(t *testing.T, svc *Service, overrides map[string]string) *Claim {
	t.Helper()

	attrs := validAttributes()
	for k, v := range overrides {
		attrs[k] = v
	}
	c, err := svc.Build(context.Background(), BuildParams{
		Policy:     policy.StudentLoans,
		Attributes: attrs,
		Answers:    eligibleAnswers(),
	})
	require.NoError(t, err)
	return c
}

func submitClaim(t *testing.T, svc *Service, overrides map[string]string) (*Claim, string) {
	t.Helper()

	c := buildDraft(t, svc, overrides)
	ref, err := svc.Submit(context.Background(), c.ID)
	require.NoError(t, err)
	return c, ref
}

func completeAllTasks(t *testing.T, svc *Service, claimID string) {
	t.Helper()

	applicable, _, err := svc.TaskNames(context.Background(), claimID)
	require.NoError(t, err)
	for _, name := range applicable {
		_, err := svc.CompleteTask(context.Background(), claimID, name, true, false, "checker@example.com")
		require.NoError(t, err)
	}
}

func TestBuildCreatesClaimWithEligibility(t *testing.T) {
	svc, _ := newTestService(t)

	c := buildDraft(t, svc, nil)

	stored, err := svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, "Jo Bloggs", stored.FullName())
	require.False(t, stored.Submitted())
	require.Nil(t, stored.Reference)
	require.Equal(t, "qq123456c", stored.NormalizedNationalInsuranceNumber)
	require.Equal(t, "1234567", stored.NormalizedTRN)

	require.NotNil(t, stored.Eligibility)
	ans, err := stored.Eligibility.DecodedAnswers()
	require.NoError(t, err)
	require.Equal(t, int64(110000), ans.Int64("student_loan_repayment_amount"))
}

func TestBuildFromVerification(t *testing.T) {
	svc, _ := newTestService(t)

	c, err := svc.BuildFromVerification(context.Background(), policy.StudentLoans,
		validAttributes(), []string{"payroll_gender", "postcode"}, eligibleAnswers())
	require.NoError(t, err)

	stored, err := svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"payroll_gender", "postcode"}, stored.VerifiedFieldNames())
	require.True(t, stored.PayrollGenderVerified())
	require.True(t, stored.AddressVerified())
}

func TestBuildUnknownPolicy(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Build(context.Background(), BuildParams{Policy: "free-lunches"})
	require.Error(t, err)
	require.Equal(t, errutil.StatusValidationFailed, errutil.CodeOf(err))
}

func TestSubmitAssignsReference(t *testing.T) {
	svc, enqueuer := newTestService(t)

	c, ref := submitClaim(t, svc, nil)
	require.Len(t, ref, reference.Length)

	stored, err := svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.True(t, stored.Submitted())
	require.NotNil(t, stored.Reference)
	require.Equal(t, ref, *stored.Reference)

	require.Equal(t, []string{task.TypeClaimSubmitted}, enqueuer.types())
}

func TestSubmitRetriesOnReferenceCollision(t *testing.T) {
	svc, _ := newTestService(t)

	first, taken := submitClaim(t, svc, nil)
	require.NotEmpty(t, first.ID)

	// The generator keeps handing out the taken reference before a fresh one.
	refs := []string{taken, taken, "ZZZZ2222"}
	svc.newReference = func() (string, error) {
		next := refs[0]
		refs = refs[1:]
		return next, nil
	}

	c := buildDraft(t, svc, map[string]string{
		"national_insurance_number": "AB123456A",
		"teacher_reference_number":  "7654321",
	})
	ref, err := svc.Submit(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, "ZZZZ2222", ref)
	require.Empty(t, refs)
}

func TestSubmitFailsWhenReferencesExhausted(t *testing.T) {
	svc, _ := newTestService(t)

	_, taken := submitClaim(t, svc, nil)

	svc.newReference = func() (string, error) { return taken, nil }

	c := buildDraft(t, svc, map[string]string{
		"national_insurance_number": "AB123456A",
		"teacher_reference_number":  "7654321",
	})
	_, err := svc.Submit(context.Background(), c.ID)
	require.Error(t, err)
	require.Equal(t, errutil.StatusInternal, errutil.CodeOf(err))

	stored, err := svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.False(t, stored.Submitted())
	require.Nil(t, stored.Reference)
}

func TestSubmitTwiceIsConflict(t *testing.T) {
	svc, _ := newTestService(t)

	c, _ := submitClaim(t, svc, nil)

	_, err := svc.Submit(context.Background(), c.ID)
	require.Error(t, err)
	require.Equal(t, errutil.StatusConflict, errutil.CodeOf(err))
}

func TestSubmitValidationFailure(t *testing.T) {
	svc, _ := newTestService(t)

	c := buildDraft(t, svc, map[string]string{
		"bank_account_number": "",
		"email_address":       "not-an-email",
	})

	_, err := svc.Submit(context.Background(), c.ID)
	require.Error(t, err)
	require.Equal(t, errutil.StatusValidationFailed, errutil.CodeOf(err))

	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	fields := make([]string, 0, len(base.Details))
	for _, d := range base.Details {
		fields = append(fields, d.Field)
	}
	require.Contains(t, fields, "bank_account_number")
	require.Contains(t, fields, "email_address")

	stored, err := svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.False(t, stored.Submitted())
}

func TestSubmitIneligibleClaim(t *testing.T) {
	svc, _ := newTestService(t)

	attrs := validAttributes()
	answers := eligibleAnswers()
	answers["qts_award_year"] = "before_cut_off_date"

	c, err := svc.Build(context.Background(), BuildParams{
		Policy:     policy.StudentLoans,
		Attributes: attrs,
		Answers:    answers,
	})
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), c.ID)
	require.Error(t, err)
	require.Equal(t, errutil.StatusUnprocessable, errutil.CodeOf(err))

	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Len(t, base.Details, 1)
	require.Equal(t, "ineligible_qts_award_year", base.Details[0].Message)
}

func TestCompleteTaskOnDraftClaim(t *testing.T) {
	svc, _ := newTestService(t)

	c := buildDraft(t, svc, nil)

	_, err := svc.CompleteTask(context.Background(), c.ID, "qualifications", true, false, "checker@example.com")
	require.Error(t, err)
	require.Equal(t, errutil.StatusConflict, errutil.CodeOf(err))
}

func TestCompleteTaskNotApplicable(t *testing.T) {
	svc, _ := newTestService(t)

	c, _ := submitClaim(t, svc, nil)

	_, err := svc.CompleteTask(context.Background(), c.ID, "matching_details", true, false, "checker@example.com")
	require.Error(t, err)
	require.Equal(t, errutil.StatusValidationFailed, errutil.CodeOf(err))
}

func TestCompleteTaskTwiceIsConflict(t *testing.T) {
	svc, _ := newTestService(t)

	c, _ := submitClaim(t, svc, nil)

	created, err := svc.CompleteTask(context.Background(), c.ID, "qualifications", true, false, "checker@example.com")
	require.NoError(t, err)
	require.Equal(t, "qualifications", created.Name)
	require.True(t, created.Passed)

	_, err = svc.CompleteTask(context.Background(), c.ID, "qualifications", false, true, "checker@example.com")
	require.Error(t, err)
	require.Equal(t, errutil.StatusConflict, errutil.CodeOf(err))
}

func TestRecordDecisionWithIncompleteTasks(t *testing.T) {
	svc, _ := newTestService(t)

	c, _ := submitClaim(t, svc, nil)

	_, err := svc.RecordDecision(context.Background(), c.ID, Approved, "", "approver@example.com")
	require.Error(t, err)
	require.Equal(t, errutil.StatusUnprocessable, errutil.CodeOf(err))
}

func TestApproveRequiresPayrollGender(t *testing.T) {
	svc, _ := newTestService(t)

	c, _ := submitClaim(t, svc, map[string]string{"payroll_gender": ""})
	completeAllTasks(t, svc, c.ID)

	_, err := svc.RecordDecision(context.Background(), c.ID, Approved, "", "approver@example.com")
	require.Error(t, err)
	require.Equal(t, errutil.StatusUnprocessable, errutil.CodeOf(err))

	// Rejection needs no payroll gender.
	d, err := svc.RecordDecision(context.Background(), c.ID, Rejected, "duplicate claim", "approver@example.com")
	require.NoError(t, err)
	require.Equal(t, Rejected, d.Result)
}

func TestApproveClaim(t *testing.T) {
	svc, enqueuer := newTestService(t)

	c, _ := submitClaim(t, svc, nil)
	completeAllTasks(t, svc, c.ID)

	d, err := svc.RecordDecision(context.Background(), c.ID, Approved, "all checks passed", "approver@example.com")
	require.NoError(t, err)
	require.Equal(t, Approved, d.Result)

	stored, err := svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.False(t, stored.Approvable())
	require.True(t, stored.Payrollable())
	require.Contains(t, enqueuer.types(), task.TypeClaimApproved)

	_, err = svc.RecordDecision(context.Background(), c.ID, Rejected, "", "approver@example.com")
	require.Error(t, err)
	require.Equal(t, errutil.StatusConflict, errutil.CodeOf(err))
}

func TestAmendBeforeDecisionIsConflict(t *testing.T) {
	svc, _ := newTestService(t)

	c, _ := submitClaim(t, svc, nil)

	_, err := svc.Amend(context.Background(), c.ID, map[string]string{"bank_account_number": "87654321"}, "", "admin@example.com")
	require.Error(t, err)
	require.Equal(t, errutil.StatusConflict, errutil.CodeOf(err))
}

func TestAmendDisallowedAttribute(t *testing.T) {
	svc, _ := newTestService(t)

	c, _ := submitClaim(t, svc, nil)
	completeAllTasks(t, svc, c.ID)
	_, err := svc.RecordDecision(context.Background(), c.ID, Approved, "", "approver@example.com")
	require.NoError(t, err)

	_, err = svc.Amend(context.Background(), c.ID, map[string]string{"first_name": "Josephine"}, "", "admin@example.com")
	require.Error(t, err)
	require.Equal(t, errutil.StatusValidationFailed, errutil.CodeOf(err))

	stored, err := svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, "Jo", stored.FirstName)
	require.Empty(t, stored.Amendments)
}

func TestAmendRecordsDiff(t *testing.T) {
	svc, _ := newTestService(t)

	c, _ := submitClaim(t, svc, nil)
	completeAllTasks(t, svc, c.ID)
	_, err := svc.RecordDecision(context.Background(), c.ID, Approved, "", "approver@example.com")
	require.NoError(t, err)

	a, err := svc.Amend(context.Background(), c.ID, map[string]string{
		"bank_account_number": "87654321",
		"date_of_birth":       "1988-03-02",
	}, "claimant phoned in a correction", "admin@example.com")
	require.NoError(t, err)

	var diff map[string][2]string
	require.NoError(t, json.Unmarshal(a.Diff, &diff))
	require.Equal(t, [2]string{"12345678", "87654321"}, diff["bank_account_number"])
	require.Equal(t, [2]string{"1988-03-01", "1988-03-02"}, diff["date_of_birth"])

	stored, err := svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, "87654321", stored.BankAccountNumber)
	require.Equal(t, "1988-03-02", stored.DateOfBirth.Format("2006-01-02"))
	require.Len(t, stored.Amendments, 1)
}

func TestAwaitingDecisionCounts(t *testing.T) {
	svc, _ := newTestService(t)

	// One draft, one submitted, one decided.
	buildDraft(t, svc, nil)
	submitClaim(t, svc, map[string]string{
		"national_insurance_number": "AB123456A",
		"teacher_reference_number":  "7654321",
	})
	decided, _ := submitClaim(t, svc, map[string]string{
		"national_insurance_number": "CD123456B",
		"teacher_reference_number":  "1111111",
	})
	completeAllTasks(t, svc, decided.ID)
	_, err := svc.RecordDecision(context.Background(), decided.ID, Approved, "", "approver@example.com")
	require.NoError(t, err)

	counts, err := svc.AwaitingDecisionCounts(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[policy.StudentLoans])
	require.Equal(t, int64(0), counts[policy.MathsAndPhysics])
}

func TestGetUnknownClaim(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Get(context.Background(), "does-not-exist")
	require.Error(t, err)
	require.Equal(t, errutil.StatusNotFound, errutil.CodeOf(err))
}

func TestNotifyFailureDoesNotFailSubmission(t *testing.T) {
	svc, enqueuer := newTestService(t)
	enqueuer.err = asynq.ErrServerClosed

	c := buildDraft(t, svc, nil)
	ref, err := svc.Submit(context.Background(), c.ID)
	require.NoError(t, err)
	require.NotEmpty(t, ref)
}

func TestLatestDecisionPicksNewest(t *testing.T) {
	now := time.Now()
	c := &Claim{Decisions: []Decision{
		{ID: "1", Result: Rejected, CreatedAt: now.Add(-time.Hour)},
		{ID: "2", Result: Approved, CreatedAt: now},
	}}
	require.Equal(t, "2", c.LatestDecision().ID)
	require.True(t, c.DecisionUndoable())
}
