package claim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplicableTaskNamesBaseAndPolicyExtras(t *testing.T) {
	svc, _ := newTestService(t)

	c, _ := submitClaim(t, svc, nil)

	applicable, incomplete, err := svc.TaskNames(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"qualifications", "employment", "student_loan_amount"}, applicable)
	require.Equal(t, applicable, incomplete)
}

func TestApplicableTaskNamesAppendsMatchingDetails(t *testing.T) {
	svc, _ := newTestService(t)

	c, _ := submitClaim(t, svc, nil)

	// A second submitted claim with the same TRN triggers matching_details,
	// appended live on both claims.
	submitClaim(t, svc, map[string]string{
		"national_insurance_number": "AB123456A",
		"teacher_reference_number":  "12 34567",
	})

	applicable, _, err := svc.TaskNames(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"qualifications", "employment", "student_loan_amount", MatchingDetailsTaskName}, applicable)
}

func TestMatchingDetailsIgnoresDrafts(t *testing.T) {
	svc, _ := newTestService(t)

	c, _ := submitClaim(t, svc, nil)

	// Same TRN but never submitted.
	buildDraft(t, svc, map[string]string{"national_insurance_number": "AB123456A"})

	applicable, _, err := svc.TaskNames(context.Background(), c.ID)
	require.NoError(t, err)
	require.NotContains(t, applicable, MatchingDetailsTaskName)
}

func TestIncompleteTaskNamesPreservesOrder(t *testing.T) {
	svc, _ := newTestService(t)

	c, _ := submitClaim(t, svc, nil)

	_, err := svc.CompleteTask(context.Background(), c.ID, "employment", true, false, "checker@example.com")
	require.NoError(t, err)

	_, incomplete, err := svc.TaskNames(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"qualifications", "student_loan_amount"}, incomplete)
}

func TestDecisionWaitsForLateMatchingDetails(t *testing.T) {
	svc, _ := newTestService(t)

	c, _ := submitClaim(t, svc, nil)
	completeAllTasks(t, svc, c.ID)

	// A matching claim arriving after the base tasks were completed makes the
	// claim incomplete again until matching_details is recorded.
	submitClaim(t, svc, map[string]string{
		"national_insurance_number": "AB123456A",
	})

	_, incomplete, err := svc.TaskNames(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, []string{MatchingDetailsTaskName}, incomplete)
}
