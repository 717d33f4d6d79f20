package claim

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"claimpay/pkg/errutil"
	"claimpay/pkg/reference"
	"claimpay/pkg/task"
	"claimpay/services/policy"
)

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	asynq   task.Enqueuer
	matcher *MatchingFinder

	// newReference yields candidate claim references at submission.
	newReference func() (string, error)
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Asynq task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:           p.DB,
		node:         p.Node,
		asynq:        p.Asynq,
		matcher:      NewMatchingFinder(p.DB),
		newReference: reference.New,
	}
}

// Matcher exposes the consistency engine backed by the service's database.
func (s *Service) Matcher() *MatchingFinder {
	return s.matcher
}

// BuildParams carries everything needed to create a draft claim. Attributes
// and VerifiedFields come from the external identity-verification step
// (already parsed into a flat mapping); Answers are the scheme-specific
// eligibility answers collected by the question flow.
type BuildParams struct {
	Policy         policy.Tag
	Attributes     map[string]string
	VerifiedFields []string
	Answers        policy.Answers
}

// Build creates a draft claim together with its eligibility sub-record.
func (s *Service) Build(ctx context.Context, p BuildParams) (*Claim, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := s.logWith(span)

	if _, ok := policy.Lookup(p.Policy); !ok {
		return nil, errutil.ValidationFailed("unknown policy", nil,
			errutil.WithDetails(errutil.Detail{Field: "policy", Message: string(p.Policy)}))
	}

	c := &Claim{
		ID:     s.node.Generate().String(),
		Policy: p.Policy,
	}
	for name, value := range p.Attributes {
		if err := c.SetAttribute(name, value); err != nil {
			return nil, errutil.ValidationFailed("invalid claim attribute", err,
				errutil.WithDetails(errutil.Detail{Field: name, Message: value}))
		}
	}

	if len(p.VerifiedFields) > 0 {
		verified, err := json.Marshal(p.VerifiedFields)
		if err != nil {
			return nil, errutil.Internal("failed to encode verified fields", err)
		}
		c.VerifiedFields = verified
	}

	answers, err := json.Marshal(p.Answers)
	if err != nil {
		return nil, errutil.Internal("failed to encode eligibility answers", err)
	}
	c.Eligibility = &Eligibility{
		ID:      s.node.Generate().String(),
		ClaimID: c.ID,
		Policy:  p.Policy,
		Answers: answers,
	}

	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		zapLog.Error("failed to create claim", zap.Error(err))
		return nil, errutil.Internal("failed to create claim", err)
	}

	return c, nil
}

// BuildFromVerification creates a draft claim from the identity-verification
// handoff: the provider's attribute values plus the names of the fields it
// verified. The provider's response parsing happens upstream.
func (s *Service) BuildFromVerification(ctx context.Context, tag policy.Tag, attrs map[string]string, verified []string, answers policy.Answers) (*Claim, error) {
	return s.Build(ctx, BuildParams{
		Policy:         tag,
		Attributes:     attrs,
		VerifiedFields: verified,
		Answers:        answers,
	})
}

// Get loads a claim with all of its owned collections.
func (s *Service) Get(ctx context.Context, claimID string) (*Claim, error) {
	c, err := s.find(s.db, ctx, claimID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("claim not found", nil)
	}
	return c, nil
}

// Submit transitions a submittable claim to submitted: sets submitted_at,
// assigns a unique reference (retrying on collision) and enqueues the
// submitted notification. Submitting twice is a no-op Conflict; an ineligible
// claim is rejected permanently with the policy's reason.
func (s *Service) Submit(ctx context.Context, claimID string) (string, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := s.logWith(span).With(zap.String("claim_id", claimID))

	var (
		ref   string
		email string
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		c, err := s.findForUpdate(tx, ctx, claimID)
		if err != nil {
			return err
		}
		if c == nil {
			return errutil.NotFound("claim not found", nil)
		}

		if c.Submitted() {
			zapLog.Warn("claim already submitted", zap.Stringp("reference", c.Reference))
			return errutil.Conflict("claim already submitted", nil)
		}

		if details := c.submitValidationDetails(); len(details) > 0 {
			return errutil.ValidationFailed("claim is not submittable", nil, errutil.WithDetails(details...))
		}

		eligibility, err := s.policyEligibility(c)
		if err != nil {
			return err
		}
		if !eligibility.Eligible() {
			return errutil.UnprocessableEntity("claim is not eligible", nil,
				errutil.WithDetails(errutil.Detail{Field: "eligibility", Message: eligibility.IneligibleReason()}))
		}

		now := time.Now()
		for attempt := 0; attempt < reference.MaxAttempts; attempt++ {
			candidate, err := s.newReference()
			if err != nil {
				return errutil.Internal("failed to generate claim reference", err)
			}

			var count int64
			if err := tx.WithContext(ctx).Model(&Claim{}).Where("reference = ?", candidate).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				zapLog.Warn("claim reference collision, regenerating", zap.Int("attempt", attempt+1))
				continue
			}

			c.Reference = &candidate
			c.SubmittedAt = &now

			// Savepoint so a lost race on the unique index does not poison
			// the outer transaction; the index is the authoritative backstop.
			err = tx.Transaction(func(inner *gorm.DB) error {
				return inner.WithContext(ctx).Save(c).Error
			})
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				zapLog.Warn("claim reference collision on insert, regenerating", zap.Int("attempt", attempt+1))
				c.Reference = nil
				c.SubmittedAt = nil
				continue
			}
			if err != nil {
				return err
			}

			ref = candidate
			email = c.EmailAddress
			return nil
		}

		return errutil.Internal("claim reference space exhausted", nil)
	})
	if err != nil {
		return "", err
	}

	s.notify(task.TypeClaimSubmitted, claimID, ref, email)

	return ref, nil
}

// CompleteTask records the outcome of one checking task. The task name must
// be applicable to the claim and not already recorded.
func (s *Service) CompleteTask(ctx context.Context, claimID, name string, passed, manual bool, actor string) (*Task, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	var created *Task
	err := s.db.Transaction(func(tx *gorm.DB) error {
		c, err := s.findForUpdate(tx, ctx, claimID)
		if err != nil {
			return err
		}
		if c == nil {
			return errutil.NotFound("claim not found", nil)
		}
		if !c.Submitted() {
			return errutil.Conflict("claim has not been submitted", nil)
		}

		applicable, err := NewCheckingTasks(c, s.matcher.WithTrx(tx)).ApplicableTaskNames(ctx)
		if err != nil {
			return err
		}
		if !contains(applicable, name) {
			return errutil.ValidationFailed("task is not applicable to this claim", nil,
				errutil.WithDetails(errutil.Detail{Field: "name", Message: name}))
		}

		for _, existing := range c.Tasks {
			if existing.Name == name {
				return errutil.Conflict("task already completed", nil,
					errutil.WithDetails(errutil.Detail{Field: "name", Message: name}))
			}
		}

		created = &Task{
			ID:        s.node.Generate().String(),
			ClaimID:   c.ID,
			Name:      name,
			Passed:    passed,
			Manual:    manual,
			CreatedBy: actor,
			CreatedAt: time.Now(),
		}
		return tx.WithContext(ctx).Create(created).Error
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RecordDecision appends the approve/reject outcome for a claim. The claim
// must be approvable, all checking tasks must be complete, and an approval
// additionally requires the payroll gender needed to pay the claim.
func (s *Service) RecordDecision(ctx context.Context, claimID string, result DecisionResult, notes, actor string) (*Decision, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := s.logWith(span).With(zap.String("claim_id", claimID))

	if result.String() == "" {
		return nil, errutil.ValidationFailed("decision result must be approved or rejected", nil)
	}

	var (
		created *Decision
		ref     string
		email   string
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		c, err := s.findForUpdate(tx, ctx, claimID)
		if err != nil {
			return err
		}
		if c == nil {
			return errutil.NotFound("claim not found", nil)
		}

		if !c.Approvable() {
			zapLog.Warn("claim is not approvable")
			return errutil.Conflict("claim is not approvable", nil)
		}

		incomplete, err := NewCheckingTasks(c, s.matcher.WithTrx(tx)).IncompleteTaskNames(ctx)
		if err != nil {
			return err
		}
		if len(incomplete) > 0 {
			details := make([]errutil.Detail, 0, len(incomplete))
			for _, name := range incomplete {
				details = append(details, errutil.Detail{Field: "tasks", Message: name})
			}
			return errutil.UnprocessableEntity("checking tasks incomplete", nil, errutil.WithDetails(details...))
		}

		if result == Approved && c.PayrollGender.String() == "" {
			return errutil.UnprocessableEntity("payroll gender is required before approval", nil,
				errutil.WithDetails(errutil.Detail{Field: "payroll_gender", Message: "missing"}))
		}

		created = &Decision{
			ID:        s.node.Generate().String(),
			ClaimID:   c.ID,
			Result:    result,
			Notes:     notes,
			CreatedBy: actor,
			CreatedAt: time.Now(),
		}
		if err := tx.WithContext(ctx).Create(created).Error; err != nil {
			return err
		}

		if c.Reference != nil {
			ref = *c.Reference
		}
		email = c.EmailAddress
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch result {
	case Approved:
		s.notify(task.TypeClaimApproved, claimID, ref, email)
	case Rejected:
		s.notify(task.TypeClaimRejected, claimID, ref, email)
	}

	return created, nil
}

// Amend applies a post-decision corrective edit over the amendable-attribute
// allow-list and appends the audit record. Nothing is persisted when any part
// of the amendment is invalid.
func (s *Service) Amend(ctx context.Context, claimID string, changes map[string]string, notes, actor string) (*Amendment, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if len(changes) == 0 {
		return nil, errutil.ValidationFailed("amendment contains no changes", nil)
	}

	var created *Amendment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		c, err := s.findForUpdate(tx, ctx, claimID)
		if err != nil {
			return err
		}
		if c == nil {
			return errutil.NotFound("claim not found", nil)
		}

		if !c.DecisionUndoable() {
			return errutil.Conflict("claim decision is not undoable", nil)
		}

		diff := make(map[string][2]string, len(changes))
		for name, value := range changes {
			if !contains(AmendableAttributes, name) {
				return errutil.ValidationFailed("attribute is not amendable", nil,
					errutil.WithDetails(errutil.Detail{Field: name, Message: "not amendable"}))
			}

			before := c.AttributeValue(name)
			if err := c.SetAttribute(name, value); err != nil {
				return errutil.ValidationFailed("invalid amendment value", err,
					errutil.WithDetails(errutil.Detail{Field: name, Message: value}))
			}
			if after := c.AttributeValue(name); after != before {
				diff[name] = [2]string{before, after}
			}
		}

		if len(diff) == 0 {
			return errutil.ValidationFailed("amendment changes nothing", nil)
		}

		if err := tx.WithContext(ctx).Save(c).Error; err != nil {
			return err
		}

		diffJSON, err := json.Marshal(diff)
		if err != nil {
			return errutil.Internal("failed to encode amendment diff", err)
		}

		created = &Amendment{
			ID:        s.node.Generate().String(),
			ClaimID:   c.ID,
			Diff:      diffJSON,
			Notes:     notes,
			CreatedBy: actor,
			CreatedAt: time.Now(),
		}
		return tx.WithContext(ctx).Create(created).Error
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// TaskNames resolves the applicable and incomplete checking-task names for a
// claim, freshly computed against the current claim set.
func (s *Service) TaskNames(ctx context.Context, claimID string) (applicable, incomplete []string, err error) {
	c, err := s.Get(ctx, claimID)
	if err != nil {
		return nil, nil, err
	}

	checking := NewCheckingTasks(c, s.matcher)
	applicable, err = checking.ApplicableTaskNames(ctx)
	if err != nil {
		return nil, nil, err
	}
	incomplete, err = checking.IncompleteTaskNames(ctx)
	if err != nil {
		return nil, nil, err
	}
	return applicable, incomplete, nil
}

// AwaitingDecisionCounts returns how many submitted claims have no decision
// yet, per policy. Consumed by the stats reporter.
func (s *Service) AwaitingDecisionCounts(ctx context.Context) (map[policy.Tag]int64, error) {
	counts := make(map[policy.Tag]int64, len(policy.All()))
	for _, p := range policy.All() {
		var count int64
		err := s.db.WithContext(ctx).Model(&Claim{}).
			Where("policy = ?", p.Tag()).
			Where("submitted_at IS NOT NULL").
			Where("NOT EXISTS (SELECT 1 FROM decisions WHERE decisions.claim_id = claims.id)").
			Count(&count).Error
		if err != nil {
			return nil, err
		}
		counts[p.Tag()] = count
	}
	return counts, nil
}

func (s *Service) policyEligibility(c *Claim) (policy.Eligibility, error) {
	p, ok := policy.Lookup(c.Policy)
	if !ok {
		return nil, errutil.ValidationFailed("unknown policy", nil,
			errutil.WithDetails(errutil.Detail{Field: "policy", Message: string(c.Policy)}))
	}
	if c.Eligibility == nil {
		return nil, errutil.Internal("claim has no eligibility record", nil)
	}
	answers, err := c.Eligibility.DecodedAnswers()
	if err != nil {
		return nil, errutil.Internal("failed to decode eligibility answers", err)
	}
	return p.Eligibility(answers), nil
}

func (s *Service) find(tx *gorm.DB, ctx context.Context, claimID string) (*Claim, error) {
	var c Claim
	err := tx.WithContext(ctx).
		Preload("Eligibility").
		Preload("Tasks").
		Preload("Decisions").
		Preload("Amendments").
		First(&c, "id = ?", claimID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// findForUpdate row-locks the claim for the life of the transaction so no two
// operations mutate it concurrently. Postgres only; the sqlite test database
// serializes on its single connection.
func (s *Service) findForUpdate(tx *gorm.DB, ctx context.Context, claimID string) (*Claim, error) {
	if tx.Dialector.Name() == "postgres" {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE", Table: clause.Table{Name: "claims"}})
	}
	return s.find(tx, ctx, claimID)
}

func (s *Service) notify(taskType, claimID, ref, email string) {
	if s.asynq == nil {
		return
	}

	t, err := task.NewNotifyTask(taskType, task.NotifyPayload{
		ClaimID:      claimID,
		Reference:    ref,
		EmailAddress: email,
	})
	if err != nil {
		zap.L().Error("failed to build notify task", zap.String("task_type", taskType), zap.Error(err))
		return
	}

	// Best effort: a failed enqueue never rolls back the state transition
	// that triggered it.
	if _, err := s.asynq.Enqueue(t); err != nil {
		zap.L().Warn("failed to enqueue notify task", zap.String("task_type", taskType), zap.Error(err))
	}
}

func (s *Service) logWith(span trace.Span) *zap.Logger {
	return zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
