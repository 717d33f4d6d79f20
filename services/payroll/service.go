package payroll

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"claimpay/pkg/db"
	"claimpay/pkg/errutil"
	"claimpay/pkg/task"
	"claimpay/services/claim"
	"claimpay/services/policy"
)

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	asynq task.Enqueuer
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Asynq task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		asynq: p.Asynq,
	}
}

// AssembleResult is the outcome of one run assembly. ExcludedReferences
// names the claims that were requested but held back because another claim
// from the same claimant disagrees on a payment-relevant detail; they stay
// payrollable and can join a later run once reconciled.
type AssembleResult struct {
	Run                *PayrollRun
	ExcludedReferences []string
}

// AssembleRun batches the given approved claims into a new payroll run,
// atomically marking every admitted claim as paid-in-this-run. An id that is
// unknown or not payrollable fails the whole call; a consistency conflict
// detected at admission time excludes just that claim.
func (s *Service) AssembleRun(ctx context.Context, claimIDs []string, actor string) (*AssembleResult, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)

	if len(claimIDs) == 0 {
		return nil, errutil.ValidationFailed("no claims given", nil)
	}

	// A claim listed twice is still one payment.
	unique := make([]string, 0, len(claimIDs))
	seenID := make(map[string]bool, len(claimIDs))
	for _, id := range claimIDs {
		if !seenID[id] {
			seenID[id] = true
			unique = append(unique, id)
		}
	}
	claimIDs = unique

	result := &AssembleResult{}
	notifications := make([]task.NotifyPayload, 0, len(claimIDs))

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var claims []*claim.Claim
		if err := tx.WithContext(ctx).Preload("Eligibility").Preload("Decisions").
			Find(&claims, "id IN ?", claimIDs).Error; err != nil {
			return err
		}
		if len(claims) != len(claimIDs) {
			found := make(map[string]bool, len(claims))
			for _, c := range claims {
				found[c.ID] = true
			}
			missing := make([]string, 0)
			for _, id := range claimIDs {
				if !found[id] {
					missing = append(missing, id)
				}
			}
			return errutil.NotFound("claims not found", nil,
				errutil.WithDetails(errutil.Detail{Field: "claim_ids", Message: strings.Join(missing, ", ")}))
		}

		// Serialize against concurrent assemblies touching the same
		// claimants. Keys are locked in sorted order so two runs can never
		// deadlock on each other.
		keys := make([]string, 0, len(claims))
		seen := make(map[string]bool, len(claims))
		for _, c := range claims {
			if k := c.IdentityKey(); !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := db.AdvisoryLock(tx, "payroll:"+k); err != nil {
				return err
			}
		}

		notPayrollable := make([]string, 0)
		for _, c := range claims {
			if !c.Payrollable() {
				notPayrollable = append(notPayrollable, c.ID)
			}
		}
		if len(notPayrollable) > 0 {
			return errutil.UnprocessableEntity("claims are not payrollable", nil,
				errutil.WithDetails(errutil.Detail{Field: "claim_ids", Message: strings.Join(notPayrollable, ", ")}))
		}

		matcher := claim.NewMatchingFinder(tx)
		admitted := make([]*claim.Claim, 0, len(claims))
		for _, c := range claims {
			attrs, err := matcher.AttributesPreventingPayment(ctx, c)
			if err != nil {
				return err
			}
			if len(attrs) > 0 {
				ref := c.ID
				if c.Reference != nil {
					ref = *c.Reference
				}
				zapLog.Warn("excluding claim from payroll run",
					zap.String("claim_id", c.ID),
					zap.Strings("attributes", attrs),
				)
				result.ExcludedReferences = append(result.ExcludedReferences, ref)
				continue
			}
			admitted = append(admitted, c)
		}
		if len(admitted) == 0 {
			return errutil.UnprocessableEntity("every claim was excluded by a consistency conflict", nil)
		}

		run := &PayrollRun{
			ID:        s.node.Generate().String(),
			CreatedBy: actor,
			CreatedAt: time.Now(),
		}
		if err := tx.WithContext(ctx).Create(run).Error; err != nil {
			return err
		}

		for _, c := range admitted {
			award, err := s.awardAmount(c)
			if err != nil {
				return err
			}

			payment := Payment{
				ID:           s.node.Generate().String(),
				PayrollRunID: run.ID,
				ClaimID:      c.ID,
				AwardAmount:  award,
			}
			if err := tx.WithContext(ctx).Create(&payment).Error; err != nil {
				return err
			}

			if err := tx.WithContext(ctx).Model(&claim.Claim{}).
				Where("id = ?", c.ID).
				Update("payment_id", payment.ID).Error; err != nil {
				return err
			}

			run.Payments = append(run.Payments, payment)

			ref := ""
			if c.Reference != nil {
				ref = *c.Reference
			}
			notifications = append(notifications, task.NotifyPayload{
				ClaimID:      c.ID,
				Reference:    ref,
				EmailAddress: c.EmailAddress,
			})
		}

		result.Run = run
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, payload := range notifications {
		s.notify(payload)
	}

	zapLog.Info("assembled payroll run",
		zap.String("payroll_run_id", result.Run.ID),
		zap.Int("payments", len(result.Run.Payments)),
		zap.Int("excluded", len(result.ExcludedReferences)),
	)

	return result, nil
}

// Run loads one payroll run with its payments.
func (s *Service) Run(ctx context.Context, runID string) (*PayrollRun, error) {
	var run PayrollRun
	err := s.db.WithContext(ctx).Preload("Payments").First(&run, "id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("payroll run not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// MarkDownloaded records who handed the run to the payroll provider and when.
// A run is downloaded at most once.
func (s *Service) MarkDownloaded(ctx context.Context, runID, actor string) (*PayrollRun, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	var run *PayrollRun
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var r PayrollRun
		err := tx.WithContext(ctx).Preload("Payments").First(&r, "id = ?", runID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.NotFound("payroll run not found", nil)
		}
		if err != nil {
			return err
		}

		if r.Downloaded() {
			return errutil.Conflict("payroll run already downloaded", nil)
		}

		now := time.Now()
		r.DownloadedAt = &now
		r.DownloadedBy = actor
		if err := tx.WithContext(ctx).Model(&PayrollRun{}).
			Where("id = ?", r.ID).
			Updates(map[string]any{"downloaded_at": r.DownloadedAt, "downloaded_by": r.DownloadedBy}).Error; err != nil {
			return err
		}

		run = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Service) awardAmount(c *claim.Claim) (int64, error) {
	p, ok := policy.Lookup(c.Policy)
	if !ok {
		return 0, errutil.Internal("claim has unknown policy", nil,
			errutil.WithDetails(errutil.Detail{Field: "policy", Message: string(c.Policy)}))
	}
	if c.Eligibility == nil {
		return 0, errutil.Internal("claim has no eligibility record", nil,
			errutil.WithDetails(errutil.Detail{Field: "claim_id", Message: c.ID}))
	}
	answers, err := c.Eligibility.DecodedAnswers()
	if err != nil {
		return 0, errutil.Internal("failed to decode eligibility answers", err)
	}
	return p.Eligibility(answers).AwardAmount(), nil
}

func (s *Service) notify(payload task.NotifyPayload) {
	if s.asynq == nil {
		return
	}

	t, err := task.NewNotifyTask(task.TypePaymentConfirmation, payload)
	if err != nil {
		zap.L().Error("failed to build payment confirmation task", zap.Error(err))
		return
	}
	if _, err := s.asynq.Enqueue(t); err != nil {
		zap.L().Warn("failed to enqueue payment confirmation", zap.String("claim_id", payload.ClaimID), zap.Error(err))
	}
}
