package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"claimpay/pkg/config"
	"claimpay/pkg/errutil"
	"claimpay/services/claim"
	"claimpay/services/payroll"
	"claimpay/services/policy"
)

// Handler is the admin-facing HTTP surface: claim checking, decisions,
// amendments and payroll run assembly. Claimant-facing question flows live in
// a separate frontend and talk to the same claim service.
type Handler struct {
	claims   *claim.Service
	payrolls *payroll.Service
	db       *gorm.DB
	redis    *redis.Client
}

type HandlerParams struct {
	fx.In
	Claims   *claim.Service
	Payrolls *payroll.Service
	DB       *gorm.DB
	Redis    *redis.Client `optional:"true"`
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{claims: p.Claims, payrolls: p.Payrolls, db: p.DB, redis: p.Redis}
}

func NewRouter(cfg *config.Config, h *Handler) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", h.healthz)
	r.GET("/readyz", h.readyz)

	admin := r.Group("/admin")
	{
		admin.POST("/claims", h.buildClaim)
		admin.GET("/claims/:id", h.getClaim)
		admin.POST("/claims/:id/submit", h.submitClaim)
		admin.GET("/claims/:id/tasks", h.claimTasks)
		admin.POST("/claims/:id/tasks/:name", h.completeTask)
		admin.POST("/claims/:id/decision", h.recordDecision)
		admin.POST("/claims/:id/amendments", h.amendClaim)
		admin.GET("/claims/:id/payment-conflicts", h.paymentConflicts)

		admin.POST("/payroll-runs", h.assembleRun)
		admin.GET("/payroll-runs/:id", h.getRun)
		admin.POST("/payroll-runs/:id/download", h.markDownloaded)
	}

	return r
}

var Module = fx.Module("httpapi",
	fx.Provide(
		NewHandler,
		NewRouter,
	),
)

func renderError(c *gin.Context, err error) {
	var base errutil.BaseError
	if errors.As(err, &base) {
		c.JSON(base.Code.HTTPStatus(), base.JSON())
		return
	}

	zap.L().Error("unhandled error", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{"code": errutil.StatusInternal, "message": "internal error"},
	})
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) readyz(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err == nil && h.redis != nil {
		err = h.redis.Ping(c.Request.Context()).Err()
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type buildClaimRequest struct {
	Policy         string            `json:"policy" binding:"required"`
	Attributes     map[string]string `json:"attributes"`
	VerifiedFields []string          `json:"verified_fields"`
	Answers        policy.Answers    `json:"answers"`
}

func (h *Handler) buildClaim(c *gin.Context) {
	var req buildClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errutil.BadRequest("invalid request body", err))
		return
	}

	created, err := h.claims.Build(c.Request.Context(), claim.BuildParams{
		Policy:         policy.Tag(req.Policy),
		Attributes:     req.Attributes,
		VerifiedFields: req.VerifiedFields,
		Answers:        req.Answers,
	})
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, claimResponse(created))
}

func (h *Handler) getClaim(c *gin.Context) {
	found, err := h.claims.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, claimResponse(found))
}

func (h *Handler) submitClaim(c *gin.Context) {
	ref, err := h.claims.Submit(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reference": ref})
}

func (h *Handler) claimTasks(c *gin.Context) {
	applicable, incomplete, err := h.claims.TaskNames(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"applicable": applicable,
		"incomplete": incomplete,
	})
}

type completeTaskRequest struct {
	Passed    bool   `json:"passed"`
	Manual    bool   `json:"manual"`
	CreatedBy string `json:"created_by" binding:"required"`
}

func (h *Handler) completeTask(c *gin.Context) {
	var req completeTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errutil.BadRequest("invalid request body", err))
		return
	}

	created, err := h.claims.CompleteTask(c.Request.Context(), c.Param("id"), c.Param("name"), req.Passed, req.Manual, req.CreatedBy)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":      created.ID,
		"name":    created.Name,
		"passed":  created.Passed,
		"manual":  created.Manual,
		"created": created.CreatedAt,
	})
}

type decisionRequest struct {
	Result    string `json:"result" binding:"required"`
	Notes     string `json:"notes"`
	CreatedBy string `json:"created_by" binding:"required"`
}

func (h *Handler) recordDecision(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errutil.BadRequest("invalid request body", err))
		return
	}

	created, err := h.claims.RecordDecision(c.Request.Context(), c.Param("id"), claim.DecisionResult(req.Result), req.Notes, req.CreatedBy)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":      created.ID,
		"result":  created.Result,
		"created": created.CreatedAt,
	})
}

type amendmentRequest struct {
	Changes   map[string]string `json:"changes" binding:"required"`
	Notes     string            `json:"notes"`
	CreatedBy string            `json:"created_by" binding:"required"`
}

func (h *Handler) amendClaim(c *gin.Context) {
	var req amendmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errutil.BadRequest("invalid request body", err))
		return
	}

	created, err := h.claims.Amend(c.Request.Context(), c.Param("id"), req.Changes, req.Notes, req.CreatedBy)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":      created.ID,
		"diff":    created.Diff,
		"created": created.CreatedAt,
	})
}

func (h *Handler) paymentConflicts(c *gin.Context) {
	found, err := h.claims.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}

	matcher := h.claims.Matcher()
	preventing, err := matcher.ClaimsPreventingPayment(c.Request.Context(), found)
	if err != nil {
		renderError(c, err)
		return
	}
	attrs, err := matcher.AttributesPreventingPayment(c.Request.Context(), found)
	if err != nil {
		renderError(c, err)
		return
	}

	refs := make([]string, 0, len(preventing))
	for _, other := range preventing {
		if other.Reference != nil {
			refs = append(refs, *other.Reference)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"claim_references": refs,
		"attributes":       attrs,
	})
}

type assembleRunRequest struct {
	ClaimIDs  []string `json:"claim_ids" binding:"required"`
	CreatedBy string   `json:"created_by" binding:"required"`
}

func (h *Handler) assembleRun(c *gin.Context) {
	var req assembleRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errutil.BadRequest("invalid request body", err))
		return
	}

	result, err := h.payrolls.AssembleRun(c.Request.Context(), req.ClaimIDs, req.CreatedBy)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"payroll_run":         runResponse(result.Run),
		"excluded_references": result.ExcludedReferences,
	})
}

func (h *Handler) getRun(c *gin.Context) {
	run, err := h.payrolls.Run(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, runResponse(run))
}

func (h *Handler) markDownloaded(c *gin.Context) {
	var req struct {
		DownloadedBy string `json:"downloaded_by" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errutil.BadRequest("invalid request body", err))
		return
	}

	run, err := h.payrolls.MarkDownloaded(c.Request.Context(), c.Param("id"), req.DownloadedBy)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, runResponse(run))
}

func claimResponse(cl *claim.Claim) gin.H {
	resp := gin.H{
		"id":           cl.ID,
		"policy":       cl.Policy,
		"full_name":    cl.FullName(),
		"submitted":    cl.Submitted(),
		"approvable":   cl.Approvable(),
		"payrollable":  cl.Payrollable(),
		"payrolled":    cl.Payrolled(),
		"submitted_at": cl.SubmittedAt,
	}
	if cl.Reference != nil {
		resp["reference"] = *cl.Reference
	}
	if d := cl.LatestDecision(); d != nil {
		resp["decision"] = gin.H{
			"result":     d.Result,
			"created_at": d.CreatedAt,
			"created_by": d.CreatedBy,
		}
	}
	return resp
}

func runResponse(run *payroll.PayrollRun) gin.H {
	payments := make([]gin.H, 0, len(run.Payments))
	for _, p := range run.Payments {
		payments = append(payments, gin.H{
			"id":           p.ID,
			"claim_id":     p.ClaimID,
			"award_amount": p.AwardAmount,
		})
	}
	resp := gin.H{
		"id":                 run.ID,
		"created_by":         run.CreatedBy,
		"created_at":         run.CreatedAt,
		"total_award_amount": run.TotalAwardAmount(),
		"payments":           payments,
	}
	if run.Downloaded() {
		resp["downloaded_at"] = run.DownloadedAt
		resp["downloaded_by"] = run.DownloadedBy
	}
	return resp
}
