package payroll

import (
	"time"
)

// PayrollRun is one monthly batch of payments handed to the payroll provider.
type PayrollRun struct {
	ID        string    `gorm:"column:id;primaryKey"`
	CreatedBy string    `gorm:"column:created_by"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`

	// Set once, when the operator first downloads the run for the provider.
	DownloadedAt *time.Time `gorm:"column:downloaded_at"`
	DownloadedBy string     `gorm:"column:downloaded_by"`

	Payments []Payment `gorm:"foreignKey:PayrollRunID;constraint:OnDelete:CASCADE"`
}

func (PayrollRun) TableName() string { return "payroll_runs" }

func (r *PayrollRun) Downloaded() bool {
	return r.DownloadedAt != nil
}

// TotalAwardAmount is the sum owed across the run, in pence.
func (r *PayrollRun) TotalAwardAmount() int64 {
	var total int64
	for _, p := range r.Payments {
		total += p.AwardAmount
	}
	return total
}

// Payment is one claim's slot in a payroll run. The award amount is frozen at
// assembly time; the remaining figures are nil until the provider's results
// are uploaded back.
type Payment struct {
	ID           string    `gorm:"column:id;primaryKey"`
	PayrollRunID string    `gorm:"column:payroll_run_id;index"`
	ClaimID      string    `gorm:"column:claim_id;uniqueIndex"`
	AwardAmount  int64     `gorm:"column:award_amount"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`

	PayrollReference           *string `gorm:"column:payroll_reference"`
	GrossValue                 *int64  `gorm:"column:gross_value"`
	GrossPay                   *int64  `gorm:"column:gross_pay"`
	NationalInsurance          *int64  `gorm:"column:national_insurance"`
	EmployersNationalInsurance *int64  `gorm:"column:employers_national_insurance"`
	StudentLoanRepayment       *int64  `gorm:"column:student_loan_repayment"`
	Tax                        *int64  `gorm:"column:tax"`
	NetPay                     *int64  `gorm:"column:net_pay"`
}

func (Payment) TableName() string { return "payments" }
