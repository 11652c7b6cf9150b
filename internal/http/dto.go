package http

import (
	"time"

	"ledger/internal/carryover"
	"ledger/internal/core"
	"ledger/internal/period"
	"ledger/internal/services"
	"ledger/internal/summary"
)

type accountResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	PeriodStartDay int       `json:"periodStartDay"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toAccount(a core.Account) accountResponse {
	return accountResponse{ID: a.ID, Name: a.Name, PeriodStartDay: a.PeriodStartDay, CreatedAt: a.CreatedAt}
}

type bucketResponse struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Kind       core.BucketKind `json:"kind"`
	PaymentDay int             `json:"paymentDay,omitempty"`
	Order      int             `json:"order"`
}

func toBucket(b core.BucketConfig) bucketResponse {
	return bucketResponse{ID: b.ID, Name: b.Name, Kind: b.Kind, PaymentDay: b.PaymentDay, Order: b.Order}
}

type expenseResponse struct {
	ID         string        `json:"id"`
	Period     period.Period `json:"period"`
	BucketID   string        `json:"bucketId"`
	CategoryID string        `json:"categoryId,omitempty"`
	Amount     core.Money    `json:"amount"`
	Name       string        `json:"name"`
	CreatedAt  time.Time     `json:"createdAt"`
}

func toExpense(e core.Expense) expenseResponse {
	return expenseResponse{
		ID:         e.ID,
		Period:     e.Period,
		BucketID:   e.BucketID,
		CategoryID: e.CategoryID,
		Amount:     e.Amount,
		Name:       e.Name,
		CreatedAt:  e.CreatedAt,
	}
}

type fixedPaymentResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Amount     core.Money `json:"amount"`
	DueDay     int        `json:"dueDay,omitempty"`
	DueDate    core.Date  `json:"dueDate"`
	CategoryID string     `json:"categoryId,omitempty"`
	Paid       bool       `json:"paid"`
}

func toFixedPayment(fp core.FixedPayment, paid core.IDSet) fixedPaymentResponse {
	return fixedPaymentResponse{
		ID:         fp.ID,
		Name:       fp.Name,
		Amount:     fp.Amount,
		DueDay:     fp.DueDay,
		DueDate:    fp.DueDate,
		CategoryID: fp.CategoryID,
		Paid:       paid.Has(fp.ID),
	}
}

type bucketPaymentResponse struct {
	ID       string        `json:"id"`
	Period   period.Period `json:"period"`
	BucketID string        `json:"bucketId"`
	Amount   core.Money    `json:"amount"`
	Paid     bool          `json:"paid"`
	DueDate  core.Date     `json:"dueDate"`
}

func toBucketPayment(bp core.BucketPayment) bucketPaymentResponse {
	return bucketPaymentResponse{
		ID:       bp.ID,
		Period:   bp.Period,
		BucketID: bp.BucketID,
		Amount:   bp.Amount,
		Paid:     bp.Paid,
		DueDate:  bp.DueDate,
	}
}

type savingsResponse struct {
	ID     string        `json:"id"`
	GoalID string        `json:"goalId,omitempty"`
	Amount core.Money    `json:"amount"`
	Date   core.Date     `json:"date"`
	Period period.Period `json:"period"`
	Source string        `json:"source,omitempty"`
}

func toSavings(c core.SavingsContribution) savingsResponse {
	return savingsResponse{ID: c.ID, GoalID: c.GoalID, Amount: c.Amount, Date: c.Date, Period: c.Period, Source: c.Source}
}

type categoryResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

func toCategory(c core.Category) categoryResponse {
	return categoryResponse{ID: c.ID, Name: c.Name, Color: c.Color}
}

type periodViewResponse struct {
	AccountID             string                     `json:"accountId"`
	Period                services.PeriodInfo        `json:"period"`
	Summary               summary.MonthSummary       `json:"summary"`
	Spending              []summary.CategorySpending `json:"spendingByCategory"`
	OverdueFixedPayments  []fixedPaymentResponse     `json:"overdueFixedPayments"`
	OverdueBucketPayments []bucketPaymentResponse    `json:"overdueBucketPayments"`
	Expenses              []expenseResponse          `json:"expenses"`
	FixedPayments         []fixedPaymentResponse     `json:"fixedPayments"`
	BucketPayments        []bucketPaymentResponse    `json:"bucketPayments"`
	Savings               []savingsResponse          `json:"savings"`
	Categories            []categoryResponse         `json:"categories"`
	CarryoverStale        bool                       `json:"carryoverStale"`
	ComputedAt            time.Time                  `json:"computedAt"`
}

func toPeriodView(v services.PeriodView) periodViewResponse {
	paid := v.Entities.MonthData.PaidFixedPaymentIDs
	out := periodViewResponse{
		AccountID:             v.AccountID,
		Period:                v.Info,
		Summary:               v.Summary,
		Spending:              v.Spending,
		OverdueFixedPayments:  make([]fixedPaymentResponse, 0, len(v.OverdueFixedPayments)),
		OverdueBucketPayments: make([]bucketPaymentResponse, 0, len(v.OverdueBucketPayments)),
		Expenses:              make([]expenseResponse, 0, len(v.Entities.Expenses)),
		FixedPayments:         make([]fixedPaymentResponse, 0, len(v.Entities.FixedPayments)),
		BucketPayments:        make([]bucketPaymentResponse, 0, len(v.Entities.BucketPayments)),
		Savings:               make([]savingsResponse, 0, len(v.Entities.Savings)),
		Categories:            make([]categoryResponse, 0, len(v.Categories)),
		CarryoverStale:        v.CarryoverStale,
		ComputedAt:            v.ComputedAt,
	}
	if out.Spending == nil {
		out.Spending = []summary.CategorySpending{}
	}
	for _, fp := range v.OverdueFixedPayments {
		out.OverdueFixedPayments = append(out.OverdueFixedPayments, toFixedPayment(fp, paid))
	}
	for _, bp := range v.OverdueBucketPayments {
		out.OverdueBucketPayments = append(out.OverdueBucketPayments, toBucketPayment(bp))
	}
	for _, e := range v.Entities.Expenses {
		out.Expenses = append(out.Expenses, toExpense(e))
	}
	for _, fp := range v.Entities.FixedPayments {
		out.FixedPayments = append(out.FixedPayments, toFixedPayment(fp, paid))
	}
	for _, bp := range v.Entities.BucketPayments {
		out.BucketPayments = append(out.BucketPayments, toBucketPayment(bp))
	}
	for _, c := range v.Entities.Savings {
		out.Savings = append(out.Savings, toSavings(c))
	}
	for _, c := range v.Categories {
		out.Categories = append(out.Categories, toCategory(c))
	}
	return out
}

type syncResponse struct {
	Queued bool              `json:"queued"`
	Result *carryover.Result `json:"result,omitempty"`
}

type countResponse struct {
	Count int `json:"count"`
}

// Request bodies.

type createAccountRequest struct {
	Name           string `json:"name"`
	PeriodStartDay int    `json:"periodStartDay"`
}

type startDayRequest struct {
	PeriodStartDay int `json:"periodStartDay"`
}

type monthDataRequest struct {
	Salary       core.Money `json:"salary"`
	MonthlyLimit core.Money `json:"monthlyLimit"`
}

type paidRequest struct {
	Paid *bool `json:"paid"`
}

type bucketPaymentPatchRequest struct {
	Paid    *bool      `json:"paid"`
	DueDate *core.Date `json:"dueDate"`
}

type createExpenseRequest struct {
	BucketID   string     `json:"bucketId"`
	CategoryID string     `json:"categoryId"`
	Amount     core.Money `json:"amount"`
	Name       string     `json:"name"`
}

type createFixedPaymentRequest struct {
	Name       string     `json:"name"`
	Amount     core.Money `json:"amount"`
	DueDay     int        `json:"dueDay"`
	DueDate    core.Date  `json:"dueDate"`
	CategoryID string     `json:"categoryId"`
}

type addSavingsRequest struct {
	GoalID string     `json:"goalId"`
	Amount core.Money `json:"amount"`
	Date   core.Date  `json:"date"`
	Source string     `json:"source"`
}

type createBucketRequest struct {
	Name       string          `json:"name"`
	Kind       core.BucketKind `json:"kind"`
	PaymentDay int             `json:"paymentDay"`
}

type bucketPatchRequest struct {
	Name       *string          `json:"name"`
	Kind       *core.BucketKind `json:"kind"`
	PaymentDay *int             `json:"paymentDay"`
}

type bucketOrderRequest struct {
	IDs []string `json:"ids"`
}

type categoryRequest struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
}

type expensePatchRequest struct {
	Name       *string        `json:"name"`
	Amount     *core.Money    `json:"amount"`
	BucketID   *string        `json:"bucketId"`
	CategoryID *string        `json:"categoryId"`
	Period     *period.Period `json:"period"`
}

type fixedPaymentPatchRequest struct {
	Name       *string     `json:"name"`
	Amount     *core.Money `json:"amount"`
	DueDay     *int        `json:"dueDay"`
	DueDate    *core.Date  `json:"dueDate"`
	CategoryID *string     `json:"categoryId"`
}
