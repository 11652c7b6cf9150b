package http

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/services"
)

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.ledger.ListAccounts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccount(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	acc, err := s.ledger.CreateAccount(r.Context(), strings.TrimSpace(req.Name), req.PeriodStartDay)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccount(acc))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := s.ledger.Account(r.Context(), mux.Vars(r)["account"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(acc))
}

func (s *Server) handleUpdateStartDay(w http.ResponseWriter, r *http.Request) {
	var req startDayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	accountID := mux.Vars(r)["account"]
	if err := s.ledger.UpdatePeriodStartDay(r.Context(), accountID, req.PeriodStartDay); err != nil {
		writeError(w, r, err)
		return
	}
	acc, err := s.ledger.Account(r.Context(), accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(acc))
}

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.ledger.ListBuckets(r.Context(), mux.Vars(r)["account"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]bucketResponse, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, toBucket(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	var req createBucketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.ledger.CreateBucket(r.Context(), mux.Vars(r)["account"], core.BucketConfig{
		Name:       strings.TrimSpace(req.Name),
		Kind:       req.Kind,
		PaymentDay: req.PaymentDay,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBucket(b))
}

func (s *Server) handlePatchBucket(w http.ResponseWriter, r *http.Request) {
	var req bucketPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name == nil && req.Kind == nil && req.PaymentDay == nil {
		writeError(w, r, fmt.Errorf("%w: nothing to update", errBadRequest))
		return
	}
	vars := mux.Vars(r)
	b, err := s.ledger.UpdateBucket(r.Context(), vars["account"], vars["id"], services.BucketPatch{
		Name:       trimmed(req.Name),
		Kind:       req.Kind,
		PaymentDay: req.PaymentDay,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBucket(b))
}

func (s *Server) handleReorderBuckets(w http.ResponseWriter, r *http.Request) {
	var req bucketOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	buckets, err := s.ledger.ReorderBuckets(r.Context(), mux.Vars(r)["account"], req.IDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]bucketResponse, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, toBucket(b))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDeleteBucket answers 409 while expenses still use the bucket.
func (s *Server) handleDeleteBucket(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.ledger.DeleteBucket(r.Context(), vars["account"], vars["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.ledger.ListCategories(r.Context(), mux.Vars(r)["account"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]categoryResponse, 0, len(categories))
	for _, c := range categories {
		out = append(out, toCategory(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c := core.Category{}
	if req.Name != nil {
		c.Name = strings.TrimSpace(*req.Name)
	}
	if req.Color != nil {
		c.Color = *req.Color
	}
	saved, err := s.ledger.CreateCategory(r.Context(), mux.Vars(r)["account"], c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategory(saved))
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	c, err := s.ledger.UpdateCategory(r.Context(), vars["account"], vars["id"], services.CategoryPatch{
		Name:  trimmed(req.Name),
		Color: req.Color,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategory(c))
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.ledger.DeleteCategory(r.Context(), vars["account"], vars["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}

func (s *Server) handleCurrentPeriod(w http.ResponseWriter, r *http.Request) {
	info, err := s.ledger.CurrentPeriod(r.Context(), mux.Vars(r)["account"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handlePeriodView syncs carry-over and returns the period summary. A failed
// sync still answers 200 with carryoverStale set.
func (s *Server) handlePeriodView(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	acc, p, err := s.ledger.ResolvePeriod(r.Context(), vars["account"], vars["period"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.ledger.View(r.Context(), acc, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if view.CarryoverStale {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Serving period view with stale carry-over",
			log.FieldAccountID, acc.ID,
			log.FieldPeriod, p.String())
	}
	writeJSON(w, http.StatusOK, toPeriodView(view))
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	acc, p, err := s.ledger.ResolvePeriod(r.Context(), vars["account"], vars["period"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	queued, res, err := s.ledger.RequestSync(r.Context(), acc.ID, p, services.ReasonManual)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if queued {
		writeJSON(w, http.StatusAccepted, syncResponse{Queued: true})
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{Result: &res})
}

func (s *Server) handleMonthData(w http.ResponseWriter, r *http.Request) {
	var req monthDataRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	acc, p, err := s.ledger.ResolvePeriod(r.Context(), vars["account"], vars["period"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.UpdateMonthData(r.Context(), acc.ID, p, req.Salary, req.MonthlyLimit); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleFixedPaymentPaid(w http.ResponseWriter, r *http.Request) {
	var req paidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Paid == nil {
		writeError(w, r, fmt.Errorf("%w: paid is required", errBadRequest))
		return
	}
	vars := mux.Vars(r)
	acc, p, err := s.ledger.ResolvePeriod(r.Context(), vars["account"], vars["period"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.SetFixedPaymentPaid(r.Context(), acc.ID, p, vars["id"], *req.Paid); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": vars["id"], "period": p, "paid": *req.Paid})
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req createExpenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	acc, p, err := s.ledger.ResolvePeriod(r.Context(), vars["account"], vars["period"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	e := core.Expense{
		AccountID:  acc.ID,
		Period:     p,
		BucketID:   req.BucketID,
		CategoryID: req.CategoryID,
		Amount:     req.Amount,
		Name:       strings.TrimSpace(req.Name),
	}
	if err := e.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := s.ledger.CreateExpense(r.Context(), e)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpense(saved))
}

func (s *Server) handlePatchExpense(w http.ResponseWriter, r *http.Request) {
	var req expensePatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	e, err := s.ledger.UpdateExpense(r.Context(), vars["account"], vars["id"], services.ExpensePatch{
		Name:       trimmed(req.Name),
		Amount:     req.Amount,
		BucketID:   req.BucketID,
		CategoryID: req.CategoryID,
		Period:     req.Period,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpense(e))
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.ledger.DeleteExpense(r.Context(), vars["account"], vars["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateFixedPayment(w http.ResponseWriter, r *http.Request) {
	var req createFixedPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	acc, err := s.ledger.Account(r.Context(), mux.Vars(r)["account"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	fp := core.FixedPayment{
		AccountID:  acc.ID,
		Name:       strings.TrimSpace(req.Name),
		Amount:     req.Amount,
		DueDay:     req.DueDay,
		DueDate:    req.DueDate,
		CategoryID: req.CategoryID,
	}
	if err := fp.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := s.ledger.CreateFixedPayment(r.Context(), fp)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFixedPayment(saved, nil))
}

// handlePatchFixedPayment edits a recurring bill. An empty dueDate string
// clears the due date.
func (s *Server) handlePatchFixedPayment(w http.ResponseWriter, r *http.Request) {
	var req fixedPaymentPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	fp, err := s.ledger.UpdateFixedPayment(r.Context(), vars["account"], vars["id"], services.FixedPaymentPatch{
		Name:       trimmed(req.Name),
		Amount:     req.Amount,
		DueDay:     req.DueDay,
		DueDate:    req.DueDate,
		CategoryID: req.CategoryID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFixedPayment(fp, nil))
}

func (s *Server) handleDeleteFixedPayment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.ledger.DeleteFixedPayment(r.Context(), vars["account"], vars["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddSavings(w http.ResponseWriter, r *http.Request) {
	var req addSavingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	acc, p, err := s.ledger.ResolvePeriod(r.Context(), vars["account"], vars["period"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := s.ledger.AddSavings(r.Context(), core.SavingsContribution{
		AccountID: acc.ID,
		GoalID:    req.GoalID,
		Amount:    req.Amount,
		Date:      req.Date,
		Period:    p,
		Source:    req.Source,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSavings(saved))
}

// handlePatchBucketPayment edits paid and due date. An empty dueDate string
// clears the due date.
func (s *Server) handlePatchBucketPayment(w http.ResponseWriter, r *http.Request) {
	var req bucketPaymentPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Paid == nil && req.DueDate == nil {
		writeError(w, r, fmt.Errorf("%w: nothing to update", errBadRequest))
		return
	}
	bp, err := s.ledger.UpdateBucketPayment(r.Context(), mux.Vars(r)["id"], services.BucketPaymentPatch{
		Paid:    req.Paid,
		DueDate: req.DueDate,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBucketPayment(bp))
}

func (s *Server) handleDeleteBucketPayment(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteBucketPayment(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDedup(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["account"]
	n, err := s.ledger.Dedup(r.Context(), accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Removed duplicate bucket payments",
		log.FieldAccountID, accountID,
		log.FieldCount, n)
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

func (s *Server) handleMigratePeriods(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["account"]
	n, err := s.ledger.MigrateLegacyPeriods(r.Context(), accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Migrated legacy periods",
		log.FieldAccountID, accountID,
		log.FieldCount, n)
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}
