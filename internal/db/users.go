package db

import (
	"context"
	"fmt"
	"log/slog"
)

// InsufficientCreditsError reports a charge the user's balance can't cover.
type InsufficientCreditsError struct {
	Need int
	Have int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("Insufficient credits. Need %d, have %d.", e.Need, e.Have)
}

// Billing is a user's plan and credit balance.
type Billing struct {
	Plan    string
	Credits int
}

// GetUserBilling returns the user's plan and credits. A missing plan reads
// as 'free'.
func (db *DatabaseConnection) GetUserBilling(ctx context.Context, userID int64) (Billing, error) {
	var (
		plan    *string
		credits int
	)
	err := db.Pool.QueryRow(ctx,
		`SELECT plan, credits FROM users WHERE id = $1`, userID).Scan(&plan, &credits)
	if err != nil {
		return Billing{}, fmt.Errorf("load billing for user %d: %w", userID, err)
	}
	b := Billing{Plan: "free", Credits: credits}
	if plan != nil && *plan != "" {
		b.Plan = *plan
	}
	return b, nil
}

// ChargeCredits deducts amount from the user's balance in one transaction.
// The row is locked for the balance check so concurrent charges can't both
// pass.
func (db *DatabaseConnection) ChargeCredits(ctx context.Context, userID int64, amount int) error {
	if amount <= 0 {
		return nil
	}

	tx, err := db.BeginTX(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var have int
	err = tx.QueryRow(ctx,
		`SELECT credits FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&have)
	if err != nil {
		return fmt.Errorf("charge credits for user %d: %w", userID, err)
	}
	if have < amount {
		return &InsufficientCreditsError{Need: amount, Have: have}
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET credits = credits - $2 WHERE id = $1`, userID, amount)
	if err != nil {
		return fmt.Errorf("charge credits for user %d: %w", userID, err)
	}
	return tx.Commit(ctx)
}

// RefundCredits returns credits after a failed job. Best-effort: failures
// are logged and swallowed so the caller's error path stays intact.
func (db *DatabaseConnection) RefundCredits(ctx context.Context, userID int64, amount int, jobID int64) {
	if amount <= 0 {
		return
	}
	_, err := db.Pool.Exec(ctx,
		`UPDATE users SET credits = credits + $2 WHERE id = $1`, userID, amount)
	if err != nil {
		slog.Error("Credit refund failed (best-effort)",
			"job_id", jobID, "user_id", userID, "credits", amount, "error", err)
		return
	}
	slog.Info("Refunded credits (best-effort)",
		"job_id", jobID, "user_id", userID, "credits", amount)
}

// paidPlans gate the watermark-removal entitlement.
var paidPlans = map[string]bool{
	"paid":    true,
	"pro":     true,
	"creator": true,
	"studio":  true,
	"premium": true,
}

// IsPaidPlan reports whether the plan removes the free-tier watermark.
func IsPaidPlan(plan string) bool {
	return paidPlans[plan]
}
