package models

import (
	"time"
)

// DefaultFormulaExpression is the photon dose formula seeded on first start
const DefaultFormulaExpression = "m_q * ndw_60co * kq * pdd_or_tpr"

// DefaultFormulaVariables are the identifiers the seeded formula draws on
var DefaultFormulaVariables = StringList{"m_q", "ndw_60co", "kq", "pdd_or_tpr"}

// FormulaVersion is an immutable versioned dose formula. The expression is
// stored as text and evaluated by the sandboxed expression engine; Variables
// declares the identifiers the expression may reference, checked at creation.
type FormulaVersion struct {
	ID         int64      `json:"id" db:"id"`
	Version    int        `json:"version" db:"version"`
	Expression string     `json:"expression" db:"expression"`
	Variables  StringList `json:"variables" db:"variables"`
	IsActive   bool       `json:"is_active" db:"is_active"`
	Notes      string     `json:"notes" db:"notes"`
	CreatedBy  string     `json:"created_by" db:"created_by"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}
