package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEq_String(t *testing.T) {
	assert.Equal(t, "Status eq 'Pending'", Eq("Status", StatusPending).String())
	assert.Equal(t, "TravelDate eq '2024-06-01'", Eq("TravelDate", "2024-06-01").String())
	assert.Equal(t, "ID eq 42", Eq("ID", 42).String())
}

func TestEq_EscapesQuotes(t *testing.T) {
	e := Eq("TravellerName", "O'Brien")
	assert.Equal(t, "TravellerName eq 'O''Brien'", e.String())
}

func TestRangeOperators(t *testing.T) {
	day := time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "ProcessedDate ge '2024-06-01'", Ge("ProcessedDate", day).String())
	assert.Equal(t, "ProcessedDate le '2024-06-01'", Le("ProcessedDate", "2024-06-01").String())
}

func TestIn(t *testing.T) {
	assert.Equal(t, "ID in (101,102,103)", In("ID", []int{101, 102, 103}).String())
	assert.True(t, In("ID", nil).Empty())
}

func TestAnd_SkipsEmptyTerms(t *testing.T) {
	e := And(Eq("Status", StatusPending), Expr{}, Eq("TravelDate", "2024-06-01"))
	assert.Equal(t, "Status eq 'Pending' and TravelDate eq '2024-06-01'", e.String())

	assert.True(t, And(Expr{}, Expr{}).Empty())
}

func TestOr_Parenthesizes(t *testing.T) {
	e := Or(Eq("Status", StatusApproved), Eq("Status", StatusDeclined))
	assert.Equal(t, "(Status eq 'Approved' or Status eq 'Declined')", e.String())

	single := Or(Eq("Status", StatusApproved))
	assert.Equal(t, "Status eq 'Approved'", single.String())
}

func TestComposedProcessedFilter(t *testing.T) {
	e := And(
		Or(Eq("Status", StatusApproved), Eq("Status", StatusDeclined)),
		Ge("ProcessedDate", "2024-06-01"),
		Le("ProcessedDate", "2024-06-30"),
	)
	assert.Equal(t,
		"(Status eq 'Approved' or Status eq 'Declined') and ProcessedDate ge '2024-06-01' and ProcessedDate le '2024-06-30'",
		e.String())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusApproved.Terminal())
	assert.True(t, StatusDeclined.Terminal())
}
