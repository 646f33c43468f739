package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	t.Run("validation matches its sentinel only", func(t *testing.T) {
		err := Validation("INSUFFICIENT_STOCK", "only %d left", 2)
		assert.ErrorIs(t, err, ErrValidation)
		assert.NotErrorIs(t, err, ErrNotFound)
		assert.Equal(t, "only 2 left", err.Error())
		assert.Equal(t, "INSUFFICIENT_STOCK", CodeOf(err))
	})

	t.Run("persistence keeps the cause", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := Persistence(cause, "commit sale %s", "S-1")
		assert.ErrorIs(t, err, ErrPersistence)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "connection reset")
	})

	t.Run("code of plain error is empty", func(t *testing.T) {
		assert.Empty(t, CodeOf(errors.New("boom")))
	})
}

func TestProductRecount(t *testing.T) {
	p := Product{StockByLocation: map[string]int{"A": 4, "B": -2, "C": 3}}
	p.Recount()
	assert.Equal(t, 7, p.TotalStock)
	assert.Equal(t, 0, p.StockByLocation["B"])

	clone := p.Clone()
	clone.StockByLocation["A"] = 100
	assert.Equal(t, 4, p.StockByLocation["A"])
}
