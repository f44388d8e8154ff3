package services

import (
	"testing"

	"exchange-service/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestLegalTransitions(t *testing.T) {
	cases := []struct {
		from    models.TradeStatus
		to      models.TradeStatus
		allowed bool
	}{
		{models.TradeStatusOpen, models.TradeStatusJoined, true},
		{models.TradeStatusOpen, models.TradeStatusCancelled, true},
		{models.TradeStatusOpen, models.TradeStatusPaid, false},
		{models.TradeStatusJoined, models.TradeStatusFunded, true},
		{models.TradeStatusFunded, models.TradeStatusPaid, true},
		{models.TradeStatusPaid, models.TradeStatusReleased, true},
		{models.TradeStatusPaid, models.TradeStatusCancelled, false},
		{models.TradeStatusDisputed, models.TradeStatusReleased, true},
		{models.TradeStatusDisputed, models.TradeStatusCancelled, true},
	}

	for _, tc := range cases {
		got := contains(legalTransitions[tc.from], tc.to)
		assert.Equal(t, tc.allowed, got, "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	assert.Empty(t, legalTransitions[models.TradeStatusReleased])
	assert.Empty(t, legalTransitions[models.TradeStatusCancelled])
}
