package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestPriceAlertAppendPriceEvictsOldest(t *testing.T) {
	alert := PriceAlert{}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= PriceHistoryCap+5; i++ {
		alert.AppendPrice(decimal.NewFromInt(int64(i)), base.Add(time.Duration(i)*time.Minute))
	}

	points := alert.History()
	require.Len(t, points, PriceHistoryCap)
	require.True(t, points[0].Price.Equal(decimal.NewFromInt(6)))
	require.True(t, points[len(points)-1].Price.Equal(decimal.NewFromInt(15)))

	for i := 1; i < len(points); i++ {
		require.True(t, points[i].RecordedAt.After(points[i-1].RecordedAt))
	}
}

func TestPriceAlertArmed(t *testing.T) {
	now := time.Now()

	alert := PriceAlert{IsActive: true}
	require.True(t, alert.Armed())

	alert.TriggeredAt = &now
	require.False(t, alert.Armed())

	alert.TriggeredAt = nil
	alert.IsActive = false
	require.False(t, alert.Armed())
}

func TestPriceAlertHistoryToleratesMalformedColumn(t *testing.T) {
	alert := PriceAlert{PriceHistory: []byte("{broken")}
	require.Nil(t, alert.History())

	alert.AppendPrice(decimal.NewFromInt(10), time.Now())
	require.Len(t, alert.History(), 1)
}

func TestPriceAlertChannelOverridesRoundTrip(t *testing.T) {
	alert := PriceAlert{}
	require.Nil(t, alert.ChannelOverrides())

	alert.SetChannelOverrides([]AlertChannel{
		{Channel: ChannelSMS, Enabled: true},
		{Channel: ChannelEmail, Enabled: false},
	})

	overrides := alert.ChannelOverrides()
	require.Len(t, overrides, 2)
	require.Equal(t, ChannelSMS, overrides[0].Channel)
	require.True(t, overrides[0].Enabled)
	require.False(t, overrides[1].Enabled)

	alert.SetChannelOverrides(nil)
	require.Nil(t, alert.ChannelOverrides())
}
