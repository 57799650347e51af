package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/adamstosho/grochain/internal/database/testutil"
	"github.com/adamstosho/grochain/internal/models"
	apperrors "github.com/adamstosho/grochain/pkg/errors"
)

func channelSet(channels ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(channels))
	for _, channel := range channels {
		set[channel] = struct{}{}
	}
	return set
}

func TestResolveChannelsRuleOrder(t *testing.T) {
	defaults := DefaultNotificationPreferences()

	cases := []struct {
		name      string
		prefs     NotificationPreferences
		attrs     NotificationAttrs
		overrides []models.AlertChannel
		want      map[string]struct{}
	}{
		{
			name:  "defaults route success to live email push",
			prefs: defaults,
			attrs: NotificationAttrs{Type: models.TypeSuccess, Priority: models.PriorityNormal},
			want:  channelSet(models.ChannelLive, models.ChannelEmail, models.ChannelPush),
		},
		{
			name:  "plain info never goes to email",
			prefs: defaults,
			attrs: NotificationAttrs{Type: models.TypeInfo, Priority: models.PriorityNormal},
			want:  channelSet(models.ChannelLive, models.ChannelPush),
		},
		{
			name: "sms requires high priority",
			prefs: NotificationPreferences{
				LiveEnabled: true, Email: true, SMS: true, Push: true,
				PriorityThreshold: models.PriorityLow,
			},
			attrs: NotificationAttrs{Type: models.TypeWarning, Priority: models.PriorityNormal},
			want:  channelSet(models.ChannelLive, models.ChannelEmail, models.ChannelPush),
		},
		{
			name: "sms included at high priority",
			prefs: NotificationPreferences{
				LiveEnabled: true, Email: true, SMS: true, Push: true,
				PriorityThreshold: models.PriorityLow,
			},
			attrs: NotificationAttrs{Type: models.TypeWarning, Priority: models.PriorityHigh},
			want:  channelSet(models.ChannelLive, models.ChannelEmail, models.ChannelSMS, models.ChannelPush),
		},
		{
			name: "below threshold suppresses live and email",
			prefs: NotificationPreferences{
				LiveEnabled: true, Email: true, Push: true,
				PriorityThreshold: models.PriorityHigh,
			},
			attrs: NotificationAttrs{Type: models.TypeSuccess, Priority: models.PriorityNormal},
			want:  channelSet(models.ChannelPush),
		},
		{
			name: "urgent bypasses the threshold",
			prefs: NotificationPreferences{
				LiveEnabled: true, Email: true, Push: true,
				PriorityThreshold: models.PriorityUrgent,
			},
			attrs: NotificationAttrs{Type: models.TypeSuccess, Priority: models.PriorityUrgent},
			want:  channelSet(models.ChannelLive, models.ChannelEmail, models.ChannelPush),
		},
		{
			name: "category filter spares the live channel",
			prefs: NotificationPreferences{
				LiveEnabled: true, Email: true, Push: true,
				Categories:        []string{models.CategoryMarketplace},
				PriorityThreshold: models.PriorityLow,
			},
			attrs: NotificationAttrs{
				Type: models.TypeSuccess, Category: models.CategorySystem,
				Priority: models.PriorityNormal,
			},
			want: channelSet(models.ChannelLive),
		},
		{
			name: "matching category passes the filter",
			prefs: NotificationPreferences{
				LiveEnabled: true, Email: true, Push: true,
				Categories:        []string{models.CategoryMarketplace},
				PriorityThreshold: models.PriorityLow,
			},
			attrs: NotificationAttrs{
				Type: models.TypeSuccess, Category: models.CategoryMarketplace,
				Priority: models.PriorityNormal,
			},
			want: channelSet(models.ChannelLive, models.ChannelEmail, models.ChannelPush),
		},
		{
			name:  "override forces a suppressed channel on",
			prefs: NotificationPreferences{LiveEnabled: true, Push: true, PriorityThreshold: models.PriorityHigh},
			attrs: NotificationAttrs{Type: models.TypeSuccess, Priority: models.PriorityNormal},
			overrides: []models.AlertChannel{
				{Channel: models.ChannelEmail, Enabled: true},
				{Channel: models.ChannelSMS, Enabled: true},
			},
			want: channelSet(models.ChannelEmail, models.ChannelSMS, models.ChannelPush),
		},
		{
			name:      "override forces an enabled channel off",
			prefs:     defaults,
			attrs:     NotificationAttrs{Type: models.TypeSuccess, Priority: models.PriorityNormal},
			overrides: []models.AlertChannel{{Channel: models.ChannelLive, Enabled: false}},
			want:      channelSet(models.ChannelEmail, models.ChannelPush),
		},
		{
			name:  "empty priority defaults to normal",
			prefs: defaults,
			attrs: NotificationAttrs{Type: models.TypeSuccess},
			want:  channelSet(models.ChannelLive, models.ChannelEmail, models.ChannelPush),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveChannels(tc.prefs, tc.attrs, tc.overrides)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestResolveChannelsIsDeterministic(t *testing.T) {
	prefs := NotificationPreferences{
		LiveEnabled: true, Email: true, SMS: true, Push: true,
		Categories:        []string{models.CategoryMarketplace},
		PriorityThreshold: models.PriorityNormal,
	}
	attrs := NotificationAttrs{
		Type: models.TypeWarning, Category: models.CategoryMarketplace,
		Priority: models.PriorityHigh,
	}
	overrides := []models.AlertChannel{{Channel: models.ChannelPush, Enabled: false}}

	first := ResolveChannels(prefs, attrs, overrides)
	for i := 0; i < 50; i++ {
		require.Equal(t, first, ResolveChannels(prefs, attrs, overrides))
	}
}

func TestPreferenceServiceGetDefaults(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	user := models.User{Name: "Ngozi", Email: "ngozi@example.com", Role: models.RoleFarmer}
	require.NoError(t, db.Create(&user).Error)

	svc, err := NewPreferenceService(db)
	require.NoError(t, err)

	prefs, err := svc.Get(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, DefaultNotificationPreferences(), prefs)

	_, err = svc.Get(context.Background(), "b2f6cb1e-0000-4000-8000-000000000000")
	require.Equal(t, 404, apperrors.FromError(err).StatusCode)
}

func TestPreferenceServiceUpdateRoundTrip(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	user := models.User{Name: "Ngozi", Email: "ngozi@example.com", Role: models.RoleFarmer}
	require.NoError(t, db.Create(&user).Error)

	svc, err := NewPreferenceService(db)
	require.NoError(t, err)
	ctx := context.Background()

	updated, err := svc.Update(ctx, user.ID, NotificationPreferences{
		LiveEnabled:       true,
		Email:             false,
		SMS:               true,
		Push:              false,
		Categories:        []string{models.CategoryMarketplace, models.CategoryWeather},
		PriorityThreshold: models.PriorityHigh,
	})
	require.NoError(t, err)
	require.False(t, updated.Email)
	require.True(t, updated.SMS)

	got, err := svc.Get(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, updated, got)
}

func TestPreferenceServiceUpdateRejectsUnknownValues(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	user := models.User{Name: "Ngozi", Email: "ngozi@example.com", Role: models.RoleFarmer}
	require.NoError(t, db.Create(&user).Error)

	svc, err := NewPreferenceService(db)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.Update(ctx, user.ID, NotificationPreferences{
		Categories: []string{"astrology"},
	})
	require.Equal(t, 400, apperrors.FromError(err).StatusCode)

	_, err = svc.Update(ctx, user.ID, NotificationPreferences{
		PriorityThreshold: "screaming",
	})
	require.Equal(t, 400, apperrors.FromError(err).StatusCode)
}

func TestNormalisePreferencesIgnoresMalformedValues(t *testing.T) {
	raw := datatypes.JSONMap{
		"live_enabled":       false,
		"email":              "not-a-bool",
		"categories":         []any{"marketplace", 42},
		"priority_threshold": "screaming",
	}

	prefs := NormalisePreferences(raw)
	require.False(t, prefs.LiveEnabled)
	require.True(t, prefs.Email)
	require.Equal(t, []string{"marketplace"}, prefs.Categories)
	require.Equal(t, models.PriorityLow, prefs.PriorityThreshold)
}
