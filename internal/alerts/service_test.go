package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/adamstosho/grochain/internal/database/testutil"
	"github.com/adamstosho/grochain/internal/models"
	apperrors "github.com/adamstosho/grochain/pkg/errors"
)

func TestServiceCreateRejectsDuplicateActiveAlert(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	user, listing := seedUserAndListing(t, db, "120")

	svc, err := NewService(db)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateAlertInput{
		UserID:      user.ID,
		ListingID:   listing.ID,
		TargetPrice: decimal.RequireFromString("100"),
		AlertType:   models.AlertPriceDrop,
	})
	require.NoError(t, err)
	require.True(t, first.IsActive)
	require.Len(t, first.History(), 1)

	_, err = svc.Create(ctx, CreateAlertInput{
		UserID:      user.ID,
		ListingID:   listing.ID,
		TargetPrice: decimal.RequireFromString("90"),
		AlertType:   models.AlertPriceDrop,
	})
	require.Error(t, err)
	appErr := apperrors.FromError(err)
	require.Equal(t, 409, appErr.StatusCode)

	// Deactivating the first alert frees the slot.
	inactive := false
	_, err = svc.Update(ctx, user.ID, first.ID, UpdateAlertInput{IsActive: &inactive})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateAlertInput{
		UserID:      user.ID,
		ListingID:   listing.ID,
		TargetPrice: decimal.RequireFromString("90"),
	})
	require.NoError(t, err)
}

func TestServiceCreateValidation(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	user, listing := seedUserAndListing(t, db, "120")

	svc, err := NewService(db)
	require.NoError(t, err)
	ctx := context.Background()

	cases := []struct {
		name  string
		input CreateAlertInput
	}{
		{"missing ids", CreateAlertInput{TargetPrice: decimal.NewFromInt(10)}},
		{"unknown type", CreateAlertInput{
			UserID: user.ID, ListingID: listing.ID,
			TargetPrice: decimal.NewFromInt(10), AlertType: "sideways",
		}},
		{"zero target", CreateAlertInput{
			UserID: user.ID, ListingID: listing.ID,
			TargetPrice: decimal.Zero,
		}},
		{"negative target", CreateAlertInput{
			UserID: user.ID, ListingID: listing.ID,
			TargetPrice: decimal.NewFromInt(-5),
		}},
		{"unknown channel", CreateAlertInput{
			UserID: user.ID, ListingID: listing.ID,
			TargetPrice: decimal.NewFromInt(10),
			Channels:    []models.AlertChannel{{Channel: "pigeon", Enabled: true}},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.input)
			require.Error(t, err)
			require.Equal(t, 400, apperrors.FromError(err).StatusCode)
		})
	}

	_, err = svc.Create(ctx, CreateAlertInput{
		UserID:      user.ID,
		ListingID:   "0d4c54d7-9a6e-4f0f-8f38-1willnotparse",
		TargetPrice: decimal.NewFromInt(10),
	})
	require.Error(t, err)
	require.Equal(t, 404, apperrors.FromError(err).StatusCode)
}

func TestServiceUpdateTargetPriceRearms(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	user, listing := seedUserAndListing(t, db, "120")

	svc, err := NewService(db)
	require.NoError(t, err)
	ctx := context.Background()

	alert, err := svc.Create(ctx, CreateAlertInput{
		UserID:      user.ID,
		ListingID:   listing.ID,
		TargetPrice: decimal.RequireFromString("100"),
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, db.Model(&models.PriceAlert{}).
		Where("id = ?", alert.ID).
		Updates(map[string]any{
			"triggered_at":      now,
			"trigger_count":     1,
			"notification_sent": true,
		}).Error)

	newTarget := decimal.RequireFromString("95")
	updated, err := svc.Update(ctx, user.ID, alert.ID, UpdateAlertInput{TargetPrice: &newTarget})
	require.NoError(t, err)
	require.Nil(t, updated.TriggeredAt)
	require.False(t, updated.NotificationSent)
	require.Equal(t, 1, updated.TriggerCount)
	require.True(t, updated.TargetPrice.Equal(newTarget))
}

func TestServiceUpdateSameTargetDoesNotRearm(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	user, listing := seedUserAndListing(t, db, "120")

	svc, err := NewService(db)
	require.NoError(t, err)
	ctx := context.Background()

	alert, err := svc.Create(ctx, CreateAlertInput{
		UserID:      user.ID,
		ListingID:   listing.ID,
		TargetPrice: decimal.RequireFromString("100"),
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, db.Model(&models.PriceAlert{}).
		Where("id = ?", alert.ID).
		Update("triggered_at", now).Error)

	sameTarget := decimal.RequireFromString("100")
	updated, err := svc.Update(ctx, user.ID, alert.ID, UpdateAlertInput{TargetPrice: &sameTarget})
	require.NoError(t, err)
	require.NotNil(t, updated.TriggeredAt)
}

func TestServiceOwnershipScoping(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	user, listing := seedUserAndListing(t, db, "120")

	stranger := models.User{Name: "Tunde", Email: "tunde@example.com", Role: models.RoleBuyer}
	require.NoError(t, db.Create(&stranger).Error)

	svc, err := NewService(db)
	require.NoError(t, err)
	ctx := context.Background()

	alert, err := svc.Create(ctx, CreateAlertInput{
		UserID:      user.ID,
		ListingID:   listing.ID,
		TargetPrice: decimal.RequireFromString("100"),
	})
	require.NoError(t, err)

	_, err = svc.Get(ctx, stranger.ID, alert.ID)
	require.Equal(t, 404, apperrors.FromError(err).StatusCode)

	err = svc.Delete(ctx, stranger.ID, alert.ID)
	require.Equal(t, 404, apperrors.FromError(err).StatusCode)

	require.NoError(t, svc.Delete(ctx, user.ID, alert.ID))

	items, err := svc.List(ctx, user.ID)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestServiceStatsForUser(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	user, listing := seedUserAndListing(t, db, "120")

	second := models.Listing{
		ProductName: "Yam (100kg)",
		Category:    "tubers",
		Price:       decimal.RequireFromString("200"),
		IsAvailable: true,
	}
	require.NoError(t, db.Create(&second).Error)

	svc, err := NewService(db)
	require.NoError(t, err)
	ctx := context.Background()

	active, err := svc.Create(ctx, CreateAlertInput{
		UserID:      user.ID,
		ListingID:   listing.ID,
		TargetPrice: decimal.RequireFromString("100"),
	})
	require.NoError(t, err)

	triggered, err := svc.Create(ctx, CreateAlertInput{
		UserID:      user.ID,
		ListingID:   second.ID,
		TargetPrice: decimal.RequireFromString("150"),
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, db.Model(&models.PriceAlert{}).
		Where("id = ?", triggered.ID).
		Updates(map[string]any{
			"triggered_at":  now,
			"trigger_count": 3,
			"is_active":     false,
		}).Error)

	stats, err := svc.StatsForUser(ctx, user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.TotalAlerts)
	require.EqualValues(t, 1, stats.ActiveAlerts)
	require.EqualValues(t, 1, stats.TriggeredAlerts)
	require.EqualValues(t, 3, stats.TotalTriggers)
	require.True(t, active.IsActive)
}
