package services

import (
	"context"
	"testing"
	"time"

	"hyrebuy-backend/models"
	"hyrebuy-backend/testutils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestReferrals(t *testing.T) (*gorm.DB, *ReferralService) {
	t.Helper()
	db, ledger := newTestLedger(t)
	return db, NewReferralService(db, nil, ledger, NewCodeGenerator(0), "https://hyrebuy.test")
}

func TestReferralApplyAwardsBothSides(t *testing.T) {
	db, svc := newTestReferrals(t)
	ctx := context.Background()
	referrer := testutils.CreateAccount(t, db, "referrer@example.com")
	newcomer := testutils.CreateAccount(t, db, "new@example.com")

	ref, err := svc.Create(ctx, referrer, "")
	require.NoError(t, err)
	assert.Equal(t, "link", ref.Source)
	assert.Equal(t, models.ReferralPending, ref.Status)
	assert.Len(t, ref.ReferralCode, GroupCodeLength)
	assert.Equal(t, "https://hyrebuy.test/signup?ref="+ref.ReferralCode, svc.Link(ref.ReferralCode))

	res, err := svc.Apply(ctx, " "+ref.ReferralCode+" ", newcomer)
	require.NoError(t, err)
	assert.Equal(t, referrer, res.ReferrerID)
	assert.Equal(t, int64(100), res.PointsEarnedByReferrer)
	assert.Equal(t, int64(50), res.PointsEarnedByReferred)

	referrerProf := loadProfile(t, db, referrer)
	assert.Equal(t, int64(100), referrerProf.CurrentPoints)
	assert.Equal(t, int64(1), referrerProf.TotalReferrals)
	assert.Equal(t, int64(50), loadProfile(t, db, newcomer).CurrentPoints)

	var stored models.Referral
	require.NoError(t, db.Where("id = ?", ref.ID).First(&stored).Error)
	assert.Equal(t, models.ReferralActive, stored.Status)
	require.NotNil(t, stored.ReferredID)
	assert.Equal(t, newcomer, *stored.ReferredID)
	assert.Equal(t, int64(100), stored.PointsAwardedToReferrer)
}

func TestReferralApplyErrors(t *testing.T) {
	db, svc := newTestReferrals(t)
	ctx := context.Background()
	referrer := testutils.CreateAccount(t, db, "referrer@example.com")
	first := testutils.CreateAccount(t, db, "first@example.com")
	second := testutils.CreateAccount(t, db, "second@example.com")

	ref, err := svc.Create(ctx, referrer, "whatsapp")
	require.NoError(t, err)
	other, err := svc.Create(ctx, referrer, "email")
	require.NoError(t, err)

	_, err = svc.Create(ctx, referrer, "pigeon")
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Apply(ctx, "", first)
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.Apply(ctx, "NOPE0000", first)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Apply(ctx, ref.ReferralCode, referrer)
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Apply(ctx, ref.ReferralCode, first)
	require.NoError(t, err)
	_, err = svc.Apply(ctx, ref.ReferralCode, second)
	require.ErrorIs(t, err, ErrConflict)
	_, err = svc.Apply(ctx, other.ReferralCode, first)
	require.ErrorIs(t, err, ErrConflict)

	var txns int64
	require.NoError(t, db.Model(&models.RewardTransaction{}).Where("account_id = ?", second).Count(&txns).Error)
	assert.Zero(t, txns)
}

func TestReferralConvert(t *testing.T) {
	db, svc := newTestReferrals(t)
	ctx := context.Background()
	referrer := testutils.CreateAccount(t, db, "referrer@example.com")
	newcomer := testutils.CreateAccount(t, db, "new@example.com")

	ref, err := svc.Create(ctx, referrer, "link")
	require.NoError(t, err)

	_, err = svc.Convert(ctx, ref.ID, "property_purchase")
	require.ErrorIs(t, err, ErrConflict)

	_, err = svc.Apply(ctx, ref.ReferralCode, newcomer)
	require.NoError(t, err)

	_, err = svc.Convert(ctx, ref.ID, "lunch")
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.Convert(ctx, "not-a-uuid", "group_join")
	require.ErrorIs(t, err, ErrNotFound)

	res, err := svc.Convert(ctx, ref.ID, "group_join")
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.BonusPoints)

	prof := loadProfile(t, db, referrer)
	assert.Equal(t, int64(600), prof.CurrentPoints)
	assert.Equal(t, models.LevelSilver, prof.CurrentLevel)
	assert.Equal(t, int64(1), prof.SuccessfulReferrals)

	_, err = svc.Convert(ctx, ref.ID, "group_join")
	require.ErrorIs(t, err, ErrConflict)

	stats, err := svc.Stats(ctx, referrer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.Converted)
	assert.Equal(t, int64(600), stats.TotalPointsEarned)
	assert.Empty(t, stats.ReferralCode, "no unused code is left to share")

	list, err := svc.List(ctx, referrer, models.ReferralConverted, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].ConversionType)
	assert.Equal(t, "group_join", *list[0].ConversionType)

	ledgerStats, err := svc.Ledger.Stats(ctx, referrer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ledgerStats.Referrals.Converted)
	assert.Equal(t, int64(1), ledgerStats.Referrals.Total)
}

func TestReferralStatsShareNewestUnusedCode(t *testing.T) {
	db, svc := newTestReferrals(t)
	ctx := context.Background()
	referrer := testutils.CreateAccount(t, db, "referrer@example.com")

	older, err := svc.Create(ctx, referrer, "email")
	require.NoError(t, err)
	newer, err := svc.Create(ctx, referrer, "whatsapp")
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Referral{}).Where("id = ?", older.ID).
		UpdateColumn("referred_at", time.Now().Add(-time.Hour)).Error)

	stats, err := svc.Stats(ctx, referrer)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Pending)
	assert.Equal(t, newer.ReferralCode, stats.ReferralCode)
	assert.Equal(t, "https://hyrebuy.test/signup?ref="+newer.ReferralCode, stats.ReferralLink)
}
