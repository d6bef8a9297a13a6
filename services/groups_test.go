package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"hyrebuy-backend/models"
	"hyrebuy-backend/testutils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestGroups(t *testing.T) (*gorm.DB, *GroupService) {
	t.Helper()
	db, ledger := newTestLedger(t)
	return db, NewGroupService(db, nil, ledger, NewCodeGenerator(0), 0, "https://hyrebuy.test")
}

func int64p(v int64) *int64 { return &v }

func boolp(v bool) *bool { return &v }

func createTestGroup(t *testing.T, svc *GroupService, adminID string, minMembers, maxMembers int, discoverable bool) *models.BuyingGroup {
	t.Helper()
	group, err := svc.CreateGroup(context.Background(), adminID, CreateGroupInput{
		Name:                "Whitefield 3BHK Pool",
		TargetLocation:      "Whitefield, Bangalore",
		TargetConfiguration: "3BHK",
		BudgetMin:           int64p(8_000_000),
		BudgetMax:           int64p(12_000_000),
		MinimumMembers:      minMembers,
		MaximumMembers:      maxMembers,
		IsDiscoverable:      boolp(discoverable),
	})
	require.NoError(t, err)
	return group
}

func reloadGroup(t *testing.T, db *gorm.DB, id string) models.BuyingGroup {
	t.Helper()
	var g models.BuyingGroup
	require.NoError(t, db.Where("id = ?", id).First(&g).Error)
	return g
}

func countMembers(t *testing.T, db *gorm.DB, groupID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.GroupMember{}).Where("group_id = ?", groupID).Count(&n).Error)
	return n
}

func TestCreateGroupValidation(t *testing.T) {
	db, svc := newTestGroups(t)
	admin := testutils.CreateAccount(t, db, "admin@example.com")

	valid := func() CreateGroupInput {
		return CreateGroupInput{Name: "Good Name", TargetLocation: "Pune", BudgetMax: int64p(100)}
	}
	cases := map[string]func(*CreateGroupInput){
		"short name":        func(in *CreateGroupInput) { in.Name = "ab" },
		"missing location":  func(in *CreateGroupInput) { in.TargetLocation = "  " },
		"missing budget":    func(in *CreateGroupInput) { in.BudgetMax = nil },
		"min above max":     func(in *CreateGroupInput) { in.BudgetMin = int64p(200) },
		"too few members":   func(in *CreateGroupInput) { in.MinimumMembers = 1 },
		"too many members":  func(in *CreateGroupInput) { in.MaximumMembers = 101 },
		"minimum above cap": func(in *CreateGroupInput) { in.MinimumMembers, in.MaximumMembers = 10, 5 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := valid()
			mutate(&in)
			_, err := svc.CreateGroup(context.Background(), admin, in)
			require.ErrorIs(t, err, ErrValidation)
		})
	}

	var n int64
	require.NoError(t, db.Model(&models.BuyingGroup{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestCreateGroup(t *testing.T) {
	db, svc := newTestGroups(t)
	admin := testutils.CreateAccount(t, db, "admin@example.com")

	group := createTestGroup(t, svc, admin, 0, 0, false)
	assert.Equal(t, models.GroupForming, group.Status)
	assert.Equal(t, DefaultMinMembers, group.MinimumMembers)
	assert.Equal(t, DefaultMaxMembers, group.MaximumMembers)
	assert.Len(t, group.InviteCode, GroupCodeLength)
	assert.Regexp(t, codePattern, group.InviteCode)
	assert.True(t, strings.HasPrefix(group.Slug, "whitefield-3bhk-pool-"))

	stored := reloadGroup(t, db, group.ID)
	assert.False(t, stored.IsDiscoverable)
	assert.Equal(t, 1, stored.CurrentMemberCount)
	assert.Equal(t, 1, stored.CommittedMemberCount)

	adminRow, err := memberOf(db, group.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.MemberCommitted, adminRow.Status)

	prof := loadProfile(t, db, admin)
	assert.Equal(t, int64(50), prof.CurrentPoints)
	assert.Equal(t, int64(1), prof.GroupsCreated)
}

func TestCreateGroupRetriesCodeCollision(t *testing.T) {
	db, svc := newTestGroups(t)
	admin := testutils.CreateAccount(t, db, "admin@example.com")
	svc.Codes.Draw = scripted("GRP00001", "GRP00001", "GRP00002")

	first := createTestGroup(t, svc, admin, 2, 5, true)
	second := createTestGroup(t, svc, admin, 2, 5, true)
	assert.Equal(t, "GRP00001", first.InviteCode)
	assert.Equal(t, "GRP00002", second.InviteCode)
}

func TestJoinDiscoverableRespectsCapacity(t *testing.T) {
	db, svc := newTestGroups(t)
	ctx := context.Background()
	admin := testutils.CreateAccount(t, db, "admin@example.com")
	group := createTestGroup(t, svc, admin, 2, 5, true)

	for i := 0; i < 4; i++ {
		acct := testutils.CreateAccount(t, db, fmt.Sprintf("m%d@example.com", i))
		member, err := svc.JoinDiscoverable(ctx, group.ID, acct)
		require.NoError(t, err)
		assert.Equal(t, models.MemberInterested, member.Status)
		assert.Equal(t, int64(20), loadProfile(t, db, acct).CurrentPoints)
	}

	late := testutils.CreateAccount(t, db, "late@example.com")
	_, err := svc.JoinDiscoverable(ctx, group.ID, late)
	require.ErrorIs(t, err, ErrGroupFull)

	stored := reloadGroup(t, db, group.ID)
	assert.Equal(t, 5, stored.CurrentMemberCount)
	assert.Equal(t, int64(5), countMembers(t, db, group.ID))

	var latePoints int64
	require.NoError(t, db.Model(&models.RewardTransaction{}).Where("account_id = ?", late).Count(&latePoints).Error)
	assert.Zero(t, latePoints)
}

func TestConcurrentJoinsNeverOverfill(t *testing.T) {
	db, svc := newTestGroups(t)
	admin := testutils.CreateAccount(t, db, "admin@example.com")
	group := createTestGroup(t, svc, admin, 2, 3, true)

	const joiners = 6
	accounts := make([]string, joiners)
	for i := range accounts {
		accounts[i] = testutils.CreateAccount(t, db, fmt.Sprintf("j%d@example.com", i))
	}

	var wg sync.WaitGroup
	results := make(chan error, joiners)
	for _, acct := range accounts {
		wg.Add(1)
		go func(acct string) {
			defer wg.Done()
			_, err := svc.JoinDiscoverable(context.Background(), group.ID, acct)
			results <- err
		}(acct)
	}
	wg.Wait()
	close(results)

	var ok, full int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ErrGroupFull):
			full++
		}
	}
	assert.Equal(t, 2, ok)
	assert.Equal(t, 4, full)
	assert.Equal(t, 3, reloadGroup(t, db, group.ID).CurrentMemberCount)
	assert.Equal(t, int64(3), countMembers(t, db, group.ID))
}

func TestJoinDiscoverableErrors(t *testing.T) {
	db, svc := newTestGroups(t)
	ctx := context.Background()
	admin := testutils.CreateAccount(t, db, "admin@example.com")
	acct := testutils.CreateAccount(t, db, "m@example.com")
	open := createTestGroup(t, svc, admin, 2, 5, true)
	hidden := createTestGroup(t, svc, admin, 2, 5, false)

	_, err := svc.JoinDiscoverable(ctx, hidden.ID, acct)
	require.ErrorIs(t, err, ErrGroupNotFound)

	_, err = svc.JoinDiscoverable(ctx, "00000000-0000-0000-0000-000000000000", acct)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.JoinDiscoverable(ctx, "garbage", acct)
	require.ErrorIs(t, err, ErrGroupNotFound)

	_, err = svc.JoinDiscoverable(ctx, open.ID, admin)
	require.ErrorIs(t, err, ErrConflict)

	_, err = svc.JoinDiscoverable(ctx, open.ID, acct)
	require.NoError(t, err)
	_, err = svc.JoinDiscoverable(ctx, open.ID, acct)
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 2, reloadGroup(t, db, open.ID).CurrentMemberCount)

	_, err = svc.TransitionGroup(ctx, open.ID, admin, models.GroupCancelled, nil)
	require.NoError(t, err)
	late := testutils.CreateAccount(t, db, "late@example.com")
	_, err = svc.JoinDiscoverable(ctx, open.ID, late)
	require.ErrorIs(t, err, ErrValidation)
}

func TestJoinByCode(t *testing.T) {
	db, svc := newTestGroups(t)
	ctx := context.Background()
	admin := testutils.CreateAccount(t, db, "admin@example.com")
	acct := testutils.CreateAccount(t, db, "m@example.com")
	hidden := createTestGroup(t, svc, admin, 2, 5, false)

	member, err := svc.JoinByCode(ctx, strings.ToLower(hidden.InviteCode), acct)
	require.NoError(t, err)
	assert.Equal(t, hidden.ID, member.GroupID)

	_, err = svc.JoinByCode(ctx, hidden.InviteCode, acct)
	require.ErrorIs(t, err, ErrConflict)

	_, err = svc.JoinByCode(ctx, "NOPE0000", acct)
	require.ErrorIs(t, err, ErrInvalidInvite)
}

func TestInviteLifecycle(t *testing.T) {
	db, svc := newTestGroups(t)
	ctx := context.Background()
	admin := testutils.CreateAccount(t, db, "admin@example.com")
	guest := testutils.CreateAccount(t, db, "guest@example.com")
	other := testutils.CreateAccount(t, db, "other@example.com")
	group := createTestGroup(t, svc, admin, 2, 5, true)

	_, err := svc.CreateInvite(ctx, group.ID, other, CreateInviteInput{})
	require.ErrorIs(t, err, ErrNotAMember)

	res, err := svc.CreateInvite(ctx, group.ID, admin, CreateInviteInput{SharingMethod: "whatsapp"})
	require.NoError(t, err)
	invite := res.Invite
	assert.Len(t, invite.InviteCode, InviteCodeLength)
	assert.Equal(t, models.InvitePending, invite.Status)
	require.NotNil(t, invite.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(DefaultInviteTTL), *invite.ExpiresAt, time.Minute)
	assert.Equal(t, "https://hyrebuy.test/groups/join/"+invite.InviteCode, res.ShareURL)
	assert.True(t, strings.HasPrefix(res.WhatsAppLink, "https://wa.me/?text="))

	issued := time.Now().Add(-3 * time.Hour)
	require.NoError(t, db.Model(&models.GroupInvite{}).Where("id = ?", invite.ID).
		UpdateColumn("created_at", issued).Error)

	redeemed, err := svc.RedeemInvite(ctx, invite.InviteCode, guest)
	require.NoError(t, err)
	assert.Equal(t, group.ID, redeemed.GroupID)
	assert.False(t, redeemed.AlreadyMember)

	member, err := memberOf(db, group.ID, guest)
	require.NoError(t, err)
	assert.Equal(t, models.MemberInterested, member.Status)
	require.NotNil(t, member.InvitedBy)
	assert.Equal(t, admin, *member.InvitedBy)
	require.NotNil(t, member.InvitedAt)
	require.NotNil(t, member.JoinedAt)
	assert.WithinDuration(t, issued, *member.InvitedAt, time.Second)
	assert.WithinDuration(t, time.Now(), *member.JoinedAt, time.Minute)
	assert.Equal(t, 2, reloadGroup(t, db, group.ID).CurrentMemberCount)

	_, err = svc.RedeemInvite(ctx, invite.InviteCode, other)
	require.ErrorIs(t, err, ErrInvalidInvite)

	var stored models.GroupInvite
	require.NoError(t, db.Where("id = ?", invite.ID).First(&stored).Error)
	assert.Equal(t, models.InviteAccepted, stored.Status)
	require.NotNil(t, stored.InviteeID)
	assert.Equal(t, guest, *stored.InviteeID)
}

func TestRedeemInviteByExistingMemberKeepsCode(t *testing.T) {
	db, svc := newTestGroups(t)
	ctx := context.Background()
	admin := testutils.CreateAccount(t, db, "admin@example.com")
	group := createTestGroup(t, svc, admin, 2, 5, true)

	res, err := svc.CreateInvite(ctx, group.ID, admin, CreateInviteInput{})
	require.NoError(t, err)

	redeemed, err := svc.RedeemInvite(ctx, res.Invite.InviteCode, admin)
	require.NoError(t, err)
	assert.True(t, redeemed.AlreadyMember)

	var stored models.GroupInvite
	require.NoError(t, db.Where("id = ?", res.Invite.ID).First(&stored).Error)
	assert.Equal(t, models.InvitePending, stored.Status)
	assert.Equal(t, 1, reloadGroup(t, db, group.ID).CurrentMemberCount)
}

func TestTargetedAndExpiredInvites(t *testing.T) {
	db, svc := newTestGroups(t)
	ctx := context.Background()
	admin := testutils.CreateAccount(t, db, "admin@example.com")
	target := testutils.CreateAccount(t, db, "target@example.com")
	stranger := testutils.CreateAccount(t, db, "stranger@example.com")
	group := createTestGroup(t, svc, admin, 2, 5, true)

	targeted, err := svc.CreateInvite(ctx, group.ID, admin, CreateInviteInput{InviteeID: &target})
	require.NoError(t, err)
	_, err = svc.RedeemInvite(ctx, targeted.Invite.InviteCode, stranger)
	require.ErrorIs(t, err, ErrInvalidInvite)
	_, err = svc.RedeemInvite(ctx, targeted.Invite.InviteCode, target)
	require.NoError(t, err)

	stale, err := svc.CreateInvite(ctx, group.ID, admin, CreateInviteInput{})
	require.NoError(t, err)
	fresh, err := svc.CreateInvite(ctx, group.ID, admin, CreateInviteInput{})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.GroupInvite{}).Where("id = ?", stale.Invite.ID).
		Update("expires_at", time.Now().Add(-time.Hour)).Error)

	_, err = svc.RedeemInvite(ctx, stale.Invite.InviteCode, stranger)
	require.ErrorIs(t, err, ErrInvalidInvite)

	n, err := svc.ExpireInvites(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var freshRow models.GroupInvite
	require.NoError(t, db.Where("id = ?", fresh.Invite.ID).First(&freshRow).Error)
	assert.Equal(t, models.InvitePending, freshRow.Status)
}

func TestRedeemInviteIntoFullGroupKeepsInvitePending(t *testing.T) {
	db, svc := newTestGroups(t)
	ctx := context.Background()
	admin := testutils.CreateAccount(t, db, "admin@example.com")
	first := testutils.CreateAccount(t, db, "first@example.com")
	second := testutils.CreateAccount(t, db, "second@example.com")
	group := createTestGroup(t, svc, admin, 2, 2, true)

	res, err := svc.CreateInvite(ctx, group.ID, admin, CreateInviteInput{})
	require.NoError(t, err)
	_, err = svc.JoinDiscoverable(ctx, group.ID, first)
	require.NoError(t, err)

	_, err = svc.RedeemInvite(ctx, res.Invite.InviteCode, second)
	require.ErrorIs(t, err, ErrGroupFull)

	var stored models.GroupInvite
	require.NoError(t, db.Where("id = ?", res.Invite.ID).First(&stored).Error)
	assert.Equal(t, models.InvitePending, stored.Status)
	assert.Nil(t, stored.InviteeID)
}

func TestDeclineInvite(t *testing.T) {
	db, svc := newTestGroups(t)
	ctx := context.Background()
	admin := testutils.CreateAccount(t, db, "admin@example.com")
	guest := testutils.CreateAccount(t, db, "guest@example.com")
	group := createTestGroup(t, svc, admin, 2, 5, true)

	res, err := svc.CreateInvite(ctx, group.ID, admin, CreateInviteInput{})
	require.NoError(t, err)
	require.NoError(t, svc.DeclineInvite(ctx, res.Invite.InviteCode, guest))

	_, err = svc.RedeemInvite(ctx, res.Invite.InviteCode, guest)
	require.ErrorIs(t, err, ErrInvalidInvite)
}

func TestAdvanceMember(t *testing.T) {
	db, svc := newTestGroups(t)
	ctx := context.Background()
	admin := testutils.CreateAccount(t, db, "admin@example.com")
	acct := testutils.CreateAccount(t, db, "m@example.com")
	group := createTestGroup(t, svc, admin, 2, 5, true)
	_, err := svc.JoinDiscoverable(ctx, group.ID, acct)
	require.NoError(t, err)

	_, err = svc.AdvanceMember(ctx, group.ID, acct, models.MemberClosed, nil)
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.AdvanceMember(ctx, group.ID, acct, models.MemberDepositPaid, nil)
	require.ErrorIs(t, err, ErrValidation)

	member, err := svc.AdvanceMember(ctx, group.ID, acct, models.MemberCommitted, nil)
	require.NoError(t, err)
	assert.Equal(t, models.MemberCommitted, member.Status)
	assert.NotNil(t, member.CommittedAt)
	assert.Equal(t, 2, reloadGroup(t, db, group.ID).CommittedMemberCount)

	_, err = svc.AdvanceMember(ctx, group.ID, acct, models.MemberCommitted, nil)
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 2, reloadGroup(t, db, group.ID).CommittedMemberCount)

	member, err = svc.AdvanceMember(ctx, group.ID, acct, models.MemberDepositPaid, int64p(250_000))
	require.NoError(t, err)
	assert.Equal(t, models.MemberDepositPaid, member.Status)
	require.NotNil(t, member.DepositAmount)
	assert.Equal(t, int64(250_000), *member.DepositAmount)

	outsider := testutils.CreateAccount(t, db, "out@example.com")
	_, err = svc.AdvanceMember(ctx, group.ID, outsider, models.MemberCommitted, nil)
	require.ErrorIs(t, err, ErrNotAMember)
}

func TestTransitionGroupToClosed(t *testing.T) {
	db, svc := newTestGroups(t)
	ctx := context.Background()
	admin := testutils.CreateAccount(t, db, "admin@example.com")
	payer := testutils.CreateAccount(t, db, "payer@example.com")
	browser := testutils.CreateAccount(t, db, "browser@example.com")
	group := createTestGroup(t, svc, admin, 3, 5, true)

	_, err := svc.JoinDiscoverable(ctx, group.ID, payer)
	require.NoError(t, err)

	_, err = svc.TransitionGroup(ctx, group.ID, payer, models.GroupNegotiating, nil)
	require.ErrorIs(t, err, ErrForbidden)
	_, err = svc.TransitionGroup(ctx, group.ID, admin, models.GroupNegotiating, nil)
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.TransitionGroup(ctx, group.ID, admin, models.GroupClosed, nil)
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.JoinDiscoverable(ctx, group.ID, browser)
	require.NoError(t, err)
	_, err = svc.AdvanceMember(ctx, group.ID, payer, models.MemberCommitted, nil)
	require.NoError(t, err)
	_, err = svc.AdvanceMember(ctx, group.ID, payer, models.MemberDepositPaid, int64p(100_000))
	require.NoError(t, err)
	pending, err := svc.CreateInvite(ctx, group.ID, admin, CreateInviteInput{})
	require.NoError(t, err)

	g, err := svc.TransitionGroup(ctx, group.ID, admin, models.GroupNegotiating, nil)
	require.NoError(t, err)
	assert.Equal(t, models.GroupNegotiating, g.Status)

	before := loadProfile(t, db, payer).CurrentPoints
	g, err = svc.TransitionGroup(ctx, group.ID, admin, models.GroupClosed, int64p(9_500_000))
	require.NoError(t, err)
	assert.Equal(t, models.GroupClosed, g.Status)
	require.NotNil(t, g.FinalPricePerUnit)
	assert.Equal(t, int64(9_500_000), *g.FinalPricePerUnit)
	assert.NotNil(t, g.DealClosedAt)

	assert.Equal(t, before+PointsTable[models.ActionDealClosed], loadProfile(t, db, payer).CurrentPoints)
	assert.Equal(t, int64(20), loadProfile(t, db, browser).CurrentPoints)

	var open int64
	require.NoError(t, db.Model(&models.GroupMember{}).
		Where("group_id = ? AND status <> ?", group.ID, models.MemberClosed).Count(&open).Error)
	assert.Zero(t, open)

	var inv models.GroupInvite
	require.NoError(t, db.Where("id = ?", pending.Invite.ID).First(&inv).Error)
	assert.Equal(t, models.InviteExpired, inv.Status)

	_, err = svc.TransitionGroup(ctx, group.ID, admin, models.GroupCancelled, nil)
	require.ErrorIs(t, err, ErrValidation)
}

func TestTransitionGroupToCancelled(t *testing.T) {
	db, svc := newTestGroups(t)
	ctx := context.Background()
	admin := testutils.CreateAccount(t, db, "admin@example.com")
	acct := testutils.CreateAccount(t, db, "m@example.com")
	group := createTestGroup(t, svc, admin, 2, 5, true)
	_, err := svc.JoinDiscoverable(ctx, group.ID, acct)
	require.NoError(t, err)

	g, err := svc.TransitionGroup(ctx, group.ID, admin, models.GroupCancelled, nil)
	require.NoError(t, err)
	assert.Equal(t, models.GroupCancelled, g.Status)

	member, err := memberOf(db, group.ID, acct)
	require.NoError(t, err)
	assert.Equal(t, models.MemberCancelled, member.Status)

	_, err = svc.CreateInvite(ctx, group.ID, admin, CreateInviteInput{})
	require.ErrorIs(t, err, ErrValidation)
}

func TestListMembersAndGroups(t *testing.T) {
	db, svc := newTestGroups(t)
	ctx := context.Background()
	admin := testutils.CreateAccount(t, db, "admin@example.com")
	acct := testutils.CreateAccount(t, db, "m@example.com")
	stranger := testutils.CreateAccount(t, db, "s@example.com")
	open := createTestGroup(t, svc, admin, 2, 5, true)
	createTestGroup(t, svc, admin, 2, 5, false)

	_, err := svc.JoinDiscoverable(ctx, open.ID, acct)
	require.NoError(t, err)

	members, err := svc.ListMembers(ctx, open.ID, acct)
	require.NoError(t, err)
	assert.Len(t, members, 2)
	_, err = svc.ListMembers(ctx, open.ID, stranger)
	require.ErrorIs(t, err, ErrNotAMember)

	all, err := svc.ListGroups(ctx, GroupFilter{Location: "WHITEFIELD"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	discoverable, err := svc.ListGroups(ctx, GroupFilter{DiscoverableOnly: true, Status: models.GroupForming})
	require.NoError(t, err)
	require.Len(t, discoverable, 1)
	assert.Equal(t, open.ID, discoverable[0].ID)

	none, err := svc.ListGroups(ctx, GroupFilter{Location: "Mumbai"})
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.Equal(t, "https://hyrebuy.test/groups/"+open.Slug+"?code="+open.InviteCode, svc.GroupShareURL(open))
}

func TestTargetedInviteRostersInvitedMember(t *testing.T) {
	db, svc := newTestGroups(t)
	ctx := context.Background()
	admin := testutils.CreateAccount(t, db, "admin@example.com")
	target := testutils.CreateAccount(t, db, "target@example.com")
	group := createTestGroup(t, svc, admin, 2, 5, true)

	first, err := svc.CreateInvite(ctx, group.ID, admin, CreateInviteInput{InviteeID: &target})
	require.NoError(t, err)

	invited, err := memberOf(db, group.ID, target)
	require.NoError(t, err)
	assert.Equal(t, models.MemberInvited, invited.Status)
	require.NotNil(t, invited.InvitedBy)
	assert.Equal(t, admin, *invited.InvitedBy)
	assert.NotNil(t, invited.InvitedAt)
	assert.Nil(t, invited.JoinedAt)
	assert.Equal(t, 1, reloadGroup(t, db, group.ID).CurrentMemberCount, "an invited row holds no seat")
	assert.Equal(t, int64(2), countMembers(t, db, group.ID))

	roster, err := svc.ListMembers(ctx, group.ID, admin)
	require.NoError(t, err)
	assert.Len(t, roster, 2)

	// Invited is not yet a member for chat, roster or inviting.
	_, err = svc.SendMessage(ctx, group.ID, target, "hello", "")
	require.ErrorIs(t, err, ErrNotAMember)
	_, err = svc.ListMembers(ctx, group.ID, target)
	require.ErrorIs(t, err, ErrNotAMember)
	_, err = svc.CreateInvite(ctx, group.ID, target, CreateInviteInput{})
	require.ErrorIs(t, err, ErrNotAMember)
	_, err = svc.AdvanceMember(ctx, group.ID, target, models.MemberCommitted, nil)
	require.ErrorIs(t, err, ErrConflict)

	second, err := svc.CreateInvite(ctx, group.ID, admin, CreateInviteInput{InviteeID: &target})
	require.NoError(t, err)
	assert.Equal(t, int64(2), countMembers(t, db, group.ID), "re-inviting reuses the invited row")

	_, err = svc.CreateInvite(ctx, group.ID, admin, CreateInviteInput{InviteeID: &admin})
	require.ErrorIs(t, err, ErrConflict)
	ghost := "00000000-0000-0000-0000-000000000001"
	_, err = svc.CreateInvite(ctx, group.ID, admin, CreateInviteInput{InviteeID: &ghost})
	require.ErrorIs(t, err, ErrNotFound)

	redeemed, err := svc.RedeemInvite(ctx, first.Invite.InviteCode, target)
	require.NoError(t, err)
	assert.False(t, redeemed.AlreadyMember)

	promoted, err := memberOf(db, group.ID, target)
	require.NoError(t, err)
	assert.Equal(t, invited.ID, promoted.ID)
	assert.Equal(t, models.MemberInterested, promoted.Status)
	assert.NotNil(t, promoted.JoinedAt)
	assert.Equal(t, 2, reloadGroup(t, db, group.ID).CurrentMemberCount)
	assert.Equal(t, int64(2), countMembers(t, db, group.ID))
	assert.Equal(t, PointsTable[models.ActionGroupJoined], loadProfile(t, db, target).CurrentPoints)

	again, err := svc.RedeemInvite(ctx, second.Invite.InviteCode, target)
	require.NoError(t, err)
	assert.True(t, again.AlreadyMember)
}

func TestInvitedAccountJoiningDirectlyIsPromoted(t *testing.T) {
	db, svc := newTestGroups(t)
	ctx := context.Background()
	admin := testutils.CreateAccount(t, db, "admin@example.com")
	target := testutils.CreateAccount(t, db, "target@example.com")
	group := createTestGroup(t, svc, admin, 2, 5, true)

	_, err := svc.CreateInvite(ctx, group.ID, admin, CreateInviteInput{InviteeID: &target})
	require.NoError(t, err)

	member, err := svc.JoinDiscoverable(ctx, group.ID, target)
	require.NoError(t, err)
	assert.Equal(t, models.MemberInterested, member.Status)
	require.NotNil(t, member.InvitedBy)
	assert.Equal(t, admin, *member.InvitedBy)
	assert.Equal(t, 2, reloadGroup(t, db, group.ID).CurrentMemberCount)
	assert.Equal(t, int64(2), countMembers(t, db, group.ID))

	_, err = svc.JoinDiscoverable(ctx, group.ID, target)
	require.ErrorIs(t, err, ErrConflict)
}

func TestInvitedRowLeavesWithItsInvite(t *testing.T) {
	db, svc := newTestGroups(t)
	ctx := context.Background()
	admin := testutils.CreateAccount(t, db, "admin@example.com")
	decliner := testutils.CreateAccount(t, db, "decliner@example.com")
	sleeper := testutils.CreateAccount(t, db, "sleeper@example.com")
	group := createTestGroup(t, svc, admin, 2, 5, true)

	declined, err := svc.CreateInvite(ctx, group.ID, admin, CreateInviteInput{InviteeID: &decliner})
	require.NoError(t, err)
	stale, err := svc.CreateInvite(ctx, group.ID, admin, CreateInviteInput{InviteeID: &sleeper})
	require.NoError(t, err)
	assert.Equal(t, int64(3), countMembers(t, db, group.ID))

	require.NoError(t, svc.DeclineInvite(ctx, declined.Invite.InviteCode, decliner))
	_, err = memberOf(db, group.ID, decliner)
	require.ErrorIs(t, err, ErrNotAMember)

	require.NoError(t, db.Model(&models.GroupInvite{}).Where("id = ?", stale.Invite.ID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)
	n, err := svc.ExpireInvites(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = memberOf(db, group.ID, sleeper)
	require.ErrorIs(t, err, ErrNotAMember)

	assert.Equal(t, int64(1), countMembers(t, db, group.ID))
	assert.Equal(t, 1, reloadGroup(t, db, group.ID).CurrentMemberCount)
}

func TestConcurrentRedeemsConsumeInviteOnce(t *testing.T) {
	db, svc := newTestGroups(t)
	admin := testutils.CreateAccount(t, db, "admin@example.com")
	group := createTestGroup(t, svc, admin, 2, 10, true)
	res, err := svc.CreateInvite(context.Background(), group.ID, admin, CreateInviteInput{})
	require.NoError(t, err)

	const redeemers = 6
	accounts := make([]string, redeemers)
	for i := range accounts {
		accounts[i] = testutils.CreateAccount(t, db, fmt.Sprintf("r%d@example.com", i))
	}

	var wg sync.WaitGroup
	results := make(chan error, redeemers)
	for _, acct := range accounts {
		wg.Add(1)
		go func(acct string) {
			defer wg.Done()
			_, err := svc.RedeemInvite(context.Background(), res.Invite.InviteCode, acct)
			results <- err
		}(acct)
	}
	wg.Wait()
	close(results)

	var ok, invalid int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ErrInvalidInvite):
			invalid++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, redeemers-1, invalid)
	assert.Equal(t, 2, reloadGroup(t, db, group.ID).CurrentMemberCount)
	assert.Equal(t, int64(2), countMembers(t, db, group.ID))
}

func TestDeletingGroupRemovesItsRows(t *testing.T) {
	db, svc := newTestGroups(t)
	ctx := context.Background()
	admin := testutils.CreateAccount(t, db, "admin@example.com")
	acct := testutils.CreateAccount(t, db, "m@example.com")
	group := createTestGroup(t, svc, admin, 2, 5, true)
	_, err := svc.JoinDiscoverable(ctx, group.ID, acct)
	require.NoError(t, err)
	_, err = svc.CreateInvite(ctx, group.ID, admin, CreateInviteInput{})
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, group.ID, acct, "hi", "")
	require.NoError(t, err)

	require.NoError(t, db.Where("id = ?", group.ID).Delete(&models.BuyingGroup{}).Error)

	for _, model := range []any{&models.GroupMember{}, &models.GroupInvite{}, &models.GroupMessage{}} {
		var n int64
		require.NoError(t, db.Model(model).Where("group_id = ?", group.ID).Count(&n).Error)
		assert.Zero(t, n, "%T", model)
	}
}
