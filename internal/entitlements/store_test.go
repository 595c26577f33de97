package entitlements

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"battlecards-backend/internal/errors"
	"battlecards-backend/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	return NewStore(db)
}

func createTestUser(t *testing.T, store *Store, email string) *models.User {
	t.Helper()
	tenant := &models.Tenant{Name: "Acme", StripeCustomerID: "cus_" + email}
	require.NoError(t, store.CreateTenant(tenant))
	user := &models.User{TenantID: tenant.ID, Email: email, Role: models.RoleAdmin, Status: models.UserActive}
	require.NoError(t, store.CreateUser(user))
	return user
}

func uintPtr(v uint) *uint { return &v }

func TestCreateSubscriptionRequiresSingleOwner(t *testing.T) {
	store := newTestStore(t)

	err := store.CreateSubscription(&models.Subscription{Status: models.SubscriptionActive})
	assert.True(t, errors.IsValidation(err))

	user := createTestUser(t, store, "owner@acme.test")
	err = store.CreateSubscription(&models.Subscription{
		UserID:   &user.ID,
		TenantID: &user.TenantID,
		Status:   models.SubscriptionActive,
	})
	assert.True(t, errors.IsValidation(err))
}

func TestAtMostOneActiveSubscriptionPerOwner(t *testing.T) {
	store := newTestStore(t)
	user := createTestUser(t, store, "owner@acme.test")

	first := &models.Subscription{UserID: &user.ID, Plan: models.PlanPro, Seats: 1, Status: models.SubscriptionActive}
	require.NoError(t, store.CreateSubscription(first))

	second := &models.Subscription{UserID: &user.ID, Plan: models.PlanPro, Seats: 1, Status: models.SubscriptionActive}
	err := store.CreateSubscription(second)
	assert.True(t, errors.IsConflict(err))

	// A non-access-granting record does not trip the invariant.
	cancelled := &models.Subscription{UserID: &user.ID, Plan: models.PlanBasic, Seats: 1, Status: models.SubscriptionCancelled}
	assert.NoError(t, store.CreateSubscription(cancelled))
}

func TestUpdateCannotActivateSecondSubscriptionForOwner(t *testing.T) {
	store := newTestStore(t)
	user := createTestUser(t, store, "owner@acme.test")

	first := &models.Subscription{UserID: &user.ID, Plan: models.PlanPro, Seats: 1, Status: models.SubscriptionActive}
	require.NoError(t, store.CreateSubscription(first))

	second := &models.Subscription{UserID: &user.ID, Plan: models.PlanBasic, Seats: 1, Status: models.SubscriptionPastDue}
	require.NoError(t, store.CreateSubscription(second))

	// Flipping the lapsed record active would leave two granting
	// subscriptions for the owner. The update enforces the same
	// invariant as creation.
	second.Status = models.SubscriptionActive
	err := store.UpdateSubscription(second)
	assert.True(t, errors.IsConflict(err))

	// Updating the already-active record does not trip on itself.
	first.Seats = 5
	assert.NoError(t, store.UpdateSubscription(first))
}

func TestBindProviderRefNeverRewritesExistingBinding(t *testing.T) {
	store := newTestStore(t)
	user := createTestUser(t, store, "owner@acme.test")

	sub := &models.Subscription{UserID: &user.ID, Plan: models.PlanPro, Seats: 1, Status: models.SubscriptionActive}
	require.NoError(t, store.CreateSubscription(sub))

	require.NoError(t, store.BindProviderRef(sub.ID, "sub_first"))
	// Re-binding the same ref is a harmless repeat delivery.
	require.NoError(t, store.BindProviderRef(sub.ID, "sub_first"))

	err := store.BindProviderRef(sub.ID, "sub_other")
	assert.True(t, errors.IsConflict(err))

	fresh, err := store.GetSubscription(sub.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh.StripeSubscriptionID)
	assert.Equal(t, "sub_first", *fresh.StripeSubscriptionID)
}

func TestDuplicateLicenseKey(t *testing.T) {
	store := newTestStore(t)
	user := createTestUser(t, store, "owner@acme.test")
	sub := &models.Subscription{UserID: &user.ID, Seats: 1, Status: models.SubscriptionActive}
	require.NoError(t, store.CreateSubscription(sub))

	require.NoError(t, store.CreateSeat(&models.Seat{SubscriptionID: sub.ID, LicenseKey: "BC-AAAAAAAAA-BBBBBBBBB", Status: models.SeatUnused}))
	err := store.CreateSeat(&models.Seat{SubscriptionID: sub.ID, LicenseKey: "BC-AAAAAAAAA-BBBBBBBBB", Status: models.SeatUnused})
	assert.True(t, errors.IsDuplicate(err))
}

func TestUserEmailLookupIsCaseInsensitive(t *testing.T) {
	store := newTestStore(t)
	createTestUser(t, store, "Mixed.Case@Acme.Test")

	user, err := store.GetUserByEmail("mixed.case@acme.test")
	require.NoError(t, err)
	assert.Equal(t, "mixed.case@acme.test", user.Email)

	user, err = store.GetUserByEmail("MIXED.CASE@ACME.TEST")
	require.NoError(t, err)
	assert.NotNil(t, user)
}

func TestSeatCountStaysInSyncWithRows(t *testing.T) {
	store := newTestStore(t)
	user := createTestUser(t, store, "owner@acme.test")
	sub := &models.Subscription{UserID: &user.ID, Seats: 1, Status: models.SubscriptionActive}
	require.NoError(t, store.CreateSubscription(sub))

	err := store.Transaction(func(tx *Store) error {
		locked, err := tx.GetSubscriptionForUpdate(sub.ID)
		if err != nil {
			return err
		}
		return tx.InsertSeatAndSyncCount(locked, &models.Seat{
			SubscriptionID: sub.ID,
			AssignedEmail:  "a@acme.test",
			LicenseKey:     "BC-000000001-000000001",
			Status:         models.SeatUnused,
		})
	})
	require.NoError(t, err)

	fresh, err := store.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.Seats)

	count, err := store.CountNonRevokedSeats(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRevokeNeverDropsCountBelowOne(t *testing.T) {
	store := newTestStore(t)
	user := createTestUser(t, store, "owner@acme.test")
	sub := &models.Subscription{UserID: &user.ID, Seats: 1, Status: models.SubscriptionActive}
	require.NoError(t, store.CreateSubscription(sub))

	seat := &models.Seat{SubscriptionID: sub.ID, LicenseKey: "BC-000000001-000000001", Status: models.SeatActive}
	require.NoError(t, store.CreateSeat(seat))

	err := store.Transaction(func(tx *Store) error {
		locked, err := tx.GetSubscriptionForUpdate(sub.ID)
		if err != nil {
			return err
		}
		return tx.RevokeSeatAndSyncCount(locked, seat)
	})
	require.NoError(t, err)

	fresh, err := store.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.Seats)

	revoked, err := store.GetSeat(seat.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SeatRevoked, revoked.Status)
	assert.Nil(t, revoked.MachineIdentifier)
}

func TestDuplicateTeamMemberEmailPerSubscription(t *testing.T) {
	store := newTestStore(t)
	user := createTestUser(t, store, "owner@acme.test")
	sub := &models.Subscription{UserID: &user.ID, Seats: 3, Status: models.SubscriptionActive}
	require.NoError(t, store.CreateSubscription(sub))

	require.NoError(t, store.CreateTeamMember(&models.TeamMember{SubscriptionID: sub.ID, Email: "m@acme.test", Status: models.MemberActive}))
	err := store.CreateTeamMember(&models.TeamMember{SubscriptionID: sub.ID, Email: "M@Acme.Test", Status: models.MemberActive})
	assert.True(t, errors.IsDuplicate(err))
}

func TestSuspendAndReactivateCascade(t *testing.T) {
	store := newTestStore(t)
	user := createTestUser(t, store, "owner@acme.test")
	sub := &models.Subscription{UserID: &user.ID, Seats: 5, Status: models.SubscriptionActive}
	require.NoError(t, store.CreateSubscription(sub))

	for _, email := range []string{"a@acme.test", "b@acme.test", "c@acme.test"} {
		require.NoError(t, store.CreateTeamMember(&models.TeamMember{
			SubscriptionID: sub.ID, Email: email, Status: models.MemberActive,
		}))
	}

	require.NoError(t, store.SuspendTeamMembers(sub.ID))

	members, err := store.GetTeamMembersForSubscription(sub.ID)
	require.NoError(t, err)
	require.Len(t, members, 3)
	for _, m := range members {
		assert.Equal(t, models.MemberSuspended, m.Status)
		assert.NotNil(t, m.SuspendedAt)
	}

	// Member invited while the subscription is lapsed keeps its own status
	// through reactivation.
	require.NoError(t, store.CreateTeamMember(&models.TeamMember{
		SubscriptionID: sub.ID, Email: "late@acme.test", Status: models.MemberInvited,
	}))

	require.NoError(t, store.ReactivateTeamMembers(sub.ID))

	members, err = store.GetTeamMembersForSubscription(sub.ID)
	require.NoError(t, err)
	require.Len(t, members, 4)
	for _, m := range members {
		if m.Email == "late@acme.test" {
			assert.Equal(t, models.MemberInvited, m.Status)
			continue
		}
		assert.Equal(t, models.MemberActive, m.Status)
		assert.Nil(t, m.SuspendedAt)
	}
}

func TestSuspendIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	user := createTestUser(t, store, "owner@acme.test")
	sub := &models.Subscription{UserID: &user.ID, Seats: 2, Status: models.SubscriptionActive}
	require.NoError(t, store.CreateSubscription(sub))
	require.NoError(t, store.CreateTeamMember(&models.TeamMember{
		SubscriptionID: sub.ID, Email: "a@acme.test", Status: models.MemberActive,
	}))

	require.NoError(t, store.SuspendTeamMembers(sub.ID))
	members, err := store.GetTeamMembersForSubscription(sub.ID)
	require.NoError(t, err)
	firstStamp := members[0].SuspendedAt
	require.NotNil(t, firstStamp)

	require.NoError(t, store.SuspendTeamMembers(sub.ID))
	members, err = store.GetTeamMembersForSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, firstStamp.Unix(), members[0].SuspendedAt.Unix())
}
