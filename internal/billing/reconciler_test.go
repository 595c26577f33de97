package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"battlecards-backend/internal/entitlements"
	"battlecards-backend/internal/errors"
	"battlecards-backend/internal/models"
)

func newTestEnv(t *testing.T) (*entitlements.Store, *Reconciler) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	store := entitlements.NewStore(db)
	return store, NewReconciler(store)
}

func seedTenantSubscription(t *testing.T, store *entitlements.Store, providerRef string) *models.Subscription {
	t.Helper()
	tenant := &models.Tenant{Name: "Acme", StripeCustomerID: "cus_acme"}
	require.NoError(t, store.CreateTenant(tenant))
	sub := &models.Subscription{
		TenantID: &tenant.ID,
		Plan:     models.PlanPro,
		Seats:    3,
		Status:   models.SubscriptionActive,
	}
	if providerRef != "" {
		sub.StripeSubscriptionID = &providerRef
	}
	require.NoError(t, store.CreateSubscription(sub))
	return sub
}

func timePtr(t time.Time) *time.Time { return &t }

func TestApplyEventIsIdempotent(t *testing.T) {
	store, rec := newTestEnv(t)
	sub := seedTenantSubscription(t, store, "sub_123")

	ev := &BillingEvent{
		Type:                    EventSubscriptionUpdated,
		ProviderSubscriptionRef: "sub_123",
		ProviderStatus:          "past_due",
		PeriodEnd:               timePtr(time.Now().Add(24 * time.Hour)),
	}

	require.NoError(t, rec.ApplyEvent(ev))
	first, err := store.GetSubscription(sub.ID)
	require.NoError(t, err)

	require.NoError(t, rec.ApplyEvent(ev))
	require.NoError(t, rec.ApplyEvent(ev))
	second, err := store.GetSubscription(sub.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Seats, second.Seats)
	assert.Equal(t, first.CurrentPeriodEnd.Unix(), second.CurrentPeriodEnd.Unix())
}

func TestStaleEventDoesNotClobberNewerState(t *testing.T) {
	store, rec := newTestEnv(t)
	sub := seedTenantSubscription(t, store, "sub_123")

	t1 := time.Now().Add(48 * time.Hour)
	t2 := time.Now().Add(24 * time.Hour)

	require.NoError(t, rec.ApplyEvent(&BillingEvent{
		Type:                    EventSubscriptionUpdated,
		ProviderSubscriptionRef: "sub_123",
		ProviderStatus:          "active",
		PeriodEnd:               &t1,
	}))

	// Delivered late, describes an older period.
	require.NoError(t, rec.ApplyEvent(&BillingEvent{
		Type:                    EventSubscriptionUpdated,
		ProviderSubscriptionRef: "sub_123",
		ProviderStatus:          "past_due",
		PeriodEnd:               &t2,
	}))

	fresh, err := store.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, fresh.Status)
	assert.Equal(t, t1.Unix(), fresh.CurrentPeriodEnd.Unix())
}

func TestUnresolvableEventIsTypedAndDiscarded(t *testing.T) {
	_, rec := newTestEnv(t)

	err := rec.ApplyEvent(&BillingEvent{
		Type:                    EventSubscriptionUpdated,
		ProviderSubscriptionRef: "sub_unknown",
		ProviderStatus:          "active",
	})
	assert.True(t, errors.IsUnresolvableEvent(err))
}

func TestCheckoutCompletedBindsProviderRef(t *testing.T) {
	store, rec := newTestEnv(t)

	tenant := &models.Tenant{Name: "Acme", StripeCustomerID: "cus_acme"}
	require.NoError(t, store.CreateTenant(tenant))

	require.NoError(t, rec.ApplyEvent(&BillingEvent{
		Type:                    EventCheckoutCompleted,
		ProviderSubscriptionRef: "sub_new",
		ProviderCustomerRef:     "cus_acme",
		ProviderStatus:          "active",
		Correlation:             Correlation{TenantID: tenant.ID, Plan: models.PlanPro},
	}))

	sub, err := store.GetSubscriptionByProviderRef("sub_new")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	assert.Equal(t, models.PlanPro, sub.Plan)
	require.NotNil(t, sub.TenantID)
	assert.Equal(t, tenant.ID, *sub.TenantID)

	// Later events resolve by the bound ref alone.
	require.NoError(t, rec.ApplyEvent(&BillingEvent{
		Type:                    EventSubscriptionUpdated,
		ProviderSubscriptionRef: "sub_new",
		ProviderStatus:          "past_due",
	}))
	sub, err = store.GetSubscriptionByProviderRef("sub_new")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionPastDue, sub.Status)

	freshTenant, err := store.GetTenant(tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TenantInactive, freshTenant.Status)
}

func TestCancellationSuspendsMembersAndPaymentRevertsThem(t *testing.T) {
	store, rec := newTestEnv(t)
	sub := seedTenantSubscription(t, store, "sub_123")

	for _, email := range []string{"a@acme.test", "b@acme.test", "c@acme.test"} {
		require.NoError(t, store.CreateTeamMember(&models.TeamMember{
			SubscriptionID: sub.ID, Email: email, Status: models.MemberActive,
		}))
	}

	require.NoError(t, rec.ApplyEvent(&BillingEvent{
		Type:                    EventSubscriptionCancelled,
		ProviderSubscriptionRef: "sub_123",
		ProviderStatus:          "canceled",
	}))

	members, err := store.GetTeamMembersForSubscription(sub.ID)
	require.NoError(t, err)
	require.Len(t, members, 3)
	for _, m := range members {
		assert.Equal(t, models.MemberSuspended, m.Status)
		assert.NotNil(t, m.SuspendedAt)
	}

	fresh, err := store.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionCancelled, fresh.Status)
	assert.NotNil(t, fresh.CancelledAt)

	// Member invited while lapsed keeps its own status through recovery.
	require.NoError(t, store.CreateTeamMember(&models.TeamMember{
		SubscriptionID: sub.ID, Email: "late@acme.test", Status: models.MemberInvited,
	}))

	require.NoError(t, rec.ApplyEvent(&BillingEvent{
		Type:                    EventPaymentSucceeded,
		ProviderSubscriptionRef: "sub_123",
		ProviderStatus:          "active",
	}))

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

func TestSeatsAreNeverAutoRevokedByBillingEvents(t *testing.T) {
	store, rec := newTestEnv(t)
	sub := seedTenantSubscription(t, store, "sub_123")

	seat := &models.Seat{SubscriptionID: sub.ID, LicenseKey: "BC-000000001-000000001", Status: models.SeatActive}
	require.NoError(t, store.CreateSeat(seat))

	require.NoError(t, rec.ApplyEvent(&BillingEvent{
		Type:                    EventSubscriptionCancelled,
		ProviderSubscriptionRef: "sub_123",
		ProviderStatus:          "canceled",
	}))

	fresh, err := store.GetSeat(seat.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SeatActive, fresh.Status)
}

func TestCheckoutForNewProviderSubscriptionNeverRebindsOldOne(t *testing.T) {
	store, rec := newTestEnv(t)

	tenant := &models.Tenant{Name: "Acme", StripeCustomerID: "cus_acme"}
	require.NoError(t, store.CreateTenant(tenant))
	oldRef := "sub_old"
	old := &models.Subscription{
		TenantID: &tenant.ID, Plan: models.PlanPro, Seats: 3,
		Status: models.SubscriptionPastDue, StripeSubscriptionID: &oldRef,
	}
	require.NoError(t, store.CreateSubscription(old))

	// The tenant lapsed and checked out again, so the provider issued a
	// brand-new subscription. The old binding must survive.
	require.NoError(t, rec.ApplyEvent(&BillingEvent{
		Type:                    EventCheckoutCompleted,
		ProviderSubscriptionRef: "sub_new",
		ProviderStatus:          "active",
		Correlation:             Correlation{TenantID: tenant.ID, Plan: models.PlanPro},
	}))

	fresh, err := store.GetSubscription(old.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh.StripeSubscriptionID)
	assert.Equal(t, "sub_old", *fresh.StripeSubscriptionID)
	assert.Equal(t, models.SubscriptionPastDue, fresh.Status)

	created, err := store.GetSubscriptionByProviderRef("sub_new")
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, created.ID)
	assert.Equal(t, models.SubscriptionActive, created.Status)

	// Webhooks for the old provider subscription still resolve by ref.
	require.NoError(t, rec.ApplyEvent(&BillingEvent{
		Type:                    EventSubscriptionCancelled,
		ProviderSubscriptionRef: "sub_old",
		ProviderStatus:          "canceled",
	}))
	fresh, err = store.GetSubscription(old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionCancelled, fresh.Status)
}

func TestEventCannotActivateSecondSubscriptionForSameOwner(t *testing.T) {
	store, rec := newTestEnv(t)
	first := seedTenantSubscription(t, store, "sub_a")

	secondRef := "sub_b"
	second := &models.Subscription{
		TenantID: first.TenantID, Plan: models.PlanPro, Seats: 1,
		Status: models.SubscriptionPastDue, StripeSubscriptionID: &secondRef,
	}
	require.NoError(t, store.CreateSubscription(second))

	// While sub_a is still active, an event activating sub_b would leave
	// the owner with two granting subscriptions. The write must fail and
	// the provider will retry after sub_a lapses.
	err := rec.ApplyEvent(&BillingEvent{
		Type:                    EventPaymentSucceeded,
		ProviderSubscriptionRef: "sub_b",
		ProviderStatus:          "active",
	})
	assert.True(t, errors.IsConflict(err))

	fresh, err := store.GetSubscription(second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionPastDue, fresh.Status)
}

func TestRenewalOnActiveSubscriptionKeepsManualSuspension(t *testing.T) {
	store, rec := newTestEnv(t)
	sub := seedTenantSubscription(t, store, "sub_123")

	suspendedAt := time.Now().Add(-time.Hour)
	require.NoError(t, store.CreateTeamMember(&models.TeamMember{
		SubscriptionID: sub.ID, Email: "benched@acme.test",
		Status: models.MemberSuspended, SuspendedAt: &suspendedAt,
	}))
	require.NoError(t, store.CreateTeamMember(&models.TeamMember{
		SubscriptionID: sub.ID, Email: "playing@acme.test", Status: models.MemberActive,
	}))

	// A renewal invoice on an already-active subscription is not a
	// recovery and must not resume anyone.
	require.NoError(t, rec.ApplyEvent(&BillingEvent{
		Type:                    EventPaymentSucceeded,
		ProviderSubscriptionRef: "sub_123",
		ProviderStatus:          "active",
	}))

	benched, err := store.GetTeamMemberByEmail("benched@acme.test")
	require.NoError(t, err)
	assert.Equal(t, models.MemberSuspended, benched.Status)
	require.NotNil(t, benched.SuspendedAt)
}
