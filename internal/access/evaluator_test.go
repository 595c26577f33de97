package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"battlecards-backend/internal/entitlements"
	"battlecards-backend/internal/models"
)

func newTestEvaluator(t *testing.T) (*entitlements.Store, *Evaluator) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	store := entitlements.NewStore(db)
	return store, NewEvaluator(store)
}

func seedUserWithSubscription(t *testing.T, store *entitlements.Store, email, userStatus, subStatus string) *models.User {
	t.Helper()
	tenant := &models.Tenant{Name: "Acme", StripeCustomerID: "cus_" + email, Status: models.TenantActive}
	require.NoError(t, store.CreateTenant(tenant))
	user := &models.User{TenantID: tenant.ID, Email: email, Role: models.RoleAdmin, Status: userStatus}
	require.NoError(t, store.CreateUser(user))
	sub := &models.Subscription{UserID: &user.ID, Plan: models.PlanPro, Seats: 3, Status: subStatus}
	require.NoError(t, store.CreateSubscription(sub))
	return user
}

func TestSuspendedAccountAlwaysDeniesEvenWithActiveSubscription(t *testing.T) {
	store, eval := newTestEvaluator(t)
	seedUserWithSubscription(t, store, "owner@acme.test", models.UserInactive, models.SubscriptionActive)

	for _, mode := range []Mode{ModeStrict, ModePermissive} {
		verdict, err := eval.EvaluateUser("owner@acme.test", mode)
		require.NoError(t, err)
		assert.Equal(t, DecisionDenied, verdict.Decision)
		assert.Equal(t, ReasonAccountSuspended, verdict.Reason)
	}
}

func TestOwnerSubscriptionGrants(t *testing.T) {
	store, eval := newTestEvaluator(t)
	seedUserWithSubscription(t, store, "owner@acme.test", models.UserActive, models.SubscriptionActive)

	verdict, err := eval.EvaluateUser("owner@acme.test", ModeStrict)
	require.NoError(t, err)
	assert.Equal(t, DecisionGranted, verdict.Decision)
	assert.Equal(t, models.PlanPro, verdict.Plan)
	assert.Equal(t, 3, verdict.Seats)
}

func TestLapsedOwnerSubscriptionDeniesStrictButNotDashboard(t *testing.T) {
	store, eval := newTestEvaluator(t)
	seedUserWithSubscription(t, store, "owner@acme.test", models.UserActive, models.SubscriptionPastDue)

	verdict, err := eval.EvaluateUser("owner@acme.test", ModeStrict)
	require.NoError(t, err)
	assert.Equal(t, DecisionDenied, verdict.Decision)
	assert.Equal(t, "owner_subscription_past_due", verdict.Reason)

	// The dashboard stays reachable so the owner can fix billing.
	verdict, err = eval.EvaluateUser("owner@acme.test", ModePermissive)
	require.NoError(t, err)
	assert.Equal(t, DecisionGranted, verdict.Decision)
	assert.Equal(t, models.SubscriptionPastDue, verdict.SubscriptionStatus)
}

func TestTeamMemberVerdicts(t *testing.T) {
	store, eval := newTestEvaluator(t)
	owner := seedUserWithSubscription(t, store, "owner@acme.test", models.UserActive, models.SubscriptionActive)

	sub, err := store.GetSubscriptionForUser(owner.ID)
	require.NoError(t, err)

	require.NoError(t, store.CreateTeamMember(&models.TeamMember{
		SubscriptionID: sub.ID, Email: "member@acme.test", Status: models.MemberActive,
	}))
	require.NoError(t, store.CreateTeamMember(&models.TeamMember{
		SubscriptionID: sub.ID, Email: "suspended@acme.test", Status: models.MemberSuspended,
	}))

	verdict, err := eval.EvaluateUser("member@acme.test", ModeStrict)
	require.NoError(t, err)
	assert.Equal(t, DecisionGranted, verdict.Decision)

	verdict, err = eval.EvaluateUser("suspended@acme.test", ModeStrict)
	require.NoError(t, err)
	assert.Equal(t, DecisionDenied, verdict.Decision)
	assert.Equal(t, ReasonMembershipSuspended, verdict.Reason)
}

func TestMemberDenialDistinguishesLapsedTeamFromSuspension(t *testing.T) {
	store, eval := newTestEvaluator(t)
	owner := seedUserWithSubscription(t, store, "owner@acme.test", models.UserActive, models.SubscriptionUnpaid)

	sub, err := store.GetSubscriptionForUser(owner.ID)
	require.NoError(t, err)
	require.NoError(t, store.CreateTeamMember(&models.TeamMember{
		SubscriptionID: sub.ID, Email: "member@acme.test", Status: models.MemberActive,
	}))

	verdict, err := eval.EvaluateUser("member@acme.test", ModeStrict)
	require.NoError(t, err)
	assert.Equal(t, DecisionDenied, verdict.Decision)
	assert.Equal(t, "team_subscription_unpaid", verdict.Reason)
}

func TestUnknownPrincipalIsNotFound(t *testing.T) {
	_, eval := newTestEvaluator(t)

	verdict, err := eval.EvaluateUser("nobody@nowhere.test", ModeStrict)
	require.NoError(t, err)
	assert.Equal(t, DecisionNotFound, verdict.Decision)
	assert.Equal(t, ReasonNoEntitlement, verdict.Reason)
}

func TestRegisteredTeamMemberGrantsDespiteInactiveTenant(t *testing.T) {
	store, eval := newTestEvaluator(t)
	owner := seedUserWithSubscription(t, store, "owner@acme.test", models.UserActive, models.SubscriptionActive)
	sub, err := store.GetSubscriptionForUser(owner.ID)
	require.NoError(t, err)

	// The member signed up on their own, so they carry a user row plus
	// the inactive tenant that registration creates. Their team's paid
	// subscription must still carry them on the strict surface.
	memberTenant := &models.Tenant{Name: "Member Co", StripeCustomerID: "cus_member", Status: models.TenantInactive, Plan: models.PlanBasic, Seats: 1}
	require.NoError(t, store.CreateTenant(memberTenant))
	require.NoError(t, store.CreateUser(&models.User{
		TenantID: memberTenant.ID, Email: "member@acme.test", Status: models.UserActive,
	}))
	require.NoError(t, store.CreateTeamMember(&models.TeamMember{
		SubscriptionID: sub.ID, Email: "member@acme.test", Status: models.MemberActive,
	}))

	verdict, err := eval.EvaluateUser("member@acme.test", ModeStrict)
	require.NoError(t, err)
	assert.Equal(t, DecisionGranted, verdict.Decision)
	assert.Equal(t, models.PlanPro, verdict.Plan)
}

func TestRegisteredSuspendedMemberKeepsMembershipReason(t *testing.T) {
	store, eval := newTestEvaluator(t)
	owner := seedUserWithSubscription(t, store, "owner@acme.test", models.UserActive, models.SubscriptionActive)
	sub, err := store.GetSubscriptionForUser(owner.ID)
	require.NoError(t, err)

	memberTenant := &models.Tenant{Name: "Member Co", StripeCustomerID: "cus_member", Status: models.TenantInactive}
	require.NoError(t, store.CreateTenant(memberTenant))
	require.NoError(t, store.CreateUser(&models.User{
		TenantID: memberTenant.ID, Email: "benched@acme.test", Status: models.UserActive,
	}))
	require.NoError(t, store.CreateTeamMember(&models.TeamMember{
		SubscriptionID: sub.ID, Email: "benched@acme.test", Status: models.MemberSuspended,
	}))

	verdict, err := eval.EvaluateUser("benched@acme.test", ModeStrict)
	require.NoError(t, err)
	assert.Equal(t, DecisionDenied, verdict.Decision)
	assert.Equal(t, ReasonMembershipSuspended, verdict.Reason)
}

func TestLapsedPersonalSubscriptionDoesNotShadowTeamMembership(t *testing.T) {
	store, eval := newTestEvaluator(t)
	owner := seedUserWithSubscription(t, store, "owner@acme.test", models.UserActive, models.SubscriptionActive)
	sub, err := store.GetSubscriptionForUser(owner.ID)
	require.NoError(t, err)

	// The member once paid for their own plan and let it lapse; their
	// team's active subscription still carries them.
	seedUserWithSubscription(t, store, "member@acme.test", models.UserActive, models.SubscriptionPastDue)
	require.NoError(t, store.CreateTeamMember(&models.TeamMember{
		SubscriptionID: sub.ID, Email: "member@acme.test", Status: models.MemberActive,
	}))

	verdict, err := eval.EvaluateUser("member@acme.test", ModeStrict)
	require.NoError(t, err)
	assert.Equal(t, DecisionGranted, verdict.Decision)
}

func TestLicenseVerdicts(t *testing.T) {
	store, eval := newTestEvaluator(t)
	owner := seedUserWithSubscription(t, store, "owner@acme.test", models.UserActive, models.SubscriptionActive)
	sub, err := store.GetSubscriptionForUser(owner.ID)
	require.NoError(t, err)

	machine := "machine-a"
	require.NoError(t, store.CreateSeat(&models.Seat{
		SubscriptionID:    sub.ID,
		LicenseKey:        "BC-AAAAAAAAA-AAAAAAAAA",
		Status:            models.SeatActive,
		MachineIdentifier: &machine,
	}))
	require.NoError(t, store.CreateSeat(&models.Seat{
		SubscriptionID: sub.ID,
		LicenseKey:     "BC-RRRRRRRRR-RRRRRRRRR",
		Status:         models.SeatRevoked,
	}))

	verdict, err := eval.EvaluateLicense("BC-AAAAAAAAA-AAAAAAAAA", "machine-a")
	require.NoError(t, err)
	assert.Equal(t, DecisionGranted, verdict.Decision)

	verdict, err = eval.EvaluateLicense("BC-AAAAAAAAA-AAAAAAAAA", "machine-b")
	require.NoError(t, err)
	assert.Equal(t, DecisionDenied, verdict.Decision)

	// Revoked and unknown keys are indistinguishable.
	verdict, err = eval.EvaluateLicense("BC-RRRRRRRRR-RRRRRRRRR", "machine-a")
	require.NoError(t, err)
	assert.Equal(t, DecisionNotFound, verdict.Decision)

	verdict, err = eval.EvaluateLicense("BC-ZZZZZZZZZ-ZZZZZZZZZ", "machine-a")
	require.NoError(t, err)
	assert.Equal(t, DecisionNotFound, verdict.Decision)
}

func TestTenantScopedAccess(t *testing.T) {
	store, eval := newTestEvaluator(t)

	tenant := &models.Tenant{Name: "NoSub Co", StripeCustomerID: "cus_nosub", Status: models.TenantInactive, Plan: models.PlanBasic, Seats: 1}
	require.NoError(t, store.CreateTenant(tenant))
	require.NoError(t, store.CreateUser(&models.User{
		TenantID: tenant.ID, Email: "new@nosub.test", Status: models.UserActive,
	}))

	verdict, err := eval.EvaluateUser("new@nosub.test", ModeStrict)
	require.NoError(t, err)
	assert.Equal(t, DecisionDenied, verdict.Decision)
	assert.Equal(t, "tenant_inactive", verdict.Reason)

	// Dashboard lets an inactive tenant in to choose a plan.
	verdict, err = eval.EvaluateUser("new@nosub.test", ModePermissive)
	require.NoError(t, err)
	assert.Equal(t, DecisionGranted, verdict.Decision)
}
