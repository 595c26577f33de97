package teams

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"battlecards-backend/internal/entitlements"
	"battlecards-backend/internal/models"
)

func newTestRouter(t *testing.T) (*gin.Engine, *entitlements.Store, *models.User, *models.Subscription) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	store := entitlements.NewStore(db)

	tenant := &models.Tenant{Name: "Acme", StripeCustomerID: "cus_acme"}
	require.NoError(t, store.CreateTenant(tenant))
	admin := &models.User{
		TenantID: tenant.ID, Email: "admin@acme.test",
		Role: models.RoleAdmin, Status: models.UserActive,
	}
	require.NoError(t, store.CreateUser(admin))
	sub := &models.Subscription{
		TenantID: &tenant.ID, Plan: models.PlanPro,
		Seats: 2, Status: models.SubscriptionActive,
	}
	require.NoError(t, store.CreateSubscription(sub))

	h := NewHandlers(store)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", admin.ID)
	})
	r.GET("/members", h.HandleListMembers)
	r.POST("/members", h.HandleInviteMember)
	r.DELETE("/members/:id", h.HandleRemoveMember)
	r.POST("/members/:id/suspend", h.HandleSuspendMember)
	r.POST("/members/:id/reactivate", h.HandleReactivateMember)

	return r, store, admin, sub
}

func invite(r *gin.Engine, email string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(gin.H{"email": email})
	req := httptest.NewRequest(http.MethodPost, "/members", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestInviteMemberFillsSeatsThenRefuses(t *testing.T) {
	r, _, _, _ := newTestRouter(t)

	assert.Equal(t, http.StatusCreated, invite(r, "one@acme.test").Code)
	assert.Equal(t, http.StatusCreated, invite(r, "two@acme.test").Code)

	// Third member on a two-seat subscription.
	w := invite(r, "three@acme.test")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestInviteMemberRejectsDuplicateEmail(t *testing.T) {
	r, _, _, _ := newTestRouter(t)

	assert.Equal(t, http.StatusCreated, invite(r, "one@acme.test").Code)
	assert.Equal(t, http.StatusConflict, invite(r, "ONE@acme.test").Code)
}

func TestInviteMemberRequiresActiveSubscription(t *testing.T) {
	r, store, _, sub := newTestRouter(t)

	sub.Status = models.SubscriptionPastDue
	require.NoError(t, store.UpdateSubscription(sub))

	assert.Equal(t, http.StatusConflict, invite(r, "one@acme.test").Code)
}

func TestRemoveMemberFreesSeat(t *testing.T) {
	r, store, _, sub := newTestRouter(t)

	require.Equal(t, http.StatusCreated, invite(r, "one@acme.test").Code)
	require.Equal(t, http.StatusCreated, invite(r, "two@acme.test").Code)

	members, err := store.GetTeamMembersForSubscription(sub.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)

	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/members/%d", members[0].ID), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// The freed seat is usable again.
	assert.Equal(t, http.StatusCreated, invite(r, "three@acme.test").Code)
}

func TestSuspendAndReactivateMember(t *testing.T) {
	r, store, _, sub := newTestRouter(t)

	require.Equal(t, http.StatusCreated, invite(r, "one@acme.test").Code)
	members, err := store.GetTeamMembersForSubscription(sub.ID)
	require.NoError(t, err)
	memberID := members[0].ID

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/members/%d/suspend", memberID), nil))
	require.Equal(t, http.StatusOK, w.Code)

	m, err := store.GetTeamMember(memberID)
	require.NoError(t, err)
	assert.Equal(t, models.MemberSuspended, m.Status)
	assert.NotNil(t, m.SuspendedAt)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/members/%d/reactivate", memberID), nil))
	require.Equal(t, http.StatusOK, w.Code)

	m, err = store.GetTeamMember(memberID)
	require.NoError(t, err)
	assert.Equal(t, models.MemberActive, m.Status)
	assert.Nil(t, m.SuspendedAt)
	assert.NotNil(t, m.JoinedAt)
}

func TestNonAdminCannotInvite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	store := entitlements.NewStore(db)

	tenant := &models.Tenant{Name: "Acme", StripeCustomerID: "cus_acme"}
	require.NoError(t, store.CreateTenant(tenant))
	member := &models.User{
		TenantID: tenant.ID, Email: "member@acme.test",
		Role: models.RoleMember, Status: models.UserActive,
	}
	require.NoError(t, store.CreateUser(member))
	sub := &models.Subscription{
		TenantID: &tenant.ID, Plan: models.PlanPro,
		Seats: 2, Status: models.SubscriptionActive,
	}
	require.NoError(t, store.CreateSubscription(sub))

	h := NewHandlers(store)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("user_id", member.ID) })
	r.POST("/members", h.HandleInviteMember)

	assert.Equal(t, http.StatusForbidden, invite(r, "one@acme.test").Code)
}
