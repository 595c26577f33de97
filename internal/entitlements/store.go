package entitlements

import (
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"battlecards-backend/internal/errors"
	"battlecards-backend/internal/models"
)

// Store is the transactional persistence layer for tenants, users,
// subscriptions, seats, and team members. Every mutation that changes
// seat or subscription counts goes through Transaction so the seat
// counter never diverges from the seat rows across a commit boundary.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Transaction runs fn against a transactional view of the store. fn
// returning an error rolls everything back.
func (s *Store) Transaction(fn func(tx *Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// DB exposes the underlying handle for callers that compose their own
// queries (the access evaluator's read path).
func (s *Store) DB() *gorm.DB {
	return s.db
}

// forUpdate applies a row lock on dialects that support it. SQLite
// rejects FOR UPDATE and serializes writers on its own.
func (s *Store) forUpdate(q *gorm.DB) *gorm.DB {
	if s.db.Dialector.Name() == "postgres" {
		return q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

// translateDBError converts driver-level failures into the typed
// taxonomy callers switch on. Raw gorm errors never escape the store.
func translateDBError(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	if err == gorm.ErrRecordNotFound {
		return errors.NotFound(notFoundMsg)
	}
	msg := err.Error()
	if strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint") {
		return errors.Duplicate("record already exists")
	}
	return errors.Internal("database operation failed", err)
}

// --- Tenants ---

func (s *Store) CreateTenant(tenant *models.Tenant) error {
	return translateDBError(s.db.Create(tenant).Error, "tenant not found")
}

func (s *Store) GetTenant(id uint) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.db.First(&tenant, id).Error; err != nil {
		return nil, translateDBError(err, "tenant not found")
	}
	return &tenant, nil
}

func (s *Store) GetTenantByCustomerRef(customerRef string) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.db.Where("stripe_customer_id = ?", customerRef).First(&tenant).Error; err != nil {
		return nil, translateDBError(err, "tenant not found")
	}
	return &tenant, nil
}

func (s *Store) GetTenantBySubscriptionRef(subscriptionRef string) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.db.Where("stripe_subscription_id = ?", subscriptionRef).First(&tenant).Error; err != nil {
		return nil, translateDBError(err, "tenant not found")
	}
	return &tenant, nil
}

func (s *Store) UpdateTenant(tenant *models.Tenant) error {
	return translateDBError(s.db.Save(tenant).Error, "tenant not found")
}

// --- Users ---

func (s *Store) CreateUser(user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	return translateDBError(s.db.Create(user).Error, "user not found")
}

func (s *Store) GetUser(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		return nil, translateDBError(err, "user not found")
	}
	return &user, nil
}

// GetUserByEmail looks a user up case-insensitively. Emails are stored
// lowercased so a plain equality match suffices.
func (s *Store) GetUserByEmail(email string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error; err != nil {
		return nil, translateDBError(err, "user not found")
	}
	return &user, nil
}

func (s *Store) UpdateUser(user *models.User) error {
	return translateDBError(s.db.Save(user).Error, "user not found")
}

func (s *Store) CountUsersForTenant(tenantID uint) (int64, error) {
	var count int64
	if err := s.db.Model(&models.User{}).Where("tenant_id = ?", tenantID).Count(&count).Error; err != nil {
		return 0, translateDBError(err, "tenant not found")
	}
	return count, nil
}

// --- Subscriptions ---

// CreateSubscription inserts a subscription after checking the
// at-most-one-active-per-owner invariant. Violations surface as Conflict.
func (s *Store) CreateSubscription(sub *models.Subscription) error {
	if !sub.HasOwner() {
		return errors.Validation("subscription must have exactly one owner reference")
	}
	if models.IsAccessGranting(sub.Status) {
		existing, err := s.activeSubscriptionForOwner(sub, 0)
		if err != nil {
			return err
		}
		if existing != nil {
			return errors.Conflict("owner already has an active subscription")
		}
	}
	return translateDBError(s.db.Create(sub).Error, "subscription not found")
}

// activeSubscriptionForOwner finds an access-granting subscription for
// the same owner, skipping excludeID so an update can re-check the
// invariant against every row but its own.
func (s *Store) activeSubscriptionForOwner(sub *models.Subscription, excludeID uint) (*models.Subscription, error) {
	q := s.db.Model(&models.Subscription{}).Where("status IN ?", []string{models.SubscriptionActive, models.SubscriptionTrialing})
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	switch {
	case sub.UserID != nil:
		q = q.Where("user_id = ?", *sub.UserID)
	case sub.TenantID != nil:
		q = q.Where("tenant_id = ?", *sub.TenantID)
	case sub.OrganizationID != nil:
		q = q.Where("organization_id = ?", *sub.OrganizationID)
	}
	var existing models.Subscription
	err := q.First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, translateDBError(err, "subscription not found")
	}
	return &existing, nil
}

func (s *Store) GetSubscription(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.First(&sub, id).Error; err != nil {
		return nil, translateDBError(err, "subscription not found")
	}
	return &sub, nil
}

// GetSubscriptionForUpdate reads a subscription under a row lock so two
// concurrent seat mutations cannot both act on the same stale count.
func (s *Store) GetSubscriptionForUpdate(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.forUpdate(s.db).First(&sub, id).Error; err != nil {
		return nil, translateDBError(err, "subscription not found")
	}
	return &sub, nil
}

func (s *Store) GetSubscriptionByProviderRef(ref string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.Where("stripe_subscription_id = ?", ref).First(&sub).Error; err != nil {
		return nil, translateDBError(err, "subscription not found")
	}
	return &sub, nil
}

func (s *Store) GetSubscriptionForUser(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.Where("user_id = ?", userID).Order("created_at DESC").First(&sub).Error
	if err != nil {
		return nil, translateDBError(err, "subscription not found")
	}
	return &sub, nil
}

// UpdateSubscription saves a subscription, re-checking the
// at-most-one-active-per-owner invariant whenever the write would leave
// this row access-granting. A second active subscription for the same
// owner fails with Conflict no matter which code path drives the update.
func (s *Store) UpdateSubscription(sub *models.Subscription) error {
	if models.IsAccessGranting(sub.Status) {
		existing, err := s.activeSubscriptionForOwner(sub, sub.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return errors.Conflict("owner already has an active subscription")
		}
	}
	return translateDBError(s.db.Save(sub).Error, "subscription not found")
}

// BindProviderRef persists the provider's subscription id onto a local
// record. This is the only place the binding is ever written, and a
// record already bound to a different ref is never rewritten.
func (s *Store) BindProviderRef(subscriptionID uint, ref string) error {
	res := s.db.Model(&models.Subscription{}).
		Where("id = ? AND (stripe_subscription_id IS NULL OR stripe_subscription_id = ?)", subscriptionID, ref).
		Update("stripe_subscription_id", ref)
	if res.Error != nil {
		return translateDBError(res.Error, "subscription not found")
	}
	if res.RowsAffected == 0 {
		return errors.Conflict("subscription is bound to a different provider subscription")
	}
	return nil
}

// --- Seats ---

func (s *Store) CreateSeat(seat *models.Seat) error {
	return translateDBError(s.db.Create(seat).Error, "seat not found")
}

func (s *Store) GetSeat(id uint) (*models.Seat, error) {
	var seat models.Seat
	if err := s.db.First(&seat, id).Error; err != nil {
		return nil, translateDBError(err, "seat not found")
	}
	return &seat, nil
}

func (s *Store) GetSeatByLicenseKey(key string) (*models.Seat, error) {
	var seat models.Seat
	if err := s.db.Where("license_key = ?", key).First(&seat).Error; err != nil {
		return nil, translateDBError(err, "license key not found")
	}
	return &seat, nil
}

func (s *Store) GetSeatsForSubscription(subscriptionID uint) ([]models.Seat, error) {
	var seats []models.Seat
	err := s.db.Where("subscription_id = ?", subscriptionID).Order("created_at ASC").Find(&seats).Error
	if err != nil {
		return nil, translateDBError(err, "subscription not found")
	}
	return seats, nil
}

func (s *Store) UpdateSeat(seat *models.Seat) error {
	return translateDBError(s.db.Save(seat).Error, "seat not found")
}

// CountNonRevokedSeats returns the number of seat rows still counted
// against the subscription's quantity.
func (s *Store) CountNonRevokedSeats(subscriptionID uint) (int64, error) {
	var count int64
	err := s.db.Model(&models.Seat{}).
		Where("subscription_id = ? AND status != ?", subscriptionID, models.SeatRevoked).
		Count(&count).Error
	if err != nil {
		return 0, translateDBError(err, "subscription not found")
	}
	return count, nil
}

// LicenseKeyExists reports whether a generated key collides with one
// already issued.
func (s *Store) LicenseKeyExists(key string) (bool, error) {
	var count int64
	if err := s.db.Model(&models.Seat{}).Where("license_key = ?", key).Count(&count).Error; err != nil {
		return false, translateDBError(err, "seat not found")
	}
	return count > 0, nil
}

// InsertSeatAndSyncCount atomically inserts a seat row and sets the
// subscription's seat counter to the resulting non-revoked count. Must be
// called inside Transaction with the subscription row already locked.
func (s *Store) InsertSeatAndSyncCount(sub *models.Subscription, seat *models.Seat) error {
	if err := s.CreateSeat(seat); err != nil {
		return err
	}
	count, err := s.CountNonRevokedSeats(sub.ID)
	if err != nil {
		return err
	}
	sub.Seats = int(count)
	return s.UpdateSubscription(sub)
}

// RevokeSeatAndSyncCount atomically marks a seat revoked and decrements
// the subscription's counter, never below 1. Revocation is terminal.
func (s *Store) RevokeSeatAndSyncCount(sub *models.Subscription, seat *models.Seat) error {
	now := time.Now()
	seat.Status = models.SeatRevoked
	seat.MachineIdentifier = nil
	seat.UpdatedAt = now
	if err := s.UpdateSeat(seat); err != nil {
		return err
	}
	count, err := s.CountNonRevokedSeats(sub.ID)
	if err != nil {
		return err
	}
	if count < 1 {
		count = 1
	}
	sub.Seats = int(count)
	return s.UpdateSubscription(sub)
}

// --- Team members ---

func (s *Store) CreateTeamMember(member *models.TeamMember) error {
	member.Email = strings.ToLower(strings.TrimSpace(member.Email))
	return translateDBError(s.db.Create(member).Error, "team member not found")
}

func (s *Store) GetTeamMember(id uint) (*models.TeamMember, error) {
	var member models.TeamMember
	if err := s.db.First(&member, id).Error; err != nil {
		return nil, translateDBError(err, "team member not found")
	}
	return &member, nil
}

func (s *Store) GetTeamMemberByEmail(email string) (*models.TeamMember, error) {
	var member models.TeamMember
	err := s.db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		Order("created_at DESC").First(&member).Error
	if err != nil {
		return nil, translateDBError(err, "team member not found")
	}
	return &member, nil
}

func (s *Store) GetTeamMembersForSubscription(subscriptionID uint) ([]models.TeamMember, error) {
	var members []models.TeamMember
	err := s.db.Where("subscription_id = ?", subscriptionID).Order("created_at ASC").Find(&members).Error
	if err != nil {
		return nil, translateDBError(err, "subscription not found")
	}
	return members, nil
}

func (s *Store) UpdateTeamMember(member *models.TeamMember) error {
	return translateDBError(s.db.Save(member).Error, "team member not found")
}

func (s *Store) DeleteTeamMember(id uint) error {
	return translateDBError(s.db.Delete(&models.TeamMember{}, id).Error, "team member not found")
}

// CountTeamMembers counts every member row for the subscription,
// whatever its status. Suspended members keep their place so a payment
// recovery restores the same roster.
func (s *Store) CountTeamMembers(subscriptionID uint) (int64, error) {
	var count int64
	err := s.db.Model(&models.TeamMember{}).
		Where("subscription_id = ?", subscriptionID).
		Count(&count).Error
	if err != nil {
		return 0, translateDBError(err, "subscription not found")
	}
	return count, nil
}

func (s *Store) CountActiveTeamMembers(subscriptionID uint) (int64, error) {
	var count int64
	err := s.db.Model(&models.TeamMember{}).
		Where("subscription_id = ? AND status = ?", subscriptionID, models.MemberActive).
		Count(&count).Error
	if err != nil {
		return 0, translateDBError(err, "subscription not found")
	}
	return count, nil
}

// SuspendTeamMembers moves every non-suspended member of a subscription to
// suspended, stamping suspendedAt. Already-suspended rows keep their
// original timestamp so repeated webhook delivery cannot corrupt them.
func (s *Store) SuspendTeamMembers(subscriptionID uint) error {
	now := time.Now()
	err := s.db.Model(&models.TeamMember{}).
		Where("subscription_id = ? AND status != ?", subscriptionID, models.MemberSuspended).
		Updates(map[string]interface{}{
			"status":       models.MemberSuspended,
			"suspended_at": now,
			"updated_at":   now,
		}).Error
	return translateDBError(err, "subscription not found")
}

// ReactivateTeamMembers reverses a suspension for rows that are actually
// suspended. Members added in other states are left untouched.
func (s *Store) ReactivateTeamMembers(subscriptionID uint) error {
	now := time.Now()
	err := s.db.Model(&models.TeamMember{}).
		Where("subscription_id = ? AND status = ?", subscriptionID, models.MemberSuspended).
		Updates(map[string]interface{}{
			"status":       models.MemberActive,
			"suspended_at": nil,
			"updated_at":   now,
		}).Error
	return translateDBError(err, "subscription not found")
}
