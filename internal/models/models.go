package models

import (
	"time"
)

// Plan names
const (
	PlanBasic = "basic"
	PlanPro   = "pro"
)

// Tenant status values. Billing states (trialing, past_due, ...) live on the
// subscription; the tenant itself is only ever active or inactive.
const (
	TenantActive   = "active"
	TenantInactive = "inactive"
)

// User status and role values
const (
	UserActive   = "active"
	UserInactive = "inactive"

	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Subscription status values (internal vocabulary, mapped from the billing
// provider's in billing.MapProviderStatus)
const (
	SubscriptionActive     = "active"
	SubscriptionTrialing   = "trialing"
	SubscriptionCancelled  = "cancelled"
	SubscriptionPastDue    = "past_due"
	SubscriptionUnpaid     = "unpaid"
	SubscriptionIncomplete = "incomplete"
	SubscriptionExpired    = "expired"
)

// Seat status values
const (
	SeatUnused  = "unused"
	SeatActive  = "active"
	SeatRevoked = "revoked"
)

// TeamMember status values
const (
	MemberInvited   = "invited"
	MemberActive    = "active"
	MemberSuspended = "suspended"
)

// IsAccessGranting reports whether a subscription status entitles its owner
// and team members to use the product.
func IsAccessGranting(status string) bool {
	return status == SubscriptionActive || status == SubscriptionTrialing
}

// Tenant is the billing/ownership unit a set of users belongs to.
type Tenant struct {
	ID                   uint      `json:"id" gorm:"primaryKey"`
	Name                 string    `json:"name"`
	StripeCustomerID     string    `json:"-" gorm:"uniqueIndex"`
	StripeSubscriptionID *string   `json:"-" gorm:"uniqueIndex"`
	Plan                 string    `json:"plan" gorm:"default:'basic'"`
	Seats                int       `json:"seats" gorm:"default:1"`
	Status               string    `json:"status" gorm:"default:'inactive';index"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type User struct {
	ID                  uint       `json:"id" gorm:"primaryKey"`
	TenantID            uint       `json:"tenant_id" gorm:"index"`
	Tenant              Tenant     `json:"-" gorm:"foreignKey:TenantID"`
	Email               string     `json:"email" gorm:"uniqueIndex"`
	PasswordHash        string     `json:"-"`
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name"`
	Role                string     `json:"role" gorm:"default:'member'"`
	Status              string     `json:"status" gorm:"default:'active';index"`
	FailedLoginAttempts int        `json:"-" gorm:"default:0"`
	LockedUntil         *time.Time `json:"-"`
	LastFailedLogin     *time.Time `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Organization is the enterprise ownership variant (SSO-backed teams). A
// subscription is owned by exactly one of User, Tenant, or Organization.
type Organization struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug" gorm:"uniqueIndex"`
	Domain     string    `json:"domain"`
	SSOEnabled bool      `json:"sso_enabled" gorm:"default:false"`
	MaxSeats   int       `json:"max_seats" gorm:"default:1"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Subscription represents a customer subscription. Exactly one of UserID,
// TenantID, OrganizationID is set (the owning principal).
type Subscription struct {
	ID                   uint       `json:"id" gorm:"primaryKey"`
	UserID               *uint      `json:"user_id,omitempty" gorm:"index"`
	TenantID             *uint      `json:"tenant_id,omitempty" gorm:"index"`
	OrganizationID       *uint      `json:"organization_id,omitempty" gorm:"index"`
	StripeSubscriptionID *string    `json:"stripe_subscription_id,omitempty" gorm:"uniqueIndex"`
	Plan                 string     `json:"plan" gorm:"default:'basic'"`
	PricePerSeat         int64      `json:"price_per_seat"` // cents per seat per month
	Seats                int        `json:"seats" gorm:"default:1"`
	Status               string     `json:"status" gorm:"default:'incomplete';index"`
	CurrentPeriodStart   *time.Time `json:"current_period_start"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end"`
	CancelledAt          *time.Time `json:"cancelled_at"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// HasOwner reports whether exactly one owner reference is set.
func (s *Subscription) HasOwner() bool {
	n := 0
	if s.UserID != nil {
		n++
	}
	if s.TenantID != nil {
		n++
	}
	if s.OrganizationID != nil {
		n++
	}
	return n == 1
}

// Seat is a single license slot bound to at most one machine at a time.
type Seat struct {
	ID                uint         `json:"id" gorm:"primaryKey"`
	SubscriptionID    uint         `json:"subscription_id" gorm:"index"`
	Subscription      Subscription `json:"-" gorm:"foreignKey:SubscriptionID"`
	AssignedEmail     string       `json:"assigned_email" gorm:"index"`
	LicenseKey        string       `json:"license_key" gorm:"uniqueIndex"`
	Status            string       `json:"status" gorm:"default:'unused';index"`
	MachineIdentifier *string      `json:"machine_identifier,omitempty"`
	ActivatedAt       *time.Time   `json:"activated_at"`
	LastUsedAt        *time.Time   `json:"last_used_at"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// TeamMember is an email invited onto a subscription. Effective access is
// derived from its own status plus the owning subscription's status, never
// stored independently.
type TeamMember struct {
	ID             uint         `json:"id" gorm:"primaryKey"`
	SubscriptionID uint         `json:"subscription_id" gorm:"uniqueIndex:idx_team_members_subscription_email"`
	Subscription   Subscription `json:"-" gorm:"foreignKey:SubscriptionID"`
	Email          string       `json:"email" gorm:"uniqueIndex:idx_team_members_subscription_email"`
	Status         string       `json:"status" gorm:"default:'invited';index"`
	InvitedAt      *time.Time   `json:"invited_at"`
	JoinedAt       *time.Time   `json:"joined_at"`
	SuspendedAt    *time.Time   `json:"suspended_at"`
	LastUsedAt     *time.Time   `json:"last_used_at"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// TokenBlacklist represents blacklisted JWT tokens
type TokenBlacklist struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	TokenHash string    `json:"-" gorm:"uniqueIndex;not null"`
	UserID    uint      `json:"user_id" gorm:"index"`
	ExpiresAt time.Time `json:"expires_at"`
	Reason    string    `json:"reason" gorm:"default:'logout'"`
	CreatedAt time.Time `json:"created_at"`
}

// EnterpriseInquiry captures a contact-sales request from the enterprise page.
type EnterpriseInquiry struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"index;not null"`
	Name      string    `json:"name"`
	Company   string    `json:"company"`
	Seats     int       `json:"seats"`
	Message   string    `json:"message"`
	Status    string    `json:"status" gorm:"default:'pending'"` // pending, contacted, closed
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// All returns every model registered for auto-migration, in dependency order.
func All() []interface{} {
	return []interface{}{
		&Tenant{},
		&User{},
		&Organization{},
		&Subscription{},
		&Seat{},
		&TeamMember{},
		&TokenBlacklist{},
		&EnterpriseInquiry{},
	}
}
