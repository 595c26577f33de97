package access

import (
	"time"

	"github.com/sirupsen/logrus"

	"battlecards-backend/internal/entitlements"
	"battlecards-backend/internal/errors"
	"battlecards-backend/internal/models"
)

// Decision is the tri-state entitlement outcome.
type Decision string

const (
	DecisionGranted  Decision = "granted"
	DecisionDenied   Decision = "denied"
	DecisionNotFound Decision = "not_found"
)

// Mode selects the evaluation surface. The desktop app and API are
// strict: lapsed billing blocks them. The web dashboard is permissive so
// a lapsed tenant can still sign in and pick a plan. Both modes share the
// same state read; only the billing gate differs.
type Mode int

const (
	ModeStrict Mode = iota
	ModePermissive
)

// Denial reasons
const (
	ReasonAccountSuspended    = "account_suspended"
	ReasonMembershipSuspended = "membership_suspended"
	ReasonNoEntitlement       = "no_subscription_or_membership"
)

// Verdict is the evaluator's answer plus the plan metadata the desktop
// client shows to the user.
type Verdict struct {
	Decision           Decision `json:"decision"`
	Reason             string   `json:"reason,omitempty"`
	Plan               string   `json:"plan,omitempty"`
	Seats              int      `json:"seats,omitempty"`
	SubscriptionStatus string   `json:"subscription_status,omitempty"`
}

func granted(sub *models.Subscription) Verdict {
	v := Verdict{Decision: DecisionGranted}
	if sub != nil {
		v.Plan = sub.Plan
		v.Seats = sub.Seats
		v.SubscriptionStatus = sub.Status
	}
	return v
}

func denied(reason string) Verdict {
	return Verdict{Decision: DecisionDenied, Reason: reason}
}

// Evaluator computes entitlement verdicts from stored state. Evaluation
// is side-effect-free except for a fire-and-forget last-used-at touch on
// the resolved seat or membership row.
type Evaluator struct {
	store *entitlements.Store
}

func NewEvaluator(store *entitlements.Store) *Evaluator {
	return &Evaluator{store: store}
}

// EvaluateUser answers whether the user identified by email may use the
// product on the given surface. Precedence, first match wins: a
// personally suspended account always denies; then a directly owned
// subscription; then a granting team membership; then the owning tenant.
// Principals with no user record are evaluated on membership alone.
func (e *Evaluator) EvaluateUser(email string, mode Mode) (Verdict, error) {
	user, err := e.store.GetUserByEmail(email)
	if err != nil {
		if errors.IsNotFound(err) {
			return e.evaluateMembership(email)
		}
		return Verdict{}, err
	}

	if user.Status == models.UserInactive {
		return denied(ReasonAccountSuspended), nil
	}

	sub, subErr := e.store.GetSubscriptionForUser(user.ID)
	if subErr == nil {
		if models.IsAccessGranting(sub.Status) || mode == ModePermissive {
			return granted(sub), nil
		}
		// A lapsed personal subscription does not shadow a paid team
		// membership under the same email.
		mv, found, mErr := e.membershipVerdict(email)
		if mErr != nil {
			return Verdict{}, mErr
		}
		if found && mv.Decision == DecisionGranted {
			return mv, nil
		}
		return denied("owner_subscription_" + sub.Status), nil
	}
	if !errors.IsNotFound(subErr) {
		return Verdict{}, subErr
	}

	// Every registered user carries a tenant, inactive until checkout
	// completes, so a granting membership must win over the tenant gate
	// or team members who also registered would never pass strict mode.
	mv, found, mErr := e.membershipVerdict(email)
	if mErr != nil {
		return Verdict{}, mErr
	}
	if found && mv.Decision == DecisionGranted {
		return mv, nil
	}

	tenant, tErr := e.store.GetTenant(user.TenantID)
	if tErr != nil {
		return Verdict{}, tErr
	}
	if tenant.Status == models.TenantActive || mode == ModePermissive {
		return granted(&models.Subscription{Plan: tenant.Plan, Seats: tenant.Seats, Status: tenant.Status}), nil
	}
	if found {
		return mv, nil
	}
	return denied("tenant_" + tenant.Status), nil
}

func (e *Evaluator) evaluateMembership(email string) (Verdict, error) {
	v, found, err := e.membershipVerdict(email)
	if err != nil {
		return Verdict{}, err
	}
	if !found {
		return Verdict{Decision: DecisionNotFound, Reason: ReasonNoEntitlement}, nil
	}
	return v, nil
}

func (e *Evaluator) membershipVerdict(email string) (Verdict, bool, error) {
	member, err := e.store.GetTeamMemberByEmail(email)
	if err != nil {
		if errors.IsNotFound(err) {
			return Verdict{}, false, nil
		}
		return Verdict{}, false, err
	}

	sub, err := e.store.GetSubscription(member.SubscriptionID)
	if err != nil {
		return Verdict{}, false, err
	}

	if member.Status == models.MemberSuspended {
		return denied(ReasonMembershipSuspended), true, nil
	}
	if !models.IsAccessGranting(sub.Status) {
		return denied("team_subscription_" + sub.Status), true, nil
	}

	e.touchMember(member.ID)
	return granted(sub), true, nil
}

// EvaluateLicense answers for a license key plus machine id pair. Unknown
// and revoked keys are indistinguishable to the caller.
func (e *Evaluator) EvaluateLicense(key, machineID string) (Verdict, error) {
	seat, err := e.store.GetSeatByLicenseKey(key)
	if err != nil {
		if errors.IsNotFound(err) {
			return Verdict{Decision: DecisionNotFound, Reason: "unknown_license_key"}, nil
		}
		return Verdict{}, err
	}
	if seat.Status == models.SeatRevoked {
		return Verdict{Decision: DecisionNotFound, Reason: "unknown_license_key"}, nil
	}

	sub, err := e.store.GetSubscription(seat.SubscriptionID)
	if err != nil {
		return Verdict{}, err
	}
	if !models.IsAccessGranting(sub.Status) {
		return denied("subscription_" + sub.Status), nil
	}

	if seat.MachineIdentifier != nil && machineID != "" && *seat.MachineIdentifier != machineID {
		return denied("license_bound_to_other_machine"), nil
	}

	e.touchSeat(seat.ID)
	return granted(sub), nil
}

// touchSeat updates last-used-at without ever blocking or failing the
// verdict.
func (e *Evaluator) touchSeat(seatID uint) {
	db := e.store.DB()
	go func() {
		now := time.Now()
		if err := db.Model(&models.Seat{}).Where("id = ?", seatID).
			Update("last_used_at", now).Error; err != nil {
			logrus.WithError(err).Debug("last-used-at touch failed for seat")
		}
	}()
}

func (e *Evaluator) touchMember(memberID uint) {
	db := e.store.DB()
	go func() {
		now := time.Now()
		if err := db.Model(&models.TeamMember{}).Where("id = ?", memberID).
			Update("last_used_at", now).Error; err != nil {
			logrus.WithError(err).Debug("last-used-at touch failed for member")
		}
	}()
}
