package license

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"battlecards-backend/internal/billing"
	"battlecards-backend/internal/entitlements"
	"battlecards-backend/internal/errors"
	"battlecards-backend/internal/models"
)

const maxKeyAttempts = 5

// Manager owns seat-count changes and the license-key lifecycle. It keeps
// the local seat counter and the provider's subscription quantity in
// lockstep with an asymmetric policy: quantity increases must succeed at
// the provider before anything commits locally, while decreases commit
// locally first and sync best-effort. Under-billing after a failed
// decrease is correctable; a revoke that appears to fail is not.
type Manager struct {
	store    *entitlements.Store
	provider billing.Provider
}

func NewManager(store *entitlements.Store, provider billing.Provider) *Manager {
	return &Manager{store: store, provider: provider}
}

// AddSeat provisions a new seat for a subscription and returns it with a
// freshly generated license key. If the new seat count exceeds the synced
// quantity the provider is updated first; a provider failure aborts the
// whole operation and no local row is created.
func (m *Manager) AddSeat(ctx context.Context, subscriptionID uint, email string) (*models.Seat, error) {
	var seat *models.Seat
	err := m.store.Transaction(func(tx *entitlements.Store) error {
		sub, err := tx.GetSubscriptionForUpdate(subscriptionID)
		if err != nil {
			return err
		}
		if !models.IsAccessGranting(sub.Status) {
			return errors.Conflict("subscription is not active")
		}

		count, err := tx.CountNonRevokedSeats(sub.ID)
		if err != nil {
			return err
		}
		newCount := count + 1

		if newCount > int64(sub.Seats) && sub.StripeSubscriptionID != nil && m.provider != nil {
			if err := m.provider.UpdateSubscriptionQuantity(ctx, *sub.StripeSubscriptionID, newCount); err != nil {
				return err
			}
		}

		key, err := m.uniqueKey(tx)
		if err != nil {
			return err
		}

		seat = &models.Seat{
			SubscriptionID: sub.ID,
			AssignedEmail:  email,
			LicenseKey:     key,
			Status:         models.SeatUnused,
		}
		return tx.InsertSeatAndSyncCount(sub, seat)
	})
	if err != nil {
		return nil, err
	}
	return seat, nil
}

// RevokeSeat permanently revokes a seat. Local revocation always commits;
// the provider quantity decrease afterwards is best-effort and only
// logged on failure.
func (m *Manager) RevokeSeat(ctx context.Context, seatID uint) error {
	var providerRef *string
	var newCount int

	err := m.store.Transaction(func(tx *entitlements.Store) error {
		seat, err := tx.GetSeat(seatID)
		if err != nil {
			return err
		}
		if seat.Status == models.SeatRevoked {
			return errors.Conflict("seat is already revoked")
		}

		sub, err := tx.GetSubscriptionForUpdate(seat.SubscriptionID)
		if err != nil {
			return err
		}
		if err := tx.RevokeSeatAndSyncCount(sub, seat); err != nil {
			return err
		}
		providerRef = sub.StripeSubscriptionID
		newCount = sub.Seats
		return nil
	})
	if err != nil {
		return err
	}

	if providerRef != nil && m.provider != nil {
		if err := m.provider.UpdateSubscriptionQuantity(ctx, *providerRef, int64(newCount)); err != nil {
			logrus.WithFields(logrus.Fields{
				"seat_id":  seatID,
				"quantity": newCount,
			}).WithError(err).Warn("Provider quantity sync failed after revoke, will reconcile later")
		}
	}
	return nil
}

func (m *Manager) uniqueKey(tx *entitlements.Store) (string, error) {
	for i := 0; i < maxKeyAttempts; i++ {
		key, err := GenerateLicenseKey()
		if err != nil {
			return "", errors.Internal("license key generation failed", err)
		}
		exists, err := tx.LicenseKeyExists(key)
		if err != nil {
			return "", err
		}
		if !exists {
			return key, nil
		}
	}
	return "", errors.Internal("license key space exhausted after repeated collisions", nil)
}

// ActivateLicense binds a license key to a machine. An unknown key, a
// revoked seat, or a subscription outside the access-granting set all
// read as not found to the desktop client; a key bound to a different
// machine is a conflict and keeps its existing binding.
func (m *Manager) ActivateLicense(key, machineID string) (*models.Seat, error) {
	if machineID == "" {
		return nil, errors.Validation("machine identifier is required")
	}

	var seat *models.Seat
	err := m.store.Transaction(func(tx *entitlements.Store) error {
		var err error
		seat, err = tx.GetSeatByLicenseKey(NormalizeKey(key))
		if err != nil {
			return err
		}
		if seat.Status == models.SeatRevoked {
			return errors.NotFound("license key not found")
		}

		sub, err := tx.GetSubscription(seat.SubscriptionID)
		if err != nil {
			return err
		}
		if !models.IsAccessGranting(sub.Status) {
			return errors.NotFound("license key not found")
		}

		if seat.MachineIdentifier != nil && *seat.MachineIdentifier != machineID {
			return errors.Conflict("license key is active on another machine")
		}

		now := time.Now()
		seat.MachineIdentifier = &machineID
		if seat.Status == models.SeatUnused {
			seat.Status = models.SeatActive
		}
		if seat.ActivatedAt == nil {
			seat.ActivatedAt = &now
		}
		seat.LastUsedAt = &now
		return tx.UpdateSeat(seat)
	})
	if err != nil {
		return nil, err
	}
	return seat, nil
}

// DeactivateLicense unbinds a key from the machine currently holding it.
// The caller must present the bound machine id.
func (m *Manager) DeactivateLicense(key, machineID string) error {
	return m.store.Transaction(func(tx *entitlements.Store) error {
		seat, err := tx.GetSeatByLicenseKey(NormalizeKey(key))
		if err != nil {
			return err
		}
		if seat.Status == models.SeatRevoked {
			return errors.NotFound("license key not found")
		}
		if seat.MachineIdentifier == nil || *seat.MachineIdentifier != machineID {
			return errors.Conflict("license key is not bound to this machine")
		}

		seat.MachineIdentifier = nil
		seat.Status = models.SeatUnused
		return tx.UpdateSeat(seat)
	})
}

// ResetLicense is the self-service escape hatch: it clears the machine
// binding without requiring the old machine id, so a user who lost a
// device can rebind elsewhere. Revoked seats stay revoked.
func (m *Manager) ResetLicense(key string) error {
	return m.store.Transaction(func(tx *entitlements.Store) error {
		seat, err := tx.GetSeatByLicenseKey(NormalizeKey(key))
		if err != nil {
			return err
		}
		if seat.Status == models.SeatRevoked {
			return errors.NotFound("license key not found")
		}

		seat.MachineIdentifier = nil
		seat.Status = models.SeatUnused
		return tx.UpdateSeat(seat)
	})
}
