package order

import (
	"errors"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/identity"
)

var (
	ErrForbidden         = errors.New("order: caller may not act on this order")
	ErrBuyerCancelWindow = errors.New("order: buyers may only cancel pending or confirmed orders")
	ErrBuyerReturnWindow = errors.New("order: buyers may only return delivered orders")
)

// CanView reports whether p may read o.
func CanView(p identity.Principal, o *Order) error {
	if p.IsAdmin() || p.UserID == o.BuyerID || p.UserID == o.SellerID {
		return nil
	}
	return ErrForbidden
}

// CanUpdateStatus allows the order's seller or an admin.
func CanUpdateStatus(p identity.Principal, o *Order) error {
	if p.IsAdmin() || (p.Role == identity.RoleSeller && p.UserID == o.SellerID) {
		return nil
	}
	return ErrForbidden
}

// CanCancel lets the buyer cancel early in the lifecycle; seller and admin may
// cancel while the order is non-terminal.
func CanCancel(p identity.Principal, o *Order) error {
	if err := CanUpdateStatus(p, o); err == nil {
		return nil
	}
	if p.UserID != o.BuyerID {
		return ErrForbidden
	}
	switch o.Status {
	case StatusPending, StatusConfirmed:
		return nil
	default:
		return ErrBuyerCancelWindow
	}
}

// CanReturn lets the buyer return a delivered order. Admins are not restricted here.
func CanReturn(p identity.Principal, o *Order) error {
	if p.IsAdmin() {
		return nil
	}
	if p.UserID != o.BuyerID {
		return ErrForbidden
	}
	if o.Status != StatusDelivered {
		return ErrBuyerReturnWindow
	}
	return nil
}
