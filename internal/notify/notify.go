// Package notify dispatches user and admin notifications. Delivery is
// fire-and-forget: a failed notification never rolls back a financial
// transition.
package notify

import "github.com/rs/zerolog/log"

// Notification types emitted by the payout core.
const (
	TypePayoutRequested   = "payout_requested"
	TypePayoutApproved    = "payout_approved"
	TypePayoutRejected    = "payout_rejected"
	TypePayoutPaid        = "payout_paid"
	TypePayoutFailed      = "payout_failed"
	TypePayoutsBlocked    = "payouts_blocked"
	TypePayoutsUnblocked  = "payouts_unblocked"
	TypeDebtRecorded      = "debt_recorded"
	TypeBalanceDivergence = "balance_divergence"
)

// Dispatcher delivers a notification to a user. Implementations must not
// return delivery errors into financial flows; they report success/failure
// through their own channels.
type Dispatcher interface {
	Notify(userID, notificationType, message, link string)
}

// LogDispatcher is the default dispatcher: it writes the notification to the
// structured log where the platform's delivery worker picks it up.
type LogDispatcher struct{}

func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{}
}

func (d *LogDispatcher) Notify(userID, notificationType, message, link string) {
	log.Info().
		Str("component", "notify").
		Str("user_id", userID).
		Str("type", notificationType).
		Str("message", message).
		Str("link", link).
		Msg("notification dispatched")
}
