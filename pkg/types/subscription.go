package types

type SubscriptionStatus string

const (
	SubscriptionStatusPending  SubscriptionStatus = "PENDING"
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
)

// Renewable reports whether a subscription in this status may be charged for a new period.
func (s SubscriptionStatus) Renewable() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusPastDue
}

type PlanInterval string

const (
	PlanIntervalMonthly    PlanInterval = "MONTHLY"
	PlanIntervalQuarterly  PlanInterval = "QUARTERLY"
	PlanIntervalSemiannual PlanInterval = "SEMIANNUAL"
	PlanIntervalAnnual     PlanInterval = "ANNUAL"
)

type SubscriptionChangeReason string

const (
	SubscriptionChangeReasonCreate          SubscriptionChangeReason = "create"
	SubscriptionChangeReasonPaymentApproved SubscriptionChangeReason = "payment_approved"
	SubscriptionChangeReasonPaymentFailed   SubscriptionChangeReason = "payment_failed"
	SubscriptionChangeReasonPause           SubscriptionChangeReason = "pause"
	SubscriptionChangeReasonResume          SubscriptionChangeReason = "resume"
	SubscriptionChangeReasonCancel          SubscriptionChangeReason = "cancel"
	SubscriptionChangeReasonReconcile       SubscriptionChangeReason = "reconcile"
	SubscriptionChangeReasonLinkExternal    SubscriptionChangeReason = "link_external"
	SubscriptionChangeReasonRenewalClaim    SubscriptionChangeReason = "renewal_claim"
	SubscriptionChangeReasonRenewalRelease  SubscriptionChangeReason = "renewal_release"
)
