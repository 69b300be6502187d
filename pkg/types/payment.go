package types

type PaymentStatus string

const (
	PaymentStatusPending     PaymentStatus = "PENDING"
	PaymentStatusApproved    PaymentStatus = "APPROVED"
	PaymentStatusRejected    PaymentStatus = "REJECTED"
	PaymentStatusInProcess   PaymentStatus = "IN_PROCESS"
	PaymentStatusRefunded    PaymentStatus = "REFUNDED"
	PaymentStatusChargedBack PaymentStatus = "CHARGED_BACK"
)

type CouponDiscountType string

const (
	CouponDiscountTypePercentage CouponDiscountType = "PERCENTAGE"
	CouponDiscountTypeFixed      CouponDiscountType = "FIXED"
)

type CouponStatus string

const (
	CouponStatusActive   CouponStatus = "ACTIVE"
	CouponStatusInactive CouponStatus = "INACTIVE"
)

// IntegrationType identifies a webhook integration of the payment gateway.
// Each integration carries its own signing secret.
type IntegrationType string

const (
	IntegrationSubscriptions IntegrationType = "subscriptions"
	IntegrationPayments      IntegrationType = "payments"
	IntegrationPoint         IntegrationType = "point"
)
