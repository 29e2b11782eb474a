package domain

// CheckoutRequest asks the payment provider for a hosted checkout page.
type CheckoutRequest struct {
	UserID  string
	Email   string
	PlanID  string
	PriceID string
}

// CheckoutSession is a created hosted checkout page.
type CheckoutSession struct {
	ID  string
	URL string
}

// PaymentEventCheckoutCompleted is the only provider event that changes a ledger.
const PaymentEventCheckoutCompleted = "checkout.session.completed"

// PaymentEvent is a verified notification from the payment provider.
type PaymentEvent struct {
	ID       string
	Type     string
	Checkout *CompletedCheckout
}

// CompletedCheckout is the payload of a finished checkout session.
type CompletedCheckout struct {
	SessionID string
	UserID    string
	PlanID    string
	Paid      bool
}
