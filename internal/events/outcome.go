package events

import "time"

// PaymentOutcome is the final result of one payment attempt. It is produced
// exactly once per attempt by the payment session and published on
// TopicPaymentResult. A decline is a normal outcome with Success=false,
// never an error.
type PaymentOutcome struct {
	AttemptID string
	Amount    int64
	Currency  string
	Success   bool
	Message   string
	RRN       string
	AuthCode  string
	StartedAt time.Time
	SettledAt time.Time
}
