package events

// Internal bus topics published by the terminal client and payment session.
const (
	TopicConnStatus    = "conn.status"
	TopicPaymentStatus = "payment.status"
	TopicReceiptLine   = "payment.receipt"
	TopicPaymentResult = "payment.result"
	TopicFrameIn       = "frame.in"
	TopicFrameOut      = "frame.out"
)
