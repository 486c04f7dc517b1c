package events

// Topic constants for checkout domain events.
const (
	TopicCheckoutCompleted     = "checkout.completed"
	TopicCheckoutCommitFailed  = "checkout.commit_failed"
	TopicCheckoutAbandoned     = "checkout.abandoned"
	TopicCheckoutSessionFailed = "checkout.session_failed"
	TopicPaymentFailed         = "payment.failed"
	TopicPaymentLateApproval   = "payment.late_approval"
)

// DefaultTopics returns every topic the checkout engine emits.
func DefaultTopics() []string {
	return []string{
		TopicCheckoutCompleted,
		TopicCheckoutCommitFailed,
		TopicCheckoutAbandoned,
		TopicCheckoutSessionFailed,
		TopicPaymentFailed,
		TopicPaymentLateApproval,
	}
}

// MoneyMoved reports whether the topic describes a payment that was taken
// without a confirmed order.
func MoneyMoved(topic string) bool {
	return topic == TopicCheckoutCommitFailed || topic == TopicPaymentLateApproval
}
