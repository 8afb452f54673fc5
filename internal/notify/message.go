package notify

// Queue names for the notification pipeline. Each notification kind has its
// own durable queue drained by a dedicated worker.
const (
	QueueConfirmEmail   = "confirmEmail-queue"
	QueueTwoFactor      = "2FA-queue"
	QueueForgetPassword = "forgetPassword-queue"
)

// Queues lists every notification queue, in a stable order.
var Queues = []string{QueueConfirmEmail, QueueTwoFactor, QueueForgetPassword}

// MailPriority mirrors the priority levels understood by the mail transport.
type MailPriority int

const (
	PriorityNormal MailPriority = 0
	PriorityLow    MailPriority = 1
	PriorityHigh   MailPriority = 2
)

// MailMessage is the wire format of a queued notification. Field names are
// part of the queue protocol and must not change. Transport credentials are
// never embedded; the consumer side owns SMTP configuration.
type MailMessage struct {
	DisplayName     string       `json:"displayName"`
	Body            string       `json:"body"`
	Subject         string       `json:"subject"`
	IsBodyHTML      bool         `json:"isBodyHtml"`
	MailPriority    MailPriority `json:"mailPriority"`
	MailAddressesTo []string     `json:"mailAddressesTo"`
}
