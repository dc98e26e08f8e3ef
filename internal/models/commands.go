package models

// CommandType identifies a side effect produced by a state transition.
// Transitions never dispatch anything themselves; they return commands that
// the outbox dispatcher executes after the transaction commits.
type CommandType string

const (
	CommandNotifySubmitted   CommandType = "NOTIFY_CANDIDATURE_SOUMISE"
	CommandNotifyApproved    CommandType = "NOTIFY_CANDIDATURE_APPROUVEE"
	CommandNotifyRejected    CommandType = "NOTIFY_CANDIDATURE_REJETEE"
	CommandNotifyPaymentOK   CommandType = "NOTIFY_PAIEMENT_CONFIRME"
	CommandNotifyPaymentKO   CommandType = "NOTIFY_PAIEMENT_ECHEC"
	CommandNotifyActivated   CommandType = "NOTIFY_INSCRIPTION_ACTIVEE"
	CommandNotifyCredentials CommandType = "NOTIFY_IDENTIFIANTS_APPRENANT"
)

// / Command is an outbox entry: a notification or follow-up action to dispatch.
type Command struct {
	Type    CommandType
	Email   string
	Subject string
	Payload map[string]interface{}
}
