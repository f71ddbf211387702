package mailer

// EmailJob is the JSON payload put on the RabbitMQ queue for sending email.
// If Template is set, the worker renders it with Data; otherwise Subject,
// Text, and HTML are sent as-is.
type EmailJob struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject,omitempty"`
	Text     string         `json:"text,omitempty"`
	HTML     string         `json:"html,omitempty"`
	Template string         `json:"template,omitempty"` // e.g. "welcome"
	Data     map[string]any `json:"data,omitempty"`
}
