package domain

type MailTemplate string

const (
	TemplateShareLink     MailTemplate = "share_link"
	TemplateVersionUpdate MailTemplate = "version_update"
)

type MailMessage struct {
	To       string
	Name     string
	Template MailTemplate
	Data     map[string]string
}

// MailSummary aggregates per-recipient outcomes of one delivery.
// Failures are reported here and never turned into operation errors.
type MailSummary struct {
	Sent   int      `json:"sent"`
	Failed []string `json:"failed"`
}

func (s MailSummary) Attempted() int {
	return s.Sent + len(s.Failed)
}
