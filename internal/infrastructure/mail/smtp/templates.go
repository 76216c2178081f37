package smtp

import (
	"html/template"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

type mailTemplate struct {
	subject *template.Template
	html    *template.Template
	text    *template.Template
}

const layoutHead = `<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Helvetica, Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .content { background: #f9fafb; padding: 24px; border-radius: 8px; }
        .btn { display: inline-block; background: #2563eb; color: white; padding: 12px 20px; text-decoration: none; border-radius: 6px; margin-top: 16px; }
        .footer { margin-top: 24px; font-size: 12px; color: #6b7280; text-align: center; }
    </style>
</head>
<body>
<div class="container">
    <div class="content">
`

const layoutFoot = `    </div>
    <div class="footer">Sent on behalf of {{.sender_name}}. Reply to the sender if you were not expecting this document.</div>
</div>
</body>
</html>
`

func mustTemplates() map[domain.MailTemplate]mailTemplate {
	return map[domain.MailTemplate]mailTemplate{
		domain.TemplateShareLink: {
			subject: template.Must(template.New("share_link_subject").Parse(`Please review: {{.title}}`)),
			html: template.Must(template.New("share_link_html").Parse(layoutHead + `
        <p>Hello{{if .recipient_name}} {{.recipient_name}}{{end}},</p>
        <p>You have been asked to read and acknowledge <strong>{{.title}}</strong>.</p>
        <a href="{{.share_url}}" class="btn">Open document</a>
` + layoutFoot)),
			text: template.Must(template.New("share_link_text").Parse(`Hello{{if .recipient_name}} {{.recipient_name}}{{end}},

You have been asked to read and acknowledge "{{.title}}".

Open the document: {{.share_url}}
`)),
		},
		domain.TemplateVersionUpdate: {
			subject: template.Must(template.New("version_update_subject").Parse(`Updated: {{.title}} (version {{.version_label}})`)),
			html: template.Must(template.New("version_update_html").Parse(layoutHead + `
        <p>Hello{{if .recipient_name}} {{.recipient_name}}{{end}},</p>
        <p>A new version (<strong>{{.version_label}}</strong>) of <strong>{{.title}}</strong> is available. Please review it again.</p>
        <a href="{{.share_url}}" class="btn">Open latest version</a>
` + layoutFoot)),
			text: template.Must(template.New("version_update_text").Parse(`Hello{{if .recipient_name}} {{.recipient_name}}{{end}},

Version {{.version_label}} of "{{.title}}" is available. Please review it again.

Open the document: {{.share_url}}
`)),
		},
	}
}
