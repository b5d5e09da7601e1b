package mailer

import (
	"bytes"
	htmltemplate "html/template"
	texttemplate "text/template"
)

type templateData struct {
	AppName string
	Email   string
	Link    string
}

type template struct {
	subject string
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

func newTemplate(name, subject, html, text string) template {
	return template{
		subject: subject,
		html:    htmltemplate.Must(htmltemplate.New(name).Parse(html)),
		text:    texttemplate.Must(texttemplate.New(name).Parse(text)),
	}
}

func (t template) render(data templateData) (string, string, error) {
	var html, text bytes.Buffer
	if err := t.html.Execute(&html, data); err != nil {
		return "", "", err
	}
	if err := t.text.Execute(&text, data); err != nil {
		return "", "", err
	}
	return html.String(), text.String(), nil
}

var verificationTemplate = newTemplate("verification",
	"Verify your newsletter subscription",
	`<h1>Verify your email address</h1>
<p>Thank you for subscribing to our newsletter! Please click the button below to verify your email address:</p>
<div style="margin: 24px 0;">
  <a href="{{.Link}}" style="background-color: #000; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; display: inline-block;">Verify Email Address</a>
</div>
<p>Or copy and paste this URL into your browser:</p>
<p>{{.Link}}</p>
<p>If you didn't request this verification, you can safely ignore this email.</p>
<p>Best regards,<br>{{.AppName}}</p>
`,
	`Verify your email address

Thank you for subscribing to our newsletter! Please visit the following URL to verify your email address:

{{.Link}}

If you didn't request this verification, you can safely ignore this email.

Best regards,
{{.AppName}}
`)

var welcomeTemplate = newTemplate("welcome",
	"Welcome to Our Newsletter!",
	`<h1>Welcome to Our Newsletter!</h1>
<p>Thank you for subscribing to our newsletter. We're excited to share updates with you!</p>
<p>If you wish to unsubscribe, <a href="{{.Link}}">click here</a>.</p>
<p>Best regards,<br>{{.AppName}}</p>
`,
	`Welcome to Our Newsletter!

Thank you for subscribing to our newsletter. We're excited to share updates with you!

To unsubscribe, visit: {{.Link}}

Best regards,
{{.AppName}}
`)

var signInTemplate = newTemplate("signin",
	"Sign in to your account",
	`<h1>Sign in</h1>
<p>Click the link below to sign in as {{.Email}}. The link expires shortly and can only be used from this email.</p>
<p><a href="{{.Link}}">Sign in</a></p>
<p>If you did not request this email you can safely ignore it.</p>
<p>{{.AppName}}</p>
`,
	`Sign in as {{.Email}}:

{{.Link}}

If you did not request this email you can safely ignore it.

{{.AppName}}
`)
