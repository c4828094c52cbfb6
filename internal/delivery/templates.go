package delivery

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"
)

// SMSCodeBody is the SMS text carrying a one-time code.
func SMSCodeBody(code string) string {
	return fmt.Sprintf("Your verification code: %s. Do not share it with anyone.", code)
}

const verificationText = `Hello, {{.Username}}!

Your {{.AppName}} verification code: {{.Code}}

The code expires in {{.Minutes}} minutes. If you did not try to sign in, ignore this message and keep your secret code private.
`

const verificationHTML = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
  <h2>{{.AppName}}</h2>
  <p>Hello, {{.Username}}!</p>
  <p>Your verification code:</p>
  <p style="font-size: 28px; letter-spacing: 6px;"><strong>{{.Code}}</strong></p>
  <p>The code expires in {{.Minutes}} minutes.</p>
  <p style="color: #888;">If you did not try to sign in, ignore this message.</p>
</body>
</html>
`

const welcomeText = `Hello, {{.Username}}!

Welcome to {{.AppName}}. Your account is ready. Sign in with your email and secret code; every login is confirmed with a one-time code sent to your phone and email.
`

const welcomeHTML = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
  <h2>Welcome to {{.AppName}}!</h2>
  <p>Hello, {{.Username}}!</p>
  <p>Your account is ready. Sign in with your email and secret code; every login is confirmed with a one-time code sent to your phone and email.</p>
</body>
</html>
`

var (
	textTemplates = texttemplate.Must(texttemplate.New("verification").Parse(verificationText))
	htmlTemplates = htmltemplate.Must(htmltemplate.New("verification").Parse(verificationHTML))
)

func init() {
	texttemplate.Must(textTemplates.New("welcome").Parse(welcomeText))
	htmltemplate.Must(htmlTemplates.New("welcome").Parse(welcomeHTML))
}

// Templates renders the service's emails.
type Templates struct {
	AppName string
}

type templateData struct {
	AppName  string
	Username string
	Code     string
	Minutes  int
}

// VerificationEmail renders the one-time code email.
func (t Templates) VerificationEmail(username, code string, ttl time.Duration) (Message, error) {
	d := templateData{AppName: t.AppName, Username: username, Code: code, Minutes: int(ttl / time.Minute)}
	return t.render("verification", "Verification code for "+t.AppName, d)
}

func (t Templates) WelcomeEmail(username string) (Message, error) {
	return t.render("welcome", "Welcome to "+t.AppName+"!", templateData{AppName: t.AppName, Username: username})
}

func (t Templates) render(name, subject string, d templateData) (Message, error) {
	var text, html bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&text, name, d); err != nil {
		return Message{}, fmt.Errorf("render %s text: %w", name, err)
	}
	if err := htmlTemplates.ExecuteTemplate(&html, name, d); err != nil {
		return Message{}, fmt.Errorf("render %s html: %w", name, err)
	}
	return Message{Subject: subject, Text: text.String(), HTML: html.String()}, nil
}
