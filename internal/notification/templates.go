package notification

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

type Clinic struct {
	Name     string
	Phone    string
	Location *time.Location
}

const messageTemplates = `
{{define "email_confirmation_subject"}}Appointment Confirmation - {{.Clinic.Name}}{{end}}
{{define "email_confirmation_body"}}Dear {{.Patient.Name}},

Your appointment has been confirmed.

Date: {{.Date}}
Time: {{.Time}}
Doctor: {{.Visit.DoctorName}}
Duration: {{.Minutes}} minutes
Appointment ID: {{.Visit.AppointmentID}}
Patient Type: {{if .Visit.IsNewPatient}}New Patient{{else}}Returning Patient{{end}}

Please arrive 15 minutes early and bring a valid photo ID and your insurance card.
{{- if .Visit.IsNewPatient}}
As a new patient you will receive an intake form by email. Please complete it before your visit.
{{- end}}

To cancel or reschedule, call us at {{.Clinic.Phone}} at least 24 hours in advance.

{{.Clinic.Name}}
{{end}}
{{define "sms_confirmation_body"}}{{.Clinic.Name}}: appointment confirmed with {{.Visit.DoctorName}} on {{.Date}} at {{.Time}} ({{.Minutes}} min). ID {{.ShortID}}. Call {{.Clinic.Phone}} to change.{{end}}
{{define "email_intake_form_subject"}}New Patient Intake Form - {{.Clinic.Name}}{{end}}
{{define "email_intake_form_body"}}Dear {{.Patient.Name}},

Welcome to {{.Clinic.Name}}. Your new patient intake form for your visit on {{.Date}} at {{.Time}} is attached.
Please complete it and bring it with you, or arrive 15 minutes early to fill it in at the front desk.

{{.Clinic.Name}}
{{end}}
{{define "email_reminder_subject"}}Appointment Reminder - {{.Date}} at {{.Time}}{{end}}
{{define "email_reminder_body"}}Dear {{.Patient.Name}},

This is a reminder of your upcoming appointment.

Date: {{.Date}}
Time: {{.Time}}
Doctor: {{.Visit.DoctorName}}
{{- if .Visit.IsNewPatient}}

Please remember to complete your intake form before the visit.
{{- end}}

If you need to cancel, please call {{.Clinic.Phone}}.

{{.Clinic.Name}}
{{end}}
{{define "sms_reminder_body"}}Reminder: appointment with {{.Visit.DoctorName}} on {{.Date}} at {{.Time}}. Reply or call {{.Clinic.Phone}} to cancel. - {{.Clinic.Name}}{{end}}
`

var messages = template.Must(template.New("messages").Parse(messageTemplates))

// Messages renders channel bodies for each task kind.
type Messages struct {
	clinic Clinic
}

func NewMessages(clinic Clinic) *Messages {
	if clinic.Location == nil {
		clinic.Location = time.UTC
	}
	return &Messages{clinic: clinic}
}

type messageData struct {
	Clinic  Clinic
	Patient Recipient
	Visit   Visit
	Date    string
	Time    string
	Minutes int
	ShortID string
}

func (m *Messages) data(r Recipient, v Visit) messageData {
	start := v.Start.In(m.clinic.Location)
	return messageData{
		Clinic:  m.clinic,
		Patient: r,
		Visit:   v,
		Date:    start.Format("Monday, January 2, 2006"),
		Time:    start.Format("3:04 PM"),
		Minutes: int(v.Duration / time.Minute),
		ShortID: strings.ToUpper(v.AppointmentID.String()[:8]),
	}
}

func (m *Messages) Email(kind Kind, r Recipient, v Visit) (EmailMessage, error) {
	d := m.data(r, v)
	subject, err := execute(fmt.Sprintf("email_%s_subject", kind), d)
	if err != nil {
		return EmailMessage{}, err
	}
	body, err := execute(fmt.Sprintf("email_%s_body", kind), d)
	if err != nil {
		return EmailMessage{}, err
	}
	return EmailMessage{
		To:      r.Email,
		ToName:  r.Name,
		Subject: strings.TrimSpace(subject),
		Body:    body,
	}, nil
}

func (m *Messages) SMS(kind Kind, r Recipient, v Visit) (SMSMessage, error) {
	body, err := execute(fmt.Sprintf("sms_%s_body", kind), m.data(r, v))
	if err != nil {
		return SMSMessage{}, err
	}
	return SMSMessage{To: r.Phone, Body: strings.TrimSpace(body)}, nil
}

func execute(name string, data any) (string, error) {
	t := messages.Lookup(name)
	if t == nil {
		return "", fmt.Errorf("no message template %q", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
