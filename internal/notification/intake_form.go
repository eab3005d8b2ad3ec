package notification

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"
)

var intakeForm = template.Must(template.New("intake").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>New Patient Intake Form - {{.Clinic.Name}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; margin: 2em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; }
td { border: 1px solid #999; padding: 6px; }
.blank { height: 2em; }
</style>
</head>
<body>
<h1>{{.Clinic.Name}} - New Patient Intake Form</h1>
<h2>Patient information</h2>
<table>
<tr><td>Full name</td><td>{{.Patient.Name}}</td></tr>
<tr><td>Date of birth</td><td>{{.DOB}}</td></tr>
<tr><td>Phone</td><td>{{.Patient.Phone}}</td></tr>
<tr><td>Email</td><td>{{.Patient.Email}}</td></tr>
</table>
<h2>Appointment</h2>
<table>
<tr><td>Date</td><td>{{.Date}}</td></tr>
<tr><td>Time</td><td>{{.Time}}</td></tr>
<tr><td>Doctor</td><td>{{.Visit.DoctorName}}</td></tr>
<tr><td>Appointment ID</td><td>{{.Visit.AppointmentID}}</td></tr>
</table>
<h2>Insurance</h2>
<table>
<tr><td>Carrier</td><td>{{.Patient.Insurance.Payer}}</td></tr>
<tr><td>Member ID</td><td>{{.Patient.Insurance.MemberID}}</td></tr>
<tr><td>Group number</td><td>{{.Patient.Insurance.GroupNumber}}</td></tr>
</table>
<h2>Medical history</h2>
<table>
<tr><td>Current medications</td><td class="blank"></td></tr>
<tr><td>Allergies</td><td class="blank"></td></tr>
<tr><td>Previous surgeries</td><td class="blank"></td></tr>
<tr><td>Reason for visit</td><td class="blank"></td></tr>
</table>
<h2>Emergency contact</h2>
<table>
<tr><td>Name</td><td class="blank"></td></tr>
<tr><td>Relationship</td><td class="blank"></td></tr>
<tr><td>Phone</td><td class="blank"></td></tr>
</table>
<p>Signature: ______________________ Date: __________</p>
</body>
</html>
`))

// HTMLFormRenderer renders the intake form as a standalone HTML document.
type HTMLFormRenderer struct {
	clinic Clinic
}

func NewHTMLFormRenderer(clinic Clinic) *HTMLFormRenderer {
	if clinic.Location == nil {
		clinic.Location = time.UTC
	}
	return &HTMLFormRenderer{clinic: clinic}
}

func (r *HTMLFormRenderer) RenderIntakeForm(ctx context.Context, rec Recipient, v Visit) (Attachment, error) {
	start := v.Start.In(r.clinic.Location)
	data := struct {
		Clinic  Clinic
		Patient Recipient
		Visit   Visit
		DOB     string
		Date    string
		Time    string
	}{
		Clinic:  r.clinic,
		Patient: rec,
		Visit:   v,
		Date:    start.Format("January 2, 2006"),
		Time:    start.Format("3:04 PM"),
	}
	if !rec.DOB.IsZero() {
		data.DOB = rec.DOB.Format("01/02/2006")
	}

	var buf bytes.Buffer
	if err := intakeForm.Execute(&buf, data); err != nil {
		return Attachment{}, fmt.Errorf("render intake form: %w", err)
	}
	return Attachment{
		Filename:    fmt.Sprintf("intake_form_%s.html", v.AppointmentID.String()[:8]),
		ContentType: "text/html",
		Content:     buf.Bytes(),
	}, nil
}
