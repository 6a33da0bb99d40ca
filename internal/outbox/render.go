package outbox

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"strings"
	"text/template"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/spec-kit/sla-engine/internal/domain"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Message is a rendered notification ready for the mailer.
type Message struct {
	Subject string
	Body    string
}

// Renderer turns payloads into mail using the embedded templates.
type Renderer struct {
	templates *template.Template
	strip     *bluemonday.Policy
	loc       *time.Location
}

// NewRenderer parses the embedded templates. Times render in loc (UTC when nil).
func NewRenderer(loc *time.Location) (*Renderer, error) {
	if loc == nil {
		loc = time.UTC
	}
	r := &Renderer{strip: bluemonday.StrictPolicy(), loc: loc}
	tmpl, err := template.New("outbox").Funcs(template.FuncMap{
		"when":    r.formatTime,
		"clean":   r.clean,
		"percent": percent,
		"label":   dimensionLabel,
	}).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse outbox templates: %w", err)
	}
	r.templates = tmpl
	return r, nil
}

// Render produces the subject and body for a payload.
func (r *Renderer) Render(p Payload) (Message, error) {
	var subject, name string
	switch v := p.(type) {
	case TicketCreatedPayload:
		subject = fmt.Sprintf("[#%s] New ticket: %s", r.clean(v.Number), r.clean(v.Subject))
		name = "ticket_created.tmpl"
	case SLAAssignedPayload:
		subject = fmt.Sprintf("SLA assigned to ticket %s", v.TicketID)
		name = "sla_assigned.tmpl"
	case SLAWarnPayload:
		subject = fmt.Sprintf("SLA reminder: %s %s elapsed on ticket %s", dimensionLabel(v.Dimension), percent(v.Fraction), v.TicketID)
		name = "sla_warn.tmpl"
	case SLABreachPayload:
		subject = fmt.Sprintf("SLA breached: %s on ticket %s", dimensionLabel(v.Dimension), v.TicketID)
		name = "sla_breach.tmpl"
	case CalendarPayload:
		verb := "created"
		if v.Deleted {
			verb = "deleted"
		}
		subject = fmt.Sprintf("Business calendar %s: %s", verb, r.clean(v.Name))
		name = "calendar.tmpl"
	default:
		return Message{}, fmt.Errorf("%w: %T", ErrUnknownKind, p)
	}

	var body bytes.Buffer
	if err := r.templates.ExecuteTemplate(&body, name, p); err != nil {
		return Message{}, fmt.Errorf("execute template %s: %w", name, err)
	}
	return Message{Subject: subject, Body: body.String()}, nil
}

// clean strips markup from user-supplied text; bodies are plain text.
func (r *Renderer) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(r.strip.Sanitize(s)))
}

func (r *Renderer) formatTime(t *time.Time) string {
	if t == nil {
		return "not tracked"
	}
	return t.In(r.loc).Format("Mon 02 Jan 2006 15:04 MST")
}

func percent(f float64) string {
	return fmt.Sprintf("%.0f%%", f*100)
}

func dimensionLabel(d domain.Dimension) string {
	switch d {
	case domain.DimensionFirstResponse:
		return "first response"
	case domain.DimensionResolution:
		return "resolution"
	default:
		return string(d)
	}
}
