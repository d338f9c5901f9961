package http

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"

	"holyagents.arpa/app/completion"
	"holyagents.arpa/app/persona"
	"holyagents.arpa/app/session"
	"holyagents.arpa/web"
)

type Renderer struct {
	tmpl *template.Template
}

func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("").
		Funcs(template.FuncMap{"upper": strings.ToUpper}).
		ParseFS(web.TemplateFS,
			"templates/layout/*.html",
			"templates/pages/*.html",
			"templates/partials/*.html",
		)
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

func (r *Renderer) Page(w io.Writer, name string, data any) error {
	return r.tmpl.ExecuteTemplate(w, name, data)
}

type transcriptView struct {
	Persona  persona.Persona
	Messages []completion.Message
	Busy     bool
}

func newTranscriptView(p persona.Persona, snap session.Snapshot) transcriptView {
	return transcriptView{
		Persona:  p,
		Messages: snap.Transcript,
		Busy:     snap.State == session.AwaitingResponse,
	}
}

// screenPayload is what the page receives after every change, over the event stream or
// in reply to a submission. The page ignores payloads older than the revision it shows.
type screenPayload struct {
	Revision uint64        `json:"revision"`
	State    session.State `json:"state"`
	HTML     string        `json:"html"`
	Messages int           `json:"messages"`
	Error    string        `json:"error,omitempty"`
}

func (r *Renderer) payload(p persona.Persona, snap session.Snapshot) (screenPayload, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "transcript", newTranscriptView(p, snap)); err != nil {
		return screenPayload{}, fmt.Errorf("render transcript: %w", err)
	}
	return screenPayload{
		Revision: snap.Revision,
		State:    snap.State,
		HTML:     buf.String(),
		Messages: len(snap.Transcript),
	}, nil
}

type pageData struct {
	Title     string
	BodyClass string
}

type landingPage struct {
	pageData
	Splash   []string
	Personas []persona.Persona
}

type screenPage struct {
	pageData
	Persona  persona.Persona
	ScreenID string
	Tag      string
	View     transcriptView
}

var splashLines = []string{
	"Initializing sacred connection...",
	"Loading divine protocols...",
	"Establishing heavenly link...",
	"Preparing holy interface...",
	"Holy Agents ready for communion",
}
