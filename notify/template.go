package notify

import (
	"text/template"
	"time"

	"github.com/Raytar/helpqueue/events"
	"github.com/Raytar/helpqueue/models"
)

var funcMap = template.FuncMap{
	"name":    displayName,
	"label":   label,
	"minutes": func(seconds int) string { return (time.Duration(seconds) * time.Second).String() },
}

func label(v any) string {
	switch x := v.(type) {
	case *models.Topic:
		if x != nil {
			return x.Label
		}
	case *models.Location:
		if x != nil {
			return x.Label
		}
	}
	return "?"
}

func createTemplate(name, tmpl string) *template.Template {
	return template.Must(template.New(name).Funcs(funcMap).Parse(tmpl))
}

var templates = map[events.Topic]*template.Template{
	events.NewQuestion: createTemplate("new_question",
		`{{name .Question.Student}} needs help with {{label .Question.Topic}} at {{label .Question.Location}} ({{.Question.QueuePosition}} ahead).`),
	events.QuestionAnswered: createTemplate("question_answered",
		`{{name .Question.CA}} is helping {{name .Question.Student}}.`),
	events.QuestionReturned: createTemplate("question_returned",
		`{{name .Question.Student}} is back in the queue.`),
	events.QuestionFrozen: createTemplate("question_frozen",
		`{{name .Question.Student}}'s question was frozen by {{name .Question.FrozenByUser}}.`),
	events.QuestionUnfrozen: createTemplate("question_unfrozen",
		`{{name .Question.Student}}'s question is no longer frozen.`),
	events.QuestionClosed: createTemplate("question_closed",
		`{{name .Question.Student}}'s question was closed{{with .Question.OffReason}} ({{.}}){{end}}.`),
	events.QueueMeta: createTemplate("queue_meta",
		`The queue is now {{if .Meta.Open}}open{{else}}closed{{end}}. Questions freeze for at most {{minutes .Meta.MaxFreeze}}.`),
}

func displayName(u *models.User) string {
	if u == nil {
		return "someone"
	}
	return u.Name()
}
