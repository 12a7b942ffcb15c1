package humastar

import "fmt"

// Action is a state-dependent hypermedia action link.
// Response bodies implement the Actor interface to emit conditional
// RFC 8288 Link headers with method and title extension parameters.
//
// Example Link header output:
//
//	</api/v1/sessions/42/tabs/wms/submit>; rel="submit"; method="POST"; title="Build the GetMap request"
type Action struct {
	Rel    string `json:"rel"`
	Href   string `json:"href"`
	Method string `json:"method,omitempty"`
	Title  string `json:"title,omitempty"`
}

// Actor is implemented by response bodies that provide state-dependent actions.
type Actor interface {
	Actions() []Action
}

// LinkHeader formats the action as an RFC 8288 Link header value.
func (a Action) LinkHeader() string {
	h := fmt.Sprintf(`<%s>; rel="%s"`, a.Href, a.Rel)
	if a.Method != "" {
		h += fmt.Sprintf(`; method="%s"`, a.Method)
	}
	if a.Title != "" {
		h += fmt.Sprintf(`; title="%s"`, a.Title)
	}
	return h
}

// ActionDef is a reusable action template. Pattern takes the resource path
// arguments as %s verbs, e.g. "/api/v1/sessions/%s/tabs/%s/submit".
type ActionDef struct {
	Rel     string
	Pattern string
	Method  string
	Title   string
}

// Action renders the definition for the given path arguments.
func (d ActionDef) Action(args ...any) Action {
	return Action{
		Rel:    d.Rel,
		Href:   fmt.Sprintf(d.Pattern, args...),
		Method: d.Method,
		Title:  d.Title,
	}
}

// ActionsFor renders every definition for the same path arguments.
func ActionsFor(defs []ActionDef, args ...any) []Action {
	actions := make([]Action, len(defs))
	for i, d := range defs {
		actions[i] = d.Action(args...)
	}
	return actions
}
