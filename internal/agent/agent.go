// Package agent drives a service tab from a natural-language instruction:
// it picks the service, waits for capabilities, asks a language model for
// field values, writes them as a user would and submits.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joeblew999/plat-ows/internal/form"
	"github.com/joeblew999/plat-ows/internal/metrics"
	"github.com/joeblew999/plat-ows/internal/ows"
	"github.com/joeblew999/plat-ows/internal/request"
	"github.com/joeblew999/plat-ows/pkg/logging"
)

var (
	ErrCapabilitiesTimeout = errors.New("timeout waiting for GetCapabilities, is the server running?")
	ErrNoEntriesFound      = errors.New("no layers found, check the server URL or GetCapabilities")
	ErrCompletion          = errors.New("completion service error")
	ErrEmptyCompletion     = errors.New("AI returned empty response")
)

// DefaultSettleDelay is the pause between writing fields and submitting.
const DefaultSettleDelay = time.Second

// State is a step of an agent run.
type State string

const (
	StateIdle                 State = "idle"
	StateSelectingService     State = "selecting_service"
	StateAwaitingCapabilities State = "awaiting_capabilities"
	StateBuildingContext      State = "building_context"
	StateAwaitingCompletion   State = "awaiting_completion"
	StateApplying             State = "applying"
	StateDone                 State = "done"
	StateFailed               State = "failed"
)

// Status levels, used as CSS classes by the UI.
const (
	LevelLoading = "loading"
	LevelSuccess = "success"
	LevelError   = "error"
)

// Status is a progress report.
type Status struct {
	State   State  `json:"state"`
	Message string `json:"message"`
	Level   string `json:"level"`
}

// Controller is the form surface the agent drives. Implementations publish
// a change notification for every Apply, exactly as for a person's edit.
type Controller interface {
	Activate(kind ows.ServiceKind)
	// TriggerCapabilities clears the entry field and starts a fetch that
	// completes in the background.
	TriggerCapabilities(ctx context.Context, kind ows.ServiceKind) error
	Populated(kind ows.ServiceKind) (bool, error)
	BuildContext(kind ows.ServiceKind) form.Context
	Apply(ctx context.Context, kind ows.ServiceKind, field, value string) error
	Submit(ctx context.Context, kind ows.ServiceKind) (request.Query, error)
}

// Result summarizes a successful run.
type Result struct {
	Kind    ows.ServiceKind `json:"kind" doc:"Service chosen for the instruction"`
	Applied []string        `json:"applied" doc:"Fields written, in order"`
	Ignored []string        `json:"ignored,omitempty" doc:"Fields named by the model that the form does not accept"`
	Query   request.Query   `json:"query" doc:"Submitted query"`
}

// Config tunes a Bridge.
type Config struct {
	Poller      Poller
	SettleDelay time.Duration
}

// Bridge runs instructions against one Controller.
type Bridge struct {
	ctrl      Controller
	completer Completer
	poller    Poller
	settle    time.Duration
}

// New creates a bridge. Zero config values use the defaults.
func New(ctrl Controller, c Completer, cfg Config) *Bridge {
	p := cfg.Poller
	if p.Attempts <= 0 || p.Interval <= 0 {
		sleep := p.Sleep
		p = NewPoller(p.Attempts, p.Interval)
		p.Sleep = sleep
	}
	settle := cfg.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Bridge{ctrl: ctrl, completer: c, poller: p, settle: settle}
}

// Classify picks WFS when the instruction mentions features or vectors and
// WMS otherwise.
func Classify(instruction string) ows.ServiceKind {
	s := strings.ToLower(instruction)
	if strings.Contains(s, "feature") || strings.Contains(s, "vector") {
		return ows.KindWFS
	}
	return ows.KindWMS
}

// Run executes one instruction. report, if set, receives every state
// change. Fields written before a failure are left in place.
func (b *Bridge) Run(ctx context.Context, instruction string, report func(Status)) (*Result, error) {
	if report == nil {
		report = func(Status) {}
	}
	res, err := b.run(ctx, instruction, report)
	if err != nil {
		metrics.AgentRuns.WithLabelValues(string(StateFailed)).Inc()
		logging.Error("Agent", err, "instruction %q failed", instruction)
		report(Status{State: StateFailed, Message: "Error: " + err.Error(), Level: LevelError})
		return nil, err
	}
	metrics.AgentRuns.WithLabelValues(string(StateDone)).Inc()
	report(Status{State: StateDone, Message: "Done", Level: LevelSuccess})
	return res, nil
}

func (b *Bridge) run(ctx context.Context, instruction string, report func(Status)) (*Result, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil, errors.New("empty instruction")
	}

	report(Status{State: StateSelectingService, Message: "Thinking...", Level: LevelLoading})
	kind := Classify(instruction)
	logging.Info("Agent", "selected service %s", kind.Upper())
	b.ctrl.Activate(kind)

	report(Status{State: StateAwaitingCapabilities, Message: "Fetching Server Data...", Level: LevelLoading})
	if err := b.ctrl.TriggerCapabilities(ctx, kind); err != nil {
		return nil, err
	}
	if err := b.poller.Poll(ctx, func() (bool, error) { return b.ctrl.Populated(kind) }); err != nil {
		return nil, err
	}

	report(Status{State: StateBuildingContext, Message: "Building context...", Level: LevelLoading})
	snap := b.ctrl.BuildContext(kind)
	if len(snap[form.EntryField(kind)].Options) == 0 {
		return nil, ErrNoEntriesFound
	}

	report(Status{State: StateAwaitingCompletion, Message: "AI Generating Params...", Level: LevelLoading})
	prompt, err := Prompt(kind, instruction, snap)
	if err != nil {
		return nil, err
	}
	reply, err := b.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompletion, err)
	}
	actions, err := ParseActions(reply)
	if err != nil {
		return nil, err
	}

	report(Status{State: StateApplying, Message: "Rendering Map...", Level: LevelSuccess})
	res := &Result{Kind: kind, Applied: []string{}}
	accepted := make(map[string]bool)
	for _, f := range form.FieldsFor(kind) {
		if f.Manual {
			continue
		}
		accepted[f.Name] = true
		v, ok := actions[f.Name]
		if !ok {
			continue
		}
		if err := b.ctrl.Apply(ctx, kind, f.Name, v); err != nil {
			return nil, fmt.Errorf("apply %s: %w", f.Name, err)
		}
		res.Applied = append(res.Applied, f.Name)
	}
	for name := range actions {
		if !accepted[name] {
			res.Ignored = append(res.Ignored, name)
		}
	}
	sort.Strings(res.Ignored)

	if err := sleep(ctx, b.poller, b.settle); err != nil {
		return nil, err
	}
	q, err := b.ctrl.Submit(ctx, kind)
	if err != nil {
		return nil, err
	}
	res.Query = q
	return res, nil
}

func sleep(ctx context.Context, p Poller, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

const promptTemplate = `You are a GIS Assistant controlling a %s interface.

CONTEXT (Available Layers & Fields):
%s

USER QUERY: %q

TASK:
1. Select the most relevant '%s' from the provided options.
%s
OUTPUT:
Return ONLY valid JSON mapping field names to values. No markdown.
`

// Prompt renders the completion prompt. Only the context snapshot is sent,
// never a raw capabilities document.
func Prompt(kind ows.ServiceKind, instruction string, snap form.Context) (string, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}
	var steps string
	switch kind {
	case ows.KindWMS:
		steps = "2. Select 'crs' (Prefer EPSG:4326).\n" +
			"3. Select 'format' (image/png for WMS).\n" +
			"4. Calculate Bounding Box (minx, miny, maxx, maxy) in EPSG:4326.\n" +
			"5. Return 'width' and 'height' if specified (default 800, 600).\n"
	case ows.KindWFS:
		steps = "2. Select 'crs' (Prefer EPSG:4326).\n" +
			"3. Select 'format' (application/json for WFS).\n" +
			"4. Calculate Bounding Box (minx, miny, maxx, maxy) in EPSG:4326.\n"
	case ows.KindSOS:
		steps = "2. Calculate Bounding Box (minx, miny, maxx, maxy) in EPSG:4326 if a region is named.\n" +
			"3. Return 'startdate', 'starttime', 'enddate', 'endtime' if a period is named (YYYY-MM-DD, HH:MM).\n"
	}
	return fmt.Sprintf(promptTemplate, kind.Upper(), raw, instruction, form.EntryField(kind), steps), nil
}

// ParseActions decodes a model reply into field values. Markdown code
// fences are stripped; numbers keep their literal text and null values are
// dropped.
func ParseActions(reply string) (map[string]string, error) {
	text := strings.ReplaceAll(reply, "```json", "")
	text = strings.TrimSpace(strings.ReplaceAll(text, "```", ""))
	if text == "" || text == "null" {
		return nil, ErrEmptyCompletion
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmptyCompletion, err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyCompletion
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case nil:
			continue
		case string:
			out[k] = v
		case json.Number:
			out[k] = v.String()
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out, nil
}
