package turn

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/harun/kirana/pkg/model"
	"github.com/harun/kirana/pkg/tools"
)

const (
	defaultFailureThreshold = 3
	defaultPruneAfterStep   = 8
	defaultPruneMinMessages = 12
	defaultKeepLast         = 6
	diagFailureLimit        = 5
)

// Config holds the configuration for a turn controller
type Config struct {
	Registry *tools.Registry
	Resolver *model.Resolver
	Logger   zerolog.Logger

	// FailureThreshold is the failure count that triggers the one-way
	// tier escalation. Defaults to 3.
	FailureThreshold int

	// PruneAfterStep is the step index from which history pruning is
	// considered. Defaults to 8.
	PruneAfterStep int

	// PruneMinMessages is the minimum history length before pruning
	// activates. Defaults to 12.
	PruneMinMessages int

	// KeepLast is how many trailing messages pruning leaves untouched.
	// Defaults to 6.
	KeepLast int

	// MarkerExceptions lists tools whose legitimate output begins with
	// an error marker and must not count as failures.
	MarkerExceptions []string
}

// StepInput is what the governed loop hands the controller before each
// model call: the step index, the steps committed since the previous
// consultation, and the current conversation history.
type StepInput struct {
	Index     int
	PrevSteps []model.Step
	Messages  []model.Message
}

// Overrides is the controller's verdict for one step. Nil fields mean
// "leave as is": nil Tools is full visibility, nil Messages keeps the
// caller's history.
type Overrides struct {
	Tools    []string
	System   string
	Tier     model.Tier
	Messages []model.Message

	// ToolChoice is "" for model discretion or "required" to force a
	// tool call this step
	ToolChoice string
}

// Controller arbitrates one turn of a governed loop: it tracks failures,
// expands discovery-mode visibility, prunes history under context
// pressure, and escalates the model tier when the turn is demonstrably
// stuck. It is not safe for concurrent use; each turn owns its own
// controller.
type Controller struct {
	registry *tools.Registry
	resolver *model.Resolver
	state    *State
	logger   zerolog.Logger

	failureThreshold int
	pruneAfterStep   int
	pruneMinMessages int
	keepLast         int
	markerExceptions map[string]bool
}

// NewController creates a controller bound to fresh turn state
func NewController(cfg Config, state *State) (*Controller, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if state == nil {
		return nil, fmt.Errorf("state is required")
	}

	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.PruneAfterStep <= 0 {
		cfg.PruneAfterStep = defaultPruneAfterStep
	}
	if cfg.PruneMinMessages <= 0 {
		cfg.PruneMinMessages = defaultPruneMinMessages
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = defaultKeepLast
	}

	exceptions := make(map[string]bool, len(cfg.MarkerExceptions))
	for _, name := range cfg.MarkerExceptions {
		exceptions[name] = true
	}

	return &Controller{
		registry:         cfg.Registry,
		resolver:         cfg.Resolver,
		state:            state,
		logger:           cfg.Logger.With().Str("component", "turn").Logger(),
		failureThreshold: cfg.FailureThreshold,
		pruneAfterStep:   cfg.PruneAfterStep,
		pruneMinMessages: cfg.PruneMinMessages,
		keepLast:         cfg.KeepLast,
		markerExceptions: exceptions,
	}, nil
}

// State returns the turn state the controller mutates
func (c *Controller) State() *State {
	return c.state
}

// BeforeStep is the single consultation point the governed loop calls
// before every model invocation. It folds the previous step's outcomes
// into turn state, then decides this step's visibility, history, system
// text, and tier.
func (c *Controller) BeforeStep(in StepInput) Overrides {
	if in.Index > 0 {
		c.detectFailures(in)
		c.scanDiscovery(in)
	}

	c.maybeEscalate()

	out := Overrides{
		Tools:  c.visibleTools(in.Index),
		Tier:   c.state.Tier,
		System: c.state.System(),
	}
	// A discovery turn has to start from the core set, so the first step
	// must actually invoke a tool
	if in.Index == 0 && c.state.Mode == ModeDiscovery {
		out.ToolChoice = "required"
	}
	if pruned, changed := c.maybePrune(in); changed {
		out.Messages = pruned
		// Recompose: pruning may have set the notice since System()
		// above
		out.System = c.state.System()
	}
	return out
}

// FailureCount reports how many failures the turn has accumulated
func (c *Controller) FailureCount() int {
	return len(c.state.Failures)
}
