package turn

import (
	"github.com/harun/kirana/internal/observability"
)

// maybeEscalate raises the turn's tier once the failure threshold is
// crossed. Escalation is one-way and fires at most once per turn; the
// escalated attempt additionally sees a diagnostic block of the recent
// failures so it does not repeat them blindly.
func (c *Controller) maybeEscalate() {
	if c.state.Escalated {
		return
	}
	if len(c.state.Failures) < c.failureThreshold {
		return
	}

	highest := c.resolver.Highest()
	if !c.state.Tier.Below(highest) {
		// Already at the top of the configured ladder; nothing to
		// escalate to
		return
	}

	from := c.state.Tier
	c.state.Tier = highest
	c.state.Escalated = true
	c.state.diagBlock = c.state.recentFailureBlock(diagFailureLimit)

	observability.RecordEscalation()
	c.logger.Warn().
		Str("from", string(from)).
		Str("to", string(highest)).
		Int("failures", len(c.state.Failures)).
		Msg("Escalating model tier after repeated tool failures")
}
