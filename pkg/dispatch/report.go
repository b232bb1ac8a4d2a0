package dispatch

import (
	"fmt"
	"strings"
	"time"
)

// BuildReport folds a batch's outcomes into one aggregated text report in
// task order: a summary header, then one section per task.
func BuildReport(outcomes []Outcome, elapsed time.Duration) string {
	succeeded := 0
	for _, o := range outcomes {
		if o.Success {
			succeeded++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d tasks: %d succeeded, %d failed (%s)\n",
		len(outcomes), succeeded, len(outcomes)-succeeded, elapsed.Round(time.Millisecond))

	for _, o := range outcomes {
		b.WriteString("\n")
		if o.Success {
			fmt.Fprintf(&b, "## %s - ok (%d steps, %s)\n", o.TaskID, o.Steps, o.Elapsed.Round(time.Millisecond))
			if o.Output != "" {
				b.WriteString(o.Output)
				b.WriteString("\n")
			} else {
				b.WriteString("(no output)\n")
			}
		} else {
			fmt.Fprintf(&b, "## %s - failed (%d steps, %s)\n", o.TaskID, o.Steps, o.Elapsed.Round(time.Millisecond))
			fmt.Fprintf(&b, "Error: %s\n", o.Err)
			if o.Output != "" {
				b.WriteString("Partial output before failure:\n")
				b.WriteString(o.Output)
				b.WriteString("\n")
			}
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
