package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/odyssey-erp/odyssey-stock/jobs"
)

// JobsOptions defines the flags of the jobs command.
type JobsOptions struct {
	Action     string
	Job        string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// JobsCommand executes "jobs trigger" or "jobs stats" and returns the exit code.
func (c *JobsCLI) JobsCommand(ctx context.Context, opts JobsOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	switch opts.Action {
	case "trigger":
		if opts.Job == "" {
			_, _ = fmt.Fprintln(opts.Stderr, "jobs trigger: --job is required")
			return 1
		}
		info, err := c.Trigger(ctx, opts.Job)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		if opts.JSONOutput {
			return encode(opts, map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue})
		}
		_, _ = fmt.Fprintf(opts.Stdout, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
		return 0
	case "stats":
		out := make([]QueueStats, 0, 2)
		for _, queue := range []string{jobs.QueueDefault, jobs.QueueAudit} {
			stats, err := c.InspectQueue(ctx, queue)
			if err != nil {
				_, _ = fmt.Fprintf(opts.Stderr, "jobs stats: %v\n", err)
				return 1
			}
			out = append(out, stats)
		}
		if opts.JSONOutput {
			return encode(opts, out)
		}
		for _, s := range out {
			_, _ = fmt.Fprintf(opts.Stdout, "%-8s pending=%d active=%d scheduled=%d retry=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry)
		}
		return 0
	default:
		_, _ = fmt.Fprintf(opts.Stderr, "jobs: unknown action %q (want trigger or stats)\n", opts.Action)
		return 2
	}
}

func encode(opts JobsOptions, v any) int {
	if err := json.NewEncoder(opts.Stdout).Encode(v); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "jobs: encode json: %v\n", err)
		return 1
	}
	return 0
}
