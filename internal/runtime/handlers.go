package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"voxrelay/internal/ipc"
)

// Status is the control socket's answer to "status".
type Status struct {
	Ready     bool   `json:"ready"`
	Uptime    string `json:"uptime"`
	Queued    int64  `json:"queued"`
	InFlight  int64  `json:"in_flight"`
	Delivered int64  `json:"delivered"`
	Failed    int64  `json:"failed"`
}

// RecentRun is one journal line as shown by "recent".
type RecentRun struct {
	RunID        string    `json:"run_id"`
	Conversation string    `json:"conversation"`
	Outcome      string    `json:"outcome"`
	Stage        string    `json:"stage,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	At           time.Time `json:"at"`
}

func (r *Runtime) status() Status {
	st := Status{
		Ready:     r.Ready(),
		Uptime:    time.Since(r.started).Truncate(time.Second).String(),
		Delivered: r.delivered.Load(),
		Failed:    r.failed.Load(),
	}
	if r.dispatcher != nil {
		st.Queued = r.dispatcher.Queued()
		st.InFlight = r.dispatcher.InFlight()
	}
	return st
}

func (r *Runtime) handleControl(ctx context.Context, req ipc.Request) (any, error) {
	switch req.Cmd {
	case ipc.CmdPing:
		return "pong", nil
	case ipc.CmdStatus:
		return r.status(), nil
	case ipc.CmdRecent:
		if r.journal == nil {
			return []RecentRun{}, nil
		}
		entries, err := r.journal.Recent(ctx, req.Limit)
		if err != nil {
			return nil, err
		}
		out := make([]RecentRun, 0, len(entries))
		for _, e := range entries {
			out = append(out, RecentRun{
				RunID:        e.RunID,
				Conversation: e.ConversationID,
				Outcome:      e.Outcome,
				Stage:        e.Stage,
				ErrorKind:    e.ErrorKind,
				DurationMS:   e.Duration.Milliseconds(),
				At:           e.CreatedAt,
			})
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %q", ipc.ErrUnknownCommand, req.Cmd)
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
