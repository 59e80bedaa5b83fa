package web

import (
	"fmt"

	"github.com/rohanthewiz/element"
	"github.com/rohanthewiz/rweb"

	"steprun/session"
)

// rootHandler serves the status UI
func (a *App) rootHandler(c rweb.Context) error {
	var snap *session.Snapshot
	if store, _, err := a.current(); err == nil {
		s := store.Snapshot()
		snap = &s
	}
	return c.WriteHTML(generateStatusUI(snap))
}

func generateStatusUI(snap *session.Snapshot) string {
	b := element.NewBuilder()

	b.Html().R(
		b.Head().R(
			b.Title().T("Steprun - Web Test Orchestrator"),
			b.Meta("charset", "UTF-8"),
			b.Meta("name", "viewport", "content", "width=device-width, initial-scale=1.0"),
			b.Style().T(statusCSS),
			b.Script().T(refreshJS),
		),
		b.Body().R(
			b.Div("id", "app").R(
				b.Header().R(
					b.Div("class", "header-content").R(
						b.H1().T("Steprun"),
						b.Span("id", "connection-status", "class", "connection-status").T("live"),
					),
				),
				b.Main().R(
					func() any {
						if snap == nil {
							b.Div("class", "empty-state").R(
								b.H2().T("No active session"),
								b.P().T("Create a session with POST /api/session to begin."),
							)
							return nil
						}
						renderSession(b, snap)
						return nil
					}(),
				),
			),
		),
	)

	return b.String()
}

func renderSession(b *element.Builder, snap *session.Snapshot) {
	sess := snap.Session

	b.Section("class", "session-card").R(
		b.H2().T(titleOf(sess)),
		b.Div("class", "session-meta").R(
			b.Span("class", "badge status-"+string(sess.Status)).T(string(sess.Status)),
			b.Span("class", "badge").T("task: "+string(snap.ActiveTask)),
			func() any {
				if snap.Diverged {
					b.Span("class", "badge warn").T("diverged")
				}
				return nil
			}(),
		),
		b.P("class", "prompt").T(sess.Prompt),
	)

	if snap.Browser != nil {
		b.Section("class", "browser-card").R(
			b.H3().T("Browser Session"),
			b.P().T("id: "+snap.Browser.ID),
			func() any {
				if snap.Browser.LiveViewURL != "" {
					b.P("class", "live-view").T(snap.Browser.LiveViewURL)
				}
				return nil
			}(),
		)
	}

	if snap.ReplayFailure != nil {
		rf := snap.ReplayFailure
		b.Section("class", "failure-card").R(
			b.H3().T("Replay Failure"),
			b.P().T(fmt.Sprintf("Failed at step %d of %d: %s",
				rf.FailedAtStep, rf.TotalSteps, rf.ErrorMessage)),
		)
	}

	if sess.Plan != nil && len(sess.Plan.Steps) > 0 {
		b.Section("class", "plan-card").R(
			b.H3().T("Plan"),
			b.Div("class", "plan-steps").R(
				func() any {
					for _, ps := range sess.Plan.Steps {
						b.Div("class", "plan-step").R(
							b.Span("class", "step-num").T(fmt.Sprintf("%d.", ps.StepNumber)),
							b.Span().T(ps.Description),
						)
					}
					return nil
				}(),
			),
		)
	}

	skipped := make(map[int]bool)
	for _, n := range snap.SkippedSteps {
		skipped[n] = true
	}

	if len(snap.Steps) > 0 {
		b.Section("class", "steps-card").R(
			b.H3().T("Steps"),
			b.Div("class", "step-list").R(
				func() any {
					for _, step := range snap.Steps {
						cls := "step-row"
						if step.StepNumber == snap.SelectedStep {
							cls += " selected"
						}
						status := string(step.Status)
						if skipped[step.StepNumber] {
							status = "skipped"
						}
						b.Div("class", cls).R(
							b.Span("class", "step-num").T(fmt.Sprintf("%d", step.StepNumber)),
							b.Span("class", "step-desc").T(step.Description),
							b.Span("class", "badge status-"+status).T(status),
							b.Span("class", "step-url").T(step.URL),
						)
					}
					return nil
				}(),
			),
		)
	}
}

func titleOf(sess session.Session) string {
	if sess.Title != "" {
		return sess.Title
	}
	return "Session " + sess.ID
}

const refreshJS = `
const source = new EventSource('/events');
source.onmessage = () => { window.location.reload(); };
source.onerror = () => {
	const el = document.getElementById('connection-status');
	if (el) { el.textContent = 'disconnected'; el.classList.add('down'); }
};
`

const statusCSS = `
:root { --bg: #1a1b26; --fg: #c0caf5; --card: #24283b; --border: #414868; --accent: #7aa2f7; --warn: #e0af68; --fail: #f7768e; --ok: #9ece6a; }
* { box-sizing: border-box; margin: 0; padding: 0; }
body { background: var(--bg); color: var(--fg); font-family: ui-monospace, monospace; }
header { padding: 1rem 2rem; border-bottom: 1px solid var(--border); }
.header-content { display: flex; justify-content: space-between; align-items: center; }
h1 { color: var(--accent); font-size: 1.4rem; }
main { padding: 2rem; display: flex; flex-direction: column; gap: 1rem; max-width: 960px; margin: 0 auto; }
section { background: var(--card); border: 1px solid var(--border); border-radius: 6px; padding: 1rem 1.5rem; }
section h3 { margin-bottom: 0.5rem; color: var(--accent); }
.session-meta { display: flex; gap: 0.5rem; margin: 0.5rem 0; }
.badge { border: 1px solid var(--border); border-radius: 4px; padding: 0.1rem 0.5rem; font-size: 0.8rem; }
.badge.warn, .status-failed, .status-stopped { color: var(--fail); }
.status-completed, .status-passed { color: var(--ok); }
.status-running, .status-rerunning { color: var(--warn); }
.failure-card { border-color: var(--fail); }
.prompt { opacity: 0.8; font-size: 0.9rem; }
.plan-step, .step-row { display: flex; gap: 0.6rem; padding: 0.3rem 0; border-bottom: 1px solid var(--border); font-size: 0.9rem; }
.step-num { opacity: 0.6; min-width: 2rem; }
.step-desc { flex: 1; }
.step-url { opacity: 0.5; font-size: 0.8rem; }
.step-row.selected { background: rgba(122, 162, 247, 0.15); }
.empty-state { text-align: center; padding: 4rem 0; opacity: 0.7; }
.connection-status.down { color: var(--fail); }
.live-view { color: var(--accent); word-break: break-all; }
`
