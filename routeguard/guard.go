package routeguard

import (
	"sync"

	"github.com/upb/jobportal/apiclient"
	"github.com/upb/jobportal/models"
	"go.uber.org/zap"
)

// State is the render state of the guard
type State string

const (
	// StateLoading is the state before the first navigation
	StateLoading     State = "loading"
	StateChecking    State = "checking"
	StateAllowed     State = "allowed"
	StateRedirecting State = "redirecting"
)

// Decision is the outcome of evaluating one route against one session state
type Decision struct {
	Path   string `json:"path"`
	Class  Class  `json:"class"`
	State  State  `json:"state"`
	Target string `json:"target,omitempty"`
}

// CanRender reports whether the route's content may be shown. Checking and
// redirecting both render only a neutral loader.
func (d Decision) CanRender() bool {
	return d.State == StateAllowed
}

// Evaluate is the guard's transition function
func Evaluate(route string, session apiclient.SessionState) Decision {
	return evaluate(defaultClassifier, route, session)
}

func evaluate(c *Classifier, route string, session apiclient.SessionState) Decision {
	d := Decision{Path: route, Class: c.Classify(route)}

	switch d.Class {
	case ClassInvalid:
		return d.redirect(NotFoundPath)
	case ClassPublic:
		d.State = StateAllowed
		return d
	}

	switch session.Status {
	case apiclient.StatusAuthenticated:
	case apiclient.StatusUnauthenticated:
		return d.redirect(LoginPath)
	default:
		d.State = StateChecking
		return d
	}

	role := models.Role("")
	if session.Principal != nil {
		role = session.Principal.Role
	}

	switch {
	case d.Class == ClassAdminOnly && role != models.RoleAdmin:
		return d.redirect(UserHome)
	case d.Class == ClassUserOnly && role != models.RoleUser:
		if role == models.RoleAdmin {
			return d.redirect(AdminHome)
		}
		return d.redirect(LoginPath)
	}

	d.State = StateAllowed
	return d
}

func (d Decision) redirect(target string) Decision {
	d.State = StateRedirecting
	d.Target = target
	return d
}

// Navigator performs a redirect. It may call Guard.Navigate.
type Navigator func(target string)

// Guard tracks the current route and session and redirects when they
// disagree. Each navigation gets a ticket; only the latest navigation is ever
// re-evaluated or redirected, so a slow session change cannot act on a route
// the user has already left.
type Guard struct {
	classifier *Classifier
	navigate   Navigator
	logger     *zap.Logger

	mu        sync.Mutex
	ticket    uint64
	session   apiclient.SessionState
	decision  Decision
	delivered Decision
	sentFor   uint64
}

// NewGuard creates a guard over DefaultTables
func NewGuard(navigate Navigator, logger *zap.Logger) *Guard {
	return NewGuardWithClassifier(defaultClassifier, navigate, logger)
}

// NewGuardWithClassifier creates a guard over custom route tables
func NewGuardWithClassifier(c *Classifier, navigate Navigator, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if navigate == nil {
		navigate = func(string) {}
	}
	return &Guard{
		classifier: c,
		navigate:   navigate,
		logger:     logger,
		session:    apiclient.SessionState{Status: apiclient.StatusLoading},
		decision:   Decision{State: StateLoading},
	}
}

// Decision returns the decision for the current route
func (g *Guard) Decision() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.decision
}

// Navigate moves the guard to a new route and returns its decision
func (g *Guard) Navigate(route string) Decision {
	g.mu.Lock()
	g.ticket++
	ticket := g.ticket
	d := evaluate(g.classifier, route, g.session)
	g.decision = d
	g.mu.Unlock()

	g.logger.Debug("navigation evaluated",
		zap.String("path", route),
		zap.String("class", string(d.Class)),
		zap.String("state", string(d.State)),
		zap.Uint64("ticket", ticket))

	g.deliver(ticket, d)
	return d
}

// Observe applies a session change to the current route. States older than
// the last one observed are ignored.
func (g *Guard) Observe(state apiclient.SessionState) Decision {
	g.mu.Lock()
	if state.Version < g.session.Version {
		d := g.decision
		g.mu.Unlock()
		return d
	}
	g.session = state
	if g.ticket == 0 {
		d := g.decision
		g.mu.Unlock()
		return d
	}
	ticket := g.ticket
	d := evaluate(g.classifier, g.decision.Path, state)
	g.decision = d
	g.mu.Unlock()

	g.deliver(ticket, d)
	return d
}

// Attach keeps the guard in sync with a session until the returned function
// is called
func (g *Guard) Attach(s *apiclient.Session) (detach func()) {
	unsubscribe := s.Subscribe(func(state apiclient.SessionState) {
		g.Observe(state)
	})
	g.Observe(s.Snapshot())
	return unsubscribe
}

// deliver hands a redirect to the navigator once per navigation and target,
// and only while that navigation is still the latest one
func (g *Guard) deliver(ticket uint64, d Decision) {
	if d.State != StateRedirecting {
		return
	}

	g.mu.Lock()
	if ticket != g.ticket || (g.sentFor == ticket && g.delivered.Target == d.Target) {
		g.mu.Unlock()
		return
	}
	g.sentFor = ticket
	g.delivered = d
	g.mu.Unlock()

	g.logger.Info("redirecting",
		zap.String("from", d.Path),
		zap.String("to", d.Target),
		zap.String("class", string(d.Class)))
	g.navigate(d.Target)
}
