// Package dialogue runs the registration form: first name, last name and
// e-mail, one turn each, then hands the answers to the allocator.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/airdrop-bot/internal/domain"
	"github.com/airdrop-bot/internal/pkg/validate"
)

// User-visible replies.
const (
	MsgWelcome        = "Welcome to Token Airdrop!\nPlease enter your first name:"
	MsgAskLastName    = "Now enter your last name:"
	MsgAskEmail       = "Finally, enter your email address:"
	MsgInvalidEmail   = "Invalid email format. Please try again:"
	MsgSuccess        = "✅ Registration complete!\nYour unique key: %s\nSave this key securely!"
	MsgAlreadyClaimed = "You've already claimed your key!"
	MsgPoolExhausted  = "All keys have been claimed! Please check back next month."
	MsgCancelled      = "Operation cancelled."
	MsgFailure        = "⚠️ An error occurred. Please try again later."
	MsgNothingToStop  = "Nothing to cancel. Send /start to register."
	MsgStartHint      = "Send /start to register for the airdrop."
)

type Kind int

const (
	KindText Kind = iota
	KindStart
	KindCancel
)

// Turn is one inbound message from a chat identity.
type Turn struct {
	Identity string
	Kind     Kind
	Text     string
}

type State int

const (
	StateIdle State = iota
	StateAwaitingFirstName
	StateAwaitingLastName
	StateAwaitingEmail
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFirstName:
		return "awaiting_first_name"
	case StateAwaitingLastName:
		return "awaiting_last_name"
	case StateAwaitingEmail:
		return "awaiting_email"
	case StateTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reply is the single outbound message for a turn and the state it left the
// identity in.
type Reply struct {
	Text  string
	State State
}

type allocator interface {
	HasClaimed(ctx context.Context, externalUserID string) (bool, error)
	Allocate(ctx context.Context, req domain.RegisterRequest) (*domain.Registrant, error)
}

type session struct {
	state     State
	firstName string
	lastName  string
}

// Controller owns every in-progress session. Turns from one identity are
// handled one at a time; different identities run concurrently.
type Controller struct {
	alloc allocator

	locks sync.Map // identity -> *sync.Mutex

	mu       sync.Mutex
	sessions map[string]*session
}

func NewController(alloc allocator) *Controller {
	return &Controller{alloc: alloc, sessions: make(map[string]*session)}
}

// Handle processes one turn and returns exactly one reply.
func (c *Controller) Handle(ctx context.Context, t Turn) Reply {
	unlock := c.lock(t.Identity)
	defer unlock()

	switch t.Kind {
	case KindStart:
		return c.start(ctx, t.Identity)
	case KindCancel:
		if _, ok := c.session(t.Identity); !ok {
			return Reply{Text: MsgNothingToStop, State: StateIdle}
		}
		c.drop(t.Identity)
		return Reply{Text: MsgCancelled, State: StateTerminal}
	default:
		return c.text(ctx, t.Identity, t.Text)
	}
}

// Active reports how many identities are part-way through the form.
func (c *Controller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *Controller) start(ctx context.Context, identity string) Reply {
	// A restart discards whatever the previous form collected.
	c.drop(identity)

	claimed, err := c.alloc.HasClaimed(ctx, identity)
	if err != nil {
		slog.Error("claim lookup failed", "identity", identity, "err", err)
		return Reply{Text: MsgFailure, State: StateTerminal}
	}
	if claimed {
		return Reply{Text: MsgAlreadyClaimed, State: StateTerminal}
	}

	c.mu.Lock()
	c.sessions[identity] = &session{state: StateAwaitingFirstName}
	c.mu.Unlock()
	return Reply{Text: MsgWelcome, State: StateAwaitingFirstName}
}

func (c *Controller) text(ctx context.Context, identity, text string) Reply {
	s, ok := c.session(identity)
	if !ok {
		return Reply{Text: MsgStartHint, State: StateIdle}
	}

	switch s.state {
	case StateAwaitingFirstName:
		s.firstName = text
		s.state = StateAwaitingLastName
		return Reply{Text: MsgAskLastName, State: s.state}
	case StateAwaitingLastName:
		s.lastName = text
		s.state = StateAwaitingEmail
		return Reply{Text: MsgAskEmail, State: s.state}
	case StateAwaitingEmail:
		if !validate.EmailShape(text) {
			return Reply{Text: MsgInvalidEmail, State: s.state}
		}
		c.drop(identity)
		return Reply{Text: c.allocate(ctx, identity, s, text), State: StateTerminal}
	default:
		c.drop(identity)
		return Reply{Text: MsgStartHint, State: StateIdle}
	}
}

func (c *Controller) allocate(ctx context.Context, identity string, s *session, email string) string {
	reg, err := c.alloc.Allocate(ctx, domain.RegisterRequest{
		ExternalUserID: identity,
		FirstName:      s.firstName,
		LastName:       s.lastName,
		Email:          email,
	})
	switch {
	case err == nil:
		return fmt.Sprintf(MsgSuccess, reg.AssignedKey)
	case errors.Is(err, domain.ErrPoolExhausted):
		return MsgPoolExhausted
	case errors.Is(err, domain.ErrAlreadyClaimed):
		return MsgAlreadyClaimed
	default:
		slog.Error("allocation failed", "identity", identity, "err", err)
		return MsgFailure
	}
}

func (c *Controller) lock(identity string) func() {
	v, _ := c.locks.LoadOrStore(identity, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (c *Controller) session(identity string) (*session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[identity]
	return s, ok
}

func (c *Controller) drop(identity string) {
	c.mu.Lock()
	delete(c.sessions, identity)
	c.mu.Unlock()
}
