// Package timelock queues owner actions behind a delay before they can be
// applied.
package timelock

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"securepay/core/events"
	"securepay/native/access"
)

var (
	ErrUnknownAction  = errors.New("timelock: unknown action")
	ErrInvalidPayload = errors.New("timelock: invalid payload")
	ErrNotFound       = errors.New("timelock: change not found")
	ErrNotQueued      = errors.New("timelock: change not queued")
	ErrNotReady       = errors.New("timelock: eta not reached")
	ErrGraceElapsed   = errors.New("timelock: grace period elapsed")

	errNilState = errors.New("timelock: state not configured")
)

var nextIDKey = []byte("timelock/next-id")

func changeKey(id uint64) []byte {
	return []byte(fmt.Sprintf("timelock/change/%020d", id))
}

type engineState interface {
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
}

type authorizer interface {
	Require(addr common.Address, roles ...access.Role) error
}

// Engine stores proposed changes and dispatches them to registered handlers.
type Engine struct {
	state    engineState
	auth     authorizer
	emitter  events.Emitter
	logger   *slog.Logger
	nowFn    func() int64
	policy   Policy
	handlers map[string]Handler
}

// NewEngine constructs a timelock with the default policy and no handlers.
func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		nowFn:    func() int64 { return time.Now().Unix() },
		policy:   DefaultPolicy(),
		handlers: make(map[string]Handler),
	}
}

func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetAuthorizer(a authorizer) { e.auth = a }

// SetEmitter configures the event emitter. Nil restores the no-op emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the clock. Nil restores wall-clock time.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	e.nowFn = now
}

func (e *Engine) SetPolicy(p Policy) { e.policy = p }

func (e *Engine) Policy() Policy { return e.policy }

// Register binds action to handler, replacing any previous binding.
func (e *Engine) Register(action string, handler Handler) {
	action = strings.TrimSpace(action)
	if action == "" || handler == nil {
		return
	}
	e.handlers[action] = handler
}

// Actions lists the registered action names in sorted order.
func (e *Engine) Actions() []string {
	names := make([]string, 0, len(e.handlers))
	for name := range e.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) emit(kind string, c Change) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(events.TimelockChange{Kind: kind, ID: c.ID, Action: c.Action, ETA: c.ETA})
}

func (e *Engine) require(caller common.Address, roles ...access.Role) error {
	if e.auth == nil {
		return nil
	}
	return e.auth.Require(caller, roles...)
}

// Propose queues action with payload. Owner only. The payload is validated by
// the action's handler up front so a change that can never apply is rejected
// immediately.
func (e *Engine) Propose(caller common.Address, action string, payload []byte) (Change, error) {
	if e == nil || e.state == nil {
		return Change{}, errNilState
	}
	if err := e.require(caller, access.RoleOwner); err != nil {
		return Change{}, err
	}
	action = strings.TrimSpace(action)
	handler, ok := e.handlers[action]
	if !ok {
		return Change{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if err := handler.Validate(payload); err != nil {
		return Change{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var next uint64
	if _, err := e.state.KVGet(nextIDKey, &next); err != nil {
		return Change{}, err
	}
	next++
	eta := e.nowFn() + int64(e.policy.DelaySeconds)
	stored := storedChange{
		ID:       next,
		Action:   action,
		Payload:  append([]byte(nil), payload...),
		Proposer: caller,
		ETA:      uint64(eta),
		Status:   uint8(StatusQueued),
	}
	if err := e.state.KVPut(changeKey(next), stored); err != nil {
		return Change{}, err
	}
	if err := e.state.KVPut(nextIDKey, next); err != nil {
		return Change{}, err
	}
	change := stored.toChange()
	e.logger.Info("timelock change queued",
		slog.Uint64("id", change.ID),
		slog.String("action", change.Action),
		slog.Int64("eta", change.ETA))
	e.emit(events.TypeTimelockQueued, change)
	return change, nil
}

// Get returns the change stored under id.
func (e *Engine) Get(id uint64) (Change, error) {
	if e == nil || e.state == nil {
		return Change{}, errNilState
	}
	var stored storedChange
	ok, err := e.state.KVGet(changeKey(id), &stored)
	if err != nil {
		return Change{}, err
	}
	if !ok {
		return Change{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return stored.toChange(), nil
}

func (e *Engine) setStatus(c Change, status Status) error {
	return e.state.KVPut(changeKey(c.ID), storedChange{
		ID:       c.ID,
		Action:   c.Action,
		Payload:  c.Payload,
		Proposer: c.Proposer,
		ETA:      uint64(c.ETA),
		Status:   uint8(status),
	})
}

// Execute applies a queued change once its ETA has passed and before its grace
// window closes. Owner or keeper. A change executes at most once.
func (e *Engine) Execute(caller common.Address, id uint64) (Change, error) {
	if e == nil || e.state == nil {
		return Change{}, errNilState
	}
	if err := e.require(caller, access.RoleOwner, access.RoleKeeper); err != nil {
		return Change{}, err
	}
	change, err := e.Get(id)
	if err != nil {
		return Change{}, err
	}
	if change.Status != StatusQueued {
		return Change{}, fmt.Errorf("%w: %d is %s", ErrNotQueued, id, change.Status)
	}
	now := e.nowFn()
	if now < change.ETA {
		return Change{}, fmt.Errorf("%w: %d < %d", ErrNotReady, now, change.ETA)
	}
	if now > change.ETA+int64(e.policy.GraceSeconds) {
		return Change{}, ErrGraceElapsed
	}
	handler, ok := e.handlers[change.Action]
	if !ok {
		return Change{}, fmt.Errorf("%w: %q", ErrUnknownAction, change.Action)
	}
	if err := handler.Apply(change.Payload); err != nil {
		return Change{}, fmt.Errorf("timelock: apply %s: %w", change.Action, err)
	}
	if err := e.setStatus(change, StatusExecuted); err != nil {
		return Change{}, err
	}
	change.Status = StatusExecuted
	e.logger.Info("timelock change executed", slog.Uint64("id", change.ID), slog.String("action", change.Action))
	e.emit(events.TypeTimelockExecuted, change)
	return change, nil
}

// Cancel withdraws a queued change. Owner only.
func (e *Engine) Cancel(caller common.Address, id uint64) (Change, error) {
	if e == nil || e.state == nil {
		return Change{}, errNilState
	}
	if err := e.require(caller, access.RoleOwner); err != nil {
		return Change{}, err
	}
	change, err := e.Get(id)
	if err != nil {
		return Change{}, err
	}
	if change.Status != StatusQueued {
		return Change{}, fmt.Errorf("%w: %d is %s", ErrNotQueued, id, change.Status)
	}
	if err := e.setStatus(change, StatusCancelled); err != nil {
		return Change{}, err
	}
	change.Status = StatusCancelled
	e.emit(events.TypeTimelockCancelled, change)
	return change, nil
}
