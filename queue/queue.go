// Package queue implements the deferred command queue the client drains
// once it is back online (§4.4, §9 "Open Question: queue conflict
// resolution order"). Commands accumulate while offline; draining replays
// them in a fixed order so later commands can depend on the effects of
// earlier ones (e.g. uploadSubscriptions before downloadSubscriptions).
package queue

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/typeworld/client/model"
	"github.com/typeworld/client/preferences"
)

const storeKey = "pendingOnlineCommands"

// Order is the fixed drain order. This is the resolution the Open Question
// in §9 settles on: it mirrors the sequence the original implementation
// hard-codes, since uploading local state before downloading server state
// is the only order that doesn't clobber a just-uploaded change.
var Order = []string{
	"unlinkUser",
	"linkUser",
	"syncSubscriptions",
	"uploadSubscriptions",
	"acceptInvitation",
	"declineInvitation",
	"downloadSubscriptions",
	"downloadSettings",
}

// Handler performs the side effect for one queued command, given its
// accumulated payloads (in append order). It returns an ErrorMessage zero
// value on success.
type Handler func(payloads []string) model.ErrorMessage

// Queue is a preferences-backed, named multi-set of pending commands. Each
// command name maps to a deduplicated, order-preserving list of payload
// strings; draining a name clears it only on success.
type Queue struct {
	store preferences.Store
}

// New returns a Queue backed by store.
func New(store preferences.Store) *Queue {
	return &Queue{store: store}
}

func (q *Queue) load() (map[string][]string, error) {
	commands := make(map[string][]string)
	ok, err := preferences.GetValue(q.store, storeKey, &commands)
	if err != nil {
		return nil, fmt.Errorf("queue: loading %s: %w", storeKey, err)
	}
	if !ok {
		return make(map[string][]string), nil
	}
	return commands, nil
}

func (q *Queue) save(commands map[string][]string) error {
	if err := preferences.SetValue(q.store, storeKey, commands); err != nil {
		return fmt.Errorf("queue: saving %s: %w", storeKey, err)
	}
	return nil
}

// Append adds each payload to commandName's list, skipping any payload
// already present (idempotent replay under repeated offline attempts). An
// empty payloads list only ensures the command name exists with an empty
// list; Drain never runs a command whose list is empty, so a "touch" that
// is to fire needs at least one payload.
func (q *Queue) Append(commandName string, payloads ...string) error {
	commands, err := q.load()
	if err != nil {
		return err
	}

	existing := commands[commandName]
	for _, p := range payloads {
		if !slices.Contains(existing, p) {
			existing = append(existing, p)
		}
	}
	commands[commandName] = existing

	return q.save(commands)
}

// Pending reports the payload list currently queued for commandName.
func (q *Queue) Pending(commandName string) ([]string, error) {
	commands, err := q.load()
	if err != nil {
		return nil, err
	}
	return commands[commandName], nil
}

// Drain runs each command in Order whose list is non-empty through its
// matching handler, in order. On success the command's list is cleared and
// persisted before the next command runs, so a later command can rely on
// an earlier one's effects having landed (e.g. downloadSubscriptions
// observing what uploadSubscriptions just wrote). A command with no
// registered handler is skipped, not treated as a failure.
//
// Drain returns the first failing ErrorMessage (zero value if none failed)
// and the full list of failures encountered this pass.
func (q *Queue) Drain(handlers map[string]Handler) (model.ErrorMessage, []model.ErrorMessage) {
	commands, err := q.load()
	if err != nil {
		return model.PlainError("%s", err), []model.ErrorMessage{model.PlainError("%s", err)}
	}

	var problems []model.ErrorMessage

	for _, name := range Order {
		payloads := commands[name]
		if len(payloads) == 0 {
			continue
		}
		handler, ok := handlers[name]
		if !ok {
			continue
		}

		if msg := handler(payloads); msg.IsZero() {
			commands[name] = nil
			if err := q.save(commands); err != nil {
				problems = append(problems, model.PlainError("%s", err))
				continue
			}
		} else {
			problems = append(problems, msg)
		}
	}

	if len(problems) > 0 {
		return problems[0], problems
	}
	return model.ErrorMessage{}, nil
}
