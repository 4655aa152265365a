package service

import (
	"fmt"

	"pawmart/internal/domain/entity"
	"pawmart/pkg/errors"
)

// StatusEvent is a delivery lifecycle event applied to a message status.
type StatusEvent string

const (
	EventServerAck  StatusEvent = "server_ack"
	EventDelivered  StatusEvent = "delivered"
	EventRead       StatusEvent = "read"
	EventSendFailed StatusEvent = "send_failed"
)

// statusRank orders the forward chain. FAILED is a terminal side path and
// has no rank.
var statusRank = map[entity.Status]int{
	entity.StatusPending:   0,
	entity.StatusSent:      1,
	entity.StatusDelivered: 2,
	entity.StatusRead:      3,
}

// Transition computes the next status for the given lifecycle event. Moving
// backwards is rejected so that stale or out-of-order events never regress a
// visible status. The machine knows nothing about transport or storage; both
// the sender and receiver sides use it unchanged.
func Transition(current entity.Status, event StatusEvent) (entity.Status, error) {
	switch event {
	case EventServerAck:
		if current == entity.StatusPending {
			return entity.StatusSent, nil
		}
	case EventDelivered:
		if current == entity.StatusSent {
			return entity.StatusDelivered, nil
		}
	case EventRead:
		// READ may short-circuit DELIVERED: the recipient can open the
		// conversation before a delivery event arrives.
		if current == entity.StatusSent || current == entity.StatusDelivered {
			return entity.StatusRead, nil
		}
	case EventSendFailed:
		if current == entity.StatusPending || current == entity.StatusSent {
			return entity.StatusFailed, nil
		}
	}
	return current, errors.InvalidTransition(
		fmt.Sprintf("cannot apply %s to status %s", event, current))
}

// ApplyRemote maps a wire status onto the local machine. The wire only ever
// carries sent/delivered/read.
func ApplyRemote(current entity.Status, target entity.Status) (entity.Status, error) {
	switch target {
	case entity.StatusSent:
		return Transition(current, EventServerAck)
	case entity.StatusDelivered:
		return Transition(current, EventDelivered)
	case entity.StatusRead:
		return Transition(current, EventRead)
	}
	return current, errors.InvalidTransition(
		fmt.Sprintf("unknown wire status %q", target))
}

// Reached reports whether current already covers target on the forward
// chain. Used to decide whether a remote status event is stale.
func Reached(current entity.Status, target entity.Status) bool {
	cr, ok1 := statusRank[current]
	tr, ok2 := statusRank[target]
	return ok1 && ok2 && cr >= tr
}
