package moderation

import (
	"context"
	"fmt"
	"strings"

	"chat-sync/contract"
	"chat-sync/domain/chat"
	"chat-sync/errors"
)

type Action int

const (
	ActionAppend Action = iota
	ActionEdit
	ActionDelete
	ActionManageRoom
)

func (a Action) String() string {
	switch a {
	case ActionAppend:
		return "append"
	case ActionEdit:
		return "edit"
	case ActionDelete:
		return "delete"
	case ActionManageRoom:
		return "manage_room"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

type Decision int

const (
	Allowed Decision = iota
	DeniedLocked
	DeniedNotOwner
	DeniedUnauthorized
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case DeniedLocked:
		return "denied_locked"
	case DeniedNotOwner:
		return "denied_not_owner"
	case DeniedUnauthorized:
		return "denied_unauthorized"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Err converts a denial into the error returned to callers; Allowed yields nil.
func (d Decision) Err() error {
	switch d {
	case Allowed:
		return nil
	case DeniedLocked:
		return errors.ErrLocked
	default:
		return errors.ErrUnauthorized
	}
}

// Gate is the authorization layer in front of every mutating store and registry call.
// It holds no state besides the identity collaborator.
type Gate struct {
	identity contract.IdentityProvider
}

func NewGate(identity contract.IdentityProvider) *Gate {
	return &Gate{identity: identity}
}

// ResolveActor asks the identity collaborator who is behind the token.
func (g *Gate) ResolveActor(ctx context.Context, token string) (chat.Actor, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return chat.Actor{}, errors.ErrInvalidToken
	}
	return g.identity.ResolveActor(ctx, token)
}

// Authorize decides whether actor may perform action on room. message is the
// target of edits and deletes and is ignored otherwise.
// Moderators bypass locks and ownership.
func (g *Gate) Authorize(actor chat.Actor, action Action, room chat.Room, message *chat.Message) Decision {
	if actor.IsModerator {
		return Allowed
	}
	switch action {
	case ActionManageRoom:
		return DeniedUnauthorized
	case ActionEdit, ActionDelete:
		if message == nil || message.SenderID != actor.UserID {
			return DeniedNotOwner
		}
	case ActionAppend:
	default:
		return DeniedUnauthorized
	}
	if room.Locked {
		return DeniedLocked
	}
	return Allowed
}
