package push

import (
	"context"

	"github.com/ferrychat/ferry/server/logs"
	t "github.com/ferrychat/ferry/server/store/types"
)

// ResolveContext supplies the collaborators consulted while resolving a
// notify type.
type ResolveContext struct {
	// Fetcher looks up the target of reaction- and edit-like messages.
	Fetcher MessageFetcher
}

// ResolveNotifyType decides whether the recipient should be notified, get
// an unread bump, or have a notification withdrawn for one message.
//
// The switch is exhaustive over the known message kinds; a kind this
// build does not know resolves to NotifyNone so message-type additions
// never crash the pipeline. Lookup failures while resolving a target
// message are treated the same way and logged.
func ResolveNotifyType(ctx context.Context, msg *t.Message, recipientID string, rc ResolveContext) NotifyType {
	// A user is never notified about their own activity.
	if msg.CreatorID == recipientID {
		return NotifyNone
	}

	switch msg.Kind {
	case t.KindText, t.KindCreateThread, t.KindAddMembers,
		t.KindCreateSubthread, t.KindCreateSidebar, t.KindChangeRole:
		return NotifyNotifAndSetUnread

	case t.KindChangeSettings:
		return NotifySetUnread

	case t.KindRemoveMembers, t.KindLeaveThread, t.KindJoinThread:
		return NotifyNone

	case t.KindReaction:
		target := fetchTarget(ctx, rc, msg)
		if target == nil || target.CreatorID != recipientID {
			return NotifyNone
		}
		if msg.ReactionOp == t.ReactionRemove {
			return NotifyRescind
		}
		return NotifyNotifAndSetUnread

	case t.KindEditMessage:
		target := fetchTarget(ctx, rc, msg)
		if target == nil || target.CreatorID != recipientID {
			return NotifyNone
		}
		return NotifyNotifAndSetUnread

	case t.KindCompoundReaction:
		target := fetchTarget(ctx, rc, msg)
		if target == nil || target.CreatorID != recipientID {
			return NotifyNone
		}
		for _, count := range msg.Reactions {
			if count > 0 {
				return NotifyNotifAndSetUnread
			}
		}
		return NotifyRescind
	}

	// Unknown future kind.
	return NotifyNone
}

func fetchTarget(ctx context.Context, rc ResolveContext, msg *t.Message) *t.Message {
	if rc.Fetcher == nil || msg.TargetMessageID == "" {
		return nil
	}
	target, err := rc.Fetcher.FetchMessageByID(ctx, msg.TargetMessageID)
	if err != nil {
		logs.Warning.Println("push: failed to fetch target message", msg.TargetMessageID, err)
		return nil
	}
	return target
}
