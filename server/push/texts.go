package push

import (
	"strconv"

	t "github.com/ferrychat/ferry/server/store/types"
)

// UserNameResolver maps a user ID to a display name. May return "" when
// the name is unknown.
type UserNameResolver func(userID string) string

// NotifTextsForMessages renders the already-localized notification text
// for a group of messages in one thread. Returns false when the messages
// produce no displayable text (the recipient then gets no visual
// notification for them).
//
// Rendering here is deliberately minimal; full localization is the
// client's concern and out of scope for the pipeline.
func NotifTextsForMessages(msgs []*t.Message, thread *t.Thread, names UserNameResolver) (ResolvedNotifTexts, bool) {
	if len(msgs) == 0 {
		return ResolvedNotifTexts{}, false
	}
	if names == nil {
		names = func(string) string { return "" }
	}

	title := thread.Name
	if title == "" {
		title = "New messages"
	}

	first := msgs[0]
	sender := names(first.CreatorID)
	if sender == "" {
		sender = "Someone"
	}

	var body string
	switch first.Kind {
	case t.KindText:
		body = first.Text
	case t.KindCreateThread:
		body = sender + " created the chat"
	case t.KindAddMembers:
		body = sender + " added members"
	case t.KindCreateSubthread, t.KindCreateSidebar:
		body = sender + " started a thread"
	case t.KindChangeRole:
		body = sender + " changed member roles"
	case t.KindReaction:
		body = sender + " reacted " + first.Reaction + " to your message"
	case t.KindEditMessage:
		body = sender + " edited a message"
	case t.KindCompoundReaction:
		body = sender + " reacted to your message"
	default:
		return ResolvedNotifTexts{}, false
	}

	if extra := len(msgs) - 1; extra > 0 {
		body += " and " + strconv.Itoa(extra) + " more"
	}

	prefix := ""
	if first.Kind == t.KindText && len(thread.Members) > 2 {
		// Group chats prefix the sender so the merged line reads
		// "sender: text".
		prefix = sender + ":"
	}

	merged := body
	if prefix != "" {
		merged = prefix + " " + body
	} else if thread.Name != "" {
		merged = title + ": " + body
	}

	return ResolvedNotifTexts{
		Merged: merged,
		Body:   body,
		Title:  title,
		Prefix: prefix,
	}, true
}

// CollapseKeyForMessages picks the collapse identifier for one visual
// notification: the messages' own collapse key when they agree on one,
// the thread collapse token when several messages merge, nothing for a
// single non-collapsible message.
func CollapseKeyForMessages(msgs []*t.Message, threadID string) string {
	collapse := ""
	for _, msg := range msgs {
		key := msg.NotificationCollapseKey()
		if key == "" || (collapse != "" && key != collapse) {
			collapse = ""
			break
		}
		collapse = key
	}
	if collapse != "" {
		return collapse
	}
	if len(msgs) > 1 {
		return t.ThreadCollapseKey(threadID)
	}
	return ""
}
