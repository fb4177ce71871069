package push

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/ferrychat/ferry/server/logs"
	t "github.com/ferrychat/ferry/server/store/types"
)

func TestMain(m *testing.M) {
	logs.Init()
	os.Exit(m.Run())
}

type mapFetcher map[string]*t.Message

func (mf mapFetcher) FetchMessageByID(_ context.Context, id string) (*t.Message, error) {
	return mf[id], nil
}

type failingFetcher struct{}

func (failingFetcher) FetchMessageByID(context.Context, string) (*t.Message, error) {
	return nil, errors.New("backend unavailable")
}

func TestResolveNotifyType(tt *testing.T) {
	targets := mapFetcher{
		"mine":   {ID: "mine", CreatorID: "me"},
		"theirs": {ID: "theirs", CreatorID: "bob"},
	}
	rc := ResolveContext{Fetcher: targets}

	cases := []struct {
		name string
		msg  *t.Message
		want NotifyType
	}{
		{"own message", &t.Message{Kind: t.KindText, CreatorID: "me"}, NotifyNone},
		{"text", &t.Message{Kind: t.KindText, CreatorID: "alice"}, NotifyNotifAndSetUnread},
		{"thread created", &t.Message{Kind: t.KindCreateThread, CreatorID: "alice"}, NotifyNotifAndSetUnread},
		{"members added", &t.Message{Kind: t.KindAddMembers, CreatorID: "alice"}, NotifyNotifAndSetUnread},
		{"settings changed", &t.Message{Kind: t.KindChangeSettings, CreatorID: "alice"}, NotifySetUnread},
		{"members removed", &t.Message{Kind: t.KindRemoveMembers, CreatorID: "alice"}, NotifyNone},
		{"member left", &t.Message{Kind: t.KindLeaveThread, CreatorID: "alice"}, NotifyNone},
		{"member joined", &t.Message{Kind: t.KindJoinThread, CreatorID: "alice"}, NotifyNone},
		{
			"reaction to my message",
			&t.Message{Kind: t.KindReaction, CreatorID: "alice", TargetMessageID: "mine", ReactionOp: t.ReactionAdd},
			NotifyNotifAndSetUnread,
		},
		{
			"reaction removed from my message",
			&t.Message{Kind: t.KindReaction, CreatorID: "alice", TargetMessageID: "mine", ReactionOp: t.ReactionRemove},
			NotifyRescind,
		},
		{
			"reaction to someone else's message",
			&t.Message{Kind: t.KindReaction, CreatorID: "alice", TargetMessageID: "theirs", ReactionOp: t.ReactionAdd},
			NotifyNone,
		},
		{
			"reaction to unknown target",
			&t.Message{Kind: t.KindReaction, CreatorID: "alice", TargetMessageID: "gone", ReactionOp: t.ReactionAdd},
			NotifyNone,
		},
		{
			"edit of my message",
			&t.Message{Kind: t.KindEditMessage, CreatorID: "alice", TargetMessageID: "mine"},
			NotifyNotifAndSetUnread,
		},
		{
			"edit of someone else's message",
			&t.Message{Kind: t.KindEditMessage, CreatorID: "alice", TargetMessageID: "theirs"},
			NotifyNone,
		},
		{
			"compound reaction with survivors",
			&t.Message{Kind: t.KindCompoundReaction, CreatorID: "alice", TargetMessageID: "mine",
				Reactions: map[string]int{"👍": 2, "❤️": 0}},
			NotifyNotifAndSetUnread,
		},
		{
			"compound reaction emptied",
			&t.Message{Kind: t.KindCompoundReaction, CreatorID: "alice", TargetMessageID: "mine",
				Reactions: map[string]int{"👍": 0}},
			NotifyRescind,
		},
		{"unknown kind", &t.Message{Kind: t.KindUnknown, CreatorID: "alice"}, NotifyNone},
	}
	for _, tc := range cases {
		if got := ResolveNotifyType(context.Background(), tc.msg, "me", rc); got != tc.want {
			tt.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestResolveFetcherFailureIsNonFatal(tt *testing.T) {
	rc := ResolveContext{Fetcher: failingFetcher{}}
	msg := &t.Message{Kind: t.KindReaction, CreatorID: "alice", TargetMessageID: "m1", ReactionOp: t.ReactionAdd}
	if got := ResolveNotifyType(context.Background(), msg, "me", rc); got != NotifyNone {
		tt.Errorf("lookup failure: got %v, want NotifyNone", got)
	}
}
