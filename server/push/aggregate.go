package push

import (
	"context"

	"golang.org/x/sync/errgroup"

	t "github.com/ferrychat/ferry/server/store/types"
)

// AggregateResult fans a batch of messages out to affected recipients,
// split by outcome. A recipient with zero qualifying messages for an
// outcome is absent from that map entirely; downstream stages rely on
// non-empty Messages.
type AggregateResult struct {
	// Notify: recipients owed a visual notification.
	Notify map[string]*PushUserInfo
	// Rescind: recipients whose earlier notification must be withdrawn.
	Rescind map[string]*PushUserInfo
	// SetUnread: recipients owed an unread-count bump only.
	SetUnread map[string]*PushUserInfo
}

type userThreadInfo struct {
	devices   []t.DeviceDef
	threadIDs []string
}

// Aggregate resolves every (message, recipient) pair in the batch and
// groups the survivors by recipient with all their registered devices
// attached. Message authors are excluded from their own messages;
// membership must be active and hold the visibility permission.
//
// A message referencing a thread missing from the snapshot is a caller
// contract violation.
func Aggregate(ctx context.Context, messages []*t.Message, threads t.ThreadSnapshot,
	registry t.DeviceRegistry, rc ResolveContext) (*AggregateResult, error) {

	result := &AggregateResult{
		Notify:    make(map[string]*PushUserInfo),
		Rescind:   make(map[string]*PushUserInfo),
		SetUnread: make(map[string]*PushUserInfo),
	}
	if len(messages) == 0 {
		return result, nil
	}

	threadsToMessages := make(map[string][]int)
	for i, msg := range messages {
		threadsToMessages[msg.ThreadID] = append(threadsToMessages[msg.ThreadID], i)
	}

	userThreads := make(map[string]*userThreadInfo)
	for threadID := range threadsToMessages {
		thread := threads[threadID]
		if thread == nil {
			panic("push: no thread snapshot for " + threadID)
		}
		for _, member := range thread.Members {
			if !member.Active || !member.Visible {
				continue
			}
			if uti := userThreads[member.UserID]; uti != nil {
				uti.threadIDs = append(uti.threadIDs, threadID)
				continue
			}
			devices := registry[member.UserID]
			if len(devices) == 0 {
				continue
			}
			userThreads[member.UserID] = &userThreadInfo{
				devices:   devices,
				threadIDs: []string{threadID},
			}
		}
	}

	// One run per (recipient, outcome); the runs for a recipient share
	// nothing but the read-only batch, so all of them proceed in
	// parallel.
	type runResult struct {
		userID  string
		outcome NotifyType
		uti     *userThreadInfo
		info    *PushUserInfo
	}
	results := make([]runResult, 0, 3*len(userThreads))
	for userID, uti := range userThreads {
		for _, outcome := range []NotifyType{NotifyNotifAndSetUnread, NotifyRescind, NotifySetUnread} {
			results = append(results, runResult{userID: userID, outcome: outcome, uti: uti})
		}
	}

	// The slice is fully built before the first goroutine starts, so each
	// goroutine owns its slot outright and no append moves the backing
	// array out from under it.
	eg, egCtx := errgroup.WithContext(ctx)
	for idx := range results {
		idx := idx
		eg.Go(func() error {
			res := &results[idx]
			info, err := notifUserInfo(egCtx, res.userID, res.outcome, res.uti,
				messages, threadsToMessages, rc)
			if err != nil {
				return err
			}
			res.info = info
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for _, res := range results {
		if res.info == nil {
			continue
		}
		switch res.outcome {
		case NotifyNotifAndSetUnread:
			result.Notify[res.userID] = res.info
		case NotifyRescind:
			result.Rescind[res.userID] = res.info
		case NotifySetUnread:
			result.SetUnread[res.userID] = res.info
		}
	}
	return result, nil
}

// notifUserInfo runs the resolver over every message in the recipient's
// threads concurrently and retains the ones resolving to want. Returns
// nil when nothing qualifies.
func notifUserInfo(ctx context.Context, userID string, want NotifyType, uti *userThreadInfo,
	messages []*t.Message, threadsToMessages map[string][]int, rc ResolveContext) (*PushUserInfo, error) {

	var indices []int
	for _, threadID := range uti.threadIDs {
		msgIndices, ok := threadsToMessages[threadID]
		if !ok {
			panic("push: no message indices for thread " + threadID)
		}
		indices = append(indices, msgIndices...)
	}

	matched := make([]bool, len(indices))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, msgIndex := range indices {
		i, msg := i, messages[msgIndex]
		eg.Go(func() error {
			matched[i] = ResolveNotifyType(egCtx, msg, userID, rc) == want
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var qualifying []*t.Message
	for i, msgIndex := range indices {
		if matched[i] {
			qualifying = append(qualifying, messages[msgIndex])
		}
	}
	if len(qualifying) == 0 {
		return nil, nil
	}
	return &PushUserInfo{Devices: uti.devices, Messages: qualifying}, nil
}
