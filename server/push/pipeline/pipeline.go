// Package pipeline drives a batch of chat messages through the full
// notification preparation flow: recipient aggregation, text rendering,
// per-platform payload shaping, encryption and dispatch to the gateway
// handlers.
package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ferrychat/ferry/server/logs"
	"github.com/ferrychat/ferry/server/push"
	"github.com/ferrychat/ferry/server/push/apns"
	"github.com/ferrychat/ferry/server/push/fcm"
	"github.com/ferrychat/ferry/server/push/web"
	"github.com/ferrychat/ferry/server/push/wns"
	t "github.com/ferrychat/ferry/server/store/types"
)

// Deps are the external collaborators of one preparation pass.
type Deps struct {
	Encrypt push.EncryptAPI
	Blob    push.BlobAPI
	Fetcher push.MessageFetcher
	Unread  push.UnreadCounter
	Sender  push.SenderDescriptor
}

// Batch is one unit of preparation work: the new messages plus the
// thread and device state they are interpreted against.
type Batch struct {
	Messages  []*t.Message
	Threads   t.ThreadSnapshot
	Devices   t.DeviceRegistry
	UserNames push.UserNameResolver
}

// PreparedPass is the output of one batch, bucketed per platform for the
// gateway handlers.
type PreparedPass struct {
	Notifications map[t.Platform][]push.TargetedNotification
	Rescinds      map[t.Platform][]push.TargetedNotification
}

type collector struct {
	mu   sync.Mutex
	pass PreparedPass
}

func (c *collector) add(platform t.Platform, kind string, tn []push.TargetedNotification) {
	if len(tn) == 0 {
		return
	}
	push.CountPrepared(string(platform), kind, len(tn))
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == "rescind" {
		c.pass.Rescinds[platform] = append(c.pass.Rescinds[platform], tn...)
		return
	}
	c.pass.Notifications[platform] = append(c.pass.Notifications[platform], tn...)
}

// PrepareNotifications resolves, aggregates, shapes and encrypts the
// batch. Recipients proceed concurrently; a failing recipient is logged
// and skipped so one bad device set never sinks the batch.
func PrepareNotifications(ctx context.Context, deps Deps, batch *Batch) (*PreparedPass, error) {
	rc := push.ResolveContext{Fetcher: deps.Fetcher}
	agg, err := push.Aggregate(ctx, batch.Messages, batch.Threads, batch.Devices, rc)
	if err != nil {
		return nil, err
	}

	col := &collector{pass: PreparedPass{
		Notifications: make(map[t.Platform][]push.TargetedNotification),
		Rescinds:      make(map[t.Platform][]push.TargetedNotification),
	}}

	eg, egCtx := errgroup.WithContext(ctx)
	for userID, info := range agg.Notify {
		userID, info := userID, info
		eg.Go(func() error {
			if err := prepareVisualForUser(egCtx, deps, batch, userID, info, col); err != nil {
				logs.Warning.Println("pipeline: visual preparation failed for user", userID+":", err)
			}
			return nil
		})
	}
	for userID, info := range agg.Rescind {
		userID, info := userID, info
		eg.Go(func() error {
			if err := prepareRescindsForUser(egCtx, deps, userID, info, col); err != nil {
				logs.Warning.Println("pipeline: rescind preparation failed for user", userID+":", err)
			}
			return nil
		})
	}
	for userID, info := range agg.SetUnread {
		userID, info := userID, info
		eg.Go(func() error {
			if err := prepareBadgeOnlyForUser(egCtx, deps, userID, info, col); err != nil {
				logs.Warning.Println("pipeline: badge update failed for user", userID+":", err)
			}
			return nil
		})
	}
	_ = eg.Wait()
	return &col.pass, nil
}

// unreadCount fetches the badge value; a counter outage degrades to a
// badge-less notification instead of failing the recipient.
func unreadCount(ctx context.Context, deps Deps, userID string) *int {
	if deps.Unread == nil {
		return nil
	}
	n, err := deps.Unread.Unread(ctx, userID)
	if err != nil {
		logs.Warning.Println("pipeline: unread count unavailable for user", userID+":", err)
		return nil
	}
	return &n
}

func prepareVisualForUser(ctx context.Context, deps Deps, batch *Batch, userID string,
	info *push.PushUserInfo, col *collector) error {

	unread := unreadCount(ctx, deps, userID)

	byThread := make(map[string][]*t.Message)
	for _, msg := range info.Messages {
		byThread[msg.ThreadID] = append(byThread[msg.ThreadID], msg)
	}
	byPlatform := push.GroupDevicesByPlatform(info.Devices)

	for threadID, msgs := range byThread {
		thread := batch.Threads[threadID]
		texts, ok := push.NotifTextsForMessages(msgs, thread, batch.UserNames)
		if !ok {
			continue
		}
		collapseKey := push.CollapseKeyForMessages(msgs, threadID)

		for platform, byVersion := range byPlatform {
			for versionKey, devices := range byVersion {
				pd, err := t.ParseVersionKey(platform, versionKey)
				if err != nil {
					return err
				}
				uniqueID := uuid.NewString()
				var targeted []push.TargetedNotification
				switch platform {
				case t.PlatformIOS, t.PlatformMacOS:
					targeted = apns.CreateVisualNotification(ctx, deps.Encrypt, deps.Blob, &apns.VisualInput{
						Sender:      deps.Sender,
						NotifTexts:  texts,
						Messages:    msgs,
						ThreadID:    threadID,
						CollapseKey: collapseKey,
						UnreadCount: unread,
						Platform:    pd,
						UniqueID:    uniqueID,
					}, devices)
				case t.PlatformAndroid:
					targeted = fcm.CreateVisualNotification(ctx, deps.Encrypt, deps.Blob, &fcm.VisualInput{
						Sender:      deps.Sender,
						NotifTexts:  texts,
						Messages:    msgs,
						ThreadID:    threadID,
						CollapseKey: collapseKey,
						UnreadCount: unread,
						Platform:    pd,
						UniqueID:    uniqueID,
					}, devices)
				case t.PlatformWeb:
					targeted = web.CreateVisualNotification(ctx, deps.Encrypt, &web.VisualInput{
						Sender:      deps.Sender,
						NotifTexts:  texts,
						ThreadID:    threadID,
						UnreadCount: unread,
						Platform:    pd,
						UniqueID:    uniqueID,
					}, devices)
				case t.PlatformWindows:
					targeted = wns.CreateVisualNotification(ctx, deps.Encrypt, &wns.VisualInput{
						Sender:      deps.Sender,
						NotifTexts:  texts,
						ThreadID:    threadID,
						UnreadCount: unread,
						Platform:    pd,
						UniqueID:    uniqueID,
					}, devices)
				default:
					logs.Warning.Println("pipeline: no visual shaper for platform", string(platform))
					continue
				}
				col.add(platform, "visual", targeted)
			}
		}
	}
	return nil
}

// prepareRescindsForUser withdraws one previously shown notification per
// qualifying message. Only the mobile platforms display rescindable
// notifications; browser and desktop sessions clear state in-app.
func prepareRescindsForUser(ctx context.Context, deps Deps, userID string,
	info *push.PushUserInfo, col *collector) error {

	unread := unreadCount(ctx, deps, userID)
	byPlatform := push.GroupDevicesByPlatform(info.Devices)

	for _, msg := range info.Messages {
		rescindID := msg.NotificationCollapseKey()
		if rescindID == "" {
			continue
		}
		for platform, byVersion := range byPlatform {
			for versionKey, devices := range byVersion {
				pd, err := t.ParseVersionKey(platform, versionKey)
				if err != nil {
					return err
				}
				var targeted []push.TargetedNotification
				switch platform {
				case t.PlatformIOS, t.PlatformMacOS:
					targeted = apns.CreateRescindNotification(ctx, deps.Encrypt, &apns.RescindInput{
						Sender:    deps.Sender,
						RescindID: rescindID,
						Badge:     unread,
						ThreadID:  msg.ThreadID,
						Platform:  pd,
					}, devices)
				case t.PlatformAndroid:
					targeted = fcm.CreateRescindNotification(ctx, deps.Encrypt, &fcm.RescindInput{
						Sender:    deps.Sender,
						RescindID: rescindID,
						Badge:     unread,
						ThreadID:  msg.ThreadID,
						Platform:  pd,
					}, devices)
				default:
					continue
				}
				col.add(platform, "rescind", targeted)
			}
		}
	}
	return nil
}

// prepareBadgeOnlyForUser sends one silent unread update per affected
// thread, not per message.
func prepareBadgeOnlyForUser(ctx context.Context, deps Deps, userID string,
	info *push.PushUserInfo, col *collector) error {

	unread := unreadCount(ctx, deps, userID)
	byPlatform := push.GroupDevicesByPlatform(info.Devices)

	threads := make(map[string]bool)
	for _, msg := range info.Messages {
		threads[msg.ThreadID] = true
	}

	for threadID := range threads {
		for platform, byVersion := range byPlatform {
			for versionKey, devices := range byVersion {
				pd, err := t.ParseVersionKey(platform, versionKey)
				if err != nil {
					return err
				}
				// Devices below the encrypted badge floor need the literal
				// count; without one there is nothing to send them.
				if unread == nil && !push.Supports(pd, push.FeatureEncryptedBadgeOnly) {
					continue
				}
				var targeted []push.TargetedNotification
				switch platform {
				case t.PlatformIOS, t.PlatformMacOS:
					targeted = apns.CreateBadgeOnlyNotification(ctx, deps.Encrypt, &apns.BadgeOnlyInput{
						Sender:   deps.Sender,
						Badge:    unread,
						ThreadID: threadID,
						Platform: pd,
					}, devices)
				case t.PlatformAndroid:
					targeted = fcm.CreateBadgeOnlyNotification(ctx, deps.Encrypt, &fcm.BadgeOnlyInput{
						Sender:   deps.Sender,
						Badge:    unread,
						ThreadID: threadID,
						Platform: pd,
					}, devices)
				default:
					continue
				}
				col.add(platform, "badge", targeted)
			}
		}
	}
	return nil
}

// DispatchPass hands the prepared pass to the registered gateway
// handlers, one delivery per platform.
func DispatchPass(pass *PreparedPass) {
	platforms := make(map[t.Platform]bool)
	for platform := range pass.Notifications {
		platforms[platform] = true
	}
	for platform := range pass.Rescinds {
		platforms[platform] = true
	}
	for platform := range platforms {
		push.Dispatch(&push.Delivery{
			Platform:      platform,
			Notifications: pass.Notifications[platform],
			Rescinds:      pass.Rescinds[platform],
		})
	}
}
