// Package fcmgw delivers prepared notifications through the Firebase
// Cloud Messaging HTTP v1 API. FCM fronts Android devices directly and
// proxies to APNs and web push endpoints, so everything except Windows
// desktop deliveries goes through here.
package fcmgw

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	fcmv1 "google.golang.org/api/fcm/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ferrychat/ferry/server/logs"
	"github.com/ferrychat/ferry/server/push"
	"github.com/ferrychat/ferry/server/push/apns"
	"github.com/ferrychat/ferry/server/push/fcm"
	"github.com/ferrychat/ferry/server/push/web"
	t "github.com/ferrychat/ferry/server/store/types"
)

var handler gatewayPush

const defaultBuffer = 32

type gatewayPush struct {
	initialized bool
	input       chan *push.Delivery
	stop        chan bool
	service     *fcmv1.Service
	parent      string
}

type configType struct {
	Enabled         bool   `json:"enabled"`
	ProjectID       string `json:"project_id"`
	CredentialsFile string `json:"credentials_file"`
	Buffer          int    `json:"buffer"`
}

// Init initializes the handler.
func (gatewayPush) Init(jsonconf json.RawMessage) (bool, error) {
	if handler.initialized {
		return false, errors.New("already initialized")
	}

	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return false, errors.New("failed to parse config: " + err.Error())
	}

	handler.initialized = true

	if !config.Enabled {
		return false, nil
	}
	if config.ProjectID == "" {
		return false, errors.New("fcmgw: project_id is required")
	}

	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	service, err := fcmv1.NewService(context.Background(), opts...)
	if err != nil {
		return false, err
	}
	handler.service = service
	handler.parent = "projects/" + config.ProjectID

	if config.Buffer <= 0 {
		config.Buffer = defaultBuffer
	}
	handler.input = make(chan *push.Delivery, config.Buffer)
	handler.stop = make(chan bool, 1)

	go func() {
		for {
			select {
			case dlv := <-handler.input:
				go sendDelivery(dlv)
			case <-handler.stop:
				return
			}
		}
	}()

	return true, nil
}

func sendDelivery(dlv *push.Delivery) {
	if dlv.Platform == t.PlatformWindows {
		// Windows goes through the WNS gateway, not FCM.
		return
	}
	ctx := context.Background()
	sendBatch(ctx, dlv.Notifications)
	sendBatch(ctx, dlv.Rescinds)
}

func sendBatch(ctx context.Context, batch []push.TargetedNotification) {
	for i := range batch {
		msg, err := toMessage(&batch[i])
		if err != nil {
			logs.Warning.Println("fcmgw: skipping unconvertible notification:", err)
			continue
		}
		_, err = handler.service.Projects.Messages.Send(handler.parent,
			&fcmv1.SendMessageRequest{Message: msg}).Context(ctx).Do()
		if err == nil {
			continue
		}
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			switch {
			case gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone:
				// Token is no longer valid.
				logs.Info.Println("fcmgw: stale delivery token", batch[i].DeliveryID)
				continue
			case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
				// Transient. Stop sending this batch.
				logs.Warning.Println("fcmgw: transient gateway error:", err)
				return
			}
		}
		logs.Warning.Println("fcmgw: send failed:", err)
	}
}

// toMessage converts one shaped notification into its FCM v1 form.
// APNs payloads ride in the apns envelope with their gateway headers;
// Android and web payloads flatten into the data map.
func toMessage(tn *push.TargetedNotification) (*fcmv1.Message, error) {
	raw, err := tn.Notification.Render()
	if err != nil {
		return nil, err
	}

	msg := &fcmv1.Message{Token: tn.DeliveryID}
	switch n := tn.Notification.(type) {
	case *apns.Notification:
		msg.Apns = &fcmv1.ApnsConfig{
			Headers: apnsHeaders(&n.Headers),
			Payload: googleapi.RawMessage(raw),
		}
	case *fcm.Notification:
		data, err := flatten(raw)
		if err != nil {
			return nil, err
		}
		msg.Data = data
		priority := "NORMAL"
		if n.Priority == "high" {
			priority = "HIGH"
		}
		msg.Android = &fcmv1.AndroidConfig{Priority: priority}
	case *web.Notification:
		data, err := flatten(raw)
		if err != nil {
			return nil, err
		}
		msg.Webpush = &fcmv1.WebpushConfig{Data: data}
	default:
		return nil, errors.New("no gateway mapping for platform " + string(tn.Notification.Platform()))
	}
	return msg, nil
}

func apnsHeaders(h *apns.Headers) map[string]string {
	headers := make(map[string]string)
	if h.Topic != "" {
		headers["apns-topic"] = h.Topic
	}
	if h.ID != "" {
		headers["apns-id"] = h.ID
	}
	if h.PushType != "" {
		headers["apns-push-type"] = h.PushType
	}
	if h.CollapseID != "" {
		headers["apns-collapse-id"] = h.CollapseID
	}
	if h.Priority != "" {
		headers["apns-priority"] = h.Priority
	}
	return headers
}

// flatten turns a rendered payload into the string-to-string map FCM
// data messages require.
func flatten(raw []byte) (map[string]string, error) {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	data := make(map[string]string, len(generic))
	for k, v := range generic {
		switch val := v.(type) {
		case string:
			data[k] = val
		default:
			enc, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			data[k] = string(enc)
		}
	}
	return data, nil
}

// IsReady checks if the handler is initialized.
func (gatewayPush) IsReady() bool {
	return handler.input != nil
}

// Push returns the channel the server sends deliveries to. The delivery
// is dropped if the channel blocks.
func (gatewayPush) Push() chan<- *push.Delivery {
	return handler.input
}

func (gatewayPush) Stop() {
	handler.stop <- true
}

func init() {
	push.Register("fcm", &handler)
}
