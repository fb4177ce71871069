// Package stdout is a debug delivery handler that prints prepared
// notifications instead of sending them to a gateway.
package stdout

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ferrychat/ferry/server/push"
)

var handler stdoutPush

const defaultBuffer = 32

type stdoutPush struct {
	initialized bool
	input       chan *push.Delivery
	stop        chan bool
}

type configType struct {
	Disabled bool `json:"disabled"`
	Buffer   int  `json:"buffer"`
}

// Init initializes the handler.
func (stdoutPush) Init(jsonconf json.RawMessage) (bool, error) {
	if handler.initialized {
		return false, errors.New("already initialized")
	}

	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return false, errors.New("failed to parse config: " + err.Error())
	}

	handler.initialized = true

	if config.Disabled {
		return false, nil
	}

	if config.Buffer <= 0 {
		config.Buffer = defaultBuffer
	}

	handler.input = make(chan *push.Delivery, config.Buffer)
	handler.stop = make(chan bool, 1)

	go func() {
		for {
			select {
			case dlv := <-handler.input:
				printDelivery(dlv)
			case <-handler.stop:
				return
			}
		}
	}()

	return true, nil
}

func printDelivery(dlv *push.Delivery) {
	fmt.Fprintln(os.Stdout, "delivery:", dlv.Platform,
		len(dlv.Notifications), "notifications,", len(dlv.Rescinds), "rescinds")
	for _, tn := range dlv.Notifications {
		if raw, err := tn.Notification.Render(); err == nil {
			fmt.Fprintln(os.Stdout, " ", tn.DeliveryID, string(raw))
		}
	}
	for _, tn := range dlv.Rescinds {
		if raw, err := tn.Notification.Render(); err == nil {
			fmt.Fprintln(os.Stdout, "  rescind", tn.DeliveryID, string(raw))
		}
	}
}

// IsReady checks if the handler is initialized.
func (stdoutPush) IsReady() bool {
	return handler.input != nil
}

// Push returns the channel the server sends deliveries to. The delivery
// is dropped if the channel blocks.
func (stdoutPush) Push() chan<- *push.Delivery {
	return handler.input
}

func (stdoutPush) Stop() {
	handler.stop <- true
}

func init() {
	push.Register("stdout", &handler)
}
