package queue

import (
	"context"
	"errors"
	"os"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ferrychat/ferry/server/logs"
	t "github.com/ferrychat/ferry/server/store/types"
)

func TestMain(m *testing.M) {
	logs.Init()
	os.Exit(m.Run())
}

// fakeAck records how a delivery was settled.
type fakeAck struct {
	acked    bool
	nacked   bool
	requeued bool
	rejected bool
}

func (f *fakeAck) Ack(tag uint64, multiple bool) error {
	f.acked = true
	return nil
}

func (f *fakeAck) Nack(tag uint64, multiple bool, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	return nil
}

func (f *fakeAck) Reject(tag uint64, requeue bool) error {
	f.rejected = true
	f.requeued = requeue
	return nil
}

func delivery(ack *fakeAck, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(body)}
}

func TestHandleDeliveryAcksOnSuccess(tt *testing.T) {
	ack := &fakeAck{}
	var got *PrepareRequest
	handleDelivery(context.Background(), delivery(ack,
		`{"messages":[{"id":"m1","threadID":"th1","type":"text"}],"names":{"u1":"Alice"}}`),
		func(_ context.Context, req *PrepareRequest) error {
			got = req
			return nil
		})
	if !ack.acked || ack.nacked || ack.rejected {
		tt.Errorf("settlement = %+v, want ack only", ack)
	}
	if got == nil || len(got.Messages) != 1 || got.Messages[0].Kind != t.KindText {
		tt.Fatalf("decoded request = %+v", got)
	}
	if got.Names["u1"] != "Alice" {
		tt.Errorf("names = %+v", got.Names)
	}
}

func TestHandleDeliveryRejectsMalformed(tt *testing.T) {
	ack := &fakeAck{}
	handleDelivery(context.Background(), delivery(ack, `{not json`),
		func(context.Context, *PrepareRequest) error {
			tt.Error("handler must not run for a malformed request")
			return nil
		})
	if !ack.rejected || ack.requeued {
		tt.Errorf("settlement = %+v, want reject without requeue", ack)
	}
}

func TestHandleDeliveryRequeuesOnHandlerError(tt *testing.T) {
	ack := &fakeAck{}
	handleDelivery(context.Background(), delivery(ack, `{"messages":[]}`),
		func(context.Context, *PrepareRequest) error {
			return errors.New("transient")
		})
	if !ack.nacked || !ack.requeued {
		tt.Errorf("settlement = %+v, want nack with requeue", ack)
	}
	if ack.acked || ack.rejected {
		tt.Errorf("settlement = %+v, failed request must not be acked or rejected", ack)
	}
}
