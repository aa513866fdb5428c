package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

type ackRecorder struct {
	acked   []uint64
	nacked  []uint64
	requeue bool
}

func (a *ackRecorder) Ack(tag uint64, multiple bool) error {
	a.acked = append(a.acked, tag)
	return nil
}

func (a *ackRecorder) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked = append(a.nacked, tag)
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func TestDispatch_AcksHandledAndDropsUnknownKeys(t *testing.T) {
	recorder := &ackRecorder{}
	var handled [][]byte
	handlers := BindingMap{
		"activation.pending": func(body []byte) bool {
			handled = append(handled, body)
			return true
		},
	}

	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- amqp.Delivery{Acknowledger: recorder, DeliveryTag: 1, RoutingKey: "activation.pending", Body: []byte(`{"a":1}`)}
	deliveries <- amqp.Delivery{Acknowledger: recorder, DeliveryTag: 2, RoutingKey: "activation.unknown"}
	close(deliveries)

	(&Consumer{}).dispatch(deliveries, handlers)

	if len(handled) != 1 || string(handled[0]) != `{"a":1}` {
		t.Fatalf("expected one handled body, got %v", handled)
	}
	if len(recorder.acked) != 2 {
		t.Fatalf("expected both deliveries acked (handled + dropped), got %v", recorder.acked)
	}
	if len(recorder.nacked) != 0 {
		t.Fatalf("expected no nacks, got %v", recorder.nacked)
	}
}

func TestDispatch_RequeuesFailedHandler(t *testing.T) {
	recorder := &ackRecorder{}
	handlers := BindingMap{
		"activation.pending": func(body []byte) bool { return false },
	}

	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- amqp.Delivery{Acknowledger: recorder, DeliveryTag: 7, RoutingKey: "activation.pending"}
	close(deliveries)

	(&Consumer{}).dispatch(deliveries, handlers)

	if len(recorder.nacked) != 1 || recorder.nacked[0] != 7 {
		t.Fatalf("expected delivery 7 nacked, got %v", recorder.nacked)
	}
	if !recorder.requeue {
		t.Fatal("expected the failed delivery to be re-queued")
	}
}
