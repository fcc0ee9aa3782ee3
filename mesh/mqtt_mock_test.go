package mesh

import (
	"errors"
	"sync"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func TestMockClient_Connect(t *testing.T) {
	mock := NewMockClient()
	if mock.IsConnected() {
		t.Error("new mock should not be connected")
	}

	called := false
	mock.SetOnConnect(func(mqtt.Client) { called = true })

	token := mock.Connect()
	if !token.WaitTimeout(0) || token.Error() != nil {
		t.Fatalf("Connect() error = %v", token.Error())
	}
	if !mock.IsConnected() {
		t.Error("mock should be connected after Connect()")
	}
	if !called {
		t.Error("onConnect handler not called")
	}
}

func TestMockClient_ConnectWithError(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnectError(errors.New("refused"))

	token := mock.Connect()
	if token.Error() == nil {
		t.Error("expected connect error")
	}
	if mock.IsConnected() {
		t.Error("mock should not be connected after failed Connect()")
	}
}

func TestMockClient_Publish(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	mock.Publish("a/b", 1, true, []byte("bytes"))
	mock.Publish("a/c", 0, false, "string")

	msgs := mock.GetPublishedMessages()
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}
	if msgs[0].Topic != "a/b" || string(msgs[0].Payload) != "bytes" || !msgs[0].Retain || msgs[0].QoS != 1 {
		t.Errorf("first message = %+v", msgs[0])
	}
	if string(msgs[1].Payload) != "string" || msgs[1].Retain {
		t.Errorf("second message = %+v", msgs[1])
	}
}

func TestMockClient_PublishNotConnected(t *testing.T) {
	mock := NewMockClient()
	token := mock.Publish("a", 0, false, []byte("x"))
	if !errors.Is(token.Error(), mqtt.ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", token.Error())
	}
}

func TestMockClient_SubscribeAndSimulate(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	var got string
	mock.Subscribe("topic", 0, func(_ mqtt.Client, msg mqtt.Message) {
		got = string(msg.Payload())
	})
	mock.SimulateMessage("topic", []byte("hello"))
	mock.SimulateMessage("other", []byte("ignored"))

	if got != "hello" {
		t.Errorf("received %q, want hello", got)
	}

	mock.Unsubscribe("topic")
	if len(mock.Subscriptions()) != 0 {
		t.Error("Unsubscribe should remove the handler")
	}
}

func TestMockClient_Disconnect(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	mock.Disconnect(250)
	if mock.IsConnected() {
		t.Error("Client should not be connected after Disconnect()")
	}
}

func TestMockClient_ConcurrentOperations(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mock.Publish("t", 0, false, []byte("x"))
			_ = mock.GetPublishedMessages()
		}()
	}
	wg.Wait()

	if n := len(mock.GetPublishedMessages()); n != 10 {
		t.Errorf("published %d messages, want 10", n)
	}
}
