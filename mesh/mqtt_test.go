package mesh

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// requestRecorder is a testify mock for RequestHandler
type requestRecorder struct {
	mock.Mock
}

func (r *requestRecorder) Handle(req RegistrationRequest) {
	r.Called(req)
}

func TestInitMQTT_Disabled(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	client, err := InitMQTT(DefaultConfig(), func(RegistrationRequest) {}, nil)
	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestInitMQTT_NoHandler(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	config := DefaultConfig()
	config.MQTT.Broker = "tcp://localhost:1883"

	_, err := InitMQTT(config, nil, nil)
	assert.Error(t, err)
}

func TestGetMQTTClient_NotInitialized(t *testing.T) {
	clientMu.Lock()
	globalClient = nil
	clientMu.Unlock()

	if client := GetMQTTClient(); client != nil {
		t.Error("GetMQTTClient() should return nil when not initialized")
	}
}

func TestMQTTClient_IsConnected(t *testing.T) {
	client := &MQTTClient{}
	assert.False(t, client.IsConnected(), "New client should not be connected")

	client.setConnected(true)
	assert.True(t, client.IsConnected())

	client.setConnected(false)
	assert.False(t, client.IsConnected())
}

func TestPublishPrefix(t *testing.T) {
	tests := []struct {
		name   string
		env    string
		config *Config
		want   string
	}{
		{"default", "", nil, "meshalign"},
		{"from config", "", &Config{MQTT: MQTTConfig{PublishPrefix: "lab"}}, "lab"},
		{"env wins", "override", &Config{MQTT: MQTTConfig{PublishPrefix: "lab"}}, "override"},
		{"trailing slash", "", &Config{MQTT: MQTTConfig{PublishPrefix: "lab/"}}, "lab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MQTT_PUBLISH_PREFIX", tt.env)
			if got := PublishPrefix(tt.config); got != tt.want {
				t.Errorf("PublishPrefix() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeRequest(t *testing.T) {
	t.Run("keeps id and overrides", func(t *testing.T) {
		req, err := DecodeRequest([]byte(`{"id":"abc","source":"a.obj","destination":"b.obj","overrides":{"k":3}}`))
		require.NoError(t, err)
		assert.Equal(t, "abc", req.ID)
		assert.Equal(t, "a.obj", req.Source)
		require.NotNil(t, req.Overrides)
		assert.Equal(t, 3.0, req.Overrides.K)
	})

	t.Run("generates id", func(t *testing.T) {
		req, err := DecodeRequest([]byte(`{"source":"a.obj","destination":"b.obj"}`))
		require.NoError(t, err)
		assert.Len(t, req.ID, 36)
	})

	t.Run("invalid", func(t *testing.T) {
		for _, payload := range []string{`not json`, `{"source":"a.obj"}`, `{}`} {
			_, err := DecodeRequest([]byte(payload))
			assert.Error(t, err, payload)
		}
	})
}

func TestMQTTClient_OnConnectSubscribesRequests(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	mockClient := NewMockClient()
	mockClient.SetConnected(true)

	client := newMQTTClientWithMock(mockClient, DefaultConfig(), func(RegistrationRequest) {})
	client.onConnect(mockClient)

	assert.True(t, client.IsConnected())
	assert.Equal(t, []string{"meshalign/request"}, mockClient.Subscriptions())
}

func TestMQTTClient_OnConnectSubscribeError(t *testing.T) {
	mockClient := NewMockClient()
	mockClient.SetConnected(true)
	mockClient.SetSubscribeError(assert.AnError)

	client := newMQTTClientWithMock(mockClient, DefaultConfig(), func(RegistrationRequest) {})
	client.onConnect(mockClient)

	assert.Empty(t, mockClient.Subscriptions())
}

func TestMQTTClient_RequestRouting(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	mockClient := NewMockClient()
	mockClient.SetConnected(true)

	recorder := &requestRecorder{}
	recorder.On("Handle", mock.MatchedBy(func(req RegistrationRequest) bool {
		return req.ID == "job-7" && req.Source == "src.obj" && req.Destination == "dst.off"
	})).Return().Once()

	client := newMQTTClientWithMock(mockClient, DefaultConfig(), recorder.Handle)
	client.onConnect(mockClient)

	mockClient.SimulateMessage("meshalign/request", []byte(`{"id":"job-7","source":"src.obj","destination":"dst.off"}`))
	// malformed payloads never reach the handler
	mockClient.SimulateMessage("meshalign/request", []byte(`{"id":"job-8"}`))

	recorder.AssertExpectations(t)
	recorder.AssertNumberOfCalls(t, "Handle", 1)
}

func TestMQTTClient_Disconnect(t *testing.T) {
	mockClient := NewMockClient()
	mockClient.SetConnected(true)

	client := newMQTTClientWithMock(mockClient, DefaultConfig(), nil)
	client.setConnected(true)
	client.Disconnect()

	assert.False(t, mockClient.IsConnected())
	assert.False(t, client.IsConnected())
	assert.Same(t, mockClient, client.GetClient())
}

func TestMQTTClient_ConcurrentAccess(t *testing.T) {
	client := &MQTTClient{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client.setConnected(i%2 == 0)
			_ = client.IsConnected()
		}(i)
	}
	wg.Wait()
}
