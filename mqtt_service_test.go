package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kwv/meshalign/mesh"
)

// TestMQTTService_RequestToResult follows one request payload through
// decoding, registration and publication on a mock broker connection.
func TestMQTTService_RequestToResult(t *testing.T) {
	app, _ := newTestApp(t)
	client := mesh.NewMockClient()
	client.SetConnected(true)
	app.Publisher = mesh.NewPublisher(client, "lab", zap.NewNop().Sugar())

	source, destination := cubePair(t)
	payload, err := json.Marshal(map[string]string{
		"id":          "job-7",
		"source":      source,
		"destination": destination,
	})
	require.NoError(t, err)

	req, err := mesh.DecodeRequest(payload)
	require.NoError(t, err)
	rec := app.RunRegistration(context.Background(), req)
	require.Empty(t, rec.Error)

	msgs := client.GetPublishedMessages()
	require.Len(t, msgs, 3)

	var running mesh.StatusMessage
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &running))
	assert.Equal(t, "lab/status/job-7", msgs[0].Topic)
	assert.Equal(t, mesh.StatusRunning, running.Status)
	assert.False(t, msgs[0].Retain)

	var final mesh.StatusMessage
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &final))
	assert.Equal(t, mesh.StatusConverged, final.Status)
	assert.Contains(t, final.Message, "Converged in")

	assert.Equal(t, "lab/result/job-7", msgs[2].Topic)
	assert.True(t, msgs[2].Retain)
	var published mesh.RegistrationRecord
	require.NoError(t, json.Unmarshal(msgs[2].Payload, &published))
	assert.Equal(t, rec.Net, published.Net)

	last, ok := app.Publisher.LastStatus("job-7")
	require.True(t, ok)
	assert.Equal(t, mesh.StatusConverged, last)
}

func TestMQTTService_FailurePublishesFailedStatus(t *testing.T) {
	app, _ := newTestApp(t)
	client := mesh.NewMockClient()
	client.SetConnected(true)
	app.Publisher = mesh.NewPublisher(client, "", nil)

	rec := app.RunRegistration(context.Background(), mesh.RegistrationRequest{
		ID:          "broken",
		Source:      "missing.obj",
		Destination: "missing.obj",
	})
	require.NotEmpty(t, rec.Error)

	msgs := client.GetPublishedMessages()
	require.Len(t, msgs, 3)
	var final mesh.StatusMessage
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &final))
	assert.Equal(t, "meshalign/status/broken", msgs[1].Topic)
	assert.Equal(t, mesh.StatusFailed, final.Status)
}

func TestMQTTService_DisconnectedPublisherDoesNotBlock(t *testing.T) {
	app, _ := newTestApp(t)
	client := mesh.NewMockClient() // never connected
	app.Publisher = mesh.NewPublisher(client, "lab", nil)

	source, destination := cubePair(t)
	rec := app.RunRegistration(context.Background(), mesh.RegistrationRequest{ID: "offline", Source: source, Destination: destination})

	assert.Empty(t, rec.Error)
	assert.Empty(t, client.GetPublishedMessages())
	_, ok := app.StateTracker.Record("offline")
	assert.True(t, ok, "the record is kept even when publishing fails")
}

func TestRunService_RequiresBroker(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	app, _ := newTestApp(t)
	app.Config.MQTT.Broker = ""
	app.ApplyOptions(AppOptions{MQTTMode: true})

	err := app.RunService(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MQTT broker not configured")
}
