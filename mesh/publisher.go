package mesh

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// StatusMessage is the payload published on <prefix>/status/<id>
type StatusMessage struct {
	ID        string    `json:"id"`
	Status    RunStatus `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// Publisher publishes registration progress and results to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	logger        *zap.SugaredLogger
	last          map[string]RunStatus
	mu            sync.RWMutex
}

// NewPublisher creates a new result publisher.
// If client is nil, publishing is disabled (for testing).
func NewPublisher(client mqtt.Client, prefix string, logger *zap.SugaredLogger) *Publisher {
	if prefix == "" {
		prefix = PublishPrefix(nil)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           1,
		logger:        logger,
		last:          make(map[string]RunStatus),
	}
}

// StatusTopic returns the status topic for a request
func (p *Publisher) StatusTopic(id string) string {
	return fmt.Sprintf("%s/status/%s", p.publishPrefix, id)
}

// ResultTopic returns the retained result topic for a request
func (p *Publisher) ResultTopic(id string) string {
	return fmt.Sprintf("%s/result/%s", p.publishPrefix, id)
}

// PublishStatus publishes a lifecycle status for a request
func (p *Publisher) PublishStatus(id string, status RunStatus, message string) error {
	p.mu.Lock()
	p.last[id] = status
	p.mu.Unlock()

	msg := StatusMessage{ID: id, Status: status, Message: message, Timestamp: time.Now().Unix()}
	if err := p.publish(p.StatusTopic(id), false, msg); err != nil {
		p.logger.Errorw("Error publishing status", "id", id, "status", status, "error", err)
		return err
	}
	p.logger.Debugw("Published status", "id", id, "status", status)
	return nil
}

// PublishResult publishes the final status and the retained record
func (p *Publisher) PublishResult(rec *RegistrationRecord) error {
	if err := p.PublishStatus(rec.ID, StatusOf(rec), rec.Status()); err != nil {
		return err
	}
	if err := p.publish(p.ResultTopic(rec.ID), true, rec); err != nil {
		p.logger.Errorw("Error publishing result", "id", rec.ID, "error", err)
		return err
	}
	p.logger.Infow("Published result", "id", rec.ID, "state", rec.State, "iterations", rec.Iterations)
	return nil
}

func (p *Publisher) publish(topic string, retain bool, v any) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// LastStatus returns the last status published for a request
func (p *Publisher) LastStatus(id string) (RunStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.last[id]
	return s, ok
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}
