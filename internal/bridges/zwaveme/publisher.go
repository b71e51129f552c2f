package zwaveme

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Publisher defaults.
const (
	// defaultOutboxSize bounds messages queued for the broker.
	defaultOutboxSize = 1024

	// stateQoS is used for every publish; state is also retained.
	stateQoS byte = 1

	// maxMultilevel is the hub's top level for dimmers and motors.
	maxMultilevel = 99
)

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// Unsubscribe removes a subscription registered with Subscribe.
	Unsubscribe(topic string) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Commander sends device commands to the hub. Manager satisfies it.
type Commander interface {
	SendCommand(deviceID, command string) error
}

// PublisherOptions holds configuration for creating a publisher.
type PublisherOptions struct {
	// MQTT is the broker client. Required.
	MQTT MQTTClient

	// Commander receives translated commands. Nil disables command handling.
	Commander Commander

	// BridgeID identifies this bridge in discovery messages.
	BridgeID string

	// OutboxSize bounds queued publishes. Default: 1024.
	OutboxSize int

	// Logger is optional.
	Logger Logger
}

// outMessage is one queued publish.
type outMessage struct {
	topic    string
	payload  []byte
	retained bool
}

// PublisherStats holds publisher counters.
type PublisherStats struct {
	Published     uint64
	PublishErrors uint64
	Dropped       uint64 // Messages dropped because the outbox was full
	Commands      uint64
	CommandErrors uint64
}

// Publisher mirrors hub events onto MQTT and forwards MQTT commands to the hub.
//
// Event methods only marshal and enqueue, so the dispatch goroutine is never
// held up by the broker. A single worker drains the queue in order.
//
// Thread Safety: All methods are safe for concurrent use.
type Publisher struct {
	mqtt      MQTTClient
	commander Commander
	bridgeID  string

	outbox chan outMessage

	// Shutdown coordination
	done     chan struct{}
	wg       sync.WaitGroup
	startMu  sync.Mutex
	started  bool
	stopped  bool
	stopOnce sync.Once

	published     atomic.Uint64
	publishErrors atomic.Uint64
	dropped       atomic.Uint64
	commands      atomic.Uint64
	commandErrors atomic.Uint64

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

var _ EventSink = (*Publisher)(nil)

// NewPublisher creates a publisher. Call Start to begin publishing.
//
// Parameters:
//   - opts: MQTT client (required), commander, bridge id and outbox size
//
// Returns:
//   - *Publisher: Publisher ready to Start
//   - error: If no MQTT client is given
func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	if opts.MQTT == nil {
		return nil, errors.New("zwaveme: publisher requires an MQTT client")
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = defaultOutboxSize
	}
	if opts.BridgeID == "" {
		opts.BridgeID = Protocol
	}

	return &Publisher{
		mqtt:      opts.MQTT,
		commander: opts.Commander,
		bridgeID:  opts.BridgeID,
		outbox:    make(chan outMessage, opts.OutboxSize),
		done:      make(chan struct{}),
		logger:    opts.Logger,
	}, nil
}

// SetLogger sets the logger for this publisher.
func (p *Publisher) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

// Start launches the publish worker and subscribes to command topics.
func (p *Publisher) Start() error {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if p.started {
		return nil
	}
	if p.stopped {
		return ErrClosed
	}

	if p.commander != nil {
		if err := p.mqtt.Subscribe(CommandSubscribeTopic(), stateQoS, p.handleCommand); err != nil {
			return fmt.Errorf("subscribing to commands: %w", err)
		}
	}

	p.started = true
	p.wg.Add(1)
	go p.publishLoop()
	return nil
}

// Stop unsubscribes from command topics, drains queued messages and stops
// the worker. Safe to call multiple times.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		p.startMu.Lock()
		subscribed := p.started && p.commander != nil
		p.stopped = true
		p.startMu.Unlock()

		if subscribed {
			if err := p.mqtt.Unsubscribe(CommandSubscribeTopic()); err != nil {
				p.logWarn("failed to unsubscribe from commands", "error", err)
			}
		}

		close(p.done)
		p.wg.Wait()
	})
}

// Stats returns publisher counters.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published:     p.published.Load(),
		PublishErrors: p.publishErrors.Load(),
		Dropped:       p.dropped.Load(),
		Commands:      p.commands.Load(),
		CommandErrors: p.commandErrors.Load(),
	}
}

// OnDeviceCreate implements EventSink. Every device state is published
// retained, followed by one discovery message for the snapshot.
func (p *Publisher) OnDeviceCreate(devices []Device) {
	for _, d := range devices {
		p.enqueueState(d)
	}
	p.enqueueJSON(DiscoveryTopic(), NewDiscoveryMessage(p.bridgeID, true, devices), false)
}

// OnDeviceUpdate implements EventSink.
func (p *Publisher) OnDeviceUpdate(device Device) {
	p.enqueueState(device)
}

// OnNewDevice implements EventSink.
func (p *Publisher) OnNewDevice(device Device) {
	p.enqueueState(device)
	p.enqueueJSON(DiscoveryTopic(), NewDiscoveryMessage(p.bridgeID, false, []Device{device}), false)
}

// OnDeviceRemove implements EventSink.
func (p *Publisher) OnDeviceRemove(payload json.RawMessage) {
	p.enqueueJSON(EventTopic(EventKindRemoved), NewEventMessage(EventKindRemoved, payload), false)
}

// OnDeviceDestroy implements EventSink.
func (p *Publisher) OnDeviceDestroy(payload json.RawMessage) {
	p.enqueueJSON(EventTopic(EventKindDestroyed), NewEventMessage(EventKindDestroyed, payload), false)
}

func (p *Publisher) enqueueState(d Device) {
	p.enqueueJSON(StateTopic(d.ID), NewStateMessage(d), true)
}

// enqueueJSON marshals v and queues it without blocking.
func (p *Publisher) enqueueJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.logError("failed to marshal message", err)
		return
	}

	select {
	case p.outbox <- outMessage{topic: topic, payload: payload, retained: retained}:
	default:
		p.dropped.Add(1)
		p.logWarn("mqtt outbox full, message dropped", "topic", topic)
	}
}

// publishLoop drains the outbox. On Stop the remaining messages are flushed.
func (p *Publisher) publishLoop() {
	defer p.wg.Done()

	for {
		select {
		case msg := <-p.outbox:
			p.publish(msg)
		case <-p.done:
			for {
				select {
				case msg := <-p.outbox:
					p.publish(msg)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) publish(msg outMessage) {
	if err := p.mqtt.Publish(msg.topic, msg.payload, stateQoS, msg.retained); err != nil {
		p.publishErrors.Add(1)
		p.logWarn("mqtt publish failed", "topic", msg.topic, "error", err)
		return
	}
	p.published.Add(1)
}

// handleCommand processes a command message from Core.
func (p *Publisher) handleCommand(topic string, payload []byte) {
	// In-flight deliveries can still arrive after Unsubscribe.
	select {
	case <-p.done:
		return
	default:
	}
	p.commands.Add(1)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		p.commandErrors.Add(1)
		p.logError("failed to parse command", err)
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	// The topic names the device; acks always go back to it.
	topicID := DecodeTopicSegment(topic[strings.LastIndex(topic, "/")+1:])
	if cmd.DeviceID != "" && cmd.DeviceID != topicID {
		payloadID := cmd.DeviceID
		cmd.DeviceID = topicID
		p.commandErrors.Add(1)
		p.publishAck(NewAckError(cmd, ErrCodeInvalidCommand,
			fmt.Sprintf("device_id %q does not match topic device %q", payloadID, topicID)))
		return
	}
	cmd.DeviceID = topicID

	p.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	if err := ValidateDeviceID(cmd.DeviceID); err != nil {
		p.commandErrors.Add(1)
		p.publishAck(NewAckError(cmd, ErrCodeInvalidCommand, err.Error()))
		return
	}

	hubCommand, err := TranslateCommand(cmd.Command, cmd.Parameters)
	if err != nil {
		p.commandErrors.Add(1)
		code := ErrCodeInvalidCommand
		if errors.Is(err, errInvalidParameters) {
			code = ErrCodeInvalidParameters
		}
		p.publishAck(NewAckError(cmd, code, err.Error()))
		return
	}

	if err := p.commander.SendCommand(cmd.DeviceID, hubCommand); err != nil {
		p.commandErrors.Add(1)
		code := ErrCodeBridgeError
		switch {
		case errors.Is(err, ErrNotConnected), errors.Is(err, ErrClosed):
			code = ErrCodeNotConnected
		case errors.Is(err, ErrInvalidCommand):
			code = ErrCodeInvalidCommand
		}
		p.publishAck(NewAckError(cmd, code, err.Error()))
		return
	}

	p.publishAck(NewAckMessage(cmd, AckAccepted, CommandPath(cmd.DeviceID, hubCommand)))
}

// publishAck goes straight to the broker; it already runs on an MQTT goroutine.
func (p *Publisher) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		p.logError("failed to marshal ack", err)
		return
	}
	if err := p.mqtt.Publish(AckTopic(ack.DeviceID), payload, stateQoS, false); err != nil {
		p.logError("failed to publish ack", err)
	}
}

var errInvalidParameters = fmt.Errorf("%w: invalid parameters", ErrInvalidCommand)

// TranslateCommand maps a Gray Logic command onto a hub command path segment.
//
//   - "dim", "set_level" and "exact" with a "level" parameter become
//     "exact?level=N", N clamped to 0-99
//   - "color" with red/green/blue parameters becomes "exact?red=R&green=G&blue=B"
//   - anything else is passed through unchanged ("on", "off", "open", "stop", ...)
func TranslateCommand(command string, params map[string]any) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}
	if strings.ContainsAny(command, "/?#&") {
		return "", fmt.Errorf("%w: %q", ErrInvalidCommand, command)
	}

	switch command {
	case "dim", "set_level", "exact":
		raw, ok := params["level"]
		if !ok {
			if command == "exact" && len(params) == 0 {
				return command, nil
			}
			return "", fmt.Errorf("%w: level required", errInvalidParameters)
		}
		level, err := paramInt(raw, 0, maxMultilevel)
		if err != nil {
			return "", fmt.Errorf("%w: level: %w", errInvalidParameters, err)
		}
		return "exact?level=" + strconv.Itoa(level), nil

	case "color":
		var rgb [3]int
		for i, key := range []string{"red", "green", "blue"} {
			v, err := paramInt(params[key], 0, 255)
			if err != nil {
				return "", fmt.Errorf("%w: %s: %w", errInvalidParameters, key, err)
			}
			rgb[i] = v
		}
		return fmt.Sprintf("exact?red=%d&green=%d&blue=%d", rgb[0], rgb[1], rgb[2]), nil
	}

	return command, nil
}

// paramInt reads a numeric command parameter, rounding and clamping it.
func paramInt(v any, lo, hi int) (int, error) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		f = parsed
	case nil:
		return 0, errors.New("missing")
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a number: %v", f)
	}

	n := int(math.Round(f))
	return min(max(n, lo), hi), nil
}

func (p *Publisher) getLogger() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}

func (p *Publisher) logInfo(msg string, keysAndValues ...any) {
	if logger := p.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (p *Publisher) logWarn(msg string, keysAndValues ...any) {
	if logger := p.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (p *Publisher) logError(msg string, err error) {
	if logger := p.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
