package control

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/droidpilot/internal/engine"
	"github.com/nerrad567/droidpilot/internal/infrastructure/mqtt"
	"github.com/nerrad567/droidpilot/internal/runstate"
)

// Command names accepted on the command topic.
const (
	CommandStop    = "stop"
	CommandAdvance = "advance"
	CommandStats   = "stats"
)

// commandQoS is the subscription QoS for the command topic.
const commandQoS = 1

// Client is the subset of mqtt.Client the listener needs.
type Client interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishJSON(topic string, v any, retained bool) error
}

// Target is the run being controlled. *engine.Interpreter satisfies it.
type Target interface {
	RequestStop(o runstate.Outcome) bool
	Stats() engine.Stats
}

// Logger defines the logging interface for the listener.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// CommandMessage is a command received on the command topic.
type CommandMessage struct {
	// ID correlates the command with its acknowledgement. Optional.
	ID string `json:"id,omitempty"`

	Command string `json:"command"`
}

// AckMessage acknowledges a command.
type AckMessage struct {
	CommandID string    `json:"command_id,omitempty"`
	Command   string    `json:"command"`
	Bot       string    `json:"bot"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Listener routes MQTT commands to a running bot.
//
// Thread Safety:
//   - Handlers run on paho goroutines; the listener itself holds no
//     state beyond its subscription.
type Listener struct {
	client Client
	target Target
	bot    string
	logger Logger

	mu         sync.Mutex
	subscribed bool
}

// NewListener creates a listener for bot. Call Start to subscribe.
func NewListener(client Client, bot string, target Target) *Listener {
	return &Listener{
		client: client,
		target: target,
		bot:    bot,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the listener.
func (l *Listener) SetLogger(logger Logger) {
	l.logger = logger
}

// Topic returns the command topic this listener serves.
func (l *Listener) Topic() string {
	return mqtt.Topics{}.BotCommand(l.bot)
}

// Start subscribes to the command topic.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subscribed {
		return nil
	}
	if err := l.client.Subscribe(l.Topic(), commandQoS, l.handleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", l.Topic(), err)
	}
	l.subscribed = true
	l.logger.Info("listening for commands", "topic", l.Topic())
	return nil
}

// Stop unsubscribes. It is safe to call more than once.
func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.subscribed {
		return nil
	}
	l.subscribed = false
	if err := l.client.Unsubscribe(l.Topic()); err != nil {
		return fmt.Errorf("unsubscribing from %s: %w", l.Topic(), err)
	}
	return nil
}

// handleMessage is the mqtt.MessageHandler for the command topic.
func (l *Listener) handleMessage(_ string, payload []byte) error {
	cmd, err := parseCommand(payload)
	if err != nil {
		l.logger.Warn("ignoring command", "bot", l.bot, "error", err)
		l.ack(CommandMessage{}, err)
		return err
	}

	l.logger.Info("received command", "bot", l.bot, "command", cmd.Command, "command_id", cmd.ID)
	err = l.execute(cmd)
	l.ack(cmd, err)
	return err
}

func (l *Listener) execute(cmd CommandMessage) error {
	switch cmd.Command {
	case CommandStop:
		return l.requestStop(runstate.OutcomeStopped)
	case CommandAdvance:
		return l.requestStop(runstate.OutcomeAdvance)
	case CommandStats:
		return l.client.PublishJSON(mqtt.Topics{}.BotStats(l.bot), l.target.Stats(), false)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
}

func (l *Listener) requestStop(o runstate.Outcome) error {
	if !l.target.RequestStop(o) {
		return ErrAlreadyStopping
	}
	return nil
}

func (l *Listener) ack(cmd CommandMessage, err error) {
	msg := AckMessage{
		CommandID: cmd.ID,
		Command:   cmd.Command,
		Bot:       l.bot,
		OK:        err == nil,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		msg.Error = err.Error()
	}
	if pubErr := l.client.PublishJSON(mqtt.Topics{}.BotEvent(l.bot, "ack"), msg, false); pubErr != nil {
		l.logger.Warn("command ack publish failed", "bot", l.bot, "error", pubErr)
	}
}

// parseCommand accepts a bare command name or a JSON CommandMessage.
func parseCommand(payload []byte) (CommandMessage, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return CommandMessage{}, fmt.Errorf("%w: empty", ErrInvalidPayload)
	}

	var cmd CommandMessage
	if payload[0] == '{' {
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return CommandMessage{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
	} else {
		cmd.Command = string(payload)
	}

	cmd.Command = strings.ToLower(strings.TrimSpace(cmd.Command))
	if cmd.Command == "" {
		return CommandMessage{}, fmt.Errorf("%w: missing command", ErrInvalidPayload)
	}
	return cmd, nil
}
