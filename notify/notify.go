// Package notify posts queue events to a Discord channel.
package notify

import (
	"fmt"
	"strings"

	"github.com/Raytar/helpqueue/events"
	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Token   string `mapstructure:"discord-token"`
	Channel string `mapstructure:"discord-channel"`
}

// Sender posts a message to a channel.
type Sender func(channelID, msg string) error

// Notifier renders events and hands them to a Sender.
type Notifier struct {
	send    Sender
	channel string
	log     *logrus.Logger
}

func New(send Sender, channel string, log *logrus.Logger) *Notifier {
	return &Notifier{send: send, channel: channel, log: log}
}

// Open connects to Discord. It returns a nil notifier if no token is
// configured.
func Open(cfg Config, log *logrus.Logger) (*Notifier, func() error, error) {
	if cfg.Token == "" {
		return nil, func() error { return nil }, nil
	}
	if cfg.Channel == "" {
		return nil, nil, fmt.Errorf("discord channel is required when a token is set")
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	if err := s.Open(); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to discord: %w", err)
	}
	return New(sessionSender(s), cfg.Channel, log), s.Close, nil
}

func sessionSender(s *discordgo.Session) Sender {
	return func(channelID, msg string) error {
		_, err := s.ChannelMessageSend(channelID, msg)
		return err
	}
}

// Attach subscribes the notifier to every topic it has a template for.
func (n *Notifier) Attach(bus *events.Bus) (stop func()) {
	topics := make([]events.Topic, 0, len(templates))
	for t := range templates {
		topics = append(topics, t)
	}
	return bus.Subscribe(n.handle, topics...)
}

// Render returns the message for e, or false if e has no message.
func Render(e events.Event) (string, bool, error) {
	tmpl, ok := templates[e.Topic]
	if !ok {
		return "", false, nil
	}
	if e.Topic == events.QueueMeta && e.Meta == nil {
		return "", false, nil
	}
	if e.Topic != events.QueueMeta && e.Question == nil {
		return "", false, nil
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, e); err != nil {
		return "", false, fmt.Errorf("render %s: %w", e.Topic, err)
	}
	return b.String(), true, nil
}

func (n *Notifier) handle(e events.Event) {
	msg, ok, err := Render(e)
	if err != nil {
		n.log.WithField("topic", e.Topic).Errorln("Failed to render message:", err)
		return
	}
	if !ok {
		return
	}
	if err := n.send(n.channel, msg); err != nil {
		n.log.WithField("topic", e.Topic).Errorln("Failed to send message:", err)
	}
}
