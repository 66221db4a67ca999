package session

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rbright/parley/internal/gateway"
	"github.com/rbright/parley/internal/transcript"
	"go.opentelemetry.io/otel/trace"
)

func (c *Controller) lookup(name string) {
	if surface := c.surface(); surface != SurfaceLookup {
		c.logger.Debug("lookup ignored", "surface", string(surface))
		return
	}
	c.pending = true
	c.status = lookupStatus(name)

	turnID := uuid.NewString()
	ctx, span := startTurn(c.ctx, "lookup", turnID)
	c.logger.Info("customer lookup", "turn", turnID)
	go func() {
		result, err := c.gateway.LookupCustomer(ctx, name)
		c.post(func() { c.lookupDone(span, result, err) })
	}()
}

func (c *Controller) lookupDone(span trace.Span, result gateway.LookupResult, err error) {
	c.endTurn(span, "lookup", err)
	c.pending = false

	if err != nil {
		if status, ok := gateway.StatusOf(err); ok {
			c.renderer.Append(transcript.Collector, lookupServerMessage(status))
			c.status = statusLookupServer
			return
		}
		c.renderer.Append(transcript.Collector, lookupNetworkMessage)
		c.status = statusLookupNetwork
		return
	}

	c.renderer.Append(transcript.Collector, result.Message)
	if !result.Found {
		if strings.HasPrefix(result.Message, notFoundPrefix) {
			c.status = statusNotFound
		} else {
			c.status = statusLookupRetry
		}
		return
	}

	c.located = true
	if c.voiceCapable {
		c.status = statusFoundVoice
	} else {
		c.status = statusFoundText
	}
}

// chat sends one operator turn. Callers have already checked the surface.
func (c *Controller) chat(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		c.status = statusEmptyChat
		return
	}

	c.renderer.Append(transcript.User, text)
	c.pending = true
	c.status = statusProcessing

	turnID := uuid.NewString()
	ctx, span := startTurn(c.ctx, "chat", turnID)
	c.logger.Info("chat turn", "turn", turnID, "chars", len(text))
	go func() {
		reply, err := c.gateway.SendChatTurn(ctx, text)
		c.post(func() { c.chatDone(span, reply, err) })
	}()
}

func (c *Controller) chatDone(span trace.Span, reply gateway.ChatReply, err error) {
	c.endTurn(span, "chat", err)
	c.pending = false

	if err != nil {
		message, spoken := chatNetworkMessage, chatNetworkMessage
		c.status = statusChatNetwork
		if status, ok := gateway.StatusOf(err); ok {
			message, spoken = chatServerMessage(status), chatServerFallback
			c.status = statusChatServer
		}
		c.renderer.Append(transcript.Collector, message)
		c.speak(spoken)
		return
	}

	c.renderer.Append(transcript.Collector, reply.Message)
	if c.voiceCapable {
		c.status = statusReplyVoice
	} else {
		c.status = statusReplyText
	}
	c.speak(reply.Message)
}
