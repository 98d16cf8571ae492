package session

import (
	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/metrics"
	"github.com/sipeed/wabridge/pkg/whatsapp"
)

// Broadcast payloads for signals whose detail is not forwarded.
const (
	ReadyMessage         = "WhatsApp conectado e pronto!"
	AuthenticatedMessage = "Autenticado com sucesso"
	AuthFailureMessage   = "Falha na autenticação"
	disconnectedPrefix   = "Cliente desconectado: "
)

// Publisher is where relayed events go. *bus.MessageBus satisfies it.
type Publisher interface {
	Publish(source, eventType string, data interface{})
}

// Relay republishes client lifecycle signals to real-time subscribers,
// one event per signal, and logs them. It never touches the client.
type Relay struct {
	pub     Publisher
	metrics *metrics.Metrics
}

func NewRelay(pub Publisher, m *metrics.Metrics) *Relay {
	return &Relay{pub: pub, metrics: m}
}

func (r *Relay) Handle(sig whatsapp.Signal) {
	var payload string

	switch sig.Kind {
	case whatsapp.SignalQR:
		logger.InfoCF("relay", "Scan the QR code to link this device", map[string]interface{}{
			"length": len(sig.Payload),
		})
		payload = sig.Payload
	case whatsapp.SignalReady:
		logger.InfoC("relay", "WhatsApp connected and ready")
		payload = ReadyMessage
	case whatsapp.SignalAuthenticated:
		logger.InfoC("relay", "WhatsApp authenticated")
		payload = AuthenticatedMessage
	case whatsapp.SignalAuthFailure:
		logger.ErrorCF("relay", "Authentication failed", map[string]interface{}{
			"reason": sig.Payload,
		})
		payload = AuthFailureMessage
	case whatsapp.SignalDisconnected:
		logger.WarnCF("relay", "Client disconnected", map[string]interface{}{
			"reason": sig.Payload,
		})
		payload = disconnectedPrefix + sig.Payload
	case whatsapp.SignalError:
		logger.ErrorCF("relay", "Client error", map[string]interface{}{
			"error": sig.ErrorText(),
		})
		payload = sig.ErrorText()
	default:
		logger.WarnCF("relay", "Ignoring unknown signal", map[string]interface{}{
			"kind": string(sig.Kind),
		})
		return
	}

	r.pub.Publish("relay", string(sig.Kind), payload)
	if r.metrics != nil {
		r.metrics.LifecycleEvents.WithLabelValues(string(sig.Kind)).Inc()
	}
}
