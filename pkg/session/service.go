// Package session owns the messaging client for the lifetime of the
// process. The Service serializes the client's lifecycle signals through a
// single loop that feeds the Relay (broadcast) and the RecoveryController
// (teardown and restart), and exposes the send operation and a status
// snapshot to the HTTP layer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/metrics"
	"github.com/sipeed/wabridge/pkg/whatsapp"
)

// ConnState is the last observed connection state of the client.
type ConnState string

const (
	ConnDisconnected  ConnState = "disconnected"
	ConnAwaitingQR    ConnState = "awaiting_qr"
	ConnAuthenticated ConnState = "authenticated"
	ConnReady         ConnState = "ready"
	ConnErrored       ConnState = "errored"
)

// Status is a read-only snapshot for the status endpoint and for
// subscribers that connect after the fact.
type Status struct {
	State     ConnState `json:"state"`
	QR        string    `json:"qr,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Recovery  State     `json:"recovery"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClientFactory builds the client, wiring its signals to emit.
type ClientFactory func(emit func(whatsapp.Signal)) whatsapp.Client

type Service struct {
	client   whatsapp.Client
	relay    *Relay
	recovery *RecoveryController

	signals chan whatsapp.Signal
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	mu     sync.RWMutex
	status Status
}

func NewService(newClient ClientFactory, pub Publisher, policy RecoveryPolicy, m *metrics.Metrics) *Service {
	s := &Service{
		signals: make(chan whatsapp.Signal, 64),
		done:    make(chan struct{}),
		status: Status{
			State:     ConnDisconnected,
			UpdatedAt: time.Now().UTC(),
		},
	}
	s.client = newClient(s.Emit)
	s.relay = NewRelay(pub, m)
	s.recovery = NewRecoveryController(s.client, policy, m)
	return s
}

// Start launches the signal loop and initializes the client. An
// initialization failure is reported as an error signal, so a locked
// resource at boot goes through the normal recovery path.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop()

	logger.InfoC("session", "Starting WhatsApp client")
	if err := s.client.Initialize(ctx); err != nil {
		s.Emit(whatsapp.Failure(fmt.Errorf("initialize: %w", err)))
	}
}

// Emit queues a lifecycle signal. It blocks while the queue is full so
// ordering is preserved, and drops the signal once the service stops.
func (s *Service) Emit(sig whatsapp.Signal) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.signals <- sig:
	case <-s.done:
	}
}

func (s *Service) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case sig := <-s.signals:
			s.handle(sig)
		}
	}
}

func (s *Service) handle(sig whatsapp.Signal) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("session", "Signal handler panicked", map[string]interface{}{
				"signal": string(sig.Kind),
				"panic":  fmt.Sprint(r),
			})
		}
	}()

	s.observe(sig)
	s.relay.Handle(sig)
	s.recovery.Handle(sig)
}

func (s *Service) observe(sig whatsapp.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch sig.Kind {
	case whatsapp.SignalQR:
		s.status.State = ConnAwaitingQR
		s.status.QR = sig.Payload
	case whatsapp.SignalAuthenticated:
		s.status.State = ConnAuthenticated
		s.status.QR = ""
		s.status.LastError = ""
	case whatsapp.SignalReady:
		s.status.State = ConnReady
		s.status.QR = ""
	case whatsapp.SignalAuthFailure:
		s.status.State = ConnErrored
		s.status.LastError = sig.Payload
	case whatsapp.SignalDisconnected:
		s.status.State = ConnDisconnected
		s.status.QR = ""
	case whatsapp.SignalError:
		s.status.LastError = sig.ErrorText()
		if s.status.State != ConnReady {
			s.status.State = ConnErrored
		}
	}
	s.status.UpdatedAt = time.Now().UTC()
}

// Send performs exactly one send attempt through the client.
func (s *Service) Send(ctx context.Context, number, message string) error {
	return s.client.SendMessage(ctx, number, message)
}

func (s *Service) Status() Status {
	s.mu.RLock()
	st := s.status
	s.mu.RUnlock()
	st.Recovery = s.recovery.State()
	return st
}

// Stop halts recovery and the signal loop, then destroys the client.
func (s *Service) Stop(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.recovery.Stop()
		close(s.done)
		s.wg.Wait()

		if derr := s.client.Destroy(ctx); derr != nil && !errors.Is(derr, whatsapp.ErrNotInitialized) {
			err = fmt.Errorf("destroy client: %w", derr)
		}
		logger.InfoC("session", "WhatsApp client stopped")
	})
	return err
}
