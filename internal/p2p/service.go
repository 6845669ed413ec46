package p2p

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/escrownet/escrowd/pkg/crypto"
)

// TransportEvent is a single text message fetched from the chat network.
type TransportEvent struct {
	ID     string
	Sender string
	Body   string
}

// Transport is the federated chat-room abstraction the service listens on.
// Sync long-polls the homeserver and returns a continuation token, Events
// fetches room messages forward from a token.
type Transport interface {
	Sync(ctx context.Context) (nextBatch string, err error)
	Events(ctx context.Context, from string) ([]TransportEvent, error)
	SendMessage(ctx context.Context, body string) error
}

// FatalTransportError is implemented by transport errors that must stop the
// listen loop, such as authentication failures and unreachable homeservers.
type FatalTransportError interface {
	error
	FatalToListener() bool
}

// KeyStore resolves local key pairs and known peer public keys by interface
// ID. A nil result with a nil error means the key is not known.
type KeyStore interface {
	GetKeyPair(interfaceID []byte) (*crypto.KeyPair, error)
	GetPublicKey(interfaceID []byte) (*crypto.PublicKey, error)
}

// OfferMessageHandler receives offer-related messages from the loop.
type OfferMessageHandler interface {
	HandlePublicKeyAnnouncement(*PublicKeyAnnouncement) error
}

// SwapMessageHandler receives swap-related messages from the loop.
type SwapMessageHandler interface {
	HandleTakerInformationMessage(*TakerInformationMessage) error
	HandleMakerInformationMessage(
		message *MakerInformationMessage, senderID, recipientID []byte,
	) error
}

// DisputeMessageHandler receives dispute-related messages from the loop.
type DisputeMessageHandler interface {
	HandlePublicKeyAnnouncementAsUserForDispute(*PublicKeyAnnouncementAsUserForDispute) error
	HandlePublicKeyAnnouncementAsAgentForDispute(*PublicKeyAnnouncementAsAgentForDispute) error
	HandleCommunicationKeyMessage(*CommunicationKeyMessage) error
}

// ExceptionHandler receives every error raised inside the listen loop.
type ExceptionHandler interface {
	HandleP2PException(error)
}

// ServiceOpts groups the arguments of NewService.
type ServiceOpts struct {
	Transport Transport
	KeyStore  KeyStore
	// StartToken resumes the loop from a previous continuation token.
	// Empty means start from the next sync.
	StartToken string
	// PollInterval is the pause between loop iterations.
	PollInterval time.Duration

	ExceptionHandler ExceptionHandler
}

// Service listens on the chat network, walks every text message through the
// ordered parser list and dispatches matches to the entity services.
type Service struct {
	transport    Transport
	keyStore     KeyStore
	pollInterval time.Duration

	offerHandler     OfferMessageHandler
	swapHandler      SwapMessageHandler
	disputeHandler   DisputeMessageHandler
	exceptionHandler ExceptionHandler

	// lastNonEmptyBatchToken only advances when a batch contained
	// events, so a quiet sync never skips messages delivered late.
	lastNonEmptyBatchToken string

	stopLock sync.Mutex
	stop     context.CancelFunc
	done     chan struct{}
}

func NewService(opts ServiceOpts) *Service {
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Service{
		transport:              opts.Transport,
		keyStore:               opts.KeyStore,
		pollInterval:           pollInterval,
		exceptionHandler:       opts.ExceptionHandler,
		lastNonEmptyBatchToken: opts.StartToken,
	}
}

// RegisterHandlers wires the entity services messages are dispatched to. It
// must be called before Listen.
func (s *Service) RegisterHandlers(
	offer OfferMessageHandler, swap SwapMessageHandler, dispute DisputeMessageHandler,
) {
	s.offerHandler = offer
	s.swapHandler = swap
	s.disputeHandler = dispute
}

// LastNonEmptyBatchToken returns the continuation token to resume from.
func (s *Service) LastNonEmptyBatchToken() string { return s.lastNonEmptyBatchToken }

// SendMessage publishes a built message on the chat network.
func (s *Service) SendMessage(ctx context.Context, message string) error {
	return s.transport.SendMessage(ctx, message)
}

// Listen starts the polling loop in its own goroutine. Calling it while a
// loop is already running is a no-op.
func (s *Service) Listen(ctx context.Context) {
	s.stopLock.Lock()
	defer s.stopLock.Unlock()
	if s.stop != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.stop = cancel
	s.done = make(chan struct{})
	go s.listen(ctx)
}

// StopListening halts the loop and waits for the current iteration to
// finish. It is idempotent.
func (s *Service) StopListening() {
	s.stopLock.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.stopLock.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
}

func (s *Service) listen(ctx context.Context) {
	defer close(s.done)
	log.Info("p2p listener started")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.listenIteration(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("p2p listener")
			if s.exceptionHandler != nil {
				s.exceptionHandler.HandleP2PException(err)
			}
			var fatal FatalTransportError
			if errors.As(err, &fatal) && fatal.FatalToListener() {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.pollInterval):
		}
	}
}

func (s *Service) listenIteration(ctx context.Context) error {
	nextBatch, err := s.transport.Sync(ctx)
	if err != nil {
		return err
	}
	events, err := s.transport.Events(ctx, s.lastNonEmptyBatchToken)
	if err != nil {
		return err
	}
	if err := s.parseEvents(events); err != nil {
		return err
	}
	if len(events) > 0 {
		s.lastNonEmptyBatchToken = nextBatch
		log.WithFields(log.Fields{
			"events": len(events), "token": nextBatch,
		}).Debug("advanced chat continuation token")
	}
	return nil
}

// parseEvents walks every text message through the ordered parser list and
// dispatches the first successful match. Messages matching no parser are
// dropped silently.
func (s *Service) parseEvents(events []TransportEvent) error {
	for _, event := range events {
		if err := s.parseEvent(event); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) parseEvent(event TransportEvent) error {
	// Unencrypted broadcasts first, they are self-contained.
	if pka := ParsePublicKeyAnnouncement(event.Body); pka != nil {
		log.WithField("event", event.ID).Info("got public key announcement")
		return s.offerHandler.HandlePublicKeyAnnouncement(pka)
	}
	if pka := ParsePublicKeyAnnouncementAsUserForDispute(event.Body); pka != nil {
		log.WithField("event", event.ID).Info("got dispute user key announcement")
		return s.disputeHandler.HandlePublicKeyAnnouncementAsUserForDispute(pka)
	}
	if pka := ParsePublicKeyAnnouncementAsAgentForDispute(event.Body); pka != nil {
		log.WithField("event", event.ID).Info("got dispute agent key announcement")
		return s.disputeHandler.HandlePublicKeyAnnouncementAsAgentForDispute(pka)
	}

	// Everything else is encrypted and only parseable when addressed to a
	// locally held key pair.
	envelope := ParseEnvelope(event.Body)
	if envelope == nil || envelope.Recipient == "" {
		return nil
	}
	recipientID, err := b64.DecodeString(envelope.Recipient)
	if err != nil {
		return nil
	}
	keyPair, err := s.keyStore.GetKeyPair(recipientID)
	if err != nil {
		return err
	}
	if keyPair == nil {
		return nil
	}

	if msg := ParseTakerInformationMessage(envelope, keyPair); msg != nil {
		log.WithField("event", event.ID).Info("got taker information message")
		return s.swapHandler.HandleTakerInformationMessage(msg)
	}

	// The remaining types require the sender's public key to already be
	// known.
	senderID, err := b64.DecodeString(envelope.Sender)
	if err != nil {
		return nil
	}
	senderPublicKey, err := s.keyStore.GetPublicKey(senderID)
	if err != nil {
		return err
	}
	if senderPublicKey == nil {
		return nil
	}
	if msg := ParseMakerInformationMessage(envelope, keyPair, senderPublicKey); msg != nil {
		log.WithField("event", event.ID).Info("got maker information message")
		return s.swapHandler.HandleMakerInformationMessage(msg, senderID, recipientID)
	}
	if msg := ParseCommunicationKeyMessage(envelope, keyPair, senderPublicKey); msg != nil {
		log.WithField("event", event.ID).Info("got communication key message")
		return s.disputeHandler.HandleCommunicationKeyMessage(msg)
	}
	return nil
}
