package p2p_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/escrownet/escrowd/internal/p2p"
	"github.com/escrownet/escrowd/pkg/crypto"
)

type fakeTransport struct {
	lock    sync.Mutex
	pending []p2p.TransportEvent
	sent    []string
	batch   int
	err     error
}

func (f *fakeTransport) push(bodies ...string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	for _, body := range bodies {
		f.batch++
		f.pending = append(f.pending, p2p.TransportEvent{
			ID:   fmt.Sprintf("$event%d", f.batch),
			Body: body,
		})
	}
}

func (f *fakeTransport) Sync(context.Context) (string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("batch%d", f.batch), nil
}

func (f *fakeTransport) Events(context.Context, string) ([]p2p.TransportEvent, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	events := f.pending
	f.pending = nil
	return events, nil
}

func (f *fakeTransport) SendMessage(_ context.Context, body string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.sent = append(f.sent, body)
	return nil
}

type fakeKeyStore struct {
	keyPairs   map[string]*crypto.KeyPair
	publicKeys map[string]*crypto.PublicKey
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{
		keyPairs:   make(map[string]*crypto.KeyPair),
		publicKeys: make(map[string]*crypto.PublicKey),
	}
}

func (f *fakeKeyStore) addKeyPair(keyPair *crypto.KeyPair) {
	f.keyPairs[string(keyPair.InterfaceID)] = keyPair
}

func (f *fakeKeyStore) addPublicKey(publicKey *crypto.PublicKey) {
	f.publicKeys[string(publicKey.InterfaceID)] = publicKey
}

func (f *fakeKeyStore) GetKeyPair(interfaceID []byte) (*crypto.KeyPair, error) {
	return f.keyPairs[string(interfaceID)], nil
}

func (f *fakeKeyStore) GetPublicKey(interfaceID []byte) (*crypto.PublicKey, error) {
	return f.publicKeys[string(interfaceID)], nil
}

type recordingMessageHandlers struct {
	lock          sync.Mutex
	announcements []*p2p.PublicKeyAnnouncement
	takerInfo     []*p2p.TakerInformationMessage
	makerInfo     []*p2p.MakerInformationMessage
	userPKAs      []*p2p.PublicKeyAnnouncementAsUserForDispute
	agentPKAs     []*p2p.PublicKeyAnnouncementAsAgentForDispute
	commKeys      []*p2p.CommunicationKeyMessage
}

func (r *recordingMessageHandlers) HandlePublicKeyAnnouncement(m *p2p.PublicKeyAnnouncement) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.announcements = append(r.announcements, m)
	return nil
}

func (r *recordingMessageHandlers) HandleTakerInformationMessage(m *p2p.TakerInformationMessage) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.takerInfo = append(r.takerInfo, m)
	return nil
}

func (r *recordingMessageHandlers) HandleMakerInformationMessage(
	m *p2p.MakerInformationMessage, senderID, recipientID []byte,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.makerInfo = append(r.makerInfo, m)
	return nil
}

func (r *recordingMessageHandlers) HandlePublicKeyAnnouncementAsUserForDispute(
	m *p2p.PublicKeyAnnouncementAsUserForDispute,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.userPKAs = append(r.userPKAs, m)
	return nil
}

func (r *recordingMessageHandlers) HandlePublicKeyAnnouncementAsAgentForDispute(
	m *p2p.PublicKeyAnnouncementAsAgentForDispute,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.agentPKAs = append(r.agentPKAs, m)
	return nil
}

func (r *recordingMessageHandlers) HandleCommunicationKeyMessage(m *p2p.CommunicationKeyMessage) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.commKeys = append(r.commKeys, m)
	return nil
}

func (r *recordingMessageHandlers) counts() (int, int, int) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.announcements), len(r.takerInfo), len(r.makerInfo)
}

type nopP2PExceptionHandler struct{}

func (nopP2PExceptionHandler) HandleP2PException(error) {}

func TestListenDispatchesParsedMessages(t *testing.T) {
	makerKeyPair := newKeyPair(t)
	takerKeyPair := newKeyPair(t)
	offerID, swapID := uuid.New(), uuid.New()

	announcement, err := p2p.BuildPublicKeyAnnouncement(makerKeyPair, offerID)
	require.NoError(t, err)
	takerInfo, err := p2p.BuildTakerInformationMessage(
		takerKeyPair, makerKeyPair.Public(), swapID, "details",
	)
	require.NoError(t, err)
	makerInfo, err := p2p.BuildMakerInformationMessage(
		makerKeyPair, takerKeyPair.Public(), swapID, "details",
	)
	require.NoError(t, err)

	keyStore := newFakeKeyStore()
	keyStore.addKeyPair(makerKeyPair)
	keyStore.addKeyPair(takerKeyPair)
	keyStore.addPublicKey(makerKeyPair.Public())

	transport := &fakeTransport{}
	transport.push(announcement, "garbage that matches nothing", takerInfo, makerInfo)

	handlers := &recordingMessageHandlers{}
	service := p2p.NewService(p2p.ServiceOpts{
		Transport:        transport,
		KeyStore:         keyStore,
		PollInterval:     5 * time.Millisecond,
		ExceptionHandler: nopP2PExceptionHandler{},
	})
	service.RegisterHandlers(handlers, handlers, handlers)

	service.Listen(context.Background())
	require.Eventually(t, func() bool {
		a, ti, mi := handlers.counts()
		return a == 1 && ti == 1 && mi == 1
	}, 2*time.Second, 10*time.Millisecond)
	service.StopListening()

	require.Equal(t, offerID, handlers.announcements[0].OfferID)
	require.Equal(t, swapID, handlers.takerInfo[0].SwapID)
	require.Equal(t, swapID, handlers.makerInfo[0].SwapID)
	require.NotEmpty(t, service.LastNonEmptyBatchToken())
}

func TestListenIgnoresMalformedAnnouncements(t *testing.T) {
	makerKeyPair := newKeyPair(t)
	announcement, err := p2p.BuildPublicKeyAnnouncement(makerKeyPair, uuid.New())
	require.NoError(t, err)

	transport := &fakeTransport{}
	transport.push(
		"not json at all",
		tamper(t, announcement, "signature"),
		tamper(t, announcement, "payload"),
	)

	handlers := &recordingMessageHandlers{}
	service := p2p.NewService(p2p.ServiceOpts{
		Transport:        transport,
		KeyStore:         newFakeKeyStore(),
		PollInterval:     5 * time.Millisecond,
		ExceptionHandler: nopP2PExceptionHandler{},
	})
	service.RegisterHandlers(handlers, handlers, handlers)

	service.Listen(context.Background())
	require.Eventually(t, func() bool {
		transport.lock.Lock()
		defer transport.lock.Unlock()
		return len(transport.pending) == 0
	}, time.Second, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	service.StopListening()

	a, ti, mi := handlers.counts()
	require.Zero(t, a)
	require.Zero(t, ti)
	require.Zero(t, mi)
}
