package main

import (
	"context"
	"crypto/ecdsa"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	log "github.com/sirupsen/logrus"

	"github.com/escrownet/escrowd/internal/chain"
	"github.com/escrownet/escrowd/internal/config"
	"github.com/escrownet/escrowd/internal/core/application"
	dbbadger "github.com/escrownet/escrowd/internal/infrastructure/storage/db/badger"
	"github.com/escrownet/escrowd/internal/p2p"
	"github.com/escrownet/escrowd/internal/p2p/matrix"
)

func main() {
	if err := config.InitConfig(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	key, err := loadEthereumKey(config.GetString(config.EthereumKeyFileKey))
	if err != nil {
		log.WithError(err).Fatal("error loading Ethereum key")
	}

	dbDir := filepath.Join(config.GetDatadir(), config.DbLocation)
	db, err := dbbadger.NewDbManager(dbDir, log.New())
	if err != nil {
		log.WithError(err).Fatal("error opening db")
	}
	defer db.Close()

	ctx := context.Background()
	chainSvc, err := chain.NewService(ctx, chain.ServiceOpts{
		NodeURL:          config.GetString(config.EthereumNodeURLKey),
		ContractAddress:  config.GetString(config.ContractAddressKey),
		Key:              key,
		PollInterval:     config.GetDuration(config.ChainPollIntervalKey),
		StartBlock:       config.GetUint64(config.ChainStartBlockKey),
		ExceptionHandler: exceptionLogger{},
	})
	if err != nil {
		log.WithError(err).Fatal("error connecting to Ethereum node")
	}

	transport, err := matrix.NewClient(matrix.ClientOpts{
		HomeserverURL: config.GetString(config.MatrixHomeserverURLKey),
		AccessToken:   config.GetString(config.MatrixAccessTokenKey),
		RoomID:        config.GetString(config.MatrixRoomIDKey),
	})
	if err != nil {
		log.WithError(err).Fatal("error creating Matrix client")
	}

	keyManager := application.NewKeyManagerService(dbbadger.NewKeyRepositoryImpl(db))
	p2pSvc := p2p.NewService(p2p.ServiceOpts{
		Transport:        transport,
		KeyStore:         keyManager,
		PollInterval:     config.GetDuration(config.P2PPollIntervalKey),
		ExceptionHandler: exceptionLogger{},
	})

	offerTruth := application.NewOfferTruthSource()
	swapTruth := application.NewSwapTruthSource()
	disputeTruth := application.NewDisputeTruthSource()

	swapSvc := application.NewSwapService(application.SwapServiceOpts{
		Blockchain:  chainSvc,
		Messenger:   p2pSvc,
		KeyManager:  keyManager,
		Repository:  dbbadger.NewSwapRepositoryImpl(db),
		TruthSource: swapTruth,
		Offers:      offerTruth,
	})
	offerSvc := application.NewOfferService(application.OfferServiceOpts{
		Blockchain:  chainSvc,
		Messenger:   p2pSvc,
		KeyManager:  keyManager,
		Repository:  dbbadger.NewOfferRepositoryImpl(db),
		TruthSource: offerTruth,
		SwapTracker: swapSvc,
	})
	disputeSvc := application.NewDisputeService(application.DisputeServiceOpts{
		Blockchain:  chainSvc,
		Messenger:   p2pSvc,
		KeyManager:  keyManager,
		Swaps:       dbbadger.NewSwapRepositoryImpl(db),
		SwapTruth:   swapTruth,
		Repository:  dbbadger.NewDisputeRepositoryImpl(db),
		TruthSource: disputeTruth,
		OnChainKey:  key,
	})

	chainSvc.RegisterHandlers(offerSvc, swapSvc, disputeSvc)
	p2pSvc.RegisterHandlers(offerSvc, swapSvc, disputeSvc)

	chainSvc.Listen(ctx)
	p2pSvc.Listen(ctx)
	log.Info("escrowd is up and running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Debug("exiting")
	chainSvc.StopListening()
	p2pSvc.StopListening()
}

func loadEthereumKey(path string) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	hexKey := strings.TrimSpace(string(raw))
	hexKey = strings.TrimPrefix(hexKey, "0x")
	return gethcrypto.HexToECDSA(hexKey)
}

type exceptionLogger struct{}

func (exceptionLogger) HandleBlockchainException(err error) {
	log.WithError(err).Error("blockchain listen loop")
}

func (exceptionLogger) HandleP2PException(err error) {
	log.WithError(err).Error("messaging listen loop")
}
