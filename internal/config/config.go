package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

const (
	// DatadirKey is the local data directory to store the internal state of
	// the node
	DatadirKey = "DATADIR"
	// LogLevelKey are the different logging levels. For reference on the
	// values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// EthereumNodeURLKey is the RPC endpoint of the Ethereum node to connect to
	EthereumNodeURLKey = "ETHEREUM_NODE_URL"
	// ContractAddressKey is the address of the escrow contract
	ContractAddressKey = "CONTRACT_ADDRESS"
	// EthereumKeyFileKey is the path of a file containing the hex-encoded
	// private key controlling the node's address
	EthereumKeyFileKey = "ETHEREUM_KEY_FILE"
	// ChainPollIntervalKey is the pause between chain listen loop iterations
	ChainPollIntervalKey = "CHAIN_POLL_INTERVAL"
	// ChainStartBlockKey is the block number to resume event parsing from,
	// 0 meaning the current chain head
	ChainStartBlockKey = "CHAIN_START_BLOCK"
	// MatrixHomeserverURLKey is the URL of the Matrix homeserver used for
	// peer messaging
	MatrixHomeserverURLKey = "MATRIX_HOMESERVER_URL"
	// MatrixAccessTokenKey is the access token of the node's Matrix account
	MatrixAccessTokenKey = "MATRIX_ACCESS_TOKEN"
	// MatrixRoomIDKey is the ID of the room all protocol messages flow through
	MatrixRoomIDKey = "MATRIX_ROOM_ID"
	// P2PPollIntervalKey is the pause between messaging listen loop iterations
	P2PPollIntervalKey = "P2P_POLL_INTERVAL"

	// DbLocation is the folder inside the datadir containing db files
	DbLocation = "db"
)

var vip *viper.Viper

var defaultDatadir = btcutil.AppDataDir("escrowd", false)

// InitConfig is called by the main function as soon as it starts.
func InitConfig() error {
	vip = viper.New()
	vip.SetEnvPrefix("ESCROWD")
	vip.AutomaticEnv()

	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(ChainPollIntervalKey, time.Second)
	vip.SetDefault(ChainStartBlockKey, 0)
	vip.SetDefault(P2PPollIntervalKey, time.Second)

	if err := validate(); err != nil {
		return fmt.Errorf("error while validating config: %s", err)
	}

	if err := initDatadir(); err != nil {
		return fmt.Errorf("error while creating datadir: %s", err)
	}

	return nil
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

func GetUint64(key string) uint64 {
	return vip.GetUint64(key)
}

func GetDuration(key string) time.Duration {
	return vip.GetDuration(key)
}

func GetBool(key string) bool {
	return vip.GetBool(key)
}

func GetDatadir() string {
	return GetString(DatadirKey)
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("missing datadir")
	}

	if !vip.IsSet(EthereumNodeURLKey) {
		return fmt.Errorf("missing Ethereum node URL")
	}
	if !common.IsHexAddress(GetString(ContractAddressKey)) {
		return fmt.Errorf("missing or malformed contract address")
	}
	if !vip.IsSet(EthereumKeyFileKey) {
		return fmt.Errorf("missing Ethereum key file")
	}

	homeserver := GetString(MatrixHomeserverURLKey)
	token := GetString(MatrixAccessTokenKey)
	roomID := GetString(MatrixRoomIDKey)
	if homeserver == "" || token == "" || roomID == "" {
		return fmt.Errorf(
			"Matrix homeserver URL, access token and room ID are all required",
		)
	}

	return nil
}

func initDatadir() error {
	return makeDirectoryIfNotExists(filepath.Join(GetDatadir(), DbLocation))
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
