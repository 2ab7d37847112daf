package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"shadeledger/config"
	"shadeledger/core"
	"shadeledger/core/lederr"
	"shadeledger/crypto"
	"shadeledger/observability/logging"
	"shadeledger/rpc"
	"shadeledger/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genKey := flag.String("genkey", "", "Load or create the hex-encoded key at the given path, print its address and exit")
	flag.Parse()

	if *genKey != "" {
		key, err := loadOrCreateKey(*genKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "genkey: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(key.PubKey().Address().String())
		return
	}

	env := strings.TrimSpace(os.Getenv("SHADE_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		logging.Setup("shaded", env, logging.Options{})
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.Setup("shaded", env, logging.Options{
		FilePath:  cfg.LogFile,
		MaxSizeMB: cfg.LogFileSize,
	})

	admin, err := cfg.Admin()
	if err != nil {
		logger.Error("invalid admin address", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.String("dir", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	ledger := core.NewLedger(db)
	if err := ledger.Initialize(admin.Raw()); err != nil {
		if !errors.Is(err, lederr.ErrAlreadyInitialized) {
			logger.Error("failed to initialize ledger", slog.Any("error", err))
			os.Exit(1)
		}
		// Restart on an existing data dir: the configured admin must match
		// the stored one, the administrator is immutable.
		stored, _, adminErr := ledger.Admin()
		if adminErr != nil {
			logger.Error("failed to read stored admin", slog.Any("error", adminErr))
			os.Exit(1)
		}
		if stored != admin.Raw() {
			logger.Error("configured AdminAddress does not match stored administrator")
			os.Exit(1)
		}
	}

	logger.Info("ledger ready",
		slog.String("network", cfg.NetworkName),
		slog.String("admin", admin.String()),
		slog.String("dataDir", cfg.DataDir),
	)

	server := rpc.NewServer(ledger, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// loadOrCreateKey reads the hex-encoded secp256k1 key stored at path,
// generating and persisting a fresh one when the file does not exist.
func loadOrCreateKey(path string) (*crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		decoded, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decode key file %s: %w", path, err)
		}
		return crypto.PrivateKeyFromBytes(decoded)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	encoded := hex.EncodeToString(key.Bytes())
	if err := os.WriteFile(path, []byte(encoded+"\n"), 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
