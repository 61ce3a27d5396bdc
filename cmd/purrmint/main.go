package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/purrmint/purrmint/mint"
	"github.com/purrmint/purrmint/mint/lightning"
	"github.com/purrmint/purrmint/mintclient"
	"github.com/purrmint/purrmint/relay"
	"github.com/purrmint/purrmint/service"
	"github.com/purrmint/purrmint/signer"
)

const defaultRelay = "wss://relay.damus.io"

func main() {
	// a .env file is optional, the environment may already be set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("error loading .env file: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()}))

	s, err := loadSigner()
	if err != nil {
		log.Fatal(err)
	}

	mode := service.Both
	if m := os.Getenv("PURRMINT_MODE"); m != "" {
		mode, err = service.ParseMode(m)
		if err != nil {
			log.Fatal(err)
		}
	}

	config := service.Config{
		Mode:       mode,
		Relays:     relays(),
		Identifier: os.Getenv("PURRMINT_IDENTIFIER"),
		Logger:     logger,
	}

	if mode == service.LocalMintOnly || mode == service.Both {
		mintConfig, err := mintConfig(s)
		if err != nil {
			log.Fatalf("error setting up mint config: %v", err)
		}
		config.LocalMint = mint.NewMintd(mintConfig)
	} else if mintURL := os.Getenv("MINT_URL"); mintURL != "" {
		backend, err := mintclient.New(mintURL)
		if err != nil {
			log.Fatalf("error setting up mint client: %v", err)
		}
		config.Backend = backend
	}

	if mode != service.LocalMintOnly {
		pool, err := relay.NewNostrPool(logger)
		if err != nil {
			log.Fatal(err)
		}
		config.Pool = pool
	}

	svc, err := service.New(config)
	if err != nil {
		log.Fatal(err)
	}
	if mode != service.LocalMintOnly {
		if err := svc.SetSigner(s); err != nil {
			log.Fatal(err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		log.Fatalf("error starting purrmint: %v", err)
	}
	logger.Info(fmt.Sprintf("purrmint started: %v", svc.Status()))
	if npub, err := s.Npub(); err == nil && mode != service.LocalMintOnly {
		logger.Info(fmt.Sprintf("reach this mint at %v", npub))
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Fatalf("error stopping purrmint: %v", err)
	}
	logger.Info("purrmint stopped")
}

func logLevel() slog.Level {
	switch strings.ToLower(os.Getenv("LOG")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadSigner uses PURRMINT_NSEC, or a fresh key when it is not set.
func loadSigner() (*signer.LocalSigner, error) {
	nsec := os.Getenv("PURRMINT_NSEC")
	if nsec == "" {
		log.Println("PURRMINT_NSEC not set, generating a new key for this run")
		return signer.Generate()
	}
	s, err := signer.NewLocalSigner(nsec)
	if err != nil {
		return nil, fmt.Errorf("invalid PURRMINT_NSEC: %v", err)
	}
	return s, nil
}

func relays() []string {
	env := os.Getenv("PURRMINT_RELAYS")
	if env == "" {
		return []string{defaultRelay}
	}
	var urls []string
	for _, url := range strings.Split(env, ",") {
		if url = strings.TrimSpace(url); url != "" {
			urls = append(urls, url)
		}
	}
	return urls
}

func mintConfig(s *signer.LocalSigner) (mint.Config, error) {
	var seed []byte
	var err error
	if mnemonic := os.Getenv("MINT_MNEMONIC"); mnemonic != "" {
		seed, err = mint.SeedFromMnemonic(mnemonic)
	} else if os.Getenv("PURRMINT_NSEC") != "" {
		var nsec string
		if nsec, err = s.Nsec(); err == nil {
			seed, err = mint.SeedFromSecretKey(nsec)
		}
	} else {
		log.Println("no MINT_MNEMONIC or PURRMINT_NSEC set, using the development mnemonic")
		seed, err = mint.SeedFromMnemonic(mint.DevMnemonic)
	}
	if err != nil {
		return mint.Config{}, err
	}

	port := 0
	if p := os.Getenv("MINT_PORT"); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return mint.Config{}, fmt.Errorf("invalid MINT_PORT: %v", err)
		}
	}

	var limits mint.MintLimits
	if limits.MaxBalance, err = envUint("MINT_MAX_BALANCE"); err != nil {
		return mint.Config{}, err
	}
	if limits.MintingSettings.MaxAmount, err = envUint("MINT_MAX_MINT_AMOUNT"); err != nil {
		return mint.Config{}, err
	}
	if limits.MeltingSettings.MaxAmount, err = envUint("MINT_MAX_MELT_AMOUNT"); err != nil {
		return mint.Config{}, err
	}

	lightningClient, err := lightningClient()
	if err != nil {
		return mint.Config{}, err
	}

	logLevel := mint.Info
	switch strings.ToLower(os.Getenv("LOG")) {
	case "debug":
		logLevel = mint.Debug
	case "disable":
		logLevel = mint.Disable
	}

	return mint.Config{
		Seed:     seed,
		Port:     port,
		MintPath: os.Getenv("MINT_PATH"),
		MintInfo: mint.MintInfo{
			Name:        os.Getenv("MINT_NAME"),
			Pubkey:      s.PublicKey(),
			Description: os.Getenv("MINT_DESCRIPTION"),
		},
		Limits:          limits,
		LightningClient: lightningClient,
		LogLevel:        logLevel,
	}, nil
}

func lightningClient() (lightning.Client, error) {
	switch strings.ToLower(os.Getenv("LIGHTNING_BACKEND")) {
	case "", "fakebackend":
		return &lightning.FakeBackend{}, nil
	case "lnd":
		return lightning.CreateLndClient(lightning.LndConfig{
			Host:         os.Getenv("LND_REST_HOST"),
			CertPath:     os.Getenv("LND_CERT_PATH"),
			MacaroonPath: os.Getenv("LND_MACAROON_PATH"),
		})
	case "cln":
		return lightning.SetupCLNClient(lightning.CLNConfig{
			RestURL: os.Getenv("CLN_REST_URL"),
			Rune:    os.Getenv("CLN_RUNE"),
		})
	default:
		return nil, fmt.Errorf("unknown LIGHTNING_BACKEND %q", os.Getenv("LIGHTNING_BACKEND"))
	}
}

func envUint(key string) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %v: %v", key, err)
	}
	return n, nil
}
