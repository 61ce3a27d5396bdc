package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/purrmint/purrmint/cashu"
	"github.com/purrmint/purrmint/client"
	"github.com/purrmint/purrmint/relay"
	"github.com/purrmint/purrmint/signer"
	"github.com/urfave/cli/v2"
)

const (
	MINT_FLAG    = "mint"
	RELAYS_FLAG  = "relays"
	NSEC_FLAG    = "nsec"
	TIMEOUT_FLAG = "timeout"
	VERBOSE_FLAG = "verbose"
)

var nip74Client *client.Client

func main() {
	app := &cli.App{
		Name:  "purrmint-cli",
		Usage: "talk to a Cashu mint over NIP-74",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    MINT_FLAG,
				Usage:   "mint public key as npub or hex",
				EnvVars: []string{"PURRMINT_MINT"},
			},
			&cli.StringSliceFlag{
				Name:    RELAYS_FLAG,
				Usage:   "relays to reach the mint on",
				EnvVars: []string{"PURRMINT_RELAYS"},
			},
			&cli.StringFlag{
				Name:    NSEC_FLAG,
				Usage:   "secret key to sign requests with. A new key is used when empty",
				EnvVars: []string{"PURRMINT_CLIENT_NSEC"},
			},
			&cli.DurationFlag{
				Name:  TIMEOUT_FLAG,
				Usage: "how long to wait for each reply",
				Value: client.DefaultTimeout,
			},
			&cli.BoolFlag{
				Name:  VERBOSE_FLAG,
				Usage: "log relay activity",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "info",
				Usage:  "Get mint info and active keysets",
				Before: setupClient,
				After:  closeClient,
				Action: info,
			},
			{
				Name:      "mint-quote",
				Usage:     "Request a mint quote",
				ArgsUsage: "[amount]",
				Before:    setupClient,
				After:     closeClient,
				Action:    mintQuote,
			},
			{
				Name:      "check-mint-quote",
				Usage:     "Check the state of a mint quote",
				ArgsUsage: "[quote id]",
				Before:    setupClient,
				After:     closeClient,
				Action:    checkMintQuote,
			},
			{
				Name:      "mint",
				Usage:     "Mint tokens for a paid quote",
				ArgsUsage: "[quote id]",
				Before:    setupClient,
				After:     closeClient,
				Action:    mintTokens,
			},
			{
				Name:      "melt-quote",
				Usage:     "Request a melt quote",
				ArgsUsage: "[invoice]",
				Before:    setupClient,
				After:     closeClient,
				Action:    meltQuote,
			},
			{
				Name:      "check-melt-quote",
				Usage:     "Check the state of a melt quote",
				ArgsUsage: "[quote id]",
				Before:    setupClient,
				After:     closeClient,
				Action:    checkMeltQuote,
			},
			{
				Name:      "melt",
				Usage:     "Pay a melt quote with a token",
				ArgsUsage: "[quote id] [token]",
				Before:    setupClient,
				After:     closeClient,
				Action:    melt,
			},
			{
				Name:   "keygen",
				Usage:  "Generate a nostr key pair",
				Action: keygen,
			},
			{
				Name:      "npub",
				Usage:     "Print the npub of a secret key",
				ArgsUsage: "[nsec]",
				Action:    npub,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setupClient(ctx *cli.Context) error {
	var s *signer.LocalSigner
	var err error
	if nsec := ctx.String(NSEC_FLAG); nsec != "" {
		s, err = signer.NewLocalSigner(nsec)
	} else {
		s, err = signer.Generate()
	}
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if ctx.Bool(VERBOSE_FLAG) {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	pool, err := relay.NewNostrPool(logger)
	if err != nil {
		return err
	}

	config := client.Config{
		MintPubkey: ctx.String(MINT_FLAG),
		Relays:     ctx.StringSlice(RELAYS_FLAG),
		Timeout:    ctx.Duration(TIMEOUT_FLAG),
		Logger:     logger,
	}
	if config.MintPubkey == "" {
		return errors.New("specify the mint with --mint or PURRMINT_MINT")
	}

	nip74Client, err = client.New(ctx.Context, config, s, pool)
	return err
}

func closeClient(ctx *cli.Context) error {
	if nip74Client != nil {
		nip74Client.Close()
	}
	return nil
}

func info(ctx *cli.Context) error {
	mintInfo, err := nip74Client.Info(ctx.Context)
	if err != nil {
		return err
	}
	return printJSON(mintInfo)
}

func mintQuote(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		return errors.New("specify an amount")
	}
	amount, err := strconv.ParseUint(args.First(), 10, 64)
	if err != nil {
		return errors.New("invalid amount")
	}

	quote, err := nip74Client.RequestMintQuote(ctx.Context, amount)
	if err != nil {
		return err
	}
	return printJSON(quote)
}

func checkMintQuote(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		return errors.New("specify a quote id")
	}

	quote, err := nip74Client.MintQuoteState(ctx.Context, args.First())
	if err != nil {
		return err
	}
	return printJSON(quote)
}

func mintTokens(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		return errors.New("specify a quote id")
	}
	quoteId := args.First()

	quote, err := nip74Client.MintQuoteState(ctx.Context, quoteId)
	if err != nil {
		return err
	}
	proofs, err := nip74Client.Mint(ctx.Context, quoteId, quote.Amount)
	if err != nil {
		return err
	}

	mintNpub, err := nip19.EncodePublicKey(nip74Client.MintPubkey())
	if err != nil {
		return err
	}
	token, err := cashu.NewTokenV4(proofs, mintNpub, cashu.Sat)
	if err != nil {
		return err
	}
	tokenString, err := token.Serialize()
	if err != nil {
		return err
	}
	fmt.Println(tokenString)
	return nil
}

func meltQuote(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		return errors.New("specify an invoice")
	}

	quote, err := nip74Client.RequestMeltQuote(ctx.Context, args.First())
	if err != nil {
		return err
	}
	return printJSON(quote)
}

func checkMeltQuote(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		return errors.New("specify a quote id")
	}

	quote, err := nip74Client.MeltQuoteState(ctx.Context, args.First())
	if err != nil {
		return err
	}
	return printJSON(quote)
}

func melt(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 2 {
		return errors.New("specify a quote id and a token")
	}

	token, err := cashu.DecodeTokenV4(args.Get(1))
	if err != nil {
		return err
	}

	quote, err := nip74Client.MeltTokens(ctx.Context, args.First(), token.Proofs())
	if err != nil {
		return err
	}
	return printJSON(quote)
}

func keygen(ctx *cli.Context) error {
	s, err := signer.Generate()
	if err != nil {
		return err
	}
	nsec, err := s.Nsec()
	if err != nil {
		return err
	}
	npub, err := s.Npub()
	if err != nil {
		return err
	}
	fmt.Printf("nsec: %v\nnpub: %v\n", nsec, npub)
	return nil
}

func npub(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		return errors.New("specify a secret key")
	}
	npub, err := signer.NsecToNpub(args.First())
	if err != nil {
		return err
	}
	fmt.Println(npub)
	return nil
}

func printJSON(v any) error {
	jsonRes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(jsonRes))
	return nil
}
