package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/samber/do/v2"
	"github.com/vreid/kessen/internal/pkg/codec"
	"github.com/vreid/kessen/internal/pkg/common"
	"github.com/vreid/kessen/internal/pkg/custody"
	"github.com/vreid/kessen/internal/pkg/dispatcher"
	"github.com/vreid/kessen/internal/pkg/duel"
	"github.com/vreid/kessen/internal/pkg/escrow"
	"github.com/vreid/kessen/internal/pkg/events"

	"github.com/urfave/cli/v3"
)

var (
	ErrUnknownEngine = errors.New("unknown engine")
	ErrFlagRange     = errors.New("flag value out of range")
)

type KessenService struct {
	EchoService *common.EchoService `do:""`

	CustodyService *custody.CustodyService `do:""`
	DuelService    *duel.DuelService       `do:""`
}

func runServer(_ context.Context, cmd *cli.Command) error {
	i := do.New()

	do.ProvideNamedValue(i, "port", cmd.Int("port"))
	do.ProvideNamedValue(i, "data-dir", cmd.String("data-dir"))
	do.ProvideNamedValue(i, "log-level", cmd.String("log-level"))

	do.ProvideNamedValue(i, "engine-url", cmd.String("engine-url"))
	do.ProvideNamedValue(i, "engine-queue-size", cmd.Int("engine-queue-size"))
	do.ProvideNamedValue(i, "engine-submit-timeout-ms", cmd.Int("engine-submit-timeout-ms"))
	do.ProvideNamedValue(i, "callback-secret", cmd.String("callback-secret"))
	do.ProvideNamedValue(i, "operator", cmd.String("operator"))
	do.ProvideNamedValue(i, "battle-timeout-minutes", cmd.Int("battle-timeout-minutes"))
	do.ProvideNamedValue(i, "sweep-interval-seconds", cmd.Int("sweep-interval-seconds"))

	resultChan := make(chan dispatcher.Result, 1000)
	var resultSource <-chan dispatcher.Result = resultChan
	var resultSink chan<- dispatcher.Result = resultChan

	do.ProvideNamedValue(i, "result-source", resultSource)
	do.ProvideNamedValue(i, "result-sink", resultSink)

	do.Provide(i, common.NewLogger)
	do.Provide(i, common.NewEchoService)
	do.Provide(i, common.NewDatabaseService)

	do.Provide(i, custody.NewCustodyService)
	do.Provide(i, func(i do.Injector) (escrow.Custody, error) {
		//nolint:wrapcheck
		return do.Invoke[*custody.CustodyService](i)
	})
	do.Provide(i, escrow.NewEscrowService)

	switch engine := cmd.String("engine"); engine {
	case "local":
		do.Provide(i, dispatcher.NewLocalEngine)
	case "remote":
		do.Provide(i, dispatcher.NewRemoteEngine)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEngine, engine)
	}

	do.Provide(i, dispatcher.NewDispatcherService)

	if valkeyAddr := cmd.String("valkey-addr"); valkeyAddr != "" {
		do.ProvideNamedValue(i, "valkey-addr", valkeyAddr)
		do.ProvideNamedValue(i, "valkey-channel", cmd.String("valkey-channel"))
		do.ProvideNamed(i, "event-publisher", events.NewValkeyPublisher)
	}

	do.Provide(i, events.NewBusService)
	do.Provide(i, duel.NewDuelService)

	do.Provide(i, do.InvokeStruct[KessenService])

	kessenService, err := do.Invoke[KessenService](i)
	if err != nil {
		return fmt.Errorf("failed to create kessen service: %w", err)
	}

	kessenService.DuelService.Start()

	defer func() {
		_ = i.Shutdown()
	}()

	//nolint:wrapcheck
	return kessenService.EchoService.Start()
}

type encryptedFighter struct {
	PublicKey codec.PublicKey         `json:"public_key"`
	Nonce     codec.Nonce             `json:"nonce"`
	Stats     codec.EncryptedStats    `json:"stats"`
	Strategy  codec.EncryptedStrategy `json:"strategy"`
}

func runEncrypt(_ context.Context, cmd *cli.Command) error {
	enginePublicKey, err := codec.ParsePublicKey(cmd.String("engine-public-key"))
	if err != nil {
		return fmt.Errorf("failed to parse engine public key: %w", err)
	}

	var privateKey codec.PrivateKey

	if privateKeyHex := cmd.String("private-key"); privateKeyHex != "" {
		privateKey, err = codec.ParsePrivateKey(privateKeyHex)
	} else {
		privateKey, _, err = codec.GenerateKeyPair()
		if err == nil {
			fmt.Fprintf(os.Stderr, "generated private key %s\n", hex.EncodeToString(privateKey[:]))
		}
	}

	if err != nil {
		return fmt.Errorf("failed to load private key: %w", err)
	}

	publicKey, err := privateKey.PublicKey()
	if err != nil {
		return err
	}

	nonce, err := codec.NewNonce()
	if err != nil {
		return err
	}

	stats, strategy, err := fighterFlags(cmd)
	if err != nil {
		return err
	}

	secret, err := codec.DeriveSharedSecret(privateKey, enginePublicKey)
	if err != nil {
		return err
	}

	encStats, encStrategy, err := codec.EncryptFighter(secret, nonce, stats, strategy)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	//nolint:wrapcheck
	return encoder.Encode(encryptedFighter{
		PublicKey: publicKey,
		Nonce:     nonce,
		Stats:     encStats,
		Strategy:  encStrategy,
	})
}

func runSign(_ context.Context, cmd *cli.Command) error {
	var key ed25519.PrivateKey

	if seedHex := cmd.String("signing-key"); seedHex != "" {
		seed, err := hex.DecodeString(seedHex)
		if err != nil || len(seed) != ed25519.SeedSize {
			return fmt.Errorf("%w: signing key must be a %d byte hex seed", ErrFlagRange, ed25519.SeedSize)
		}

		key = ed25519.NewKeyFromSeed(seed)
	} else {
		_, generated, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("failed to generate signing key: %w", err)
		}

		key = generated

		fmt.Fprintf(os.Stderr, "generated signing key %s\n", hex.EncodeToString(key.Seed()))
	}

	body := []byte(cmd.String("body"))

	if bodyFile := cmd.String("body-file"); bodyFile != "" {
		var err error

		body, err = os.ReadFile(bodyFile)
		if err != nil {
			return fmt.Errorf("failed to read body file: %w", err)
		}
	}

	//nolint:forcetypeassert
	caller := common.IdentityFromPublicKey(key.Public().(ed25519.PublicKey))

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	//nolint:wrapcheck
	return encoder.Encode(map[string]string{
		duel.PlayerHeader:          caller.String(),
		duel.PlayerSignatureHeader: common.SignRequest(key, cmd.String("method"), cmd.String("path"), body),
	})
}

func fighterFlags(cmd *cli.Command) (codec.FighterStats, codec.Strategy, error) {
	values := map[string]int{}

	for _, name := range []string{"attack", "defense", "speed"} {
		value := cmd.Int(name)
		if value < 0 || value > math.MaxUint16 {
			return codec.FighterStats{}, codec.Strategy{}, fmt.Errorf("%w: %s=%d", ErrFlagRange, name, value)
		}

		values[name] = value
	}

	for _, name := range []string{"special-move", "stance", "target-stat", "combo1", "combo2", "combo3"} {
		value := cmd.Int(name)
		if value < 0 || value > math.MaxUint8 {
			return codec.FighterStats{}, codec.Strategy{}, fmt.Errorf("%w: %s=%d", ErrFlagRange, name, value)
		}

		values[name] = value
	}

	//nolint:gosec // Ranges checked above
	stats := codec.FighterStats{
		Attack:      uint16(values["attack"]),
		Defense:     uint16(values["defense"]),
		Speed:       uint16(values["speed"]),
		SpecialMove: uint8(values["special-move"]),
	}

	//nolint:gosec
	strategy := codec.Strategy{
		Stance:     uint8(values["stance"]),
		TargetStat: uint8(values["target-stat"]),
		Combo1:     uint8(values["combo1"]),
		Combo2:     uint8(values["combo2"]),
		Combo3:     uint8(values["combo3"]),
	}

	return stats, strategy, nil
}

func fighterFlagDefinitions() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "engine-public-key",
			Required: true,
		},
		&cli.StringFlag{
			Name:    "private-key",
			Sources: cli.EnvVars("KESSEN_PRIVATE_KEY"),
		},
	}

	for _, name := range []string{
		"attack", "defense", "speed", "special-move",
		"stance", "target-stat", "combo1", "combo2", "combo3",
	} {
		flags = append(flags, &cli.IntFlag{Name: name})
	}

	return flags
}

func main() {
	//nolint:exhaustruct
	cmd := &cli.Command{
		Name: "kessen",
		Commands: []*cli.Command{
			{
				Name: "server",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Value:   3000, //nolint:mnd
						Sources: cli.EnvVars("KESSEN_PORT"),
					},
					&cli.StringFlag{
						Name:    "data-dir",
						Value:   "./kessen/data",
						Sources: cli.EnvVars("KESSEN_DATA_DIR"),
					},
					&cli.StringFlag{
						Name:    "log-level",
						Value:   "info",
						Sources: cli.EnvVars("KESSEN_LOG_LEVEL"),
					},
					&cli.StringFlag{
						Name:    "engine",
						Value:   "local",
						Sources: cli.EnvVars("KESSEN_ENGINE"),
					},
					&cli.StringFlag{
						Name:    "engine-url",
						Value:   "http://localhost:3100",
						Sources: cli.EnvVars("KESSEN_ENGINE_URL"),
					},
					&cli.IntFlag{
						Name:    "engine-queue-size",
						Value:   256, //nolint:mnd
						Sources: cli.EnvVars("KESSEN_ENGINE_QUEUE_SIZE"),
					},
					&cli.IntFlag{
						Name:    "engine-submit-timeout-ms",
						Value:   2000, //nolint:mnd
						Sources: cli.EnvVars("KESSEN_ENGINE_SUBMIT_TIMEOUT_MS"),
					},
					&cli.StringFlag{
						Name:    "callback-secret",
						Value:   "",
						Sources: cli.EnvVars("KESSEN_CALLBACK_SECRET"),
					},
					&cli.StringFlag{
						Name:    "operator",
						Value:   "",
						Sources: cli.EnvVars("KESSEN_OPERATOR"),
					},
					&cli.IntFlag{
						Name:    "battle-timeout-minutes",
						Value:   60, //nolint:mnd
						Sources: cli.EnvVars("KESSEN_BATTLE_TIMEOUT_MINUTES"),
					},
					&cli.IntFlag{
						Name:    "sweep-interval-seconds",
						Value:   30, //nolint:mnd
						Sources: cli.EnvVars("KESSEN_SWEEP_INTERVAL_SECONDS"),
					},
					&cli.StringFlag{
						Name:    "valkey-addr",
						Value:   "",
						Sources: cli.EnvVars("KESSEN_VALKEY_ADDR"),
					},
					&cli.StringFlag{
						Name:    "valkey-channel",
						Value:   "kessen:events",
						Sources: cli.EnvVars("KESSEN_VALKEY_CHANNEL"),
					},
				},
				Action: runServer,
			},
			{
				Name:   "encrypt",
				Usage:  "encrypt fighter stats and strategy for create/join",
				Flags:  fighterFlagDefinitions(),
				Action: runEncrypt,
			},
			{
				Name:  "sign",
				Usage: "sign a request body as a player",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "signing-key",
						Sources: cli.EnvVars("KESSEN_SIGNING_KEY"),
					},
					&cli.StringFlag{
						Name:  "method",
						Value: "POST",
					},
					&cli.StringFlag{
						Name:     "path",
						Required: true,
					},
					&cli.StringFlag{
						Name: "body",
					},
					&cli.StringFlag{
						Name: "body-file",
					},
				},
				Action: runSign,
			},
		},
		DefaultCommand: "server",
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
