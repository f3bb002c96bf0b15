package main

import (
	"errors"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

const (
	defaultAddress  = "127.0.0.1:7654"
	defaultTokenTTL = time.Hour
)

// flags defines epoxyd's CLI flags. Each one except --dev and
// --pretty-log can be set via flag, environment variable, or the app's
// TOML configuration file, in that order of precedence; --dev and
// --pretty-log can only be set as flags.
func flags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "role",
			Usage: "connection role: client or server",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("EPOXYD_ROLE"),
				toml.TOML("epoxyd.role", configFilePath),
			),
			Validator: validateRole,
		},
		&cli.StringFlag{
			Name:  "address",
			Usage: "TCP address to listen on (server) or dial (client)",
			Value: defaultAddress,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("EPOXYD_ADDRESS"),
				toml.TOML("epoxyd.address", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "method",
			Usage: "method name for a client-role demo request",
			Value: "Echo",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("EPOXYD_METHOD"),
				toml.TOML("epoxyd.method", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "payload",
			Usage: "payload text for a client-role demo request",
			Value: "hello",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("EPOXYD_PAYLOAD"),
				toml.TOML("epoxyd.payload", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "token-secret",
			Usage: "symmetric secret used to sign and verify the server's service credential",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("EPOXYD_TOKEN_SECRET"),
				toml.TOML("epoxyd.token_secret", configFilePath),
			),
		},
		&cli.DurationFlag{
			Name:  "token-ttl",
			Usage: "lifetime of the server's service credential",
			Value: defaultTokenTTL,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("EPOXYD_TOKEN_TTL"),
				toml.TOML("epoxyd.token_ttl", configFilePath),
			),
		},
		&cli.BoolFlag{
			Name:  "dev",
			Usage: "simple setup, but unsafe for production",
		},
		&cli.BoolFlag{
			Name:  "pretty-log",
			Usage: "human-readable console logging, instead of JSON",
		},
	}
}

func validateRole(r string) error {
	if r != "client" && r != "server" {
		return errors.New(`must be "client" or "server"`)
	}
	return nil
}
