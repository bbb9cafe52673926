package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/luxfhe/fhe-wasm/config"
	"github.com/luxfhe/fhe-wasm/errors"
	"github.com/luxfhe/fhe-wasm/internal/logging"
)

const usage = `Usage: luxfhe [flags] <command> [args]

Commands:
  info                      inspect the engine binary and its namespace
  ops                       list the operations and their signatures
  keygen                    generate a key set (--store keeps it in the keystore)
  encrypt <value>           encrypt an unsigned integer
  decrypt <ciphertext>      decrypt a base64 ciphertext
  eval <op> <lhs> <rhs>     apply add, sub, eq or lt to base64 ciphertexts
  serve                     serve the engine and the /v1 API over HTTP

Keys come from --keys (a file written by keygen) or --key-id (a stored bundle).
Environment variables mirror the flags: LUXFHE_WASM_LOCATION, LUXFHE_SERVER_PORT, ...

Flags:
`

type cliFlags struct {
	interactive bool
	store       bool
	bits        uint8
	keysFile    string
	keyID       string
	out         string
}

func main() {
	fs := flag.NewFlagSet("luxfhe", flag.ContinueOnError)
	fs.SortFlags = false
	config.Flags(fs)

	var cf cliFlags
	fs.BoolVarP(&cf.interactive, "interactive", "i", false, "interactive mode with TUI")
	fs.BoolVar(&cf.store, "store", false, "keygen: persist the keys in the keystore")
	fs.Uint8VarP(&cf.bits, "bits", "b", 0, "encrypt: plaintext bit width (default 64)")
	fs.StringVarP(&cf.keysFile, "keys", "k", "", "key set file written by keygen")
	fs.StringVar(&cf.keyID, "key-id", "", "stored key bundle id")
	fs.StringVarP(&cf.out, "out", "o", "", "keygen: write the keys to this file")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}

	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, flags: cf, log: log, out: os.Stdout}
	defer a.close()

	if cf.interactive {
		err = a.runInteractive(ctx)
	} else {
		err = a.run(ctx, fs.Args())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		a.close()
		os.Exit(1)
	}
}
