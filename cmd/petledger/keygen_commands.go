package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

// keygenCommand writes a new keypair in the solana-keygen JSON format that
// SIGNER_KEYPAIR_PATH expects.
func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:      "keygen",
		Usage:     "Generate a signer keypair file",
		ArgsUsage: "PATH",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Overwrite an existing file",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: PATH")
			}
			path := c.Args().First()

			if !c.Bool("force") {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}

			key, err := solanago.NewRandomPrivateKey()
			if err != nil {
				return fmt.Errorf("failed to generate keypair: %w", err)
			}
			if err := writeKeypair(path, key); err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(map[string]string{"path": path, "public_key": key.PublicKey().String()})
			}
			fmt.Printf("✓ Keypair written to %s\n", path)
			fmt.Printf("  Public key: %s\n", key.PublicKey())
			return nil
		},
	}
}

// writeKeypair stores key as a JSON array of its 64 bytes.
func writeKeypair(path string, key solanago.PrivateKey) error {
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write keypair: %w", err)
	}
	return nil
}
