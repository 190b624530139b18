package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fmueller/audiotext/internal/encrypt"
	"github.com/fmueller/audiotext/internal/failure"
	"github.com/spf13/cobra"
)

func newEncryptCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [text]",
		Short: "Encrypt text with the key from " + encrypt.KeyEnv,
		Long:  "Encrypt text with AES and print a base64 payload. Reads stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runCrypto(cmd, args, func(enc encrypt.Encryptor, input string) (string, error) {
				return enc.Encrypt(input)
			})
		},
	}
}

func newDecryptCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt [payload]",
		Short: "Decrypt a payload produced by encrypt or transcribe --encrypt",
		Long:  "Decrypt a base64 payload with the key from " + encrypt.KeyEnv + ". Reads stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runCrypto(cmd, args, func(enc encrypt.Encryptor, input string) (string, error) {
				return enc.Decrypt(strings.TrimSpace(input))
			})
		},
	}
}

func (a *appState) runCrypto(cmd *cobra.Command, args []string, apply func(encrypt.Encryptor, string) (string, error)) error {
	enc, err := a.encryptor()
	if err != nil {
		return err
	}

	input, err := a.cryptoInput(args)
	if err != nil {
		return err
	}

	output, err := apply(enc, input)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), output)
	return nil
}

func (a *appState) cryptoInput(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if a.stdin == nil {
		return "", failure.New(failure.InvalidInput, "no input: pass an argument or pipe data on stdin")
	}

	data, err := io.ReadAll(a.stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
