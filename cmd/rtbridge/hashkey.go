package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"rtbridge/cmd/security/accesskey"

	"github.com/spf13/cobra"
)

func newHashKeyCmd() *cobra.Command {
	var (
		generate bool
		length   int
	)
	cmd := &cobra.Command{
		Use:   "hash-key",
		Short: "Hash a relay access key for RTB_RELAY_ACCESS_KEY_HASH",
		Long: `Read an access key from stdin (or generate one with --generate) and print its
Argon2id hash. Put the hash in RTB_RELAY_ACCESS_KEY_HASH and hand the key to
browser clients. Cost follows the RTB_ARGON2_* variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHashKey(cmd.InOrStdin(), cmd.OutOrStdout(), generate, length)
		},
	}
	cmd.Flags().BoolVarP(&generate, "generate", "g", false, "generate a random key and print it too")
	cmd.Flags().IntVar(&length, "bytes", 32, "random bytes in a generated key")
	return cmd
}

func runHashKey(in io.Reader, out io.Writer, generate bool, n int) error {
	cfg, err := accesskey.FromEnv()
	if err != nil {
		return err
	}

	var key string
	if generate {
		if key, err = accesskey.Generate(n); err != nil {
			return err
		}
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("read key: %w", err)
		}
		key = strings.TrimRight(line, "\r\n")
	}

	hash, err := cfg.Hash(key)
	if err != nil {
		return err
	}
	if generate {
		fmt.Fprintf(out, "key:  %s\n", key)
	}
	fmt.Fprintf(out, "hash: %s\n", hash)
	return nil
}
