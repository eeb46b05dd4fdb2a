package main

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/open-sspm/egress-provisioner/internal/auth"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	hashTokenGenerate bool
	hashTokenStdin    bool
)

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token",
	Short: "Produce an argon2id hash for API_TOKEN_HASH.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, generated, err := resolveToken(cmd)
		if err != nil {
			return err
		}
		hash, err := auth.HashToken(token)
		if err != nil {
			return err
		}
		if generated {
			cmd.Printf("token: %s\n", token)
		}
		cmd.Printf("API_TOKEN_HASH=%s\n", hash)
		return nil
	},
}

func init() {
	hashTokenCmd.Flags().BoolVar(&hashTokenGenerate, "generate", false, "generate a random token and print it with its hash")
	hashTokenCmd.Flags().BoolVar(&hashTokenStdin, "stdin", false, "read the token from stdin")
}

func resolveToken(cmd *cobra.Command) (string, bool, error) {
	if hashTokenGenerate && hashTokenStdin {
		return "", false, errors.New("--generate and --stdin are mutually exclusive")
	}
	if hashTokenGenerate {
		token, err := auth.GenerateToken()
		return token, true, err
	}
	if hashTokenStdin {
		raw, err := ioReadAllStdin()
		if err != nil {
			return "", false, err
		}
		token := strings.TrimRight(raw, "\r\n")
		if token == "" {
			return "", false, errors.New("token is empty")
		}
		return token, false, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", false, errors.New("no token provided (use --generate or --stdin)")
	}
	cmd.Print("Token: ")
	first, err := term.ReadPassword(fd)
	cmd.Println()
	if err != nil {
		return "", false, err
	}
	cmd.Print("Confirm token: ")
	second, err := term.ReadPassword(fd)
	cmd.Println()
	if err != nil {
		return "", false, err
	}
	if string(first) != string(second) {
		return "", false, errors.New("tokens do not match")
	}
	return string(first), false, nil
}

func ioReadAllStdin() (string, error) {
	in, err := os.Stdin.Stat()
	if err != nil {
		return "", err
	}
	if in.Mode()&os.ModeCharDevice != 0 {
		return "", errors.New("stdin is a terminal; omit --stdin to prompt")
	}
	raw, err := io.ReadAll(io.LimitReader(os.Stdin, 64*1024))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
