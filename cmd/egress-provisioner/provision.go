package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/open-sspm/egress-provisioner/internal/config"
	"github.com/open-sspm/egress-provisioner/internal/provision"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

type provisionFlags struct {
	plugin                 string
	name                   string
	slug                   string
	connectivity           string
	method                 string
	params                 []string
	paramsFile             string
	secrets                []string
	secretRefs             []string
	secretPrompts          []string
	otherEnvironmentsExist bool
	production             bool
	jsonOutput             bool
}

var provisionOpts provisionFlags

var provisionCmd = &cobra.Command{
	Use:         "provision",
	Short:       "Create or update a connection and its egress integration.",
	Args:        cobra.NoArgs,
	Annotations: structuredLog(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProvision(cmd, provisionOpts)
	},
}

func init() {
	f := provisionCmd.Flags()
	f.StringVar(&provisionOpts.plugin, "plugin", "", "plugin fully-qualified name")
	f.StringVar(&provisionOpts.name, "name", "", "connection display name")
	f.StringVar(&provisionOpts.slug, "slug", "", "connection slug")
	f.StringVar(&provisionOpts.connectivity, "connectivity", "", "connectivity option (direct or privatelink)")
	f.StringVar(&provisionOpts.method, "method", "", "plugin connection method")
	f.StringArrayVar(&provisionOpts.params, "param", nil, "connection parameter key=value (repeatable)")
	f.StringVar(&provisionOpts.paramsFile, "params-file", "", "YAML or JSON file with connection parameters")
	f.StringArrayVar(&provisionOpts.secrets, "secret", nil, "connection secret key=value (repeatable)")
	f.StringArrayVar(&provisionOpts.secretRefs, "secret-ref", nil, "connection secret key=<scheme>:<reference> (repeatable)")
	f.StringArrayVar(&provisionOpts.secretPrompts, "secret-prompt", nil, "prompt for a connection secret on the terminal (repeatable)")
	f.BoolVar(&provisionOpts.otherEnvironmentsExist, "other-environments-exist", false, "other environments of this connection already exist")
	f.BoolVar(&provisionOpts.production, "production", false, "the connection targets a production environment")
	f.BoolVar(&provisionOpts.jsonOutput, "json", false, "print the full result as JSON")
	for _, name := range []string{"plugin", "name", "slug", "connectivity", "method"} {
		_ = provisionCmd.MarkFlagRequired(name)
	}
}

func runProvision(cmd *cobra.Command, opts provisionFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	params, err := collectParameters(opts.paramsFile, opts.params)
	if err != nil {
		return err
	}
	secrets, refs, err := collectSecrets(opts.secrets, opts.secretRefs, opts.secretPrompts, func(key string) (string, error) {
		return promptSecret(cmd, key)
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.ProvisionTimeout)
	defer cancel()

	logger := slog.Default()
	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if len(refs) > 0 {
		resolved, err := rt.secrets.ResolveAll(ctx, refs)
		if err != nil {
			return err
		}
		maps.Copy(secrets, resolved)
	}

	res, err := rt.provisioner.Provision(ctx, provision.Request{
		PluginFQN:               opts.plugin,
		Name:                    opts.name,
		Slug:                    opts.slug,
		Connectivity:            provision.Connectivity(opts.connectivity),
		Method:                  provision.Method(opts.method),
		Parameters:              params,
		Secrets:                 secrets,
		OtherEnvironmentsExist:  opts.otherEnvironmentsExist,
		IsProductionEnvironment: opts.production,
	})
	if err != nil {
		return provisionExitError(err)
	}
	return printResult(cmd.OutOrStdout(), res, opts.jsonOutput)
}

func printResult(w io.Writer, res provision.Result, asJSON bool) error {
	if !asJSON {
		_, err := fmt.Fprintln(w, res.Status)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Status       string          `json:"status"`
		Path         string          `json:"path"`
		Integration  string          `json:"integration"`
		Confirmation json.RawMessage `json:"confirmation,omitempty"`
	}{
		Status:       res.Status,
		Path:         string(res.Path),
		Integration:  res.Integration,
		Confirmation: res.Confirmation,
	})
}

// collectParameters merges the params file with --param flags; flags win.
func collectParameters(file string, pairs []string) (map[string]provision.Value, error) {
	out := map[string]provision.Value{}
	if strings.TrimSpace(file) != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read params file: %w", err)
		}
		fromFile, err := parseParamsDocument(raw)
		if err != nil {
			return nil, fmt.Errorf("params file %s: %w", file, err)
		}
		maps.Copy(out, fromFile)
	}
	flags, err := parseKeyValues("--param", pairs)
	if err != nil {
		return nil, err
	}
	for k, v := range flags {
		out[k] = provision.ScalarValue(v)
	}
	return out, nil
}

// parseParamsDocument decodes a YAML (or JSON) mapping of parameters. Nested
// mappings are kept as attributed records.
func parseParamsDocument(raw []byte) (map[string]provision.Value, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]provision.Value{}, nil
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	out := make(map[string]provision.Value, len(doc))
	for k, v := range doc {
		out[k] = provision.ValueFromAny(v)
	}
	return out, nil
}

// collectSecrets merges --secret, --secret-ref and --secret-prompt. Each
// secret name may come from only one of them.
func collectSecrets(pairs, refPairs, prompts []string, prompt func(key string) (string, error)) (map[string]provision.Value, map[string]string, error) {
	literal, err := parseKeyValues("--secret", pairs)
	if err != nil {
		return nil, nil, err
	}
	refs, err := parseKeyValues("--secret-ref", refPairs)
	if err != nil {
		return nil, nil, err
	}
	secrets := make(map[string]provision.Value, len(literal)+len(prompts))
	for k, v := range literal {
		if _, dup := refs[k]; dup {
			return nil, nil, fmt.Errorf("secret %q given both as a value and as a reference", k)
		}
		secrets[k] = provision.ScalarValue(v)
	}
	for _, key := range prompts {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, nil, errors.New("--secret-prompt expects a secret name")
		}
		_, isLiteral := secrets[key]
		_, isRef := refs[key]
		if isLiteral || isRef {
			return nil, nil, fmt.Errorf("secret %q given more than once", key)
		}
		value, err := prompt(key)
		if err != nil {
			return nil, nil, err
		}
		secrets[key] = provision.ScalarValue(value)
	}
	return secrets, refs, nil
}

func parseKeyValues(flag string, pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%s expects key=value, got %q", flag, pair)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("%s key %q given more than once", flag, key)
		}
		out[key] = value
	}
	return out, nil
}

func promptSecret(cmd *cobra.Command, key string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("cannot prompt for secret %q: stdin is not a terminal", key)
	}
	cmd.PrintErrf("%s: ", key)
	value, err := term.ReadPassword(fd)
	cmd.PrintErrln()
	if err != nil {
		return "", err
	}
	if len(value) == 0 {
		return "", fmt.Errorf("secret %q is empty", key)
	}
	return string(value), nil
}
