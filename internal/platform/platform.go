// Package platform implements the provisioning collaborators against the sync
// engine's SQL endpoint.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/open-sspm/egress-provisioner/internal/provision"
)

const DefaultEngineDatabase = "OMNATA_SYNC_ENGINE"

// Querier is the subset of *pgxpool.Pool the adapter needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Options struct {
	// EngineDatabase is the database holding the lifecycle API procedures.
	EngineDatabase string
}

// Platform implements provision.Platform, provision.DraftDiscarder and
// provision.IntegrationInspector.
type Platform struct {
	db     Querier
	engine string
}

var (
	_ provision.Platform             = (*Platform)(nil)
	_ provision.DraftDiscarder       = (*Platform)(nil)
	_ provision.IntegrationInspector = (*Platform)(nil)
)

func New(db Querier, opts Options) (*Platform, error) {
	if db == nil {
		return nil, errors.New("platform querier is nil")
	}
	engine := strings.TrimSpace(opts.EngineDatabase)
	if engine == "" {
		engine = DefaultEngineDatabase
	}
	if err := ValidateIdentifier(engine); err != nil {
		return nil, fmt.Errorf("engine database: %w", err)
	}
	return &Platform{db: db, engine: engine}, nil
}

// Connect opens a pool against the platform endpoint.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("PLATFORM_DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("platform connect: %w", err)
	}
	return pool, nil
}

func (p *Platform) procedure(name string) string {
	return p.engine + ".API." + name
}

type pluginData struct {
	DatabaseName string `json:"database_name"`
}

func (p *Platform) PluginDatabase(ctx context.Context, fqn string) (string, error) {
	data, err := p.call(ctx, "plugin lookup", "CALL "+p.procedure("PLUGIN_BY_FQN")+"($1)", fqn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("plugin %s: %w", fqn, provision.ErrNotFound)
		}
		return "", err
	}
	var out pluginData
	if err := decodeData(data, &out); err != nil {
		return "", fmt.Errorf("plugin lookup: %w", err)
	}
	if strings.TrimSpace(out.DatabaseName) == "" {
		return "", fmt.Errorf("plugin %s: %w", fqn, provision.ErrNotFound)
	}
	return strings.TrimSpace(out.DatabaseName), nil
}

type connectionData struct {
	ConnectionID string `json:"connection_id"`
}

func (p *Platform) ConnectionID(ctx context.Context, slug string) (string, bool, error) {
	data, err := p.call(ctx, "connection lookup", "CALL "+p.procedure("CONNECTION_BY_SLUG")+"($1)", slug)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	var out connectionData
	if err := decodeData(data, &out); err != nil {
		return "", false, fmt.Errorf("connection lookup: %w", err)
	}
	id := strings.TrimSpace(out.ConnectionID)
	return id, id != "", nil
}

func (p *Platform) BeginEdit(ctx context.Context, in provision.BeginEditInput) (provision.Draft, error) {
	data, err := p.call(ctx, "begin edit",
		"CALL "+p.procedure("BEGIN_CONNECTION_EDIT")+"($1, $2, $3, $4, $5)",
		in.Name, in.Slug, in.ConnectionID, in.Force, in.IsNew)
	if err != nil {
		return provision.Draft{}, err
	}
	return decodeDraft("begin edit", data)
}

func (p *Platform) BeginCreation(ctx context.Context, in provision.BeginCreationInput) (provision.Draft, error) {
	data, err := p.call(ctx, "begin creation",
		"CALL "+p.procedure("BEGIN_CONNECTION_CREATION")+"($1, $2, $3, $4, $5, $6, $7, $8)",
		in.PluginFQN, in.Name, in.Slug, string(in.Connectivity), string(in.Method),
		in.Reserved, in.OtherEnvironmentsExist, in.IsProductionEnvironment)
	if err != nil {
		return provision.Draft{}, err
	}
	return decodeDraft("begin creation", data)
}

func (p *Platform) ReplaceIntegration(ctx context.Context, spec provision.IntegrationSpec) error {
	stmt, err := replaceIntegrationSQL(spec)
	if err != nil {
		return err
	}
	if _, err := p.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("create or replace integration %s: %w", spec.Name, err)
	}
	return nil
}

func (p *Platform) GrantIntegrationUsage(ctx context.Context, integration, application string) error {
	if err := ValidateIdentifier(integration); err != nil {
		return fmt.Errorf("integration name: %w", err)
	}
	if err := ValidateIdentifier(application); err != nil {
		return fmt.Errorf("application name: %w", err)
	}
	stmt := fmt.Sprintf("GRANT USAGE ON INTEGRATION %s TO APPLICATION %s", integration, application)
	if _, err := p.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("grant usage on %s to %s: %w", integration, application, err)
	}
	return nil
}

func (p *Platform) NetworkAddresses(ctx context.Context, database string, method provision.Method, params provision.Attributed) (provision.Addresses, error) {
	if err := ValidateIdentifier(database); err != nil {
		return nil, fmt.Errorf("plugin database: %w", err)
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}
	return p.call(ctx, "network addresses",
		"CALL "+provision.AddressRoutine(database)+"($1, $2)",
		string(method), string(payload))
}

func (p *Platform) CompleteCreation(ctx context.Context, in provision.CompleteInput) (json.RawMessage, error) {
	addresses := in.Addresses
	if len(addresses) == 0 {
		addresses = json.RawMessage("null")
	}
	params, err := json.Marshal(in.Parameters)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}
	secrets, err := json.Marshal(in.Secrets)
	if err != nil {
		return nil, fmt.Errorf("encode secrets: %w", err)
	}
	return p.call(ctx, "complete creation",
		"CALL "+p.procedure("COMPLETE_CONNECTION_CREATION")+"($1, $2, $3, $4)",
		in.InProgressID, string(addresses), string(params), string(secrets))
}

func (p *Platform) DiscardDraft(ctx context.Context, inProgressID string) error {
	_, err := p.call(ctx, "discard draft", "CALL "+p.procedure("DISCARD_CONNECTION_DRAFT")+"($1)", inProgressID)
	return err
}

func (p *Platform) DropIntegration(ctx context.Context, integration string) error {
	if err := ValidateIdentifier(integration); err != nil {
		return fmt.Errorf("integration name: %w", err)
	}
	if _, err := p.db.Exec(ctx, "DROP INTEGRATION IF EXISTS "+integration); err != nil {
		return fmt.Errorf("drop integration %s: %w", integration, err)
	}
	return nil
}

// DescribeIntegration reads the network rule and secret an integration
// currently allows. found is false when the integration does not exist.
func (p *Platform) DescribeIntegration(ctx context.Context, integration string) (provision.IntegrationSpec, bool, error) {
	if err := ValidateIdentifier(integration); err != nil {
		return provision.IntegrationSpec{}, false, fmt.Errorf("integration name: %w", err)
	}
	rows, err := p.db.Query(ctx, "DESCRIBE INTEGRATION "+integration)
	if err != nil {
		if isMissingObject(err) {
			return provision.IntegrationSpec{}, false, nil
		}
		return provision.IntegrationSpec{}, false, fmt.Errorf("describe integration %s: %w", integration, err)
	}
	defer rows.Close()

	props := map[string]string{}
	for rows.Next() {
		var property, propertyType, value, def string
		if err := rows.Scan(&property, &propertyType, &value, &def); err != nil {
			return provision.IntegrationSpec{}, false, fmt.Errorf("describe integration %s: %w", integration, err)
		}
		props[strings.ToUpper(strings.TrimSpace(property))] = value
	}
	if err := rows.Err(); err != nil {
		if isMissingObject(err) {
			return provision.IntegrationSpec{}, false, nil
		}
		return provision.IntegrationSpec{}, false, fmt.Errorf("describe integration %s: %w", integration, err)
	}
	if len(props) == 0 {
		return provision.IntegrationSpec{}, false, nil
	}

	rule, err := singleListEntry(props["ALLOWED_NETWORK_RULES"])
	if err != nil {
		return provision.IntegrationSpec{}, false, fmt.Errorf("integration %s network rules: %w", integration, err)
	}
	secret, err := singleListEntry(props["ALLOWED_AUTHENTICATION_SECRETS"])
	if err != nil {
		return provision.IntegrationSpec{}, false, fmt.Errorf("integration %s secrets: %w", integration, err)
	}
	return provision.IntegrationSpec{Name: integration, NetworkRule: rule, SecretContainer: secret}, true, nil
}

// singleListEntry parses a "[A.B.C]" property list holding exactly one name.
func singleListEntry(raw string) (string, error) {
	raw = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(raw), "["), "]")
	var names []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	if len(names) != 1 {
		return "", fmt.Errorf("expected one entry, got %d", len(names))
	}
	return names[0], nil
}

func isMissingObject(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "does not exist")
}

func replaceIntegrationSQL(spec provision.IntegrationSpec) (string, error) {
	if err := ValidateIdentifier(spec.Name); err != nil {
		return "", fmt.Errorf("integration name: %w", err)
	}
	if err := ValidateIdentifier(spec.NetworkRule); err != nil {
		return "", fmt.Errorf("network rule: %w", err)
	}
	if err := ValidateIdentifier(spec.SecretContainer); err != nil {
		return "", fmt.Errorf("secret container: %w", err)
	}
	return fmt.Sprintf(
		"CREATE OR REPLACE EXTERNAL ACCESS INTEGRATION %s ALLOWED_NETWORK_RULES = (%s) ALLOWED_AUTHENTICATION_SECRETS = (%s) ENABLED = TRUE",
		spec.Name, spec.NetworkRule, spec.SecretContainer,
	), nil
}

func decodeDraft(op string, data json.RawMessage) (provision.Draft, error) {
	var d provision.Draft
	if err := decodeData(data, &d); err != nil {
		return provision.Draft{}, fmt.Errorf("%s: %w", op, err)
	}
	return d, nil
}
