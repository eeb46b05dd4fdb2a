package provision

import (
	"context"
	"encoding/json"
)

// Platform is the set of external collaborators a provisioning call drives.
// Implementations report a collaborator's success=false answer as a
// *RejectedError carrying the collaborator's message.
type Platform interface {
	// PluginDatabase returns the backing database of the plugin, or an error
	// wrapping ErrNotFound when no plugin matches.
	PluginDatabase(ctx context.Context, fqn string) (string, error)

	// ConnectionID looks up an existing connection by slug. found is false
	// when no connection uses the slug.
	ConnectionID(ctx context.Context, slug string) (id string, found bool, err error)

	BeginEdit(ctx context.Context, in BeginEditInput) (Draft, error)
	BeginCreation(ctx context.Context, in BeginCreationInput) (Draft, error)

	// ReplaceIntegration creates the egress integration, atomically
	// superseding any integration with the same name.
	ReplaceIntegration(ctx context.Context, spec IntegrationSpec) error
	GrantIntegrationUsage(ctx context.Context, integration, application string) error

	NetworkAddresses(ctx context.Context, database string, method Method, params Attributed) (Addresses, error)

	CompleteCreation(ctx context.Context, in CompleteInput) (json.RawMessage, error)
}

// DraftDiscarder is implemented by platforms that can explicitly discard an
// uncommitted draft and drop an integration. It is only used when
// compensation is enabled.
type DraftDiscarder interface {
	DiscardDraft(ctx context.Context, inProgressID string) error
	DropIntegration(ctx context.Context, integration string) error
}

// IntegrationInspector is implemented by platforms that can read back the
// definition an integration currently has. Compensation uses it on the edit
// path to restore the integration a failed call replaced.
type IntegrationInspector interface {
	DescribeIntegration(ctx context.Context, integration string) (spec IntegrationSpec, found bool, err error)
}

// BeginEditInput carries the begin-edit arguments. Force and IsNew are
// reserved toggles and always false in this flow.
type BeginEditInput struct {
	Name         string
	Slug         string
	ConnectionID string
	Force        bool
	IsNew        bool
}

// BeginCreationInput carries the begin-creation arguments. Reserved is
// always false in this flow.
type BeginCreationInput struct {
	PluginFQN               string
	Name                    string
	Slug                    string
	Connectivity            Connectivity
	Method                  Method
	Reserved                bool
	OtherEnvironmentsExist  bool
	IsProductionEnvironment bool
}

type CompleteInput struct {
	InProgressID string
	Addresses    Addresses
	Parameters   Attributed
	Secrets      Attributed
}
