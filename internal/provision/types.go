package provision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SuccessMarker is the terminal status returned for a committed connection.
const SuccessMarker = "SUCCESS"

// Connectivity is the networking mode used to reach the target system.
type Connectivity string

const (
	ConnectivityDirect      Connectivity = "direct"
	ConnectivityPrivateLink Connectivity = "privatelink"
	ConnectivityNgrok       Connectivity = "ngrok"
)

// ParseConnectivity normalizes a connectivity option and rejects the ones this
// flow cannot provision.
func ParseConnectivity(raw string) (Connectivity, error) {
	c := Connectivity(strings.ToLower(strings.TrimSpace(raw)))
	switch c {
	case ConnectivityDirect, ConnectivityPrivateLink:
		return c, nil
	case ConnectivityNgrok:
		return "", fmt.Errorf("%w: connectivity option %q is not supported", ErrInvalidRequest, c)
	case "":
		return "", fmt.Errorf("%w: connectivity option is required", ErrInvalidRequest)
	default:
		return "", fmt.Errorf("%w: unknown connectivity option %q", ErrInvalidRequest, raw)
	}
}

// Method is a plugin-defined connection method such as "SQL Server Authentication".
type Method string

// IsOAuth reports whether the method relies on an OAuth flow.
func (m Method) IsOAuth() bool {
	return strings.Contains(strings.ToLower(string(m)), "oauth")
}

// Path identifies which lifecycle transition a run took.
type Path string

const (
	PathCreate Path = "create"
	PathEdit   Path = "edit"
)

// Request is the full input of a single provisioning call.
type Request struct {
	PluginFQN               string
	Name                    string
	Slug                    string
	Connectivity            Connectivity
	Method                  Method
	Parameters              map[string]Value
	Secrets                 map[string]Value
	OtherEnvironmentsExist  bool
	IsProductionEnvironment bool
}

// Normalized returns a copy with surrounding whitespace removed from the
// identifying fields.
func (r Request) Normalized() Request {
	out := r
	out.PluginFQN = strings.TrimSpace(out.PluginFQN)
	out.Name = strings.TrimSpace(out.Name)
	out.Slug = strings.TrimSpace(out.Slug)
	out.Connectivity = Connectivity(strings.ToLower(strings.TrimSpace(string(out.Connectivity))))
	out.Method = Method(strings.TrimSpace(string(out.Method)))
	return out
}

func (r Request) Validate() error {
	r = r.Normalized()
	if r.PluginFQN == "" {
		return fmt.Errorf("%w: plugin fully-qualified name is required", ErrInvalidRequest)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: connection name is required", ErrInvalidRequest)
	}
	if r.Slug == "" {
		return fmt.Errorf("%w: connection slug is required", ErrInvalidRequest)
	}
	if _, err := ParseConnectivity(string(r.Connectivity)); err != nil {
		return err
	}
	if r.Method == "" {
		return fmt.Errorf("%w: connection method is required", ErrInvalidRequest)
	}
	if r.Method.IsOAuth() {
		return fmt.Errorf("%w: OAuth connection method %q is not supported", ErrInvalidRequest, r.Method)
	}
	return nil
}

// Draft is the in-progress record returned by beginning a creation or edit.
type Draft struct {
	NetworkRuleName  string `json:"network_rule_name"`
	OtherSecretsName string `json:"other_secrets_name"`
	IntegrationName  string `json:"external_access_integration_name"`
	InProgressID     string `json:"connection_in_progress_id"`
}

func (d Draft) Validate() error {
	switch {
	case strings.TrimSpace(d.NetworkRuleName) == "":
		return errors.New("draft is missing the network rule name")
	case strings.TrimSpace(d.OtherSecretsName) == "":
		return errors.New("draft is missing the secret container name")
	case strings.TrimSpace(d.IntegrationName) == "":
		return errors.New("draft is missing the integration name")
	case strings.TrimSpace(d.InProgressID) == "":
		return errors.New("draft is missing the in-progress id")
	}
	return nil
}

// IntegrationSpec describes the egress integration to create or replace.
// NetworkRule and SecretContainer are fully qualified under the plugin's
// data namespace.
type IntegrationSpec struct {
	Name            string
	NetworkRule     string
	SecretContainer string
}

// DataObject qualifies an object name under a plugin database's DATA schema.
func DataObject(database, name string) string {
	return database + ".DATA." + name
}

// AddressRoutine returns the fully-qualified name of the plugin's address
// resolution routine.
func AddressRoutine(database string) string {
	return database + ".PLUGIN.NETWORK_ADDRESSES"
}

// Addresses is the plugin-defined network address list. It is passed through
// to the finalizer without interpretation.
type Addresses = json.RawMessage

// Result is returned by a successful provisioning call.
type Result struct {
	Status       string
	Path         Path
	Integration  string
	Confirmation json.RawMessage
}
