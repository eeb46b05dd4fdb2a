package httpapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"
	"github.com/open-sspm/egress-provisioner/internal/provision"
)

const maxRequestBytes = 1 << 20

// provisionRequest is the provision body. Secrets holds literal values;
// SecretRefs maps secret names to "<scheme>:<reference>" strings resolved
// through the secret registry. A name may appear in only one of the two.
type provisionRequest struct {
	PluginFQN               string                     `json:"plugin_fqn"`
	Name                    string                     `json:"name"`
	Slug                    string                     `json:"slug"`
	Connectivity            string                     `json:"connectivity"`
	Method                  string                     `json:"method"`
	Parameters              map[string]provision.Value `json:"parameters"`
	Secrets                 map[string]provision.Value `json:"secrets"`
	SecretRefs              map[string]string          `json:"secret_refs"`
	OtherEnvironmentsExist  bool                       `json:"other_environments_exist"`
	IsProductionEnvironment bool                       `json:"is_production_environment"`
}

type provisionResponse struct {
	Status       string          `json:"status"`
	Path         string          `json:"path"`
	Integration  string          `json:"integration,omitempty"`
	Confirmation json.RawMessage `json:"confirmation,omitempty"`
	RequestID    string          `json:"request_id,omitempty"`
}

func (es *EchoServer) handleProvision(c *echo.Context) error {
	requestID, _ := c.Get(ContextKeyRequestID).(string)

	body, err := decodeProvisionRequest(c.Request())
	if err != nil {
		return writeError(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
	}

	ctx := c.Request().Context()
	if es.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, es.opts.Timeout)
		defer cancel()
	}

	req, err := es.buildRequest(ctx, body)
	if err == nil {
		var res provision.Result
		res, err = es.opts.Provisioner.Provision(ctx, req)
		if err == nil {
			return c.JSON(http.StatusOK, provisionResponse{
				Status:       res.Status,
				Path:         string(res.Path),
				Integration:  res.Integration,
				Confirmation: res.Confirmation,
				RequestID:    requestID,
			})
		}
	}

	status, resp, ok := provisionErrorResponse(err)
	if !ok {
		return err
	}
	resp.RequestID = requestID
	c.Logger().Warn("provisioning request failed",
		"request_id", requestID,
		"slug", body.Slug,
		"code", resp.Code,
		"step", resp.Step,
		"error", err,
	)
	return c.JSON(status, resp)
}

func decodeProvisionRequest(r *http.Request) (provisionRequest, error) {
	var body provisionRequest
	if r.Body == nil {
		return body, errors.New("request body is required")
	}
	raw, err := readLimited(r)
	if err != nil {
		return body, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return body, fmt.Errorf("decode request body: %w", err)
	}
	if dec.More() {
		return body, errors.New("request body must contain a single JSON object")
	}
	return body, nil
}

func readLimited(r *http.Request) ([]byte, error) {
	var buf bytes.Buffer
	n, err := buf.ReadFrom(http.MaxBytesReader(nil, r.Body, maxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBytes)
		}
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if n == 0 {
		return nil, errors.New("request body is required")
	}
	return buf.Bytes(), nil
}

// buildRequest resolves secret references and assembles the orchestrator input.
func (es *EchoServer) buildRequest(ctx context.Context, body provisionRequest) (provision.Request, error) {
	secrets := make(map[string]provision.Value, len(body.Secrets)+len(body.SecretRefs))
	maps.Copy(secrets, body.Secrets)
	refs := make(map[string]string, len(body.SecretRefs))
	for name, ref := range body.SecretRefs {
		if _, dup := body.Secrets[name]; dup {
			return provision.Request{}, fmt.Errorf("%w: secret %q given both as a value and a reference", provision.ErrInvalidRequest, name)
		}
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return provision.Request{}, fmt.Errorf("%w: secret reference %q is empty", provision.ErrInvalidRequest, name)
		}
		refs[name] = ref
	}
	if len(refs) > 0 {
		if es.opts.Secrets == nil {
			return provision.Request{}, fmt.Errorf("%w: secret references are not enabled", provision.ErrInvalidRequest)
		}
		resolved, err := es.opts.Secrets.ResolveAll(ctx, refs)
		if err != nil {
			return provision.Request{}, err
		}
		maps.Copy(secrets, resolved)
	}

	return provision.Request{
		PluginFQN:               body.PluginFQN,
		Name:                    body.Name,
		Slug:                    body.Slug,
		Connectivity:            provision.Connectivity(body.Connectivity),
		Method:                  provision.Method(body.Method),
		Parameters:              body.Parameters,
		Secrets:                 secrets,
		OtherEnvironmentsExist:  body.OtherEnvironmentsExist,
		IsProductionEnvironment: body.IsProductionEnvironment,
	}, nil
}
