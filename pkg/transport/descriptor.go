package transport

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// TransportType identifies one of the supported tool-transport protocols.
// The set is closed: adapter dispatch matches exhaustively on it, so a new
// transport is an explicit, checked addition.
type TransportType string

const (
	// TransportHosted delegates tools to a remote provider-managed proxy
	TransportHosted TransportType = "hosted"
	// TransportHTTP connects to a streamable HTTP tool server
	TransportHTTP TransportType = "http"
	// TransportStdio launches a local tool server process
	TransportStdio TransportType = "stdio"
	// TransportVendorBuiltin marks integrations whose tools are supplied
	// by the universal tool registry rather than a transport
	TransportVendorBuiltin TransportType = "vendor-builtin"
)

// ParseTransportType converts a stored type tag into a TransportType.
func ParseTransportType(s string) (TransportType, error) {
	switch TransportType(s) {
	case TransportHosted, TransportHTTP, TransportStdio, TransportVendorBuiltin:
		return TransportType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTransport, s)
	}
}

// IntegrationDescriptor is an immutable snapshot of one configured
// integration, built from the persisted integration and join records.
// Credentials are already decrypted by the time a descriptor reaches an
// adapter.
type IntegrationDescriptor struct {
	Type          TransportType          `json:"type"`
	Name          string                 `json:"name"`
	Credentials   map[string]interface{} `json:"credentials"`
	SelectedTools []string               `json:"selected_tools,omitempty"`
	Enabled       bool                   `json:"enabled"`
}

// SelectedToolSet returns the selected tools as a membership set; an empty
// selection means "all tools".
func (d *IntegrationDescriptor) SelectedToolSet() map[string]bool {
	if len(d.SelectedTools) == 0 {
		return nil
	}
	set := make(map[string]bool, len(d.SelectedTools))
	for _, name := range d.SelectedTools {
		set[name] = true
	}
	return set
}

// Credential shapes per transport type. Validation happens before an
// adapter touches the network or spawns a process so malformed
// configuration fails fast.
const (
	hostedCredentialSchema = `{
		"type": "object",
		"required": ["remoteUrl", "remoteLabel"],
		"properties": {
			"remoteUrl":   {"type": "string", "minLength": 1, "pattern": "^https?://"},
			"remoteLabel": {"type": "string", "minLength": 1}
		}
	}`

	httpCredentialSchema = `{
		"type": "object",
		"required": ["endpointUrl"],
		"properties": {
			"endpointUrl": {"type": "string", "minLength": 1, "pattern": "^https?://"},
			"auth": {
				"type": "object",
				"required": ["type"],
				"properties": {
					"type":     {"enum": ["none", "bearer", "api-key-header", "basic"]},
					"token":    {"type": "string"},
					"header":   {"type": "string"},
					"key":      {"type": "string"},
					"username": {"type": "string"},
					"password": {"type": "string"}
				}
			}
		}
	}`

	stdioCredentialSchema = `{
		"type": "object",
		"required": ["command"],
		"properties": {
			"command": {"type": "string", "minLength": 1}
		}
	}`

	vendorCredentialSchema = `{"type": "object"}`
)

var credentialSchemas = map[TransportType]string{
	TransportHosted:        hostedCredentialSchema,
	TransportHTTP:          httpCredentialSchema,
	TransportStdio:         stdioCredentialSchema,
	TransportVendorBuiltin: vendorCredentialSchema,
}

// Validate checks the descriptor's credential shape against the schema for
// its transport type.
func (d *IntegrationDescriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: integration name is required", ErrBadConfiguration)
	}

	schema, ok := credentialSchemas[d.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTransport, d.Type)
	}

	creds := d.Credentials
	if creds == nil {
		creds = map[string]interface{}{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewGoLoader(creds),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadConfiguration, err)
	}
	if !result.Valid() {
		return fmt.Errorf("%w: %s: %s", ErrBadConfiguration, d.Name, formatSchemaErrors(result))
	}

	return nil
}

func formatSchemaErrors(result *gojsonschema.Result) string {
	msg := ""
	for i, desc := range result.Errors() {
		if i > 0 {
			msg += "; "
		}
		msg += desc.String()
	}
	return msg
}

func stringCredential(creds map[string]interface{}, key string) string {
	if creds == nil {
		return ""
	}
	s, _ := creds[key].(string)
	return s
}
