package httpclient

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/goccy/go-yaml"
)

// Manifest declares the resources a Client exposes.
//
// Resources maps a resource name to its methods, and each method name to its
// definition. Middleware, path functions and the parameter encoder cannot be
// expressed in JSON or YAML; attach them in code after loading.
type Manifest struct {
	// ClientID identifies the client to middleware. A UUID is generated when
	// it is empty.
	ClientID string `json:"clientId,omitempty" yaml:"clientId,omitempty"`

	// Host is the default host for every method.
	Host string `json:"host" yaml:"host"`

	// AllowResourceHostOverride lets callers replace the host per call
	// through the host parameter.
	AllowResourceHostOverride bool `json:"allowResourceHostOverride,omitempty" yaml:"allowResourceHostOverride,omitempty"`

	// ParameterEncoder escapes path and query components. Defaults to
	// EncodeURIComponent.
	ParameterEncoder ParameterEncoder `json:"-" yaml:"-"`

	// Middleware runs before client and method middleware.
	Middleware []Middleware `json:"-" yaml:"-"`

	Resources map[string]map[string]MethodDefinition `json:"resources" yaml:"resources"`
}

// LoadManifest decodes a JSON manifest.
//
// Example:
//
//	{
//	  "host": "https://api.example.com",
//	  "resources": {
//	    "User": {
//	      "all":  {"path": "/users"},
//	      "byId": {"path": "/users/{id}"}
//	    }
//	  }
//	}
func LoadManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// LoadManifestYAML decodes a YAML manifest with the same field names as
// LoadManifest.
func LoadManifestYAML(r io.Reader) (Manifest, error) {
	var m Manifest
	if err := yaml.NewDecoder(r).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// descriptorOptions returns the manifest level settings shared by every
// method.
func (m Manifest) descriptorOptions() DescriptorOptions {
	return DescriptorOptions{
		Host:                      m.Host,
		AllowResourceHostOverride: m.AllowResourceHostOverride,
		ParameterEncoder:          m.ParameterEncoder,
	}
}
