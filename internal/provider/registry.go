package provider

import (
	"context"
	"fmt"
	"strings"
)

// Constructor builds an Adapter for a target.
type Constructor func(ctx context.Context, t Target, d Deps) (Adapter, error)

// Module describes one supported provider.
type Module struct {
	// Code is the value passed with -m, e.g. "ali".
	Code string

	// Name is the provider's display name.
	Name string

	// Keywords are the substrings a bucket URL must contain (any one of
	// them) for the module to accept it.
	Keywords []string

	New Constructor
}

// Registry maps module codes to adapter constructors.
type Registry struct {
	modules []Module
	byCode  map[string]Module
}

// NewRegistry returns a registry containing modules in the given order.
// A later module replaces an earlier one with the same code in place.
func NewRegistry(modules ...Module) *Registry {
	r := &Registry{byCode: make(map[string]Module, len(modules))}
	index := make(map[string]int, len(modules))
	for _, m := range modules {
		if i, ok := index[m.Code]; ok {
			r.modules[i] = m
		} else {
			index[m.Code] = len(r.modules)
			r.modules = append(r.modules, m)
		}
		r.byCode[m.Code] = m
	}
	return r
}

// DefaultRegistry returns the registry of all built-in providers.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Module{Code: "hw", Name: "Huawei Cloud OBS", Keywords: []string{"obs"}, New: newOBS},
		Module{Code: "ali", Name: "Aliyun OSS", Keywords: []string{"oss"}, New: newMarkerXML},
		Module{Code: "tx", Name: "Tencent Cloud COS", Keywords: []string{"cos"}, New: newMarkerXML},
		Module{Code: "s3", Name: "Amazon S3", Keywords: []string{"s3"}, New: newS3},
		Module{Code: "b2", Name: "Backblaze B2", Keywords: []string{"b2", "backblaze"}, New: newB2},
		Module{Code: "do", Name: "DigitalOcean Spaces", Keywords: []string{"spaces"}, New: newGenericS3},
		Module{Code: "gcs", Name: "Google Cloud Storage", Keywords: []string{"gcs", "googleapis"}, New: newGCS},
		Module{Code: "ibm", Name: "IBM Cloud Object Storage", Keywords: []string{"cos"}, New: newGenericS3},
		Module{Code: "abs", Name: "Azure Blob Storage", Keywords: []string{"blob"}, New: newAzure},
		Module{Code: "oci", Name: "Oracle Cloud Object Storage", Keywords: []string{"ocs", "oraclecloud"}, New: newGenericS3},
	)
}

// Modules returns the registered modules in registration order.
func (r *Registry) Modules() []Module {
	out := make([]Module, len(r.modules))
	copy(out, r.modules)
	return out
}

// Codes returns the registered module codes in registration order.
func (r *Registry) Codes() []string {
	codes := make([]string, len(r.modules))
	for i, m := range r.modules {
		codes[i] = m.Code
	}
	return codes
}

// Lookup returns the module registered under code.
func (r *Registry) Lookup(code string) (Module, bool) {
	m, ok := r.byCode[code]
	return m, ok
}

// ValidateTarget checks that the target URL contains one of the module's
// keywords. It performs no network I/O.
func (r *Registry) ValidateTarget(t Target) error {
	m, ok := r.byCode[t.Module]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoHandler, t.Module)
	}
	lower := strings.ToLower(t.URL)
	for _, kw := range m.Keywords {
		if strings.Contains(lower, kw) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not a %s URL (expected one of %s)",
		ErrModuleMismatch, t.URL, m.Name, strings.Join(m.Keywords, ", "))
}

// New builds the adapter for t.
func (r *Registry) New(ctx context.Context, t Target, d Deps) (Adapter, error) {
	m, ok := r.byCode[t.Module]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoHandler, t.Module)
	}
	return m.New(ctx, t, d)
}
