// Package openstack resolves images, flavors, networks and volume types, and
// manages the per-cluster Keystone application credential.
package openstack

import (
	"fmt"

	"sigs.k8s.io/yaml"

	operrors "github.com/dc-tec/capi-helm-driver/internal/errors"
)

// Image properties read by the driver.
const (
	ImagePropertyKubeVersion = "kube_version"
	ImagePropertyOSDistro    = "os_distro"
)

// Image is the subset of a Glance image the driver needs.
type Image struct {
	ID          string
	Name        string
	KubeVersion string
	OSDistro    string
}

// Flavor is the subset of a Nova flavor the driver needs.
type Flavor struct {
	ID    string
	Name  string
	RAM   int
	VCPUs int
}

// AppCredential is a freshly created Keystone application credential.
type AppCredential struct {
	ID     string
	Name   string
	Secret string
}

// ValidateFlavor rejects flavors below the configured RAM (MiB) and vCPU minimums.
func ValidateFlavor(f *Flavor, minRAM, minVCPUs int) error {
	if f.RAM < minRAM {
		return operrors.NewConfigError("flavor %s has %d MB of RAM, the minimum is %d MB", f.Name, f.RAM, minRAM)
	}
	if f.VCPUs < minVCPUs {
		return operrors.NewConfigError("flavor %s has %d vCPUs, the minimum is %d", f.Name, f.VCPUs, minVCPUs)
	}
	return nil
}

// CloudConfig describes how workload cluster components reach OpenStack.
type CloudConfig struct {
	AuthURL   string
	Region    string
	Interface string
	Verify    bool
}

// CloudName is the clouds.yaml entry referenced by the chart.
const CloudName = "openstack"

// CloudsYAML renders a clouds.yaml authenticating with the application credential.
func CloudsYAML(cred *AppCredential, cfg CloudConfig) ([]byte, error) {
	cloud := map[string]any{
		"identity_api_version": 3,
		"auth_type":            "v3applicationcredential",
		"verify":               cfg.Verify,
		"auth": map[string]any{
			"auth_url":                      cfg.AuthURL,
			"application_credential_id":     cred.ID,
			"application_credential_secret": cred.Secret,
		},
	}
	if cfg.Region != "" {
		cloud["region_name"] = cfg.Region
	}
	if cfg.Interface != "" {
		cloud["interface"] = cfg.Interface
	}

	out, err := yaml.Marshal(map[string]any{"clouds": map[string]any{CloudName: cloud}})
	if err != nil {
		return nil, fmt.Errorf("failed to render clouds.yaml: %w", err)
	}
	return out, nil
}
