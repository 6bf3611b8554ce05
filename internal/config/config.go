// Package config loads the driver configuration from an optional HCL file.
//
// Attribute values may reference the process environment as env.NAME:
//
//	openstack {
//	  region = env.OS_REGION_NAME
//	}
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/robfig/cron/v3"
	"github.com/zclconf/go-cty/cty"

	"github.com/dc-tec/capi-helm-driver/internal/constants"
	operrors "github.com/dc-tec/capi-helm-driver/internal/errors"
)

// Defaults applied before the file is decoded.
const (
	DefaultNamespacePrefix     = "magnum"
	DefaultChartRepository     = "https://azimuth-cloud.github.io/capi-helm-charts"
	DefaultChartName           = "openstack-cluster"
	DefaultMinimumFlavorRAM    = 2048
	DefaultMinimumFlavorVCPUs  = 2
	DefaultMaxConcurrentPasses = 4
	DefaultStateNamespace      = "magnum-driver-system"
	DefaultOpenStackInterface  = "public"
)

// OCIScheme prefixes chart references served from an OCI registry.
const OCIScheme = "oci://"

// ScheduleParser accepts standard 5-field cron expressions and descriptors such as "@every 30s".
var ScheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var namespacePrefixRe = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// Chart selects the Helm chart installed for every cluster.
type Chart struct {
	Repository string
	Name       string
	// Version is the default chart version; the capi_helm_chart_version label overrides it.
	Version string
}

// OpenStack selects the endpoints used for OpenStack lookups.
type OpenStack struct {
	Region     string
	Interface  string
	CACertFile string
}

// Config is the driver configuration.
type Config struct {
	NamespacePrefix string
	KubeconfigFile  string
	StateNamespace  string

	Chart Chart

	MinimumFlavorRAM   int
	MinimumFlavorVCPUs int

	DefaultBootVolumeType         string
	DefaultBootVolumeSize         int
	DefaultVolumeType             string
	DefaultVolumeAvailabilityZone string

	KeystoneAuthEnabledDefault bool
	AppCredentialRoles         []string

	HelmTimeout    time.Duration
	HelmHistoryMax int

	StatusInterval      string
	HealthInterval      string
	MaxConcurrentPasses int

	OpenStack OpenStack
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		NamespacePrefix: DefaultNamespacePrefix,
		StateNamespace:  DefaultStateNamespace,
		Chart: Chart{
			Repository: DefaultChartRepository,
			Name:       DefaultChartName,
		},
		MinimumFlavorRAM:    DefaultMinimumFlavorRAM,
		MinimumFlavorVCPUs:  DefaultMinimumFlavorVCPUs,
		HelmTimeout:         constants.HelmTimeout,
		HelmHistoryMax:      constants.HelmHistoryMax,
		StatusInterval:      constants.DefaultStatusInterval,
		HealthInterval:      constants.DefaultHealthInterval,
		MaxConcurrentPasses: DefaultMaxConcurrentPasses,
		OpenStack: OpenStack{
			Interface: DefaultOpenStackInterface,
		},
	}
}

type hclChart struct {
	Repository *string `hcl:"repository,optional"`
	Name       *string `hcl:"name,optional"`
	Version    *string `hcl:"version,optional"`
}

type hclOpenStack struct {
	Region     *string `hcl:"region,optional"`
	Interface  *string `hcl:"interface,optional"`
	CACertFile *string `hcl:"ca_cert_file,optional"`
}

type hclFile struct {
	NamespacePrefix *string `hcl:"namespace_prefix,optional"`
	KubeconfigFile  *string `hcl:"kubeconfig_file,optional"`
	StateNamespace  *string `hcl:"state_namespace,optional"`

	MinimumFlavorRAM   *int `hcl:"minimum_flavor_ram,optional"`
	MinimumFlavorVCPUs *int `hcl:"minimum_flavor_vcpus,optional"`

	DefaultBootVolumeType         *string `hcl:"default_boot_volume_type,optional"`
	DefaultBootVolumeSize         *int    `hcl:"default_boot_volume_size,optional"`
	DefaultVolumeType             *string `hcl:"default_volume_type,optional"`
	DefaultVolumeAvailabilityZone *string `hcl:"default_volume_availability_zone,optional"`

	KeystoneAuthEnabledDefault *bool     `hcl:"keystone_auth_enabled_default,optional"`
	AppCredentialRoles         *[]string `hcl:"app_credential_roles,optional"`

	HelmTimeout    *string `hcl:"helm_timeout,optional"`
	HelmHistoryMax *int    `hcl:"helm_history_max,optional"`

	StatusInterval      *string `hcl:"status_interval,optional"`
	HealthInterval      *string `hcl:"health_interval,optional"`
	MaxConcurrentPasses *int    `hcl:"max_concurrent_passes,optional"`

	Chart     *hclChart     `hcl:"chart,block"`
	OpenStack *hclOpenStack `hcl:"openstack,block"`
}

// Load reads path over the defaults. An empty path returns the defaults.
// The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := cfg.decode(src, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes HCL source over the defaults without reading a file.
func Parse(src []byte, filename string) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(src, filename); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(src []byte, filename string) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return operrors.WrapPermanentConfig(fmt.Errorf("failed to parse %s: %w", filename, diags))
	}

	var raw hclFile
	if diags := gohcl.DecodeBody(file.Body, evalContext(), &raw); diags.HasErrors() {
		return operrors.WrapPermanentConfig(fmt.Errorf("failed to decode %s: %w", filename, diags))
	}
	return c.apply(&raw)
}

func (c *Config) apply(raw *hclFile) error {
	setString(&c.NamespacePrefix, raw.NamespacePrefix)
	setString(&c.KubeconfigFile, raw.KubeconfigFile)
	setString(&c.StateNamespace, raw.StateNamespace)
	setInt(&c.MinimumFlavorRAM, raw.MinimumFlavorRAM)
	setInt(&c.MinimumFlavorVCPUs, raw.MinimumFlavorVCPUs)
	setString(&c.DefaultBootVolumeType, raw.DefaultBootVolumeType)
	setInt(&c.DefaultBootVolumeSize, raw.DefaultBootVolumeSize)
	setString(&c.DefaultVolumeType, raw.DefaultVolumeType)
	setString(&c.DefaultVolumeAvailabilityZone, raw.DefaultVolumeAvailabilityZone)
	setInt(&c.HelmHistoryMax, raw.HelmHistoryMax)
	setString(&c.StatusInterval, raw.StatusInterval)
	setString(&c.HealthInterval, raw.HealthInterval)
	setInt(&c.MaxConcurrentPasses, raw.MaxConcurrentPasses)

	if raw.KeystoneAuthEnabledDefault != nil {
		c.KeystoneAuthEnabledDefault = *raw.KeystoneAuthEnabledDefault
	}
	if raw.AppCredentialRoles != nil {
		c.AppCredentialRoles = *raw.AppCredentialRoles
	}
	if raw.HelmTimeout != nil {
		d, err := time.ParseDuration(*raw.HelmTimeout)
		if err != nil {
			return operrors.NewConfigError("helm_timeout %q is not a duration", *raw.HelmTimeout)
		}
		c.HelmTimeout = d
	}
	if raw.Chart != nil {
		setString(&c.Chart.Repository, raw.Chart.Repository)
		setString(&c.Chart.Name, raw.Chart.Name)
		setString(&c.Chart.Version, raw.Chart.Version)
	}
	if raw.OpenStack != nil {
		setString(&c.OpenStack.Region, raw.OpenStack.Region)
		setString(&c.OpenStack.Interface, raw.OpenStack.Interface)
		setString(&c.OpenStack.CACertFile, raw.OpenStack.CACertFile)
	}
	return nil
}

// Validate rejects configurations the driver cannot run with.
func (c *Config) Validate() error {
	if !namespacePrefixRe.MatchString(c.NamespacePrefix) {
		return operrors.NewConfigError("namespace_prefix %q must be a lowercase DNS label", c.NamespacePrefix)
	}
	if c.StateNamespace == "" {
		return operrors.NewConfigError("state_namespace must not be empty")
	}
	if c.Chart.Name == "" {
		return operrors.NewConfigError("chart name must not be empty")
	}
	if strings.HasPrefix(c.Chart.Name, OCIScheme) {
		if _, err := name.NewRepository(strings.TrimPrefix(c.Chart.Name, OCIScheme)); err != nil {
			return operrors.NewConfigError("chart %q is not a valid OCI repository: %v", c.Chart.Name, err)
		}
	} else if c.Chart.Repository == "" {
		return operrors.NewConfigError("chart repository must be set for chart %q", c.Chart.Name)
	}
	if c.MinimumFlavorRAM < 0 || c.MinimumFlavorVCPUs < 0 {
		return operrors.NewConfigError("flavor minimums must not be negative")
	}
	if c.DefaultBootVolumeSize < 0 {
		return operrors.NewConfigError("default_boot_volume_size must not be negative")
	}
	if c.HelmTimeout <= 0 {
		return operrors.NewConfigError("helm_timeout must be positive")
	}
	if c.MaxConcurrentPasses < 1 {
		return operrors.NewConfigError("max_concurrent_passes must be at least 1")
	}
	for field, expr := range map[string]string{"status_interval": c.StatusInterval, "health_interval": c.HealthInterval} {
		if _, err := ScheduleParser.Parse(expr); err != nil {
			return operrors.NewConfigError("%s %q is not a valid schedule: %v", field, expr, err)
		}
	}
	return nil
}

// evalContext exposes the process environment as env.NAME.
func evalContext() *hcl.EvalContext {
	vars := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		vars[key] = cty.StringVal(value)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(vars)},
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}
