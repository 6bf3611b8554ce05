package config

import (
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclwrite"
)

// Encode renders c as an HCL file that Load accepts. Empty optional values are omitted.
func (c *Config) Encode() []byte {
	timeout := c.HelmTimeout.String()
	raw := hclFile{
		NamespacePrefix:               optionalString(c.NamespacePrefix),
		KubeconfigFile:                optionalString(c.KubeconfigFile),
		StateNamespace:                optionalString(c.StateNamespace),
		MinimumFlavorRAM:              &c.MinimumFlavorRAM,
		MinimumFlavorVCPUs:            &c.MinimumFlavorVCPUs,
		DefaultBootVolumeType:         optionalString(c.DefaultBootVolumeType),
		DefaultVolumeType:             optionalString(c.DefaultVolumeType),
		DefaultVolumeAvailabilityZone: optionalString(c.DefaultVolumeAvailabilityZone),
		KeystoneAuthEnabledDefault:    &c.KeystoneAuthEnabledDefault,
		HelmTimeout:                   &timeout,
		HelmHistoryMax:                &c.HelmHistoryMax,
		StatusInterval:                optionalString(c.StatusInterval),
		HealthInterval:                optionalString(c.HealthInterval),
		MaxConcurrentPasses:           &c.MaxConcurrentPasses,
		Chart: &hclChart{
			Repository: optionalString(c.Chart.Repository),
			Name:       optionalString(c.Chart.Name),
			Version:    optionalString(c.Chart.Version),
		},
		OpenStack: &hclOpenStack{
			Region:     optionalString(c.OpenStack.Region),
			Interface:  optionalString(c.OpenStack.Interface),
			CACertFile: optionalString(c.OpenStack.CACertFile),
		},
	}
	if c.DefaultBootVolumeSize > 0 {
		raw.DefaultBootVolumeSize = &c.DefaultBootVolumeSize
	}
	if len(c.AppCredentialRoles) > 0 {
		roles := append([]string(nil), c.AppCredentialRoles...)
		raw.AppCredentialRoles = &roles
	}

	file := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(&raw, file.Body())
	return hclwrite.Format(file.Bytes())
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
