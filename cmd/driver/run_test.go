/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package driver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dc-tec/capi-helm-driver/internal/config"
)

func Test_parseFlags_Defaults(t *testing.T) {
	opts, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if opts.configFile != "" {
		t.Errorf("configFile = %q, want empty", opts.configFile)
	}
	if opts.metricsAddr != ":8443" || opts.probeAddr != ":8081" {
		t.Errorf("addresses = %q/%q, want :8443/:8081", opts.metricsAddr, opts.probeAddr)
	}
	if !opts.secureMetrics || opts.enableHTTP2 || opts.enableLeaderElection || opts.skipPreflight {
		t.Errorf("unexpected boolean defaults: %+v", opts)
	}
	if opts.helmBinary != "helm" {
		t.Errorf("helmBinary = %q, want helm", opts.helmBinary)
	}
}

func Test_parseFlags_Overrides(t *testing.T) {
	opts, err := parseFlags([]string{
		"--config", "/etc/capi-helm-driver/driver.hcl",
		"--leader-elect",
		"--metrics-secure=false",
		"--helm-binary", "/usr/local/bin/helm",
		"--skip-preflight",
		"--zap-log-level", "debug",
	})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if opts.configFile != "/etc/capi-helm-driver/driver.hcl" {
		t.Errorf("configFile = %q", opts.configFile)
	}
	if !opts.enableLeaderElection || opts.secureMetrics || !opts.skipPreflight {
		t.Errorf("unexpected booleans: %+v", opts)
	}
	if opts.helmBinary != "/usr/local/bin/helm" {
		t.Errorf("helmBinary = %q", opts.helmBinary)
	}
}

func Test_parseFlags_UnknownFlag(t *testing.T) {
	if _, err := parseFlags([]string{"--no-such-flag"}); err == nil {
		t.Fatal("parseFlags() expected error for unknown flag")
	}
}

func Test_driverOptions(t *testing.T) {
	cfg := config.Default()
	cfg.NamespacePrefix = "coe"
	cfg.Chart.Version = "0.12.0"
	cfg.DefaultBootVolumeType = "fast"
	cfg.DefaultBootVolumeSize = 40
	cfg.DefaultVolumeType = "standard"
	cfg.DefaultVolumeAvailabilityZone = "az1"
	cfg.KeystoneAuthEnabledDefault = true

	got := driverOptions(cfg)
	if got.NamespacePrefix != "coe" {
		t.Errorf("NamespacePrefix = %q", got.NamespacePrefix)
	}
	if got.Chart.Name != config.DefaultChartName || got.Chart.Repository != config.DefaultChartRepository || got.Chart.Version != "0.12.0" {
		t.Errorf("Chart = %+v", got.Chart)
	}
	if got.MinimumFlavorRAM != config.DefaultMinimumFlavorRAM || got.MinimumFlavorVCPUs != config.DefaultMinimumFlavorVCPUs {
		t.Errorf("flavor minimums = %d/%d", got.MinimumFlavorRAM, got.MinimumFlavorVCPUs)
	}
	v := got.Values
	if v.DefaultBootVolumeType != "fast" || v.DefaultBootVolumeSize != 40 || v.DefaultVolumeType != "standard" || v.DefaultVolumeAZ != "az1" || !v.KeystoneAuthEnabled {
		t.Errorf("Values = %+v", v)
	}
}

func Test_schedulerOptions(t *testing.T) {
	cfg := config.Default()
	cfg.MaxConcurrentPasses = 7

	got := schedulerOptions(cfg)
	if got.StatusInterval != cfg.StatusInterval || got.HealthInterval != cfg.HealthInterval {
		t.Errorf("intervals = %q/%q", got.StatusInterval, got.HealthInterval)
	}
	if got.MaxConcurrentPasses != 7 || got.NamespacePrefix != config.DefaultNamespacePrefix {
		t.Errorf("options = %+v", got)
	}
}

func Test_restConfig_FromKubeconfigFile(t *testing.T) {
	kubeconfig := `apiVersion: v1
kind: Config
clusters:
- name: management
  cluster:
    server: https://management.example.com:6443
contexts:
- name: driver
  context:
    cluster: management
    user: driver
current-context: driver
users:
- name: driver
  user:
    token: not-a-real-token
`
	path := filepath.Join(t.TempDir(), "kubeconfig")
	if err := os.WriteFile(path, []byte(kubeconfig), 0o600); err != nil {
		t.Fatalf("failed to write kubeconfig: %v", err)
	}

	cfg := config.Default()
	cfg.KubeconfigFile = path

	restCfg, err := restConfig(cfg)
	if err != nil {
		t.Fatalf("restConfig() error = %v", err)
	}
	if restCfg.Host != "https://management.example.com:6443" {
		t.Errorf("Host = %q", restCfg.Host)
	}
	if restCfg.BearerToken != "not-a-real-token" {
		t.Errorf("BearerToken = %q", restCfg.BearerToken)
	}
}

func Test_applyPodNamespace(t *testing.T) {
	cfg := config.Default()
	applyPodNamespace(cfg, "")
	if cfg.StateNamespace != config.DefaultStateNamespace {
		t.Errorf("StateNamespace = %q, want default", cfg.StateNamespace)
	}

	applyPodNamespace(cfg, "openstack")
	if cfg.StateNamespace != "openstack" {
		t.Errorf("StateNamespace = %q, want openstack", cfg.StateNamespace)
	}

	cfg = config.Default()
	cfg.StateNamespace = "configured"
	applyPodNamespace(cfg, "openstack")
	if cfg.StateNamespace != "configured" {
		t.Errorf("StateNamespace = %q, want configured", cfg.StateNamespace)
	}
}
