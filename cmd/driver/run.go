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
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/exec"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics/filters"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/dc-tec/capi-helm-driver/internal/certs"
	"github.com/dc-tec/capi-helm-driver/internal/config"
	"github.com/dc-tec/capi-helm-driver/internal/constants"
	"github.com/dc-tec/capi-helm-driver/internal/controller"
	capidriver "github.com/dc-tec/capi-helm-driver/internal/driver"
	"github.com/dc-tec/capi-helm-driver/internal/helm"
	"github.com/dc-tec/capi-helm-driver/internal/kube"
	"github.com/dc-tec/capi-helm-driver/internal/openstack"
	"github.com/dc-tec/capi-helm-driver/internal/store"
	"github.com/dc-tec/capi-helm-driver/internal/values"
)

const leaderElectionID = "capi-helm-driver-leader.magnum.openstack.org"

var setupLog = ctrl.Log.WithName("setup")

type runOptions struct {
	configFile           string
	metricsAddr          string
	probeAddr            string
	enableLeaderElection bool
	secureMetrics        bool
	enableHTTP2          bool
	helmBinary           string
	skipPreflight        bool
	zap                  zap.Options
}

func parseFlags(args []string) (*runOptions, error) {
	opts := &runOptions{zap: zap.Options{Development: true}}

	fs := flag.NewFlagSet("driver", flag.ContinueOnError)
	fs.StringVar(&opts.configFile, "config", "", "Path to the HCL driver configuration file. Falls back to $"+constants.EnvConfigFile+"; built-in defaults apply when both are empty.")
	fs.StringVar(&opts.metricsAddr, "metrics-bind-address", ":8443", "The address the metrics endpoint binds to.")
	fs.StringVar(&opts.probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	fs.BoolVar(&opts.enableLeaderElection, "leader-elect", false,
		"Enable leader election. Only the elected replica runs status and health passes.")
	fs.BoolVar(&opts.secureMetrics, "metrics-secure", true,
		"If set, the metrics endpoint is served securely via HTTPS. Use --metrics-secure=false to use HTTP instead.")
	fs.BoolVar(&opts.enableHTTP2, "enable-http2", false, "If set, HTTP/2 will be enabled for the metrics server")
	fs.StringVar(&opts.helmBinary, "helm-binary", "helm", "The helm executable used to manage releases.")
	fs.BoolVar(&opts.skipPreflight, "skip-preflight", false, "Skip the Cluster API CRD check at startup.")
	opts.zap.BindFlags(fs)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

func driverOptions(cfg *config.Config) capidriver.Options {
	return capidriver.Options{
		NamespacePrefix: cfg.NamespacePrefix,
		Chart: helm.Chart{
			Name:       cfg.Chart.Name,
			Repository: cfg.Chart.Repository,
			Version:    cfg.Chart.Version,
		},
		MinimumFlavorRAM:   cfg.MinimumFlavorRAM,
		MinimumFlavorVCPUs: cfg.MinimumFlavorVCPUs,
		Values: values.Options{
			DefaultBootVolumeType: cfg.DefaultBootVolumeType,
			DefaultBootVolumeSize: cfg.DefaultBootVolumeSize,
			DefaultVolumeType:     cfg.DefaultVolumeType,
			DefaultVolumeAZ:       cfg.DefaultVolumeAvailabilityZone,
			KeystoneAuthEnabled:   cfg.KeystoneAuthEnabledDefault,
		},
	}
}

func schedulerOptions(cfg *config.Config) controller.SchedulerOptions {
	return controller.SchedulerOptions{
		NamespacePrefix:     cfg.NamespacePrefix,
		StatusInterval:      cfg.StatusInterval,
		HealthInterval:      cfg.HealthInterval,
		MaxConcurrentPasses: cfg.MaxConcurrentPasses,
	}
}

// applyPodNamespace keeps driver state next to the driver when running in a
// cluster and the configuration left the state namespace at its default.
func applyPodNamespace(cfg *config.Config, podNamespace string) {
	if podNamespace == "" || cfg.StateNamespace != config.DefaultStateNamespace {
		return
	}
	setupLog.Info("Using pod namespace for driver state", "namespace", podNamespace)
	cfg.StateNamespace = podNamespace
}

func restConfig(cfg *config.Config) (*rest.Config, error) {
	if cfg.KubeconfigFile != "" {
		return clientcmd.BuildConfigFromFlags("", cfg.KubeconfigFile)
	}
	return ctrl.GetConfig()
}

// Run starts the driver manager. The manager serves metrics and probes and
// runs the scheduler that drives status and health passes.
func Run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts.zap)))

	if opts.configFile == "" {
		opts.configFile = os.Getenv(constants.EnvConfigFile)
	}
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyPodNamespace(cfg, os.Getenv(constants.EnvPodNamespace))
	setupLog.Info("Loaded configuration",
		"config", opts.configFile,
		"namespace_prefix", cfg.NamespacePrefix,
		"chart", cfg.Chart.Name,
		"state_namespace", cfg.StateNamespace)

	// HTTP/2 stays off unless requested, to avoid the HTTP/2 Stream
	// Cancellation and Rapid Reset CVEs:
	// - https://github.com/advisories/GHSA-qppj-fm5r-hxr3
	// - https://github.com/advisories/GHSA-4374-p667-p6c8
	var tlsOpts []func(*tls.Config)
	if !opts.enableHTTP2 {
		tlsOpts = append(tlsOpts, func(c *tls.Config) {
			setupLog.Info("disabling http/2")
			c.NextProtos = []string{"http/1.1"}
		})
	}
	metricsServerOptions := metricsserver.Options{
		BindAddress:   opts.metricsAddr,
		SecureServing: opts.secureMetrics,
		TLSOpts:       tlsOpts,
	}
	if opts.secureMetrics {
		metricsServerOptions.FilterProvider = filters.WithAuthenticationAndAuthorization
	}

	restCfg, err := restConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to load management cluster config: %w", err)
	}

	// The driver only reads and writes; nothing is watched, so nothing is cached.
	mgr, err := ctrl.NewManager(restCfg, ctrl.Options{
		Scheme:                 kube.NewScheme(),
		Metrics:                metricsServerOptions,
		HealthProbeBindAddress: opts.probeAddr,
		LeaderElection:         opts.enableLeaderElection,
		LeaderElectionID:       leaderElectionID,
		Client: client.Options{
			Cache: &client.CacheOptions{
				DisableFor: []client.Object{
					&corev1.Secret{},
					&corev1.ConfigMap{},
					&corev1.Namespace{},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("unable to create manager: %w", err)
	}

	ctx := ctrl.SetupSignalHandler()

	if !opts.skipPreflight {
		if err := kube.CheckCRDs(ctx, mgr.GetAPIReader()); err != nil {
			return fmt.Errorf("preflight failed: %w", err)
		}
	}

	sched, err := setup(ctx, mgr.GetClient(), cfg, opts)
	if err != nil {
		return err
	}
	if err := mgr.Add(sched); err != nil {
		return fmt.Errorf("unable to add scheduler: %w", err)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to set up health check: %w", err)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to set up ready check: %w", err)
	}

	setupLog.Info("starting driver manager")
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("problem running manager: %w", err)
	}
	return nil
}

// setup wires the driver to its collaborators and returns the scheduler that drives it.
func setup(ctx context.Context, c client.Client, cfg *config.Config, opts *runOptions) (*controller.Scheduler, error) {
	kubeClient := kube.NewClient(c)
	if err := kubeClient.EnsureNamespace(ctx, cfg.StateNamespace); err != nil {
		return nil, fmt.Errorf("failed to ensure state namespace: %w", err)
	}

	cloud, err := openstack.NewClientFromEnv(ctx, openstack.Options{
		Region:             cfg.OpenStack.Region,
		Interface:          cfg.OpenStack.Interface,
		CACertFile:         cfg.OpenStack.CACertFile,
		AppCredentialRoles: cfg.AppCredentialRoles,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenStack client: %w", err)
	}

	releases := helm.NewClient(exec.New(), helm.Options{
		Binary:     opts.helmBinary,
		Kubeconfig: cfg.KubeconfigFile,
		Timeout:    cfg.HelmTimeout,
		HistoryMax: cfg.HelmHistoryMax,
	})

	st := store.NewConfigMapStore(c, cfg.StateNamespace)
	d := capidriver.New(kubeClient, releases, cloud, certs.NewManager(kubeClient, certs.SelfSigned{}), st, driverOptions(cfg))

	sched, err := controller.NewScheduler(d, st, schedulerOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("unable to create scheduler: %w", err)
	}
	return sched, nil
}
