// Package helm drives the helm CLI to install, upgrade and uninstall the
// release that owns a cluster's Cluster API resources.
package helm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/exec"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/yaml"

	"github.com/dc-tec/capi-helm-driver/internal/constants"
)

const releaseNotFound = "release: not found"

// OCIPrefix marks chart references served from an OCI registry.
const OCIPrefix = "oci://"

// Options configure every helm invocation.
type Options struct {
	Binary     string
	Kubeconfig string
	Timeout    time.Duration
	HistoryMax int
}

// Chart identifies the chart to install.
type Chart struct {
	Name       string
	Repository string
	Version    string
}

// Client runs helm through an exec.Interface.
type Client struct {
	exec exec.Interface
	opts Options
}

// NewClient returns a helm client. Zero-valued options fall back to defaults.
func NewClient(e exec.Interface, opts Options) *Client {
	if opts.Binary == "" {
		opts.Binary = "helm"
	}
	if opts.Timeout == 0 {
		opts.Timeout = constants.HelmTimeout
	}
	if opts.HistoryMax == 0 {
		opts.HistoryMax = constants.HelmHistoryMax
	}
	return &Client{exec: e, opts: opts}
}

// CommandError is returned when helm exits unsuccessfully.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("helm %s failed: %v: %s", strings.Join(e.Args, " "), e.Err, strings.TrimSpace(e.Stderr))
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsReleaseNotFound reports whether err is helm complaining about a missing release.
func IsReleaseNotFound(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr) && strings.Contains(cmdErr.Stderr, releaseNotFound)
}

// InstallOrUpgrade installs the release, or upgrades it in place, with the
// merged values piped on stdin. Returns the parsed JSON release description.
func (c *Client) InstallOrUpgrade(ctx context.Context, release string, chart Chart, namespace string, values ...map[string]any) (map[string]any, error) {
	logger := log.FromContext(ctx).WithValues("release", release, "namespace", namespace)

	args := []string{
		"upgrade",
		release,
		chart.Name,
		"--history-max", strconv.Itoa(c.opts.HistoryMax),
		"--install",
		"--output", "json",
		"--timeout", helmDuration(c.opts.Timeout),
		"--values", "-",
		"--namespace", namespace,
	}
	if chart.Repository != "" && !strings.HasPrefix(chart.Name, OCIPrefix) {
		args = append(args, "--repo", chart.Repository)
	}
	if chart.Version != "" {
		args = append(args, "--version", chart.Version)
	}

	merged, ok := MergeConcat(toAny(values)...).(map[string]any)
	if !ok {
		merged = map[string]any{}
	}
	stdin, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode values for release %s: %w", release, err)
	}

	stdout, err := c.run(ctx, logger, args, stdin)
	if err != nil {
		return nil, err
	}

	out := map[string]any{}
	if len(bytes.TrimSpace(stdout)) > 0 {
		if err := json.Unmarshal(stdout, &out); err != nil {
			return nil, fmt.Errorf("failed to parse helm output for release %s: %w", release, err)
		}
	}
	return out, nil
}

// Uninstall removes the release. A release that does not exist is not an error.
func (c *Client) Uninstall(ctx context.Context, release, namespace string) error {
	logger := log.FromContext(ctx).WithValues("release", release, "namespace", namespace)

	args := []string{
		"uninstall",
		release,
		"--timeout", helmDuration(c.opts.Timeout),
		"--namespace", namespace,
	}
	if _, err := c.run(ctx, logger, args, nil); err != nil {
		if IsReleaseNotFound(err) {
			logger.V(1).Info("Release already uninstalled")
			return nil
		}
		return err
	}
	return nil
}

func (c *Client) run(ctx context.Context, logger logr.Logger, args []string, stdin []byte) ([]byte, error) {
	if c.opts.Kubeconfig != "" {
		args = append(args, "--kubeconfig", c.opts.Kubeconfig)
	}

	var stdout, stderr bytes.Buffer
	cmd := c.exec.CommandContext(ctx, c.opts.Binary, args...)
	cmd.SetStdout(&stdout)
	cmd.SetStderr(&stderr)
	if stdin != nil {
		cmd.SetStdin(bytes.NewReader(stdin))
	}

	logger.V(1).Info("Running helm", "args", args)
	if err := cmd.Run(); err != nil {
		return nil, &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

func toAny(values []map[string]any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

// helmDuration renders d the way it is written on a helm command line, so 5m0s becomes 5m.
func helmDuration(d time.Duration) string {
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	return s
}
