package values

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	operrors "github.com/dc-tec/capi-helm-driver/internal/errors"
)

var (
	kubeVersionStrip  = regexp.MustCompile(`[^0-9.]`)
	chartVersionStrip = regexp.MustCompile(`[^a-z0-9.-]`)
)

// KubernetesVersion normalizes an image kube_version property: a leading "v"
// is dropped and only [0-9.] is kept. The result must parse as a version.
func KubernetesVersion(raw string) (string, error) {
	if raw == "" {
		return "", operrors.NewConfigError("image does not have a kube_version property")
	}
	version := kubeVersionStrip.ReplaceAllString(strings.TrimPrefix(raw, "v"), "")
	if _, err := semver.NewVersion(version); err != nil {
		return "", operrors.NewConfigError("image kube_version %q is not a valid version", raw)
	}
	return version, nil
}

// ChartVersion returns the chart version label when set, otherwise def,
// restricted to [a-z0-9.-].
func ChartVersion(labels Labels, def string) string {
	return chartVersionStrip.ReplaceAllString(labels.String(LabelChartVersion, def), "")
}
