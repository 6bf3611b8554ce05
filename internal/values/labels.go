package values

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dc-tec/capi-helm-driver/internal/cluster"
	operrors "github.com/dc-tec/capi-helm-driver/internal/errors"
)

// Label keys understood by the builder.
const (
	LabelKubeDashboardEnabled  = "kube_dashboard_enabled"
	LabelMonitoringEnabled     = "monitoring_enabled"
	LabelIngressEnabled        = "ingress_enabled"
	LabelAutoHealingEnabled    = "auto_healing_enabled"
	LabelAutoScalingEnabled    = "auto_scaling_enabled"
	LabelOctaviaProvider       = "octavia_provider"
	LabelFixedSubnetCIDR       = "fixed_subnet_cidr"
	LabelAPILBAllowedCIDRs     = "api_master_lb_allowed_cidrs"
	LabelKeystoneAuthEnabled   = "keystone_auth_enabled"
	LabelBootVolumeSize        = "boot_volume_size"
	LabelBootVolumeType        = "boot_volume_type"
	LabelEtcdBlockDeviceSize   = "etcd_blockdevice_size"
	LabelEtcdBlockDeviceType   = "etcd_blockdevice_type"
	LabelEtcdBlockDeviceVolume = "etcd_blockdevice_volume_type"
	LabelEtcdBlockDeviceAZ     = "etcd_blockdevice_volume_az"
	LabelEtcdVolumeSizeLegacy  = "etcd_volume_size"
	LabelEtcdVolumeTypeLegacy  = "etcd_volume_type"
	LabelChartVersion          = "capi_helm_chart_version"
)

// Tenant-supplied label values may only contain these characters.
var labelValueStrip = regexp.MustCompile(`[^a-zA-Z0-9./_:;, -]+`)

// Labels resolves label values with cluster labels taking precedence over
// template labels, which take precedence over the caller's default.
type Labels struct {
	merged map[string]string
}

// NewLabels merges the template and cluster labels of c.
func NewLabels(c *cluster.Cluster) Labels {
	merged := make(map[string]string, len(c.Template.Labels)+len(c.Labels))
	for k, v := range c.Template.Labels {
		merged[k] = v
	}
	for k, v := range c.Labels {
		merged[k] = v
	}
	return Labels{merged: merged}
}

// Has reports whether the label is set on the cluster or its template.
func (l Labels) Has(key string) bool {
	_, ok := l.merged[key]
	return ok
}

// String returns the sanitized label value, or def when unset.
func (l Labels) String(key, def string) string {
	raw, ok := l.merged[key]
	if !ok {
		return def
	}
	return SanitizeLabelValue(raw)
}

// Bool returns true only when the label is set to "true" (case-insensitive).
func (l Labels) Bool(key string, def bool) bool {
	raw, ok := l.merged[key]
	if !ok {
		return def
	}
	return strings.EqualFold(strings.TrimSpace(SanitizeLabelValue(raw)), "true")
}

// Int parses an integer label. A malformed value is a configuration error.
func (l Labels) Int(key string, def int) (int, error) {
	raw, ok := l.merged[key]
	if !ok {
		return def, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(SanitizeLabelValue(raw)))
	if err != nil {
		return 0, operrors.NewConfigError("label %s must be an integer, got %q", key, raw)
	}
	return value, nil
}

// SanitizeLabelValue strips every character outside the label allow-list.
func SanitizeLabelValue(raw string) string {
	return labelValueStrip.ReplaceAllString(raw, "")
}
