package values

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dc-tec/capi-helm-driver/internal/cluster"
	operrors "github.com/dc-tec/capi-helm-driver/internal/errors"
)

func TestSanitizeLabelValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "amphora", want: "amphora"},
		{in: "10.0.0.0/24;fd00::/64", want: "10.0.0.0/24;fd00::/64"},
		{in: "$(rm -rf /)", want: "rm -rf /"},
		{in: "value\"\n{{ .Values }}", want: "value .Values "},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeLabelValue(tt.in), "input %q", tt.in)
	}
}

func TestLabels(t *testing.T) {
	c := &cluster.Cluster{
		Labels: map[string]string{"a": "cluster", "flag": "TRUE", "n": "7"},
		Template: cluster.Template{
			Labels: map[string]string{"a": "template", "b": "template", "bad": "x"},
		},
	}
	labels := NewLabels(c)

	assert.Equal(t, "cluster", labels.String("a", "default"))
	assert.Equal(t, "template", labels.String("b", "default"))
	assert.Equal(t, "default", labels.String("c", "default"))
	assert.True(t, labels.Has("b"))
	assert.False(t, labels.Has("c"))

	assert.True(t, labels.Bool("flag", false))
	assert.False(t, labels.Bool("a", true))
	assert.True(t, labels.Bool("missing", true))

	n, err := labels.Int("n", 0)
	assert.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = labels.Int("bad", 0)
	assert.ErrorIs(t, err, operrors.ErrPermanentConfig)
}

func TestKubernetesVersion(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "v1.30.2", want: "1.30.2"},
		{raw: "1.29.0", want: "1.29.0"},
		{raw: "v1.28", want: "1.28"},
		{raw: "", wantErr: true},
		{raw: "latest", wantErr: true},
	}

	for _, tt := range tests {
		got, err := KubernetesVersion(tt.raw)
		if tt.wantErr {
			assert.ErrorIs(t, err, operrors.ErrPermanentConfig, "input %q", tt.raw)
			continue
		}
		assert.NoError(t, err, "input %q", tt.raw)
		assert.Equal(t, tt.want, got)
	}
}

func TestChartVersion(t *testing.T) {
	assert.Equal(t, "0.10.0", ChartVersion(NewLabels(&cluster.Cluster{}), "0.10.0"))

	c := &cluster.Cluster{Template: cluster.Template{Labels: map[string]string{LabelChartVersion: "0.11.0-rc.1"}}}
	assert.Equal(t, "0.11.0-rc.1", ChartVersion(NewLabels(c), "0.10.0"))

	c.Labels = map[string]string{LabelChartVersion: "0.12.0_Beta"}
	assert.Equal(t, "0.12.0eta", ChartVersion(NewLabels(c), "0.10.0"))
}
