package values

import (
	"slices"

	operrors "github.com/dc-tec/capi-helm-driver/internal/errors"
	"github.com/dc-tec/capi-helm-driver/internal/naming"
)

const (
	defaultStorageClassName = "default"
	storageReclaimPolicy    = "Delete"
)

// VolumeTypes are the Cinder volume types visible to the cluster's project.
type VolumeTypes struct {
	Names []string
	// Default is the Cinder default type, used when no default is configured.
	// When both are empty the first listed type becomes the default.
	Default string
}

// storageClasses renders addons.openstack.csiCinder: one default class and an
// additional class per remaining volume type.
func storageClasses(volumes VolumeTypes, opts Options) (Tree, error) {
	if len(volumes.Names) == 0 {
		return Tree{"defaultStorageClass": Tree{"enabled": false}}, nil
	}

	defaultType := opts.DefaultVolumeType
	if defaultType == "" {
		defaultType = volumes.Default
	}
	if defaultType == "" {
		defaultType = volumes.Names[0]
	}
	if !slices.Contains(volumes.Names, defaultType) {
		return nil, operrors.NewConfigError("default volume type %q does not exist", defaultType)
	}

	defaultClass := storageClass(defaultStorageClassName, defaultType, opts.DefaultVolumeAZ)
	defaultClass["enabled"] = true

	additional := []any{}
	for _, name := range volumes.Names {
		if name == defaultType {
			continue
		}
		additional = append(additional, storageClass(naming.SanitizedName(name, ""), name, opts.DefaultVolumeAZ))
	}

	return Tree{
		"defaultStorageClass":      defaultClass,
		"additionalStorageClasses": additional,
	}, nil
}

func storageClass(name, volumeType, availabilityZone string) Tree {
	class := Tree{
		"name":                 name,
		"volumeType":           volumeType,
		"reclaimPolicy":        storageReclaimPolicy,
		"allowVolumeExpansion": true,
	}
	if availabilityZone != "" {
		class["availabilityZone"] = availabilityZone
	}
	return class
}
