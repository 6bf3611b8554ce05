package constants

// Environment variable keys read by the driver binary.
const (
	// EnvConfigFile names the configuration file when --config is not given.
	EnvConfigFile = "CAPI_HELM_DRIVER_CONFIG"

	// EnvPodNamespace is the namespace the driver runs in. It replaces the
	// default state namespace when the configuration does not name one.
	EnvPodNamespace = "POD_NAMESPACE"
)
