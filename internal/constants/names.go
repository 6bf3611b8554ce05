package constants

// Resource name suffixes joined onto the release name by naming.ResourceName.
const (
	SuffixControlPlane     = "control-plane"
	SuffixCloudCredentials = "cloud-credentials"

	SuffixCA      = "ca"
	SuffixEtcdCA  = "etcd"
	SuffixProxyCA = "proxy"
	SuffixSA      = "sa"
)

// Secret payload keys.
const (
	SecretKeyTLSCert    = "tls.crt"
	SecretKeyTLSKey     = "tls.key"
	SecretKeyCloudsYAML = "clouds.yaml"
	SecretKeyCACert     = "cacert"

	// SecretTypeClusterAPI is the Secret type CAPI expects for cluster certificate material.
	SecretTypeClusterAPI = "cluster.x-k8s.io/secret"
)

// ControlPlaneEndpointScheme is the scheme used to format the recorded API address.
const ControlPlaneEndpointScheme = "https"

// FieldOwner is the server-side apply field manager used for every write.
const FieldOwner = "capi-helm-driver"

// AppCredentialNamePrefix prefixes the Keystone application credential created per cluster.
const AppCredentialNamePrefix = "magnum-"

// KeystoneAuthWebhook is the authWebhook value enabling Keystone authentication.
const KeystoneAuthWebhook = "k8s-keystone-auth"
