// Package certs materializes the CA Secrets Cluster API expects for a cluster
// (cluster CA, etcd CA, front proxy CA and service account key pair).
package certs

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/dc-tec/capi-helm-driver/internal/cluster"
	"github.com/dc-tec/capi-helm-driver/internal/constants"
	"github.com/dc-tec/capi-helm-driver/internal/naming"
)

const (
	caCertValidityYears = 10
	rsaKeyBits          = 2048
)

// Kinds of certificate material, in the order they are materialized. Each
// kind is stored in the Secret "<release>-<kind>".
var Kinds = []string{
	constants.SuffixCA,
	constants.SuffixEtcdCA,
	constants.SuffixProxyCA,
	constants.SuffixSA,
}

// KeyPair is PEM encoded certificate material.
type KeyPair struct {
	CertPEM []byte
	KeyPEM  []byte
}

// Source supplies the key pair of one kind for a cluster.
type Source interface {
	KeyPair(ctx context.Context, c *cluster.Cluster, kind string) (KeyPair, error)
}

// SecretClient is the subset of the management client the manager needs.
type SecretClient interface {
	GetSecret(ctx context.Context, name, namespace string) (*corev1.Secret, error)
	ApplySecret(ctx context.Context, secret *corev1.Secret) error
}

// Manager writes CA Secrets for clusters.
type Manager struct {
	client SecretClient
	source Source
}

// NewManager returns a manager drawing key pairs from source.
func NewManager(c SecretClient, source Source) *Manager {
	return &Manager{client: c, source: source}
}

// SecretName returns the Secret holding kind for the cluster.
func SecretName(c *cluster.Cluster, kind string) string {
	return naming.ResourceName(c, kind)
}

// EnsureSecrets creates any missing CA Secret in namespace. Existing Secrets
// are never replaced, so a cluster keeps its CAs for its whole life.
func (m *Manager) EnsureSecrets(ctx context.Context, c *cluster.Cluster, namespace string, labels map[string]string) error {
	logger := log.FromContext(ctx)
	metrics := newCAMetrics(namespace)

	for _, kind := range Kinds {
		name := SecretName(c, kind)

		existing, err := m.client.GetSecret(ctx, name, namespace)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		pair, err := m.source.KeyPair(ctx, c, kind)
		if err != nil {
			return fmt.Errorf("failed to obtain %s key pair: %w", kind, err)
		}

		if err := m.client.ApplySecret(ctx, buildSecret(name, namespace, labels, pair)); err != nil {
			return fmt.Errorf("failed to apply CA secret %s/%s: %w", namespace, name, err)
		}
		metrics.incrementCreated(kind)
		logger.Info("Created CA secret", "secret", name, "kind", kind)
	}
	return nil
}

func buildSecret(name, namespace string, labels map[string]string, pair KeyPair) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    labels,
		},
		Type: corev1.SecretType(constants.SecretTypeClusterAPI),
		Data: map[string][]byte{
			constants.SecretKeyTLSCert: pair.CertPEM,
			constants.SecretKeyTLSKey:  pair.KeyPEM,
		},
	}
}

// SelfSigned generates a fresh self-signed RSA CA for each request.
type SelfSigned struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

// KeyPair implements Source.
func (s SelfSigned) KeyPair(_ context.Context, c *cluster.Cluster, kind string) (KeyPair, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return generateCA(fmt.Sprintf("%s %s", c.Name, kind), now())
}

func generateCA(commonName string, now time.Time) (KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to generate CA private key: %w", err)
	}

	serialNumber, err := randSerialNumber()
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to generate CA serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"Magnum"},
		},
		NotBefore:             now.Add(-1 * time.Hour),
		NotAfter:              now.AddDate(caCertValidityYears, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to create CA certificate: %w", err)
	}

	return KeyPair{
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)}),
	}, nil
}

func randSerialNumber() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serialNumber, nil
}
