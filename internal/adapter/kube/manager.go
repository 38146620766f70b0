// Package kube implements cluster operations for instance workloads on
// top of the Kubernetes API.
package kube

import (
	"context"
	"fmt"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/neomorfeo/provisioniq/internal/domain"
)

const (
	appName       = "instance-app"
	containerPort = 8080
	clusterIssuer = "letsencrypt-prod"
)

// Config holds cluster-level settings for the manager.
type Config struct {
	// AppImage is the container image deployed for each instance.
	AppImage string

	// IngressNamespace and IngressService locate the ingress controller's
	// load balancer service, whose external address DNS records point at.
	IngressNamespace string
	IngressService   string

	// IngressAddress, when set, is used directly instead of looking up
	// the load balancer service.
	IngressAddress string
}

// Manager implements domain.ClusterManager against a Kubernetes cluster.
type Manager struct {
	clientset kubernetes.Interface
	cfg       Config
}

// Compile-time check: Manager implements domain.ClusterManager.
var _ domain.ClusterManager = (*Manager)(nil)

// New creates a manager from a kubeconfig file.
func New(kubeconfigPath string, cfg Config) (*Manager, error) {
	config, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("building kubeconfig: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("creating clientset: %w", err)
	}

	return NewWithClientset(clientset, cfg), nil
}

// NewWithClientset creates a manager around an existing clientset. Tests
// use this with the fake clientset.
func NewWithClientset(clientset kubernetes.Interface, cfg Config) *Manager {
	return &Manager{clientset: clientset, cfg: cfg}
}

// CreateNamespace creates a namespace with the given labels. Returns
// domain.ErrAlreadyExists when the namespace is already present, so
// callers can treat re-runs as idempotent.
func (m *Manager) CreateNamespace(ctx context.Context, name string, labels map[string]string) error {
	sanitized := make(map[string]string, len(labels))
	for k, v := range labels {
		sanitized[k] = sanitizeLabelValue(v)
	}

	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: sanitized,
		},
	}

	_, err := m.clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("creating namespace %s: %w", name, err)
	}
	return nil
}

// CreateSecret creates or replaces an opaque secret in the namespace.
func (m *Manager) CreateSecret(ctx context.Context, namespace, name string, data map[string]string) error {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
		},
		Type:       corev1.SecretTypeOpaque,
		StringData: data,
	}

	_, err := m.clientset.CoreV1().Secrets(namespace).Create(ctx, secret, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		_, err = m.clientset.CoreV1().Secrets(namespace).Update(ctx, secret, metav1.UpdateOptions{})
	}
	if err != nil {
		return fmt.Errorf("writing secret %s/%s: %w", namespace, name, err)
	}
	return nil
}

// DeployWorkload creates the Deployment, Service and Ingress for an
// instance and returns its public endpoints. The ingress carries the
// cert-manager issuer annotation so certificate issuance starts as soon
// as the record resolves.
func (m *Manager) DeployWorkload(ctx context.Context, namespace string, spec domain.WorkloadSpec) (domain.WorkloadEndpoints, error) {
	replicas := int32(spec.Replicas)

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      appName,
			Namespace: namespace,
			Labels:    map[string]string{"app": appName},
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{"app": appName},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{"app": appName},
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  appName,
						Image: m.cfg.AppImage,
						Ports: []corev1.ContainerPort{{ContainerPort: containerPort}},
						EnvFrom: []corev1.EnvFromSource{{
							SecretRef: &corev1.SecretEnvSource{
								LocalObjectReference: corev1.LocalObjectReference{Name: "database-credentials"},
							},
						}},
						Resources: corev1.ResourceRequirements{
							Requests: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse(spec.CPURequest),
								corev1.ResourceMemory: resource.MustParse(spec.MemoryRequest),
							},
							Limits: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse(spec.CPULimit),
								corev1.ResourceMemory: resource.MustParse(spec.MemoryLimit),
							},
						},
					}},
				},
			},
		},
	}

	if _, err := m.clientset.AppsV1().Deployments(namespace).Create(ctx, deployment, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		return domain.WorkloadEndpoints{}, fmt.Errorf("creating deployment: %w", err)
	}

	service := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      appName,
			Namespace: namespace,
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{"app": appName},
			Ports: []corev1.ServicePort{{
				Port:       80,
				TargetPort: intstr.FromInt32(containerPort),
			}},
		},
	}

	if _, err := m.clientset.CoreV1().Services(namespace).Create(ctx, service, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		return domain.WorkloadEndpoints{}, fmt.Errorf("creating service: %w", err)
	}

	pathType := networkingv1.PathTypePrefix
	ingress := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:      appName,
			Namespace: namespace,
			Annotations: map[string]string{
				"cert-manager.io/cluster-issuer": clusterIssuer,
			},
		},
		Spec: networkingv1.IngressSpec{
			TLS: []networkingv1.IngressTLS{{
				Hosts:      []string{spec.Host},
				SecretName: namespace + "-tls",
			}},
			Rules: []networkingv1.IngressRule{{
				Host: spec.Host,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     "/",
							PathType: &pathType,
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: appName,
									Port: networkingv1.ServiceBackendPort{Number: 80},
								},
							},
						}},
					},
				},
			}},
		},
	}

	if _, err := m.clientset.NetworkingV1().Ingresses(namespace).Create(ctx, ingress, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		return domain.WorkloadEndpoints{}, fmt.Errorf("creating ingress: %w", err)
	}

	return domain.WorkloadEndpoints{
		URL:    "https://" + spec.Host,
		APIURL: "https://" + spec.Host + "/api",
	}, nil
}

// DeleteNamespace removes a namespace and everything in it. Returns
// domain.ErrNotFound when the namespace does not exist.
func (m *Manager) DeleteNamespace(ctx context.Context, name string) error {
	err := m.clientset.CoreV1().Namespaces().Delete(ctx, name, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting namespace %s: %w", name, err)
	}
	return nil
}

// NamespaceHealth reports pod readiness within a namespace.
func (m *Manager) NamespaceHealth(ctx context.Context, name string) (domain.NamespaceHealth, error) {
	pods, err := m.clientset.CoreV1().Pods(name).List(ctx, metav1.ListOptions{})
	if err != nil {
		return domain.NamespaceHealth{}, fmt.Errorf("listing pods in %s: %w", name, err)
	}

	health := domain.NamespaceHealth{PodsTotal: len(pods.Items)}
	for _, pod := range pods.Items {
		if podReady(pod) {
			health.PodsReady++
		}
	}
	health.Healthy = health.PodsTotal > 0 && health.PodsReady == health.PodsTotal

	return health, nil
}

// IngressAddress returns the external address DNS records should point
// at: either the configured static address or the ingress controller's
// load balancer.
func (m *Manager) IngressAddress(ctx context.Context) (string, error) {
	if m.cfg.IngressAddress != "" {
		return m.cfg.IngressAddress, nil
	}

	svc, err := m.clientset.CoreV1().Services(m.cfg.IngressNamespace).Get(ctx, m.cfg.IngressService, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("looking up ingress service: %w", err)
	}

	for _, ing := range svc.Status.LoadBalancer.Ingress {
		if ing.IP != "" {
			return ing.IP, nil
		}
		if ing.Hostname != "" {
			return ing.Hostname, nil
		}
	}

	return "", fmt.Errorf("ingress service %s/%s has no external address", m.cfg.IngressNamespace, m.cfg.IngressService)
}

func podReady(pod corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// sanitizeLabelValue rewrites a value to satisfy Kubernetes label syntax:
// at most 63 characters, alphanumeric at both ends, with only '-', '_',
// '.' and alphanumerics in between. Owner emails, for example, carry '@'.
func sanitizeLabelValue(v string) string {
	var b strings.Builder
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}

	s := b.String()
	if len(s) > 63 {
		s = s[:63]
	}
	s = strings.Trim(s, "-_.")

	return s
}
