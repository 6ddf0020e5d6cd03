package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	labelManagedBy = "app.kubernetes.io/managed-by"
	labelComponent = "app.kubernetes.io/component"
	managedBy      = "uploadplane"

	componentDefinition = "job-definition"
	componentJob        = "job"

	dataImage     = "image"
	dataRole      = "job-role"
	dataVCPUs     = "vcpus"
	dataMemoryMiB = "memory-mib"
	dataRetries   = "retry-attempts"
	dataVolumes   = "volumes"

	// Kubernetes object names are DNS labels.
	maxKubeNameLength = 63
)

var invalidKubeNameChars = regexp.MustCompile(`[^a-z0-9-]+`)

// KubernetesConfig holds configuration for the Kubernetes backend.
type KubernetesConfig struct {
	// Namespace where definitions and jobs are created
	Namespace string
}

// KubernetesBackend keeps job definitions as ConfigMaps and runs jobs as
// batch/v1 Jobs. The definition's job role becomes the pod's service account.
type KubernetesBackend struct {
	clientset kubernetes.Interface
	config    KubernetesConfig
	logger    *slog.Logger
}

// homeDir returns the user's home directory.
func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE") // Windows
}

// NewKubernetesBackend creates a backend from in-cluster configuration,
// falling back to the local kubeconfig for development.
func NewKubernetesBackend(cfg KubernetesConfig, logger *slog.Logger) (*KubernetesBackend, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := filepath.Join(homeDir(), ".kube", "config")
		logger.Info("in-cluster config not available, trying kubeconfig", "error", err, "kubeconfig", kubeconfig)
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}
	return NewKubernetesBackendWithClient(clientset, cfg, logger), nil
}

func NewKubernetesBackendWithClient(clientset kubernetes.Interface, cfg KubernetesConfig, logger *slog.Logger) *KubernetesBackend {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	return &KubernetesBackend{clientset: clientset, config: cfg, logger: logger}
}

// kubeName lowercases name and strips characters DNS labels reject.
func kubeName(name string) string {
	name = strings.ReplaceAll(strings.ToLower(name), "_", "-")
	name = invalidKubeNameChars.ReplaceAllString(name, "")
	if len(name) > maxKubeNameLength {
		name = name[:maxKubeNameLength]
	}
	return strings.Trim(name, "-")
}

func (k *KubernetesBackend) DescribeDefinition(ctx context.Context, name string) (*Definition, error) {
	cm, err := k.clientset.CoreV1().ConfigMaps(k.config.Namespace).Get(ctx, kubeName(name), metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, ErrDefinitionNotFound
		}
		return nil, mapKubeError(err)
	}
	if cm.Labels[labelComponent] != componentDefinition {
		return nil, ErrDefinitionNotFound
	}
	def := fromConfigMap(cm)
	return &def, nil
}

func (k *KubernetesBackend) RegisterDefinition(ctx context.Context, spec DefinitionSpec) (*Definition, error) {
	volumes := make([]string, 0, len(spec.Volumes))
	for _, v := range spec.Volumes {
		volumes = append(volumes, v.HostPath+":"+v.ContainerPath)
	}

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      kubeName(spec.Name),
			Namespace: k.config.Namespace,
			Labels: map[string]string{
				labelManagedBy: managedBy,
				labelComponent: componentDefinition,
			},
			Annotations: map[string]string{"uploadplane/definition-name": spec.Name},
		},
		Data: map[string]string{
			dataImage:     spec.Image,
			dataRole:      spec.JobRole,
			dataVCPUs:     strconv.Itoa(int(spec.VCPUs)),
			dataMemoryMiB: strconv.Itoa(int(spec.MemoryMiB)),
			dataRetries:   strconv.Itoa(int(spec.RetryAttempts)),
			dataVolumes:   strings.Join(volumes, ","),
		},
	}

	created, err := k.clientset.CoreV1().ConfigMaps(k.config.Namespace).Create(ctx, cm, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		// Registered concurrently; converge on the existing one.
		return k.DescribeDefinition(ctx, spec.Name)
	}
	if err != nil {
		return nil, mapKubeError(err)
	}

	def := fromConfigMap(created)
	return &def, nil
}

func (k *KubernetesBackend) ListDefinitions(ctx context.Context) ([]Definition, error) {
	list, err := k.clientset.CoreV1().ConfigMaps(k.config.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s,%s=%s", labelManagedBy, managedBy, labelComponent, componentDefinition),
	})
	if err != nil {
		return nil, mapKubeError(err)
	}

	defs := make([]Definition, 0, len(list.Items))
	for i := range list.Items {
		defs = append(defs, fromConfigMap(&list.Items[i]))
	}
	return defs, nil
}

func (k *KubernetesBackend) DeregisterDefinition(ctx context.Context, def Definition) error {
	err := k.clientset.CoreV1().ConfigMaps(k.config.Namespace).Delete(ctx, def.Handle, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return mapKubeError(err)
}

// SubmitJob creates a Job from the definition stored in req.Definition.
func (k *KubernetesBackend) SubmitJob(ctx context.Context, req SubmitRequest) (string, error) {
	cm, err := k.clientset.CoreV1().ConfigMaps(k.config.Namespace).Get(ctx, req.Definition.Handle, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return "", fmt.Errorf("%w: %s", ErrDefinitionNotFound, req.Definition.Handle)
		}
		return "", mapKubeError(err)
	}

	job, err := k.buildJob(cm, req)
	if err != nil {
		return "", err
	}

	created, err := k.clientset.BatchV1().Jobs(k.config.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return "", mapKubeError(err)
	}

	k.logger.Debug("kubernetes job created", "job", created.Name, "namespace", k.config.Namespace)
	return created.Name, nil
}

func (k *KubernetesBackend) buildJob(cm *corev1.ConfigMap, req SubmitRequest) (*batchv1.Job, error) {
	// Names repeat across resubmissions of the same file.
	suffix := uuid.NewString()[:8]
	base := kubeName(req.Name)
	if len(base) > maxKubeNameLength-len(suffix)-1 {
		base = strings.TrimRight(base[:maxKubeNameLength-len(suffix)-1], "-")
	}
	jobName := base + "-" + suffix

	var envVars []corev1.EnvVar
	for _, key := range sortedKeys(req.Env) {
		envVars = append(envVars, corev1.EnvVar{Name: key, Value: req.Env[key]})
	}

	cpu, err := resource.ParseQuantity(cm.Data[dataVCPUs])
	if err != nil {
		return nil, fmt.Errorf("invalid vcpus in definition %s: %w", cm.Name, err)
	}
	memory, err := resource.ParseQuantity(cm.Data[dataMemoryMiB] + "Mi")
	if err != nil {
		return nil, fmt.Errorf("invalid memory in definition %s: %w", cm.Name, err)
	}

	var (
		volumes []corev1.Volume
		mounts  []corev1.VolumeMount
	)
	if raw := cm.Data[dataVolumes]; raw != "" {
		for i, pair := range strings.Split(raw, ",") {
			host, target, ok := strings.Cut(pair, ":")
			if !ok {
				return nil, fmt.Errorf("invalid volume %q in definition %s", pair, cm.Name)
			}
			name := fmt.Sprintf("vol-%d", i)
			volumes = append(volumes, corev1.Volume{
				Name: name,
				VolumeSource: corev1.VolumeSource{
					HostPath: &corev1.HostPathVolumeSource{Path: host},
				},
			})
			mounts = append(mounts, corev1.VolumeMount{Name: name, MountPath: target})
		}
	}

	// The scheduler-level attempt count includes the first run.
	backoffLimit := int32(0)
	if n, err := strconv.Atoi(cm.Data[dataRetries]); err == nil && n > 1 {
		backoffLimit = int32(n - 1)
	}

	labels := map[string]string{
		labelManagedBy: managedBy,
		labelComponent: componentJob,
		"queue":        kubeName(req.Queue),
		"definition":   cm.Name,
	}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:        jobName,
			Namespace:   k.config.Namespace,
			Labels:      labels,
			Annotations: map[string]string{"uploadplane/job-name": req.Name},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{
						"job-name":     jobName,
						labelManagedBy: managedBy,
					},
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Volumes:       volumes,
					Containers: []corev1.Container{
						{
							Name:         "job",
							Image:        cm.Data[dataImage],
							Command:      req.Command,
							Env:          envVars,
							VolumeMounts: mounts,
							Resources: corev1.ResourceRequirements{
								Limits: corev1.ResourceList{
									corev1.ResourceCPU:    cpu,
									corev1.ResourceMemory: memory,
								},
							},
						},
					},
				},
			},
		},
	}

	if role := cm.Data[dataRole]; role != "" {
		job.Spec.Template.Spec.ServiceAccountName = kubeName(role)
	}
	return job, nil
}

func fromConfigMap(cm *corev1.ConfigMap) Definition {
	name := cm.Annotations["uploadplane/definition-name"]
	if name == "" {
		name = cm.Name
	}
	return Definition{Name: name, Handle: cm.Name, Image: cm.Data[dataImage]}
}

func mapKubeError(err error) error {
	if err == nil {
		return nil
	}
	if apierrors.IsTooManyRequests(err) {
		return fmt.Errorf("%w: %v", ErrThrottled, err)
	}
	return err
}
