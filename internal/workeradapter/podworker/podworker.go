// Package podworker implements internal/taskpool.Worker by running each
// task as a single-container Kubernetes pod, for deployments of the
// kernel that run agent workloads on a cluster rather than a local
// Docker daemon (spec.md §6, "Worker adapter").
//
// Grounded on the pod-lifecycle shape of
// hortator-ai/Hortator's internal/controller (build pod spec, create,
// poll phase, fetch logs, delete), adapted from controller-runtime's
// reconciler style to a direct k8s.io/client-go typed clientset since
// the kernel is not itself a Kubernetes controller.
package podworker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/google/uuid"

	"github.com/cortexos/kernel/internal/taskpool"
)

// Config controls which cluster and namespace pods are created in.
type Config struct {
	// Namespace pods are created in. Defaults to "default".
	Namespace string
	// Kubeconfig is a path to a kubeconfig file. When empty, in-cluster
	// config is used (the kernel is assumed to run as a pod itself).
	Kubeconfig string
}

// Worker runs tasks as Kubernetes pods.
type Worker struct {
	cfg       Config
	clientset kubernetes.Interface
}

// New builds a Worker from Config, resolving an in-cluster config when
// cfg.Kubeconfig is empty.
func New(cfg Config) (*Worker, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}

	var restCfg *rest.Config
	var err error
	if cfg.Kubeconfig != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	} else {
		restCfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("podworker: resolve kube config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("podworker: build clientset: %w", err)
	}
	return &Worker{cfg: cfg, clientset: clientset}, nil
}

// NewWithClientset builds a Worker directly from an existing clientset,
// used by tests against a fake.Clientset.
func NewWithClientset(cfg Config, clientset kubernetes.Interface) *Worker {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	return &Worker{cfg: cfg, clientset: clientset}
}

// CreateContainer implements taskpool.Worker by creating (but not
// scheduling-blocking-on) a single-container pod.
func (w *Worker) CreateContainer(ctx context.Context, spec taskpool.CreateSpec) (taskpool.ContainerInfo, error) {
	image := spec.Environment.Image
	if image == "" {
		return taskpool.ContainerInfo{}, fmt.Errorf("podworker: environment %q has no image", spec.Environment.ID)
	}

	cmd := spec.Command
	if len(cmd) == 0 {
		cmd = spec.Environment.Command
	}

	workdir := spec.Workdir
	if workdir == "" {
		workdir = spec.Environment.Workdir
	}

	var envVars []corev1.EnvVar
	for k, v := range spec.Environment.Env {
		envVars = append(envVars, corev1.EnvVar{Name: k, Value: v})
	}
	for k, v := range spec.Env {
		envVars = append(envVars, corev1.EnvVar{Name: k, Value: v})
	}

	var volumes []corev1.Volume
	var volumeMounts []corev1.VolumeMount
	for i, m := range spec.Mounts {
		name := fmt.Sprintf("mount-%d", i)
		volumes = append(volumes, corev1.Volume{
			Name: name,
			VolumeSource: corev1.VolumeSource{
				HostPath: &corev1.HostPathVolumeSource{Path: m.HostPath},
			},
		})
		volumeMounts = append(volumeMounts, corev1.VolumeMount{
			Name:      name,
			MountPath: m.ContainerPath,
			ReadOnly:  m.ReadOnly,
		})
	}

	podName := spec.Name
	if podName == "" {
		podName = fmt.Sprintf("cortexos-task-%s", uuid.NewString())
	}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName,
			Namespace: w.cfg.Namespace,
			Labels:    map[string]string{"cortexos.io/managed-by": "taskpool"},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:         "task",
				Image:        image,
				Command:      cmd,
				WorkingDir:   workdir,
				Env:          envVars,
				VolumeMounts: volumeMounts,
			}},
			Volumes: volumes,
		},
	}

	created, err := w.clientset.CoreV1().Pods(w.cfg.Namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return taskpool.ContainerInfo{}, fmt.Errorf("podworker: create pod: %w", err)
	}

	return taskpool.ContainerInfo{
		ID:            uuid.NewString(),
		ContainerID:   created.Name,
		EnvironmentID: spec.Environment.ID,
		Status:        taskpool.ContainerCreated,
		CreatedAt:     time.Now(),
	}, nil
}

// StartContainer implements taskpool.Worker. Pods start as soon as the
// scheduler places them, so this only verifies the pod still exists.
func (w *Worker) StartContainer(ctx context.Context, id string) error {
	_, err := w.clientset.CoreV1().Pods(w.cfg.Namespace).Get(ctx, id, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("podworker: start (verify) pod: %w", err)
	}
	return nil
}

// StopContainer implements taskpool.Worker by deleting the pod with a
// grace period.
func (w *Worker) StopContainer(ctx context.Context, id string, graceSeconds int) error {
	grace := int64(graceSeconds)
	err := w.clientset.CoreV1().Pods(w.cfg.Namespace).Delete(ctx, id, metav1.DeleteOptions{
		GracePeriodSeconds: &grace,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("podworker: stop pod: %w", err)
	}
	return nil
}

// RemoveContainer implements taskpool.Worker by force-deleting the pod.
func (w *Worker) RemoveContainer(ctx context.Context, id string, force bool) error {
	grace := int64(0)
	opts := metav1.DeleteOptions{}
	if force {
		opts.GracePeriodSeconds = &grace
	}
	err := w.clientset.CoreV1().Pods(w.cfg.Namespace).Delete(ctx, id, opts)
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("podworker: remove pod: %w", err)
	}
	return nil
}

// WaitForContainer implements taskpool.Worker by polling pod phase until
// it leaves Pending/Running, or returning taskpool.ErrTimeout.
func (w *Worker) WaitForContainer(ctx context.Context, id string, timeoutMs int) (taskpool.WaitResult, error) {
	waitCtx := ctx
	var cancel context.CancelFunc
	if timeoutMs > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	const pollInterval = 500 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		pod, err := w.clientset.CoreV1().Pods(w.cfg.Namespace).Get(waitCtx, id, metav1.GetOptions{})
		if err != nil {
			return taskpool.WaitResult{}, fmt.Errorf("podworker: get pod: %w", err)
		}

		switch pod.Status.Phase {
		case corev1.PodSucceeded:
			return taskpool.WaitResult{ExitCode: 0, Status: taskpool.ContainerExited}, nil
		case corev1.PodFailed:
			exitCode := exitCodeFromStatus(pod)
			return taskpool.WaitResult{ExitCode: exitCode, Status: taskpool.ContainerExited}, nil
		}

		select {
		case <-waitCtx.Done():
			grace := int64(0)
			_ = w.clientset.CoreV1().Pods(w.cfg.Namespace).Delete(ctx, id, metav1.DeleteOptions{GracePeriodSeconds: &grace})
			return taskpool.WaitResult{}, taskpool.ErrTimeout
		case <-ticker.C:
		}
	}
}

func exitCodeFromStatus(pod *corev1.Pod) int {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Terminated != nil {
			return int(cs.State.Terminated.ExitCode)
		}
	}
	return -1
}

// GetContainerLogs implements taskpool.Worker via the pod's log stream.
func (w *Worker) GetContainerLogs(ctx context.Context, id string, opts taskpool.LogOptions) (string, error) {
	logOpts := &corev1.PodLogOptions{Timestamps: opts.Timestamps}
	if opts.Tail > 0 {
		tail := int64(opts.Tail)
		logOpts.TailLines = &tail
	}

	req := w.clientset.CoreV1().Pods(w.cfg.Namespace).GetLogs(id, logOpts)
	stream, err := req.Stream(ctx)
	if err != nil {
		return "", fmt.Errorf("podworker: get logs: %w", err)
	}
	defer stream.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, stream); err != nil {
		return "", fmt.Errorf("podworker: read log stream: %w", err)
	}
	return buf.String(), nil
}

// Cleanup implements taskpool.Worker by force-deleting every pod
// labeled as managed by this worker, best-effort.
func (w *Worker) Cleanup(ctx context.Context, force bool) error {
	pods, err := w.clientset.CoreV1().Pods(w.cfg.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "cortexos.io/managed-by=taskpool",
	})
	if err != nil {
		return fmt.Errorf("podworker: list pods: %w", err)
	}

	grace := int64(0)
	opts := metav1.DeleteOptions{}
	if force {
		opts.GracePeriodSeconds = &grace
	}

	var firstErr error
	for _, pod := range pods.Items {
		if err := w.clientset.CoreV1().Pods(w.cfg.Namespace).Delete(ctx, pod.Name, opts); err != nil && !apierrors.IsNotFound(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
