// Package spawner provisions and tears down the per-project cluster
// environment: a control namespace running the trusted solver controller and
// data gatherer, and a quota-bounded solver namespace for the untrusted
// solver workloads.
package spawner

import (
	"context"
	"errors"
	"fmt"
	"log"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/psp-platform/solver-director/config"
)

const (
	// ProjectLabel marks every namespace belonging to a project; its value
	// is the project id.
	ProjectLabel = "solver-platform/project"
	// OwnerLabel carries the owning user id on the control namespace and is
	// what the per-user cap counts.
	OwnerLabel = "solver-platform/owner"
)

// ErrUserLimitReached is returned before any resource is created when the
// user already runs the configured number of environments.
var ErrUserLimitReached = errors.New("user has reached its limit for concurrent solver controllers")

type Spawner struct {
	client kubernetes.Interface
	cfg    *config.Config
}

func New(client kubernetes.Interface, cfg *config.Config) *Spawner {
	return &Spawner{client: client, cfg: cfg}
}

// NewClient builds a clientset from the in-cluster service account or, for
// local development, from a kubeconfig file.
func NewClient(kcfg config.KubeConfig) (kubernetes.Interface, error) {
	var (
		restCfg *rest.Config
		err     error
	)
	if kcfg.InCluster {
		restCfg, err = rest.InClusterConfig()
	} else {
		restCfg, err = clientcmd.BuildConfigFromFlags("", kcfg.Kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("kube config: %w", err)
	}
	return kubernetes.NewForConfig(restCfg)
}

// SolversNamespace is the name of a project's solver-execution namespace.
func SolversNamespace(projectID string) string {
	return projectID + "-solvers"
}

// Provision creates the full environment for projectID. Every object
// creation treats "already exists" as success, so a re-run after a partial
// failure converges instead of erroring. The per-user cap is checked before
// anything is created.
func (s *Spawner) Provision(ctx context.Context, projectID, userID string) error {
	n, err := s.CountUserEnvironments(ctx, userID)
	if err != nil {
		return fmt.Errorf("count user environments: %w", err)
	}
	if n >= s.cfg.Limits.MaxUserControllers {
		return ErrUserLimitReached
	}

	controlNS := projectID
	solverNS := SolversNamespace(projectID)

	if err := s.ensureNamespace(ctx, controlNamespace(projectID, userID)); err != nil {
		return fmt.Errorf("control namespace: %w", err)
	}
	if err := s.ensureNamespace(ctx, solverNamespace(projectID)); err != nil {
		return fmt.Errorf("solver namespace: %w", err)
	}

	if err := s.copyPullSecret(ctx, controlNS); err != nil {
		return fmt.Errorf("pull secret into %s: %w", controlNS, err)
	}
	if err := s.copyPullSecret(ctx, solverNS); err != nil {
		return fmt.Errorf("pull secret into %s: %w", solverNS, err)
	}

	role := solverSpawnRole(solverNS)
	if _, err := s.client.RbacV1().Roles(solverNS).Create(ctx, role, metav1.CreateOptions{}); ignoreAlreadyExists(err) != nil {
		return fmt.Errorf("solver role: %w", err)
	}
	binding := solverSpawnRoleBinding(solverNS, controlNS, role.Name)
	if _, err := s.client.RbacV1().RoleBindings(solverNS).Create(ctx, binding, metav1.CreateOptions{}); ignoreAlreadyExists(err) != nil {
		return fmt.Errorf("solver role binding: %w", err)
	}

	quota := solverQuota(solverNS, s.cfg.Limits)
	if _, err := s.client.CoreV1().ResourceQuotas(solverNS).Create(ctx, quota, metav1.CreateOptions{}); ignoreAlreadyExists(err) != nil {
		return fmt.Errorf("solver quota: %w", err)
	}

	controller := s.solverControllerDeployment(projectID)
	if _, err := s.client.AppsV1().Deployments(controlNS).Create(ctx, controller, metav1.CreateOptions{}); ignoreAlreadyExists(err) != nil {
		return fmt.Errorf("solver controller deployment: %w", err)
	}
	controllerSvc := s.solverControllerService(projectID)
	if _, err := s.client.CoreV1().Services(controlNS).Create(ctx, controllerSvc, metav1.CreateOptions{}); ignoreAlreadyExists(err) != nil {
		return fmt.Errorf("solver controller service: %w", err)
	}

	gatherer := s.dataGathererDeployment(projectID)
	if _, err := s.client.AppsV1().Deployments(controlNS).Create(ctx, gatherer, metav1.CreateOptions{}); ignoreAlreadyExists(err) != nil {
		return fmt.Errorf("data gatherer deployment: %w", err)
	}
	gathererSvc := s.dataGathererService(projectID)
	if _, err := s.client.CoreV1().Services(controlNS).Create(ctx, gathererSvc, metav1.CreateOptions{}); ignoreAlreadyExists(err) != nil {
		return fmt.Errorf("data gatherer service: %w", err)
	}

	log.Printf("spawner: provisioned environment for project %s (user %s)", projectID, userID)
	return nil
}

// Teardown deletes both namespaces; the cluster cascades everything inside
// them. Absent namespaces are not an error, so the call is safe on partially
// provisioned or already-deleted projects.
func (s *Spawner) Teardown(ctx context.Context, projectID string) error {
	for _, ns := range []string{projectID, SolversNamespace(projectID)} {
		err := s.client.CoreV1().Namespaces().Delete(ctx, ns, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("delete namespace %s: %w", ns, err)
		}
	}
	return nil
}

// CountUserEnvironments counts the user's live control namespaces. The count
// is re-read on every call; under concurrent creates by one user the cap is
// best-effort.
func (s *Spawner) CountUserEnvironments(ctx context.Context, userID string) (int, error) {
	list, err := s.client.CoreV1().Namespaces().List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", OwnerLabel, userID),
	})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ns := range list.Items {
		if ns.DeletionTimestamp == nil {
			n++
		}
	}
	return n, nil
}

// ListProjectNamespaces returns all control namespaces carrying a project
// label, for the reconciliation sweep.
func (s *Spawner) ListProjectNamespaces(ctx context.Context) ([]ProjectNamespace, error) {
	list, err := s.client.CoreV1().Namespaces().List(ctx, metav1.ListOptions{
		LabelSelector: OwnerLabel,
	})
	if err != nil {
		return nil, err
	}
	out := make([]ProjectNamespace, 0, len(list.Items))
	for _, ns := range list.Items {
		out = append(out, ProjectNamespace{
			ProjectID: ns.Labels[ProjectLabel],
			CreatedAt: ns.CreationTimestamp.Time,
		})
	}
	return out, nil
}

func (s *Spawner) ensureNamespace(ctx context.Context, ns *corev1.Namespace) error {
	_, err := s.client.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	return ignoreAlreadyExists(err)
}

func (s *Spawner) copyPullSecret(ctx context.Context, targetNS string) error {
	src, err := s.client.CoreV1().Secrets(s.cfg.Kube.PullSecretNamespace).
		Get(ctx, s.cfg.Kube.PullSecretName, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("read template secret: %w", err)
	}

	sec := pullSecretCopy(src, targetNS)
	if _, err := s.client.CoreV1().Secrets(targetNS).Create(ctx, sec, metav1.CreateOptions{}); ignoreAlreadyExists(err) != nil {
		return err
	}
	return nil
}

func ignoreAlreadyExists(err error) error {
	if apierrors.IsAlreadyExists(err) {
		return nil
	}
	return err
}
