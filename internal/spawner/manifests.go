package spawner

import (
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/intstr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/psp-platform/solver-director/config"
	"github.com/psp-platform/solver-director/internal/queue"
)

// ProjectNamespace is one control namespace as seen by the reconciliation
// sweep.
type ProjectNamespace struct {
	ProjectID string
	CreatedAt time.Time
}

func controlNamespace(projectID, userID string) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: projectID,
			Labels: map[string]string{
				ProjectLabel: projectID,
				OwnerLabel:   userID,
			},
		},
	}
}

func solverNamespace(projectID string) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: SolversNamespace(projectID),
			Labels: map[string]string{
				ProjectLabel: projectID,
			},
		},
	}
}

func pullSecretCopy(src *corev1.Secret, targetNS string) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      src.Name,
			Namespace: targetNS,
		},
		Type: src.Type,
		Data: src.Data,
	}
}

// solverSpawnRole permits exactly what the controller needs in the solver
// namespace: creating workload and autoscaling objects. No get, list or
// delete, so the controller cannot inspect or disturb what runs there.
func solverSpawnRole(solverNS string) *rbacv1.Role {
	return &rbacv1.Role{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "solver-spawner",
			Namespace: solverNS,
		},
		Rules: []rbacv1.PolicyRule{
			{
				APIGroups: []string{"", "apps", "batch"},
				Resources: []string{"pods", "deployments", "jobs"},
				Verbs:     []string{"create"},
			},
			{
				APIGroups: []string{"autoscaling"},
				Resources: []string{"horizontalpodautoscalers"},
				Verbs:     []string{"create"},
			},
		},
	}
}

func solverSpawnRoleBinding(solverNS, controlNS, roleName string) *rbacv1.RoleBinding {
	return &rbacv1.RoleBinding{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "solver-spawner",
			Namespace: solverNS,
		},
		Subjects: []rbacv1.Subject{
			{
				Kind:      rbacv1.ServiceAccountKind,
				Name:      "default",
				Namespace: controlNS,
			},
		},
		RoleRef: rbacv1.RoleRef{
			APIGroup: rbacv1.GroupName,
			Kind:     "Role",
			Name:     roleName,
		},
	}
}

// solverQuota is the tenant's entire solving capacity; anything beyond it is
// rejected by the cluster, not by this service.
func solverQuota(solverNS string, limits config.LimitsConfig) *corev1.ResourceQuota {
	cpu := resource.MustParse(fmt.Sprintf("%d", limits.SolverQuotaCPU))
	mem := resource.MustParse(fmt.Sprintf("%dGi", limits.SolverQuotaMemGiB))
	return &corev1.ResourceQuota{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "solver-quota",
			Namespace: solverNS,
		},
		Spec: corev1.ResourceQuotaSpec{
			Hard: corev1.ResourceList{
				corev1.ResourceRequestsCPU:    cpu,
				corev1.ResourceLimitsCPU:      cpu,
				corev1.ResourceRequestsMemory: mem,
				corev1.ResourceLimitsMemory:   mem,
			},
		},
	}
}

func hardenedSecurityContext() *corev1.SecurityContext {
	runAsNonRoot := true
	readOnlyRoot := true
	noEscalation := false
	return &corev1.SecurityContext{
		RunAsNonRoot:             &runAsNonRoot,
		ReadOnlyRootFilesystem:   &readOnlyRoot,
		AllowPrivilegeEscalation: &noEscalation,
		Capabilities: &corev1.Capabilities{
			Drop: []corev1.Capability{"ALL"},
		},
	}
}

func (s *Spawner) solverControllerDeployment(projectID string) *appsv1.Deployment {
	cc := s.cfg.SolverController
	labels := map[string]string{
		"app":        cc.ServiceName,
		ProjectLabel: projectID,
	}
	replicas := int32(1)
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      cc.ServiceName,
			Namespace: projectID,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					ImagePullSecrets: []corev1.LocalObjectReference{
						{Name: s.cfg.Kube.PullSecretName},
					},
					Containers: []corev1.Container{
						{
							Name:            cc.ServiceName,
							Image:           cc.Image,
							SecurityContext: hardenedSecurityContext(),
							Ports: []corev1.ContainerPort{
								{ContainerPort: int32(cc.ContainerPort)},
							},
							Env: []corev1.EnvVar{
								{Name: "PROJECT_ID", Value: projectID},
								{Name: "SOLVER_NAMESPACE", Value: SolversNamespace(projectID)},
								{Name: "CONTROL_QUEUE", Value: queue.ControlQueueName(projectID)},
								{Name: "CALLBACK_URL", Value: cc.CallbackURL},
							},
						},
					},
				},
			},
		},
	}
}

func (s *Spawner) solverControllerService(projectID string) *corev1.Service {
	cc := s.cfg.SolverController
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      cc.ServiceName,
			Namespace: projectID,
			Labels:    map[string]string{ProjectLabel: projectID},
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{"app": cc.ServiceName},
			Ports: []corev1.ServicePort{
				{
					Port:       int32(cc.ServicePort),
					TargetPort: intstr.FromInt32(int32(cc.ContainerPort)),
				},
			},
		},
	}
}

func (s *Spawner) dataGathererDeployment(projectID string) *appsv1.Deployment {
	dg := s.cfg.DataGatherer
	mq := s.cfg.RabbitMQ
	labels := map[string]string{
		"app":        dg.ServiceName,
		ProjectLabel: projectID,
	}
	replicas := int32(1)
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      dg.ServiceName,
			Namespace: projectID,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					ImagePullSecrets: []corev1.LocalObjectReference{
						{Name: s.cfg.Kube.PullSecretName},
					},
					Containers: []corev1.Container{
						{
							Name:            dg.ServiceName,
							Image:           dg.Image,
							SecurityContext: hardenedSecurityContext(),
							Ports: []corev1.ContainerPort{
								{ContainerPort: int32(dg.ContainerPort)},
							},
							Env: []corev1.EnvVar{
								{Name: "CONTROL_QUEUE", Value: queue.ControlQueueName(projectID)},
								{Name: "DIRECTOR_QUEUE", Value: queue.DirectorQueueName(projectID)},
								{Name: "RESULT_QUEUE", Value: queue.ResultQueueName(projectID)},
								{Name: "DIRECTOR_RESULT_QUEUE", Value: mq.DirectorResultQueue},
								{Name: "RABBITMQ_HOST", Value: mq.Host},
								{Name: "RABBITMQ_PORT", Value: fmt.Sprintf("%d", mq.Port)},
								{Name: "RABBITMQ_USER", Value: mq.User},
								{Name: "RABBITMQ_PASSWORD", Value: mq.Password},
							},
						},
					},
				},
			},
		},
	}
}

func (s *Spawner) dataGathererService(projectID string) *corev1.Service {
	dg := s.cfg.DataGatherer
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      dg.ServiceName,
			Namespace: projectID,
			Labels:    map[string]string{ProjectLabel: projectID},
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{"app": dg.ServiceName},
			Ports: []corev1.ServicePort{
				{
					Port:       int32(dg.ContainerPort),
					TargetPort: intstr.FromInt32(int32(dg.ContainerPort)),
				},
			},
		},
	}
}
