package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	k8scorev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	k8smetav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	kubevirtv1 "kubevirt.io/api/core/v1"

	"kv-inventory.io/kvinv/internal/manifest"
	apperrors "kv-inventory.io/kvinv/internal/pkg/errors"
	"kv-inventory.io/kvinv/internal/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Init("error", "console")
	m.Run()
}

var vmResource = schema.GroupResource{Group: "kubevirt.io", Resource: "virtualmachines"}

func notFound(name string) error {
	return k8serrors.NewNotFound(vmResource, name)
}

// fakeVMClient implements provider.VirtualMachineClient with overridable
// behavior per call.
type fakeVMClient struct {
	get    func(namespace, name string) (*kubevirtv1.VirtualMachine, error)
	create func(vm *kubevirtv1.VirtualMachine) (*kubevirtv1.VirtualMachine, error)
	delete func(namespace, name string) error
	patch  func(data []byte) (*kubevirtv1.VirtualMachine, error)

	getCalls    int
	createCalls int
	deleteCalls int
	patchCalls  int
}

func (f *fakeVMClient) Get(ctx context.Context, namespace, name string, opts k8smetav1.GetOptions) (*kubevirtv1.VirtualMachine, error) {
	f.getCalls++
	if f.get == nil {
		return nil, notFound(name)
	}
	return f.get(namespace, name)
}

func (f *fakeVMClient) Create(ctx context.Context, namespace string, vm *kubevirtv1.VirtualMachine, opts k8smetav1.CreateOptions) (*kubevirtv1.VirtualMachine, error) {
	f.createCalls++
	if f.create == nil {
		return vm, nil
	}
	return f.create(vm)
}

func (f *fakeVMClient) Delete(ctx context.Context, namespace, name string, opts k8smetav1.DeleteOptions) error {
	f.deleteCalls++
	if f.delete == nil {
		return nil
	}
	return f.delete(namespace, name)
}

func (f *fakeVMClient) Patch(ctx context.Context, namespace, name string, pt types.PatchType, data []byte, opts k8smetav1.PatchOptions) (*kubevirtv1.VirtualMachine, error) {
	f.patchCalls++
	if f.patch == nil {
		return nil, notFound(name)
	}
	return f.patch(data)
}

func testParams() manifest.Params {
	return manifest.Params{Name: "testvm", Namespace: "default"}
}

func fastWait() Options {
	return Options{Wait: true, WaitSleep: 5 * time.Millisecond, WaitTimeout: 100 * time.Millisecond}
}

func builtVM(t *testing.T, p manifest.Params) *kubevirtv1.VirtualMachine {
	t.Helper()
	vm, err := manifest.Build(p)
	require.NoError(t, err)
	return vm
}

func TestRun_CreateWhenAbsent(t *testing.T) {
	client := &fakeVMClient{}
	result, err := New(client).Run(context.Background(), testParams(), StatePresent, DefaultOptions())
	require.NoError(t, err)

	require.True(t, result.Changed)
	require.Equal(t, "create", result.Method)
	require.Equal(t, 1, client.createCalls)
}

func TestRun_GenerateNameSkipsLookup(t *testing.T) {
	client := &fakeVMClient{}
	params := manifest.Params{GenerateName: "testvm-", Namespace: "default"}

	result, err := New(client).Run(context.Background(), params, StatePresent, DefaultOptions())
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.Equal(t, 0, client.getCalls)
	require.Equal(t, 1, client.createCalls)
}

func TestRun_CreateFailure(t *testing.T) {
	client := &fakeVMClient{
		create: func(vm *kubevirtv1.VirtualMachine) (*kubevirtv1.VirtualMachine, error) {
			return nil, k8serrors.NewForbidden(vmResource, vm.Name, nil)
		},
	}

	result, err := New(client).Run(context.Background(), testParams(), StatePresent, DefaultOptions())
	require.Error(t, err)
	require.False(t, result.Changed)

	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeVMCreateFail, appErr.Code)
	require.Equal(t, false, appErr.Params["changed"])
}

func TestRun_DeleteWhenPresent(t *testing.T) {
	existing := builtVM(t, testParams())
	client := &fakeVMClient{
		get: func(namespace, name string) (*kubevirtv1.VirtualMachine, error) {
			return existing, nil
		},
	}

	result, err := New(client).Run(context.Background(), testParams(), StateAbsent, DefaultOptions())
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.Equal(t, "delete", result.Method)
	require.Equal(t, 1, client.deleteCalls)
}

func TestRun_DeleteWhenAbsentIsNoop(t *testing.T) {
	client := &fakeVMClient{}
	result, err := New(client).Run(context.Background(), testParams(), StateAbsent, DefaultOptions())
	require.NoError(t, err)
	require.False(t, result.Changed)
	require.Equal(t, "delete", result.Method)
	require.Equal(t, 0, client.deleteCalls)
}

func TestRun_ExistingWithIdenticalSpecIsNoop(t *testing.T) {
	existing := builtVM(t, testParams())
	client := &fakeVMClient{
		get: func(namespace, name string) (*kubevirtv1.VirtualMachine, error) {
			return existing.DeepCopy(), nil
		},
		patch: func(data []byte) (*kubevirtv1.VirtualMachine, error) {
			// Dry-run apply returns the same spec: nothing would change.
			return existing.DeepCopy(), nil
		},
	}

	result, err := New(client).Run(context.Background(), testParams(), StatePresent, DefaultOptions())
	require.NoError(t, err)
	require.False(t, result.Changed)
	require.Nil(t, result.Diff)
	require.Empty(t, result.Warnings)
	require.Equal(t, 0, client.createCalls)
}

func TestRun_ExistingWithDifferentSpecFails(t *testing.T) {
	existing := builtVM(t, testParams())
	merged := existing.DeepCopy()
	notRunning := false
	merged.Spec.Running = &notRunning

	client := &fakeVMClient{
		get: func(namespace, name string) (*kubevirtv1.VirtualMachine, error) {
			return existing.DeepCopy(), nil
		},
		patch: func(data []byte) (*kubevirtv1.VirtualMachine, error) {
			return merged, nil
		},
	}

	result, err := New(client).Run(context.Background(), testParams(), StatePresent, DefaultOptions())
	require.Error(t, err)

	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeVMAlreadyExists, appErr.Code)

	require.NotNil(t, result.Diff)
	require.Equal(t, existing.Spec, result.Diff["before"])
	require.Equal(t, merged.Spec, result.Diff["after"])
}

func TestRun_ExistingPatchRejectedFails(t *testing.T) {
	existing := builtVM(t, testParams())
	client := &fakeVMClient{
		get: func(namespace, name string) (*kubevirtv1.VirtualMachine, error) {
			return existing.DeepCopy(), nil
		},
		patch: func(data []byte) (*kubevirtv1.VirtualMachine, error) {
			return nil, k8serrors.NewConflict(vmResource, "testvm", nil)
		},
	}

	_, err := New(client).Run(context.Background(), testParams(), StatePresent, DefaultOptions())
	require.Error(t, err)

	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeVMAlreadyExists, appErr.Code)
}

func TestRun_WaitForReady(t *testing.T) {
	ready := builtVM(t, testParams())
	ready.Status.Conditions = []kubevirtv1.VirtualMachineCondition{
		{Type: kubevirtv1.VirtualMachineReady, Status: k8scorev1.ConditionTrue},
	}

	created := false
	client := &fakeVMClient{}
	client.get = func(namespace, name string) (*kubevirtv1.VirtualMachine, error) {
		if !created {
			return nil, notFound(name)
		}
		return ready, nil
	}
	client.create = func(vm *kubevirtv1.VirtualMachine) (*kubevirtv1.VirtualMachine, error) {
		created = true
		return vm, nil
	}

	result, err := New(client).Run(context.Background(), testParams(), StatePresent, fastWait())
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.Greater(t, result.Duration, 0.0)
}

func TestRun_WaitForReadyTimesOut(t *testing.T) {
	notReady := builtVM(t, testParams())

	created := false
	client := &fakeVMClient{}
	client.get = func(namespace, name string) (*kubevirtv1.VirtualMachine, error) {
		if !created {
			return nil, notFound(name)
		}
		return notReady, nil
	}
	client.create = func(vm *kubevirtv1.VirtualMachine) (*kubevirtv1.VirtualMachine, error) {
		created = true
		return vm, nil
	}

	result, err := New(client).Run(context.Background(), testParams(), StatePresent, fastWait())
	require.Error(t, err)

	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeVMWaitTimeout, appErr.Code)
	// The VM was created before the wait gave up.
	require.Equal(t, true, appErr.Params["changed"])
	require.True(t, result.Changed)
}

func TestRun_WaitForDeletion(t *testing.T) {
	existing := builtVM(t, testParams())
	deleted := false
	client := &fakeVMClient{}
	client.get = func(namespace, name string) (*kubevirtv1.VirtualMachine, error) {
		if deleted {
			return nil, notFound(name)
		}
		return existing, nil
	}
	client.delete = func(namespace, name string) error {
		deleted = true
		return nil
	}

	result, err := New(client).Run(context.Background(), testParams(), StateAbsent, fastWait())
	require.NoError(t, err)
	require.True(t, result.Changed)
}

func TestRun_WaitForDeletionTimesOut(t *testing.T) {
	existing := builtVM(t, testParams())
	client := &fakeVMClient{
		get: func(namespace, name string) (*kubevirtv1.VirtualMachine, error) {
			// Finalizers keep the object around past the timeout.
			return existing, nil
		},
	}

	_, err := New(client).Run(context.Background(), testParams(), StateAbsent, fastWait())
	require.Error(t, err)

	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeVMWaitTimeout, appErr.Code)
}

func TestRun_InvalidParams(t *testing.T) {
	client := &fakeVMClient{}
	_, err := New(client).Run(context.Background(), manifest.Params{Namespace: "default"}, StatePresent, DefaultOptions())
	require.Error(t, err)

	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeVMSpecInvalid, appErr.Code)
	require.Equal(t, 0, client.getCalls)
}
