// Package runner creates and deletes KubeVirt VirtualMachines with
// wait-for-ready and dry-run diff semantics.
package runner

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	k8scorev1 "k8s.io/api/core/v1"
	apiequality "k8s.io/apimachinery/pkg/api/equality"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	k8smetav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	kubevirtv1 "kubevirt.io/api/core/v1"

	"kv-inventory.io/kvinv/internal/manifest"
	apperrors "kv-inventory.io/kvinv/internal/pkg/errors"
	"kv-inventory.io/kvinv/internal/pkg/logger"
	"kv-inventory.io/kvinv/internal/provider"
)

// State selects the desired end state of the VirtualMachine.
type State string

// Recognized states.
const (
	StatePresent State = "present"
	StateAbsent  State = "absent"
)

// fieldManager identifies this tool's dry-run apply requests.
const fieldManager = "kvinv"

// Options controls waiting behavior.
type Options struct {
	Wait        bool
	WaitSleep   time.Duration
	WaitTimeout time.Duration
}

// DefaultOptions matches the module defaults: no wait, 5s poll, 120s timeout.
func DefaultOptions() Options {
	return Options{
		WaitSleep:   5 * time.Second,
		WaitTimeout: 120 * time.Second,
	}
}

// Result is the partial/final outcome of one run. Fatal errors carry the
// result accumulated so far in their params.
type Result struct {
	Changed  bool                   `json:"changed"`
	Method   string                 `json:"method,omitempty"`
	Duration float64                `json:"duration,omitempty"`
	Diff     map[string]interface{} `json:"diff,omitempty"`
	Warnings []string               `json:"warnings,omitempty"`
}

func (r *Result) toParams() map[string]interface{} {
	params := map[string]interface{}{
		"changed": r.Changed,
		"method":  r.Method,
	}
	if r.Diff != nil {
		params["diff"] = r.Diff
	}
	return params
}

// Runner performs create/delete operations against one cluster.
type Runner struct {
	client provider.VirtualMachineClient
}

// New creates a Runner.
func New(client provider.VirtualMachineClient) *Runner {
	return &Runner{client: client}
}

// Run drives the VirtualMachine to the desired state.
func (r *Runner) Run(ctx context.Context, params manifest.Params, state State, opts Options) (*Result, error) {
	result := &Result{}

	vm, err := manifest.Build(params)
	if err != nil {
		return result, err
	}

	existing, err := r.retrieve(ctx, vm)
	if err != nil {
		return result, err
	}

	if state == StateAbsent {
		return r.delete(ctx, vm, existing, opts, result)
	}
	return r.create(ctx, params, vm, existing, opts, result)
}

// retrieve fetches the potentially existing object. A VirtualMachine built
// with generate_name has no lookup key and never matches.
func (r *Runner) retrieve(ctx context.Context, vm *kubevirtv1.VirtualMachine) (*kubevirtv1.VirtualMachine, error) {
	if vm.Name == "" {
		return nil, nil
	}
	existing, err := r.client.Get(ctx, vm.Namespace, vm.Name, k8smetav1.GetOptions{})
	if err != nil {
		if k8serrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, provider.WrapAPIError("VirtualMachine", err)
	}
	return existing, nil
}

func (r *Runner) create(ctx context.Context, params manifest.Params, vm, existing *kubevirtv1.VirtualMachine, opts Options, result *Result) (*Result, error) {
	if existing != nil {
		return r.compareExisting(ctx, params, vm, existing, result)
	}

	created, err := r.client.Create(ctx, vm.Namespace, vm, k8smetav1.CreateOptions{})
	if err != nil {
		return result, apperrors.Wrap(err, apperrors.CodeVMCreateFail, "create VirtualMachine", 502).
			WithParams(result.toParams())
	}
	result.Changed = true
	result.Method = "create"

	logger.Info("VirtualMachine created",
		zap.String("namespace", created.Namespace),
		zap.String("name", created.Name),
	)

	if opts.Wait {
		if err := r.waitReady(ctx, created.Namespace, created.Name, opts, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (r *Runner) delete(ctx context.Context, vm, existing *kubevirtv1.VirtualMachine, opts Options, result *Result) (*Result, error) {
	result.Method = "delete"
	if existing == nil {
		return result, nil
	}

	if err := r.client.Delete(ctx, vm.Namespace, vm.Name, k8smetav1.DeleteOptions{}); err != nil {
		if !k8serrors.IsNotFound(err) {
			return result, apperrors.Wrap(err, apperrors.CodeVMDeleteFail, "delete VirtualMachine", 502).
				WithParams(result.toParams())
		}
	}
	result.Changed = true

	logger.Info("VirtualMachine deleted",
		zap.String("namespace", vm.Namespace),
		zap.String("name", vm.Name),
	)

	if opts.Wait {
		if err := r.waitGone(ctx, vm.Namespace, vm.Name, opts, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// compareExisting dry-run applies the new definition so mutating admitters
// contribute their changes, then compares the specs with metadata and status
// stripped. A spec mismatch is fatal; the API reports the existing object
// cannot be replaced in place.
func (r *Runner) compareExisting(ctx context.Context, params manifest.Params, vm, existing *kubevirtv1.VirtualMachine, result *Result) (*Result, error) {
	obj, err := manifest.ToObject(params)
	if err != nil {
		return result, err
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return result, apperrors.Wrap(err, apperrors.CodeVMSpecInvalid, "marshal manifest", 400)
	}

	force := true
	merged, err := r.client.Patch(ctx, vm.Namespace, vm.Name, types.ApplyPatchType, data, k8smetav1.PatchOptions{
		DryRun:       []string{k8smetav1.DryRunAll},
		FieldManager: fieldManager,
		Force:        &force,
	})
	if err != nil {
		return result, apperrors.Conflict(apperrors.CodeVMAlreadyExists,
			"VirtualMachine "+vm.Namespace+"/"+vm.Name+" already exists").
			WithParams(result.toParams())
	}

	match := apiequality.Semantic.DeepEqual(existing.Spec, merged.Spec)
	oldSpec, _ := json.Marshal(existing.Spec)
	newSpec, _ := json.Marshal(merged.Spec)
	serializedDiff := string(oldSpec) != string(newSpec)

	if serializedDiff {
		result.Diff = map[string]interface{}{
			"before": existing.Spec,
			"after":  merged.Spec,
		}
	}
	if match && serializedDiff {
		result.Warnings = append(result.Warnings,
			"No meaningful diff was generated, but the API may not be idempotent")
	}

	if !match {
		return result, apperrors.Conflict(apperrors.CodeVMAlreadyExists,
			"VirtualMachine "+vm.Namespace+"/"+vm.Name+" already exists with a different spec").
			WithParams(result.toParams())
	}
	return result, nil
}

// waitReady polls until the VirtualMachine Ready condition is true.
func (r *Runner) waitReady(ctx context.Context, namespace, name string, opts Options, result *Result) error {
	start := time.Now()
	err := wait.PollUntilContextTimeout(ctx, opts.WaitSleep, opts.WaitTimeout, true,
		func(ctx context.Context) (bool, error) {
			vm, err := r.client.Get(ctx, namespace, name, k8smetav1.GetOptions{})
			if err != nil {
				if k8serrors.IsNotFound(err) {
					return false, nil
				}
				return false, err
			}
			for _, cond := range vm.Status.Conditions {
				if cond.Type == kubevirtv1.VirtualMachineReady {
					return cond.Status == k8scorev1.ConditionTrue, nil
				}
			}
			return false, nil
		})
	result.Duration = time.Since(start).Seconds()
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeVMWaitTimeout,
			"timed out waiting on VirtualMachine "+namespace+"/"+name, 504).
			WithParams(result.toParams())
	}
	return nil
}

// waitGone polls until the VirtualMachine is no longer found.
func (r *Runner) waitGone(ctx context.Context, namespace, name string, opts Options, result *Result) error {
	start := time.Now()
	err := wait.PollUntilContextTimeout(ctx, opts.WaitSleep, opts.WaitTimeout, true,
		func(ctx context.Context) (bool, error) {
			_, err := r.client.Get(ctx, namespace, name, k8smetav1.GetOptions{})
			if k8serrors.IsNotFound(err) {
				return true, nil
			}
			return false, err
		})
	result.Duration = time.Since(start).Seconds()
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeVMWaitTimeout,
			"timed out waiting on VirtualMachine "+namespace+"/"+name+" deletion", 504).
			WithParams(result.toParams())
	}
	return nil
}
