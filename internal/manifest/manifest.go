// Package manifest builds KubeVirt VirtualMachine objects from a declarative
// parameter set.
package manifest

import (
	k8smetav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	kubevirtv1 "kubevirt.io/api/core/v1"
	"sigs.k8s.io/yaml"

	"kv-inventory.io/kvinv/internal/config"
	apperrors "kv-inventory.io/kvinv/internal/pkg/errors"
)

// DefaultTerminationGracePeriodSeconds is applied when the params do not set
// a grace period; the manifest always carries the field.
const DefaultTerminationGracePeriodSeconds int64 = 180

// InferFromVolume names the volumes to infer an instancetype or preference
// from.
type InferFromVolume struct {
	Instancetype string `json:"instancetype,omitempty"`
	Preference   string `json:"preference,omitempty"`
}

// ClearRevisionName requests clearing the stored instancetype or preference
// revision so the controller re-infers it.
type ClearRevisionName struct {
	Instancetype bool `json:"instancetype,omitempty"`
	Preference   bool `json:"preference,omitempty"`
}

// Params is the declarative input of the VirtualMachine builder. Interfaces,
// networks and volumes are passed through verbatim as typed KubeVirt values.
type Params struct {
	APIVersion   string            `json:"api_version,omitempty"`
	Name         string            `json:"name,omitempty"`
	GenerateName string            `json:"generate_name,omitempty"`
	Namespace    string            `json:"namespace"`
	Annotations  map[string]string `json:"annotations,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`

	Running                       *bool  `json:"running,omitempty"`
	TerminationGracePeriodSeconds *int64 `json:"termination_grace_period_seconds,omitempty"`

	Instancetype      string            `json:"instancetype,omitempty"`
	Preference        string            `json:"preference,omitempty"`
	InferFromVolume   InferFromVolume   `json:"infer_from_volume,omitempty"`
	ClearRevisionName ClearRevisionName `json:"clear_revision_name,omitempty"`

	Interfaces []kubevirtv1.Interface `json:"interfaces,omitempty"`
	Networks   []kubevirtv1.Network   `json:"networks,omitempty"`
	Volumes    []kubevirtv1.Volume    `json:"volumes,omitempty"`
}

// Build validates the params and produces the VirtualMachine object.
// Exactly one of name and generate_name is required.
func Build(p Params) (*kubevirtv1.VirtualMachine, error) {
	if p.Name == "" && p.GenerateName == "" {
		return nil, apperrors.BadRequest(apperrors.CodeVMSpecInvalid, "one of name or generate_name is required")
	}
	if p.Name != "" && p.GenerateName != "" {
		return nil, apperrors.BadRequest(apperrors.CodeVMSpecInvalid, "name and generate_name are mutually exclusive")
	}
	if p.Namespace == "" {
		return nil, apperrors.BadRequest(apperrors.CodeVMSpecInvalid, "namespace is required")
	}

	apiVersion := p.APIVersion
	if apiVersion == "" {
		apiVersion = config.DefaultAPIVersion
	}

	running := true
	if p.Running != nil {
		running = *p.Running
	}

	gracePeriod := DefaultTerminationGracePeriodSeconds
	if p.TerminationGracePeriodSeconds != nil {
		gracePeriod = *p.TerminationGracePeriodSeconds
	}

	vm := &kubevirtv1.VirtualMachine{
		TypeMeta: k8smetav1.TypeMeta{
			APIVersion: apiVersion,
			Kind:       "VirtualMachine",
		},
		ObjectMeta: k8smetav1.ObjectMeta{
			Name:         p.Name,
			GenerateName: p.GenerateName,
			Namespace:    p.Namespace,
			Annotations:  p.Annotations,
			Labels:       p.Labels,
		},
		Spec: kubevirtv1.VirtualMachineSpec{
			Running:      &running,
			Instancetype: instancetypeMatcher(p),
			Preference:   preferenceMatcher(p),
			Template: &kubevirtv1.VirtualMachineInstanceTemplateSpec{
				ObjectMeta: k8smetav1.ObjectMeta{
					Annotations: p.Annotations,
					Labels:      p.Labels,
				},
				Spec: kubevirtv1.VirtualMachineInstanceSpec{
					Domain: kubevirtv1.DomainSpec{
						Devices: kubevirtv1.Devices{
							Interfaces: p.Interfaces,
						},
					},
					Networks:                      p.Networks,
					Volumes:                       p.Volumes,
					TerminationGracePeriodSeconds: &gracePeriod,
				},
			},
		},
	}
	return vm, nil
}

func instancetypeMatcher(p Params) *kubevirtv1.InstancetypeMatcher {
	if p.Instancetype == "" && p.InferFromVolume.Instancetype == "" && !p.ClearRevisionName.Instancetype {
		return nil
	}
	return &kubevirtv1.InstancetypeMatcher{
		Name:            p.Instancetype,
		InferFromVolume: p.InferFromVolume.Instancetype,
	}
}

func preferenceMatcher(p Params) *kubevirtv1.PreferenceMatcher {
	if p.Preference == "" && p.InferFromVolume.Preference == "" && !p.ClearRevisionName.Preference {
		return nil
	}
	return &kubevirtv1.PreferenceMatcher{
		Name:            p.Preference,
		InferFromVolume: p.InferFromVolume.Preference,
	}
}

// ToObject converts the built VirtualMachine to its unstructured form.
// revisionName is forced to an explicit empty string when the corresponding
// clear_revision_name flag is set; omitting the field would leave the stored
// revision untouched on apply.
func ToObject(p Params) (map[string]interface{}, error) {
	vm, err := Build(p)
	if err != nil {
		return nil, err
	}

	obj, err := runtime.DefaultUnstructuredConverter.ToUnstructured(vm)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeVMSpecInvalid, "convert manifest", 400)
	}

	spec, _ := obj["spec"].(map[string]interface{})
	if p.ClearRevisionName.Instancetype {
		setRevisionName(spec, "instancetype")
	}
	if p.ClearRevisionName.Preference {
		setRevisionName(spec, "preference")
	}
	return obj, nil
}

func setRevisionName(spec map[string]interface{}, matcher string) {
	if spec == nil {
		return
	}
	m, ok := spec[matcher].(map[string]interface{})
	if !ok {
		m = make(map[string]interface{})
		spec[matcher] = m
	}
	m["revisionName"] = ""
}

// RenderYAML renders the manifest the builder would submit.
func RenderYAML(p Params) ([]byte, error) {
	obj, err := ToObject(p)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(obj)
}
