package inventory

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
	kubevirtv1 "kubevirt.io/api/core/v1"

	"kv-inventory.io/kvinv/internal/pkg/logger"
)

// Options are the per-connection settings the projector needs. Defaults are
// resolved before projection: APIVersion and HostFormat are never empty here.
type Options struct {
	APIVersion       string
	NetworkName      string
	HostFormat       string
	LabelSelector    string
	KubeSecondaryDNS bool
	BaseDomain       string
}

// ProjectNamespace folds one namespace's VMI list into the inventory graph.
//
// The three scaffolding groups (connection, namespace, namespace-vmis) are
// created even when no VMI survives the skip rules; that records the
// namespace was visited. VMIs without a usable interface or IP address are
// silently excluded.
func ProjectNamespace(sink Sink, connectionName, namespace string, vmis []kubevirtv1.VirtualMachineInstance, opts Options) error {
	connectionGroup := SanitizeName(connectionName)
	namespaceGroup := SanitizeName(fmt.Sprintf("namespace_%s", namespace))
	namespaceVMIsGroup := SanitizeName(fmt.Sprintf("%s_vmis", namespaceGroup))

	sink.AddGroup(connectionGroup)
	sink.AddGroup(namespaceGroup)
	sink.AddChild(connectionGroup, namespaceGroup)
	sink.AddGroup(namespaceVMIsGroup)
	sink.AddChild(namespaceGroup, namespaceVMIsGroup)

	for i := range vmis {
		vmi := &vmis[i]

		if len(vmi.Status.Interfaces) == 0 {
			logger.Debug("Skipping VMI without interfaces",
				zap.String("namespace", vmi.Namespace),
				zap.String("name", vmi.Name),
			)
			continue
		}

		iface := selectInterface(vmi.Status.Interfaces, opts.NetworkName)
		if iface == nil || iface.IP == "" {
			logger.Debug("Skipping VMI without usable IP address",
				zap.String("namespace", vmi.Namespace),
				zap.String("name", vmi.Name),
				zap.String("network_name", opts.NetworkName),
			)
			continue
		}

		hostName, err := FormatHost(opts.HostFormat, vmi.Namespace, vmi.Name, string(vmi.UID))
		if err != nil {
			return err
		}

		// One group per label key/value pair, deduplicated by sanitized name.
		var hostGroups []string
		seen := make(map[string]struct{})
		for _, key := range sortedLabelKeys(vmi.Labels) {
			groupName := SanitizeName(fmt.Sprintf("label_%s_%s", key, vmi.Labels[key]))
			if _, dup := seen[groupName]; dup {
				continue
			}
			seen[groupName] = struct{}{}
			hostGroups = append(hostGroups, groupName)
			sink.AddGroup(groupName)
		}

		sink.AddHost(hostName)
		sink.AddChild(namespaceVMIsGroup, hostName)
		for _, groupName := range hostGroups {
			sink.AddChild(groupName, hostName)
		}

		sink.SetVariable(hostName, "ansible_connection", "ssh")
		sink.SetVariable(hostName, "ansible_host", ansibleHost(vmi, iface, opts))

		setMetadataVariables(sink, hostName, vmi)
		setStatusVariables(sink, hostName, &vmi.Status)
	}

	return nil
}

// selectInterface picks the primary interface: the first entry when no
// network name is configured, else the first exact name match.
func selectInterface(interfaces []kubevirtv1.VirtualMachineInstanceNetworkInterface, networkName string) *kubevirtv1.VirtualMachineInstanceNetworkInterface {
	if networkName == "" {
		return &interfaces[0]
	}
	for i := range interfaces {
		if interfaces[i].Name == networkName {
			return &interfaces[i]
		}
	}
	return nil
}

// ansibleHost computes the connection address. With secondary DNS enabled and
// a network name configured the VMI is reachable through its per-network DNS
// record instead of the reported IP.
func ansibleHost(vmi *kubevirtv1.VirtualMachineInstance, iface *kubevirtv1.VirtualMachineInstanceNetworkInterface, opts Options) string {
	if opts.KubeSecondaryDNS && opts.NetworkName != "" {
		host := fmt.Sprintf("%s.%s.%s.vm", opts.NetworkName, vmi.Name, vmi.Namespace)
		if opts.BaseDomain != "" {
			host = fmt.Sprintf("%s.%s", host, opts.BaseDomain)
		}
		return host
	}
	return iface.IP
}

func setMetadataVariables(sink Sink, hostName string, vmi *kubevirtv1.VirtualMachineInstance) {
	sink.SetVariable(hostName, "object_type", "vmi")
	sink.SetVariable(hostName, "labels", MapToPlain(vmi.Labels))
	sink.SetVariable(hostName, "annotations", MapToPlain(vmi.Annotations))
	// metadata.clusterName was dropped from the Kubernetes API; the variable
	// is kept for playbook compatibility and is empty on current servers.
	sink.SetVariable(hostName, "cluster_name", "")
	sink.SetVariable(hostName, "resource_version", vmi.ResourceVersion)
	sink.SetVariable(hostName, "uid", string(vmi.UID))
}

func setStatusVariables(sink Sink, hostName string, status *kubevirtv1.VirtualMachineInstanceStatus) {
	sink.SetVariable(hostName, "vmi_active_pods", ToPlain(status.ActivePods))
	sink.SetVariable(hostName, "vmi_conditions", SliceToPlain(status.Conditions))
	sink.SetVariable(hostName, "vmi_guest_os_info", ToPlain(status.GuestOSInfo))
	sink.SetVariable(hostName, "vmi_interfaces", SliceToPlain(status.Interfaces))
	sink.SetVariable(hostName, "vmi_launcher_container_image_version", status.LauncherContainerImageVersion)
	sink.SetVariable(hostName, "vmi_migration_method", string(status.MigrationMethod))
	sink.SetVariable(hostName, "vmi_migration_transport", string(status.MigrationTransport))
	sink.SetVariable(hostName, "vmi_node_name", status.NodeName)
	sink.SetVariable(hostName, "vmi_phase", string(status.Phase))
	sink.SetVariable(hostName, "vmi_phase_transition_timestamps", SliceToPlain(status.PhaseTransitionTimestamps))

	qosClass := ""
	if status.QOSClass != nil {
		qosClass = string(*status.QOSClass)
	}
	sink.SetVariable(hostName, "vmi_qos_class", qosClass)
	sink.SetVariable(hostName, "vmi_virtual_machine_revision_name", status.VirtualMachineRevisionName)
	sink.SetVariable(hostName, "vmi_volume_status", SliceToPlain(status.VolumeStatus))
}

// sortedLabelKeys gives label groups a deterministic creation order
// regardless of map iteration order.
func sortedLabelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
