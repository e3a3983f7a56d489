package inventory

import "testing"

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"default", "default"},
		{"my-cluster", "my_cluster"},
		{"label_app.kubernetes.io/name_web", "label_app_kubernetes_io_name_web"},
		{"k8s-example-com_6443", "k8s_example_com_6443"},
		{"Über-vm", "_ber_vm"},
		{"", ""},
		{"___", "___"},
	}
	for _, tc := range cases {
		if got := SanitizeName(tc.in); got != tc.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
