package observability

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertSpec struct {
	Groups []alertGroup `yaml:"groups"`
}

func TestRolesAlertRules(t *testing.T) {
	path := filepath.Join("..", "..", "deploy", "prometheus", "alerts", "roles.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read alert file: %v", err)
	}

	var spec alertSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		t.Fatalf("failed to unmarshal alert file: %v", err)
	}

	if len(spec.Groups) == 0 {
		t.Fatal("expected at least one alert group")
	}

	var rolesGroup *alertGroup
	for i := range spec.Groups {
		if spec.Groups[i].Name == "roles" {
			rolesGroup = &spec.Groups[i]
			break
		}
	}
	if rolesGroup == nil {
		t.Fatal("roles alert group missing")
	}

	expected := map[string]struct {
		severity string
		runbook  string
	}{
		"HighErrorRate":  {severity: "critical", runbook: "docs/runbook-ops-roles.md#high-error-rate"},
		"HighLatency":    {severity: "warning", runbook: "docs/runbook-ops-roles.md#high-latency"},
		"SlowQueryBurst": {severity: "warning", runbook: "docs/runbook-ops-roles.md#slow-queries"},
	}

	seen := make(map[string]bool)
	for _, rule := range rolesGroup.Rules {
		want, ok := expected[rule.Alert]
		if !ok {
			continue
		}
		seen[rule.Alert] = true
		if rule.Expr == "" {
			t.Errorf("%s: expression must not be empty", rule.Alert)
		}
		if rule.Labels["severity"] != want.severity {
			t.Errorf("%s: severity = %q, want %q", rule.Alert, rule.Labels["severity"], want.severity)
		}
		if rule.Annotations["runbook"] != want.runbook {
			t.Errorf("%s: runbook = %q, want %q", rule.Alert, rule.Annotations["runbook"], want.runbook)
		}
	}
	for name := range expected {
		if !seen[name] {
			t.Errorf("missing alert rule %s", name)
		}
	}
}
