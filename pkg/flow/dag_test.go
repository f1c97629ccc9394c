package flow

import "testing"

func buildTestGraph(t *testing.T, yamlText string) *Graph {
	t.Helper()
	def, err := ParseDefinition([]byte(yamlText))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}
	g, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	return g
}

func TestBuildGraph_ExtractsReferenceDependencies(t *testing.T) {
	g := buildTestGraph(t, `
nodes:
  - name: classify
    source: classifier
    inputs:
      topic: ${inputs.topic}
  - name: route
    source: router
    inputs:
      category: ${classify.output.category}
`)

	deps := g.Dependencies("route")
	if len(deps) != 1 || deps[0] != "classify" {
		t.Fatalf("expected route to depend on classify, got %v", deps)
	}
	if len(g.Dependencies("classify")) != 0 {
		t.Fatalf("classify should have no dependencies")
	}
	dependents := g.Dependents("classify")
	if len(dependents) != 1 || dependents[0] != "route" {
		t.Fatalf("expected classify to have route as dependent, got %v", dependents)
	}
}

func TestBuildGraph_ActivateConditionContributesDependency(t *testing.T) {
	g := buildTestGraph(t, `
nodes:
  - name: classify
    source: classifier
  - name: escalate
    source: escalator
    activate:
      when: classify.output.category == "urgent"
`)

	deps := g.Dependencies("escalate")
	if len(deps) != 1 || deps[0] != "classify" {
		t.Fatalf("expected escalate to depend on classify via activate condition, got %v", deps)
	}
}

func TestBuildGraph_DetectsCycle(t *testing.T) {
	def := &Definition{
		Nodes: []NodeDefinition{
			{Name: "a", Source: "t", Inputs: map[string]interface{}{"x": "${b.output}"}},
			{Name: "b", Source: "t", Inputs: map[string]interface{}{"x": "${a.output}"}},
		},
	}
	_, err := BuildGraph(def)
	if err == nil {
		t.Fatalf("expected cycle detection error")
	}
}
