package flow

import "testing"

func TestParseDefinition(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name: "valid single-node flow",
			yaml: `
inputs:
  topic:
    type: string
nodes:
  - name: classify
    type: llm
    source: classifier
    inputs:
      topic: ${inputs.topic}
outputs:
  category:
    type: string
    reference: ${classify.output.category}
`,
			wantErr: false,
		},
		{
			name:    "no nodes",
			yaml:    "nodes: []\n",
			wantErr: true,
		},
		{
			name: "missing node name",
			yaml: `
nodes:
  - type: llm
    source: classifier
`,
			wantErr: true,
		},
		{
			name: "duplicate node names",
			yaml: `
nodes:
  - name: a
    source: t1
  - name: a
    source: t2
`,
			wantErr: true,
		},
		{
			name: "node missing source",
			yaml: `
nodes:
  - name: a
`,
			wantErr: true,
		},
		{
			name: "use_variants without variants declared",
			yaml: `
nodes:
  - name: a
    use_variants: true
`,
			wantErr: true,
		},
		{
			name: "output missing reference",
			yaml: `
nodes:
  - name: a
    source: t1
outputs:
  result:
    type: string
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.yaml))
			if tt.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseDefinition_VariantDefaultSelection(t *testing.T) {
	data := []byte(`
nodes:
  - name: classify
    use_variants: true
    default_variant_id: v2
node_variants:
  classify:
    v1:
      type: llm
      source: classifier_v1
    v2:
      type: llm
      source: classifier_v2
`)

	def, err := ParseDefinition(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	node := def.Node("classify")
	if node == nil {
		t.Fatalf("expected node classify to exist")
	}
	if node.Source != "classifier_v2" {
		t.Fatalf("expected default variant v2 to resolve source, got %q", node.Source)
	}
}

func TestDefinition_NodeNames(t *testing.T) {
	def := &Definition{
		Nodes: []NodeDefinition{{Name: "a", Source: "t"}, {Name: "b", Source: "t"}},
	}
	got := def.NodeNames()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected node names: %v", got)
	}
}
